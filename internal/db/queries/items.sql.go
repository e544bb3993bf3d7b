package queries

import (
	"context"
	"database/sql"
)

const itemColumns = `item_id, source_type, mirror_key, name, parent_id, owner_name, owner_type, content_hash, source_created_at, source_modified_at, tombstoned_at, synced_at`

const getItem = `-- name: GetItem :one
SELECT ` + itemColumns + `
FROM {{items}}
WHERE item_id = ?
`

func (q *Queries) GetItem(ctx context.Context, itemID string) (Item, error) {
	row := q.db.QueryRowContext(ctx, q.r.render(getItem), itemID)
	return scanItem(row)
}

const getItemByMirrorKey = `-- name: GetItemByMirrorKey :one
SELECT ` + itemColumns + `
FROM {{items}}
WHERE source_type = ? AND mirror_key = ?
`

type GetItemByMirrorKeyParams struct {
	SourceType string
	MirrorKey  string
}

func (q *Queries) GetItemByMirrorKey(ctx context.Context, arg GetItemByMirrorKeyParams) (Item, error) {
	row := q.db.QueryRowContext(ctx, q.r.render(getItemByMirrorKey), arg.SourceType, arg.MirrorKey)
	return scanItem(row)
}

const listLiveItems = `-- name: ListLiveItems :many
SELECT ` + itemColumns + `
FROM {{items}}
WHERE tombstoned_at IS NULL
ORDER BY mirror_key
`

func (q *Queries) ListLiveItems(ctx context.Context) ([]Item, error) {
	rows, err := q.db.QueryContext(ctx, q.r.render(listLiveItems))
	if err != nil {
		return nil, err
	}
	return collectItems(rows)
}

const listLiveItemsByMirrorKeyPrefix = `-- name: ListLiveItemsByMirrorKeyPrefix :many
SELECT ` + itemColumns + `
FROM {{items}}
WHERE substr(mirror_key, 1, length(CAST(? AS TEXT))) = CAST(? AS TEXT)
  AND item_id <> ?
  AND tombstoned_at IS NULL
ORDER BY mirror_key
`

type ListLiveItemsByMirrorKeyPrefixParams struct {
	Prefix        string
	ExcludeItemID string
}

func (q *Queries) ListLiveItemsByMirrorKeyPrefix(ctx context.Context, arg ListLiveItemsByMirrorKeyPrefixParams) ([]Item, error) {
	rows, err := q.db.QueryContext(ctx, q.r.render(listLiveItemsByMirrorKeyPrefix), arg.Prefix, arg.Prefix, arg.ExcludeItemID)
	if err != nil {
		return nil, err
	}
	return collectItems(rows)
}

const tombstoneItem = `-- name: TombstoneItem :exec
UPDATE {{items}}
SET tombstoned_at = ?, synced_at = ?
WHERE item_id = ?
`

type TombstoneItemParams struct {
	TombstonedAt int64
	SyncedAt     int64
	ItemID       string
}

func (q *Queries) TombstoneItem(ctx context.Context, arg TombstoneItemParams) error {
	_, err := q.db.ExecContext(ctx, q.r.render(tombstoneItem), arg.TombstonedAt, arg.SyncedAt, arg.ItemID)
	return err
}

// The DO UPDATE guard leaves rows tombstoned at or after the cutoff untouched.
const upsertItemUnlessTombstonedSince = `-- name: UpsertItemUnlessTombstonedSince :execrows
INSERT INTO {{items}} AS existing (` + itemColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (item_id) DO UPDATE SET
    source_type = excluded.source_type,
    mirror_key = excluded.mirror_key,
    name = excluded.name,
    parent_id = excluded.parent_id,
    owner_name = excluded.owner_name,
    owner_type = excluded.owner_type,
    content_hash = excluded.content_hash,
    source_created_at = excluded.source_created_at,
    source_modified_at = excluded.source_modified_at,
    tombstoned_at = excluded.tombstoned_at,
    synced_at = excluded.synced_at
WHERE existing.tombstoned_at IS NULL OR existing.tombstoned_at < ?
`

type UpsertItemUnlessTombstonedSinceParams struct {
	Item
	Cutoff int64
}

func (q *Queries) UpsertItemUnlessTombstonedSince(ctx context.Context, arg UpsertItemUnlessTombstonedSinceParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, q.r.render(upsertItemUnlessTombstonedSince),
		arg.ItemID,
		arg.SourceType,
		arg.MirrorKey,
		arg.Name,
		arg.ParentID,
		arg.OwnerName,
		arg.OwnerType,
		arg.ContentHash,
		arg.SourceCreatedAt,
		arg.SourceModifiedAt,
		arg.TombstonedAt,
		arg.SyncedAt,
		arg.Cutoff,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (Item, error) {
	var i Item
	err := row.Scan(
		&i.ItemID,
		&i.SourceType,
		&i.MirrorKey,
		&i.Name,
		&i.ParentID,
		&i.OwnerName,
		&i.OwnerType,
		&i.ContentHash,
		&i.SourceCreatedAt,
		&i.SourceModifiedAt,
		&i.TombstonedAt,
		&i.SyncedAt,
	)
	return i, err
}

func collectItems(rows *sql.Rows) ([]Item, error) {
	defer rows.Close()
	var items []Item
	for rows.Next() {
		i, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
