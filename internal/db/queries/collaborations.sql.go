package queries

import (
	"context"
)

const deleteCollaborationsByItem = `-- name: DeleteCollaborationsByItem :exec
DELETE FROM {{collaborations}}
WHERE item_id = ?
`

func (q *Queries) DeleteCollaborationsByItem(ctx context.Context, itemID string) error {
	_, err := q.db.ExecContext(ctx, q.r.render(deleteCollaborationsByItem), itemID)
	return err
}

const insertCollaboration = `-- name: InsertCollaboration :exec
INSERT INTO {{collaborations}} (item_id, collaboration_id, accessible_type, accessible_name, role, status)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (item_id, collaboration_id) DO UPDATE SET
    accessible_type = excluded.accessible_type,
    accessible_name = excluded.accessible_name,
    role = excluded.role,
    status = excluded.status
`

type InsertCollaborationParams = Collaboration

func (q *Queries) InsertCollaboration(ctx context.Context, arg InsertCollaborationParams) error {
	_, err := q.db.ExecContext(ctx, q.r.render(insertCollaboration),
		arg.ItemID,
		arg.CollaborationID,
		arg.AccessibleType,
		arg.AccessibleName,
		arg.Role,
		arg.Status,
	)
	return err
}

const listCollaborationsByItem = `-- name: ListCollaborationsByItem :many
SELECT item_id, collaboration_id, accessible_type, accessible_name, role, status
FROM {{collaborations}}
WHERE item_id = ?
ORDER BY collaboration_id
`

func (q *Queries) ListCollaborationsByItem(ctx context.Context, itemID string) ([]Collaboration, error) {
	rows, err := q.db.QueryContext(ctx, q.r.render(listCollaborationsByItem), itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Collaboration
	for rows.Next() {
		var i Collaboration
		if err := rows.Scan(
			&i.ItemID,
			&i.CollaborationID,
			&i.AccessibleType,
			&i.AccessibleName,
			&i.Role,
			&i.Status,
		); err != nil {
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
