package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/fr0stylo/docmirror/internal/app/domain"
	"github.com/fr0stylo/docmirror/internal/app/ports"
	"github.com/fr0stylo/docmirror/internal/db"
	"github.com/fr0stylo/docmirror/internal/db/queries"
)

// MetadataStore persists items and collaborations in the configured tables.
type MetadataStore struct {
	db *db.Database
}

func NewMetadataStore(database *db.Database) *MetadataStore {
	return &MetadataStore{db: database}
}

func (s *MetadataStore) GetItem(ctx context.Context, itemID string) (domain.Item, error) {
	row, err := s.db.GetItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Item{}, ports.ErrItemNotFound
		}
		return domain.Item{}, err
	}
	return toDomainItem(row), nil
}

// GetItemByMirrorKey finds the row backing a mirror location, tombstoned or not.
func (s *MetadataStore) GetItemByMirrorKey(ctx context.Context, sourceType domain.SourceType, mirrorKey string) (domain.Item, error) {
	row, err := s.db.GetItemByMirrorKey(ctx, queries.GetItemByMirrorKeyParams{
		SourceType: string(sourceType),
		MirrorKey:  mirrorKey,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Item{}, ports.ErrItemNotFound
		}
		return domain.Item{}, err
	}
	return toDomainItem(row), nil
}

func (s *MetadataStore) SaveItem(ctx context.Context, item domain.Item, collaborations []domain.Collaboration) error {
	_, err := s.saveItem(ctx, item, collaborations, math.MaxInt64)
	return err
}

func (s *MetadataStore) SaveItemUnlessRemoved(ctx context.Context, item domain.Item, collaborations []domain.Collaboration, since time.Time) (bool, error) {
	cutoff := int64(math.MaxInt64)
	if !since.IsZero() {
		cutoff = since.UnixMilli()
	}
	return s.saveItem(ctx, item, collaborations, cutoff)
}

func (s *MetadataStore) saveItem(ctx context.Context, item domain.Item, collaborations []domain.Collaboration, cutoff int64) (bool, error) {
	saved := false
	err := s.db.WithTx(ctx, func(tx *queries.Queries) error {
		written, err := tx.UpsertItemUnlessTombstonedSince(ctx, queries.UpsertItemUnlessTombstonedSinceParams{
			Item:   fromDomainItem(item),
			Cutoff: cutoff,
		})
		if err != nil {
			return fmt.Errorf("upsert item %s: %w", item.ID, err)
		}
		if written == 0 {
			return nil
		}
		if err := tx.DeleteCollaborationsByItem(ctx, item.ID); err != nil {
			return fmt.Errorf("clear collaborations for %s: %w", item.ID, err)
		}
		for _, collaboration := range collaborations {
			if err := tx.InsertCollaboration(ctx, queries.InsertCollaborationParams{
				ItemID:          item.ID,
				CollaborationID: collaboration.CollaborationID,
				AccessibleType:  collaboration.AccessibleType,
				AccessibleName:  collaboration.AccessibleName,
				Role:            collaboration.Role,
				Status:          collaboration.Status,
			}); err != nil {
				return fmt.Errorf("insert collaboration %s: %w", collaboration.CollaborationID, err)
			}
		}
		saved = true
		return nil
	})
	return saved, err
}

func (s *MetadataStore) TombstoneItems(ctx context.Context, itemIDs []string, at time.Time) error {
	if len(itemIDs) == 0 {
		return nil
	}
	stamp := at.UnixMilli()
	return s.db.WithTx(ctx, func(tx *queries.Queries) error {
		for _, id := range itemIDs {
			if err := tx.TombstoneItem(ctx, queries.TombstoneItemParams{TombstonedAt: stamp, SyncedAt: stamp, ItemID: id}); err != nil {
				return fmt.Errorf("tombstone item %s: %w", id, err)
			}
			if err := tx.DeleteCollaborationsByItem(ctx, id); err != nil {
				return fmt.Errorf("clear collaborations for %s: %w", id, err)
			}
		}
		return nil
	})
}

func (s *MetadataStore) ListLiveDescendants(ctx context.Context, folder domain.Item) ([]domain.Item, error) {
	if folder.MirrorKey == "" {
		return nil, nil
	}
	rows, err := s.db.ListLiveItemsByMirrorKeyPrefix(ctx, queries.ListLiveItemsByMirrorKeyPrefixParams{
		Prefix:        folder.MirrorKey,
		ExcludeItemID: folder.ID,
	})
	if err != nil {
		return nil, err
	}
	return toDomainItems(rows), nil
}

func (s *MetadataStore) ListCollaborations(ctx context.Context, itemID string) ([]domain.Collaboration, error) {
	rows, err := s.db.ListCollaborationsByItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Collaboration, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.Collaboration(row))
	}
	return out, nil
}

func (s *MetadataStore) ListLiveItems(ctx context.Context) ([]domain.Item, error) {
	rows, err := s.db.ListLiveItems(ctx)
	if err != nil {
		return nil, err
	}
	return toDomainItems(rows), nil
}

func toDomainItems(rows []queries.Item) []domain.Item {
	out := make([]domain.Item, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainItem(row))
	}
	return out
}

func toDomainItem(row queries.Item) domain.Item {
	return domain.Item{
		ID:           row.ItemID,
		SourceType:   domain.SourceType(row.SourceType),
		MirrorKey:    row.MirrorKey,
		Name:         row.Name,
		ParentID:     row.ParentID.String,
		OwnerName:    row.OwnerName,
		OwnerType:    row.OwnerType,
		ContentHash:  row.ContentHash.String,
		CreatedAt:    fromMillis(row.SourceCreatedAt),
		ModifiedAt:   fromMillis(row.SourceModifiedAt),
		TombstonedAt: fromMillis(row.TombstonedAt),
		SyncedAt:     time.UnixMilli(row.SyncedAt).UTC(),
	}
}

func fromDomainItem(item domain.Item) queries.Item {
	return queries.Item{
		ItemID:           item.ID,
		SourceType:       string(item.SourceType),
		MirrorKey:        item.MirrorKey,
		Name:             item.Name,
		ParentID:         nullString(item.ParentID),
		OwnerName:        item.OwnerName,
		OwnerType:        item.OwnerType,
		ContentHash:      nullString(item.ContentHash),
		SourceCreatedAt:  toMillis(item.CreatedAt),
		SourceModifiedAt: toMillis(item.ModifiedAt),
		TombstonedAt:     toMillis(item.TombstonedAt),
		SyncedAt:         item.SyncedAt.UnixMilli(),
	}
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func toMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64).UTC()
}

var _ ports.MetadataStore = (*MetadataStore)(nil)
