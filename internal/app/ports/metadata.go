package ports

import (
	"context"
	"errors"
	"time"

	"github.com/fr0stylo/docmirror/internal/app/domain"
)

// ErrItemNotFound indicates no metadata row for an item id.
var ErrItemNotFound = errors.New("item not found")

// MetadataStore persists item and collaboration state.
type MetadataStore interface {
	GetItem(ctx context.Context, itemID string) (domain.Item, error)
	// GetItemByMirrorKey returns the row backing a mirror location, tombstoned or not.
	GetItemByMirrorKey(ctx context.Context, sourceType domain.SourceType, mirrorKey string) (domain.Item, error)
	// SaveItem upserts the item and replaces its collaborations atomically.
	SaveItem(ctx context.Context, item domain.Item, collaborations []domain.Collaboration) error
	// SaveItemUnlessRemoved is SaveItem, except it writes nothing and reports
	// false when the stored row was tombstoned at or after since.
	SaveItemUnlessRemoved(ctx context.Context, item domain.Item, collaborations []domain.Collaboration, since time.Time) (bool, error)
	// TombstoneItems marks items removed and drops their collaborations.
	TombstoneItems(ctx context.Context, itemIDs []string, at time.Time) error
	// ListLiveDescendants returns live items whose mirror key sits under folder's key.
	ListLiveDescendants(ctx context.Context, folder domain.Item) ([]domain.Item, error)
	ListCollaborations(ctx context.Context, itemID string) ([]domain.Collaboration, error)
	ListLiveItems(ctx context.Context) ([]domain.Item, error)
}

// Locker coordinates singleton jobs across processes.
type Locker interface {
	TryAcquire(ctx context.Context, name, holder string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name, holder string) error
}
