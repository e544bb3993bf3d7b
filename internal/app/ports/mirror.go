package ports

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound indicates a missing mirror object.
var ErrObjectNotFound = errors.New("object not found")

// MirrorStore is the object store the index reads from.
type MirrorStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Copy(ctx context.Context, srcKey, dstKey string) error
	// Delete is a no-op for missing keys.
	Delete(ctx context.Context, key string) error
	// URI returns the absolute location of key, used as the manifest key prefix.
	URI(key string) string
}

// IndexNotifier tells the downstream index that the mirror changed.
type IndexNotifier interface {
	MirrorChanged(ctx context.Context, change MirrorChange) error
}

// MirrorChange summarizes one reconciliation outcome.
type MirrorChange struct {
	ItemID    string
	ItemType  string
	MirrorKey string
	Action    string
}
