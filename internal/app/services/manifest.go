package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fr0stylo/docmirror/internal/app/domain"
	"github.com/fr0stylo/docmirror/internal/app/ports"
)

// ManifestWriter maintains acl.json in the mirror. Read-modify-write cycles
// are serialised; the object is only rewritten when its bytes change.
type ManifestWriter struct {
	mirror ports.MirrorStore
	mu     sync.Mutex
}

func NewManifestWriter(mirror ports.MirrorStore) *ManifestWriter {
	return &ManifestWriter{mirror: mirror}
}

// Entry renders the manifest entry for an item.
func (w *ManifestWriter) Entry(item domain.Item, collaborations []domain.Collaboration) domain.ManifestEntry {
	return domain.ManifestEntry{
		KeyPrefix:  w.mirror.URI(item.MirrorKey),
		ACLEntries: domain.BuildACL(item, collaborations),
	}
}

// Update puts the given entries and removes the given mirror keys in one write.
func (w *ManifestWriter) Update(ctx context.Context, put []domain.ManifestEntry, removeKeys []string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	current, err := w.load(ctx)
	if err != nil {
		return false, err
	}
	before, err := current.Encode()
	if err != nil {
		return false, err
	}

	prefixes := make([]string, 0, len(removeKeys))
	for _, key := range removeKeys {
		prefixes = append(prefixes, w.mirror.URI(key))
	}
	current.Remove(prefixes...)
	for _, entry := range put {
		current.Put(entry)
	}
	return w.store(ctx, current, before)
}

// Rebuild replaces the manifest with entries for every live item.
func (w *ManifestWriter) Rebuild(ctx context.Context, store ports.MetadataStore) (bool, error) {
	items, err := store.ListLiveItems(ctx)
	if err != nil {
		return false, fmt.Errorf("list live items: %w", err)
	}
	entries := make([]domain.ManifestEntry, 0, len(items))
	for _, item := range items {
		collaborations, err := store.ListCollaborations(ctx, item.ID)
		if err != nil {
			return false, fmt.Errorf("list collaborations for %s: %w", item.ID, err)
		}
		entries = append(entries, w.Entry(item, collaborations))
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	current, err := w.load(ctx)
	if err != nil {
		return false, err
	}
	before, err := current.Encode()
	if err != nil {
		return false, err
	}
	return w.store(ctx, domain.NewManifest(entries), before)
}

func (w *ManifestWriter) load(ctx context.Context) (*domain.Manifest, error) {
	raw, err := w.mirror.Get(ctx, domain.ManifestKey)
	if err != nil {
		if errors.Is(err, ports.ErrObjectNotFound) {
			return domain.NewManifest(nil), nil
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return domain.DecodeManifest(raw)
}

func (w *ManifestWriter) store(ctx context.Context, manifest *domain.Manifest, before []byte) (bool, error) {
	after, err := manifest.Encode()
	if err != nil {
		return false, err
	}
	if bytes.Equal(before, after) {
		exists, err := w.mirror.Exists(ctx, domain.ManifestKey)
		if err != nil || exists {
			return false, err
		}
	}
	if err := w.mirror.Put(ctx, domain.ManifestKey, bytes.NewReader(after), int64(len(after)), "application/json"); err != nil {
		return false, fmt.Errorf("write manifest: %w", err)
	}
	return true, nil
}
