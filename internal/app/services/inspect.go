package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/fr0stylo/docmirror/internal/app/domain"
	"github.com/fr0stylo/docmirror/internal/app/ports"
)

// MirrorRecord is the stored state behind one mirror location.
type MirrorRecord struct {
	Item           domain.Item
	Collaborations []domain.Collaboration
	ContentPresent bool
	SidecarPresent bool
}

// InspectMirrorKey resolves a mirror key, manifest URI or sidecar key to the
// item row that backs it. Keys ending in "/" name folders.
func InspectMirrorKey(ctx context.Context, store ports.MetadataStore, mirror ports.MirrorStore, location string) (MirrorRecord, error) {
	key := strings.TrimSpace(location)
	if base := mirror.URI(""); base != "" && strings.HasPrefix(key, base) {
		key = strings.TrimPrefix(key, base)
	}
	key = strings.TrimSuffix(strings.TrimPrefix(key, "/"), domain.SidecarSuffix)
	if key == "" {
		return MirrorRecord{}, fmt.Errorf("empty mirror key in %q", location)
	}

	sourceType := domain.SourceFile
	if strings.HasSuffix(key, "/") {
		sourceType = domain.SourceFolder
	}
	item, err := store.GetItemByMirrorKey(ctx, sourceType, key)
	if err != nil {
		return MirrorRecord{}, fmt.Errorf("look up %s: %w", key, err)
	}
	record := MirrorRecord{Item: item}
	if record.Collaborations, err = store.ListCollaborations(ctx, item.ID); err != nil {
		return MirrorRecord{}, fmt.Errorf("list collaborations of %s: %w", item.ID, err)
	}
	if sourceType != domain.SourceFile {
		return record, nil
	}
	if record.ContentPresent, err = mirror.Exists(ctx, key); err != nil {
		return MirrorRecord{}, err
	}
	if record.SidecarPresent, err = mirror.Exists(ctx, domain.SidecarKey(key)); err != nil {
		return MirrorRecord{}, err
	}
	return record, nil
}
