package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fr0stylo/docmirror/internal/app/domain"
	"github.com/fr0stylo/docmirror/internal/app/ports"
	"github.com/fr0stylo/docmirror/internal/observability"
)

// Stage names a step of message processing.
type Stage string

const (
	StageResolving  Stage = "resolving"
	StageMirroring  Stage = "mirroring"
	StagePersisting Stage = "persisting"
)

// StageError records which step failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// FailedStage returns the step an error came from, or "".
func FailedStage(err error) Stage {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage
	}
	return ""
}

func stageErr(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}

// Outcome describes what a reconciliation did to the mirror.
type Outcome string

const (
	OutcomeUpserted Outcome = "upserted"
	OutcomeRemoved  Outcome = "removed"
	OutcomeSkipped  Outcome = "skipped"
)

// folderPageSize is the largest page the source platform serves.
const folderPageSize = 1000

// Reconciler converges the mirror and metadata store on the source state of one item.
type Reconciler struct {
	source   ports.Source
	store    ports.MetadataStore
	mirror   ports.MirrorStore
	manifest *ManifestWriter
	notifier ports.IndexNotifier
	now      func() time.Time
	log      *slog.Logger
}

// ReconcilerDeps groups the reconciler's collaborators.
type ReconcilerDeps struct {
	Source   ports.Source
	Store    ports.MetadataStore
	Mirror   ports.MirrorStore
	Manifest *ManifestWriter
	Notifier ports.IndexNotifier
	Now      func() time.Time
}

func NewReconciler(deps ReconcilerDeps) *Reconciler {
	manifest := deps.Manifest
	if manifest == nil {
		manifest = NewManifestWriter(deps.Mirror)
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Reconciler{
		source:   deps.Source,
		store:    deps.Store,
		mirror:   deps.Mirror,
		manifest: manifest,
		notifier: deps.Notifier,
		now:      now,
		log:      slog.Default().With("component", "reconciler"),
	}
}

// Manifest exposes the shared manifest writer.
func (r *Reconciler) Manifest() *ManifestWriter {
	return r.manifest
}

// Reconcile re-resolves ref from the source and applies its current state.
// A vanished or trashed item takes the removal path.
func (r *Reconciler) Reconcile(ctx context.Context, ref domain.ItemRef) (Outcome, error) {
	source, grants, err := r.resolve(ctx, ref)
	if errors.Is(err, ports.ErrSourceItemGone) {
		return r.Remove(ctx, ref.ID)
	}
	if err != nil {
		return "", err
	}
	return r.apply(ctx, source, grants, true, time.Time{})
}

func (r *Reconciler) resolve(ctx context.Context, ref domain.ItemRef) (domain.SourceItem, []domain.SourceCollaboration, error) {
	ctx, span := observability.StartStageSpan(ctx, string(StageResolving))
	defer span.End()

	source, err := r.source.GetItem(ctx, ref)
	if err != nil {
		if !errors.Is(err, ports.ErrSourceItemGone) {
			span.RecordError(err)
		}
		return domain.SourceItem{}, nil, stageErr(StageResolving, err)
	}
	if !source.Active() {
		return domain.SourceItem{}, nil, stageErr(StageResolving, fmt.Errorf("%w: item status %s", ports.ErrSourceItemGone, source.Status))
	}
	grants, err := r.source.ListCollaborations(ctx, source.Ref())
	if err != nil {
		if !errors.Is(err, ports.ErrSourceItemGone) {
			span.RecordError(err)
		}
		return domain.SourceItem{}, nil, stageErr(StageResolving, err)
	}
	return source, grants, nil
}

// ReconcileResolved applies source state that the caller already fetched
// from a listing taken at listedAt. Folder subtrees are not re-walked; the
// crawler visits children itself. An item tombstoned at or after listedAt
// stays removed, since the listing predates that removal.
func (r *Reconciler) ReconcileResolved(ctx context.Context, source domain.SourceItem, grants []domain.SourceCollaboration, listedAt time.Time) (Outcome, error) {
	if !source.Active() {
		return r.Remove(ctx, source.ID)
	}
	return r.apply(ctx, source, grants, false, listedAt)
}

func (r *Reconciler) apply(ctx context.Context, source domain.SourceItem, grants []domain.SourceCollaboration, descend bool, listedAt time.Time) (Outcome, error) {
	listedAt = listedAt.Truncate(time.Millisecond)
	existing, known, err := r.lookup(ctx, source.ID)
	if err != nil {
		return "", stageErr(StageResolving, err)
	}
	if known && removedSince(existing, listedAt) {
		r.log.InfoContext(ctx, "item removed after it was listed", "item_id", source.ID, "tombstoned_at", existing.TombstonedAt)
		return OutcomeSkipped, nil
	}
	live := known && !existing.Tombstoned()

	if source.Type == domain.SourceFile && !domain.SupportedFile(source.Name) {
		if live {
			return r.removeItem(ctx, existing)
		}
		return OutcomeSkipped, nil
	}

	item := domain.Item{
		ID:          source.ID,
		SourceType:  source.Type,
		MirrorKey:   domain.MirrorKey(source),
		Name:        source.Name,
		ParentID:    source.ParentID,
		OwnerName:   source.Owner.DisplayName(),
		OwnerType:   strings.ToLower(source.Owner.Type),
		ContentHash: source.SHA1,
		CreatedAt:   source.CreatedAt,
		ModifiedAt:  source.ModifiedAt,
		SyncedAt:    r.now().UTC(),
	}
	collaborations := domain.CollaborationsFor(source.ID, grants)
	moved := live && existing.MirrorKey != item.MirrorKey
	restored := known && existing.Tombstoned()

	if err := r.mirrorItem(ctx, item, existing, live, moved, collaborations); err != nil {
		return "", stageErr(StageMirroring, err)
	}

	// The folder row keeps its old key or tombstone until every child is
	// re-keyed, so a redelivery after a failed walk walks again.
	if item.SourceType == domain.SourceFolder && descend && (moved || restored) {
		if err := r.walkSubtree(ctx, item.ID); err != nil {
			return "", stageErr(StageMirroring, fmt.Errorf("re-walk folder %s: %w", item.ID, err))
		}
	}

	// A new item has no row to carry a tombstone, so ask the source again.
	saved := true
	if !known && !listedAt.IsZero() {
		current, err := r.source.GetItem(ctx, source.Ref())
		switch {
		case errors.Is(err, ports.ErrSourceItemGone):
			saved = false
		case err != nil:
			return "", stageErr(StageResolving, err)
		default:
			saved = current.Active()
		}
	}
	if saved {
		if saved, err = r.persist(ctx, item, collaborations, listedAt); err != nil {
			return "", stageErr(StagePersisting, err)
		}
	}
	if !saved {
		if err := r.discard(ctx, item); err != nil {
			return "", stageErr(StageMirroring, err)
		}
		r.log.InfoContext(ctx, "item removed while it was being mirrored", "item_id", item.ID)
		return OutcomeSkipped, nil
	}

	r.announce(ctx, item, OutcomeUpserted)
	return OutcomeUpserted, nil
}

func (r *Reconciler) lookup(ctx context.Context, itemID string) (domain.Item, bool, error) {
	existing, err := r.store.GetItem(ctx, itemID)
	if errors.Is(err, ports.ErrItemNotFound) {
		return domain.Item{}, false, nil
	}
	if err != nil {
		return domain.Item{}, false, err
	}
	return existing, true, nil
}

// mirrorItem writes the manifest entry before content and drops the old
// location's entry only after its objects are gone.
func (r *Reconciler) mirrorItem(ctx context.Context, item, existing domain.Item, live, moved bool, collaborations []domain.Collaboration) error {
	ctx, span := observability.StartStageSpan(ctx, string(StageMirroring))
	defer span.End()

	if _, err := r.manifest.Update(ctx, []domain.ManifestEntry{r.manifest.Entry(item, collaborations)}, nil); err != nil {
		span.RecordError(err)
		return err
	}
	if item.SourceType == domain.SourceFile {
		if err := r.writeContent(ctx, item, existing, live, moved); err != nil {
			span.RecordError(err)
			return err
		}
	}
	if !moved {
		return nil
	}
	if existing.SourceType == domain.SourceFile {
		if err := r.deleteObjects(ctx, existing.MirrorKey); err != nil {
			span.RecordError(err)
			return err
		}
	}
	if _, err := r.manifest.Update(ctx, nil, []string{existing.MirrorKey}); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (r *Reconciler) writeContent(ctx context.Context, item, existing domain.Item, live, moved bool) error {
	unchanged := live && item.ContentHash != "" && existing.ContentHash == item.ContentHash
	copied := false
	if unchanged {
		if moved {
			err := r.mirror.Copy(ctx, existing.MirrorKey, item.MirrorKey)
			switch {
			case err == nil:
				copied = true
			case !errors.Is(err, ports.ErrObjectNotFound):
				return fmt.Errorf("copy %s: %w", existing.MirrorKey, err)
			}
		} else {
			exists, err := r.mirror.Exists(ctx, item.MirrorKey)
			if err != nil {
				return err
			}
			copied = exists
		}
	}
	if !copied {
		if err := r.download(ctx, item); err != nil {
			return err
		}
	}

	sidecar, err := domain.NewSidecar(item).Encode()
	if err != nil {
		return err
	}
	return r.mirror.Put(ctx, domain.SidecarKey(item.MirrorKey), bytes.NewReader(sidecar), int64(len(sidecar)), "application/json")
}

func (r *Reconciler) download(ctx context.Context, item domain.Item) error {
	body, size, err := r.source.Download(ctx, item.ID)
	if err != nil {
		return fmt.Errorf("download %s: %w", item.ID, err)
	}
	defer body.Close()
	if err := r.mirror.Put(ctx, item.MirrorKey, body, size, domain.MIMEType(item.Name)); err != nil {
		return fmt.Errorf("put %s: %w", item.MirrorKey, err)
	}
	return nil
}

func (r *Reconciler) persist(ctx context.Context, item domain.Item, collaborations []domain.Collaboration, listedAt time.Time) (bool, error) {
	ctx, span := observability.StartStageSpan(ctx, string(StagePersisting))
	defer span.End()

	if listedAt.IsZero() {
		if err := r.store.SaveItem(ctx, item, collaborations); err != nil {
			span.RecordError(err)
			return false, err
		}
		return true, nil
	}
	saved, err := r.store.SaveItemUnlessRemoved(ctx, item, collaborations, listedAt)
	if err != nil {
		span.RecordError(err)
	}
	return saved, err
}

// discard undoes the mirror writes of an item whose row turned out to be
// removed concurrently.
func (r *Reconciler) discard(ctx context.Context, item domain.Item) error {
	if item.SourceType == domain.SourceFile {
		if err := r.deleteObjects(ctx, item.MirrorKey); err != nil {
			return err
		}
	}
	_, err := r.manifest.Update(ctx, nil, []string{item.MirrorKey})
	return err
}

func removedSince(item domain.Item, listedAt time.Time) bool {
	return !listedAt.IsZero() && item.Tombstoned() && !item.TombstonedAt.Before(listedAt)
}

// Remove tombstones a known item, and for folders every live descendant,
// after deleting their mirror objects and manifest entries.
func (r *Reconciler) Remove(ctx context.Context, itemID string) (Outcome, error) {
	existing, known, err := r.lookup(ctx, itemID)
	if err != nil {
		return "", stageErr(StageResolving, err)
	}
	if !known {
		return OutcomeSkipped, nil
	}
	return r.removeItem(ctx, existing)
}

func (r *Reconciler) removeItem(ctx context.Context, existing domain.Item) (Outcome, error) {
	targets := []domain.Item{existing}
	if existing.SourceType == domain.SourceFolder {
		descendants, err := r.store.ListLiveDescendants(ctx, existing)
		if err != nil {
			return "", stageErr(StageResolving, fmt.Errorf("list descendants of %s: %w", existing.ID, err))
		}
		targets = append(targets, descendants...)
	}

	mirrorCtx, span := observability.StartStageSpan(ctx, string(StageMirroring))
	keys := make([]string, 0, len(targets))
	for _, target := range targets {
		if target.SourceType == domain.SourceFile {
			if err := r.deleteObjects(mirrorCtx, target.MirrorKey); err != nil {
				span.RecordError(err)
				span.End()
				return "", stageErr(StageMirroring, err)
			}
		}
		keys = append(keys, target.MirrorKey)
	}
	if _, err := r.manifest.Update(mirrorCtx, nil, keys); err != nil {
		span.RecordError(err)
		span.End()
		return "", stageErr(StageMirroring, err)
	}
	span.End()

	ids := make([]string, 0, len(targets))
	for _, target := range targets {
		if !target.Tombstoned() {
			ids = append(ids, target.ID)
		}
	}
	persistCtx, persistSpan := observability.StartStageSpan(ctx, string(StagePersisting))
	err := r.store.TombstoneItems(persistCtx, ids, r.now().UTC())
	if err != nil {
		persistSpan.RecordError(err)
	}
	persistSpan.End()
	if err != nil {
		return "", stageErr(StagePersisting, err)
	}

	r.log.InfoContext(ctx, "item removed from mirror", "item_id", existing.ID, "source_type", existing.SourceType, "tombstoned", len(ids))
	r.announce(ctx, existing, OutcomeRemoved)
	return OutcomeRemoved, nil
}

func (r *Reconciler) deleteObjects(ctx context.Context, mirrorKey string) error {
	if err := r.mirror.Delete(ctx, mirrorKey); err != nil {
		return fmt.Errorf("delete %s: %w", mirrorKey, err)
	}
	if err := r.mirror.Delete(ctx, domain.SidecarKey(mirrorKey)); err != nil {
		return fmt.Errorf("delete sidecar of %s: %w", mirrorKey, err)
	}
	return nil
}

// walkSubtree reconciles every descendant of a folder from fresh source listings.
func (r *Reconciler) walkSubtree(ctx context.Context, folderID string) error {
	return walkFolder(ctx, r.source, r.now, folderID, func(child domain.SourceItem, listedAt time.Time) (bool, error) {
		grants, err := r.source.ListCollaborations(ctx, child.Ref())
		if errors.Is(err, ports.ErrSourceItemGone) {
			_, err = r.Remove(ctx, child.ID)
			return false, err
		}
		if err != nil {
			return false, err
		}
		outcome, err := r.ReconcileResolved(ctx, child, grants, listedAt)
		return outcome == OutcomeUpserted, err
	})
}

func (r *Reconciler) announce(ctx context.Context, item domain.Item, outcome Outcome) {
	if r.notifier == nil {
		return
	}
	err := r.notifier.MirrorChanged(ctx, ports.MirrorChange{
		ItemID:    item.ID,
		ItemType:  string(item.SourceType),
		MirrorKey: item.MirrorKey,
		Action:    string(outcome),
	})
	if err != nil {
		r.log.WarnContext(ctx, "index sync notification failed", "item_id", item.ID, "error", err)
	}
}

// walkFolder pages through folderID depth-first. visit receives each child
// with the time its page was requested and returns whether to descend into a
// child folder; an error stops the walk.
func walkFolder(ctx context.Context, source ports.Source, now func() time.Time, folderID string, visit func(domain.SourceItem, time.Time) (bool, error)) error {
	for offset := 0; ; {
		if err := ctx.Err(); err != nil {
			return err
		}
		listedAt := now()
		page, err := source.ListFolderItems(ctx, folderID, offset, folderPageSize)
		if err != nil {
			return fmt.Errorf("list folder %s at offset %d: %w", folderID, offset, err)
		}
		for _, child := range page.Items {
			descend, err := visit(child, listedAt)
			if err != nil {
				return err
			}
			if descend && child.Type == domain.SourceFolder {
				if err := walkFolder(ctx, source, now, child.ID, visit); err != nil {
					return err
				}
			}
		}
		offset += folderPageSize
		if offset >= page.TotalCount {
			return nil
		}
	}
}
