package services

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fr0stylo/docmirror/internal/adapters/mirror"
	"github.com/fr0stylo/docmirror/internal/adapters/sqlstore"
	"github.com/fr0stylo/docmirror/internal/app/domain"
	"github.com/fr0stylo/docmirror/internal/app/ports"
	"github.com/fr0stylo/docmirror/internal/db"
)

var testNow = time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeSource struct {
	mu        sync.Mutex
	items     map[string]domain.SourceItem
	grants    map[string][]domain.SourceCollaboration
	children  map[string][]string
	content   map[string]string
	failures  map[string]error
	downloads map[string]int
	gets      map[string]int
	listings  map[string]int

	// downloadFailures fail Download only; GetItem still succeeds.
	downloadFailures map[string]error
	// onDownload runs before each Download, outside the source lock.
	onDownload func(fileID string)
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		items:     map[string]domain.SourceItem{},
		grants:    map[string][]domain.SourceCollaboration{},
		children:  map[string][]string{},
		content:   map[string]string{},
		failures:  map[string]error{},
		downloads: map[string]int{},
		gets:      map[string]int{},
		listings:  map[string]int{},

		downloadFailures: map[string]error{},
	}
}

func (s *fakeSource) addFolder(id, name string, path ...string) domain.SourceItem {
	return s.add(domain.SourceItem{ID: id, Type: domain.SourceFolder, Name: name}, path)
}

func (s *fakeSource) addFile(id, name, content string, path ...string) domain.SourceItem {
	s.mu.Lock()
	s.content[id] = content
	s.mu.Unlock()
	return s.add(domain.SourceItem{ID: id, Type: domain.SourceFile, Name: name, SHA1: "sha-" + content}, path)
}

func (s *fakeSource) add(item domain.SourceItem, path []string) domain.SourceItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	item.PathIDs = append([]string(nil), path...)
	if len(path) > 0 {
		item.ParentID = path[len(path)-1]
		s.children[item.ParentID] = appendUnique(s.children[item.ParentID], item.ID)
	}
	item.Status = "active"
	item.Owner = domain.Principal{Type: "user", ID: "9", Name: "Owner", Login: "owner@example.com"}
	item.CreatedAt = testNow.Add(-48 * time.Hour)
	item.ModifiedAt = testNow.Add(-time.Hour)
	s.items[item.ID] = item
	return item
}

func (s *fakeSource) move(id string, path ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.items[id]
	if item.ParentID != "" {
		s.children[item.ParentID] = removeString(s.children[item.ParentID], id)
	}
	item.PathIDs = append([]string(nil), path...)
	item.ParentID = path[len(path)-1]
	s.children[item.ParentID] = appendUnique(s.children[item.ParentID], id)
	s.items[id] = item
}

func (s *fakeSource) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
}

func (s *fakeSource) grant(itemID string, grants ...domain.SourceCollaboration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range grants {
		if grants[i].ItemID == "" {
			grants[i].ItemID = itemID
		}
	}
	s.grants[itemID] = grants
}

func (s *fakeSource) fail(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, id)
		return
	}
	s.failures[id] = err
}

func (s *fakeSource) failDownload(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.downloadFailures, id)
		return
	}
	s.downloadFailures[id] = err
}

func (s *fakeSource) hookDownload(fn func(fileID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDownload = fn
}

func (s *fakeSource) setContent(id, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.items[id]
	item.SHA1 = "sha-" + content
	s.items[id] = item
	s.content[id] = content
}

func (s *fakeSource) GetItem(_ context.Context, ref domain.ItemRef) (domain.SourceItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets[ref.ID]++
	if err := s.failures[ref.ID]; err != nil {
		return domain.SourceItem{}, err
	}
	item, ok := s.items[ref.ID]
	if !ok {
		return domain.SourceItem{}, ports.ErrSourceItemGone
	}
	return item, nil
}

func (s *fakeSource) ListCollaborations(_ context.Context, ref domain.ItemRef) ([]domain.SourceCollaboration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings[ref.ID]++
	if _, ok := s.items[ref.ID]; !ok {
		return nil, ports.ErrSourceItemGone
	}
	return append([]domain.SourceCollaboration(nil), s.grants[ref.ID]...), nil
}

func (s *fakeSource) ListFolderItems(_ context.Context, folderID string, offset, limit int) (ports.FolderPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.children[folderID]
	page := ports.FolderPage{TotalCount: len(ids), Offset: offset}
	for i := offset; i < len(ids) && i < offset+limit; i++ {
		if item, ok := s.items[ids[i]]; ok {
			page.Items = append(page.Items, item)
		}
	}
	return page, nil
}

func (s *fakeSource) Download(_ context.Context, fileID string) (io.ReadCloser, int64, error) {
	s.mu.Lock()
	hook := s.onDownload
	s.mu.Unlock()
	if hook != nil {
		hook(fileID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.downloadFailures[fileID]; err != nil {
		return nil, 0, err
	}
	content, ok := s.content[fileID]
	if !ok {
		return nil, 0, ports.ErrSourceItemGone
	}
	s.downloads[fileID]++
	return io.NopCloser(strings.NewReader(content)), int64(len(content)), nil
}

func (s *fakeSource) downloadCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.downloads[id]
}

func (s *fakeSource) listingCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listings[id]
}

func appendUnique(values []string, value string) []string {
	for _, existing := range values {
		if existing == value {
			return values
		}
	}
	return append(values, value)
}

func removeString(values []string, value string) []string {
	out := values[:0]
	for _, existing := range values {
		if existing != value {
			out = append(out, existing)
		}
	}
	return out
}

var errSourceDown = errors.New("source api unavailable")

type harness struct {
	database   *db.Database
	source     *fakeSource
	store      *sqlstore.MetadataStore
	mirror     *mirror.MemoryStore
	reconciler *Reconciler
	clock      *testClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "services-test"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	source := newFakeSource()
	store := sqlstore.NewMetadataStore(database)
	mirrorStore := mirror.NewMemoryStore()
	clock := &testClock{now: testNow}
	return &harness{
		database: database,
		source:   source,
		store:    store,
		mirror:   mirrorStore,
		clock:    clock,
		reconciler: NewReconciler(ReconcilerDeps{
			Source: source,
			Store:  store,
			Mirror: mirrorStore,
			Now:    clock.Now,
		}),
	}
}

func (h *harness) manifest(t *testing.T) *domain.Manifest {
	t.Helper()
	raw, err := h.mirror.Get(context.Background(), domain.ManifestKey)
	if errors.Is(err, ports.ErrObjectNotFound) {
		return domain.NewManifest(nil)
	}
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	manifest, err := domain.DecodeManifest(raw)
	if err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	return manifest
}

func (h *harness) hasObject(t *testing.T, key string) bool {
	t.Helper()
	exists, err := h.mirror.Exists(context.Background(), key)
	if err != nil {
		t.Fatalf("exists %s: %v", key, err)
	}
	return exists
}

func accepted(id, principalType, name string) domain.SourceCollaboration {
	principal := domain.Principal{Type: principalType, Name: name}
	if principalType == "user" {
		principal.Login = name
	}
	return domain.SourceCollaboration{ID: id, Status: "accepted", Role: "viewer", AccessibleBy: principal}
}
