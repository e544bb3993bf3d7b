package box

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fr0stylo/docmirror/internal/app/domain"
	"github.com/fr0stylo/docmirror/internal/app/ports"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(context.Background(), Options{
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
		RetryBase:  time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestGetItemMapsPathCollection(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/files/42", r.URL.Path)
		require.Contains(t, r.URL.Query().Get("fields"), "path_collection")
		_, _ = io.WriteString(w, `{
			"id":"42","type":"file","name":"plan.docx","sha1":"abc","item_status":"active",
			"created_at":"2024-03-01T10:00:00-08:00","modified_at":"2024-03-02T10:00:00Z",
			"parent":{"id":"1001","type":"folder"},
			"owned_by":{"type":"user","id":"9","name":"Owner","login":"owner@example.com"},
			"path_collection":{"total_count":2,"entries":[{"id":"0","type":"folder"},{"id":"1001","type":"folder"}]}
		}`)
	}))

	item, err := client.GetItem(context.Background(), domain.ItemRef{ID: "42", Type: domain.SourceFile})
	require.NoError(t, err)
	require.Equal(t, domain.SourceFile, item.Type)
	require.Equal(t, []string{"0", "1001"}, item.PathIDs)
	require.Equal(t, "1001", item.ParentID)
	require.Equal(t, "owner@example.com", item.Owner.Login)
	require.True(t, item.Active())
	require.Equal(t, time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC), item.CreatedAt)
	require.Equal(t, "docs/0/1001/42", domain.MirrorKey(item))
}

func TestGetItemNotFoundIsGone(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"type":"error","status":404}`, http.StatusNotFound)
	}))

	_, err := client.GetItem(context.Background(), domain.ItemRef{ID: "42", Type: domain.SourceFile})
	require.True(t, errors.Is(err, ports.ErrSourceItemGone))
}

func TestRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = io.WriteString(w, `{"id":"1001","type":"folder","name":"Plans","path_collection":{"entries":[{"id":"0"}]}}`)
	}))

	item, err := client.GetItem(context.Background(), domain.ItemRef{ID: "1001", Type: domain.SourceFolder})
	require.NoError(t, err)
	require.Equal(t, "docs/0/1001/", domain.MirrorKey(item))
	require.EqualValues(t, 3, calls.Load())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := client.GetItem(context.Background(), domain.ItemRef{ID: "42", Type: domain.SourceFile})
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusForbidden, statusErr.StatusCode)
	require.EqualValues(t, 1, calls.Load())
}

func TestListCollaborationsFollowsMarkers(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/folders/1001/collaborations", r.URL.Path)
		if r.URL.Query().Get("marker") == "" {
			_, _ = io.WriteString(w, `{"entries":[{"id":"c1","status":"accepted","role":"editor","item":{"id":"1001","type":"folder"},"accessible_by":{"type":"user","login":"a@example.com"}}],"next_marker":"m2"}`)
			return
		}
		_, _ = io.WriteString(w, `{"entries":[{"id":"c2","status":"pending","item":{"id":"1001","type":"folder"},"accessible_by":{"type":"group","name":"Finance"}}],"next_marker":""}`)
	}))

	grants, err := client.ListCollaborations(context.Background(), domain.ItemRef{ID: "1001", Type: domain.SourceFolder})
	require.NoError(t, err)
	require.Len(t, grants, 2)
	require.Equal(t, "1001", grants[0].ItemID)
	require.Equal(t, "Finance", grants[1].AccessibleBy.Name)
}

func TestListFolderItemsUsesOffsetPaging(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/folders/283097226402/items", r.URL.Path)
		require.Equal(t, "1000", r.URL.Query().Get("limit"))
		require.Equal(t, "1000", r.URL.Query().Get("offset"))
		_, _ = io.WriteString(w, `{"total_count":1002,"offset":1000,"entries":[{"id":"5","type":"file","name":"a.pdf"},{"id":"6","type":"web_link","name":"x"}]}`)
	}))

	page, err := client.ListFolderItems(context.Background(), "283097226402", 1000, 1000)
	require.NoError(t, err)
	require.Equal(t, 1002, page.TotalCount)
	require.Len(t, page.Items, 1)
	require.Equal(t, "5", page.Items[0].ID)
}

func TestDownloadStreamsContent(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/files/42/content", r.URL.Path)
		_, _ = io.WriteString(w, "hello")
	}))

	body, size, err := client.Download(context.Background(), "42")
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
	require.EqualValues(t, 5, size)
}

func TestNewClientRequiresCredentials(t *testing.T) {
	t.Parallel()

	_, err := NewClient(context.Background(), Options{})
	require.Error(t, err)

	_, err = NewClient(context.Background(), Options{Credentials: Credentials{DeveloperToken: "dev"}})
	require.NoError(t, err)
}
