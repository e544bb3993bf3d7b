package webhookclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/fr0stylo/docmirror/internal/app/domain"
	"github.com/fr0stylo/docmirror/internal/app/ports"
	appservices "github.com/fr0stylo/docmirror/internal/app/services"
	boxwebhook "github.com/fr0stylo/docmirror/internal/webhooks/box"
)

type recordingSender struct {
	mu     sync.Mutex
	inputs []ports.SendInput
}

func (s *recordingSender) Send(_ context.Context, input ports.SendInput) (ports.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, input)
	return ports.SendResult{MessageID: int64(len(s.inputs))}, nil
}

func TestBuildBodyCollaborationTargetsItem(t *testing.T) {
	body, err := BuildBody(Notification{Trigger: "collaboration.accepted", SourceID: "c-1", ItemID: "1001", ItemType: "folder"}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	notification, err := domain.ParseNotification(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ref, err := notification.Target()
	if err != nil {
		t.Fatalf("target: %v", err)
	}
	if ref.ID != "1001" || ref.Type != domain.SourceFolder {
		t.Fatalf("unexpected target: %+v", ref)
	}
}

func TestBuildBodyRequiresItemForCollaborations(t *testing.T) {
	if _, err := BuildBody(Notification{Trigger: "COLLABORATION.CREATED", SourceID: "c-1"}, ""); err == nil {
		t.Fatal("expected error for collaboration without item")
	}
}

func TestSendPassesSignatureVerification(t *testing.T) {
	sender := &recordingSender{}
	handler := boxwebhook.NewHandler(appservices.NewIntakeService(sender, appservices.IntakeOptions{
		SignatureKeys: []string{"primary-key", "secondary-key"},
	}))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := handler.Handle(w, r); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	client := Client{Endpoint: server.URL, SecondaryKey: "secondary-key"}
	if err := client.Send(context.Background(), Notification{Trigger: "FILE.UPLOADED", SourceID: "42", SourceName: "a.pdf"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(sender.inputs) != 1 {
		t.Fatalf("expected one enqueued notification, got %d", len(sender.inputs))
	}

	bad := Client{Endpoint: server.URL, PrimaryKey: "wrong-key"}
	if err := bad.Send(context.Background(), Notification{Trigger: "FILE.UPLOADED", SourceID: "42"}); err == nil {
		t.Fatal("expected rejection for wrong signing key")
	}
	if len(sender.inputs) != 1 {
		t.Fatalf("rejected delivery must not be enqueued, got %d", len(sender.inputs))
	}
}
