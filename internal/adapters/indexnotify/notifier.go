package indexnotify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	ceclient "github.com/cloudevents/sdk-go/v2/client"
	ceevent "github.com/cloudevents/sdk-go/v2/event"
	"github.com/cloudevents/sdk-go/v2/protocol"
	cehttp "github.com/cloudevents/sdk-go/v2/protocol/http"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fr0stylo/docmirror/internal/app/ports"
)

const (
	// EventType is the CloudEvents type announced after each mirror change.
	EventType   = "com.docmirror.mirror.changed"
	eventSource = "docmirror/worker"
)

// Notifier posts CloudEvents to the index sync endpoint.
type Notifier struct {
	client ceclient.Client
}

// New returns a notifier for target, or a no-op notifier when target is empty.
func New(target string) (ports.IndexNotifier, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return Noop{}, nil
	}
	p, err := cehttp.New(
		cehttp.WithTarget(target),
		cehttp.WithClient(http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create cloudevents transport: %w", err)
	}
	client, err := ceclient.New(p)
	if err != nil {
		return nil, fmt.Errorf("create cloudevents client: %w", err)
	}
	return &Notifier{client: client}, nil
}

func (n *Notifier) MirrorChanged(ctx context.Context, change ports.MirrorChange) error {
	event := ceevent.New()
	event.SetID(uuid.NewString())
	event.SetType(EventType)
	event.SetSource(eventSource)
	event.SetSubject(change.MirrorKey)
	event.SetTime(time.Now().UTC())
	if err := event.SetData(ceevent.ApplicationJSON, map[string]string{
		"itemId":    change.ItemID,
		"itemType":  change.ItemType,
		"mirrorKey": change.MirrorKey,
		"action":    change.Action,
	}); err != nil {
		return err
	}

	if result := n.client.Send(ctx, event); !protocol.IsACK(result) {
		return fmt.Errorf("notify index sync: %w", result)
	}
	return nil
}

// Noop discards notifications.
type Noop struct{}

func (Noop) MirrorChanged(context.Context, ports.MirrorChange) error { return nil }

var (
	_ ports.IndexNotifier = (*Notifier)(nil)
	_ ports.IndexNotifier = Noop{}
)
