package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fr0stylo/docmirror/internal/app/domain"
	"github.com/fr0stylo/docmirror/internal/app/ports"
)

const (
	// MaxNotificationBytes bounds accepted webhook bodies.
	MaxNotificationBytes = 256 << 10
	// SharedGroupID is the single ordering domain used in total-ordering mode.
	SharedGroupID = "box"

	SignaturePrimaryHeader   = "BOX-SIGNATURE-PRIMARY"
	SignatureSecondaryHeader = "BOX-SIGNATURE-SECONDARY"
	DeliveryTimestampHeader  = "BOX-DELIVERY-TIMESTAMP"

	maxDeliveryAge = 10 * time.Minute
)

var (
	// ErrBadRequest indicates an empty, oversized or non-JSON notification.
	ErrBadRequest = errors.New("bad request")
	// ErrInvalidSignature indicates a webhook signature mismatch.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrUpstreamUnavailable indicates the queue refused the message.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// IntakeErrorKind classifies intake failures for transport-specific mapping.
type IntakeErrorKind string

const (
	IntakeErrorUnknown             IntakeErrorKind = "unknown"
	IntakeErrorBadRequest          IntakeErrorKind = "bad_request"
	IntakeErrorInvalidSignature    IntakeErrorKind = "invalid_signature"
	IntakeErrorUpstreamUnavailable IntakeErrorKind = "upstream_unavailable"
)

// ClassifyIntakeError classifies a returned intake error.
func ClassifyIntakeError(err error) IntakeErrorKind {
	switch {
	case err == nil:
		return IntakeErrorUnknown
	case errors.Is(err, ErrBadRequest):
		return IntakeErrorBadRequest
	case errors.Is(err, ErrInvalidSignature):
		return IntakeErrorInvalidSignature
	case errors.Is(err, ErrUpstreamUnavailable):
		return IntakeErrorUpstreamUnavailable
	default:
		return IntakeErrorUnknown
	}
}

// IntakeOptions configures notification intake.
type IntakeOptions struct {
	// PerItemOrdering groups messages by target item instead of one shared group.
	PerItemOrdering bool
	// SignatureKeys enables webhook signature checks when non-empty.
	SignatureKeys []string
	Now           func() time.Time
}

// IntakeCommand is transport-agnostic webhook input.
type IntakeCommand struct {
	Headers http.Header
	Body    []byte
}

// IntakeService forwards notifications verbatim onto the queue.
type IntakeService struct {
	queue ports.QueueSender
	opts  IntakeOptions
	now   func() time.Time
}

func NewIntakeService(queue ports.QueueSender, opts IntakeOptions) *IntakeService {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &IntakeService{queue: queue, opts: opts, now: now}
}

// Accept validates the envelope and enqueues the body once.
func (s *IntakeService) Accept(ctx context.Context, cmd IntakeCommand) (ports.SendResult, error) {
	if len(cmd.Body) == 0 {
		return ports.SendResult{}, fmt.Errorf("%w: empty body", ErrBadRequest)
	}
	if len(cmd.Body) > MaxNotificationBytes {
		return ports.SendResult{}, fmt.Errorf("%w: body exceeds %d bytes", ErrBadRequest, MaxNotificationBytes)
	}
	if !json.Valid(cmd.Body) {
		return ports.SendResult{}, fmt.Errorf("%w: body is not json", ErrBadRequest)
	}
	if len(s.opts.SignatureKeys) > 0 {
		if err := s.verifySignature(cmd); err != nil {
			return ports.SendResult{}, err
		}
	}

	result, err := s.queue.Send(ctx, ports.SendInput{Body: cmd.Body, GroupID: s.groupID(cmd.Body)})
	if err != nil {
		return ports.SendResult{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	return result, nil
}

func (s *IntakeService) groupID(body []byte) string {
	if !s.opts.PerItemOrdering {
		return SharedGroupID
	}
	if key := domain.PeekGroupKey(body); key != "" {
		return key
	}
	return SharedGroupID
}

func (s *IntakeService) verifySignature(cmd IntakeCommand) error {
	timestamp := strings.TrimSpace(cmd.Headers.Get(DeliveryTimestampHeader))
	if timestamp == "" {
		return fmt.Errorf("%w: missing delivery timestamp", ErrInvalidSignature)
	}
	delivered, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return fmt.Errorf("%w: malformed delivery timestamp", ErrInvalidSignature)
	}
	if s.now().Sub(delivered) > maxDeliveryAge {
		return fmt.Errorf("%w: delivery too old", ErrInvalidSignature)
	}

	signatures := []string{
		strings.TrimSpace(cmd.Headers.Get(SignaturePrimaryHeader)),
		strings.TrimSpace(cmd.Headers.Get(SignatureSecondaryHeader)),
	}
	for _, key := range s.opts.SignatureKeys {
		expected := SignNotification(key, cmd.Body, timestamp)
		for _, signature := range signatures {
			if signature != "" && hmac.Equal([]byte(signature), []byte(expected)) {
				return nil
			}
		}
	}
	return ErrInvalidSignature
}

// SignNotification computes the webhook signature for body and delivery timestamp.
func SignNotification(key string, body []byte, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(key))
	_, _ = mac.Write(body)
	_, _ = mac.Write([]byte(timestamp))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
