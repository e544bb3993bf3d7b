package services

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fr0stylo/docmirror/internal/app/ports"
	"github.com/fr0stylo/docmirror/internal/app/ports/mocks"
)

const uploadedNotification = `{"type":"webhook_event","id":"evt-1","trigger":"FILE.UPLOADED","source":{"id":"42","type":"file","name":"a.pdf"}}`

func TestIntakeForwardsBodyVerbatimOnSharedGroup(t *testing.T) {
	queue := mocks.NewMockQueueSender(t)
	queue.EXPECT().
		Send(mock.Anything, ports.SendInput{Body: []byte(uploadedNotification), GroupID: SharedGroupID}).
		Return(ports.SendResult{MessageID: 7}, nil).
		Once()

	result, err := NewIntakeService(queue, IntakeOptions{}).Accept(context.Background(), IntakeCommand{Body: []byte(uploadedNotification)})
	require.NoError(t, err)
	assert.Equal(t, int64(7), result.MessageID)
}

func TestIntakeGroupsByItemWhenConfigured(t *testing.T) {
	collaboration := `{"trigger":"COLLABORATION.ACCEPTED","source":{"id":"c-1","type":"collaboration","item":{"id":"1001","type":"folder"}}}`
	queue := mocks.NewMockQueueSender(t)
	queue.EXPECT().
		Send(mock.Anything, mock.MatchedBy(func(input ports.SendInput) bool { return input.GroupID == "item:42" })).
		Return(ports.SendResult{MessageID: 1}, nil).
		Once()
	queue.EXPECT().
		Send(mock.Anything, mock.MatchedBy(func(input ports.SendInput) bool { return input.GroupID == "item:1001" })).
		Return(ports.SendResult{MessageID: 2}, nil).
		Once()
	queue.EXPECT().
		Send(mock.Anything, mock.MatchedBy(func(input ports.SendInput) bool { return input.GroupID == SharedGroupID })).
		Return(ports.SendResult{MessageID: 3}, nil).
		Once()

	service := NewIntakeService(queue, IntakeOptions{PerItemOrdering: true})
	for _, body := range []string{uploadedNotification, collaboration, `{"trigger":"WEBHOOK.PING"}`} {
		_, err := service.Accept(context.Background(), IntakeCommand{Body: []byte(body)})
		require.NoError(t, err)
	}
}

func TestIntakeRejectsMalformedBodiesWithoutEnqueueing(t *testing.T) {
	queue := mocks.NewMockQueueSender(t)
	service := NewIntakeService(queue, IntakeOptions{})

	cases := map[string][]byte{
		"empty":    nil,
		"not json": []byte("trigger=FILE.UPLOADED"),
		"oversize": []byte(`"` + strings.Repeat("x", MaxNotificationBytes) + `"`),
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := service.Accept(context.Background(), IntakeCommand{Body: body})
			require.ErrorIs(t, err, ErrBadRequest)
			assert.Equal(t, IntakeErrorBadRequest, ClassifyIntakeError(err))
		})
	}
	queue.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestIntakeReportsQueueFailureAsUpstreamUnavailable(t *testing.T) {
	queue := mocks.NewMockQueueSender(t)
	queue.EXPECT().Send(mock.Anything, mock.Anything).Return(ports.SendResult{}, errors.New("database is locked")).Once()

	_, err := NewIntakeService(queue, IntakeOptions{}).Accept(context.Background(), IntakeCommand{Body: []byte(uploadedNotification)})
	require.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Equal(t, IntakeErrorUpstreamUnavailable, ClassifyIntakeError(err))
}

func TestIntakeVerifiesSignatures(t *testing.T) {
	now := time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC)
	timestamp := now.Add(-time.Minute).Format(time.RFC3339)
	body := []byte(uploadedNotification)

	signed := func(primary, secondary string) http.Header {
		headers := http.Header{}
		headers.Set(DeliveryTimestampHeader, timestamp)
		if primary != "" {
			headers.Set(SignaturePrimaryHeader, primary)
		}
		if secondary != "" {
			headers.Set(SignatureSecondaryHeader, secondary)
		}
		return headers
	}

	t.Run("secondary key accepted", func(t *testing.T) {
		queue := mocks.NewMockQueueSender(t)
		queue.EXPECT().Send(mock.Anything, mock.Anything).Return(ports.SendResult{MessageID: 1}, nil).Once()
		service := NewIntakeService(queue, IntakeOptions{SignatureKeys: []string{"primary", "rotated"}, Now: func() time.Time { return now }})

		_, err := service.Accept(context.Background(), IntakeCommand{
			Headers: signed("garbage", SignNotification("rotated", body, timestamp)),
			Body:    body,
		})
		require.NoError(t, err)
	})

	t.Run("mismatch rejected", func(t *testing.T) {
		queue := mocks.NewMockQueueSender(t)
		service := NewIntakeService(queue, IntakeOptions{SignatureKeys: []string{"primary"}, Now: func() time.Time { return now }})

		_, err := service.Accept(context.Background(), IntakeCommand{
			Headers: signed(SignNotification("other", body, timestamp), ""),
			Body:    body,
		})
		require.ErrorIs(t, err, ErrInvalidSignature)
		assert.Equal(t, IntakeErrorInvalidSignature, ClassifyIntakeError(err))
	})

	t.Run("stale delivery rejected", func(t *testing.T) {
		queue := mocks.NewMockQueueSender(t)
		service := NewIntakeService(queue, IntakeOptions{SignatureKeys: []string{"primary"}, Now: func() time.Time { return now.Add(time.Hour) }})

		_, err := service.Accept(context.Background(), IntakeCommand{
			Headers: signed(SignNotification("primary", body, timestamp), ""),
			Body:    body,
		})
		require.ErrorIs(t, err, ErrInvalidSignature)
	})
}
