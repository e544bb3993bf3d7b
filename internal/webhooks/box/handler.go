package box

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/fr0stylo/docmirror/internal/app/ports"
	appservices "github.com/fr0stylo/docmirror/internal/app/services"
)

// Intake accepts raw webhook deliveries.
type Intake interface {
	Accept(ctx context.Context, cmd appservices.IntakeCommand) (ports.SendResult, error)
}

// Handler forwards Box webhook notifications onto the queue.
type Handler struct {
	intake  Intake
	metrics intakeMetrics
	log     *slog.Logger
}

// NewHandler constructs a Box webhook handler.
func NewHandler(intake Intake) *Handler {
	return &Handler{
		intake:  intake,
		metrics: newIntakeMetrics(),
		log:     slog.Default().With("component", "box_webhook"),
	}
}

// Handle reads one notification and enqueues it.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	h.metrics.recordRequest(ctx)

	body, err := io.ReadAll(io.LimitReader(r.Body, appservices.MaxNotificationBytes+1))
	if err != nil {
		h.metrics.recordRejected(ctx, "read_error")
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return nil
	}

	result, err := h.intake.Accept(ctx, appservices.IntakeCommand{Headers: r.Header, Body: body})
	if err != nil {
		kind := appservices.ClassifyIntakeError(err)
		h.metrics.recordRejected(ctx, string(kind))
		switch kind {
		case appservices.IntakeErrorBadRequest:
			http.Error(w, "BadRequest", http.StatusBadRequest)
		case appservices.IntakeErrorInvalidSignature:
			http.Error(w, "invalid signature", http.StatusUnauthorized)
		case appservices.IntakeErrorUpstreamUnavailable:
			h.log.ErrorContext(ctx, "failed to enqueue notification", "error", err)
			http.Error(w, "UpstreamUnavailable", http.StatusInternalServerError)
		default:
			return err
		}
		return nil
	}

	h.metrics.recordAccepted(ctx, result.Duplicate)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	return json.NewEncoder(w).Encode(map[string]any{
		"messageId": result.MessageID,
		"duplicate": result.Duplicate,
	})
}
