package routes

import (
	"github.com/labstack/echo/v4"

	boxwebhook "github.com/fr0stylo/docmirror/internal/webhooks/box"
)

// WebhookRoutes registers the notification intake endpoint.
type WebhookRoutes struct {
	box *boxwebhook.Handler
}

// NewWebhookRoutes constructs webhook routes.
func NewWebhookRoutes(intake boxwebhook.Intake) *WebhookRoutes {
	return &WebhookRoutes{
		box: boxwebhook.NewHandler(intake),
	}
}

// RegisterRoutes registers webhook endpoints.
func (w *WebhookRoutes) RegisterRoutes(s *echo.Echo) {
	s.POST("/", w.handleBoxWebhook)
}

func (w *WebhookRoutes) handleBoxWebhook(c echo.Context) error {
	return w.box.Handle(c.Response(), c.Request())
}
