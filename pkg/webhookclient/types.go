package webhookclient

import (
	"net/http"
	"time"
)

// Client posts signed Box-style webhook notifications to an intake endpoint.
type Client struct {
	Endpoint     string
	PrimaryKey   string
	SecondaryKey string
	Timeout      time.Duration
	HTTPClient   *http.Client
	Now          func() time.Time
}

// Notification describes one synthetic change notification.
type Notification struct {
	ID         string
	Trigger    string
	SourceID   string
	SourceType string
	SourceName string
	// ItemID and ItemType name the collaborated item for COLLABORATION.* triggers.
	ItemID   string
	ItemType string
}
