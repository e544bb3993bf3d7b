package webhookclient

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type notificationBody struct {
	Type      string     `json:"type"`
	ID        string     `json:"id"`
	CreatedAt string     `json:"created_at,omitempty"`
	Trigger   string     `json:"trigger"`
	Source    sourceBody `json:"source"`
}

type sourceBody struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	Name string    `json:"name,omitempty"`
	Item *itemBody `json:"item,omitempty"`
}

type itemBody struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// BuildBody renders a notification in the Box webhook v2 envelope.
func BuildBody(n Notification, createdAt string) ([]byte, error) {
	trigger := strings.ToUpper(strings.TrimSpace(n.Trigger))
	if trigger == "" {
		return nil, fmt.Errorf("trigger is required")
	}
	if strings.TrimSpace(n.SourceID) == "" {
		return nil, fmt.Errorf("source id is required")
	}

	group, _, _ := strings.Cut(trigger, ".")
	sourceType := strings.ToLower(strings.TrimSpace(n.SourceType))
	if sourceType == "" {
		sourceType = strings.ToLower(group)
	}
	body := notificationBody{
		Type:      "webhook_event",
		ID:        strings.TrimSpace(n.ID),
		CreatedAt: createdAt,
		Trigger:   trigger,
		Source: sourceBody{
			ID:   strings.TrimSpace(n.SourceID),
			Type: sourceType,
			Name: strings.TrimSpace(n.SourceName),
		},
	}
	if body.ID == "" {
		body.ID = uuid.NewString()
	}
	if group == "COLLABORATION" {
		if strings.TrimSpace(n.ItemID) == "" {
			return nil, fmt.Errorf("collaboration notifications need an item id")
		}
		itemType := strings.ToLower(strings.TrimSpace(n.ItemType))
		if itemType == "" {
			itemType = "file"
		}
		body.Source.Item = &itemBody{ID: strings.TrimSpace(n.ItemID), Type: itemType}
	}
	return json.Marshal(body)
}
