package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Trigger groups carried by change notifications.
const (
	GroupFile          = "FILE"
	GroupFolder        = "FOLDER"
	GroupCollaboration = "COLLABORATION"
)

var (
	// ErrMalformedNotification indicates a payload without a usable trigger or target.
	ErrMalformedNotification = errors.New("malformed notification")
	// ErrUnsupportedTrigger indicates a trigger group the mirror does not track.
	ErrUnsupportedTrigger = errors.New("unsupported trigger")
)

// Notification is the subset of a webhook delivery the worker acts on.
type Notification struct {
	ID      string             `json:"id"`
	Trigger string             `json:"trigger"`
	Source  NotificationSource `json:"source"`
}

type NotificationSource struct {
	ID   string           `json:"id"`
	Type string           `json:"type"`
	Name string           `json:"name"`
	Item *NotificationRef `json:"item"`
}

type NotificationRef struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Name string `json:"name"`
}

// ParseNotification decodes a raw webhook body.
func ParseNotification(body []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	n.Trigger = strings.ToUpper(strings.TrimSpace(n.Trigger))
	if n.Trigger == "" {
		return Notification{}, fmt.Errorf("%w: missing trigger", ErrMalformedNotification)
	}
	return n, nil
}

// Group returns the trigger group, e.g. FILE for FILE.UPLOADED.
func (n Notification) Group() string {
	group, _, _ := strings.Cut(n.Trigger, ".")
	return group
}

// Target resolves the item a notification is about. Collaboration events
// point at the item the grant is attached to.
func (n Notification) Target() (ItemRef, error) {
	var id, rawType string
	switch n.Group() {
	case GroupFile, GroupFolder:
		id, rawType = n.Source.ID, n.Source.Type
	case GroupCollaboration:
		if n.Source.Item == nil {
			return ItemRef{}, fmt.Errorf("%w: collaboration without item", ErrMalformedNotification)
		}
		id, rawType = n.Source.Item.ID, n.Source.Item.Type
	default:
		return ItemRef{}, fmt.Errorf("%w: %s", ErrUnsupportedTrigger, n.Trigger)
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return ItemRef{}, fmt.Errorf("%w: missing source id", ErrMalformedNotification)
	}
	sourceType, ok := ParseSourceType(rawType)
	if !ok {
		switch n.Group() {
		case GroupFile:
			sourceType = SourceFile
		case GroupFolder:
			sourceType = SourceFolder
		default:
			return ItemRef{}, fmt.Errorf("%w: unknown item type %q", ErrMalformedNotification, rawType)
		}
	}
	return ItemRef{ID: id, Type: sourceType}, nil
}

// PeekGroupKey derives a per-item grouping key from a raw body, or "" when
// the body does not name a target.
func PeekGroupKey(body []byte) string {
	n, err := ParseNotification(body)
	if err != nil {
		return ""
	}
	ref, err := n.Target()
	if err != nil {
		return ""
	}
	return "item:" + ref.ID
}
