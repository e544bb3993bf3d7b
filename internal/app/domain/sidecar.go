package domain

import (
	"encoding/json"
	"time"
)

// Sidecar is the per-document attribute file consumed by the index.
type Sidecar struct {
	DocumentID  string            `json:"DocumentId"`
	Title       string            `json:"Title"`
	ContentType string            `json:"ContentType"`
	Attributes  SidecarAttributes `json:"Attributes"`
}

type SidecarAttributes struct {
	SourceURI     string `json:"_source_uri"`
	CreatedAt     string `json:"_created_at,omitempty"`
	LastUpdatedAt string `json:"_last_updated_at,omitempty"`
}

// NewSidecar describes a mirrored file.
func NewSidecar(item Item) Sidecar {
	return Sidecar{
		DocumentID:  item.ID,
		Title:       item.Name,
		ContentType: DocumentType(item.Name),
		Attributes: SidecarAttributes{
			SourceURI:     SourceURIPrefix + string(item.SourceType) + "/" + item.ID,
			CreatedAt:     formatTime(item.CreatedAt),
			LastUpdatedAt: formatTime(item.ModifiedAt),
		},
	}
}

func (s Sidecar) Encode() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
