package box

import (
	"time"

	"github.com/fr0stylo/docmirror/internal/app/domain"
)

type miniItem struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Name string `json:"name"`
}

type principalPayload struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Name  string `json:"name"`
	Login string `json:"login"`
}

func (p principalPayload) toPrincipal() domain.Principal {
	return domain.Principal{Type: p.Type, ID: p.ID, Name: p.Name, Login: p.Login}
}

type itemPayload struct {
	ID             string           `json:"id"`
	Type           string           `json:"type"`
	Name           string           `json:"name"`
	SHA1           string           `json:"sha1"`
	ItemStatus     string           `json:"item_status"`
	CreatedAt      string           `json:"created_at"`
	ModifiedAt     string           `json:"modified_at"`
	Parent         *miniItem        `json:"parent"`
	OwnedBy        principalPayload `json:"owned_by"`
	PathCollection struct {
		TotalCount int        `json:"total_count"`
		Entries    []miniItem `json:"entries"`
	} `json:"path_collection"`
}

func (p itemPayload) toSourceItem() domain.SourceItem {
	item := domain.SourceItem{
		ID:         p.ID,
		Name:       p.Name,
		SHA1:       p.SHA1,
		Status:     p.ItemStatus,
		Owner:      p.OwnedBy.toPrincipal(),
		CreatedAt:  parseTime(p.CreatedAt),
		ModifiedAt: parseTime(p.ModifiedAt),
	}
	if sourceType, ok := domain.ParseSourceType(p.Type); ok {
		item.Type = sourceType
	}
	if p.Parent != nil {
		item.ParentID = p.Parent.ID
	}
	item.PathIDs = make([]string, 0, len(p.PathCollection.Entries))
	for _, entry := range p.PathCollection.Entries {
		item.PathIDs = append(item.PathIDs, entry.ID)
	}
	return item
}

type folderItemsPage struct {
	TotalCount int           `json:"total_count"`
	Offset     int           `json:"offset"`
	Limit      int           `json:"limit"`
	Entries    []itemPayload `json:"entries"`
}

type collaborationPayload struct {
	ID           string           `json:"id"`
	Role         string           `json:"role"`
	Status       string           `json:"status"`
	Item         *miniItem        `json:"item"`
	AccessibleBy principalPayload `json:"accessible_by"`
}

func (p collaborationPayload) toSourceCollaboration() domain.SourceCollaboration {
	out := domain.SourceCollaboration{
		ID:           p.ID,
		Role:         p.Role,
		Status:       p.Status,
		AccessibleBy: p.AccessibleBy.toPrincipal(),
	}
	if p.Item != nil {
		out.ItemID = p.Item.ID
	}
	return out
}

type collaborationPage struct {
	Entries    []collaborationPayload `json:"entries"`
	NextMarker string                 `json:"next_marker"`
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return parsed.UTC()
}
