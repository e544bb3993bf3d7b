package domain

import (
	"strings"
	"time"
)

// SourceType classifies an item on the source platform.
type SourceType string

const (
	SourceFile   SourceType = "file"
	SourceFolder SourceType = "folder"
)

// ParseSourceType normalizes a platform type string.
func ParseSourceType(raw string) (SourceType, bool) {
	switch SourceType(strings.ToLower(strings.TrimSpace(raw))) {
	case SourceFile:
		return SourceFile, true
	case SourceFolder:
		return SourceFolder, true
	default:
		return "", false
	}
}

// ItemRef identifies one item on the source platform.
type ItemRef struct {
	ID   string
	Type SourceType
}

// Item is the persisted mirror state of one source item.
type Item struct {
	ID           string
	SourceType   SourceType
	MirrorKey    string
	Name         string
	ParentID     string
	OwnerName    string
	OwnerType    string
	ContentHash  string
	CreatedAt    time.Time
	ModifiedAt   time.Time
	TombstonedAt time.Time
	SyncedAt     time.Time
}

// Tombstoned reports whether the item was removed from the mirror.
func (i Item) Tombstoned() bool {
	return !i.TombstonedAt.IsZero()
}

func (i Item) Ref() ItemRef {
	return ItemRef{ID: i.ID, Type: i.SourceType}
}

// Collaboration is one accepted access grant on an item.
type Collaboration struct {
	ItemID          string
	CollaborationID string
	AccessibleType  string
	AccessibleName  string
	Role            string
	Status          string
}

// Principal is a user or group as reported by the source platform.
type Principal struct {
	Type  string
	ID    string
	Name  string
	Login string
}

// DisplayName resolves the ACL name for a principal: users by login with spaces
// replaced by "+", everything else by name.
func (p Principal) DisplayName() string {
	if strings.EqualFold(p.Type, "user") && p.Login != "" {
		return strings.ReplaceAll(p.Login, " ", "+")
	}
	return p.Name
}

// SourceItem is the current state of an item fetched from the source platform.
type SourceItem struct {
	ID         string
	Type       SourceType
	Name       string
	ParentID   string
	PathIDs    []string
	Owner      Principal
	SHA1       string
	Status     string
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// Active reports whether the item is live (not trashed or deleted).
func (s SourceItem) Active() bool {
	return s.Status == "" || strings.EqualFold(s.Status, "active")
}

func (s SourceItem) Ref() ItemRef {
	return ItemRef{ID: s.ID, Type: s.Type}
}

// SourceCollaboration is a grant as reported by the source platform.
type SourceCollaboration struct {
	ID           string
	ItemID       string
	AccessibleBy Principal
	Role         string
	Status       string
}

// Accepted reports whether the grant is in effect.
func (c SourceCollaboration) Accepted() bool {
	return strings.EqualFold(c.Status, "accepted")
}

// CollaborationsFor keeps accepted grants made directly on itemID.
func CollaborationsFor(itemID string, grants []SourceCollaboration) []Collaboration {
	out := make([]Collaboration, 0, len(grants))
	seen := make(map[string]struct{}, len(grants))
	for _, grant := range grants {
		if !grant.Accepted() {
			continue
		}
		if grant.ItemID != "" && grant.ItemID != itemID {
			continue
		}
		if _, dup := seen[grant.ID]; dup || grant.ID == "" {
			continue
		}
		seen[grant.ID] = struct{}{}
		out = append(out, Collaboration{
			ItemID:          itemID,
			CollaborationID: grant.ID,
			AccessibleType:  strings.ToLower(grant.AccessibleBy.Type),
			AccessibleName:  grant.AccessibleBy.DisplayName(),
			Role:            grant.Role,
			Status:          strings.ToLower(grant.Status),
		})
	}
	return out
}
