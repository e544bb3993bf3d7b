package ports

import (
	"context"
	"errors"
	"io"

	"github.com/fr0stylo/docmirror/internal/app/domain"
)

// ErrSourceItemGone indicates the item no longer exists on the source platform.
var ErrSourceItemGone = errors.New("source item gone")

// FolderPage is one offset page of a folder listing.
type FolderPage struct {
	Items      []domain.SourceItem
	TotalCount int
	Offset     int
}

// Source reads authoritative state from the content platform.
type Source interface {
	GetItem(ctx context.Context, ref domain.ItemRef) (domain.SourceItem, error)
	ListCollaborations(ctx context.Context, ref domain.ItemRef) ([]domain.SourceCollaboration, error)
	ListFolderItems(ctx context.Context, folderID string, offset, limit int) (FolderPage, error)
	Download(ctx context.Context, fileID string) (io.ReadCloser, int64, error)
}
