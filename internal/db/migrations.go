package db

import (
	"bytes"
	"io/fs"
	"path"
	"strings"

	"github.com/fr0stylo/docmirror/internal/db/queries"
)

// tableNameFS serves migration files with {{items}} and {{collaborations}} replaced
// by the configured table names.
type tableNameFS struct {
	inner    fs.FS
	replacer *strings.Replacer
}

func newTableNameFS(inner fs.FS, tables queries.Tables) fs.FS {
	return &tableNameFS{
		inner: inner,
		replacer: strings.NewReplacer(
			"{{items}}", tables.Items,
			"{{collaborations}}", tables.Collaborations,
		),
	}
}

func (f *tableNameFS) Open(name string) (fs.File, error) {
	if path.Ext(name) != ".sql" {
		return f.inner.Open(name)
	}
	raw, err := fs.ReadFile(f.inner, name)
	if err != nil {
		return nil, err
	}
	info, err := fs.Stat(f.inner, name)
	if err != nil {
		return nil, err
	}
	rendered := []byte(f.replacer.Replace(string(raw)))
	return &renderedFile{
		Reader: bytes.NewReader(rendered),
		info:   renderedInfo{FileInfo: info, size: int64(len(rendered))},
	}, nil
}

func (f *tableNameFS) ReadDir(name string) ([]fs.DirEntry, error) {
	return fs.ReadDir(f.inner, name)
}

type renderedFile struct {
	*bytes.Reader
	info renderedInfo
}

func (r *renderedFile) Stat() (fs.FileInfo, error) { return r.info, nil }
func (r *renderedFile) Close() error               { return nil }

type renderedInfo struct {
	fs.FileInfo
	size int64
}

func (i renderedInfo) Size() int64 { return i.size }
