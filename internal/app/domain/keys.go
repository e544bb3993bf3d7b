package domain

import (
	"path"
	"strings"
)

const (
	// MirrorKeyPrefix roots every mirrored document.
	MirrorKeyPrefix = "docs/"
	// ManifestKey is the access-control manifest object.
	ManifestKey = "acl.json"
	// SidecarSuffix is appended to a document key for its attribute file.
	SidecarSuffix = ".metadata.json"
	// SourceURIPrefix is the web location of source items.
	SourceURIPrefix = "https://app.box.com/"
)

var supportedExtensions = map[string]struct{}{
	"PDF": {}, "HTML": {}, "XML": {}, "XSLT": {}, "MD": {}, "CSV": {}, "XLS": {}, "XLSX": {},
	"JSON": {}, "RTF": {}, "PPT": {}, "PPTX": {}, "DOC": {}, "DOCX": {}, "TXT": {},
}

// MirrorKey derives the stable mirror location of an item from its ancestor folders.
// Folder keys end with "/" so they act as prefixes for their contents.
func MirrorKey(item SourceItem) string {
	var b strings.Builder
	b.WriteString(MirrorKeyPrefix)
	for _, id := range item.PathIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		b.WriteString(id)
		b.WriteByte('/')
	}
	b.WriteString(item.ID)
	if item.Type == SourceFolder {
		b.WriteByte('/')
	}
	return b.String()
}

// SidecarKey returns the attribute file key for a document key.
func SidecarKey(mirrorKey string) string {
	return mirrorKey + SidecarSuffix
}

// Extension returns the upper-cased extension of a file name, or "".
func Extension(name string) string {
	ext := path.Ext(strings.TrimSpace(name))
	if ext == "" || ext == "." {
		return ""
	}
	return strings.ToUpper(strings.TrimPrefix(ext, "."))
}

// SupportedFile reports whether the index can ingest a file with this name.
func SupportedFile(name string) bool {
	_, ok := supportedExtensions[Extension(name)]
	return ok
}

// DocumentType maps a file name to the index document type; unknown types are plain text.
func DocumentType(name string) string {
	ext := Extension(name)
	if _, ok := supportedExtensions[ext]; ok {
		return ext
	}
	return "TXT"
}

// MIMEType returns the stored content type for a file name.
func MIMEType(name string) string {
	switch DocumentType(name) {
	case "PDF":
		return "application/pdf"
	case "HTML":
		return "text/html"
	case "XML", "XSLT":
		return "application/xml"
	case "MD":
		return "text/markdown"
	case "CSV":
		return "text/csv"
	case "JSON":
		return "application/json"
	case "RTF":
		return "application/rtf"
	case "XLS":
		return "application/vnd.ms-excel"
	case "XLSX":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "PPT":
		return "application/vnd.ms-powerpoint"
	case "PPTX":
		return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	case "DOC":
		return "application/msword"
	case "DOCX":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return "text/plain"
	}
}
