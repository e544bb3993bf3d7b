package mirror

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/fr0stylo/docmirror/internal/app/ports"
)

// S3Options carries the endpoint settings for s3:// mirrors.
type S3Options struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	UseSSL          bool
}

// Open builds a mirror store from a location URL:
//
//	s3://bucket[/prefix]   object storage via the S3 API
//	file://dir             local directory
//	memory://              process-local, for tests and dry runs
func Open(location string, s3 S3Options) (ports.MirrorStore, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, fmt.Errorf("mirror location is required")
	}
	parsed, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("parse mirror location: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "s3":
		if parsed.Host == "" {
			return nil, fmt.Errorf("mirror location %q has no bucket", location)
		}
		return NewS3Store(parsed.Host, strings.Trim(parsed.Path, "/"), s3)
	case "", "file":
		dir := parsed.Path
		if parsed.Host != "" {
			dir = filepath.Join(parsed.Host, parsed.Path)
		}
		if strings.TrimSpace(dir) == "" {
			return nil, fmt.Errorf("mirror location %q has no directory", location)
		}
		return NewFileStore(dir)
	case "memory", "mem":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported mirror scheme: %s", parsed.Scheme)
	}
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}
