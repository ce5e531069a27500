// Package storage archives uploaded reports in an S3-compatible object store.
// Implementations stream content and never buffer whole reports on local disk.
package storage

import (
	"context"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ReportPrefix is the key prefix under which uploaded reports are archived.
const ReportPrefix = "reports/"

// PutObjectOptions define optional parameters for uploading objects.
// Size should be the exact number of bytes if known, or -1 when unknown.
type PutObjectOptions struct {
	Size        int64
	ContentType string
	Metadata    map[string]string
}

// ObjectInfo contains basic information about an object in storage.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
	Metadata     map[string]string
}

// Storage is a reusable, S3-compatible object storage client interface.
type Storage interface {
	// Put uploads an object under the given key using the provided reader and options.
	Put(ctx context.Context, key string, r io.Reader, opt PutObjectOptions) (ObjectInfo, error)
	// Get retrieves an object's content as a streaming reader alongside its info.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)
	// Delete removes an object by key.
	Delete(ctx context.Context, key string) error
	// PresignGet returns a time-limited URL that can be used to download the object without credentials.
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// NewReportKey builds a unique archive key keeping the original file extension.
func NewReportKey(originalFilename string) string {
	ext := strings.ToLower(filepath.Ext(originalFilename))
	if ext == "" {
		ext = ".pdf"
	}
	return path.Join(ReportPrefix, uuid.NewString()+ext)
}

// IsReportKey reports whether a stored path is a key made by NewReportKey:
// the prefix followed by a UUID and an extension, with no further directories.
func IsReportKey(p string) bool {
	name, ok := strings.CutPrefix(p, ReportPrefix)
	if !ok || strings.Contains(name, "/") {
		return false
	}
	ext := filepath.Ext(name)
	if ext == "" {
		return false
	}
	_, err := uuid.Parse(strings.TrimSuffix(name, ext))
	return err == nil
}
