package s3blob

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/alanyoungcy/xarb/internal/domain"
	"github.com/alanyoungcy/xarb/internal/state"
)

const (
	jsonContentType = "application/json"
	// Crash reports above this size go through the multipart uploader.
	multipartThreshold = 8 * 1024 * 1024
	crashTimeLayout    = "20060102T150405.000000000Z"
)

// CrashArchiver copies crash reports to object storage under
// <prefix><UTC timestamp>.json.
type CrashArchiver struct {
	writer domain.BlobWriter
	prefix string
}

// NewCrashArchiver creates a CrashArchiver. A non-empty prefix without a
// trailing slash gets one.
func NewCrashArchiver(w domain.BlobWriter, prefix string) *CrashArchiver {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &CrashArchiver{writer: w, prefix: prefix}
}

// CrashPath returns the object key of a report written at at.
func (a *CrashArchiver) CrashPath(at time.Time) string {
	return a.prefix + at.UTC().Format(crashTimeLayout) + ".json"
}

// ArchiveCrash uploads data and returns its object key.
func (a *CrashArchiver) ArchiveCrash(ctx context.Context, data []byte, at time.Time) (string, error) {
	path := a.CrashPath(at)
	var err error
	if len(data) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(data), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(data), jsonContentType)
	}
	if err != nil {
		return "", err
	}
	return path, nil
}

var _ state.Archiver = (*CrashArchiver)(nil)
