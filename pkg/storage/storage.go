package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"
)

// Backend stores a blob at key and returns its durable URL
type Backend interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string, size int64) (*UploadResult, error)
	Delete(ctx context.Context, key string) error
}

// UploadResult contains the result of a file upload
type UploadResult struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

var unsafeKeyChars = regexp.MustCompile(`[^\p{L}\p{N}_-]+`)

// GenerateKey creates a unique storage key with a date prefix
func GenerateKey(prefix, filename string) string {
	return generateKeyAt(time.Now(), prefix, filename)
}

func generateKeyAt(now time.Time, prefix, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	base := strings.TrimSuffix(path.Base(filename), path.Ext(filename))
	base = unsafeKeyChars.ReplaceAllString(base, "_")
	if base == "" || base == "_" {
		base = "file"
	}
	if len(base) > 64 {
		base = base[:64]
	}
	return fmt.Sprintf("%s/%d/%02d/%02d/%s_%d%s",
		prefix, now.Year(), now.Month(), now.Day(),
		base, now.UnixMilli(), ext)
}
