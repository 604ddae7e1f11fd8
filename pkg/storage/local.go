package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalBackend writes blobs under a directory, for development setups
// without an object store. Files are served by the API under baseURL.
type LocalBackend struct {
	dir     string
	baseURL string
}

// NewLocalBackend creates the root directory if needed
func NewLocalBackend(dir, baseURL string) (*LocalBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("local storage: %w", err)
	}
	return &LocalBackend{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Dir returns the root directory
func (b *LocalBackend) Dir() string {
	return b.dir
}

func (b *LocalBackend) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if strings.Contains(key, "..") {
		return "", fmt.Errorf("local storage: invalid key %q", key)
	}
	return filepath.Join(b.dir, filepath.FromSlash(clean)), nil
}

// Put writes the blob atomically (temp file + rename)
func (b *LocalBackend) Put(ctx context.Context, key string, body io.Reader, contentType string, size int64) (*UploadResult, error) {
	target, err := b.path(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, fmt.Errorf("local storage: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("local storage: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	written, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: body})
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, fmt.Errorf("local storage write: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return nil, fmt.Errorf("local storage: %w", err)
	}

	return &UploadResult{
		Key:         key,
		URL:         b.baseURL + "/" + key,
		ContentType: contentType,
		Size:        written,
	}, nil
}

// Delete removes a stored blob; a missing file is not an error
func (b *LocalBackend) Delete(_ context.Context, key string) error {
	target, err := b.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("local storage delete: %w", err)
	}
	return nil
}

// ctxReader stops a copy once the context is done
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
