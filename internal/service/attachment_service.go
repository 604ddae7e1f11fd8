package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // register decoder
	"image/jpeg"
	_ "image/png" // register decoder
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/damoang/angple-chat/internal/common"
	"github.com/damoang/angple-chat/internal/domain"
	"github.com/damoang/angple-chat/internal/metrics"
	pkglogger "github.com/damoang/angple-chat/pkg/logger"
	"github.com/damoang/angple-chat/pkg/storage"
)

// Blob is one file handed to the uploader
type Blob struct {
	Filename string
	Size     int64 // declared size; the body is still bounded by the limit
	Body     io.Reader
	Duration *float64 // seconds, client supplied for video
}

// AttachmentService uploads blobs and returns immutable attachment descriptors
type AttachmentService interface {
	Upload(ctx context.Context, blob *Blob) (*domain.Attachment, error)
}

type attachmentService struct {
	backend        storage.Backend
	maxSize        int64
	thumbnailWidth int
}

// NewAttachmentService creates a new AttachmentService
func NewAttachmentService(backend storage.Backend, maxSize int64, thumbnailWidth int) AttachmentService {
	return &attachmentService{
		backend:        backend,
		maxSize:        maxSize,
		thumbnailWidth: thumbnailWidth,
	}
}

// Upload validates and stores blob. Storage failures come back as
// *common.UploadError so they are never confused with send failures.
func (s *attachmentService) Upload(ctx context.Context, blob *Blob) (*domain.Attachment, error) {
	if blob == nil || blob.Body == nil {
		return nil, common.Validationf("no file")
	}
	if blob.Size > s.maxSize {
		return nil, common.Validationf("file too large (max %dMB)", s.maxSize/(1024*1024))
	}

	data, err := io.ReadAll(io.LimitReader(blob.Body, s.maxSize+1))
	if err != nil {
		return nil, &common.UploadError{Filename: blob.Filename, Err: fmt.Errorf("%w: read body: %v", common.ErrTransient, err)}
	}
	if len(data) == 0 {
		return nil, common.Validationf("file is empty")
	}
	if int64(len(data)) > s.maxSize {
		return nil, common.Validationf("file too large (max %dMB)", s.maxSize/(1024*1024))
	}

	// Detect content type from first 512 bytes
	contentType := http.DetectContentType(data[:min(len(data), 512)])
	if isDangerousContentType(contentType) || isExecutable(data) {
		return nil, common.Validationf("potentially dangerous file type detected")
	}

	ext := strings.ToLower(path.Ext(blob.Filename))
	kind := classify(contentType, ext)
	if kind == domain.AttachmentVideo && !strings.HasPrefix(contentType, "video/") {
		contentType = videoContentType(ext)
	}

	key := storage.GenerateKey(string(kind)+"s", blob.Filename)
	result, err := s.backend.Put(ctx, key, bytes.NewReader(data), contentType, int64(len(data)))
	if err != nil {
		metrics.UploadFailures.Inc()
		return nil, &common.UploadError{Filename: blob.Filename, Err: storageError(err)}
	}
	metrics.UploadBytes.WithLabelValues(string(kind)).Observe(float64(len(data)))

	att := &domain.Attachment{
		URL:      result.URL,
		Kind:     kind,
		Filename: path.Base(blob.Filename),
		Size:     int64(len(data)),
		Key:      result.Key,
	}
	if kind == domain.AttachmentVideo {
		att.Duration = blob.Duration
	}
	if kind == domain.AttachmentImage {
		att.Thumbnail = s.thumbnail(ctx, blob.Filename, data)
	}

	pkglogger.GetLogger().Info().
		Str("key", result.Key).
		Str("kind", string(kind)).
		Int64("size", att.Size).
		Str("content_type", contentType).
		Msg("attachment uploaded")
	return att, nil
}

// thumbnail stores a bounded-width JPEG next to the original. Failures only
// cost the thumbnail, never the upload.
func (s *attachmentService) thumbnail(ctx context.Context, filename string, data []byte) string {
	if s.thumbnailWidth <= 0 {
		return ""
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return ""
	}
	img = resizeImage(img, s.thumbnailWidth)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return ""
	}
	base := strings.TrimSuffix(path.Base(filename), path.Ext(filename))
	key := storage.GenerateKey("thumbnails", base+".jpg")
	result, err := s.backend.Put(ctx, key, &buf, "image/jpeg", int64(buf.Len()))
	if err != nil {
		pkglogger.GetLogger().Warn().Err(err).Str("key", key).Msg("thumbnail upload failed")
		return ""
	}
	return result.URL
}

func storageError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return common.FromContext(err)
	}
	return fmt.Errorf("%w: %v", common.ErrUnavailable, err)
}

func classify(contentType, ext string) domain.AttachmentKind {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return domain.AttachmentImage
	case strings.HasPrefix(contentType, "video/"), isVideoExt(ext):
		return domain.AttachmentVideo
	}
	return domain.AttachmentFile
}

func isVideoExt(ext string) bool {
	switch ext {
	case ".mp4", ".webm", ".mov", ".m4v":
		return true
	}
	return false
}

func videoContentType(ext string) string {
	switch ext {
	case ".mov":
		return "video/quicktime"
	case ".m4v":
		return "video/x-m4v"
	}
	return "video/" + strings.TrimPrefix(ext, ".")
}

func isDangerousContentType(ct string) bool {
	dangerous := []string{
		"application/x-executable",
		"application/x-sharedlib",
		"application/x-mach-binary",
		"application/x-dosexec",
	}
	for _, d := range dangerous {
		if strings.HasPrefix(ct, d) {
			return true
		}
	}
	return false
}

// ELF, PE and Mach-O headers
var executableMagic = [][]byte{
	[]byte("\x7fELF"),
	[]byte("MZ"),
	{0xfe, 0xed, 0xfa, 0xce},
	{0xfe, 0xed, 0xfa, 0xcf},
	{0xcf, 0xfa, 0xed, 0xfe},
}

func isExecutable(data []byte) bool {
	for _, magic := range executableMagic {
		if bytes.HasPrefix(data, magic) {
			return true
		}
	}
	return false
}

// resizeImage resizes an image to the given max width, preserving aspect ratio
func resizeImage(img image.Image, maxWidth int) image.Image {
	bounds := img.Bounds()
	origWidth := bounds.Dx()
	origHeight := bounds.Dy()

	if origWidth <= maxWidth {
		return img
	}

	newWidth := maxWidth
	newHeight := origHeight * newWidth / origWidth
	if newHeight < 1 {
		newHeight = 1
	}

	// Simple nearest-neighbor resize (good enough for thumbnails)
	dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	for y := 0; y < newHeight; y++ {
		for x := 0; x < newWidth; x++ {
			srcX := x * origWidth / newWidth
			srcY := y * origHeight / newHeight
			dst.Set(x, y, img.At(bounds.Min.X+srcX, bounds.Min.Y+srcY))
		}
	}

	return dst
}
