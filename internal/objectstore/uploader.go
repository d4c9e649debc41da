// Package objectstore uploads attachment blobs under
// collision-resistant keys and returns public retrieval URLs. Two
// backends exist: the store's own REST object API and any
// S3-compatible service.
package objectstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/viewchat/internal/message"
)

// DefaultUploadTimeout bounds a single upload.
const DefaultUploadTimeout = 30 * time.Second

// Uploader stores one blob and returns its descriptor. On failure the
// returned descriptor still carries name, content type, and key so the
// message can be persisted without a URL; the error explains why.
type Uploader interface {
	Upload(ctx context.Context, data []byte, originalName, contentType string) (*message.AttachmentDescriptor, error)
}

// UploadError reports a failed upload with the underlying status or
// transport failure.
type UploadError struct {
	Key        string
	StatusCode int
	Message    string
	Err        error
}

func (e *UploadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upload of %s failed: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("upload of %s failed: status %d: %s", e.Key, e.StatusCode, e.Message)
}

func (e *UploadError) Unwrap() error { return e.Err }

// GenerateKey builds a storage key from a nanosecond timestamp, a
// short random suffix, and the sanitized original name. The timestamp
// alone makes collisions practically impossible for sequential
// uploads; the random suffix covers concurrent submissions that land
// on the same nanosecond.
func GenerateKey(originalName string) string {
	suffix := uuid.New().String()[:8]
	name := sanitizeName(originalName)
	if name == "" {
		name = "attachment"
	}
	return fmt.Sprintf("%d-%s-%s", time.Now().UTC().UnixNano(), suffix, name)
}

// sanitizeName keeps only characters safe in an object key path
// component: alphanumerics, dots, hyphens, and underscores.
func sanitizeName(s string) string {
	var out strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
			r == '.' || r == '-' || r == '_' {
			out.WriteRune(r)
		}
	}
	return strings.Trim(out.String(), ".")
}
