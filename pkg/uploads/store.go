package uploads

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// URLPrefix is the static-serving path under which stored attachments are
// retrievable.
const URLPrefix = "/uploads/"

// ErrNotAnImage is returned when an attachment's extension or declared
// content type is outside the image allow-list.
var ErrNotAnImage = errors.New("attachment is not an allowed image type")

// allowedExtensions is the fixed image allow-list.
var allowedExtensions = map[string]struct{}{
	".jpeg": {},
	".jpg":  {},
	".png":  {},
	".gif":  {},
}

// Attachment describes a stored upload. The store never deletes attachments;
// retention is an external concern.
type Attachment struct {
	// Filename is the generated, collision-free name on disk.
	Filename string
	// URL is the path clients use to retrieve the bytes.
	URL string
	// Size is the number of bytes written.
	Size int64
}

// Store persists uploaded attachments to a local directory under generated,
// collision-free names.
type Store struct {
	dir string
}

// NewStore creates the upload directory if needed and returns a Store rooted there.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the directory attachments are written to.
func (s *Store) Dir() string {
	return s.dir
}

// Save writes the reader's bytes under a generated name that keeps only the
// original file's extension. The name combines a nanosecond timestamp with a
// random suffix so two rapid uploads of identically named files never collide.
func (s *Store) Save(r io.Reader, originalName string) (Attachment, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	name := fmt.Sprintf("%d_%s%s", time.Now().UnixNano(), uuid.NewString()[:8], ext)
	destPath := filepath.Join(s.dir, name)

	dst, err := os.Create(destPath)
	if err != nil {
		return Attachment{}, fmt.Errorf("failed to create attachment file: %w", err)
	}
	defer dst.Close()

	n, err := io.Copy(dst, r)
	if err != nil {
		_ = os.Remove(destPath)
		return Attachment{}, fmt.Errorf("failed to write attachment: %w", err)
	}

	return Attachment{
		Filename: name,
		URL:      URLPrefix + name,
		Size:     n,
	}, nil
}

// ValidateImage checks both the filename extension and the declared content
// type against the image allow-list. Both checks must pass; the ingress calls
// this before anything is persisted or published.
func ValidateImage(filename, contentType string) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := allowedExtensions[ext]; !ok {
		return fmt.Errorf("%w: extension %q", ErrNotAnImage, ext)
	}
	if !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		return fmt.Errorf("%w: content type %q", ErrNotAnImage, contentType)
	}
	return nil
}
