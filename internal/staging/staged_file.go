// Package staging owns the on-disk representation of an uploaded file for the
// lifetime of one request. A staged file is an exclusively-owned resource:
// Release deletes the backing file exactly once, and callers defer it at
// acquisition so every exit path cleans up.
package staging

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"mediagate/internal/errs"
)

// MaxFileSize is the authoritative payload limit enforced at staging and
// reported to callers.
const MaxFileSize = 50 << 20

var allowedContentTypes = []string{
	"image/",
	"video/",
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/vnd.ms-powerpoint",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"text/plain",
	"text/csv",
	"application/rtf",
	"application/zip",
	"application/x-rar-compressed",
	"application/x-7z-compressed",
	"application/json",
	"application/xml",
	"text/xml",
}

const supportedTypesMessage = "file type not supported. Supported types: images, videos, PDF, Word documents, Excel files, PowerPoint presentations, text files, CSV, RTF, ZIP, RAR, 7Z, JSON, XML"

// StagedFile is a readable handle plus metadata for uploaded bytes that exist
// on the filesystem until Release is called.
type StagedFile struct {
	Path         string
	OriginalName string
	Size         int64
	ContentType  string

	releaseOnce sync.Once
	releaseErr  error
}

// Open returns a fresh read handle on the staged bytes.
func (f *StagedFile) Open() (*os.File, error) {
	return os.Open(f.Path)
}

// Release deletes the staged file. It is safe to call multiple times; only
// the first call removes the file.
func (f *StagedFile) Release() error {
	if f == nil {
		return nil
	}
	f.releaseOnce.Do(func() {
		if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			f.releaseErr = err
		}
	})
	return f.releaseErr
}

// Stager saves multipart file parts into a staging directory.
type Stager struct {
	dir     string
	dirOnce sync.Once
	maxSize int64
}

// NewStager constructs a Stager rooted at dir, falling back to the system
// temp directory when dir is empty or cannot be created.
func NewStager(dir string) *Stager {
	return &Stager{dir: strings.TrimSpace(dir), maxSize: MaxFileSize}
}

func (s *Stager) stagingDir() string {
	s.dirOnce.Do(func() {
		dir := s.dir
		if dir == "" {
			dir = filepath.Join(os.TempDir(), "mediagate-uploads")
		}
		dir = filepath.Clean(dir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			dir = filepath.Join(os.TempDir(), "mediagate-uploads")
			_ = os.MkdirAll(dir, 0o755)
		}
		s.dir = dir
	})
	return s.dir
}

// Save copies a multipart file part to a temp file in the staging directory,
// enforcing the content-type allowlist and the size limit during the copy.
// On any failure the partial file is removed before returning.
func (s *Stager) Save(part *multipart.Part) (*StagedFile, error) {
	defer part.Close()

	contentType := strings.TrimSpace(part.Header.Get("Content-Type"))
	if !ContentTypeAllowed(contentType) {
		return nil, errs.FileType(supportedTypesMessage)
	}

	tmp, err := os.CreateTemp(s.stagingDir(), "staged-upload-*")
	if err != nil {
		return nil, fmt.Errorf("create staged file: %w", err)
	}
	defer tmp.Close()

	// Copy one byte past the limit so an oversized payload is detectable
	// without buffering it in full.
	written, err := io.Copy(tmp, io.LimitReader(part, s.maxSize+1))
	if err != nil {
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("stage upload: %w", err)
	}
	if written > s.maxSize {
		_ = os.Remove(tmp.Name())
		return nil, errs.Validation(
			fmt.Sprintf("file too large: the maximum upload size is %d MB", s.maxSize>>20),
			[]errs.Violation{{Field: "media", Message: fmt.Sprintf("file exceeds %d MB", s.maxSize>>20)}},
		)
	}

	return &StagedFile{
		Path:         tmp.Name(),
		OriginalName: part.FileName(),
		Size:         written,
		ContentType:  contentType,
	}, nil
}

// Dir reports the resolved staging directory, creating it on first use.
func (s *Stager) Dir() string {
	return s.stagingDir()
}

// Sweep removes staged files older than maxAge. Requests release their own
// files; the sweep only catches leftovers from crashed processes.
func (s *Stager) Sweep(maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	entries, err := os.ReadDir(s.stagingDir())
	if err != nil {
		return 0, fmt.Errorf("read staging dir: %w", err)
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "staged-upload-") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

// ContentTypeAllowed reports whether the declared content type belongs to an
// accepted media family.
func ContentTypeAllowed(contentType string) bool {
	if contentType == "" {
		return false
	}
	normalized := strings.ToLower(contentType)
	if semicolon := strings.Index(normalized, ";"); semicolon >= 0 {
		normalized = strings.TrimSpace(normalized[:semicolon])
	}
	for _, allowed := range allowedContentTypes {
		if strings.HasSuffix(allowed, "/") {
			if strings.HasPrefix(normalized, allowed) {
				return true
			}
			continue
		}
		if normalized == allowed {
			return true
		}
	}
	return false
}
