package staging

import (
	"bytes"
	"errors"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mediagate/internal/errs"
)

func filePart(t *testing.T, filename, contentType string, payload []byte) (*multipart.Part, func()) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="media"; filename=%q`, filename))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	reader := multipart.NewReader(&buf, writer.Boundary())
	parsed, err := reader.NextPart()
	if err != nil {
		t.Fatalf("next part: %v", err)
	}
	return parsed, func() { parsed.Close() }
}

func TestSaveStagesFileOnDisk(t *testing.T) {
	stager := NewStager(t.TempDir())
	part, done := filePart(t, "photo.jpg", "image/jpeg", []byte("fake image bytes"))
	defer done()

	staged, err := stager.Save(part)
	if err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if staged.OriginalName != "photo.jpg" {
		t.Fatalf("expected original name photo.jpg, got %q", staged.OriginalName)
	}
	if staged.ContentType != "image/jpeg" {
		t.Fatalf("expected content type image/jpeg, got %q", staged.ContentType)
	}
	if staged.Size != int64(len("fake image bytes")) {
		t.Fatalf("unexpected staged size %d", staged.Size)
	}
	payload, err := os.ReadFile(staged.Path)
	if err != nil {
		t.Fatalf("read staged file: %v", err)
	}
	if string(payload) != "fake image bytes" {
		t.Fatalf("staged payload mismatch: %q", payload)
	}
	if err := staged.Release(); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}
}

func TestSaveRejectsDisallowedContentType(t *testing.T) {
	stager := NewStager(t.TempDir())
	part, done := filePart(t, "payload.bin", "application/x-msdownload", []byte("nope"))
	defer done()

	if _, err := stager.Save(part); errs.KindOf(err) != errs.KindFileType {
		t.Fatalf("expected file_type error, got %v", err)
	}

	entries, err := os.ReadDir(stager.stagingDir())
	if err != nil {
		t.Fatalf("read staging dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no staged files after rejection, found %d", len(entries))
	}
}

func TestSaveEnforcesSizeLimit(t *testing.T) {
	stager := NewStager(t.TempDir())
	stager.maxSize = 16

	part, done := filePart(t, "big.txt", "text/plain", bytes.Repeat([]byte("a"), 17))
	defer done()

	_, err := stager.Save(part)
	if errs.KindOf(err) != errs.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	gatewayErr, _ := errs.AsError(err)
	if !strings.Contains(gatewayErr.Message, "file too large") {
		t.Fatalf("unexpected message %q", gatewayErr.Message)
	}

	entries, readErr := os.ReadDir(stager.stagingDir())
	if readErr != nil {
		t.Fatalf("read staging dir: %v", readErr)
	}
	if len(entries) != 0 {
		t.Fatalf("expected partial file removed, found %d entries", len(entries))
	}
}

func TestReleaseRemovesFileExactlyOnce(t *testing.T) {
	stager := NewStager(t.TempDir())
	part, done := filePart(t, "doc.pdf", "application/pdf", []byte("pdf bytes"))
	defer done()

	staged, err := stager.Save(part)
	if err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if err := staged.Release(); err != nil {
		t.Fatalf("first Release failed: %v", err)
	}
	if _, err := os.Stat(staged.Path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected staged file removed, stat err: %v", err)
	}
	if err := staged.Release(); err != nil {
		t.Fatalf("second Release should be a no-op, got: %v", err)
	}
}

func TestContentTypeAllowed(t *testing.T) {
	cases := []struct {
		contentType string
		allowed     bool
	}{
		{"image/png", true},
		{"video/mp4", true},
		{"application/pdf", true},
		{"text/csv", true},
		{"application/json; charset=utf-8", true},
		{"application/x-msdownload", false},
		{"application/octet-stream", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := ContentTypeAllowed(tc.contentType); got != tc.allowed {
			t.Errorf("ContentTypeAllowed(%q) = %v, want %v", tc.contentType, got, tc.allowed)
		}
	}
}

func TestSweepRemovesOnlyStaleStagedFiles(t *testing.T) {
	dir := t.TempDir()
	stager := NewStager(dir)
	_ = stager.stagingDir()

	stale := filepath.Join(dir, "staged-upload-old")
	if err := os.WriteFile(stale, []byte("old"), 0o644); err != nil {
		t.Fatalf("write stale file: %v", err)
	}
	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(stale, past, past); err != nil {
		t.Fatalf("age stale file: %v", err)
	}

	fresh := filepath.Join(dir, "staged-upload-new")
	if err := os.WriteFile(fresh, []byte("new"), 0o644); err != nil {
		t.Fatalf("write fresh file: %v", err)
	}
	unrelated := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(unrelated, []byte("keep"), 0o644); err != nil {
		t.Fatalf("write unrelated file: %v", err)
	}
	if err := os.Chtimes(unrelated, past, past); err != nil {
		t.Fatalf("age unrelated file: %v", err)
	}

	removed, err := stager.Sweep(time.Hour)
	if err != nil {
		t.Fatalf("Sweep returned error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 file removed, got %d", removed)
	}
	if _, err := os.Stat(stale); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("stale staged file should be gone")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh staged file should remain: %v", err)
	}
	if _, err := os.Stat(unrelated); err != nil {
		t.Fatalf("unrelated file should remain: %v", err)
	}
}
