package localfs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kirillkom/patient-deep-search/internal/core/domain"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoaderSniffsContentNotExtension(t *testing.T) {
	path := writeFile(t, t.TempDir(), "scan.pdf", pngHeader)

	file, err := NewLoader(nil).Load(path, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if file.MimeType != "image/png" || file.Filename != "scan.pdf" || file.Size != int64(len(pngHeader)) {
		t.Fatalf("unexpected file: %+v", file)
	}

	rc, err := file.Open()
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if !bytes.Equal(got, pngHeader) {
		t.Fatalf("unexpected content %q", got)
	}
}

func TestLoaderPlainTextIsNormalized(t *testing.T) {
	path := writeFile(t, t.TempDir(), "notes.txt", []byte("patient notes"))

	file, err := NewLoader(nil).Load(path, "Notes.txt")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if file.MimeType != "text/plain" || file.Filename != "Notes.txt" {
		t.Fatalf("unexpected file: %+v", file)
	}
}

func TestLoaderBrokenPDFKeepsZeroPages(t *testing.T) {
	path := writeFile(t, t.TempDir(), "report.pdf", []byte("%PDF-1.4\n%broken\n"))

	file, err := NewLoader(nil).Load(path, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if file.MimeType != "application/pdf" || file.Pages != 0 {
		t.Fatalf("unexpected file: %+v", file)
	}
}

func TestLoaderOversizedFileIsTypedByExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "huge.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.Truncate(domain.MaxUploadBytes + 1); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	_ = f.Close()

	file, err := NewLoader(nil).Load(path, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if file.Size != domain.MaxUploadBytes+1 || file.MimeType != "image/png" {
		t.Fatalf("unexpected file: %+v", file)
	}
}

func TestLoaderMissingAndDirectory(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader(nil)
	if _, err := loader.Load(filepath.Join(dir, "missing.pdf"), ""); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not exist, got %v", err)
	}
	if _, err := loader.Load(dir, ""); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for a directory, got %v", err)
	}
}

func TestStorageSaveCapsAtLimitAndRemoves(t *testing.T) {
	storage, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	path, err := storage.Save(context.Background(), "../escape.png", bytes.NewReader(pngHeader))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if filepath.Base(path) != "escape.png" || !strings.HasPrefix(path, storage.basePath) {
		t.Fatalf("unexpected staged path %q", path)
	}

	big := io.LimitReader(zeroReader{}, domain.MaxUploadBytes+100)
	bigPath, err := storage.Save(context.Background(), "big.png", big)
	if err != nil {
		t.Fatalf("Save(big) error = %v", err)
	}
	info, _ := os.Stat(bigPath)
	if info.Size() != domain.MaxUploadBytes+1 {
		t.Fatalf("expected capped size, got %d", info.Size())
	}

	if err := storage.Remove(path); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := storage.Remove(path); err != nil {
		t.Fatalf("second Remove() error = %v", err)
	}
	if err := storage.Remove("/etc/passwd"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input outside the dir, got %v", err)
	}
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}
