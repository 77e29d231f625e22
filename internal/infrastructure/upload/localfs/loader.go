package localfs

import (
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/patient-deep-search/internal/core/domain"
	"github.com/kirillkom/patient-deep-search/internal/core/validation"
)

// Loader describes a file on disk without reading it into memory.
type Loader struct {
	logger *slog.Logger
}

func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load stats path and detects its type. displayName overrides the base name shown
// to the operator; pass "" to use the file name.
func (l *Loader) Load(path, displayName string) (domain.UploadedFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return domain.UploadedFile{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return domain.UploadedFile{}, domain.WrapError(domain.ErrInvalidInput, "load upload", fmt.Errorf("%s is a directory", path))
	}

	name := strings.TrimSpace(displayName)
	if name == "" {
		name = filepath.Base(path)
	}
	file := domain.UploadedFile{
		Filename: name,
		Size:     info.Size(),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}

	// Oversized files are typed by extension only; validation rejects them unread.
	if info.Size() > domain.MaxUploadBytes {
		file.MimeType = validation.NormalizeMIME(mime.TypeByExtension(filepath.Ext(name)))
		return file, nil
	}

	detected, err := mimetype.DetectFile(path)
	if err != nil {
		return domain.UploadedFile{}, fmt.Errorf("detect type of %s: %w", path, err)
	}
	file.MimeType = validation.NormalizeMIME(detected.String())

	if file.MimeType == "application/pdf" {
		pages, err := countPDFPages(path, info.Size())
		if err != nil {
			l.logger.Warn("pdf_page_count_failed", "filename", name, "error", err)
		}
		file.Pages = pages
	}
	return file, nil
}

// countPDFPages reads the page tree. The parser panics on some malformed files, so
// the count is best effort.
func countPDFPages(path string, size int64) (pages int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	defer func() {
		if r := recover(); r != nil {
			pages, err = 0, fmt.Errorf("parse pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(f, size)
	if err != nil {
		return 0, fmt.Errorf("parse pdf: %w", err)
	}
	return reader.NumPage(), nil
}
