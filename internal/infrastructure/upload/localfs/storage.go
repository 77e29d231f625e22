// Package localfs stages operator documents on local disk and describes them as
// domain.UploadedFile values.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kirillkom/patient-deep-search/internal/core/domain"
)

// Storage keeps uploads received over HTTP until their session ends.
type Storage struct {
	basePath string
}

func New(basePath string) (*Storage, error) {
	if basePath == "" {
		basePath = "./data/uploads"
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Storage{basePath: basePath}, nil
}

// Save writes at most one byte past the upload limit, so an oversized body is
// detected without storing all of it.
func (s *Storage) Save(_ context.Context, key string, data io.Reader) (string, error) {
	name := filepath.Base(strings.TrimSpace(key))
	if name == "." || name == string(filepath.Separator) || name == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "save upload", errors.New("empty key"))
	}
	path := filepath.Join(s.basePath, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, io.LimitReader(data, domain.MaxUploadBytes+1)); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

func (s *Storage) Remove(path string) error {
	if filepath.Dir(path) != filepath.Clean(s.basePath) {
		return domain.WrapError(domain.ErrInvalidInput, "remove upload", fmt.Errorf("%s is outside the upload dir", path))
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}
