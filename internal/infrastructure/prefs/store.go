// Package prefs keeps operator preferences in a small YAML file.
package prefs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/patient-deep-search/internal/core/domain"
	"github.com/kirillkom/patient-deep-search/internal/core/ports"
)

var _ ports.PreferenceStore = (*FileStore)(nil)

type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load returns zero preferences when the file does not exist yet.
func (s *FileStore) Load() (domain.Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var prefs domain.Preferences
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return prefs, nil
	}
	if err != nil {
		return prefs, fmt.Errorf("read preferences: %w", err)
	}
	if err := yaml.Unmarshal(data, &prefs); err != nil {
		return domain.Preferences{}, fmt.Errorf("parse preferences %s: %w", s.path, err)
	}
	return prefs, nil
}

// Save replaces the file atomically.
func (s *FileStore) Save(prefs domain.Preferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := yaml.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create preferences dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".prefs-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp preferences: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write preferences: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close preferences: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace preferences: %w", err)
	}
	return nil
}

// Memory is an in-process store for hosts without a preferences file.
type Memory struct {
	mu    sync.Mutex
	prefs domain.Preferences
}

func (m *Memory) Load() (domain.Preferences, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prefs, nil
}

func (m *Memory) Save(prefs domain.Preferences) error {
	m.mu.Lock()
	m.prefs = prefs
	m.mu.Unlock()
	return nil
}
