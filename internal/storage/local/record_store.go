// Package local implements a local filesystem record store.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/rule-aggregator/internal/ingest"
	"github.com/JakeFAU/rule-aggregator/internal/storage"
)

// Config captures the parameters for the local filesystem record store.
type Config struct {
	// Path is the JSON file holding the collection.
	Path string `mapstructure:"path" yaml:"path"`
}

// RecordStore keeps the collection in a single JSON file.
type RecordStore struct {
	path string
}

// New creates a new file-backed record store, creating the parent directory
// when needed and checking that it is writable.
func New(cfg Config) (*RecordStore, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("path is required")
	}
	dir := filepath.Dir(cfg.Path)

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
				return nil, fmt.Errorf("failed to create directory: %w", mkErr)
			}
		} else {
			return nil, fmt.Errorf("failed to stat directory: %w", err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("parent path is not a directory")
	}

	testFile := filepath.Join(dir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &RecordStore{path: cfg.Path}, nil
}

// Path returns the backing file.
func (s *RecordStore) Path() string {
	return s.path
}

// Save writes the collection to a temp file and renames it over the target,
// so readers see either the previous or the new collection.
func (s *RecordStore) Save(_ context.Context, records []ingest.Record) error {
	data, err := storage.EncodeRecords(records)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	return nil
}

// Load reads the collection from disk.
func (s *RecordStore) Load(_ context.Context) ([]ingest.Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}
	return storage.DecodeRecords(data)
}
