// Package file persists the metrics history as a JSON document on local disk.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"loadwarden/pkg/sampler"

	"github.com/tidwall/pretty"
)

// HistoryFileName is the document written under the metrics directory
const HistoryFileName = "system_metrics.json"

// HistoryStore writes the whole history to {dir}/system_metrics.json.
type HistoryStore struct {
	dir string
}

// NewHistoryStore creates a file-backed history store rooted at dir
func NewHistoryStore(dir string) *HistoryStore {
	return &HistoryStore{dir: dir}
}

// Name implements monitor.HistoryStore
func (s *HistoryStore) Name() string { return "file" }

// Path returns the history document location
func (s *HistoryStore) Path() string {
	return filepath.Join(s.dir, HistoryFileName)
}

// Save overwrites the document. The write goes to a temporary file first so a
// crash never leaves a truncated history behind.
func (s *HistoryStore) Save(ctx context.Context, history []sampler.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if history == nil {
		history = []sampler.Snapshot{}
	}
	data, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, HistoryFileName+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(pretty.Pretty(data)); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write history: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close history file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path()); err != nil {
		return fmt.Errorf("failed to replace history file: %w", err)
	}
	return nil
}

// Load reads the persisted history. A missing document yields an empty history.
func (s *HistoryStore) Load(ctx context.Context) ([]sampler.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	var history []sampler.Snapshot
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history: %w", err)
	}
	return history, nil
}
