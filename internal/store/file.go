// File: internal/store/file.go
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/cadence/internal/orchestrator"
	"github.com/xkilldash9x/cadence/internal/throttle"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FileStore keeps the quota state in a JSON file. Session summaries are not
// kept.
type FileStore struct {
	Path string
}

var _ Repository = (*FileStore)(nil)

// NewFileStore returns a FileStore writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// LoadState implements Repository. A missing file means no history.
func (f *FileStore) LoadState(context.Context) (throttle.State, bool, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return throttle.State{}, false, nil
	}
	if err != nil {
		return throttle.State{}, false, fmt.Errorf("read quota state: %w", err)
	}
	var st throttle.State
	if err := json.Unmarshal(data, &st); err != nil {
		return throttle.State{}, false, fmt.Errorf("decode quota state %s: %w", f.Path, err)
	}
	return st, true, nil
}

// SaveSession implements Repository. The file is replaced atomically.
func (f *FileStore) SaveSession(_ context.Context, summary orchestrator.Summary) error {
	data, err := json.MarshalIndent(summary.State, "", "  ")
	if err != nil {
		return fmt.Errorf("encode quota state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write quota state: %w", err)
	}
	return os.Rename(tmp, f.Path)
}
