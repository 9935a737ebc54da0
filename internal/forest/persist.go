package forest

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
)

// Save serializes the model atomically: write to a temp file in the target
// directory, then rename. A half-written artifact is never observable.
func Save(m *Model, path string) error {
	if m == nil || len(m.Trees) == 0 {
		return ErrNotFitted
	}

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create artifact directory: %w", err)
		}
	}

	tmp, err := os.CreateTemp(dir, ".model-*.gob")
	if err != nil {
		return fmt.Errorf("failed to create temp artifact: %w", err)
	}
	tmpPath := tmp.Name()

	if err := gob.NewEncoder(tmp).Encode(m); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to encode model: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to flush artifact: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move artifact into place: %w", err)
	}
	return nil
}

// Load reads a serialized model. Gob stores float64 values exactly, so the
// loaded model predicts bit-for-bit identically to the saved one.
func Load(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()

	var m Model
	if err := gob.NewDecoder(f).Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode artifact: %w", err)
	}
	if len(m.Trees) == 0 {
		return nil, fmt.Errorf("artifact contains no trees: %w", ErrNotFitted)
	}
	return &m, nil
}
