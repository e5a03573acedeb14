package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ProcessingState seeds the next incremental window. It is written
// atomically after every successful run.
type ProcessingState struct {
	LastProcessedTs      int64 `json:"lastProcessedTs"`
	LastProcessedSeq     uint64 `json:"lastProcessedSeq"`
	TotalEventsProcessed int   `json:"totalEventsProcessed"`
	TotalFindings        int   `json:"totalFindings"`
	UpdatedAt            int64 `json:"updatedAt"`
}

// loadState returns the persisted state, or a zero state when the file
// does not exist yet.
func loadState(path string) (ProcessingState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ProcessingState{}, nil
		}
		return ProcessingState{}, fmt.Errorf("pipeline: read state: %w", err)
	}
	var st ProcessingState
	if err := json.Unmarshal(data, &st); err != nil {
		return ProcessingState{}, fmt.Errorf("pipeline: parse state %s: %w", path, err)
	}
	return st, nil
}

// writeJSONAtomic writes through a temp file and rename so a crash mid
// write never leaves a torn file behind.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("pipeline: marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("pipeline: create dir for %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("pipeline: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("pipeline: rename %s: %w", path, err)
	}
	return nil
}
