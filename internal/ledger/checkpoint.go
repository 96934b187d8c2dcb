// File: internal/ledger/checkpoint.go
package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Checkpoint records the last successfully processed position. It is
// overwritten after every record and consulted at startup only to suggest a
// resume point; the operator confirms before any work is skipped.
//
// Field names are the historical wire format; last_excel carries whatever
// source identifier the run was started with.
type Checkpoint struct {
	LastSource string  `json:"last_excel"`
	LastRow    int     `json:"last_row"`
	Timestamp  float64 `json:"timestamp"` // unix seconds
}

// SaveCheckpoint atomically overwrites the checkpoint file: write to a temp
// file in the same directory, then rename over the target.
func SaveCheckpoint(path string, cp Checkpoint) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("failed to create checkpoint temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint reads the checkpoint file. A missing file returns a zero
// Checkpoint and no error; there is simply nothing to resume.
func LoadCheckpoint(path string) (Checkpoint, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Checkpoint{}, nil
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return cp, nil
}

// NewCheckpoint builds a checkpoint for the given source and row at now.
func NewCheckpoint(source string, row int, now time.Time) Checkpoint {
	return Checkpoint{
		LastSource: source,
		LastRow:    row,
		Timestamp:  float64(now.UnixNano()) / float64(time.Second),
	}
}
