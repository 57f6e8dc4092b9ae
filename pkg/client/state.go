package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// LocalState is the device's memory of its activation. The server stays
// authoritative; a stale file only causes a failed request.
type LocalState struct {
	LicenseID string `json:"reg_no"`
	Activated bool   `json:"activated"`
}

// LoadState reads path; a missing file yields an empty state.
func LoadState(path string) (LocalState, error) {
	var st LocalState
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("read state: %w", err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return LocalState{}, fmt.Errorf("parse state %s: %w", path, err)
	}
	return st, nil
}

// SaveState writes st atomically.
func SaveState(path string, st LocalState) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return os.Rename(tmp, path)
}
