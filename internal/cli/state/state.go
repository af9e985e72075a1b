package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// State is what the CLI remembers between sessions.
type State struct {
	AccessToken string `json:"access_token,omitempty"`
	// Language is used when a submit or run omits one.
	Language string `json:"language,omitempty"`
}

// Load returns the zero State when path does not exist or is empty.
func Load(path string) (State, error) {
	var st State
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && len(data) == 0) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("read cli state failed: %w", err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("parse cli state %s failed: %w", path, err)
	}
	return st, nil
}

// Save writes st through a temp file and rename, so a crash never leaves a torn state file.
// The file is private to the user since it holds the access token.
func Save(path string, st State) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create cli state dir failed: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cli state failed: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*")
	if err != nil {
		return fmt.Errorf("create cli state temp file failed: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write cli state failed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write cli state failed: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace cli state failed: %w", err)
	}
	return nil
}
