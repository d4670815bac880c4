package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/eliteGoblin/focusd/kvmtray/internal/domain"
)

// StatusFile publishes the daemon's Status for the CLI and panel widgets.
type StatusFile struct {
	path string
}

// NewStatusFile creates a status file at path.
func NewStatusFile(path string) *StatusFile {
	return &StatusFile{path: path}
}

// Path returns the status file path.
func (s *StatusFile) Path() string {
	return s.path
}

// Write replaces the status file atomically.
func (s *StatusFile) Write(status domain.Status) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create status directory: %w", err)
	}
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.path, append(data, '\n'))
}

// Read loads the last published status.
func (s *StatusFile) Read() (domain.Status, error) {
	var status domain.Status
	data, err := os.ReadFile(s.path)
	if err != nil {
		return status, err
	}
	if err := json.Unmarshal(data, &status); err != nil {
		return status, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return status, nil
}

// Remove deletes the status file on shutdown.
func (s *StatusFile) Remove() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
