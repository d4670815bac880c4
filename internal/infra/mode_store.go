package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/eliteGoblin/focusd/kvmtray/internal/domain"
)

// FileModeStore implements domain.ModeStore using a JSON file.
// Every Save is a full atomic rewrite, so a crash right after a setter
// returns never loses the change.
type FileModeStore struct {
	path string
}

// NewFileModeStore creates a store backed by path.
func NewFileModeStore(path string) *FileModeStore {
	return &FileModeStore{path: path}
}

// Path returns the settings file path.
func (s *FileModeStore) Path() string {
	return s.path
}

// Load reads the Mode. Missing or corrupt files yield the defaults plus an
// error wrapping domain.ErrConfigLoad; callers are expected to carry on.
func (s *FileModeStore) Load() (domain.Mode, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return domain.DefaultMode(), fmt.Errorf("%w: %v", domain.ErrConfigLoad, err)
	}

	mode := domain.DefaultMode()
	if err := json.Unmarshal(data, &mode); err != nil {
		return domain.DefaultMode(), fmt.Errorf("%w: %s: %v", domain.ErrConfigLoad, s.path, err)
	}

	if _, err := domain.ParseRole(string(mode.Role)); err != nil {
		mode.Role = domain.RoleClient
	}

	return mode, nil
}

// Save writes the Mode atomically (write + fsync + rename).
func (s *FileModeStore) Save(mode domain.Mode) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	// Serialize writers from the daemon and from CLI invocations
	lockFile, err := os.OpenFile(s.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}
	defer lockFile.Close()

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() { _ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN) }()

	data, err := json.MarshalIndent(mode, "", "    ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.path, append(data, '\n'))
}

// writeFileAtomic replaces path with data (write + fsync + rename).
func writeFileAtomic(path string, data []byte) error {
	// Temp file is unique per process so the daemon and CLI don't collide
	tmpPath := fmt.Sprintf("%s.%d.tmp", path, os.Getpid())
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	f.Close()

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath) // Clean up on failure
		return err
	}
	return nil
}

// Ensure FileModeStore implements domain.ModeStore.
var _ domain.ModeStore = (*FileModeStore)(nil)
