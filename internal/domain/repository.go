package domain

import "context"

// ProcessManager handles OS process table operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// FindByExecutable returns PIDs whose executable path is exactly path.
	FindByExecutable(path string) ([]int, error)

	// Kill terminates a process by PID (SIGKILL).
	Kill(pid int) error

	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// FileSystemManager handles filesystem operations.
type FileSystemManager interface {
	// Exists checks if a path exists.
	Exists(path string) bool

	// Delete removes a file or directory recursively. Missing paths are not an error.
	Delete(path string) error

	// EnsureDir creates a directory and its parents.
	EnsureDir(path string) error

	// ExpandHome expands ~ to the user's home directory.
	ExpandHome(path string) string
}

// ProcessSupervisor owns at most one child process.
type ProcessSupervisor interface {
	// Start spawns the child unless one is already running.
	// Spawn errors wrap ErrSpawnFailure.
	Start(spec LaunchSpec) error

	// Stop terminates the child (graceful, then forced) and waits until it is reaped.
	Stop()

	// IsRunning polls the child without blocking.
	IsRunning() bool

	// PID returns the child's pid, or 0 when nothing is running.
	PID() int
}

// ConnectionClassifier infers peer connection status from the daemon log.
type ConnectionClassifier interface {
	Classify() Classification
}

// ManagedProcessFactory builds the supervisor/classifier pair for a role.
type ManagedProcessFactory interface {
	New(role Role) (*ManagedProcess, error)
}

// ModeStore persists the user's Mode.
type ModeStore interface {
	// Load returns the stored Mode. On a missing or corrupt file it returns
	// DefaultMode together with an error wrapping ErrConfigLoad.
	Load() (Mode, error)

	// Save writes the Mode durably before returning.
	Save(mode Mode) error

	// Path returns the backing file path.
	Path() string
}

// IdleObserver reports screen lock state.
// Implementation: D-Bus org.freedesktop.ScreenSaver and desktop-specific variants.
type IdleObserver interface {
	// Locked reports whether the session is currently locked.
	Locked(ctx context.Context) (bool, error)

	// Subscribe delivers one event per lock transition until ctx is done.
	Subscribe(ctx context.Context) (<-chan LockEvent, error)
}

// ScreensaverInhibitor prevents the local session from locking while held.
type ScreensaverInhibitor interface {
	Inhibit(ctx context.Context, reason string) error
	Release(ctx context.Context) error
}

// RemoteUnlocker runs the user's remote unlock command without waiting for it.
type RemoteUnlocker interface {
	Fire(command string) error
}

// AutostartManager installs the login autostart entry.
type AutostartManager interface {
	Install(execPath string) error
	Uninstall() error
	IsInstalled() bool
	NeedsUpdate(execPath string) bool
	Path() string
}
