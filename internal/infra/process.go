// Package infra implements infrastructure concerns (process, filesystem, settings, D-Bus).
package infra

import (
	"os"
	"path/filepath"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/eliteGoblin/focusd/kvmtray/internal/domain"
)

// ProcessManagerImpl implements domain.ProcessManager using gopsutil.
type ProcessManagerImpl struct{}

// NewProcessManager creates a new process manager.
func NewProcessManager() domain.ProcessManager {
	return &ProcessManagerImpl{}
}

// FindByExecutable returns PIDs of processes running exactly the given binary.
//
// The executable path is compared after symlink resolution. When the kernel
// won't tell us a process's exe (another user's process), argv[0] must equal
// path verbatim. A substring match would also hit editors, pagers and grep
// invocations that merely mention the binary.
func (pm *ProcessManagerImpl) FindByExecutable(path string) ([]int, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	want := resolvePath(path)
	self := int32(pm.GetCurrentPID())

	var found []int
	for _, p := range procs {
		if p.Pid == self {
			continue
		}

		if exe, err := p.Exe(); err == nil && exe != "" {
			if resolvePath(exe) == want {
				found = append(found, int(p.Pid))
			}
			continue
		}

		args, err := p.CmdlineSlice()
		if err != nil || len(args) == 0 {
			continue // Process may have exited
		}
		if args[0] == path {
			found = append(found, int(p.Pid))
		}
	}

	return found, nil
}

// Kill terminates a process by PID using SIGKILL.
func (pm *ProcessManagerImpl) Kill(pid int) error {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	return p.Kill()
}

// IsRunning checks if a PID exists and is running.
func (pm *ProcessManagerImpl) IsRunning(pid int) bool {
	// On Unix, FindProcess always succeeds
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Send signal 0 to check if process exists
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}

// GetCurrentPID returns the current process PID.
func (pm *ProcessManagerImpl) GetCurrentPID() int {
	return os.Getpid()
}

func resolvePath(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	return filepath.Clean(path)
}

// Ensure ProcessManagerImpl implements domain.ProcessManager.
var _ domain.ProcessManager = (*ProcessManagerImpl)(nil)
