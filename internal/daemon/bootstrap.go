package daemon

import (
	"os"
	"os/exec"
	"syscall"
)

// StartDetached re-executes the current binary as a background applet.
// args are passed after the hidden "run" command.
func StartDetached(args ...string) (int, error) {
	executable, err := os.Executable()
	if err != nil {
		return 0, err
	}
	return StartDetachedWithPath(executable, args...)
}

// StartDetachedWithPath spawns binaryPath detached from the parent process
// (new session, no stdio) and returns its pid. The child is not waited on.
func StartDetachedWithPath(binaryPath string, args ...string) (int, error) {
	cmd := exec.Command(binaryPath, append([]string{"run"}, args...)...)

	// Detach from parent process
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true, // Create new session (detach from terminal)
	}

	// No stdin/stdout/stderr - fully detached
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid

	// The parent normally exits right away; release keeps it from holding a handle.
	_ = cmd.Process.Release()
	return pid, nil
}
