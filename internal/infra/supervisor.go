package infra

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/kvmtray/internal/domain"
)

// DefaultStopGrace is how long Stop waits after SIGTERM before SIGKILL.
const DefaultStopGrace = 500 * time.Millisecond

// child is one spawned process plus the channel closed once it is reaped.
type child struct {
	cmd     *exec.Cmd
	done    chan struct{}
	exitErr error
}

// ProcessSupervisor implements domain.ProcessSupervisor.
// It is the only owner of the child handle; callers never see *exec.Cmd.
type ProcessSupervisor struct {
	mu     sync.Mutex
	child  *child
	grace  time.Duration
	pm     domain.ProcessManager
	fs     domain.FileSystemManager
	logger *zap.Logger
}

// NewProcessSupervisor creates a supervisor with the default stop grace period.
func NewProcessSupervisor(pm domain.ProcessManager, fs domain.FileSystemManager, logger *zap.Logger) *ProcessSupervisor {
	return NewProcessSupervisorWithGrace(pm, fs, logger, DefaultStopGrace)
}

// NewProcessSupervisorWithGrace creates a supervisor with a custom grace period (for testing).
func NewProcessSupervisorWithGrace(pm domain.ProcessManager, fs domain.FileSystemManager, logger *zap.Logger, grace time.Duration) *ProcessSupervisor {
	return &ProcessSupervisor{
		grace:  grace,
		pm:     pm,
		fs:     fs,
		logger: logger,
	}
}

// Start spawns spec unless a child is already running.
func (s *ProcessSupervisor) Start(spec domain.LaunchSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.aliveLocked() {
		return nil
	}

	if spec.LogPath != "" {
		if err := s.fs.EnsureDir(filepath.Dir(spec.LogPath)); err != nil {
			s.logger.Warn("failed to create log directory",
				zap.String("path", spec.LogPath),
				zap.Error(err))
		}
		if s.fs.Exists(spec.LogPath) {
			if err := s.fs.Delete(spec.LogPath); err != nil {
				s.logger.Warn("failed to remove previous log",
					zap.String("path", spec.LogPath),
					zap.Error(err))
			}
		}
	}

	s.killOthers(spec.Executable)

	cmd := exec.Command(spec.Executable, spec.Args...)

	// Detach from our session so terminal hangups don't reach the daemon
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	// nil streams are connected to /dev/null
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrSpawnFailure, spec.Executable, err)
	}
	if cmd.Process == nil {
		return fmt.Errorf("%w: %s: no process handle", domain.ErrSpawnFailure, spec.Executable)
	}

	c := &child{cmd: cmd, done: make(chan struct{})}
	go func() {
		c.exitErr = cmd.Wait()
		close(c.done)
	}()
	s.child = c

	s.logger.Info("launched managed daemon",
		zap.String("executable", spec.Executable),
		zap.Strings("args", spec.Args),
		zap.Int("pid", cmd.Process.Pid))

	return nil
}

// Stop sends SIGTERM, waits up to the grace period, then SIGKILL.
// It returns only after the child has been reaped.
func (s *ProcessSupervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.aliveLocked() {
		return
	}

	c := s.child
	pid := c.cmd.Process.Pid
	s.logger.Info("stopping managed daemon", zap.Int("pid", pid))

	_ = c.cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-c.done:
	case <-time.After(s.grace):
		s.logger.Info("managed daemon ignored SIGTERM, killing",
			zap.Int("pid", pid),
			zap.Duration("grace", s.grace))
		_ = c.cmd.Process.Kill()
		<-c.done
	}

	s.child = nil
}

// IsRunning reports whether the child is alive. It never blocks.
func (s *ProcessSupervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aliveLocked()
}

// PID returns the running child's pid, or 0.
func (s *ProcessSupervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.aliveLocked() {
		return 0
	}
	return s.child.cmd.Process.Pid
}

// aliveLocked drops the handle once the waiter has observed the exit.
func (s *ProcessSupervisor) aliveLocked() bool {
	if s.child == nil {
		return false
	}
	select {
	case <-s.child.done:
		s.logger.Info("managed daemon exited",
			zap.Int("pid", s.child.cmd.Process.Pid),
			zap.NamedError("exit", s.child.exitErr))
		s.child = nil
		return false
	default:
		return true
	}
}

// killOthers enforces a single instance of the managed binary.
// The daemons are not safe to run twice (port and display conflicts).
func (s *ProcessSupervisor) killOthers(executable string) {
	pids, err := s.pm.FindByExecutable(executable)
	if err != nil {
		s.logger.Warn("failed to scan for other instances",
			zap.String("executable", executable),
			zap.Error(err))
		return
	}

	for _, pid := range pids {
		if err := s.pm.Kill(pid); err != nil {
			s.logger.Warn("failed to kill other instance",
				zap.Int("pid", pid),
				zap.Error(err))
			continue
		}
		s.logger.Info("killed other instance",
			zap.String("executable", executable),
			zap.Int("pid", pid))
	}
}

// Ensure ProcessSupervisor implements domain.ProcessSupervisor.
var _ domain.ProcessSupervisor = (*ProcessSupervisor)(nil)
