package infra

import (
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/kvmtray/internal/domain"
)

// CommandStarter abstracts starting a command without waiting for it (for testing).
// wait blocks until the command exits.
type CommandStarter interface {
	Start(name string, args ...string) (wait func() error, err error)
}

// RealCommandStarter starts real system commands.
type RealCommandStarter struct{}

// Start launches the command with no stdio attached.
func (r *RealCommandStarter) Start(name string, args ...string) (func() error, error) {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd.Wait, nil
}

// ShellUnlocker runs the user's remote unlock command through /bin/sh.
// The command is fire-and-forget: Fire returns once it has started and the
// exit status is only logged.
type ShellUnlocker struct {
	starter CommandStarter
	logger  *zap.Logger
}

// NewShellUnlocker creates an unlocker using real commands.
func NewShellUnlocker(logger *zap.Logger) *ShellUnlocker {
	return &ShellUnlocker{starter: &RealCommandStarter{}, logger: logger}
}

// NewShellUnlockerWithStarter creates an unlocker with an injectable starter (for testing).
func NewShellUnlockerWithStarter(starter CommandStarter, logger *zap.Logger) *ShellUnlocker {
	return &ShellUnlocker{starter: starter, logger: logger}
}

// Fire starts command. An empty command does nothing.
func (u *ShellUnlocker) Fire(command string) error {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil
	}

	wait, err := u.starter.Start("/bin/sh", "-c", command)
	if err != nil {
		u.logger.Warn("remote unlock command failed to start",
			zap.String("command", command),
			zap.Error(err))
		return err
	}
	u.logger.Info("remote unlock command started", zap.String("command", command))

	go func() {
		if err := wait(); err != nil {
			u.logger.Warn("remote unlock command exited with error",
				zap.String("command", command),
				zap.Error(err))
		}
	}()
	return nil
}

// Ensure ShellUnlocker implements domain.RemoteUnlocker.
var _ domain.RemoteUnlocker = (*ShellUnlocker)(nil)
