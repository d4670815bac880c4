// Package daemon runs the applet: it wires the lifecycle controller to the
// session bus, the command file and the status file.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/allan-simon/go-singleinstance"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/kvmtray/internal/domain"
	"github.com/eliteGoblin/focusd/kvmtray/internal/infra"
	"github.com/eliteGoblin/focusd/kvmtray/internal/usecase"
)

// ErrAlreadyRunning means another applet holds the instance lock.
var ErrAlreadyRunning = errors.New("applet already running")

// Config holds applet daemon configuration.
type Config struct {
	Controller     usecase.ControllerConfig // tick and lock-query timing
	StopGrace      time.Duration            // SIGTERM to SIGKILL escalation delay
	CommandTimeout time.Duration            // how long a file command may wait for the controller
	UseDBus        bool                     // connect idle observer and inhibitor
}

// DefaultConfig returns default applet configuration.
func DefaultConfig() Config {
	return Config{
		Controller:     usecase.DefaultControllerConfig(),
		StopGrace:      infra.DefaultStopGrace,
		CommandTimeout: 5 * time.Second,
		UseDBus:        true,
	}
}

// Controller is the subset of the lifecycle controller driven by file commands.
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Toggle(ctx context.Context) error
	ArmTimer(ctx context.Context, d time.Duration) error
	SetRole(ctx context.Context, role domain.Role) error
	SetFollowScreensaver(ctx context.Context, follow bool) error
	SetRemoteUnlockCommand(ctx context.Context, command string) error
	Quit(ctx context.Context) error
}

// Applet owns one controller for one backend.
type Applet struct {
	config   Config
	backend  domain.BackendConfig
	paths    *infra.Paths
	modePath string
	logDir   string
	logger   *zap.Logger
}

// NewApplet creates the applet. modePath and logDir fall back to the
// defaults under paths when empty.
func NewApplet(
	config Config,
	backend domain.BackendConfig,
	paths *infra.Paths,
	modePath string,
	logDir string,
	logger *zap.Logger,
) *Applet {
	if modePath == "" {
		modePath = paths.ModeFile(backend.ID)
	}
	if logDir == "" {
		logDir = paths.DaemonLogDir
	}
	return &Applet{
		config:   config,
		backend:  backend,
		paths:    paths,
		modePath: modePath,
		logDir:   logDir,
		logger:   logger,
	}
}

// Run blocks until ctx is canceled or a quit command arrives. The managed
// process is stopped before Run returns.
func (a *Applet) Run(ctx context.Context) error {
	if err := os.MkdirAll(a.paths.CacheDir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	lockFile, err := singleinstance.CreateLockFile(a.paths.LockFile())
	if err != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, a.paths.LockFile())
	}
	defer func() {
		lockFile.Close()
		os.Remove(a.paths.LockFile())
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pm := infra.NewProcessManager()
	fs := infra.NewFileSystemManager()
	factory := infra.NewProcessFactory(a.backend, a.logDir, pm, fs, a.logger).WithStopGrace(a.config.StopGrace)
	store := infra.NewFileModeStore(a.modePath)

	controller := usecase.NewLifecycleController(a.backend, store, factory, a.logger).
		WithConfig(a.config.Controller).
		WithUnlocker(infra.NewShellUnlocker(a.logger))

	if a.config.UseDBus {
		a.connectBus(ctx, controller)
	}

	status := infra.NewStatusFile(a.paths.StatusFile())
	controller.OnDisplayChange(func(s domain.Status) {
		if err := status.Write(s); err != nil {
			a.logger.Warn("failed to write status", zap.Error(err))
		}
	})
	defer func() {
		if err := status.Remove(); err != nil {
			a.logger.Warn("failed to remove status file", zap.Error(err))
		}
	}()

	commands := infra.NewCommandWatcher(a.paths.CommandFile(), a.logger)
	err = commands.Watch(ctx, func(cmd infra.Command) {
		if err := a.dispatch(ctx, controller, cmd); err != nil {
			a.logger.Warn("command failed", zap.String("command", cmd.String()), zap.Error(err))
		}
	})
	if err != nil {
		a.logger.Warn("command watcher unavailable, file commands disabled", zap.Error(err))
	}

	a.logger.Info("applet started",
		zap.String("backend", a.backend.ID),
		zap.String("mode_file", a.modePath),
		zap.String("log_dir", a.logDir),
		zap.Int("pid", os.Getpid()))

	err = controller.Run(ctx)
	a.logger.Info("applet stopped")
	return err
}

// connectBus attaches the D-Bus observer and inhibitor. Failures leave the
// controller under manual control.
func (a *Applet) connectBus(ctx context.Context, controller *usecase.LifecycleController) {
	observer, err := infra.NewDBusIdleObserver(ctx, a.logger)
	if err != nil {
		a.logger.Warn("idle observer unavailable", zap.Error(err))
	} else {
		controller.WithObserver(observer)
		go func() {
			<-controller.Done()
			observer.Close()
		}()
	}

	inhibitor, err := infra.NewDBusInhibitor(a.logger)
	if err != nil {
		a.logger.Warn("screensaver inhibitor unavailable", zap.Error(err))
		return
	}
	controller.WithInhibitor(inhibitor)
	go func() {
		<-controller.Done()
		inhibitor.Close()
	}()
}

// dispatch applies one file command to the controller.
func (a *Applet) dispatch(ctx context.Context, c Controller, cmd infra.Command) error {
	ctx, cancel := context.WithTimeout(ctx, a.config.CommandTimeout)
	defer cancel()

	a.logger.Info("command", zap.String("command", cmd.String()))

	switch cmd.Kind {
	case infra.CmdStart:
		return c.Start(ctx)
	case infra.CmdStop:
		return c.Stop(ctx)
	case infra.CmdToggle:
		return c.Toggle(ctx)
	case infra.CmdPause:
		return c.ArmTimer(ctx, cmd.Duration)
	case infra.CmdRole:
		return c.SetRole(ctx, cmd.Role)
	case infra.CmdFollow:
		return c.SetFollowScreensaver(ctx, cmd.Follow)
	case infra.CmdUnlock:
		return c.SetRemoteUnlockCommand(ctx, cmd.Text)
	case infra.CmdQuit:
		return c.Quit(ctx)
	}
	return fmt.Errorf("%w: %s", domain.ErrInvalidCommand, cmd.Kind)
}
