// Package main is the CLI entry point for kvmtray.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/allan-simon/go-singleinstance"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/kvmtray/internal/backend"
	"github.com/eliteGoblin/focusd/kvmtray/internal/daemon"
	"github.com/eliteGoblin/focusd/kvmtray/internal/domain"
	"github.com/eliteGoblin/focusd/kvmtray/internal/infra"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "kvmtray",
	Short: "Keep a KVM daemon in step with the screen lock",
	Long: `kvmtray supervises a software KVM daemon (Deskflow, Input Leap or Barrier)
in server or client role. It stops the daemon when the session locks,
starts it again on unlock, and can pause it for a while on request.

Run "kvmtray run" once per session; the other commands talk to it.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the applet in the foreground (or detached with --detach)",
	RunE:  runRun,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applet and daemon status",
	RunE:  runStatus,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the KVM daemon",
	RunE:  sendSimple(infra.CmdStart),
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the KVM daemon until started again",
	RunE:  sendSimple(infra.CmdStop),
}

var toggleCmd = &cobra.Command{
	Use:   "toggle",
	Short: "Stop the daemon if running, otherwise start it",
	RunE:  sendSimple(infra.CmdToggle),
}

var quitCmd = &cobra.Command{
	Use:   "quit",
	Short: "Stop the daemon and exit the applet",
	RunE:  sendSimple(infra.CmdQuit),
}

var pauseCmd = &cobra.Command{
	Use:   "pause [duration]",
	Short: "Turn the daemon off for a while (e.g. 10s, 30m, 1.5h)",
	Long: `Stops the daemon now and re-evaluates after the given duration.
Without an argument, lists the preset durations.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPause,
}

var roleCmd = &cobra.Command{
	Use:       "role server|client",
	Short:     "Switch between server and client role",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(domain.RoleServer), string(domain.RoleClient)},
	RunE:      runRole,
}

var followCmd = &cobra.Command{
	Use:       "follow on|off",
	Short:     "Follow the screensaver (stop on lock, start on unlock)",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE:      runFollow,
}

var unlockCommandCmd = &cobra.Command{
	Use:   "unlock-command [shell command]",
	Short: "Set the command run on unlock in server role (empty clears it)",
	RunE:  runUnlockCommand,
}

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List supported KVM backends",
	RunE:  runBackends,
}

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify the current daemon log as connected, disconnected or unknown",
	RunE:  runClassify,
}

var autostartCmd = &cobra.Command{
	Use:       "autostart install|uninstall|status",
	Short:     "Manage the login autostart entry",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"install", "uninstall", "status"},
	RunE:      runAutostart,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	backendID    string
	modeFile     string
	logDir       string
	debugLogging bool
	noDBus       bool
	detach       bool
	jsonOutput   bool
	classifyRole string
	writeSample  bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&backendID, "backend", backend.DefaultBackendID, "KVM backend (see 'kvmtray backends')")
	rootCmd.PersistentFlags().StringVar(&modeFile, "config", "", "Mode file (default ~/.config/kvmtray/<backend>.json)")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Directory for daemon logs (default ~/var/log)")
	rootCmd.PersistentFlags().BoolVar(&debugLogging, "debug", false, "Verbose development logging")

	runCmd.Flags().BoolVar(&noDBus, "no-dbus", false, "Do not connect to the session bus (manual control only)")
	runCmd.Flags().BoolVar(&detach, "detach", false, "Start the applet in the background and return")
	statusCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")
	classifyCmd.Flags().StringVar(&classifyRole, "role", "", "Role whose log to read (default: role from mode file)")
	backendsCmd.Flags().BoolVar(&writeSample, "write-template", false, "Write the built-in presets to backends.yaml for editing")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(toggleCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(roleCmd)
	rootCmd.AddCommand(followCmd)
	rootCmd.AddCommand(unlockCommandCmd)
	rootCmd.AddCommand(quitCmd)
	rootCmd.AddCommand(backendsCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(autostartCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadBackend resolves --backend against the presets and backends.yaml.
func loadBackend(paths *infra.Paths) (domain.BackendConfig, error) {
	registry := backend.NewRegistry()
	if err := registry.LoadOverrides(paths.BackendsFile()); err != nil {
		return domain.BackendConfig{}, err
	}
	return registry.Get(backendID)
}

func modePath(paths *infra.Paths) string {
	if modeFile != "" {
		return modeFile
	}
	return paths.ModeFile(backendID)
}

func runRun(cmd *cobra.Command, args []string) error {
	paths := infra.DetectPaths()

	cfg, err := loadBackend(paths)
	if err != nil {
		return err
	}

	if detach {
		childArgs := []string{"--backend", cfg.ID}
		if modeFile != "" {
			childArgs = append(childArgs, "--config", modeFile)
		}
		if logDir != "" {
			childArgs = append(childArgs, "--log-dir", logDir)
		}
		if debugLogging {
			childArgs = append(childArgs, "--debug")
		}
		if noDBus {
			childArgs = append(childArgs, "--no-dbus")
		}
		pid, err := daemon.StartDetached(childArgs...)
		if err != nil {
			return fmt.Errorf("failed to start applet: %w", err)
		}
		fmt.Printf("kvmtray started in background (pid %d)\n", pid)
		return nil
	}

	logger := createLogger(paths)
	defer func() { _ = logger.Sync() }()

	// Signal-driven shutdown still stops the managed daemon
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	config := daemon.DefaultConfig()
	config.UseDBus = !noDBus

	applet := daemon.NewApplet(config, cfg, paths, modeFile, logDir, logger)
	if err := applet.Run(ctx); err != nil {
		logger.Error("applet failed", zap.Error(err))
		return err
	}
	return nil
}

func createLogger(paths *infra.Paths) *zap.Logger {
	if debugLogging {
		logger, err := zap.NewDevelopment()
		if err == nil {
			return logger
		}
	}

	config := zap.NewProductionConfig()
	if err := os.MkdirAll(paths.CacheDir, 0755); err == nil {
		config.OutputPaths = []string{paths.AppletLog(), "stderr"}
		config.ErrorOutputPaths = []string{paths.AppletLog(), "stderr"}
	}
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		// Fallback to stderr if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}

// processManager checks the applet pid recorded in the lock file.
var processManager = infra.NewProcessManager()

// appletPID returns the pid holding the instance lock, or 0 when the lock
// file is missing or was left behind by an applet that died.
func appletPID(paths *infra.Paths) int {
	pid, err := singleinstance.GetLockFilePid(paths.LockFile())
	if err != nil || pid <= 0 || !processManager.IsRunning(pid) {
		return 0
	}
	return pid
}

// readStatus returns the applet's published status if it is alive.
func readStatus(paths *infra.Paths) (domain.Status, bool) {
	status, err := infra.NewStatusFile(paths.StatusFile()).Read()
	if err != nil {
		return status, false
	}
	if appletPID(paths) == 0 {
		return status, false
	}
	return status, true
}

// sendCommand queues a command for the running applet.
func sendCommand(paths *infra.Paths, c infra.Command) error {
	status, ok := readStatus(paths)
	if !ok {
		return errors.New("kvmtray is not running (start it with 'kvmtray run --detach')")
	}
	if rootCmd.PersistentFlags().Changed("backend") && status.Backend != backendID {
		return fmt.Errorf("running applet manages %s, not %s", status.Backend, backendID)
	}
	if err := infra.WriteCommand(paths.CommandFile(), c); err != nil {
		return fmt.Errorf("failed to send command: %w", err)
	}
	fmt.Printf("sent: %s\n", c)
	return nil
}

func sendSimple(kind infra.CommandKind) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return sendCommand(infra.DetectPaths(), infra.Command{Kind: kind})
	}
}

func runPause(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		fmt.Println("Presets:")
		for _, p := range backend.PausePresets {
			fmt.Printf("  %-12s %s\n", p.Label, p.Duration)
		}
		return nil
	}

	d, err := parsePause(args[0])
	if err != nil {
		return err
	}
	return sendCommand(infra.DetectPaths(), infra.Command{Kind: infra.CmdPause, Duration: d})
}

// parsePause accepts a Go duration ("90s", "1.5h") or plain seconds.
func parsePause(s string) (time.Duration, error) {
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return infra.ParseSeconds(s)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("pause must be positive: %s", s)
	}
	return d, nil
}

// updateMode applies a setting through the running applet, or directly to
// the mode file when no applet is running.
func updateMode(c infra.Command, apply func(*domain.Mode)) error {
	paths := infra.DetectPaths()
	if _, ok := readStatus(paths); ok {
		return sendCommand(paths, c)
	}

	store := infra.NewFileModeStore(modePath(paths))
	mode, _ := store.Load()
	apply(&mode)
	if err := store.Save(mode); err != nil {
		return fmt.Errorf("failed to save mode: %w", err)
	}
	fmt.Printf("saved to %s\n", store.Path())
	return nil
}

func runRole(cmd *cobra.Command, args []string) error {
	role, err := domain.ParseRole(strings.ToLower(args[0]))
	if err != nil {
		return err
	}
	return updateMode(infra.Command{Kind: infra.CmdRole, Role: role}, func(m *domain.Mode) {
		m.Role = role
	})
}

func runFollow(cmd *cobra.Command, args []string) error {
	c, err := infra.ParseCommand("follow " + args[0])
	if err != nil {
		return err
	}
	return updateMode(c, func(m *domain.Mode) {
		m.FollowScreensaver = c.Follow
	})
}

func runUnlockCommand(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, " ")
	return updateMode(infra.Command{Kind: infra.CmdUnlock, Text: text}, func(m *domain.Mode) {
		m.RemoteUnlockCommand = text
	})
}

func runStatus(cmd *cobra.Command, args []string) error {
	paths := infra.DetectPaths()
	status, running := readStatus(paths)

	if jsonOutput {
		out := struct {
			Running bool           `json:"running"`
			Status  *domain.Status `json:"status,omitempty"`
		}{Running: running}
		if running {
			out.Status = &status
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Println("=== kvmtray Status ===")
	if !running {
		mode, err := infra.NewFileModeStore(modePath(paths)).Load()
		fmt.Println("Applet:   NOT RUNNING")
		fmt.Printf("Backend:  %s\n", backendID)
		if err != nil {
			fmt.Println("Mode:     defaults (no settings file)")
		}
		fmt.Printf("Role:     %s\n", mode.Role)
		fmt.Printf("Follow:   %v\n", mode.FollowScreensaver)
		return nil
	}

	fmt.Println("Applet:   RUNNING")
	fmt.Printf("Backend:  %s\n", status.Backend)
	fmt.Printf("State:    %s (%s)\n", status.Label, status.RunState)
	fmt.Printf("Role:     %s\n", status.Role)
	fmt.Printf("Follow:   %v\n", status.FollowScreensaver)
	if status.PID > 0 {
		fmt.Printf("PID:      %d\n", status.PID)
	}
	if status.OverrideDeadline != nil {
		fmt.Printf("Paused:   until %s (%s left)\n",
			status.OverrideDeadline.Format("15:04:05"),
			time.Until(*status.OverrideDeadline).Round(time.Second))
	}
	fmt.Printf("Updated:  %s\n", status.UpdatedAt.Format(time.RFC3339))
	return nil
}

func runBackends(cmd *cobra.Command, args []string) error {
	paths := infra.DetectPaths()
	registry := backend.NewRegistry()

	if writeSample {
		if err := os.MkdirAll(filepath.Dir(paths.BackendsFile()), 0755); err != nil {
			return err
		}
		if _, err := os.Stat(paths.BackendsFile()); err == nil {
			return fmt.Errorf("%s already exists", paths.BackendsFile())
		}
		if err := backend.SaveOverrides(paths.BackendsFile(), registry.GetAll()); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", paths.BackendsFile())
		return nil
	}

	if err := registry.LoadOverrides(paths.BackendsFile()); err != nil {
		return err
	}

	fmt.Println("=== KVM Backends ===")
	for _, b := range registry.GetAll() {
		marker := " "
		if b.ID == backendID {
			marker = "*"
		}
		fmt.Printf("\n%s %s (%s)\n", marker, b.Name, b.ID)
		fmt.Printf("    server: %s %s\n", b.Server.Executable, strings.Join(b.Server.Args, " "))
		fmt.Printf("    client: %s %s\n", b.Client.Executable, strings.Join(b.Client.Args, " "))
	}
	return nil
}

func runClassify(cmd *cobra.Command, args []string) error {
	paths := infra.DetectPaths()
	cfg, err := loadBackend(paths)
	if err != nil {
		return err
	}

	role := domain.Role(classifyRole)
	if classifyRole == "" {
		mode, _ := infra.NewFileModeStore(modePath(paths)).Load()
		role = mode.Role
	} else if role, err = domain.ParseRole(classifyRole); err != nil {
		return err
	}

	dir := logDir
	if dir == "" {
		dir = paths.DaemonLogDir
	}
	factory := infra.NewProcessFactory(cfg, dir, infra.NewProcessManager(), infra.NewFileSystemManager(), zap.NewNop())
	mp, err := factory.New(role)
	if err != nil {
		return err
	}

	fmt.Printf("%s (%s)\n", mp.Classifier.Classify(), mp.Spec.LogPath)
	return nil
}

func runAutostart(cmd *cobra.Command, args []string) error {
	paths := infra.DetectPaths()
	cfg, err := loadBackend(paths)
	if err != nil {
		return err
	}
	manager := infra.NewAutostartManager(paths.AutostartDir, cfg)

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(execPath); err == nil {
		execPath = resolved
	}

	switch args[0] {
	case "install":
		if manager.IsInstalled() && !manager.NeedsUpdate(execPath) {
			fmt.Printf("already installed: %s\n", manager.Path())
			return nil
		}
		if err := manager.Install(execPath); err != nil {
			return fmt.Errorf("failed to install autostart entry: %w", err)
		}
		fmt.Printf("installed %s\n", manager.Path())
	case "uninstall":
		if err := manager.Uninstall(); err != nil {
			return fmt.Errorf("failed to remove autostart entry: %w", err)
		}
		fmt.Printf("removed %s\n", manager.Path())
	case "status":
		switch {
		case !manager.IsInstalled():
			fmt.Println("autostart: not installed")
		case manager.NeedsUpdate(execPath):
			fmt.Printf("autostart: installed, outdated (%s)\n", manager.Path())
		default:
			fmt.Printf("autostart: installed (%s)\n", manager.Path())
		}
	default:
		return fmt.Errorf("unknown action %q (install, uninstall, status)", args[0])
	}
	return nil
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("kvmtray %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
