package infra

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/kvmtray/internal/domain"
)

// CommandKind names an out-of-process control command.
type CommandKind string

const (
	CmdStart  CommandKind = "start"
	CmdStop   CommandKind = "stop"
	CmdToggle CommandKind = "toggle"
	CmdPause  CommandKind = "pause"
	CmdRole   CommandKind = "role"
	CmdFollow CommandKind = "follow"
	CmdUnlock CommandKind = "unlock-command"
	CmdQuit   CommandKind = "quit"
)

// Command is one line of the command file.
type Command struct {
	Kind     CommandKind
	Duration time.Duration // pause
	Role     domain.Role   // role
	Follow   bool          // follow
	Text     string        // unlock-command, may be empty
}

// String renders the command in its file form.
func (c Command) String() string {
	switch c.Kind {
	case CmdPause:
		return fmt.Sprintf("%s %s", c.Kind, strconv.FormatFloat(c.Duration.Seconds(), 'f', -1, 64))
	case CmdRole:
		return fmt.Sprintf("%s %s", c.Kind, c.Role)
	case CmdFollow:
		if c.Follow {
			return string(c.Kind) + " on"
		}
		return string(c.Kind) + " off"
	case CmdUnlock:
		return strings.TrimSpace(string(c.Kind) + " " + c.Text)
	default:
		return string(c.Kind)
	}
}

// ParseCommand parses one command line. Errors wrap domain.ErrInvalidCommand.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("%w: empty", domain.ErrInvalidCommand)
	}

	kind := CommandKind(strings.ToLower(fields[0]))
	if kind == CmdUnlock {
		// The rest of the line is a shell command; keep it verbatim.
		return Command{Kind: kind, Text: strings.TrimSpace(line[len(fields[0]):])}, nil
	}

	args := strings.Fields(strings.ToLower(strings.Join(fields[1:], " ")))

	switch kind {
	case CmdStart, CmdStop, CmdToggle, CmdQuit:
		if len(args) != 0 {
			return Command{}, fmt.Errorf("%w: %s takes no arguments", domain.ErrInvalidCommand, kind)
		}
		return Command{Kind: kind}, nil

	case CmdPause:
		if len(args) != 1 {
			return Command{}, fmt.Errorf("%w: pause <seconds>", domain.ErrInvalidCommand)
		}
		d, err := ParseSeconds(args[0])
		if err != nil {
			return Command{}, fmt.Errorf("%w: %v", domain.ErrInvalidCommand, err)
		}
		return Command{Kind: kind, Duration: d}, nil

	case CmdRole:
		if len(args) != 1 {
			return Command{}, fmt.Errorf("%w: role server|client", domain.ErrInvalidCommand)
		}
		role, err := domain.ParseRole(args[0])
		if err != nil {
			return Command{}, fmt.Errorf("%w: %v", domain.ErrInvalidCommand, err)
		}
		return Command{Kind: kind, Role: role}, nil

	case CmdFollow:
		if len(args) != 1 {
			return Command{}, fmt.Errorf("%w: follow on|off", domain.ErrInvalidCommand)
		}
		switch args[0] {
		case "on", "true", "1":
			return Command{Kind: kind, Follow: true}, nil
		case "off", "false", "0":
			return Command{Kind: kind, Follow: false}, nil
		}
		return Command{}, fmt.Errorf("%w: follow on|off", domain.ErrInvalidCommand)
	}

	return Command{}, fmt.Errorf("%w: unknown command %q", domain.ErrInvalidCommand, fields[0])
}

// maxPauseSeconds is the longest pause a time.Duration can hold.
const maxPauseSeconds = float64(math.MaxInt64 / int64(time.Second))

// ParseSeconds converts a positive, finite number of seconds to a Duration.
func ParseSeconds(s string) (time.Duration, error) {
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("bad pause duration %q", s)
	}
	if math.IsNaN(secs) || math.IsInf(secs, 0) || secs <= 0 || secs > maxPauseSeconds {
		return 0, fmt.Errorf("pause duration out of range: %q", s)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// WriteCommand appends a command to the command file.
func WriteCommand(path string, c Command) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create command directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() { _ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN) }()

	_, err = f.WriteString(c.String() + "\n")
	return err
}

// drainCommands reads and truncates the command file under lock.
func drainCommands(path string) ([]string, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0600)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() { _ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN) }()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	if err := f.Truncate(0); err != nil {
		return nil, err
	}

	var lines []string
	for _, l := range strings.Split(string(data), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines, nil
}

// CommandWatcher delivers commands appended to the command file.
type CommandWatcher struct {
	path   string
	logger *zap.Logger
}

// NewCommandWatcher creates a watcher for path.
func NewCommandWatcher(path string, logger *zap.Logger) *CommandWatcher {
	return &CommandWatcher{path: path, logger: logger}
}

// Path returns the watched command file.
func (w *CommandWatcher) Path() string {
	return w.path
}

// Watch starts delivering commands to handle until ctx is done. Setup
// happens before Watch returns; handle runs on the watcher goroutine.
// Commands left over from a previous run are discarded.
func (w *CommandWatcher) Watch(ctx context.Context, handle func(Command)) error {
	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create command directory: %w", err)
	}
	if stale, _ := drainCommands(w.path); len(stale) > 0 {
		w.logger.Info("discarded stale commands", zap.Strings("commands", stale))
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	// Watch the directory so the file can be created after we start
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch command directory: %w", err)
	}

	w.logger.Info("command watcher started", zap.String("path", w.path))

	go func() {
		defer watcher.Close()
		w.loop(ctx, watcher, handle)
	}()
	return nil
}

func (w *CommandWatcher) loop(ctx context.Context, watcher *fsnotify.Watcher, handle func(Command)) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.path || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			lines, err := drainCommands(w.path)
			if err != nil {
				w.logger.Warn("failed to read command file", zap.Error(err))
				continue
			}
			for _, line := range lines {
				cmd, err := ParseCommand(line)
				if err != nil {
					w.logger.Warn("ignoring command", zap.String("line", line), zap.Error(err))
					continue
				}
				w.logger.Debug("command received", zap.String("command", cmd.String()))
				handle(cmd)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", zap.Error(err))
		}
	}
}
