package infra

import (
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/kvmtray/internal/domain"
)

// ProcessFactory builds a fresh supervisor and classifier for a role.
type ProcessFactory struct {
	backend domain.BackendConfig
	logDir  string
	pm      domain.ProcessManager
	fs      domain.FileSystemManager
	logger  *zap.Logger
	grace   time.Duration
}

// NewProcessFactory creates a factory for one backend.
// Daemon logs go to logDir/<profile log file>.
func NewProcessFactory(
	backend domain.BackendConfig,
	logDir string,
	pm domain.ProcessManager,
	fs domain.FileSystemManager,
	logger *zap.Logger,
) *ProcessFactory {
	return &ProcessFactory{
		backend: backend,
		logDir:  logDir,
		pm:      pm,
		fs:      fs,
		logger:  logger,
		grace:   DefaultStopGrace,
	}
}

// WithStopGrace sets how long Stop waits before forcing termination.
func (f *ProcessFactory) WithStopGrace(grace time.Duration) *ProcessFactory {
	f.grace = grace
	return f
}

// New builds the ManagedProcess for role.
func (f *ProcessFactory) New(role domain.Role) (*domain.ManagedProcess, error) {
	spec := f.LaunchSpec(role)
	profile := f.backend.Profile(role)

	classifier, err := NewLogClassifier(spec.LogPath, profile.Connected, profile.Disconnected, f.logger)
	if err != nil {
		return nil, err
	}

	return &domain.ManagedProcess{
		Role:       role,
		Spec:       spec,
		Supervisor: NewProcessSupervisorWithGrace(f.pm, f.fs, f.logger.With(zap.String("role", string(role))), f.grace),
		Classifier: classifier,
	}, nil
}

// LaunchSpec resolves placeholders in the role profile.
// Arguments that end up empty (e.g. an unset {peer}) are dropped.
func (f *ProcessFactory) LaunchSpec(role domain.Role) domain.LaunchSpec {
	profile := f.backend.Profile(role)
	logPath := filepath.Join(f.fs.ExpandHome(f.logDir), profile.LogFile)
	configDir := f.fs.ExpandHome(f.backend.ConfigDir)

	r := strings.NewReplacer(
		"{log}", logPath,
		"{config}", configDir,
		"{peer}", f.backend.Peer,
	)

	args := make([]string, 0, len(profile.Args))
	for _, a := range profile.Args {
		if a = r.Replace(a); a != "" {
			args = append(args, a)
		}
	}

	return domain.LaunchSpec{
		Executable: f.fs.ExpandHome(profile.Executable),
		Args:       args,
		LogPath:    logPath,
	}
}

// Ensure ProcessFactory implements domain.ManagedProcessFactory.
var _ domain.ManagedProcessFactory = (*ProcessFactory)(nil)
