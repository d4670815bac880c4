package infra

import (
	"os"
	"path/filepath"
)

// AppName is used for every per-user directory and file name.
const AppName = "kvmtray"

// Paths holds the per-user locations the applet reads and writes.
type Paths struct {
	ConfigDir    string // ~/.config/kvmtray: Mode files, backends.yaml
	CacheDir     string // ~/.cache/kvmtray: status, command file, applet log, lock
	DaemonLogDir string // ~/var/log: managed daemon logs, same place the old applets used
	AutostartDir string // ~/.config/autostart
	Home         string
}

// DetectPaths resolves XDG directories for the current user.
func DetectPaths() *Paths {
	home, _ := os.UserHomeDir()
	return PathsForHome(home)
}

// PathsForHome builds the layout under a given home (for testing).
func PathsForHome(home string) *Paths {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" || !filepath.IsAbs(configHome) {
		configHome = filepath.Join(home, ".config")
	}
	cacheHome := os.Getenv("XDG_CACHE_HOME")
	if cacheHome == "" || !filepath.IsAbs(cacheHome) {
		cacheHome = filepath.Join(home, ".cache")
	}

	return &Paths{
		ConfigDir:    filepath.Join(configHome, AppName),
		CacheDir:     filepath.Join(cacheHome, AppName),
		DaemonLogDir: filepath.Join(home, "var", "log"),
		AutostartDir: filepath.Join(configHome, "autostart"),
		Home:         home,
	}
}

// ModeFile is the settings file for one backend.
func (p *Paths) ModeFile(backendID string) string {
	return filepath.Join(p.ConfigDir, backendID+".json")
}

// BackendsFile holds optional preset overrides.
func (p *Paths) BackendsFile() string {
	return filepath.Join(p.ConfigDir, "backends.yaml")
}

// StatusFile is where the daemon publishes its Status.
func (p *Paths) StatusFile() string {
	return filepath.Join(p.CacheDir, "status.json")
}

// CommandFile is watched by the daemon for out-of-process commands.
func (p *Paths) CommandFile() string {
	return filepath.Join(p.CacheDir, "cmd")
}

// AppletLog is the applet's own zap log.
func (p *Paths) AppletLog() string {
	return filepath.Join(p.CacheDir, AppName+".log")
}

// LockFile guards against a second applet instance.
func (p *Paths) LockFile() string {
	return filepath.Join(p.CacheDir, AppName+".lock")
}
