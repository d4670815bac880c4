// Package backend implements the Strategy pattern for the KVM software families
// the applet can supervise. Each backend (Deskflow, Input Leap, Barrier) knows
// its binaries, arguments per role, log file names and log patterns.
package backend

import (
	"time"

	"github.com/eliteGoblin/focusd/kvmtray/internal/domain"
)

// DefaultBackendID is used when no --backend flag is given.
const DefaultBackendID = "deskflow"

// Backend defines the strategy interface for one KVM software family.
type Backend interface {
	// ID returns unique identifier (e.g., "deskflow", "input-leap").
	ID() string

	// Name returns human-readable name for labels.
	Name() string

	// Server returns how to run the server role.
	Server() domain.RoleProfile

	// Client returns how to run the client role.
	Client() domain.RoleProfile

	// ConfigDir returns the backend's own config directory (~ allowed).
	ConfigDir() string
}

// ToConfig converts a Backend to the domain.BackendConfig the controller consumes.
func ToConfig(b Backend) domain.BackendConfig {
	return domain.BackendConfig{
		ID:        b.ID(),
		Name:      b.Name(),
		ConfigDir: b.ConfigDir(),
		Server:    b.Server(),
		Client:    b.Client(),
	}
}

// PausePreset is one "turn off for a while" menu entry.
type PausePreset struct {
	Label    string
	Duration time.Duration
}

// PausePresets are the durations offered by the tray menu.
// "Restart" is a one second pause: stop now, re-evaluate right after.
var PausePresets = []PausePreset{
	{Label: "Restart", Duration: time.Second},
	{Label: "10 Seconds", Duration: 10 * time.Second},
	{Label: "1 Minute", Duration: time.Minute},
	{Label: "30 Minutes", Duration: 30 * time.Minute},
	{Label: "1 Hour", Duration: time.Hour},
	{Label: "1.5 Hours", Duration: 90 * time.Minute},
	{Label: "2 Hours", Duration: 2 * time.Hour},
}
