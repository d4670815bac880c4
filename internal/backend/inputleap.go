package backend

import "github.com/eliteGoblin/focusd/kvmtray/internal/domain"

// InputLeapBackend implements Backend for Input Leap.
type InputLeapBackend struct{}

// NewInputLeapBackend creates the Input Leap preset.
func NewInputLeapBackend() *InputLeapBackend {
	return &InputLeapBackend{}
}

func (b *InputLeapBackend) ID() string {
	return "input-leap"
}

func (b *InputLeapBackend) Name() string {
	return "Input Leap"
}

func (b *InputLeapBackend) ConfigDir() string {
	return "~/.config/input-leap"
}

func (b *InputLeapBackend) Server() domain.RoleProfile {
	return domain.RoleProfile{
		Executable:   "/usr/local/bin/input-leaps",
		Args:         []string{"--no-tray", "--no-daemon", "--restart", "--log", "{log}"},
		LogFile:      "input-leaps.log",
		Connected:    `NOTE: accepted client connection`,
		Disconnected: `client "[^"]*" has disconnected`,
	}
}

// Client needs the server address; set "peer" in backends.yaml.
func (b *InputLeapBackend) Client() domain.RoleProfile {
	return domain.RoleProfile{
		Executable:   "/usr/local/bin/input-leapc",
		Args:         []string{"--no-tray", "--no-daemon", "--use-x11", "--restart", "--log", "{log}", "{peer}"},
		LogFile:      "input-leapc.log",
		Connected:    `connected to server`,
		Disconnected: `disconnected from server`,
	}
}

// Ensure InputLeapBackend implements Backend.
var _ Backend = (*InputLeapBackend)(nil)
