package backend

import "github.com/eliteGoblin/focusd/kvmtray/internal/domain"

// BarrierBackend implements Backend for Barrier.
// Input Leap is a Barrier fork and still logs the same connection messages.
type BarrierBackend struct{}

// NewBarrierBackend creates the Barrier preset.
func NewBarrierBackend() *BarrierBackend {
	return &BarrierBackend{}
}

func (b *BarrierBackend) ID() string {
	return "barrier"
}

func (b *BarrierBackend) Name() string {
	return "Barrier"
}

func (b *BarrierBackend) ConfigDir() string {
	return "~/.local/share/barrier"
}

func (b *BarrierBackend) Server() domain.RoleProfile {
	return domain.RoleProfile{
		Executable:   "/usr/bin/barriers",
		Args:         []string{"--no-tray", "--no-daemon", "--log", "{log}"},
		LogFile:      "barriers.log",
		Connected:    `NOTE: accepted client connection`,
		Disconnected: `client "[^"]*" has disconnected`,
	}
}

func (b *BarrierBackend) Client() domain.RoleProfile {
	return domain.RoleProfile{
		Executable:   "/usr/bin/barrierc",
		Args:         []string{"--no-tray", "--no-daemon", "--log", "{log}", "{peer}"},
		LogFile:      "barrierc.log",
		Connected:    `connected to server`,
		Disconnected: `disconnected from server`,
	}
}

// Ensure BarrierBackend implements Backend.
var _ Backend = (*BarrierBackend)(nil)
