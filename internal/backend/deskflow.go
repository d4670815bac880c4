package backend

import "github.com/eliteGoblin/focusd/kvmtray/internal/domain"

// DeskflowBackend implements Backend for Deskflow.
// Deskflow reads its log location from its own settings file, so the log
// file names here must match what Deskflow.conf points at.
type DeskflowBackend struct{}

// NewDeskflowBackend creates the Deskflow preset.
func NewDeskflowBackend() *DeskflowBackend {
	return &DeskflowBackend{}
}

func (b *DeskflowBackend) ID() string {
	return "deskflow"
}

func (b *DeskflowBackend) Name() string {
	return "Deskflow"
}

func (b *DeskflowBackend) ConfigDir() string {
	return "~/.config/Deskflow"
}

func (b *DeskflowBackend) Server() domain.RoleProfile {
	return domain.RoleProfile{
		Executable:   "/usr/bin/deskflow-server",
		Args:         []string{"-s", "{config}/Deskflow.conf", "-c", "{config}/deskflow-server.conf"},
		LogFile:      "deskflow-server.log",
		Connected:    `IPC: .*connected`,
		Disconnected: `IPC: .*disconnected`,
	}
}

func (b *DeskflowBackend) Client() domain.RoleProfile {
	return domain.RoleProfile{
		Executable:   "/usr/bin/deskflow-client",
		Args:         []string{"-s", "{config}/deskflow-client.conf"},
		LogFile:      "deskflow-client.log",
		Connected:    `IPC: .*connected`,
		Disconnected: `IPC: .*disconnected`,
	}
}

// Ensure DeskflowBackend implements Backend.
var _ Backend = (*DeskflowBackend)(nil)
