// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/eliteGoblin/focusd/kvmtray/internal/domain"
)

const (
	// ConnectedLine and DisconnectedLine match FakeDaemon.Backend patterns.
	ConnectedLine    = "NOTE: connected to server"
	DisconnectedLine = "NOTE: disconnected from server"
)

// FakeDaemon is a shell script standing in for a KVM daemon.
// It appends its startup lines to the file after --log and then idles
// until terminated.
type FakeDaemon struct {
	Dir  string
	Name string
}

// NewFakeDaemon creates a fake daemon generator in dir.
func NewFakeDaemon(dir, name string) *FakeDaemon {
	return &FakeDaemon{Dir: dir, Name: name}
}

// Path returns the script path.
func (f *FakeDaemon) Path() string {
	return filepath.Join(f.Dir, f.Name)
}

// Create writes the script; lines are logged once at startup.
func (f *FakeDaemon) Create(lines ...string) error {
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	b.WriteString("log=/dev/null\n")
	b.WriteString("while [ $# -gt 0 ]; do\n")
	b.WriteString("  case \"$1\" in --log) log=\"$2\"; shift ;; esac\n")
	b.WriteString("  shift\n")
	b.WriteString("done\n")
	for _, l := range lines {
		b.WriteString("printf '%s\\n' " + shellQuote(l) + " >> \"$log\"\n")
	}
	b.WriteString("trap 'exit 0' TERM INT\n")
	b.WriteString("while :; do sleep 0.1; done\n")

	if err := os.MkdirAll(f.Dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(f.Path(), []byte(b.String()), 0755)
}

// Backend returns a backend config that runs this script in both roles.
func (f *FakeDaemon) Backend() domain.BackendConfig {
	profile := func(role string) domain.RoleProfile {
		return domain.RoleProfile{
			Executable:   f.Path(),
			Args:         []string{"--role", role, "--log", "{log}"},
			LogFile:      f.Name + "-" + role + ".log",
			Connected:    "connected to server",
			Disconnected: "disconnected from server",
		}
	}
	return domain.BackendConfig{
		ID:     f.Name,
		Name:   "Fake KVM",
		Server: profile("server"),
		Client: profile("client"),
	}
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
