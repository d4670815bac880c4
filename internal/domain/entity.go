// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"fmt"
	"time"
)

// Role identifies which side of the shared-input session this machine plays.
type Role string

const (
	RoleServer Role = "server"
	RoleClient Role = "client"
)

// ParseRole converts user input into a Role.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleServer, RoleClient:
		return Role(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
}

// Mode is the persisted user preference record.
// JSON keys match the settings file written by the older Python applets.
type Mode struct {
	Role                Role   `json:"mode"`
	FollowScreensaver   bool   `json:"follow_screensaver"`
	RemoteUnlockCommand string `json:"remote_unlock_command,omitempty"`
}

// DefaultMode is used on first run and whenever the settings file is unreadable.
func DefaultMode() Mode {
	return Mode{Role: RoleClient, FollowScreensaver: false}
}

// RunState is the controller's intent for the managed process.
type RunState int

const (
	StateStopped RunState = iota
	StateRunning
)

func (s RunState) String() string {
	if s == StateRunning {
		return "running"
	}
	return "stopped"
}

// DisplayState is what the tray icon shows. Always derived, never stored.
type DisplayState int

const (
	DisplayInactive DisplayState = iota // supervisor intentionally stopped
	DisplayIdle                         // running, no peer yet
	DisplayActive                       // running, peer connected
)

func (d DisplayState) String() string {
	switch d {
	case DisplayIdle:
		return "idle"
	case DisplayActive:
		return "active"
	default:
		return "inactive"
	}
}

// Classification is the connection status inferred from the daemon log.
type Classification int

const (
	ClassUnknown Classification = iota
	ClassConnected
	ClassDisconnected
)

func (c Classification) String() string {
	switch c {
	case ClassConnected:
		return "connected"
	case ClassDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// LockEvent is a screen lock transition reported by an IdleObserver.
type LockEvent int

const (
	EventLocked LockEvent = iota + 1
	EventUnlocked
)

func (e LockEvent) String() string {
	if e == EventLocked {
		return "locked"
	}
	return "unlocked"
}

// LaunchSpec is everything needed to spawn the managed daemon once.
type LaunchSpec struct {
	Executable string
	Args       []string
	LogPath    string
}

// RoleProfile describes how one backend runs in one role.
type RoleProfile struct {
	Executable   string   `yaml:"executable"`
	Args         []string `yaml:"args"`         // {log}, {config} and {peer} are substituted
	LogFile      string   `yaml:"log_file"`     // file name inside the log directory
	Connected    string   `yaml:"connected"`    // regex for "connection established" lines
	Disconnected string   `yaml:"disconnected"` // regex for "connection ended" lines
}

// BackendConfig parameterizes the controller for one KVM software family.
type BackendConfig struct {
	ID        string      `yaml:"id"`
	Name      string      `yaml:"name"`
	ConfigDir string      `yaml:"config_dir"` // ~-relative directory holding the backend's own config
	Peer      string      `yaml:"peer"`       // server address substituted for {peer} in client args
	Server    RoleProfile `yaml:"server"`
	Client    RoleProfile `yaml:"client"`
}

// Profile returns the role-specific profile.
func (b BackendConfig) Profile(role Role) RoleProfile {
	if role == RoleServer {
		return b.Server
	}
	return b.Client
}

// Icon returns the themed icon name for a display state, e.g. "deskflow-idle".
func (b BackendConfig) Icon(d DisplayState) string {
	return b.ID + "-" + d.String()
}

// Label returns the tooltip text, e.g. "Deskflow Server Active".
func (b BackendConfig) Label(role Role, d DisplayState) string {
	roleWord := "Client"
	if role == RoleServer {
		roleWord = "Server"
	}
	var stateWord string
	switch d {
	case DisplayActive:
		stateWord = "Active"
	case DisplayIdle:
		stateWord = "Idle"
	default:
		stateWord = "Inhibited"
	}
	return b.Name + " " + roleWord + " " + stateWord
}

// ManagedProcess binds one supervisor to the role it was built for.
// A new one is constructed on every role switch.
type ManagedProcess struct {
	Role       Role
	Spec       LaunchSpec
	Supervisor ProcessSupervisor
	Classifier ConnectionClassifier
}

// Status is the snapshot published to the UI.
type Status struct {
	Backend           string     `json:"backend"`
	Role              Role       `json:"role"`
	RunState          string     `json:"run_state"`
	Display           string     `json:"display"`
	FollowScreensaver bool       `json:"follow_screensaver"`
	OverrideDeadline  *time.Time `json:"override_deadline,omitempty"`
	Label             string     `json:"label"`
	Icon              string     `json:"icon"`
	PID               int        `json:"pid,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}
