package domain

import "errors"

var (
	// ErrSpawnFailure means the managed executable could not be started.
	ErrSpawnFailure = errors.New("spawn failure")

	// ErrConfigLoad means the Mode file was missing or corrupt. Callers fall back to defaults.
	ErrConfigLoad = errors.New("config load failure")

	// ErrObserverUnavailable means no lock/unlock signal source could be reached.
	ErrObserverUnavailable = errors.New("idle observer unavailable")

	// ErrControllerStopped is returned by controller calls made after its loop exited.
	ErrControllerStopped = errors.New("controller stopped")

	ErrUnknownBackend = errors.New("unknown backend")
	ErrInvalidRole    = errors.New("invalid role")
	ErrInvalidCommand = errors.New("invalid command")
)
