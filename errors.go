package gobzlrel

import "errors"

// Sentinel errors returned by the Engine.
var (
	// ErrClosed indicates the engine was used after Close.
	ErrClosed = errors.New("engine closed")

	// ErrNoVersion indicates an operation needs an explicit version.
	ErrNoVersion = errors.New("version is required")

	// ErrNotPinned indicates no specific version is configured for a module.
	ErrNotPinned = errors.New("no specific version configured")
)
