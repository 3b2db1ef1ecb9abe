package nuvom

import "errors"

var (
	// Registry errors.
	ErrUnknownTask   = errors.New("nuvom: unknown task")
	ErrDuplicateTask = errors.New("nuvom: task already registered")

	// Record errors.
	ErrCorruptRecord    = errors.New("nuvom: corrupt record")
	ErrUnsupportedValue = errors.New("nuvom: value not representable by codec")
	ErrJobNotFound      = errors.New("nuvom: job not found")

	// Startup errors.
	ErrPluginLoad      = errors.New("nuvom: plugin load failed")
	ErrUnknownBackend  = errors.New("nuvom: unknown backend")
	ErrCorruptManifest = errors.New("nuvom: corrupt task manifest")

	// Runtime errors.
	ErrBackendUnavailable = errors.New("nuvom: backend unavailable")
	ErrQueueClosed        = errors.New("nuvom: queue closed")
	ErrQueueFull          = errors.New("nuvom: queue full")
	ErrJobTimeout         = errors.New("nuvom: job timed out")
)
