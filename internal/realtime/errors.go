package realtime

import (
	"errors"
	"fmt"
)

var (
	// ErrContextNotFound is returned for ids that were never created or
	// have already been released.
	ErrContextNotFound = errors.New("realtime: context not found")

	// ErrSessionBusy is returned by Start and OneShot while a job is active.
	ErrSessionBusy = errors.New("realtime: session busy")
)

// ConfigurationError reports an invalid option value.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("realtime: invalid option %s: %s", e.Field, e.Reason)
}

// DeviceInitError wraps a failure to open or start the capture device.
type DeviceInitError struct {
	Err error
}

func (e *DeviceInitError) Error() string {
	return fmt.Sprintf("realtime: capture device init: %v", e.Err)
}

func (e *DeviceInitError) Unwrap() error { return e.Err }

// EngineError is a non-zero, non-abort status returned by the engine.
type EngineError struct {
	Code int
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("transcribe failed with code %d", e.Code)
}
