package inference

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when no backend handle has been published.
	ErrNotConnected = errors.New("no backend connection")

	// ErrNoTarget is returned by Reconnect before any Connect call.
	ErrNoTarget = errors.New("no connection target recorded")

	// ErrNoModels is returned when the backend has no model loaded.
	ErrNoModels = errors.New("backend has no models loaded")

	// ErrModelNotFound is returned when the requested model is not loaded.
	ErrModelNotFound = errors.New("model not found")

	// ErrSuperseded is returned when Connect targeted a different backend
	// before this attempt finished.
	ErrSuperseded = errors.New("connection target changed")

	// ErrImageMissing is returned when an image file cannot be read.
	ErrImageMissing = errors.New("image missing")
)

// ConnectionError reports a failure to reach the backend or resolve the
// requested model.
type ConnectionError struct {
	Address string
	Model   string
	Err     error
}

func (e *ConnectionError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("connection to %s (model %q) failed: %v", e.Address, e.Model, e.Err)
	}
	return fmt.Sprintf("connection to %s failed: %v", e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
