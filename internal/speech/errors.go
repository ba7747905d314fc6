package speech

import "errors"

var (
	// ErrEngineUnavailable is returned by factories when the platform has no
	// usable synthesizer.
	ErrEngineUnavailable = errors.New("speech engine unavailable")

	// ErrEngineFailure wraps unexpected engine errors and panics inside the
	// speech loop. It never reaches callers of Speak.
	ErrEngineFailure = errors.New("speech engine failure")

	// ErrShutdown is reported by Start after Shutdown.
	ErrShutdown = errors.New("speech manager shut down")
)
