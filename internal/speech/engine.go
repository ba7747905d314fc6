package speech

// Engine is a speech synthesizer driven from a single goroutine. None of
// its methods are called concurrently.
type Engine interface {
	// Iterate advances the engine's own event processing. It must not
	// block for long.
	Iterate() error
	// Say queues text behind anything the engine is already speaking.
	Say(text string) error
	// Stop cuts off the current utterance and drops the engine's own queue.
	Stop() error
	// IsBusy reports whether the engine is speaking or has queued text.
	IsBusy() bool
	// Close releases the engine.
	Close() error
}

// Factory builds an engine. It runs on the speech goroutine and doubles as
// audio subsystem initialization.
type Factory func() (Engine, error)
