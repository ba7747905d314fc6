package speech

// State is the lifecycle phase of the speech goroutine.
type State int32

const (
	// StateIdle means no goroutine has been started yet.
	StateIdle State = iota
	// StateStarting means the engine is being built.
	StateStarting
	// StateRunning means the loop is pumping the engine and the backlog.
	StateRunning
	// StateRecovering means the engine failed and is being rebuilt.
	StateRecovering
	// StateStopped means the goroutine has exited.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateRecovering:
		return "recovering"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Item is one utterance request.
type Item struct {
	Text      string
	Interrupt bool
}

// queued tags an item with the stop generation it was queued under.
type queued struct {
	Item
	gen uint64
}
