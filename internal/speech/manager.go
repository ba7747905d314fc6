// Package speech serializes text-to-speech output onto one long-lived
// goroutine that owns the synthesizer.
//
// Callers on any goroutine use Speak, Stop and SetEnabled. Those only touch
// the backlog and atomic flags; the engine itself is driven exclusively by
// the speech goroutine, which rebuilds it after failures and is restarted
// on demand if it ever exits.
package speech

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/localvision/localvision/internal/observability"
	"github.com/localvision/localvision/internal/queue"
)

// Defaults for the loop timings.
const (
	DefaultIdleWait     = 50 * time.Millisecond
	DefaultRecoverDelay = time.Second
	DefaultJoinTimeout  = 2 * time.Second
)

// Manager owns the speech goroutine.
type Manager struct {
	factory Factory
	logger  *log.Logger
	metrics *observability.Metrics

	idleWait     time.Duration
	recoverDelay time.Duration
	joinTimeout  time.Duration

	backlog *queue.Queue[queued]
	wake    chan struct{}

	enabled  atomic.Bool
	stopGen  atomic.Uint64
	busy     atomic.Bool
	state    atomic.Int32
	restarts atomic.Int64

	// seenStop is the last stop generation applied to the engine. Only the
	// speech goroutine touches it.
	seenStop uint64

	mu       sync.Mutex // guards the goroutine lifecycle below
	quit     chan struct{}
	done     chan struct{}
	shutdown bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics records speech events.
func WithMetrics(mt *observability.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithIdleWait sets how long the loop sleeps when nothing is queued.
func WithIdleWait(d time.Duration) Option {
	return func(m *Manager) { m.idleWait = d }
}

// WithRecoverDelay sets the pause between failed engine rebuilds.
func WithRecoverDelay(d time.Duration) Option {
	return func(m *Manager) { m.recoverDelay = d }
}

// WithJoinTimeout bounds how long Shutdown waits for the goroutine.
func WithJoinTimeout(d time.Duration) Option {
	return func(m *Manager) { m.joinTimeout = d }
}

// WithEnabled sets the initial enabled flag. The default is enabled.
func WithEnabled(enabled bool) Option {
	return func(m *Manager) { m.enabled.Store(enabled) }
}

// New creates a manager and starts its goroutine.
func New(factory Factory, opts ...Option) *Manager {
	m := &Manager{
		factory:      factory,
		logger:       log.Default(),
		idleWait:     DefaultIdleWait,
		recoverDelay: DefaultRecoverDelay,
		joinTimeout:  DefaultJoinTimeout,
		backlog:      queue.New[queued](),
		wake:         make(chan struct{}, 1),
	}
	m.enabled.Store(true)
	for _, opt := range opts {
		opt(m)
	}

	_ = m.Start()
	return m
}

// Start launches the speech goroutine unless one is alive. It reports
// ErrShutdown after Shutdown.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shutdown {
		return ErrShutdown
	}
	if m.aliveLocked() {
		return nil
	}

	if m.done != nil {
		m.logger.Warn("speech goroutine is dead, restarting")
		m.restarts.Add(1)
	}
	m.quit = make(chan struct{})
	m.done = make(chan struct{})
	m.state.Store(int32(StateStarting))
	go m.run(m.quit, m.done)
	return nil
}

// Speak queues text. With interrupt set, the backlog is replaced by text and
// the current utterance is cut off; otherwise text is appended. Empty text
// and a disabled manager make this a no-op. A dead goroutine is restarted
// first.
func (m *Manager) Speak(text string, interrupt bool) {
	if text == "" || !m.enabled.Load() {
		return
	}
	if err := m.Start(); err != nil {
		return
	}

	item := queued{Item: Item{Text: text, Interrupt: interrupt}, gen: m.stopGen.Load()}
	var err error
	if interrupt {
		err = m.backlog.Replace(item)
	} else {
		err = m.backlog.Push(item)
	}
	if err != nil {
		return
	}

	m.metrics.SpeechEvent("queued")
	m.metrics.SetSpeechPending(m.backlog.Len())
	m.signal()
}

// Stop drops the backlog and asks the speech goroutine to silence the
// engine. Text queued after Stop returns is not affected. Safe to call at
// any time.
func (m *Manager) Stop() {
	m.stopGen.Add(1)
	if n := m.backlog.Clear(); n > 0 {
		m.logger.Debug("speech backlog cleared", "dropped", n)
	}
	m.metrics.SetSpeechPending(0)
	m.signal()
}

// SetEnabled turns speech on or off. Disabling also stops current playback.
func (m *Manager) SetEnabled(enabled bool) {
	m.enabled.Store(enabled)
	if !enabled {
		m.Stop()
	}
}

// Enabled reports whether Speak accepts text.
func (m *Manager) Enabled() bool {
	return m.enabled.Load()
}

// Shutdown stops the goroutine and waits up to the join timeout for it to
// exit. Calling it again is a no-op. The manager cannot be restarted.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return
	}
	m.shutdown = true
	done := m.done
	if m.quit != nil {
		close(m.quit)
	}
	m.mu.Unlock()

	m.backlog.Clear()
	_ = m.backlog.Close()

	if done != nil {
		select {
		case <-done:
		case <-time.After(m.joinTimeout):
			m.logger.Warn("speech goroutine did not exit in time", "timeout", m.joinTimeout)
		}
	}
	m.state.Store(int32(StateStopped))
}

// Running reports whether the speech goroutine is alive.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.aliveLocked()
}

// State returns the current lifecycle phase.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Pending returns the queued items in speaking order.
func (m *Manager) Pending() []Item {
	snap := m.backlog.Snapshot()
	items := make([]Item, len(snap))
	for i, q := range snap {
		items[i] = q.Item
	}
	return items
}

// Idle reports whether nothing is queued and the engine was quiet on the
// last loop iteration.
func (m *Manager) Idle() bool {
	return m.backlog.Len() == 0 && !m.busy.Load()
}

// Restarts counts how many times a dead goroutine was restarted.
func (m *Manager) Restarts() int64 {
	return m.restarts.Load()
}

func (m *Manager) aliveLocked() bool {
	if m.done == nil {
		return false
	}
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) run(quit, done chan struct{}) {
	defer close(done)

	eng, err := m.open()
	if err != nil {
		m.logger.Error("speech engine failed to start", "err", err)
		m.state.Store(int32(StateStopped))
		return
	}
	m.state.Store(int32(StateRunning))
	m.logger.Debug("speech loop started")

	defer func() {
		if eng != nil {
			m.closeEngine(eng)
		}
		m.busy.Store(false)
		m.state.Store(int32(StateStopped))
		m.logger.Debug("speech loop ended")
	}()

	for {
		select {
		case <-quit:
			return
		default:
		}

		if err := m.step(eng, quit); err != nil {
			m.logger.Error("speech engine error, rebuilding", "err", err)
			m.state.Store(int32(StateRecovering))
			m.metrics.SpeechRestarted()

			m.closeEngine(eng)
			if eng = m.rebuild(quit); eng == nil {
				return
			}
			m.state.Store(int32(StateRunning))
		}
	}
}

// step runs one loop iteration. Any engine error or panic is returned as
// ErrEngineFailure.
func (m *Manager) step(eng Engine, quit <-chan struct{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrEngineFailure, r)
		}
	}()

	m.applyStop(eng)

	if err := eng.Iterate(); err != nil {
		return fmt.Errorf("%w: iterate: %w", ErrEngineFailure, err)
	}
	m.busy.Store(eng.IsBusy())

	next, ok := m.backlog.TryPop()
	if !ok {
		select {
		case <-m.wake:
		case <-quit:
		case <-time.After(m.idleWait):
		}
		return nil
	}
	m.metrics.SetSpeechPending(m.backlog.Len())

	// A Stop may have arrived while the engine was iterating. Apply it
	// before speaking so it only silences what was queued earlier.
	m.applyStop(eng)
	if next.gen < m.seenStop {
		m.metrics.SpeechEvent("dropped")
		return nil
	}
	item := next.Item

	if item.Interrupt && eng.IsBusy() {
		if serr := eng.Stop(); serr != nil {
			m.logger.Warn("speech engine stop failed", "err", serr)
		}
		m.metrics.SpeechEvent("interrupted")
	}

	m.busy.Store(true)
	if err := eng.Say(item.Text); err != nil {
		m.busy.Store(false)
		return fmt.Errorf("%w: say: %w", ErrEngineFailure, err)
	}
	m.metrics.SpeechEvent("spoken")
	return nil
}

// applyStop silences the engine once per Stop call.
func (m *Manager) applyStop(eng Engine) {
	gen := m.stopGen.Load()
	if gen == m.seenStop {
		return
	}
	m.seenStop = gen
	if err := eng.Stop(); err != nil {
		m.logger.Warn("speech engine stop failed", "err", err)
	}
}

// rebuild retries the factory until it succeeds or quit closes, backing
// off between failures.
func (m *Manager) rebuild(quit <-chan struct{}) Engine {
	for {
		eng, err := m.open()
		if err == nil {
			m.logger.Info("speech engine rebuilt")
			return eng
		}
		m.logger.Error("speech engine rebuild failed", "err", err, "retry_in", m.recoverDelay)

		select {
		case <-quit:
			return nil
		case <-time.After(m.recoverDelay):
		}
	}
}

func (m *Manager) open() (eng Engine, err error) {
	defer func() {
		if r := recover(); r != nil {
			eng, err = nil, fmt.Errorf("%w: panic during init: %v", ErrEngineFailure, r)
		}
	}()
	return m.factory()
}

func (m *Manager) closeEngine(eng Engine) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("speech engine panicked on close", "panic", r)
		}
	}()
	if err := eng.Close(); err != nil {
		m.logger.Warn("speech engine close failed", "err", err)
	}
}
