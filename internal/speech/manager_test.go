package speech

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine records calls. Only the speech goroutine drives it; the mutex
// lets tests inspect it.
type fakeEngine struct {
	mu         sync.Mutex
	said       []string
	stops      int
	busy       bool
	closed     bool
	sayErr     error
	sayPanic   bool
	iterateErr error
}

func (e *fakeEngine) Iterate() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.iterateErr
	e.iterateErr = nil
	return err
}

func (e *fakeEngine) Say(text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sayPanic {
		panic("engine exploded")
	}
	if e.sayErr != nil {
		return e.sayErr
	}
	e.said = append(e.said, text)
	return nil
}

func (e *fakeEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stops++
	return nil
}

func (e *fakeEngine) IsBusy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.busy
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *fakeEngine) Said() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.said...)
}

func (e *fakeEngine) Stops() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stops
}

func (e *fakeEngine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// engineFactory hands out engines in order; nil entries fail.
type engineFactory struct {
	mu      sync.Mutex
	engines []*fakeEngine
	builds  int
}

func (f *engineFactory) New() (Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := f.builds
	f.builds++
	if i >= len(f.engines) {
		i = len(f.engines) - 1
	}
	if f.engines[i] == nil {
		return nil, fmt.Errorf("%w: no audio device", ErrEngineUnavailable)
	}
	return f.engines[i], nil
}

func (f *engineFactory) Builds() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.builds
}

func quiet() Option {
	l := log.New(io.Discard)
	l.SetLevel(log.FatalLevel)
	return WithLogger(l)
}

func fast() []Option {
	return []Option{
		quiet(),
		WithIdleWait(2 * time.Millisecond),
		WithRecoverDelay(5 * time.Millisecond),
		WithJoinTimeout(500 * time.Millisecond),
	}
}

// blockedManager returns a manager whose goroutine is stuck in engine
// construction, so the backlog can be inspected without a consumer.
func blockedManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	release := make(chan struct{})
	factory := func() (Engine, error) {
		<-release
		return &fakeEngine{}, nil
	}

	all := append(fast(), WithJoinTimeout(50*time.Millisecond))
	m := New(factory, append(all, opts...)...)
	t.Cleanup(func() {
		close(release)
		m.Shutdown()
	})
	return m
}

func texts(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Text
	}
	return out
}

func TestManager_SpeakEmptyIsNoop(t *testing.T) {
	m := blockedManager(t)

	m.Speak("", true)
	m.Speak("", false)
	assert.Empty(t, m.Pending())
}

func TestManager_AppendAndInterrupt(t *testing.T) {
	m := blockedManager(t)

	m.Speak("one", false)
	m.Speak("two", false)
	assert.Equal(t, []string{"one", "two"}, texts(m.Pending()))

	m.Speak("three", false)
	assert.Equal(t, []string{"one", "two", "three"}, texts(m.Pending()))

	m.Speak("now", true)
	assert.Equal(t, []Item{{Text: "now", Interrupt: true}}, m.Pending())
}

func TestManager_DisabledIgnoresSpeak(t *testing.T) {
	m := blockedManager(t, WithEnabled(false))

	m.Speak("hello", true)
	assert.Empty(t, m.Pending())
	assert.False(t, m.Enabled())

	m.SetEnabled(true)
	m.Speak("hello", true)
	assert.Len(t, m.Pending(), 1)
}

func TestManager_StopClearsBacklog(t *testing.T) {
	m := blockedManager(t)

	m.Speak("a", false)
	m.Speak("b", false)
	m.Stop()
	assert.Empty(t, m.Pending())

	// Safe with nothing queued.
	m.Stop()
}

func TestManager_SpeaksInOrder(t *testing.T) {
	eng := &fakeEngine{}
	f := &engineFactory{engines: []*fakeEngine{eng}}
	m := New(f.New, fast()...)
	defer m.Shutdown()

	m.Speak("a", false)
	m.Speak("b", false)
	m.Speak("c", false)

	require.Eventually(t, func() bool { return len(eng.Said()) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, eng.Said())
	assert.Equal(t, StateRunning, m.State())
	assert.True(t, m.Running())
}

func TestManager_InterruptStopsBusyEngine(t *testing.T) {
	eng := &fakeEngine{busy: true}
	f := &engineFactory{engines: []*fakeEngine{eng}}
	m := New(f.New, fast()...)
	defer m.Shutdown()

	m.Speak("long story", false)
	require.Eventually(t, func() bool { return len(eng.Said()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, eng.Stops())

	m.Speak("urgent", true)
	require.Eventually(t, func() bool { return len(eng.Said()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, eng.Stops())
	assert.Equal(t, []string{"long story", "urgent"}, eng.Said())
}

func TestManager_Idle(t *testing.T) {
	eng := &fakeEngine{}
	f := &engineFactory{engines: []*fakeEngine{eng}}
	m := New(f.New, fast()...)
	defer m.Shutdown()

	require.Eventually(t, m.Idle, time.Second, time.Millisecond)

	eng.mu.Lock()
	eng.busy = true
	eng.mu.Unlock()
	m.Speak("hello", false)
	require.Eventually(t, func() bool { return len(eng.Said()) == 1 }, time.Second, time.Millisecond)
	assert.False(t, m.Idle())

	eng.mu.Lock()
	eng.busy = false
	eng.mu.Unlock()
	require.Eventually(t, m.Idle, time.Second, time.Millisecond)
}

func TestManager_StopReachesEngine(t *testing.T) {
	eng := &fakeEngine{}
	f := &engineFactory{engines: []*fakeEngine{eng}}
	m := New(f.New, fast()...)
	defer m.Shutdown()

	m.Stop()
	require.Eventually(t, func() bool { return eng.Stops() == 1 }, time.Second, time.Millisecond)
}

// gatedEngine parks the first Iterate call until released and records the
// order of Stop and Say calls.
type gatedEngine struct {
	*fakeEngine
	parked  chan struct{}
	release chan struct{}
	once    sync.Once

	evMu   sync.Mutex
	events []string
}

func newGatedEngine() *gatedEngine {
	return &gatedEngine{
		fakeEngine: &fakeEngine{},
		parked:     make(chan struct{}),
		release:    make(chan struct{}),
	}
}

func (e *gatedEngine) Iterate() error {
	e.once.Do(func() {
		close(e.parked)
		<-e.release
	})
	return e.fakeEngine.Iterate()
}

func (e *gatedEngine) Say(text string) error {
	e.record("say:" + text)
	return e.fakeEngine.Say(text)
}

func (e *gatedEngine) Stop() error {
	e.record("stop")
	return e.fakeEngine.Stop()
}

func (e *gatedEngine) record(ev string) {
	e.evMu.Lock()
	defer e.evMu.Unlock()
	e.events = append(e.events, ev)
}

func (e *gatedEngine) Events() []string {
	e.evMu.Lock()
	defer e.evMu.Unlock()
	return append([]string(nil), e.events...)
}

func TestManager_StopDoesNotCutOffLaterSpeech(t *testing.T) {
	eng := newGatedEngine()
	m := New(func() (Engine, error) { return eng, nil }, fast()...)
	defer m.Shutdown()

	<-eng.parked
	m.Stop()
	m.Speak("fresh reply", true)
	close(eng.release)

	require.Eventually(t, func() bool { return len(eng.Said()) == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, []string{"stop", "say:fresh reply"}, eng.Events())
	assert.Equal(t, 1, eng.Stops())
}

func TestManager_DisableStopsPlayback(t *testing.T) {
	eng := &fakeEngine{}
	f := &engineFactory{engines: []*fakeEngine{eng}}
	m := New(f.New, fast()...)
	defer m.Shutdown()

	m.SetEnabled(false)
	require.Eventually(t, func() bool { return eng.Stops() == 1 }, time.Second, time.Millisecond)

	m.Speak("ignored", false)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, eng.Said())
}

func TestManager_RestartOnDemand(t *testing.T) {
	eng := &fakeEngine{}
	f := &engineFactory{engines: []*fakeEngine{nil, eng}}
	m := New(f.New, fast()...)
	defer m.Shutdown()

	require.Eventually(t, func() bool { return !m.Running() }, time.Second, time.Millisecond)
	assert.Equal(t, StateStopped, m.State())

	m.Speak("back again", true)

	require.Eventually(t, func() bool { return len(eng.Said()) == 1 }, time.Second, time.Millisecond)
	assert.True(t, m.Running())
	assert.Equal(t, int64(1), m.Restarts())
	assert.Equal(t, 2, f.Builds())
}

func TestManager_RecoversFromSayError(t *testing.T) {
	broken := &fakeEngine{sayErr: errors.New("audio device lost")}
	healthy := &fakeEngine{}
	f := &engineFactory{engines: []*fakeEngine{broken, healthy}}
	m := New(f.New, fast()...)
	defer m.Shutdown()

	m.Speak("lost", false)
	require.Eventually(t, func() bool { return f.Builds() == 2 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return m.State() == StateRunning }, time.Second, time.Millisecond)
	assert.True(t, broken.Closed())

	m.Speak("heard", false)
	require.Eventually(t, func() bool { return len(healthy.Said()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"heard"}, healthy.Said())
}

func TestManager_RecoversFromPanic(t *testing.T) {
	broken := &fakeEngine{sayPanic: true}
	healthy := &fakeEngine{}
	f := &engineFactory{engines: []*fakeEngine{broken, healthy}}
	m := New(f.New, fast()...)
	defer m.Shutdown()

	m.Speak("boom", false)
	require.Eventually(t, func() bool { return f.Builds() == 2 }, time.Second, time.Millisecond)

	m.Speak("fine", false)
	require.Eventually(t, func() bool { return len(healthy.Said()) == 1 }, time.Second, time.Millisecond)
	assert.True(t, m.Running())
}

func TestManager_RebuildBacksOff(t *testing.T) {
	broken := &fakeEngine{iterateErr: errors.New("event loop died")}
	healthy := &fakeEngine{}
	// Second build fails, third succeeds.
	f := &engineFactory{engines: []*fakeEngine{broken, nil, healthy}}
	m := New(f.New, fast()...)
	defer m.Shutdown()

	require.Eventually(t, func() bool { return f.Builds() == 3 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return m.State() == StateRunning }, time.Second, time.Millisecond)

	m.Speak("recovered", false)
	require.Eventually(t, func() bool { return len(healthy.Said()) == 1 }, time.Second, time.Millisecond)
}

func TestManager_ShutdownIdempotent(t *testing.T) {
	eng := &fakeEngine{}
	f := &engineFactory{engines: []*fakeEngine{eng}}
	m := New(f.New, fast()...)

	require.Eventually(t, func() bool { return m.State() == StateRunning }, time.Second, time.Millisecond)

	m.Shutdown()
	m.Shutdown()

	assert.False(t, m.Running())
	assert.Equal(t, StateStopped, m.State())
	assert.True(t, eng.Closed())

	m.Speak("too late", false)
	assert.Empty(t, m.Pending())
	assert.False(t, m.Running(), "shutdown is final")
	assert.ErrorIs(t, m.Start(), ErrShutdown)
}

func TestManager_ShutdownBoundedWhenStuck(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	m := New(func() (Engine, error) {
		<-release
		return &fakeEngine{}, nil
	}, quiet(), WithJoinTimeout(30*time.Millisecond))

	start := time.Now()
	m.Shutdown()
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StateStopped, m.State())
}

func TestManager_ConcurrentSpeak(t *testing.T) {
	eng := &fakeEngine{}
	f := &engineFactory{engines: []*fakeEngine{eng}}
	m := New(f.New, fast()...)
	defer m.Shutdown()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Speak(fmt.Sprintf("item %d", i), false)
		}(i)
	}
	wg.Wait()

	require.Eventually(t, func() bool { return len(eng.Said()) == n }, 2*time.Second, time.Millisecond)
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateIdle:       "idle",
		StateStarting:   "starting",
		StateRunning:    "running",
		StateRecovering: "recovering",
		StateStopped:    "stopped",
		State(99):       "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
