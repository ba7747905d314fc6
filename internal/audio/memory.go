package audio

import (
	"sync"
	"time"
)

// MemoryPlayer simulates playback without a device. A buffer "plays" for
// its real duration scaled by Speed.
type MemoryPlayer struct {
	format Format

	// Speed divides the simulated duration. Zero means real time.
	Speed float64

	mu      sync.Mutex
	until   time.Time
	played  [][]byte
	stops   int
	closed  bool
	failErr error
}

// NewMemoryPlayer creates a silent player for format f.
func NewMemoryPlayer(f Format) *MemoryPlayer {
	return &MemoryPlayer{format: f}
}

// FailWith makes subsequent Play calls return err. Nil clears it.
func (m *MemoryPlayer) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// Play implements Player.
func (m *MemoryPlayer) Play(pcm []byte) error {
	if len(pcm) == 0 {
		return ErrEmpty
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.failErr != nil {
		return m.failErr
	}

	d := m.format.Duration(len(pcm))
	if m.Speed > 0 {
		d = time.Duration(float64(d) / m.Speed)
	}
	m.until = time.Now().Add(d)
	m.played = append(m.played, append([]byte(nil), pcm...))
	return nil
}

// Stop implements Player.
func (m *MemoryPlayer) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Now().Before(m.until) {
		m.stops++
	}
	m.until = time.Time{}
	return nil
}

// IsPlaying implements Player.
func (m *MemoryPlayer) IsPlaying() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Now().Before(m.until)
}

// Close implements Player.
func (m *MemoryPlayer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.until = time.Time{}
	m.closed = true
	return nil
}

// Played returns copies of every buffer passed to Play.
func (m *MemoryPlayer) Played() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.played...)
}

// Stops counts Stop calls that cut playback short.
func (m *MemoryPlayer) Stops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}
