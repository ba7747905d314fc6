// Package mock provides a silent speech engine that simulates how long each
// utterance takes.
package mock

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("mock engine closed")

// Engine implements speech.Engine without producing sound.
type Engine struct {
	wpm int
	out io.Writer
	now func() time.Time

	mu      sync.Mutex
	queue   []string
	current string
	until   time.Time
	started []string
	stops   int
	failSay error
	closed  bool
}

// Option configures the engine.
type Option func(*Engine)

// WithRate sets the simulated speaking rate in words per minute.
func WithRate(wpm int) Option {
	return func(e *Engine) {
		if wpm > 0 {
			e.wpm = wpm
		}
	}
}

// WithOutput echoes each utterance to w as it starts.
func WithOutput(w io.Writer) Option {
	return func(e *Engine) { e.out = w }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates a mock engine speaking at 170 words per minute.
func New(opts ...Option) *Engine {
	e := &Engine{wpm: 170, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FailSay makes subsequent Say calls return err.
func (e *Engine) FailSay(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failSay = err
}

// Iterate finishes the current utterance once its time is up and starts
// the next one.
func (e *Engine) Iterate() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}

	now := e.now()
	if e.current != "" && !now.Before(e.until) {
		e.current = ""
	}
	if e.current == "" && len(e.queue) > 0 {
		e.current, e.queue = e.queue[0], e.queue[1:]
		e.until = now.Add(e.duration(e.current))
		e.started = append(e.started, e.current)
		if e.out != nil {
			_, _ = fmt.Fprintln(e.out, e.current)
		}
	}
	return nil
}

// Say queues text.
func (e *Engine) Say(text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if e.failSay != nil {
		return e.failSay
	}
	e.queue = append(e.queue, text)
	return nil
}

// Stop drops the current utterance and the queue.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.current = ""
	e.queue = nil
	e.stops++
	return nil
}

// IsBusy reports whether anything is playing or queued.
func (e *Engine) IsBusy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current != "" || len(e.queue) > 0
}

// Close marks the engine unusable.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.queue = nil
	e.current = ""
	return nil
}

// Started lists utterances in the order they began.
func (e *Engine) Started() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.started...)
}

// Stops counts Stop calls.
func (e *Engine) Stops() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stops
}

func (e *Engine) duration(text string) time.Duration {
	words := len(strings.Fields(text))
	if words == 0 {
		words = 1
	}
	return time.Duration(words) * time.Minute / time.Duration(e.wpm)
}
