// Package result carries the outcome of a background request back to
// whoever submitted it.
//
// A Channel is written once by the worker goroutine and read by the
// submitter, either by polling from a ticking event loop or by waiting from
// a goroutine that can afford to block.
package result

import (
	"context"

	"github.com/localvision/localvision/internal/queue"
)

// Channel is an unbounded single-use hand-off. Send never blocks.
type Channel[T any] struct {
	q *queue.Queue[T]
}

// NewChannel returns an empty channel.
func NewChannel[T any]() *Channel[T] {
	return &Channel[T]{q: queue.New[T]()}
}

// Send delivers v. It never blocks and never fails: a closed channel drops
// the value.
func (c *Channel[T]) Send(v T) {
	_ = c.q.Push(v)
}

// Poll returns the next value if one is ready.
func (c *Channel[T]) Poll() (T, bool) {
	return c.q.TryPop()
}

// Wait blocks until a value arrives or ctx is done.
func (c *Channel[T]) Wait(ctx context.Context) (T, error) {
	return c.q.Pop(ctx)
}

// Len reports how many values are waiting.
func (c *Channel[T]) Len() int {
	return c.q.Len()
}

// Close releases any goroutine blocked in Wait. Values already sent can
// still be polled.
func (c *Channel[T]) Close() {
	_ = c.q.Close()
}
