// Package queue provides the unbounded FIFO used to hand results and speech
// items between goroutines. A queue supports both a non-blocking poll for
// cooperative loops that run on a fixed tick and a blocking, cancellable
// receive for consumers that live on their own goroutine.
package queue
