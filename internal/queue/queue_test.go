package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestQueue_BasicOperations(t *testing.T) {
	q := New[string]()
	defer q.Close()

	if size := q.Len(); size != 0 {
		t.Errorf("Expected empty queue, got size %d", size)
	}

	if _, ok := q.TryPop(); ok {
		t.Error("Expected TryPop on empty queue to report false")
	}

	if err := q.Push("first"); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if err := q.Push("second"); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	if size := q.Len(); size != 2 {
		t.Errorf("Expected size 2, got %d", size)
	}

	v, ok := q.TryPop()
	if !ok || v != "first" {
		t.Errorf("TryPop = %q, %v; want %q, true", v, ok, "first")
	}

	v, err := q.Pop(context.Background())
	if err != nil || v != "second" {
		t.Errorf("Pop = %q, %v; want %q, nil", v, err, "second")
	}

	if size := q.Len(); size != 0 {
		t.Errorf("Expected empty queue after draining, got size %d", size)
	}
}

func TestQueue_PopBlocksUntilPush(t *testing.T) {
	q := New[int]()
	defer q.Close()

	got := make(chan int, 1)
	go func() {
		v, err := q.Pop(context.Background())
		if err != nil {
			t.Errorf("Pop failed: %v", err)
			return
		}
		got <- v
	}()

	select {
	case <-got:
		t.Fatal("Pop should have blocked on an empty queue")
	case <-time.After(50 * time.Millisecond):
	}

	if err := q.Push(42); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	select {
	case v := <-got:
		if v != 42 {
			t.Errorf("Pop returned %d, want 42", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after Push")
	}
}

func TestQueue_PopHonorsContext(t *testing.T) {
	q := New[int]()
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestQueue_Replace(t *testing.T) {
	q := New[string]()
	defer q.Close()

	for i := 0; i < 3; i++ {
		_ = q.Push(fmt.Sprintf("old-%d", i))
	}

	if err := q.Replace("new"); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	items := q.Snapshot()
	if len(items) != 1 || items[0] != "new" {
		t.Errorf("Snapshot after Replace = %v, want [new]", items)
	}
}

func TestQueue_ClearAndSnapshot(t *testing.T) {
	q := New[int]()
	defer q.Close()

	for i := 0; i < 5; i++ {
		_ = q.Push(i)
	}

	snap := q.Snapshot()
	for i, v := range snap {
		if v != i {
			t.Errorf("Snapshot[%d] = %d, want %d", i, v, i)
		}
	}

	// Snapshot must be a copy.
	snap[0] = 99
	if v, _ := q.TryPop(); v != 0 {
		t.Errorf("Snapshot aliased queue storage, head = %d", v)
	}

	if dropped := q.Clear(); dropped != 4 {
		t.Errorf("Clear dropped %d, want 4", dropped)
	}
	if q.Len() != 0 {
		t.Errorf("Expected empty queue after Clear, got %d", q.Len())
	}
}

func TestQueue_Close(t *testing.T) {
	q := New[int]()
	_ = q.Push(1)

	if err := q.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}

	if err := q.Push(2); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Push after Close = %v, want ErrQueueClosed", err)
	}

	// Items queued before Close can still be drained.
	v, err := q.Pop(context.Background())
	if err != nil || v != 1 {
		t.Errorf("Pop after Close = %d, %v; want 1, nil", v, err)
	}

	if _, err := q.Pop(context.Background()); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Pop on closed empty queue = %v, want ErrQueueClosed", err)
	}
}

func TestQueue_ConcurrentAccess(t *testing.T) {
	q := New[string]()
	defer q.Close()

	const producers, perProducer, consumers = 5, 20, 3

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if err := q.Push(fmt.Sprintf("p%d-%d", id, i)); err != nil {
					t.Errorf("producer %d push failed: %v", id, err)
				}
			}
		}(p)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var mu sync.Mutex
	seen := make(map[string]bool)
	var cg sync.WaitGroup
	for c := 0; c < consumers; c++ {
		cg.Add(1)
		go func() {
			defer cg.Done()
			for {
				mu.Lock()
				done := len(seen) == producers*perProducer
				mu.Unlock()
				if done {
					return
				}
				pctx, pcancel := context.WithTimeout(ctx, 100*time.Millisecond)
				v, err := q.Pop(pctx)
				pcancel()
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					continue
				}
				mu.Lock()
				if seen[v] {
					t.Errorf("item %s delivered twice", v)
				}
				seen[v] = true
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	cg.Wait()

	if len(seen) != producers*perProducer {
		t.Errorf("consumed %d items, want %d", len(seen), producers*perProducer)
	}
}
