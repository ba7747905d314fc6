package inference

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/localvision/localvision/internal/backend"
	"github.com/stretchr/testify/require"
)

// fakeClient is an in-memory backend.
type fakeClient struct {
	addr    string
	models  []backend.Model
	pingErr error
	chat    func(req backend.ChatRequest) (string, error)

	mu    sync.Mutex
	calls []backend.ChatRequest
}

func (f *fakeClient) Chat(_ context.Context, req backend.ChatRequest) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	if f.chat == nil {
		return "ok", nil
	}
	return f.chat(req)
}

func (f *fakeClient) ListModels(context.Context) ([]backend.Model, error) {
	return f.models, nil
}

func (f *fakeClient) Ping(context.Context) error {
	return f.pingErr
}

func (f *fakeClient) Address() string {
	return f.addr
}

func (f *fakeClient) Calls() []backend.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]backend.ChatRequest(nil), f.calls...)
}

// fakeDialer hands out clients from a factory and counts dials.
type fakeDialer struct {
	mu    sync.Mutex
	dials int
	make  func(n int) (backend.Client, error)
}

func (d *fakeDialer) Dial(_ context.Context, address string) (backend.Client, error) {
	d.mu.Lock()
	d.dials++
	n := d.dials
	d.mu.Unlock()
	return d.make(n)
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func staticDialer(c *fakeClient) *fakeDialer {
	return &fakeDialer{make: func(int) (backend.Client, error) { return c, nil }}
}

func quietLogger() *log.Logger {
	l := log.New(io.Discard)
	l.SetLevel(log.FatalLevel)
	return l
}

func fastPolicy() Policy {
	p := DefaultPolicy()
	p.BaseDelay = time.Millisecond
	return p
}

func newTestDispatcher(t *testing.T, d *fakeDialer, connect bool, opts ...DispatcherOption) (*Dispatcher, *Supervisor) {
	t.Helper()

	sup := NewSupervisor(d.Dial, WithSupervisorLogger(quietLogger()))
	if connect {
		_, err := sup.Connect(context.Background(), "http://fake/v1", DefaultModel)
		require.NoError(t, err)
	}

	cfg := DefaultConfig()
	cfg.Policy = fastPolicy()
	all := append([]DispatcherOption{WithConfig(cfg), WithLogger(quietLogger())}, opts...)
	disp := NewDispatcher(sup, all...)
	t.Cleanup(disp.Close)
	return disp, sup
}

func waitEnvelope(t *testing.T, ch *ResultChannel) Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	env, err := ch.Wait(ctx)
	require.NoError(t, err)
	return env
}

var (
	errReset     = errors.New("read tcp: connection reset by peer")
	errBadParams = errors.New("invalid request: bad parameter")
)

func defaultModels() []backend.Model {
	return []backend.Model{{ID: "llava-1.5-7b"}, {ID: "qwen2-vl-7b"}}
}
