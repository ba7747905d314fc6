package inference

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/localvision/localvision/internal/backend"
	"github.com/localvision/localvision/internal/observability"
	"github.com/sahilm/fuzzy"
)

// DefaultModel asks the supervisor to use whatever model the backend has
// loaded first.
const DefaultModel = "local-model"

// Handle is an immutable, ready-to-use connection to the backend.
type Handle struct {
	Client  backend.Client
	Address string
	Model   string
}

// Dialer builds a backend client for an address.
type Dialer func(ctx context.Context, address string) (backend.Client, error)

// HTTPDialer returns a Dialer producing HTTP clients with the given options.
func HTTPDialer(opts ...backend.Option) Dialer {
	return func(_ context.Context, address string) (backend.Client, error) {
		return backend.New(address, opts...)
	}
}

// Supervisor owns the current backend handle. Readers never block: the
// handle is published through an atomic pointer and replaced wholesale on
// reconnect. Workers still holding the previous handle finish with it.
// Handles are built outside the lock, so a hung backend never holds up
// Target or a Connect to another address.
type Supervisor struct {
	dial    Dialer
	logger  *log.Logger
	metrics *observability.Metrics

	current atomic.Pointer[Handle]

	mu        sync.Mutex // guards the fields below
	address   string
	model     string
	hasTgt    bool
	seq       uint64 // bumped by every Connect and Reconnect
	published uint64 // seq of the attempt behind current
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithSupervisorLogger sets the logger.
func WithSupervisorLogger(l *log.Logger) SupervisorOption {
	return func(s *Supervisor) { s.logger = l }
}

// WithSupervisorMetrics records reconnect outcomes.
func WithSupervisorMetrics(m *observability.Metrics) SupervisorOption {
	return func(s *Supervisor) { s.metrics = m }
}

// NewSupervisor creates a supervisor with no handle.
func NewSupervisor(dial Dialer, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		dial:   dial,
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Current returns the published handle, or nil before the first successful
// Connect.
func (s *Supervisor) Current() *Handle {
	return s.current.Load()
}

// Target returns the last address and model passed to Connect.
func (s *Supervisor) Target() (address, model string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.address, s.model, s.hasTgt
}

// Connect dials address, checks the backend answers and resolves model
// against the loaded models. On success the new handle replaces the current
// one. The target is remembered even on failure so Reconnect can try again.
func (s *Supervisor) Connect(ctx context.Context, address, model string) (*Handle, error) {
	s.mu.Lock()
	s.address, s.model, s.hasTgt = address, model, true
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	return s.connect(ctx, seq, address, model)
}

// Reconnect repeats Connect with the last known target.
func (s *Supervisor) Reconnect(ctx context.Context) (*Handle, error) {
	s.mu.Lock()
	if !s.hasTgt {
		s.mu.Unlock()
		return nil, ErrNoTarget
	}
	address, model := s.address, s.model
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	h, err := s.connect(ctx, seq, address, model)
	s.metrics.Reconnected(err == nil)
	return h, err
}

func (s *Supervisor) connect(ctx context.Context, seq uint64, address, model string) (*Handle, error) {
	fail := func(err error) (*Handle, error) {
		return nil, &ConnectionError{Address: address, Model: model, Err: err}
	}

	client, err := s.dial(ctx, address)
	if err != nil {
		return fail(err)
	}
	if err := client.Ping(ctx); err != nil {
		return fail(err)
	}

	models, err := client.ListModels(ctx)
	if err != nil {
		return fail(err)
	}
	resolved, err := resolveModel(model, models)
	if err != nil {
		return fail(err)
	}

	h, ok := s.publish(&Handle{Client: client, Address: client.Address(), Model: resolved}, seq, address, model)
	if !ok {
		return fail(ErrSuperseded)
	}
	s.logger.Info("connected to backend", "address", h.Address, "model", h.Model)
	return h, nil
}

// publish swaps h in and returns it. If a newer attempt for the same target
// already published, that handle is kept and returned instead. It fails when
// the target moved on while h was being built.
func (s *Supervisor) publish(h *Handle, seq uint64, address, model string) (*Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if address != s.address || model != s.model {
		return nil, false
	}
	if seq < s.published {
		return s.current.Load(), true
	}
	s.published = seq
	s.current.Store(h)
	return h, true
}

func resolveModel(want string, models []backend.Model) (string, error) {
	if len(models) == 0 {
		return "", ErrNoModels
	}

	want = strings.TrimSpace(want)
	if want == "" || want == DefaultModel {
		return models[0].ID, nil
	}

	ids := make([]string, len(models))
	for i, m := range models {
		if m.ID == want {
			return m.ID, nil
		}
		ids[i] = m.ID
	}
	for _, id := range ids {
		if strings.EqualFold(id, want) {
			return id, nil
		}
	}

	if matches := fuzzy.Find(want, ids); len(matches) > 0 {
		return "", fmt.Errorf("%w: %q (did you mean %q?)", ErrModelNotFound, want, matches[0].Str)
	}
	return "", fmt.Errorf("%w: %q", ErrModelNotFound, want)
}
