package inference

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/localvision/localvision/internal/backend"
	"github.com/localvision/localvision/internal/markdown"
	"github.com/localvision/localvision/internal/observability"
)

// Fixed prompt texts.
const (
	DefaultImagePrompt = "Describe this image in detail."
	HistoryImageText   = "Here is an image."
	MissingImageText   = "[Image missing]"
)

// Default completion budgets.
const (
	DefaultTextMaxTokens  = 500
	DefaultImageMaxTokens = 1000
)

// Config tunes the dispatcher.
type Config struct {
	TextMaxTokens  int
	ImageMaxTokens int
	ImagePrompt    string

	// AttemptTimeout bounds each backend call. Zero leaves it to the client.
	AttemptTimeout time.Duration

	Policy Policy
}

// DefaultConfig returns the stock budgets and retry policy.
func DefaultConfig() Config {
	return Config{
		TextMaxTokens:  DefaultTextMaxTokens,
		ImageMaxTokens: DefaultImageMaxTokens,
		ImagePrompt:    DefaultImagePrompt,
		Policy:         DefaultPolicy(),
	}
}

// Dispatcher runs each request on its own goroutine and always delivers
// exactly one Envelope to the caller's channel.
type Dispatcher struct {
	sup     *Supervisor
	logger  *log.Logger
	metrics *observability.Metrics

	loadImage func(path string) (string, error)

	cfgMu sync.RWMutex
	cfg   Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithConfig replaces the default Config.
func WithConfig(cfg Config) DispatcherOption {
	return func(d *Dispatcher) { d.cfg = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// WithMetrics records attempts, retries and envelopes.
func WithMetrics(m *observability.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithImageLoader replaces LoadImageDataURL.
func WithImageLoader(fn func(path string) (string, error)) DispatcherOption {
	return func(d *Dispatcher) { d.loadImage = fn }
}

// NewDispatcher creates a dispatcher that calls through sup.
func NewDispatcher(sup *Supervisor, opts ...DispatcherOption) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		sup:       sup,
		cfg:       DefaultConfig(),
		logger:    log.Default(),
		loadImage: LoadImageDataURL,
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.cfg.ImagePrompt == "" {
		d.cfg.ImagePrompt = DefaultImagePrompt
	}
	return d
}

// SetConfig swaps the tuning for requests submitted afterwards.
func (d *Dispatcher) SetConfig(cfg Config) {
	if cfg.ImagePrompt == "" {
		cfg.ImagePrompt = DefaultImagePrompt
	}
	d.cfgMu.Lock()
	d.cfg = cfg
	d.cfgMu.Unlock()
}

func (d *Dispatcher) config() Config {
	d.cfgMu.RLock()
	defer d.cfgMu.RUnlock()
	return d.cfg
}

// SubmitText asks for a reply to message in the context of history. The
// result arrives on ch as an EnvelopeText or EnvelopeError. The returned
// request ID is also set on the envelope.
func (d *Dispatcher) SubmitText(message string, history []Interaction, ch *ResultChannel) string {
	cfg := d.config()
	hist := append([]Interaction(nil), history...)
	var msgs []backend.Message

	prepare := func() error {
		msgs = d.buildTextMessages(message, hist)
		return nil
	}

	return d.submit(EnvelopeText, ch, func(ctx context.Context, h *Handle) (string, error) {
		return h.Client.Chat(ctx, backend.ChatRequest{
			Model:     h.Model,
			Messages:  msgs,
			MaxTokens: cfg.TextMaxTokens,
		})
	}, cfg, prepare)
}

// SubmitImage asks for a description of the image at path. The result
// arrives on ch as an EnvelopeDescription or EnvelopeError.
func (d *Dispatcher) SubmitImage(path string, ch *ResultChannel) string {
	cfg := d.config()
	var dataURL string

	prepare := func() error {
		u, err := d.loadImage(path)
		if err != nil {
			return err
		}
		dataURL = u
		return nil
	}

	return d.submit(EnvelopeDescription, ch, func(ctx context.Context, h *Handle) (string, error) {
		return h.Client.Chat(ctx, backend.ChatRequest{
			Model: h.Model,
			Messages: []backend.Message{{
				Role: backend.RoleUser,
				Content: []backend.Part{
					backend.TextPart(cfg.ImagePrompt),
					backend.ImagePart(dataURL),
				},
			}},
			MaxTokens: cfg.ImageMaxTokens,
		})
	}, cfg, prepare)
}

// Wait blocks until every in-flight request has delivered its envelope.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close cancels in-flight requests and waits for them. Each still delivers
// an error envelope.
func (d *Dispatcher) Close() {
	d.cancel()
	d.wg.Wait()
}

type callFunc func(ctx context.Context, h *Handle) (string, error)

func (d *Dispatcher) submit(kind EnvelopeKind, ch *ResultChannel, call callFunc, cfg Config, prepare func() error) string {
	id := uuid.NewString()
	d.metrics.RequestSubmitted(string(kind))

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		start := time.Now()
		env := Envelope{Kind: EnvelopeError, RequestID: id}
		logger := d.logger.With("request", id, "kind", kind)

		// Runs last: whatever happened above, one envelope goes out.
		defer func() {
			if r := recover(); r != nil {
				logger.Error("request panicked", "panic", r)
				env = Envelope{
					Kind:      EnvelopeError,
					Content:   fmt.Sprintf("Error: %v", r),
					RequestID: id,
					Attempts:  env.Attempts,
				}
			}
			d.metrics.EnvelopeDelivered(string(env.Kind), time.Since(start))
			ch.Send(env)
		}()

		if err := prepare(); err != nil {
			logger.Warn("request preparation failed", "err", err)
			env.Content = "Error: " + err.Error()
			return
		}

		out, attempts, err := d.withRetry(logger, kind, cfg, call)
		env.Attempts = attempts
		if err != nil {
			logger.Warn("request failed", "attempts", attempts, "err", err)
			env.Content = "Error: " + err.Error()
			return
		}

		logger.Debug("request completed", "attempts", attempts, "took", time.Since(start))
		env.Kind = kind
		env.Raw = out
		env.Content = markdown.Strip(out)
	}()

	return id
}

// withRetry calls through the current handle, retrying transient failures
// with a linear backoff and a handle rebuild before each new attempt.
func (d *Dispatcher) withRetry(logger *log.Logger, kind EnvelopeKind, cfg Config, call callFunc) (string, int, error) {
	for attempt := 1; ; attempt++ {
		d.metrics.AttemptMade(string(kind))

		out, err := d.attempt(cfg, call)
		if err == nil {
			return out, attempt, nil
		}
		if !cfg.Policy.ShouldRetry(attempt, err) || d.ctx.Err() != nil {
			return "", attempt, err
		}

		delay := cfg.Policy.Delay(attempt)
		logger.Info("transient error, retrying", "attempt", attempt, "delay", delay, "err", err)
		d.metrics.RetryScheduled()

		select {
		case <-time.After(delay):
		case <-d.ctx.Done():
			return "", attempt, fmt.Errorf("%w (cancelled during backoff)", err)
		}

		if rerr := d.reconnect(cfg); rerr != nil {
			logger.Warn("reconnect failed", "err", rerr)
		}
	}
}

// reconnect rebuilds the handle, bounded like a single attempt.
func (d *Dispatcher) reconnect(cfg Config) error {
	ctx := d.ctx
	if cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.AttemptTimeout)
		defer cancel()
	}
	_, err := d.sup.Reconnect(ctx)
	return err
}

func (d *Dispatcher) attempt(cfg Config, call callFunc) (string, error) {
	h := d.sup.Current()
	if h == nil {
		return "", ErrNotConnected
	}

	ctx := d.ctx
	if cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.AttemptTimeout)
		defer cancel()
	}
	return call(ctx, h)
}

func (d *Dispatcher) buildTextMessages(message string, history []Interaction) []backend.Message {
	msgs := make([]backend.Message, 0, len(history)+1)

	for _, it := range history {
		role := backend.RoleAssistant
		if it.Actor == ActorUser {
			role = backend.RoleUser
		}

		if it.Kind != KindImage {
			msgs = append(msgs, backend.Text(role, it.Content))
			continue
		}

		url, err := d.loadImage(it.ImagePath)
		if err != nil {
			if !errors.Is(err, ErrImageMissing) {
				d.logger.Warn("history image unreadable", "path", it.ImagePath, "err", err)
			}
			msgs = append(msgs, backend.Text(role, MissingImageText))
			continue
		}
		msgs = append(msgs, backend.Message{
			Role: role,
			Content: []backend.Part{
				backend.TextPart(HistoryImageText),
				backend.ImagePart(url),
			},
		})
	}

	return append(msgs, backend.Text(backend.RoleUser, message))
}
