// Package bot turns chat-gateway messages carrying images into image
// descriptions. It knows nothing about any particular gateway: callers
// translate gateway events into Message values and supply a Replier.
package bot

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/localvision/localvision/internal/inference"
	"github.com/localvision/localvision/internal/observability"
)

// Reply formats.
const (
	DescriptionPrefix = "**Image analysis:**\n"
	ErrorPrefix       = "Error analyzing image: "
	FailureReply      = "An error occurred while processing your image."
)

// Attachment is a file attached to a message.
type Attachment struct {
	Filename    string
	ContentType string
	// Open returns the attachment's bytes.
	Open func(ctx context.Context) (io.ReadCloser, error)
}

// IsImage reports whether the attachment declares an image content type.
func (a Attachment) IsImage() bool {
	return strings.HasPrefix(strings.ToLower(a.ContentType), "image/")
}

// Message is a gateway message.
type Message struct {
	ID          string
	ChannelID   string
	AuthorID    string
	Attachments []Attachment
}

// Replier sends a reply to msg.
type Replier interface {
	Reply(ctx context.Context, msg Message, text string) error
}

// ReplierFunc adapts a function to Replier.
type ReplierFunc func(ctx context.Context, msg Message, text string) error

// Reply implements Replier.
func (f ReplierFunc) Reply(ctx context.Context, msg Message, text string) error {
	return f(ctx, msg, text)
}

// Submitter accepts image requests. *inference.Dispatcher implements it.
type Submitter interface {
	SubmitImage(path string, ch *inference.ResultChannel) string
}

// Bridge handles gateway messages.
type Bridge struct {
	selfID  string
	submit  Submitter
	replier Replier
	limiter *rate.Limiter
	logger  *log.Logger
	metrics *observability.Metrics
	tempDir string
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithRateLimit allows r images per second with the given burst.
func WithRateLimit(r float64, burst int) Option {
	return func(b *Bridge) {
		if r > 0 && burst > 0 {
			b.limiter = rate.NewLimiter(rate.Limit(r), burst)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// WithMetrics records handled messages.
func WithMetrics(m *observability.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// WithTempDir sets where attachments are downloaded.
func WithTempDir(dir string) Option {
	return func(b *Bridge) { b.tempDir = dir }
}

// WithTimeout bounds how long one image may take end to end.
func WithTimeout(d time.Duration) Option {
	return func(b *Bridge) { b.timeout = d }
}

// New creates a bridge. selfID is the bot's own author ID; its messages are
// ignored.
func New(selfID string, submit Submitter, replier Replier, opts ...Option) *Bridge {
	b := &Bridge{
		selfID:  selfID,
		submit:  submit,
		replier: replier,
		limiter: rate.NewLimiter(1, 3),
		logger:  log.Default(),
		timeout: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())
	return b
}

// HandleMessage starts processing every image attachment of msg and
// returns immediately.
func (b *Bridge) HandleMessage(msg Message) error {
	if b.ctx.Err() != nil {
		return ErrClosed
	}
	if msg.AuthorID != "" && msg.AuthorID == b.selfID {
		b.metrics.BotMessage("ignored")
		return nil
	}

	for _, att := range msg.Attachments {
		if !att.IsImage() {
			continue
		}
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.process(msg, att)
		}()
	}
	return nil
}

// Wait blocks until every image handed to HandleMessage so far has been
// answered.
func (b *Bridge) Wait() {
	b.wg.Wait()
}

// Close cancels in-flight work and waits for it to finish.
func (b *Bridge) Close() {
	b.cancel()
	b.wg.Wait()
}

func (b *Bridge) process(msg Message, att Attachment) {
	ctx, cancel := context.WithTimeout(b.ctx, b.timeout)
	defer cancel()

	logger := b.logger.With("message", msg.ID, "file", att.Filename)

	if err := b.limiter.Wait(ctx); err != nil {
		logger.Warn("image dropped", "err", err)
		b.metrics.BotMessage("dropped")
		return
	}

	path, err := b.download(ctx, att)
	if err != nil {
		logger.Error("downloading attachment", "err", err)
		b.reply(ctx, logger, msg, FailureReply)
		b.metrics.BotMessage("failed")
		return
	}
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn("removing temp file", "path", path, "err", err)
		}
	}()

	ch := inference.NewResultChannel()
	id := b.submit.SubmitImage(path, ch)
	logger = logger.With("request", id)

	env, err := ch.Wait(ctx)
	if err != nil {
		logger.Error("waiting for description", "err", err)
		b.reply(ctx, logger, msg, FailureReply)
		b.metrics.BotMessage("failed")
		return
	}

	if env.Kind == inference.EnvelopeDescription {
		b.reply(ctx, logger, msg, DescriptionPrefix+env.Content)
		b.metrics.BotMessage("described")
		return
	}
	b.reply(ctx, logger, msg, ErrorPrefix+env.Content)
	b.metrics.BotMessage("error")
}

func (b *Bridge) download(ctx context.Context, att Attachment) (string, error) {
	if att.Open == nil {
		return "", ErrNoAttachmentSource
	}
	rc, err := att.Open(ctx)
	if err != nil {
		return "", fmt.Errorf("open attachment: %w", err)
	}
	defer rc.Close() //nolint:errcheck

	f, err := os.CreateTemp(b.tempDir, "localvision-*.png")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("save attachment: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("save attachment: %w", err)
	}
	return f.Name(), nil
}

func (b *Bridge) reply(ctx context.Context, logger *log.Logger, msg Message, text string) {
	// Reply even after the work context has expired.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
	}
	if err := b.replier.Reply(ctx, msg, text); err != nil {
		logger.Error("sending reply", "err", err)
	}
}
