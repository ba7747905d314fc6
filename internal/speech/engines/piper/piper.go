// Package piper speaks with the Piper neural TTS. Text is synthesized to raw
// PCM by the piper binary, cached, and played through an audio.Player.
package piper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/localvision/localvision/internal/audio"
	"github.com/localvision/localvision/internal/cache"
	"github.com/localvision/localvision/internal/speech"
	"github.com/localvision/localvision/internal/speech/sentence"
)

// Config describes the voice.
type Config struct {
	Binary     string
	Model      string
	SampleRate int
	// Rate is the speaking rate in words per minute, mapped onto Piper's
	// length scale.
	Rate int
}

// DefaultConfig returns settings for a medium Piper voice.
func DefaultConfig() Config {
	return Config{Binary: "piper", SampleRate: audio.DefaultFormat().SampleRate, Rate: 170}
}

// LengthScale converts Rate into Piper's --length_scale.
func (c Config) LengthScale() float64 {
	if c.Rate <= 0 {
		return 1
	}
	return 170 / float64(c.Rate)
}

// Synth turns text into signed 16-bit mono PCM.
type Synth func(ctx context.Context, text string) ([]byte, error)

type result struct {
	gen  uint64
	text string
	pcm  []byte
	err  error
}

// Engine implements speech.Engine. Synthesis runs off the speech goroutine;
// Iterate collects the result and starts playback.
type Engine struct {
	cfg    Config
	player audio.Player
	cache  *cache.Cache
	synth  Synth
	logger *log.Logger

	pending []string
	gen     uint64
	cancel  context.CancelFunc
	results chan result
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache stores synthesized audio in c.
func WithCache(c *cache.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithSynth replaces the piper process.
func WithSynth(s Synth) Option {
	return func(e *Engine) { e.synth = s }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an engine playing through player. Without WithSynth the
// piper binary and voice model must exist.
func New(cfg Config, player audio.Player, opts ...Option) (*Engine, error) {
	def := DefaultConfig()
	if cfg.Binary == "" {
		cfg.Binary = def.Binary
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = def.SampleRate
	}

	e := &Engine{
		cfg:     cfg,
		player:  player,
		logger:  log.Default(),
		results: make(chan result, 1),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.synth == nil {
		s, err := processSynth(cfg)
		if err != nil {
			return nil, err
		}
		e.synth = s
	}
	return e, nil
}

// Factory opens a player and builds an engine on every call, so a rebuild
// after a failure gets a fresh device handle.
func Factory(cfg Config, openPlayer func(audio.Format) (audio.Player, error), opts ...Option) speech.Factory {
	return func() (speech.Engine, error) {
		f := audio.Format{SampleRate: cfg.SampleRate, Channels: 1}
		if f.SampleRate == 0 {
			f.SampleRate = DefaultConfig().SampleRate
		}
		p, err := openPlayer(f)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", speech.ErrEngineUnavailable, err)
		}
		e, err := New(cfg, p, opts...)
		if err != nil {
			_ = p.Close()
			return nil, err
		}
		return e, nil
	}
}

// Iterate plays finished synthesis and starts the next utterance once the
// player is free.
func (e *Engine) Iterate() error {
	if e.cancel != nil {
		select {
		case r := <-e.results:
			if r.gen != e.gen {
				return nil
			}
			e.cancel()
			e.cancel = nil
			if r.err != nil {
				e.logger.Warn("piper synthesis failed", "err", r.err)
				return nil
			}
			e.store(r.text, r.pcm)
			return e.play(r.pcm)
		default:
			return nil
		}
	}

	if len(e.pending) == 0 || e.player.IsPlaying() {
		return nil
	}
	text := e.pending[0]
	e.pending = e.pending[1:]

	if pcm, ok := e.lookup(text); ok {
		return e.play(pcm)
	}
	e.startSynth(text)
	return nil
}

// Say queues text one sentence at a time, so playback of a long reply
// starts after its first sentence is synthesized.
func (e *Engine) Say(text string) error {
	e.pending = append(e.pending, sentence.Split(text)...)
	return nil
}

// Stop drops the queue, abandons any synthesis and silences the player.
func (e *Engine) Stop() error {
	e.pending = nil
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
		e.gen++
	}
	return e.player.Stop()
}

// IsBusy reports whether anything is being synthesized, played or waits.
func (e *Engine) IsBusy() bool {
	return e.cancel != nil || len(e.pending) > 0 || e.player.IsPlaying()
}

// Close stops speech and releases the player.
func (e *Engine) Close() error {
	return errors.Join(e.Stop(), e.player.Close())
}

func (e *Engine) startSynth(text string) {
	e.gen++
	gen := e.gen
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	// Drain a stale result so the send below never blocks.
	select {
	case <-e.results:
	default:
	}

	go func() {
		pcm, err := e.synth(ctx, text)
		select {
		case e.results <- result{gen: gen, text: text, pcm: pcm, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (e *Engine) play(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	if err := e.player.Play(pcm); err != nil {
		return fmt.Errorf("play: %w", err)
	}
	return nil
}

func (e *Engine) cacheKey(text string) string {
	voice := e.cfg.Model + "@" + strconv.FormatFloat(e.cfg.LengthScale(), 'f', 3, 64)
	return cache.Key(voice, text, e.cfg.SampleRate)
}

func (e *Engine) lookup(text string) ([]byte, bool) {
	if e.cache == nil {
		return nil, false
	}
	return e.cache.Get(e.cacheKey(text))
}

func (e *Engine) store(text string, pcm []byte) {
	if e.cache == nil || len(pcm) == 0 {
		return
	}
	if err := e.cache.Put(e.cacheKey(text), pcm); err != nil {
		e.logger.Debug("cache put failed", "err", err)
	}
}

func processSynth(cfg Config) (Synth, error) {
	bin, err := exec.LookPath(cfg.Binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", speech.ErrEngineUnavailable, cfg.Binary, err)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: no piper voice model configured", speech.ErrEngineUnavailable)
	}
	if _, err := os.Stat(cfg.Model); err != nil {
		return nil, fmt.Errorf("%w: %v", speech.ErrEngineUnavailable, err)
	}

	scale := strconv.FormatFloat(cfg.LengthScale(), 'f', 3, 64)
	return func(ctx context.Context, text string) ([]byte, error) {
		cmd := exec.CommandContext(ctx, bin, //nolint:gosec
			"--model", cfg.Model,
			"--output-raw",
			"--length_scale", scale,
		)
		cmd.Stdin = strings.NewReader(text)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			msg := strings.TrimSpace(stderr.String())
			if msg != "" {
				return nil, fmt.Errorf("piper: %w: %s", err, msg)
			}
			return nil, fmt.Errorf("piper: %w", err)
		}
		return stdout.Bytes(), nil
	}, nil
}
