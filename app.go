package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/viper"

	"github.com/localvision/localvision/internal/audio"
	"github.com/localvision/localvision/internal/backend"
	"github.com/localvision/localvision/internal/cache"
	"github.com/localvision/localvision/internal/config"
	"github.com/localvision/localvision/internal/history"
	"github.com/localvision/localvision/internal/inference"
	"github.com/localvision/localvision/internal/observability"
	"github.com/localvision/localvision/internal/speech"
	"github.com/localvision/localvision/internal/speech/engines/command"
	"github.com/localvision/localvision/internal/speech/engines/mock"
	"github.com/localvision/localvision/internal/speech/engines/piper"
)

type appOptions struct {
	// speech builds the speech manager; commands that never talk leave it
	// off so no audio device is opened.
	speech bool
}

// app holds the long-lived components shared by every command.
type app struct {
	metrics    *observability.Metrics
	supervisor *inference.Supervisor
	dispatcher *inference.Dispatcher
	speech     *speech.Manager
	cache      *cache.Cache
	history    *history.Conversation

	mu  sync.Mutex
	cfg config.Config
}

func newApp(c config.Config, opts appOptions) (*app, error) {
	a := &app{
		cfg:     c,
		metrics: observability.NewMetrics(appName),
		history: history.New(0),
	}

	dial := inference.HTTPDialer(
		backend.WithTimeout(c.Backend.Timeout),
		backend.WithAPIKey(c.Backend.APIKey),
		backend.WithLogger(log.WithPrefix("backend")),
	)
	a.supervisor = inference.NewSupervisor(dial,
		inference.WithSupervisorLogger(log.WithPrefix("connection")),
		inference.WithSupervisorMetrics(a.metrics),
	)
	a.dispatcher = inference.NewDispatcher(a.supervisor,
		inference.WithConfig(c.DispatcherConfig()),
		inference.WithLogger(log.WithPrefix("inference")),
		inference.WithMetrics(a.metrics),
	)

	if opts.speech {
		factory, err := a.speechFactory(c.TTS)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.speech = speech.New(factory,
			speech.WithLogger(log.WithPrefix("speech")),
			speech.WithMetrics(a.metrics),
			speech.WithEnabled(c.TTS.Enabled),
		)
	}
	return a, nil
}

// speechFactory builds the factory for the configured engine.
func (a *app) speechFactory(c config.TTSConfig) (speech.Factory, error) {
	logger := log.WithPrefix("speech")

	switch c.Engine {
	case config.EnginePiper:
		dir := c.Cache.Dir
		if dir == "" {
			base, err := gap.NewScope(gap.User, appName).CacheDir()
			if err != nil {
				return nil, fmt.Errorf("locating cache directory: %w", err)
			}
			dir = filepath.Join(base, "tts")
		}
		ch, err := cache.Open(dir, c.CacheBytes())
		if err != nil {
			return nil, fmt.Errorf("opening speech cache: %w", err)
		}
		a.cache = ch

		pc := piper.Config{
			Binary:     c.Piper.Binary,
			Model:      c.Piper.Model,
			SampleRate: c.Piper.SampleRate,
			Rate:       c.Rate,
		}
		return piper.Factory(pc, openPlayer, piper.WithCache(ch), piper.WithLogger(logger)), nil

	case config.EngineMock:
		return func() (speech.Engine, error) {
			return mock.New(mock.WithRate(c.Rate)), nil
		}, nil

	default:
		cc := command.Config{
			Binary: c.Command.Binary,
			Rate:   c.Rate,
			Args:   c.Command.Args,
		}
		return command.Factory(cc, logger), nil
	}
}

func openPlayer(f audio.Format) (audio.Player, error) {
	p, err := audio.NewOtoPlayer(f)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// connect dials the configured backend. Failures are logged: the
// dispatcher reconnects on demand.
func (a *app) connect(ctx context.Context) {
	c := a.config()
	if _, err := a.supervisor.Connect(ctx, c.Backend.Address, c.Backend.Model); err != nil {
		log.Warn("Backend not reachable yet", "address", c.Backend.Address, "err", err)
	}
}

func (a *app) config() config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// apply re-applies settings that can change at runtime.
func (a *app) apply(c config.Config) {
	a.mu.Lock()
	prev := a.cfg
	a.cfg = c
	a.mu.Unlock()

	setLogLevel(c.Log.Level, c.Debug)
	a.dispatcher.SetConfig(c.DispatcherConfig())

	if a.speech != nil && c.TTS.Enabled != a.speech.Enabled() {
		a.speech.SetEnabled(c.TTS.Enabled)
	}
	if c.TTS.Engine != prev.TTS.Engine || c.TTS.Rate != prev.TTS.Rate {
		log.Info("Speech engine changes take effect after a restart", "engine", c.TTS.Engine)
	}

	if c.Backend.Address != prev.Backend.Address || c.Backend.Model != prev.Backend.Model {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), c.Backend.Timeout)
			defer cancel()
			a.connect(ctx)
		}()
	}
}

// watchConfig applies edits of the config file while running.
func (a *app) watchConfig() {
	if viper.ConfigFileUsed() == "" {
		return
	}
	config.Watch(viper.GetViper(), log.WithPrefix("config"), a.apply)
}

// errSpeechStopped is returned when the speech goroutine exits while text
// is still queued, usually because the engine cannot be built.
var errSpeechStopped = errors.New("speech engine stopped, see the log for details")

// waitForSpeech blocks until the speech queue has been idle for two
// consecutive checks, or ctx is done.
func (a *app) waitForSpeech(ctx context.Context) error {
	if a.speech == nil || !a.speech.Enabled() {
		return nil
	}
	t := time.NewTicker(100 * time.Millisecond)
	defer t.Stop()

	idle := 0
	for idle < 2 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		switch {
		case a.speech.Idle():
			idle++
		case !a.speech.Running():
			return errSpeechStopped
		default:
			idle = 0
		}
	}
	return nil
}

// Close stops speech, abandons in-flight requests and releases the cache.
func (a *app) Close() {
	if a.speech != nil {
		a.speech.Shutdown()
	}
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			log.Warn("Closing speech cache", "err", err)
		}
	}
}
