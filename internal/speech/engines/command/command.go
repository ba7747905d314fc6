// Package command speaks through an external program such as espeak-ng,
// spd-say or macOS say, one process per utterance.
package command

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/localvision/localvision/internal/speech"
)

// Config selects the program and voice settings.
type Config struct {
	// Binary is a program name on PATH or a path.
	Binary string
	// Rate is the speaking rate in words per minute.
	Rate int
	// Args are placed before the rate flag and the text.
	Args []string
	// Env is appended to the process environment.
	Env []string
}

// DefaultConfig uses espeak-ng at 170 words per minute.
func DefaultConfig() Config {
	return Config{Binary: "espeak-ng", Rate: 170}
}

// Engine implements speech.Engine. It is driven by one goroutine; only the
// exit watcher of each process touches shared state, through a channel.
type Engine struct {
	path   string
	cfg    Config
	logger *log.Logger

	pending []string
	current *process
}

type process struct {
	cmd  *exec.Cmd
	done chan error
}

// New resolves cfg.Binary and returns an engine.
func New(cfg Config, logger *log.Logger) (*Engine, error) {
	if cfg.Binary == "" {
		cfg.Binary = DefaultConfig().Binary
	}
	path, err := exec.LookPath(cfg.Binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", speech.ErrEngineUnavailable, cfg.Binary, err)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{path: path, cfg: cfg, logger: logger}, nil
}

// Factory adapts New to speech.Factory.
func Factory(cfg Config, logger *log.Logger) speech.Factory {
	return func() (speech.Engine, error) {
		return New(cfg, logger)
	}
}

// Iterate reaps a finished process and starts the next utterance.
func (e *Engine) Iterate() error {
	if e.current != nil {
		select {
		case err := <-e.current.done:
			if err != nil {
				e.logger.Warn("speech command failed", "binary", e.cfg.Binary, "err", err)
			}
			e.current = nil
		default:
			return nil
		}
	}

	if len(e.pending) == 0 {
		return nil
	}
	text := e.pending[0]
	e.pending = e.pending[1:]
	return e.start(text)
}

// Say queues text.
func (e *Engine) Say(text string) error {
	e.pending = append(e.pending, text)
	return nil
}

// Stop kills the running process and drops the queue.
func (e *Engine) Stop() error {
	e.pending = nil
	if e.current == nil {
		return nil
	}

	p := e.current
	e.current = nil
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill speech process: %w", err)
	}
	<-p.done
	return nil
}

// IsBusy reports whether a process is running or text is queued.
func (e *Engine) IsBusy() bool {
	return e.current != nil || len(e.pending) > 0
}

// Close stops any speech.
func (e *Engine) Close() error {
	return e.Stop()
}

func (e *Engine) start(text string) error {
	cmd := exec.Command(e.path, e.args(text)...) //nolint:gosec
	if len(e.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), e.cfg.Env...)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", e.cfg.Binary, err)
	}

	p := &process{cmd: cmd, done: make(chan error, 1)}
	go func() { p.done <- cmd.Wait() }()
	e.current = p
	e.logger.Debug("speaking", "binary", e.cfg.Binary, "chars", len(text))
	return nil
}

func (e *Engine) args(text string) []string {
	args := append([]string(nil), e.cfg.Args...)
	args = append(args, rateArgs(e.cfg.Binary, e.cfg.Rate)...)

	// spd-say returns immediately unless told to wait.
	if programName(e.cfg.Binary) == "spd-say" {
		args = append(args, "--wait")
	}
	return append(args, "--", text)
}

func rateArgs(binary string, wpm int) []string {
	if wpm <= 0 {
		return nil
	}
	switch programName(binary) {
	case "espeak", "espeak-ng", "say":
		flag := "-s"
		if programName(binary) == "say" {
			flag = "-r"
		}
		return []string{flag, strconv.Itoa(wpm)}
	case "spd-say":
		// spd-say takes -100..100 around a default of roughly 180 wpm.
		rel := (wpm - 180) * 100 / 180
		rel = max(-100, min(100, rel))
		return []string{"-r", strconv.Itoa(rel)}
	default:
		return nil
	}
}

func programName(binary string) string {
	name := filepath.Base(binary)
	return strings.TrimSuffix(name, filepath.Ext(name))
}
