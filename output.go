package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"

	"github.com/localvision/localvision/internal/inference"
)

const maxRenderWidth = 120

// envelopeError reports an error envelope as a command failure.
type envelopeError struct {
	env inference.Envelope
}

func (e envelopeError) Error() string {
	return strings.TrimPrefix(e.env.Content, "Error: ")
}

// await submits one request and blocks for its envelope.
func await(ctx context.Context, submit func(ch *inference.ResultChannel) string) (inference.Envelope, error) {
	ch := inference.NewResultChannel()
	defer ch.Close()

	submit(ch)
	env, err := ch.Wait(ctx)
	if err != nil {
		return env, err
	}
	if env.IsError() {
		return env, envelopeError{env}
	}
	return env, nil
}

func stdoutIsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd())) //nolint:gosec
}

func terminalWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd())) //nolint:gosec
	if err != nil || w <= 0 {
		return 80
	}
	return min(w, maxRenderWidth)
}

// printReply writes the reply: rendered markdown on a terminal, the
// stripped text otherwise.
func printReply(w io.Writer, env inference.Envelope, tty bool, width int) error {
	if !tty || env.Raw == "" {
		_, err := fmt.Fprintln(w, env.Content)
		return err
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return fmt.Errorf("unable to create renderer: %w", err)
	}
	out, err := r.Render(env.Raw)
	if err != nil {
		return fmt.Errorf("unable to render markdown: %w", err)
	}
	_, err = fmt.Fprint(w, out)
	return err
}

func stdinIsPipe() (bool, error) {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false, fmt.Errorf("unable to open file: %w", err)
	}
	if stat.Mode()&os.ModeCharDevice == 0 || stat.Size() > 0 {
		return true, nil
	}
	return false, nil
}
