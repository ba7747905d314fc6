package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"

	"github.com/localvision/localvision/internal/inference"
)

var (
	speakReply bool

	askCmd = &cobra.Command{
		Use:     "ask [message]",
		Short:   "Ask the model a single question",
		Long:    paragraph(fmt.Sprintf("\n%s the model a single question and print the reply. Reads the question from stdin when no message is given.", keyword("Ask"))),
		Example: paragraph("localvision ask What is a vision model?\necho 'Summarize this' | localvision ask"),
		Args:    cobra.ArbitraryArgs,
		RunE:    runAsk,
	}

	describeCmd = &cobra.Command{
		Use:     "describe <image>",
		Short:   "Describe an image",
		Long:    paragraph(fmt.Sprintf("\n%s a PNG or JPEG image with the vision model.", keyword("Describe"))),
		Example: paragraph("localvision describe ~/Pictures/cat.png"),
		Args:    cobra.ExactArgs(1),
		RunE:    runDescribe,
	}
)

func init() {
	askCmd.Flags().BoolVarP(&speakReply, "speak", "s", false, "read the reply aloud")
	describeCmd.Flags().BoolVarP(&speakReply, "speak", "s", false, "read the description aloud")
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func readMessage(args []string) (string, error) {
	msg := strings.TrimSpace(strings.Join(args, " "))
	if msg != "" {
		return msg, nil
	}

	yes, err := stdinIsPipe()
	if err != nil {
		return "", err
	}
	if !yes {
		return "", errors.New("no message given")
	}
	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("unable to read from stdin: %w", err)
	}
	msg = strings.TrimSpace(string(b))
	if msg == "" {
		return "", errors.New("no message given")
	}
	return msg, nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	msg, err := readMessage(args)
	if err != nil {
		return err
	}
	return oneShot(cmd, func(a *app, ch *inference.ResultChannel) string {
		return a.dispatcher.SubmitText(msg, nil, ch)
	})
}

func runDescribe(cmd *cobra.Command, args []string) error {
	path, err := homedir.Expand(args[0])
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg":
	default:
		return fmt.Errorf("unsupported image type %q: use PNG or JPEG", filepath.Ext(path))
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("unable to open image: %w", err)
	}

	return oneShot(cmd, func(a *app, ch *inference.ResultChannel) string {
		return a.dispatcher.SubmitImage(path, ch)
	})
}

// oneShot runs one request against a fresh app and prints the result.
func oneShot(cmd *cobra.Command, submit func(a *app, ch *inference.ResultChannel) string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	a, err := newApp(cfg, appOptions{speech: speakReply && cfg.TTS.Enabled})
	if err != nil {
		return err
	}
	defer a.Close()

	a.connect(ctx)

	env, err := await(ctx, func(ch *inference.ResultChannel) string {
		return submit(a, ch)
	})
	if err != nil {
		return err
	}

	if err := printReply(cmd.OutOrStdout(), env, stdoutIsTerminal(), terminalWidth()); err != nil {
		return err
	}

	if a.speech != nil {
		a.speech.Speak(env.Content, true)
		if err := a.waitForSpeech(ctx); err != nil && ctx.Err() == nil {
			return err
		}
	}
	return nil
}
