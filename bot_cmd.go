package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/localvision/localvision/internal/bot"
)

var (
	botSelfID string

	botCmd = &cobra.Command{
		Use:   "bot",
		Short: "Describe images for a chat gateway over stdin/stdout",
		Long: paragraph(fmt.Sprintf("\n%s chat gateway events as JSON lines on stdin and writes replies as JSON lines on stdout. "+
			"Every image attachment gets a description; the bot's own messages are ignored.", keyword("Reads"))),
		Example: paragraph(`echo '{"id":"1","channel_id":"c","author_id":"u","attachments":[{"path":"cat.png"}]}' | localvision bot`),
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logToStderr()

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			a, err := newApp(cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()
			a.connect(ctx)

			gw := bot.NewLineGateway(os.Stdin, os.Stdout, bot.WithLineLogger(log.WithPrefix("gateway")))
			b := bot.New(botSelfID, a.dispatcher, gw,
				bot.WithRateLimit(cfg.Bot.Rate, cfg.Bot.Burst),
				bot.WithLogger(log.WithPrefix("bot")),
				bot.WithMetrics(a.metrics),
				bot.WithTimeout(requestTimeout(cfg.Backend.Timeout, cfg.Inference.MaxAttempts, cfg.Inference.BaseDelay)),
			)
			defer b.Close()

			// Reading stdin does not observe ctx, so it runs aside.
			runErr := make(chan error, 1)
			go func() { runErr <- gw.Run(ctx, b) }()
			select {
			case err := <-runErr:
				if err != nil && ctx.Err() == nil {
					return err
				}
			case <-ctx.Done():
				return nil
			}

			// stdin is exhausted; answer what is in flight unless interrupted.
			done := make(chan struct{})
			go func() {
				b.Wait()
				close(done)
			}()
			select {
			case <-done:
			case <-ctx.Done():
			}
			return nil
		},
	}
)

func init() {
	botCmd.Flags().StringVar(&botSelfID, "self-id", "", "author ID of the bot; its own messages are ignored")
}
