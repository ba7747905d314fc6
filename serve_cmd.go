package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/localvision/localvision/internal/httpapi"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Serve the local JSON API",
	Long:    paragraph(fmt.Sprintf("\n%s chat, image description and speech over a local JSON API, with Prometheus metrics on /metrics.", keyword("Serve"))),
	Example: paragraph("localvision serve\nlocalvision serve --listen 127.0.0.1:9000"),
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		logToStderr()

		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		a, err := newApp(cfg, appOptions{speech: true})
		if err != nil {
			return err
		}
		defer a.Close()

		connectCtx, cancelConnect := context.WithTimeout(ctx, cfg.Backend.Timeout)
		a.connect(connectCtx)
		cancelConnect()
		a.watchConfig()

		api := httpapi.New(a.dispatcher,
			httpapi.WithSpeaker(a.speech),
			httpapi.WithConnection(a.supervisor),
			httpapi.WithMetrics(a.metrics),
			httpapi.WithLogger(log.WithPrefix("http")),
			httpapi.WithTimeout(requestTimeout(cfg.Backend.Timeout, cfg.Inference.MaxAttempts, cfg.Inference.BaseDelay)),
		)

		srv := &http.Server{
			Addr:              cfg.Serve.Addr,
			Handler:           api.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errc := make(chan error, 1)
		go func() {
			log.Info("Serving API", "addr", srv.Addr)
			errc <- srv.ListenAndServe()
		}()

		select {
		case err := <-errc:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("unable to serve: %w", err)
		case <-ctx.Done():
		}

		log.Info("Shutting down")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("unable to shut down: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringP("listen", "l", "", "address to listen on")
	_ = viper.BindPFlag("serve.addr", serveCmd.Flags().Lookup("listen"))
}

// requestTimeout bounds one API request: every attempt may run into the
// backend timeout, plus the linear backoff between attempts.
func requestTimeout(backendTimeout time.Duration, attempts int, base time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	backoff := time.Duration(attempts*(attempts-1)/2) * base
	return time.Duration(attempts)*backendTimeout + backoff
}
