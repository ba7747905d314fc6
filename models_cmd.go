package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/sahilm/fuzzy"
	"github.com/spf13/cobra"

	"github.com/localvision/localvision/internal/backend"
)

var modelsCmd = &cobra.Command{
	Use:     "models [filter]",
	Short:   "List the models the backend has loaded",
	Example: paragraph("localvision models\nlocalvision models llava"),
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()
		ctx, cancelTimeout := context.WithTimeout(ctx, cfg.Backend.Timeout)
		defer cancelTimeout()

		client, err := backend.New(cfg.Backend.Address,
			backend.WithTimeout(cfg.Backend.Timeout),
			backend.WithAPIKey(cfg.Backend.APIKey),
			backend.WithLogger(log.WithPrefix("backend")),
		)
		if err != nil {
			return err
		}
		models, err := client.ListModels(ctx)
		if err != nil {
			return fmt.Errorf("unable to list models at %s: %w", cfg.Backend.Address, err)
		}

		ids := make([]string, len(models))
		for i, m := range models {
			ids[i] = m.ID
		}
		if len(args) == 1 {
			ids = filterModels(args[0], ids)
		}

		out := cmd.OutOrStdout()
		if len(ids) == 0 {
			_, err := fmt.Fprintln(out, faint("no models"))
			return err
		}
		_, err = fmt.Fprint(out, formatModels(ids, cfg.Backend.Model, stdoutIsTerminal()))
		return err
	},
}

// filterModels returns the IDs matching pattern, best match first.
func filterModels(pattern string, ids []string) []string {
	matches := fuzzy.Find(pattern, ids)
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Str
	}
	return out
}

func formatModels(ids []string, current string, tty bool) string {
	var b strings.Builder
	for _, id := range ids {
		switch {
		case id == current && tty:
			b.WriteString(keyword("* " + id))
		case id == current:
			b.WriteString("* " + id)
		default:
			b.WriteString("  " + id)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
