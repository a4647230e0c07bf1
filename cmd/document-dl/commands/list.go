package commands

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/heeplr/document-dl/internal/components/telemetry"
	"github.com/heeplr/document-dl/internal/portal"
	"github.com/heeplr/document-dl/internal/runner"
)

var listFormat string

func init() {
	addSessionFlags(listCmd)
	listCmd.Flags().StringVarP(&listFormat, "format", "f", string(runner.FormatTable), "Output format: table or json (one object per line).")
	rootCmd.AddCommand(listCmd)
}

var listCmd = &cobra.Command{
	Use:   "list --plugin <name> [flags]",
	Short: "Lists the documents of a portal without downloading them.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		matcher, err := buildFilter()
		if err != nil {
			return err
		}
		p, err := openPortal(cmd.Context(), cmd)
		if err != nil {
			return err
		}

		return portal.Use(cmd.Context(), p, func(ctx context.Context, p *portal.Portal) error {
			n, err := runner.New(p, matcher, telemetry.SlogAPI{}).
				List(ctx, os.Stdout, runner.Format(listFormat))
			slog.Debug("listed documents", "count", n)
			return err
		})
	},
}
