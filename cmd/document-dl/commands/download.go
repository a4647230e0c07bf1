package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/heeplr/document-dl/internal/components/telemetry"
	"github.com/heeplr/document-dl/internal/portal"
	"github.com/heeplr/document-dl/internal/runner"
)

var verifyPDF bool

func init() {
	addSessionFlags(downloadCmd)
	downloadCmd.Flags().BoolVar(&verifyPDF, "verify", false, "Check that downloaded .pdf files are valid PDF documents.")
	rootCmd.AddCommand(downloadCmd)
}

var downloadCmd = &cobra.Command{
	Use:   "download --plugin <name> [flags]",
	Short: "Downloads every document of a portal that matches the filters.",
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

		var summary runner.Summary
		err = portal.Use(cmd.Context(), p, func(ctx context.Context, p *portal.Portal) error {
			r := runner.New(p, matcher, telemetry.SlogAPI{})
			r.Verify = verifyPDF
			result, err := r.Download(ctx, cmd.OutOrStdout())
			summary = result
			return err
		})
		slog.Info(
			"download finished",
			"seen", summary.Seen,
			"matched", summary.Matched,
			"downloaded", summary.Downloaded,
			"failed", summary.Failed,
		)
		if err != nil {
			return err
		}
		if summary.Failed > 0 {
			return fmt.Errorf("%d of %d documents failed", summary.Failed, summary.Matched)
		}
		return nil
	},
}
