package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	libtelemetry "github.com/heeplr/document-dl/lib/telemetry"
)

const envPrefix = "DOCDL_"

var rootCmd = &cobra.Command{
	Use:   "document-dl",
	Short: "document-dl logs into web portals and lists or downloads the documents they offer.",
	Long: `document-dl logs into web portals and lists or downloads the documents they offer.

Every flag can also be given as an environment variable, DOCDL_ followed by
the flag name in upper case with dashes replaced by underscores, for example
DOCDL_PASSWORD or DOCDL_DOWNLOAD_DIR.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		err := applyEnv(cmd.Flags())
		if err != nil {
			return err
		}
		libtelemetry.InitSlog(flags.verbose)
		return nil
	},
}

// ExecuteContext runs the command line and returns the process exit code.
func ExecuteContext(ctx context.Context) int {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// envName maps a flag name to its environment variable.
func envName(flag string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

// applyEnv sets every flag that was not given on the command line from
// its environment variable. Repeatable flags take comma separated values.
func applyEnv(fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if err != nil || f.Changed {
			return
		}
		value, ok := os.LookupEnv(envName(f.Name))
		if !ok {
			return
		}
		if setErr := fs.Set(f.Name, value); setErr != nil {
			err = fmt.Errorf("%s: %w", envName(f.Name), setErr)
		}
	})
	return err
}
