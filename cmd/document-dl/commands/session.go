package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/heeplr/document-dl/internal/browser"
	"github.com/heeplr/document-dl/internal/components/telemetry"
	"github.com/heeplr/document-dl/internal/portal"
)

// openPortal builds the portal of the selected plugin, launching a browser
// when the plugin needs one with this configuration.
func openPortal(ctx context.Context, cmd *cobra.Command) (*portal.Portal, error) {
	if flags.plugin == "" {
		return nil, fmt.Errorf("--plugin (or %s) is required", envName("plugin"))
	}
	plugin, ok := portal.Lookup(flags.plugin)
	if !ok {
		return nil, fmt.Errorf("unknown plugin %q, see \"document-dl plugins\"", flags.plugin)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	scraper, err := plugin.New(cfg)
	if err != nil {
		return nil, err
	}

	tel := telemetry.SlogAPI{}
	opts := portal.Options{
		LoginID:   flags.username,
		Password:  flags.password,
		Config:    cfg,
		Telemetry: tel,
	}
	if plugin.NeedsBrowser(cfg) {
		slog.Debug("launching browser", "engine", cfg.Browser, "headless", cfg.IsHeadless())
		b, err := browser.Launch(ctx, cfg, tel)
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		opts.Browser = b
	}

	p, err := portal.New(scraper, opts)
	if err != nil {
		if opts.Browser != nil {
			err = errors.Join(err, opts.Browser.Close())
		}
		return nil, err
	}
	return p, nil
}
