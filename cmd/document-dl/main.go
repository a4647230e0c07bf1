package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/heeplr/document-dl/cmd/document-dl/commands"
	"github.com/heeplr/document-dl/lib/osutil"
	"github.com/heeplr/document-dl/lib/telemetry"

	_ "github.com/heeplr/document-dl/internal/scrapers/webindex"
)

func main() {
	ctx, cancel := osutil.SignalContext(context.Background())

	tel, err := telemetry.SetupFromEnv(ctx, "document-dl")
	if err != nil {
		slog.Warn("telemetry disabled", "err", err)
	}
	if tel.MeterProvider != nil {
		telemetry.InstrumentPerfStats(ctx, time.Second*30)
	}

	code := commands.ExecuteContext(ctx)

	cancel()
	err = tel.Shutdown(context.Background())
	if err != nil {
		slog.Warn("failed to flush telemetry", "err", err)
	}
	os.Exit(code)
}
