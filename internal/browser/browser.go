// Package browser launches the Chrome family browser used by portals that
// can only be scraped by clicking through them.
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/heeplr/document-dl/internal/components/assert"
	"github.com/heeplr/document-dl/internal/components/telemetry"
	"github.com/heeplr/document-dl/internal/config"
)

const (
	report_browser_launch = "browser.launch"
	report_browser_close  = "browser.close"
)

// edgeBinaries are looked up in PATH when the edge engine is selected.
var edgeBinaries = []string{"microsoft-edge", "microsoft-edge-stable", "msedge"}

// Browser is a connected browser with one stealth page that scrapers drive.
// It implements portal.BrowserHandle.
type Browser struct {
	rod      *rod.Browser
	page     *rod.Page
	launcher *launcher.Launcher
	router   *rod.HijackRouter

	downloadDir string
	timeout     time.Duration
	tel         telemetry.API
}

func binaryFor(cfg config.Config) (string, error) {
	if cfg.BrowserBin != "" {
		return cfg.BrowserBin, nil
	}
	switch cfg.Browser {
	case config.BrowserEdge:
		for _, name := range edgeBinaries {
			if path, err := exec.LookPath(name); err == nil {
				return path, nil
			}
		}
		return "", errors.New("microsoft edge not found in PATH, set browser_bin")
	case config.BrowserChrome, config.BrowserChromium:
		// left to rod's own lookup
		if path, ok := launcher.LookPath(); ok {
			return path, nil
		}
		return "", nil
	default:
		return "", nil
	}
}

// Launch starts (or, for the remote engine, connects to) a browser that
// saves downloads into the configured download directory.
func Launch(ctx context.Context, cfg config.Config, tel telemetry.API) (*Browser, error) {
	assert.NotNil(tel, "telemetry")
	cfg = cfg.WithDefaults()
	tel = telemetry.NewScopedAPI("browser", tel)

	dir, err := cfg.AbsDownloadDir()
	if err != nil {
		return nil, fmt.Errorf("resolve download directory: %w", err)
	}
	err = os.MkdirAll(dir, 0755)
	if err != nil {
		return nil, fmt.Errorf("create download directory: %w", err)
	}

	b := &Browser{
		downloadDir: dir,
		timeout:     cfg.TimeoutDuration(),
		tel:         tel,
	}

	controlURL := cfg.RemoteURL
	if cfg.Browser != config.BrowserRemote {
		bin, err := binaryFor(cfg)
		if err != nil {
			tel.ReportBroken(report_browser_launch, err)
			return nil, err
		}

		l := launcher.New().
			Context(ctx).
			Headless(cfg.IsHeadless()).
			Set("disable-blink-features", "AutomationControlled")
		if bin != "" {
			l = l.Bin(bin)
		}
		controlURL, err = l.Launch()
		if err != nil {
			tel.ReportBroken(report_browser_launch, err)
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		b.launcher = l
		tel.ReportDebug("launched browser", cfg.Browser, bin)
	}

	b.rod = rod.New().Context(ctx).ControlURL(controlURL)
	err = b.rod.Connect()
	if err != nil {
		b.cleanupLauncher()
		tel.ReportBroken(report_browser_launch, err)
		return nil, fmt.Errorf("connect to browser: %w", err)
	}
	// the launch context only bounds startup
	b.rod = b.rod.Context(context.Background())

	err = b.setup(cfg)
	if err != nil {
		closeErr := b.Close()
		return nil, errors.Join(err, closeErr)
	}
	return b, nil
}

func (b *Browser) setup(cfg config.Config) error {
	err := proto.BrowserSetDownloadBehavior{
		Behavior:      proto.BrowserSetDownloadBehaviorBehaviorAllow,
		DownloadPath:  b.downloadDir,
		EventsEnabled: true,
	}.Call(b.rod)
	if err != nil {
		return fmt.Errorf("allow downloads: %w", err)
	}

	b.page, err = stealth.Page(b.rod)
	if err != nil {
		return fmt.Errorf("open page: %w", err)
	}

	if !cfg.LoadImages {
		b.router = blockImages(b.page)
	}
	return nil
}

// Rod exposes the underlying browser for scrapers that need more than the
// main page.
func (b *Browser) Rod() *rod.Browser {
	return b.rod
}

// Page is the main stealth page, bound to ctx and the configured timeout.
func (b *Browser) Page(ctx context.Context) *rod.Page {
	page := b.page.Context(ctx)
	if b.timeout > 0 {
		page = page.Timeout(b.timeout)
	}
	return page
}

// DownloadDir is where clicked downloads end up.
func (b *Browser) DownloadDir() string {
	return b.downloadDir
}

// Navigate loads rawURL in the main page and waits for the load event.
func (b *Browser) Navigate(ctx context.Context, rawURL string) error {
	page := b.Page(ctx)
	err := page.Navigate(rawURL)
	if err != nil {
		return fmt.Errorf("navigate to %s: %w", rawURL, err)
	}
	err = page.WaitLoad()
	if err != nil {
		return fmt.Errorf("wait for %s: %w", rawURL, err)
	}
	return nil
}

// UserAgent is the user agent the page actually sends.
func (b *Browser) UserAgent(ctx context.Context) (string, error) {
	res, err := b.Page(ctx).Eval(`() => navigator.userAgent`)
	if err != nil {
		return "", fmt.Errorf("read user agent: %w", err)
	}
	return res.Value.Str(), nil
}

func (b *Browser) cleanupLauncher() {
	if b.launcher != nil {
		b.launcher.Kill()
		b.launcher.Cleanup()
		b.launcher = nil
	}
}

// Close stops request interception, closes the browser and removes the
// temporary profile.
func (b *Browser) Close() error {
	var errs []error
	if b.router != nil {
		errs = append(errs, b.router.Stop())
		b.router = nil
	}
	if b.rod != nil {
		err := b.rod.Close()
		if err != nil {
			b.tel.ReportWarning(report_browser_close, err)
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
		b.rod = nil
	}
	b.cleanupLauncher()
	return errors.Join(errs...)
}
