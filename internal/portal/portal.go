// Package portal implements the session lifecycle every scraper runs in:
// login, bridging authentication between the HTTP client and the browser,
// enumeration, download and a logout that runs on every exit path.
package portal

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/heeplr/document-dl/internal/components/assert"
	"github.com/heeplr/document-dl/internal/components/telemetry"
	"github.com/heeplr/document-dl/internal/config"
	"github.com/heeplr/document-dl/internal/document"
	"github.com/heeplr/document-dl/internal/download"
)

var tracer = otel.Tracer("document-dl/portal")

const (
	report_portal_enter    = "portal.enter"
	report_portal_exit     = "portal.exit"
	report_portal_sync     = "portal.sync"
	report_portal_download = "portal.download"
)

// ErrAuthentication is wrapped by every login failure. It is fatal to the
// session.
var ErrAuthentication = errors.New("authentication failed")

// ErrNoBrowser is returned by browser operations on portals without one.
var ErrNoBrowser = errors.New("portal has no browser")

// Scraper is the site specific part of a portal.
type Scraper interface {
	// Login authenticates and reports whether it worked.
	Login(ctx context.Context, p *Portal) (bool, error)
	// Logout ends the session, it is called even when enumeration failed.
	Logout(ctx context.Context, p *Portal) error
	// Documents lazily enumerates the documents of the portal. The sequence
	// is finite and cannot be restarted.
	Documents(ctx context.Context, p *Portal) iter.Seq2[*document.Document, error]
}

// LoginChecker is implemented by scrapers that verify a login separately
// from performing it. Its result replaces the one reported by Login.
type LoginChecker interface {
	IsLoggedIn(ctx context.Context, p *Portal) (bool, error)
}

// CustomDownloader is implemented by scrapers with multi-step retrieval.
// Implementations may fall back to Portal.DefaultDownload.
type CustomDownloader interface {
	Download(ctx context.Context, p *Portal, doc *document.Document) (string, error)
}

// BrowserHandle is the part of a browser session the lifecycle needs.
type BrowserHandle interface {
	Cookies(ctx context.Context) ([]*http.Cookie, error)
	SetCookies(ctx context.Context, cookies []*http.Cookie) error
	UserAgent(ctx context.Context) (string, error)
	Close() error
}

type State int

const (
	StateCreated State = iota
	StateLoggedIn
	StateLoggedOut
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateLoggedIn:
		return "logged in"
	case StateLoggedOut:
		return "logged out"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type Options struct {
	LoginID  string
	Password string
	Config   config.Config
	// HTTP is created from Config when nil.
	HTTP *resty.Client
	// Browser is optional.
	Browser   BrowserHandle
	Telemetry telemetry.API
}

// Portal is an authenticated source of documents.
type Portal struct {
	LoginID  string
	Password string
	Config   config.Config
	HTTP     *resty.Client
	Browser  BrowserHandle

	scraper    Scraper
	downloader *download.Orchestrator
	state      State
	tel        telemetry.API
}

// New creates a portal in StateCreated. It takes ownership of the browser
// handle, which is closed by Exit (or by a failed Enter).
func New(scraper Scraper, opts Options) (*Portal, error) {
	assert.NotNil(scraper, "scraper")
	assert.NotNil(opts.Telemetry, "telemetry")

	cfg := opts.Config.WithDefaults()
	tel := telemetry.NewScopedAPI("portal", opts.Telemetry)

	client := opts.HTTP
	if client == nil {
		var err error
		client, err = NewHTTPClient(cfg, opts.Telemetry)
		if err != nil {
			return nil, err
		}
	}

	dir, err := cfg.AbsDownloadDir()
	if err != nil {
		return nil, fmt.Errorf("resolve download directory: %w", err)
	}

	return &Portal{
		LoginID:    opts.LoginID,
		Password:   opts.Password,
		Config:     cfg,
		HTTP:       client,
		Browser:    opts.Browser,
		scraper:    scraper,
		downloader: download.New(client, dir, opts.Telemetry),
		state:      StateCreated,
		tel:        tel,
	}, nil
}

func (p *Portal) State() State {
	return p.state
}

// Scraper returns the site specific implementation.
func (p *Portal) Scraper() Scraper {
	return p.scraper
}

// Telemetry is the telemetry scraper code should report to.
func (p *Portal) Telemetry() telemetry.API {
	return p.tel
}

// Downloader is the orchestrator used by DefaultDownload.
func (p *Portal) Downloader() *download.Orchestrator {
	return p.downloader
}

// Enter logs in. On failure the browser is released, the portal ends up in
// StateLoggedOut without a logout and the error wraps ErrAuthentication.
// On success the browser's cookies and user agent are copied to HTTP, if
// that fails the portal exits again.
func (p *Portal) Enter(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Enter")
	defer span.End()

	if p.state != StateCreated {
		return fmt.Errorf("enter portal: already %s", p.state)
	}

	ok, err := p.scraper.Login(ctx, p)
	if err == nil {
		if checker, isChecker := p.scraper.(LoginChecker); isChecker {
			ok, err = checker.IsLoggedIn(ctx, p)
		}
	}
	if err == nil && !ok {
		err = errors.New("login rejected")
	}
	if err != nil {
		p.tel.ReportWarning(report_portal_enter, err)
		authErr := fmt.Errorf("%w: %w", ErrAuthentication, err)
		closeErr := p.closeBrowser()
		p.state = StateLoggedOut

		span.RecordError(authErr)
		span.SetStatus(codes.Error, authErr.Error())
		return errors.Join(authErr, closeErr)
	}

	p.state = StateLoggedIn
	if p.Browser != nil {
		err = p.SyncToHTTP(ctx)
		if err != nil {
			// the session exists, so it gets a regular logout
			err = errors.Join(err, p.Exit(ctx))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	return nil
}

// Exit logs out and releases the browser. Both errors are returned joined.
// Calling Exit again is a no-op.
func (p *Portal) Exit(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Exit")
	defer span.End()

	if p.state == StateLoggedOut {
		return nil
	}

	var logoutErr error
	if p.state == StateLoggedIn {
		logoutErr = p.scraper.Logout(ctx, p)
		if logoutErr != nil {
			p.tel.ReportWarning(report_portal_exit, "logout", logoutErr)
			logoutErr = fmt.Errorf("logout: %w", logoutErr)
		}
	}
	closeErr := p.closeBrowser()
	p.state = StateLoggedOut

	err := errors.Join(logoutErr, closeErr)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (p *Portal) closeBrowser() error {
	if p.Browser == nil {
		return nil
	}
	err := p.Browser.Close()
	p.Browser = nil
	if err != nil {
		p.tel.ReportBroken(report_portal_exit, "close browser", err)
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

// Use enters p, runs fn and exits p on every path, including a panic in fn
// which is re-raised once the portal is closed.
func Use(ctx context.Context, p *Portal, fn func(ctx context.Context, p *Portal) error) (err error) {
	err = p.Enter(ctx)
	if err != nil {
		return err
	}

	defer func() {
		recovered := recover()
		// logout must also run after the run itself was cancelled
		exitErr := p.Exit(context.WithoutCancel(ctx))
		if recovered != nil {
			panic(recovered)
		}
		err = errors.Join(err, exitErr)
	}()

	return fn(ctx, p)
}

// Documents enumerates the portal's documents. It yields a single error
// when the portal is not logged in.
func (p *Portal) Documents(ctx context.Context) iter.Seq2[*document.Document, error] {
	if p.state != StateLoggedIn {
		return func(yield func(*document.Document, error) bool) {
			yield(nil, fmt.Errorf("enumerate documents: portal is %s", p.state))
		}
	}
	return p.scraper.Documents(ctx, p)
}

// Download retrieves doc through the scraper's own downloader if it has
// one, DefaultDownload otherwise.
func (p *Portal) Download(ctx context.Context, doc *document.Document) (string, error) {
	if custom, ok := p.scraper.(CustomDownloader); ok {
		return custom.Download(ctx, p, doc)
	}
	return p.DefaultDownload(ctx, doc)
}

// DefaultDownload hands doc to the orchestrator. When a browser exists the
// HTTP session is refreshed from it first.
func (p *Portal) DefaultDownload(ctx context.Context, doc *document.Document) (string, error) {
	ctx, span := tracer.Start(ctx, "DefaultDownload")
	defer span.End()

	if p.Browser != nil && doc.URL != "" {
		err := p.SyncToHTTP(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", err
		}
	}

	path, err := p.downloader.Download(ctx, doc)
	if err != nil {
		p.tel.ReportWarning(report_portal_download, doc.URL, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.String("path", path))
	return path, nil
}

func (p *Portal) jar() http.CookieJar {
	jar := p.HTTP.GetClient().Jar
	if jar != nil {
		return jar
	}
	// cookiejar.New only fails for a bad public suffix list
	created, _ := cookiejar.New(nil)
	p.HTTP.SetCookieJar(created)
	return created
}

func cookieURL(c *http.Cookie) *url.URL {
	host := strings.TrimPrefix(c.Domain, ".")
	if host == "" {
		return nil
	}
	scheme := "http"
	if c.Secure {
		scheme = "https"
	}
	path := c.Path
	if path == "" {
		path = "/"
	}
	return &url.URL{Scheme: scheme, Host: host, Path: path}
}

// SyncToHTTP copies the browser's cookies and user agent into the HTTP
// client.
func (p *Portal) SyncToHTTP(ctx context.Context) error {
	if p.Browser == nil {
		return ErrNoBrowser
	}

	cookies, err := p.Browser.Cookies(ctx)
	if err != nil {
		p.tel.ReportBroken(report_portal_sync, "read browser cookies", err)
		return fmt.Errorf("read browser cookies: %w", err)
	}
	jar := p.jar()
	for _, c := range cookies {
		u := cookieURL(c)
		if u == nil {
			continue
		}
		jar.SetCookies(u, []*http.Cookie{c})
	}

	userAgent, err := p.Browser.UserAgent(ctx)
	if err != nil {
		p.tel.ReportBroken(report_portal_sync, "read user agent", err)
		return fmt.Errorf("read browser user agent: %w", err)
	}
	if userAgent != "" {
		p.HTTP.SetHeader("User-Agent", userAgent)
	}

	p.tel.ReportDebug("synced browser session to http", len(cookies))
	return nil
}

// SyncToBrowser copies the HTTP client's cookies for rawURL into the
// browser session.
func (p *Portal) SyncToBrowser(ctx context.Context, rawURL string) error {
	if p.Browser == nil {
		return ErrNoBrowser
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("sync cookies for %q: %w", rawURL, err)
	}

	// the jar only hands out name and value
	var cookies []*http.Cookie
	for _, c := range p.jar().Cookies(u) {
		cookies = append(cookies, &http.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: u.Hostname(),
			Path:   "/",
			Secure: u.Scheme == "https",
		})
	}
	if len(cookies) == 0 {
		return nil
	}

	err = p.Browser.SetCookies(ctx, cookies)
	if err != nil {
		p.tel.ReportBroken(report_portal_sync, "write browser cookies", err)
		return fmt.Errorf("write browser cookies: %w", err)
	}
	p.tel.ReportDebug("synced http session to browser", len(cookies))
	return nil
}
