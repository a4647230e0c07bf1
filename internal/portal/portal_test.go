package portal

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/heeplr/document-dl/internal/components/telemetry"
	"github.com/heeplr/document-dl/internal/config"
	"github.com/heeplr/document-dl/internal/document"
)

type fakeScraper struct {
	loginOK   bool
	loginErr  error
	logoutErr error

	logins  int
	logouts int
	docs    []*document.Document
}

func (s *fakeScraper) Login(ctx context.Context, p *Portal) (bool, error) {
	s.logins++
	return s.loginOK, s.loginErr
}

func (s *fakeScraper) Logout(ctx context.Context, p *Portal) error {
	s.logouts++
	return s.logoutErr
}

func (s *fakeScraper) Documents(ctx context.Context, p *Portal) iter.Seq2[*document.Document, error] {
	return func(yield func(*document.Document, error) bool) {
		for _, doc := range s.docs {
			if !yield(doc, nil) {
				return
			}
		}
	}
}

type checkingScraper struct {
	fakeScraper
	loggedIn bool
}

func (s *checkingScraper) IsLoggedIn(ctx context.Context, p *Portal) (bool, error) {
	return s.loggedIn, nil
}

type customScraper struct {
	fakeScraper
	downloaded []*document.Document
}

func (s *customScraper) Download(ctx context.Context, p *Portal, doc *document.Document) (string, error) {
	s.downloaded = append(s.downloaded, doc)
	return "custom.pdf", nil
}

type fakeBrowser struct {
	cookies    []*http.Cookie
	userAgent  string
	closeErr   error
	cookiesErr error

	closed      int
	set         []*http.Cookie
	cookieReads int
}

func (b *fakeBrowser) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	b.cookieReads++
	if b.cookiesErr != nil {
		return nil, b.cookiesErr
	}
	return b.cookies, nil
}

func (b *fakeBrowser) SetCookies(ctx context.Context, cookies []*http.Cookie) error {
	b.set = append(b.set, cookies...)
	return nil
}

func (b *fakeBrowser) UserAgent(ctx context.Context) (string, error) {
	return b.userAgent, nil
}

func (b *fakeBrowser) Close() error {
	b.closed++
	return b.closeErr
}

func newTestPortal(t *testing.T, scraper Scraper, browser BrowserHandle) *Portal {
	t.Helper()
	p, err := New(scraper, Options{
		LoginID:   "user",
		Password:  "secret",
		Config:    config.Config{DownloadDir: t.TempDir()},
		Browser:   browser,
		Telemetry: telemetry.SlogAPI{},
	})
	require.NoError(t, err)
	return p
}

func TestEnterExit(t *testing.T) {
	scraper := &fakeScraper{loginOK: true}
	browser := &fakeBrowser{}
	p := newTestPortal(t, scraper, browser)

	require.NoError(t, p.Enter(context.Background()))
	require.Equal(t, StateLoggedIn, p.State())

	require.NoError(t, p.Exit(context.Background()))
	require.Equal(t, StateLoggedOut, p.State())
	require.Equal(t, 1, scraper.logouts)
	require.Equal(t, 1, browser.closed)

	// idempotent
	require.NoError(t, p.Exit(context.Background()))
	require.Equal(t, 1, scraper.logouts)
	require.Equal(t, 1, browser.closed)
}

func TestEnterFailure(t *testing.T) {
	testCases := []struct {
		name    string
		scraper Scraper
	}{
		{name: "rejected", scraper: &fakeScraper{loginOK: false}},
		{name: "error", scraper: &fakeScraper{loginErr: errors.New("timeout")}},
		{name: "checker disagrees", scraper: &checkingScraper{fakeScraper: fakeScraper{loginOK: true}}},
	}

	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			browser := &fakeBrowser{}
			p := newTestPortal(t, test.scraper, browser)

			err := p.Enter(context.Background())
			require.ErrorIs(t, err, ErrAuthentication)
			require.Equal(t, StateLoggedOut, p.State())
			require.Equal(t, 1, browser.closed)

			// no logout after a failed login
			require.NoError(t, p.Exit(context.Background()))
		})
	}
}

func TestLoginChecker(t *testing.T) {
	scraper := &checkingScraper{loggedIn: true}
	p := newTestPortal(t, scraper, nil)
	require.NoError(t, p.Enter(context.Background()))
}

func TestUseExitsOnError(t *testing.T) {
	scraper := &fakeScraper{loginOK: true}
	browser := &fakeBrowser{}
	p := newTestPortal(t, scraper, browser)

	failure := errors.New("iteration failed")
	err := Use(context.Background(), p, func(ctx context.Context, p *Portal) error {
		return failure
	})
	require.ErrorIs(t, err, failure)
	require.Equal(t, 1, scraper.logouts)
	require.Equal(t, 1, browser.closed)
}

func TestUseExitsOnPanic(t *testing.T) {
	scraper := &fakeScraper{loginOK: true}
	browser := &fakeBrowser{}
	p := newTestPortal(t, scraper, browser)

	require.PanicsWithValue(t, "boom", func() {
		_ = Use(context.Background(), p, func(ctx context.Context, p *Portal) error {
			panic("boom")
		})
	})
	require.Equal(t, 1, scraper.logouts)
	require.Equal(t, 1, browser.closed)
	require.Equal(t, StateLoggedOut, p.State())
}

func TestUseExitsOnCancellation(t *testing.T) {
	scraper := &fakeScraper{loginOK: true}
	p := newTestPortal(t, scraper, nil)

	ctx, cancel := context.WithCancel(context.Background())
	err := Use(ctx, p, func(ctx context.Context, p *Portal) error {
		cancel()
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, scraper.logouts)
}

func TestExitJoinsErrors(t *testing.T) {
	logoutErr := errors.New("logout failed")
	closeErr := errors.New("browser gone")
	p := newTestPortal(t, &fakeScraper{loginOK: true, logoutErr: logoutErr}, &fakeBrowser{closeErr: closeErr})

	require.NoError(t, p.Enter(context.Background()))
	err := p.Exit(context.Background())
	require.ErrorIs(t, err, logoutErr)
	require.ErrorIs(t, err, closeErr)
}

func TestDocumentsRequiresLogin(t *testing.T) {
	scraper := &fakeScraper{loginOK: true, docs: []*document.Document{
		document.New("https://portal.example/1", nil),
		document.New("https://portal.example/2", nil),
	}}
	p := newTestPortal(t, scraper, nil)

	for _, err := range p.Documents(context.Background()) {
		require.Error(t, err)
	}

	require.NoError(t, p.Enter(context.Background()))
	count := 0
	for doc, err := range p.Documents(context.Background()) {
		require.NoError(t, err)
		require.NotNil(t, doc)
		count++
	}
	require.Equal(t, 2, count)
}

func TestSyncToHTTP(t *testing.T) {
	var gotCookie, gotAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session"); err == nil {
			gotCookie = c.Value
		}
		gotAgent = r.UserAgent()
		w.Header().Set("Content-Disposition", `attachment; filename="statement.pdf"`)
		w.Write([]byte("%PDF-1.4"))
	}))
	defer server.Close()
	serverURL, err := url.Parse(server.URL)
	require.NoError(t, err)

	browser := &fakeBrowser{
		cookies: []*http.Cookie{
			{Name: "session", Value: "abc", Domain: serverURL.Hostname(), Path: "/"},
			{Name: "nodomain", Value: "skipped"},
		},
		userAgent: "HeadlessChrome/126",
	}
	p := newTestPortal(t, &fakeScraper{loginOK: true}, browser)
	require.NoError(t, p.Enter(context.Background()))

	path, err := p.Download(context.Background(), document.New(server.URL+"/statement", nil))
	require.NoError(t, err)
	require.FileExists(t, path)
	require.Equal(t, "abc", gotCookie)
	require.Equal(t, "HeadlessChrome/126", gotAgent)
}

// clickElement drops a file into dir when clicked and remembers how often
// the browser cookies had been read by then.
type clickElement struct {
	dir     string
	browser *fakeBrowser

	readsAtClick int
}

func (e *clickElement) ScrollIntoView(ctx context.Context) error {
	return nil
}

func (e *clickElement) Click(ctx context.Context) error {
	e.readsAtClick = e.browser.cookieReads
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = os.WriteFile(filepath.Join(e.dir, "clicked.pdf"), []byte("%PDF-1.4"), 0644)
	}()
	return nil
}

func TestDefaultDownloadClicksAfterSync(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request for %s, the element should be clicked", r.URL)
	}))
	defer server.Close()

	browser := &fakeBrowser{}
	p := newTestPortal(t, &fakeScraper{loginOK: true}, browser)
	require.NoError(t, p.Enter(context.Background()))
	readsAfterEnter := browser.cookieReads

	el := &clickElement{dir: p.Downloader().Dir, browser: browser}
	doc := document.NewClickable(el, nil)
	doc.URL = server.URL + "/statement.pdf"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	path, err := p.Download(ctx, doc)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(p.Downloader().Dir, "clicked.pdf"), path)
	require.Equal(t, readsAfterEnter+1, el.readsAtClick)
}

func TestSyncToBrowser(t *testing.T) {
	browser := &fakeBrowser{}
	p := newTestPortal(t, &fakeScraper{loginOK: true}, browser)
	require.NoError(t, p.Enter(context.Background()))

	u, err := url.Parse("https://portal.example/account")
	require.NoError(t, err)
	p.HTTP.GetClient().Jar.SetCookies(u, []*http.Cookie{{Name: "token", Value: "xyz", Path: "/"}})

	require.NoError(t, p.SyncToBrowser(context.Background(), u.String()))
	require.Len(t, browser.set, 1)
	require.Equal(t, "token", browser.set[0].Name)
	require.Equal(t, "xyz", browser.set[0].Value)
	require.Equal(t, "portal.example", browser.set[0].Domain)
}

func TestSyncWithoutBrowser(t *testing.T) {
	p := newTestPortal(t, &fakeScraper{loginOK: true}, nil)
	require.ErrorIs(t, p.SyncToHTTP(context.Background()), ErrNoBrowser)
	require.ErrorIs(t, p.SyncToBrowser(context.Background(), "https://portal.example"), ErrNoBrowser)
}

func TestCustomDownloader(t *testing.T) {
	scraper := &customScraper{fakeScraper: fakeScraper{loginOK: true}}
	p := newTestPortal(t, scraper, nil)
	require.NoError(t, p.Enter(context.Background()))

	doc := document.New("https://portal.example/1", nil)
	path, err := p.Download(context.Background(), doc)
	require.NoError(t, err)
	require.Equal(t, "custom.pdf", path)
	require.Len(t, scraper.downloaded, 1)
}

func TestDefaultDownloadUndownloadable(t *testing.T) {
	p := newTestPortal(t, &fakeScraper{loginOK: true}, nil)
	require.NoError(t, p.Enter(context.Background()))

	path, err := p.Download(context.Background(), document.New("", nil))
	require.NoError(t, err)
	require.Equal(t, "", path)
}

func TestRegistry(t *testing.T) {
	Register(Plugin{
		Name:        "zz-test",
		Description: "test plugin",
		New: func(cfg config.Config) (Scraper, error) {
			return &fakeScraper{}, nil
		},
	})

	plugin, ok := Lookup("zz-test")
	require.True(t, ok)
	require.Equal(t, "test plugin", plugin.Description)

	require.False(t, plugin.NeedsBrowser(config.Config{}))

	_, ok = Lookup("missing")
	require.False(t, ok)

	names := []string{}
	for _, p := range Plugins() {
		names = append(names, p.Name)
	}
	require.Contains(t, names, "zz-test")

	require.Panics(t, func() {
		Register(Plugin{Name: "zz-test", New: plugin.New})
	})
}

func TestEnterSyncFailureExits(t *testing.T) {
	broken := errors.New("devtools went away")
	scraper := &fakeScraper{loginOK: true}
	browser := &fakeBrowser{cookiesErr: broken}
	p := newTestPortal(t, scraper, browser)

	err := p.Enter(context.Background())
	require.ErrorIs(t, err, broken)
	require.NotErrorIs(t, err, ErrAuthentication)
	require.Equal(t, StateLoggedOut, p.State())
	require.Equal(t, 1, scraper.logouts)
	require.Equal(t, 1, browser.closed)
}
