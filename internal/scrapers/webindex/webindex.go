// Package webindex is a generic scraper for portals that list their
// documents as links on a single page behind a form login.
package webindex

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/heeplr/document-dl/internal/components/telemetry"
	"github.com/heeplr/document-dl/internal/config"
	"github.com/heeplr/document-dl/internal/dateparser"
	"github.com/heeplr/document-dl/internal/document"
	"github.com/heeplr/document-dl/internal/portal"
	"github.com/heeplr/document-dl/lib/htmlutil"
)

const Name = "webindex"

// Argument keys read from config.Config.Arguments.
const (
	ArgLoginURL        = "login_url"
	ArgUsernameField   = "username_field"
	ArgPasswordField   = "password_field"
	ArgSuccessSelector = "success_selector"
	ArgLogoutURL       = "logout_url"
	ArgDocumentsURL    = "documents_url"
	ArgLinkSelector    = "link_selector"
	ArgDateSelector    = "date_selector"
	ArgDateFormat      = "date_format"
	ArgMode            = "mode"
)

const (
	ModeHTTP    = "http"
	ModeBrowser = "browser"
)

const (
	report_webindex_login     = "webindex.login"
	report_webindex_documents = "webindex.documents"
	report_webindex_date      = "webindex.date"
)

const defaultLinkSelector = `a[href$=".pdf"]`

func init() {
	portal.Register(portal.Plugin{
		Name:        Name,
		Description: "documents linked from a single listing page behind a form login",
		Browser: func(cfg config.Config) bool {
			return cfg.Argument(ArgMode, ModeHTTP) == ModeBrowser
		},
		New: func(cfg config.Config) (portal.Scraper, error) {
			return New(cfg)
		},
	})
}

// Scraper logs in through an HTML form and yields one document per link
// matching the link selector.
type Scraper struct {
	loginURL        string
	usernameField   string
	passwordField   string
	successSelector string
	logoutURL       string
	documentsURL    *url.URL
	linkSelector    string
	dateSelector    string
	dateFormat      string
	mode            string

	dates dateparser.Parser
}

func New(cfg config.Config) (*Scraper, error) {
	rawDocumentsURL := cfg.Argument(ArgDocumentsURL, "")
	if rawDocumentsURL == "" {
		return nil, fmt.Errorf("webindex: argument %q is required", ArgDocumentsURL)
	}
	documentsURL, err := url.Parse(rawDocumentsURL)
	if err != nil {
		return nil, fmt.Errorf("webindex: %s: %w", ArgDocumentsURL, err)
	}

	mode := cfg.Argument(ArgMode, ModeHTTP)
	if mode != ModeHTTP && mode != ModeBrowser {
		return nil, fmt.Errorf("webindex: %s must be %q or %q, got %q", ArgMode, ModeHTTP, ModeBrowser, mode)
	}

	return &Scraper{
		loginURL:        cfg.Argument(ArgLoginURL, ""),
		usernameField:   cfg.Argument(ArgUsernameField, "username"),
		passwordField:   cfg.Argument(ArgPasswordField, "password"),
		successSelector: cfg.Argument(ArgSuccessSelector, ""),
		logoutURL:       cfg.Argument(ArgLogoutURL, ""),
		documentsURL:    documentsURL,
		linkSelector:    cfg.Argument(ArgLinkSelector, defaultLinkSelector),
		dateSelector:    cfg.Argument(ArgDateSelector, ""),
		dateFormat:      cfg.Argument(ArgDateFormat, ""),
		mode:            mode,
		dates:           dateparser.New(nil),
	}, nil
}

func (s *Scraper) Login(ctx context.Context, p *portal.Portal) (bool, error) {
	if s.loginURL == "" {
		return true, nil
	}
	if s.mode == ModeBrowser {
		return s.loginBrowser(ctx, p)
	}
	return s.loginHTTP(ctx, p)
}

func (s *Scraper) Logout(ctx context.Context, p *portal.Portal) error {
	if s.logoutURL == "" {
		return nil
	}
	if s.mode == ModeBrowser {
		b, err := browserOf(p)
		if err != nil {
			return err
		}
		return b.Navigate(ctx, s.logoutURL)
	}
	_, err := p.HTTP.R().SetContext(ctx).Get(s.logoutURL)
	return err
}

func (s *Scraper) Documents(ctx context.Context, p *portal.Portal) iter.Seq2[*document.Document, error] {
	if s.mode == ModeBrowser {
		return s.documentsBrowser(ctx, p)
	}
	return s.documentsHTTP(ctx, p)
}

// loginSucceeded decides on the page shown after submitting the form.
func (s *Scraper) loginSucceeded(page *goquery.Document) bool {
	if s.successSelector != "" {
		return page.Find(s.successSelector).Length() > 0
	}
	return page.Find(fieldSelector(s.passwordField)).Length() == 0
}

func fieldSelector(name string) string {
	return fmt.Sprintf(`input[name=%q]`, name)
}

func (s *Scraper) loginHTTP(ctx context.Context, p *portal.Portal) (bool, error) {
	tel := p.Telemetry()

	res, err := p.HTTP.R().
		SetContext(ctx).
		Get(s.loginURL)
	if err != nil {
		tel.ReportBroken(report_webindex_login, fmt.Errorf("login page request: %w", err))
		return false, err
	}
	page, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		tel.ReportBroken(report_webindex_login, fmt.Errorf("parse login page: %w", err))
		return false, err
	}

	form := page.Find(fieldSelector(s.passwordField)).Closest("form")
	if form.Length() == 0 {
		return false, fmt.Errorf("no login form with a %q field on %s", s.passwordField, s.loginURL)
	}

	// keep hidden inputs such as csrf tokens
	formData := map[string]string{}
	form.Find("input[name]").Each(func(_ int, input *goquery.Selection) {
		name, _ := input.Attr("name")
		typ := strings.ToLower(input.AttrOr("type", "text"))
		if typ == "submit" || typ == "button" || typ == "checkbox" || typ == "radio" {
			return
		}
		formData[name] = input.AttrOr("value", "")
	})
	formData[s.usernameField] = p.LoginID
	formData[s.passwordField] = p.Password

	action, err := resolve(s.loginURL, form.AttrOr("action", ""))
	if err != nil {
		return false, err
	}

	res, err = p.HTTP.R().
		SetContext(ctx).
		SetFormData(formData).
		Post(action)
	if err != nil {
		tel.ReportBroken(report_webindex_login, fmt.Errorf("submit login form: %w", err))
		return false, err
	}
	if !res.IsSuccess() {
		tel.ReportWarning(report_webindex_login, action, res.StatusCode())
		return false, nil
	}
	page, err = goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		tel.ReportBroken(report_webindex_login, fmt.Errorf("parse page after login: %w", err))
		return false, err
	}
	return s.loginSucceeded(page), nil
}

func resolve(base, ref string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", base, err)
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", ref, err)
	}
	return baseURL.ResolveReference(refURL).String(), nil
}

func (s *Scraper) documentsHTTP(ctx context.Context, p *portal.Portal) iter.Seq2[*document.Document, error] {
	return func(yield func(*document.Document, error) bool) {
		res, err := p.HTTP.R().
			SetContext(ctx).
			Get(s.documentsURL.String())
		if err != nil {
			p.Telemetry().ReportBroken(report_webindex_documents, err)
			yield(nil, fmt.Errorf("fetch document listing: %w", err))
			return
		}
		if !res.IsSuccess() {
			yield(nil, fmt.Errorf("fetch document listing: status %d", res.StatusCode()))
			return
		}
		page, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
		if err != nil {
			yield(nil, fmt.Errorf("parse document listing: %w", err))
			return
		}

		for _, entry := range s.listing(ctx, p.Telemetry(), page, s.documentsURL) {
			if !yield(document.New(entry.url, entry.attributes), nil) {
				return
			}
		}
	}
}

type entry struct {
	url        string
	attributes document.Attributes
}

// listing extracts one entry per link, in page order. Relative links are
// resolved against base.
func (s *Scraper) listing(ctx context.Context, tel telemetry.API, page *goquery.Document, base *url.URL) []entry {
	links := page.Find(s.linkSelector)
	anchors := htmlutil.GetAnchors(ctx, links, base)

	entries := make([]entry, 0, len(anchors))
	for i, anchor := range anchors {
		title := anchor.Name
		if title == "" {
			if u, err := url.Parse(anchor.Href); err == nil {
				title = path.Base(u.Path)
			}
		}
		attributes := document.Attributes{
			document.AttrID:    i + 1,
			document.AttrTitle: title,
			"url":              anchor.Href,
		}
		if s.dateSelector != "" {
			if raw := s.nearbyText(page.FindNodes(anchor.Node)); raw != "" {
				attributes["date"] = s.parseDate(tel, raw)
			}
		}
		entries = append(entries, entry{url: anchor.Href, attributes: attributes})
	}
	return entries
}

// nearbyText returns the text of the closest element matching the date
// selector that shares an ancestor with link. The search stops at the first
// ancestor holding other links, so one row never borrows another's date.
func (s *Scraper) nearbyText(link *goquery.Selection) string {
	for parent := link.Parent(); parent.Length() > 0; parent = parent.Parent() {
		if parent.Find(s.linkSelector).Length() > 1 {
			return ""
		}
		found := parent.Find(s.dateSelector).First()
		if found.Length() > 0 {
			return htmlutil.CleanText(found.Text())
		}
	}
	return ""
}

func (s *Scraper) parseDate(tel telemetry.API, raw string) any {
	parsed, err := s.dates.Parse(raw, s.dateFormat)
	if err != nil {
		tel.ReportWarning(report_webindex_date, raw, err)
		return raw
	}
	if _, ok := parsed.(time.Time); !ok {
		tel.ReportDebug(report_webindex_date, "kept as text", raw)
	}
	return parsed
}
