package webindex

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"

	"github.com/heeplr/document-dl/internal/browser"
	"github.com/heeplr/document-dl/internal/document"
	"github.com/heeplr/document-dl/internal/portal"
)

func browserOf(p *portal.Portal) (*browser.Browser, error) {
	b, ok := p.Browser.(*browser.Browser)
	if !ok || b == nil {
		return nil, fmt.Errorf("webindex: mode %q needs a browser: %w", ModeBrowser, portal.ErrNoBrowser)
	}
	return b, nil
}

func (s *Scraper) loginBrowser(ctx context.Context, p *portal.Portal) (bool, error) {
	b, err := browserOf(p)
	if err != nil {
		return false, err
	}
	err = b.Navigate(ctx, s.loginURL)
	if err != nil {
		p.Telemetry().ReportBroken(report_webindex_login, err)
		return false, err
	}
	page := b.Page(ctx)

	username, err := page.Element(fieldSelector(s.usernameField))
	if err != nil {
		return false, fmt.Errorf("find username field: %w", err)
	}
	err = username.Input(p.LoginID)
	if err != nil {
		return false, fmt.Errorf("enter username: %w", err)
	}
	password, err := page.Element(fieldSelector(s.passwordField))
	if err != nil {
		return false, fmt.Errorf("find password field: %w", err)
	}
	err = password.Input(p.Password)
	if err != nil {
		return false, fmt.Errorf("enter password: %w", err)
	}

	wait := page.WaitNavigation(proto.PageLifecycleEventNameLoad)
	err = password.Type(input.Enter)
	if err != nil {
		return false, fmt.Errorf("submit login form: %w", err)
	}
	wait()

	html, err := page.HTML()
	if err != nil {
		return false, fmt.Errorf("read page after login: %w", err)
	}
	result, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false, fmt.Errorf("parse page after login: %w", err)
	}
	return s.loginSucceeded(result), nil
}

// documentsBrowser yields click documents. Attributes come from the same
// extraction as HTTP mode, run on the rendered page, and are paired with
// the live elements by position.
func (s *Scraper) documentsBrowser(ctx context.Context, p *portal.Portal) iter.Seq2[*document.Document, error] {
	return func(yield func(*document.Document, error) bool) {
		b, err := browserOf(p)
		if err != nil {
			yield(nil, err)
			return
		}
		err = b.Navigate(ctx, s.documentsURL.String())
		if err != nil {
			p.Telemetry().ReportBroken(report_webindex_documents, err)
			yield(nil, err)
			return
		}
		page := b.Page(ctx)

		html, err := page.HTML()
		if err != nil {
			yield(nil, fmt.Errorf("read document listing: %w", err))
			return
		}
		listing, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil {
			yield(nil, fmt.Errorf("parse document listing: %w", err))
			return
		}
		// relative links resolve against the page the browser ended up on
		base := s.documentsURL
		if info, err := page.Info(); err == nil {
			if current, err := url.Parse(info.URL); err == nil {
				base = current
			}
		}
		entries := s.listing(ctx, p.Telemetry(), listing, base)

		elements, err := page.Elements(s.linkSelector)
		if err != nil {
			yield(nil, fmt.Errorf("find document links: %w", err))
			return
		}
		// links without href are skipped by the extraction, skip them here too
		var clickable []browser.Element
		for _, el := range elements {
			href, err := el.Attribute("href")
			if err != nil || href == nil || strings.TrimSpace(*href) == "" {
				continue
			}
			clickable = append(clickable, browser.NewElement(el))
		}
		if len(clickable) != len(entries) {
			yield(nil, fmt.Errorf("document listing changed while reading it: %d links, %d entries", len(clickable), len(entries)))
			return
		}

		for i, entry := range entries {
			if !yield(document.NewClickable(clickable[i], entry.attributes), nil) {
				return
			}
		}
	}
}
