package browser

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/go-rod/rod/lib/proto"
)

func toHTTPCookie(c *proto.NetworkCookie) *http.Cookie {
	out := &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HttpOnly: c.HTTPOnly,
	}
	if !c.Session && c.Expires > 0 {
		sec, frac := math.Modf(float64(c.Expires))
		out.Expires = time.Unix(int64(sec), int64(frac*1e9))
	}
	switch c.SameSite {
	case proto.NetworkCookieSameSiteStrict:
		out.SameSite = http.SameSiteStrictMode
	case proto.NetworkCookieSameSiteLax:
		out.SameSite = http.SameSiteLaxMode
	case proto.NetworkCookieSameSiteNone:
		out.SameSite = http.SameSiteNoneMode
	}
	return out
}

func toCookieParam(c *http.Cookie) *proto.NetworkCookieParam {
	out := &proto.NetworkCookieParam{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HTTPOnly: c.HttpOnly,
	}
	if !c.Expires.IsZero() {
		out.Expires = proto.TimeSinceEpoch(float64(c.Expires.UnixNano()) / 1e9)
	}
	switch c.SameSite {
	case http.SameSiteStrictMode:
		out.SameSite = proto.NetworkCookieSameSiteStrict
	case http.SameSiteLaxMode:
		out.SameSite = proto.NetworkCookieSameSiteLax
	case http.SameSiteNoneMode:
		out.SameSite = proto.NetworkCookieSameSiteNone
	}
	return out
}

// Cookies returns every cookie of the browser session.
func (b *Browser) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	cookies, err := b.rod.Context(ctx).GetCookies()
	if err != nil {
		return nil, fmt.Errorf("get browser cookies: %w", err)
	}
	out := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, toHTTPCookie(c))
	}
	return out, nil
}

// SetCookies adds cookies to the browser session.
func (b *Browser) SetCookies(ctx context.Context, cookies []*http.Cookie) error {
	// rod clears every cookie when handed nil
	if len(cookies) == 0 {
		return nil
	}
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, toCookieParam(c))
	}
	err := b.rod.Context(ctx).SetCookies(params)
	if err != nil {
		return fmt.Errorf("set browser cookies: %w", err)
	}
	return nil
}
