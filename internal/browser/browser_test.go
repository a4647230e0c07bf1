package browser

import (
	"net/http"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/heeplr/document-dl/internal/config"
)

func TestCookieConversion(t *testing.T) {
	expires := time.Unix(1767225600, 0)
	original := &http.Cookie{
		Name:     "session",
		Value:    "abc",
		Domain:   "portal.example",
		Path:     "/",
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  expires,
	}

	param := toCookieParam(original)
	require.Equal(t, proto.NetworkCookieSameSiteLax, param.SameSite)

	back := toHTTPCookie(&proto.NetworkCookie{
		Name:     param.Name,
		Value:    param.Value,
		Domain:   param.Domain,
		Path:     param.Path,
		Secure:   param.Secure,
		HTTPOnly: param.HTTPOnly,
		SameSite: param.SameSite,
		Expires:  param.Expires,
	})

	diff := cmp.Diff(original, back)
	if diff != "" {
		t.Fatal(diff)
	}
}

func TestSessionCookieHasNoExpiry(t *testing.T) {
	c := toHTTPCookie(&proto.NetworkCookie{Name: "a", Value: "b", Session: true, Expires: -1})
	require.True(t, c.Expires.IsZero())
}

func TestBlocked(t *testing.T) {
	require.True(t, blocked(proto.NetworkResourceTypeImage))
	require.False(t, blocked(proto.NetworkResourceTypeDocument))
	require.False(t, blocked(proto.NetworkResourceTypeScript))
}

func TestBinaryFor(t *testing.T) {
	bin, err := binaryFor(config.Config{Browser: config.BrowserChrome, BrowserBin: "/opt/chrome"})
	require.NoError(t, err)
	require.Equal(t, "/opt/chrome", bin)

	t.Setenv("PATH", t.TempDir())
	_, err = binaryFor(config.Config{Browser: config.BrowserEdge})
	require.Error(t, err)
}
