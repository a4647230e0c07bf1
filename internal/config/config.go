// Package config holds the settings shared by every portal. A Config value
// is threaded through construction, nothing in here is process-wide.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	BrowserChrome   = "chrome"
	BrowserChromium = "chromium"
	BrowserEdge     = "edge"
	BrowserRemote   = "remote"
)

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

type Config struct {
	// Browser selects the browser engine used by portals that need one.
	Browser string `json:"browser" yaml:"browser" validate:"omitempty,oneof=chrome chromium edge remote"`
	// BrowserBin overrides the browser binary lookup.
	BrowserBin string `json:"browser_bin" yaml:"browser_bin"`
	// RemoteURL is the DevTools websocket url used when Browser is "remote".
	RemoteURL string `json:"remote_url" yaml:"remote_url" validate:"required_if=Browser remote"`
	// Headless hides the browser window.
	Headless *bool `json:"headless" yaml:"headless"`
	// Timeout in seconds, applied to HTTP connects and response headers and to
	// browser wait conditions.
	Timeout int `json:"timeout" yaml:"timeout" validate:"gte=0"`
	// LoadImages lets the browser fetch images, they are blocked otherwise.
	LoadImages bool `json:"load_images" yaml:"load_images"`
	// DownloadDir is where downloaded documents are written.
	DownloadDir string `json:"download_dir" yaml:"download_dir"`
	// RateLimit is the maximum number of HTTP requests per second, 0 disables limiting.
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit" validate:"gte=0"`
	// UserAgent is the initial HTTP user agent, it is replaced by the
	// browser's user agent once a browser session has logged in.
	UserAgent string `json:"user_agent" yaml:"user_agent"`
	// DumpHTTP is a directory that receives the text of every HTTP exchange.
	DumpHTTP string `json:"dump_http" yaml:"dump_http"`
	// Arguments are scraper specific settings passed through verbatim.
	Arguments map[string]string `json:"arguments" yaml:"arguments"`
}

// Default returns the configuration used when nothing else is specified.
func Default() Config {
	headless := true
	return Config{
		Browser:     BrowserChrome,
		Headless:    &headless,
		Timeout:     15,
		DownloadDir: ".",
		RateLimit:   2,
		UserAgent:   DefaultUserAgent,
		Arguments:   map[string]string{},
	}
}

// WithDefaults fills every unset field from Default.
func (c Config) WithDefaults() Config {
	def := Default()
	if c.Browser == "" {
		c.Browser = def.Browser
	}
	if c.Headless == nil {
		c.Headless = def.Headless
	}
	if c.Timeout == 0 {
		c.Timeout = def.Timeout
	}
	if c.DownloadDir == "" {
		c.DownloadDir = def.DownloadDir
	}
	if c.UserAgent == "" {
		c.UserAgent = def.UserAgent
	}
	if c.Arguments == nil {
		c.Arguments = map[string]string{}
	}
	return c
}

// IsHeadless reports the headless flag, defaulting to true.
func (c Config) IsHeadless() bool {
	return c.Headless == nil || *c.Headless
}

// TimeoutDuration is Timeout as a time.Duration.
func (c Config) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// AbsDownloadDir resolves DownloadDir against the working directory.
func (c Config) AbsDownloadDir() (string, error) {
	dir := c.DownloadDir
	if dir == "" {
		dir = "."
	}
	return filepath.Abs(dir)
}

// Argument returns a scraper argument or fallback when it is unset.
func (c Config) Argument(key, fallback string) string {
	value, ok := c.Arguments[key]
	if !ok || value == "" {
		return fallback
	}
	return value
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// prefer json tag names in messages
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		tag := fld.Tag.Get("json")
		if tag == "-" || tag == "" {
			return fld.Name
		}
		if idx := strings.Index(tag, ","); idx >= 0 {
			tag = tag[:idx]
		}
		return tag
	})
	return v
}

// Validate checks the configuration for values no portal could work with.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	var msgs []string
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (got %v)", fe.Field(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
