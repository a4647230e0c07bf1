package portal

import (
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/heeplr/document-dl/internal/components/telemetry"
	"github.com/heeplr/document-dl/internal/config"
	"github.com/heeplr/document-dl/lib/restyutil"
)

// NewHTTPClient creates the HTTP client of a portal: a cookie jar, a
// cloudflare friendly transport, the configured user agent and rate limit,
// and telemetry on every request.
//
// The timeout bounds connecting and waiting for response headers only.
// Reading a body is bounded by the request context, so a slow but steady
// download is never cut off.
func NewHTTPClient(cfg config.Config, tel telemetry.API) (*resty.Client, error) {
	cfg = cfg.WithDefaults()

	client := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(newTransport(client, cfg.TimeoutDuration()))

	client.SetHeader("user-agent", cfg.UserAgent)

	if cfg.RateLimit > 0 {
		// burst >= 1 just means that no requests will be dropped
		burst := max(int(cfg.RateLimit), 1)
		rateLimiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
		client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return rateLimiter.Wait(req.Context())
		})
	}

	var output restyutil.InstrumentOutput
	if cfg.DumpHTTP != "" {
		fsOutput, err := restyutil.NewFilesystemOutput(cfg.DumpHTTP)
		if err != nil {
			return nil, fmt.Errorf("http dump directory: %w", err)
		}
		output = fsOutput
	}
	telemetry.InstrumentResty(client, telemetry.NewScopedAPI("http", tel), output)

	return client, nil
}

func newTransport(client *resty.Client, timeout time.Duration) *http.Transport {
	transport, ok := client.GetClient().Transport.(*http.Transport)
	if !ok {
		transport = http.DefaultTransport.(*http.Transport).Clone()
	}
	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}
	transport.DialContext = dialer.DialContext
	transport.TLSHandshakeTimeout = timeout
	transport.ResponseHeaderTimeout = timeout
	return transport
}
