// Package download retrieves documents either by streaming their URL or by
// clicking their element and waiting for the browser to drop a file.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/heeplr/document-dl/internal/components/assert"
	"github.com/heeplr/document-dl/internal/components/telemetry"
	"github.com/heeplr/document-dl/internal/document"
	"github.com/heeplr/document-dl/internal/fswatch"
)

var tracer = otel.Tracer("document-dl/download")

const (
	report_http    = "orchestrator.http"
	report_browser = "orchestrator.browser"
	report_rename  = "orchestrator.rename"
)

// ChunkSize is the size of the reads used to stream response bodies.
const ChunkSize = 4096

// HTTPError is returned for non-2xx responses.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("download %s: http status %d", e.URL, e.StatusCode)
}

// Orchestrator downloads documents into Dir.
type Orchestrator struct {
	HTTP *resty.Client
	Dir  string
	// Ignore overrides the in-progress patterns of browser downloads.
	Ignore []string

	tel telemetry.API
}

func New(client *resty.Client, dir string, tel telemetry.API) *Orchestrator {
	assert.NotNil(client, "http client")
	assert.NotNil(tel, "telemetry")
	return &Orchestrator{
		HTTP: client,
		Dir:  dir,
		tel:  telemetry.NewScopedAPI("download", tel),
	}
}

// Download retrieves doc and returns the path of the resulting file.
//
// A document with neither URL nor element is skipped with an empty path.
// A document with both is clicked. Once the file is on disk the filename
// attribute either renames it (when set beforehand) or records its name.
func (o *Orchestrator) Download(ctx context.Context, doc *document.Document) (string, error) {
	ctx, span := tracer.Start(ctx, "Download")
	defer span.End()

	if !doc.Downloadable() {
		span.SetAttributes(attribute.Bool("skipped", true))
		return "", nil
	}

	var name string
	var err error
	if doc.DownloadElement != nil {
		span.SetAttributes(attribute.String("strategy", "browser"))
		name, err = o.downloadBrowser(ctx, doc)
	} else {
		span.SetAttributes(
			attribute.String("strategy", "http"),
			attribute.String("url", doc.URL),
		)
		name, err = o.downloadHTTP(ctx, doc)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	name, err = o.finish(doc, name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.String("filename", name))
	return filepath.Join(o.Dir, name), nil
}

// finish applies the filename attribute to the downloaded file.
func (o *Orchestrator) finish(doc *document.Document, downloaded string) (string, error) {
	wanted, ok := doc.Filename()
	if !ok {
		if doc.Attributes == nil {
			doc.Attributes = document.Attributes{}
		}
		doc.Attributes[document.AttrFilename] = downloaded
		return downloaded, nil
	}
	wanted = cleanName(wanted)
	if wanted == downloaded {
		return wanted, nil
	}

	from := filepath.Join(o.Dir, downloaded)
	to := filepath.Join(o.Dir, wanted)
	err := os.MkdirAll(filepath.Dir(to), 0755)
	if err != nil {
		return "", fmt.Errorf("create directory for %s: %w", wanted, err)
	}
	err = os.Rename(from, to)
	if err != nil {
		o.tel.ReportBroken(report_rename, err, from, to)
		return "", fmt.Errorf("rename %s to %s: %w", downloaded, wanted, err)
	}
	o.tel.ReportDebug("renamed download", downloaded, wanted)
	return wanted, nil
}

func (o *Orchestrator) downloadHTTP(ctx context.Context, doc *document.Document) (string, error) {
	res, err := o.HTTP.R().
		SetContext(ctx).
		SetHeaders(doc.RequestHeaders).
		SetDoNotParseResponse(true).
		Get(doc.URL)
	if err != nil {
		o.tel.ReportBroken(report_http, err, doc.URL)
		return "", fmt.Errorf("download %s: %w", doc.URL, err)
	}
	body := res.RawBody()
	if body == nil {
		body = io.NopCloser(strings.NewReader(""))
	}
	defer body.Close()

	if !res.IsSuccess() {
		o.tel.ReportWarning(report_http, doc.URL, res.StatusCode())
		return "", &HTTPError{URL: doc.URL, StatusCode: res.StatusCode()}
	}

	name, err := resolveFilename(doc, res.Header().Get("Content-Disposition"))
	if err != nil {
		return "", fmt.Errorf("download %s: %w", doc.URL, err)
	}

	path := filepath.Join(o.Dir, name)
	written, err := writeChunked(path, body)
	if err != nil {
		o.tel.ReportBroken(report_http, err, doc.URL, path)
		return "", err
	}
	o.tel.ReportDebug("downloaded", doc.URL, path, written)
	return name, nil
}

func writeChunked(path string, body io.Reader) (int64, error) {
	err := os.MkdirAll(filepath.Dir(path), 0755)
	if err != nil {
		return 0, fmt.Errorf("create directory for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", path, err)
	}

	var written int64
	buf := make([]byte, ChunkSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			_, err = f.Write(buf[:n])
			if err != nil {
				f.Close()
				os.Remove(path)
				return written, fmt.Errorf("write %s: %w", path, err)
			}
			written += int64(n)
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			f.Close()
			os.Remove(path)
			return written, fmt.Errorf("read body for %s: %w", path, readErr)
		}
	}

	err = f.Close()
	if err != nil {
		return written, fmt.Errorf("close %s: %w", path, err)
	}
	return written, nil
}

func (o *Orchestrator) downloadBrowser(ctx context.Context, doc *document.Document) (string, error) {
	el := doc.DownloadElement

	err := el.ScrollIntoView(ctx)
	if err != nil {
		o.tel.ReportBroken(report_browser, "scroll", err)
		return "", fmt.Errorf("scroll to download element: %w", err)
	}

	err = os.MkdirAll(o.Dir, 0755)
	if err != nil {
		return "", fmt.Errorf("create download directory: %w", err)
	}
	watcher, err := fswatch.New(o.Dir, fswatch.Options{Ignore: o.Ignore})
	if err != nil {
		o.tel.ReportBroken(report_browser, "watch", err)
		return "", err
	}
	defer watcher.Close()

	err = el.Click(ctx)
	if err != nil {
		o.tel.ReportBroken(report_browser, "click", err)
		return "", fmt.Errorf("click download element: %w", err)
	}

	name, err := watcher.Wait(ctx)
	if err != nil {
		return "", fmt.Errorf("wait for download: %w", err)
	}
	o.tel.ReportDebug("browser download finished", name)
	return name, nil
}
