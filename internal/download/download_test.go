package download

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"

	"github.com/heeplr/document-dl/internal/components/telemetry"
	"github.com/heeplr/document-dl/internal/document"
)

func newTestServer(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/disposition", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="x.pdf"`)
		w.Write([]byte("%PDF-1.4 disposition"))
	})
	mux.HandleFunc("/nested", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="reports/y.pdf"`)
		w.Write([]byte("nested"))
	})
	mux.HandleFunc("/plain", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("plain body"))
	})
	mux.HandleFunc("/headers", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Token") != "secret" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte("authorized"))
	})
	mux.HandleFunc("/large", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename=large.bin`)
		w.Write(make([]byte, ChunkSize*3+17))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestOrchestrator(t *testing.T) *Orchestrator {
	return New(resty.New(), t.TempDir(), telemetry.SlogAPI{})
}

func TestHTTPFilenameResolution(t *testing.T) {
	server := newTestServer(t)

	testCases := []struct {
		name       string
		path       string
		attributes document.Attributes
		expected   string
	}{
		{
			name:     "content disposition",
			path:     "/disposition",
			expected: "x.pdf",
		},
		{
			name:       "filename attribute wins",
			path:       "/disposition",
			attributes: document.Attributes{"filename": "invoice-42.pdf"},
			expected:   "invoice-42.pdf",
		},
		{
			name:       "filename attribute with directories",
			path:       "/plain",
			attributes: document.Attributes{"filename": "2024/invoice.pdf"},
			expected:   filepath.Join("2024", "invoice.pdf"),
		},
		{
			name:     "header paths are reduced to the base name",
			path:     "/nested",
			expected: "y.pdf",
		},
		{
			name:       "title fallback",
			path:       "/plain",
			attributes: document.Attributes{"title": "Statement 03/2024"},
			expected:   "Statement 03_2024",
		},
		{
			name:       "id fallback",
			path:       "/plain",
			attributes: document.Attributes{"id": 17},
			expected:   "document-dl.17",
		},
	}

	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			o := newTestOrchestrator(t)
			doc := document.New(server.URL+test.path, test.attributes)

			path, err := o.Download(context.Background(), doc)
			require.NoError(t, err)
			require.Equal(t, filepath.Join(o.Dir, test.expected), path)
			require.FileExists(t, path)
			require.Equal(t, test.expected, doc.Attributes[document.AttrFilename])
		})
	}
}

func TestHTTPNoFilename(t *testing.T) {
	server := newTestServer(t)
	o := newTestOrchestrator(t)

	_, err := o.Download(context.Background(), document.New(server.URL+"/plain", nil))
	require.ErrorIs(t, err, ErrNoFilename)

	entries, err := os.ReadDir(o.Dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestHTTPStatus(t *testing.T) {
	server := newTestServer(t)
	o := newTestOrchestrator(t)

	_, err := o.Download(context.Background(), document.New(server.URL+"/missing", document.Attributes{"id": 1}))
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	require.Equal(t, http.StatusNotFound, httpErr.StatusCode)
	require.Equal(t, server.URL+"/missing", httpErr.URL)
}

func TestHTTPRequestHeaders(t *testing.T) {
	server := newTestServer(t)
	o := newTestOrchestrator(t)

	doc := document.New(server.URL+"/headers", document.Attributes{"id": 5})
	doc.RequestHeaders["X-Token"] = "secret"
	path, err := o.Download(context.Background(), doc)
	require.NoError(t, err)

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "authorized", string(contents))
}

func TestHTTPStreamsWholeBody(t *testing.T) {
	server := newTestServer(t)
	o := newTestOrchestrator(t)

	path, err := o.Download(context.Background(), document.New(server.URL+"/large", nil))
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, int64(ChunkSize*3+17), info.Size())
}

func TestUndownloadable(t *testing.T) {
	o := newTestOrchestrator(t)

	path, err := o.Download(context.Background(), document.New("", document.Attributes{"id": 1}))
	require.NoError(t, err)
	require.Equal(t, "", path)

	entries, err := os.ReadDir(o.Dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

// fakeElement simulates a browser download: a partial file first, then a
// rename to the final name.
type fakeElement struct {
	dir      string
	name     string
	scrolled bool
	clicked  bool
	clickErr error
}

func (e *fakeElement) ScrollIntoView(ctx context.Context) error {
	e.scrolled = true
	return nil
}

func (e *fakeElement) Click(ctx context.Context) error {
	e.clicked = true
	if e.clickErr != nil {
		return e.clickErr
	}
	go func() {
		partial := filepath.Join(e.dir, e.name+".crdownload")
		_ = os.WriteFile(partial, []byte("%PDF-1.4 click"), 0644)
		time.Sleep(20 * time.Millisecond)
		_ = os.Rename(partial, filepath.Join(e.dir, e.name))
	}()
	return nil
}

func TestBrowserDownload(t *testing.T) {
	o := newTestOrchestrator(t)
	el := &fakeElement{dir: o.Dir, name: "report.pdf"}
	doc := document.NewClickable(el, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	path, err := o.Download(ctx, doc)
	require.NoError(t, err)
	require.True(t, el.scrolled)
	require.True(t, el.clicked)
	require.Equal(t, filepath.Join(o.Dir, "report.pdf"), path)
	require.Equal(t, "report.pdf", doc.Attributes[document.AttrFilename])
}

func TestBrowserDownloadWinsOverURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request for %s, the element should be clicked", r.URL)
	}))
	t.Cleanup(server.Close)

	o := newTestOrchestrator(t)
	el := &fakeElement{dir: o.Dir, name: "clicked.pdf"}
	doc := document.NewClickable(el, nil)
	doc.URL = server.URL + "/statement.pdf"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	path, err := o.Download(ctx, doc)
	require.NoError(t, err)
	require.True(t, el.clicked)
	require.Equal(t, filepath.Join(o.Dir, "clicked.pdf"), path)
}

func TestBrowserDownloadRenames(t *testing.T) {
	o := newTestOrchestrator(t)
	el := &fakeElement{dir: o.Dir, name: "report.pdf"}
	doc := document.NewClickable(el, document.Attributes{"filename": "statements/2024-03.pdf"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	path, err := o.Download(ctx, doc)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(o.Dir, "statements", "2024-03.pdf"), path)
	require.FileExists(t, path)
	require.NoFileExists(t, filepath.Join(o.Dir, "report.pdf"))
}

func TestBrowserClickFails(t *testing.T) {
	o := newTestOrchestrator(t)
	el := &fakeElement{dir: o.Dir, clickErr: errors.New("detached")}

	_, err := o.Download(context.Background(), document.NewClickable(el, nil))
	require.Error(t, err)
}

func TestBrowserDownloadCancelled(t *testing.T) {
	o := newTestOrchestrator(t)
	// an element that never produces a file
	el := &fakeElement{dir: t.TempDir(), name: "elsewhere.pdf"}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := o.Download(ctx, document.NewClickable(el, nil))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFilenameFromDisposition(t *testing.T) {
	testCases := []struct {
		header   string
		expected string
	}{
		{header: `attachment; filename="x.pdf"`, expected: "x.pdf"},
		{header: `attachment; filename=plain.pdf`, expected: "plain.pdf"},
		{header: `attachment; filename*=UTF-8''Rechnung%20M%C3%A4rz.pdf`, expected: "Rechnung März.pdf"},
		{header: `attachment;filename="broken.pdf`, expected: "broken.pdf"},
		{header: `attachment; filename="../../etc/passwd"`, expected: "passwd"},
		{header: `inline`, expected: ""},
		{header: ``, expected: ""},
	}

	for _, test := range testCases {
		t.Run(test.header, func(t *testing.T) {
			require.Equal(t, test.expected, filenameFromDisposition(test.header))
		})
	}
}
