// Package runner drives a logged in portal: it lists or downloads every
// document that passes the filter.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/heeplr/document-dl/internal/components/assert"
	"github.com/heeplr/document-dl/internal/components/telemetry"
	"github.com/heeplr/document-dl/internal/document"
	"github.com/heeplr/document-dl/internal/portal"
	"github.com/heeplr/document-dl/internal/verify"
)

var tracer = otel.Tracer("document-dl/runner")

const (
	report_runner_filter   = "runner.filter"
	report_runner_download = "runner.download"
	report_runner_verify   = "runner.verify"
	report_runner_count    = "runner.downloaded"
)

type Format string

const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
)

// Summary counts what a download run did.
type Summary struct {
	Seen       int
	Matched    int
	Downloaded int
	Failed     int
}

type Runner struct {
	portal  *portal.Portal
	matcher *document.Matcher
	// Verify checks every downloaded .pdf with pdfcpu.
	Verify bool
	tel    telemetry.API
}

// New creates a runner, a nil matcher lets every document through.
func New(p *portal.Portal, matcher *document.Matcher, tel telemetry.API) *Runner {
	assert.NotNil(p, "portal")
	assert.NotNil(tel, "telemetry")
	return &Runner{
		portal:  p,
		matcher: matcher,
		tel:     telemetry.NewScopedAPI("runner", tel),
	}
}

// matching yields the documents that pass the filter. Enumeration and
// filter errors end the sequence: a filter naming an attribute the scraper
// never sets is a usage error, not a property of one document.
func (r *Runner) matching(ctx context.Context, seen *int) func(yield func(*document.Document) bool) error {
	return func(yield func(*document.Document) bool) error {
		for doc, err := range r.portal.Documents(ctx) {
			if err != nil {
				return err
			}
			*seen++
			if r.matcher != nil {
				ok, err := r.matcher.Match(doc)
				if err != nil {
					r.tel.ReportBroken(report_runner_filter, doc.String(), err)
					return fmt.Errorf("filter %s: %w", doc, err)
				}
				if !ok {
					continue
				}
			}
			if !yield(doc) {
				return nil
			}
		}
		return nil
	}
}

// List writes every matching document to w and returns how many it wrote.
func (r *Runner) List(ctx context.Context, w io.Writer, format Format) (int, error) {
	var seen int
	var docs []*document.Document
	each := r.matching(ctx, &seen)

	switch format {
	case FormatJSON, "":
		var writeErr error
		err := each(func(doc *document.Document) bool {
			line, err := doc.Attributes.MarshalJSON()
			if err != nil {
				r.tel.ReportWarning(report_runner_filter, doc.String(), err)
				return true
			}
			_, writeErr = fmt.Fprintf(w, "%s\n", line)
			if writeErr != nil {
				return false
			}
			docs = append(docs, doc)
			return true
		})
		return len(docs), errors.Join(err, writeErr)
	case FormatTable:
		err := each(func(doc *document.Document) bool {
			docs = append(docs, doc)
			return true
		})
		if err != nil {
			return 0, err
		}
		renderTable(w, docs)
		return len(docs), nil
	default:
		return 0, fmt.Errorf("unknown output format %q", format)
	}
}

// columns returns the union of attribute keys, id and title first.
func columns(docs []*document.Document) []string {
	seen := map[string]bool{}
	var rest []string
	for _, doc := range docs {
		for key := range doc.Attributes {
			if seen[key] {
				continue
			}
			seen[key] = true
			if key != document.AttrID && key != document.AttrTitle {
				rest = append(rest, key)
			}
		}
	}
	sort.Strings(rest)

	var out []string
	for _, key := range []string{document.AttrID, document.AttrTitle} {
		if seen[key] {
			out = append(out, key)
		}
	}
	return append(out, rest...)
}

func renderTable(w io.Writer, docs []*document.Document) {
	cols := columns(docs)

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(w)

	header := table.Row{}
	for _, col := range cols {
		header = append(header, strings.ToUpper(col))
	}
	t.AppendHeader(header)
	for _, doc := range docs {
		row := table.Row{}
		for _, col := range cols {
			row = append(row, document.Stringify(doc.Attributes[col]))
		}
		t.AppendRow(row)
	}
	t.Render()
}

// Download retrieves every matching document and writes one line per saved
// file to w. A failing document is reported and skipped, errors that end the
// session abort the run.
func (r *Runner) Download(ctx context.Context, w io.Writer) (Summary, error) {
	var summary Summary
	each := r.matching(ctx, &summary.Seen)

	var abort error
	err := each(func(doc *document.Document) bool {
		summary.Matched++
		path, err := r.download(ctx, doc)
		if err != nil {
			if fatal(ctx, err) {
				abort = err
				if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
					abort = fmt.Errorf("%w: %w", ctxErr, err)
				}
				return false
			}
			summary.Failed++
			return true
		}
		if path == "" {
			return true
		}
		summary.Downloaded++
		r.tel.ReportCount(report_runner_count, int64(summary.Downloaded))
		_, abort = fmt.Fprintf(w, "downloaded %q\n", path)
		return abort == nil
	})
	return summary, errors.Join(err, abort)
}

func (r *Runner) download(ctx context.Context, doc *document.Document) (string, error) {
	ctx, span := tracer.Start(ctx, "download", trace.WithAttributes(
		attribute.String("url", doc.URL),
	))
	defer span.End()

	path, err := r.portal.Download(ctx, doc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "download failed")
		r.tel.ReportBroken(report_runner_download, doc.String(), err)
		return "", err
	}
	if path == "" {
		r.tel.ReportDebug("nothing to download", "document", doc.String())
		return "", nil
	}
	r.tel.ReportDebug("downloaded", "path", path)

	if !r.Verify || !isPDF(path) {
		return path, nil
	}
	result, err := verify.PDF(path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "verification failed")
		r.tel.ReportBroken(report_runner_verify, path, err)
		return "", err
	}
	span.SetAttributes(attribute.Int("pages", result.Pages))
	return path, nil
}

func isPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

// fatal reports whether err ends the whole run rather than one document.
func fatal(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return slices.ContainsFunc([]error{
		portal.ErrAuthentication,
		portal.ErrNoBrowser,
		context.Canceled,
		context.DeadlineExceeded,
	}, func(target error) bool {
		return errors.Is(err, target)
	})
}
