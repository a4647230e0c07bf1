package verify

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// onePagePDF builds a minimal single page document with a correct xref table.
func onePagePDF() []byte {
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>",
	}

	var b strings.Builder
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n", len(objects)+1)
	b.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return []byte(b.String())
}

func writeFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func TestPDF(t *testing.T) {
	path := writeFile(t, "statement.pdf", onePagePDF())

	result, err := PDF(path)
	require.NoError(t, err)
	require.Equal(t, 1, result.Pages)
}

func TestNotPDF(t *testing.T) {
	testCases := []struct {
		name    string
		content string
	}{
		{name: "login page", content: "<html><body><form></form></body></html>"},
		{name: "empty", content: ""},
		{name: "short", content: "%PD"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeFile(t, "statement.pdf", []byte(tc.content))
			_, err := PDF(path)
			require.ErrorIs(t, err, ErrNotPDF)
		})
	}
}

func TestBrokenPDF(t *testing.T) {
	path := writeFile(t, "broken.pdf", []byte("%PDF-1.4\nthis is not a pdf body\n"))
	_, err := PDF(path)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNotPDF)
}

func TestMissingFile(t *testing.T) {
	_, err := PDF(filepath.Join(t.TempDir(), "missing.pdf"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
