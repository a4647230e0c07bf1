package fswatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaitSkipsInProgressFiles(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, Options{})
	require.NoError(t, err)
	defer w.Close()

	go func() {
		partial := filepath.Join(dir, "report.pdf.crdownload")
		_ = os.WriteFile(partial, []byte("%PDF-1.4"), 0644)
		time.Sleep(50 * time.Millisecond)
		_ = os.Rename(partial, filepath.Join(dir, "report.pdf"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	name, err := w.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, "report.pdf", name)
}

func TestWaitIgnorePatterns(t *testing.T) {
	testCases := []struct {
		name    string
		ignored bool
	}{
		{name: "a.crdownload", ignored: true},
		{name: "a.pdf.part", ignored: true},
		{name: "x.tmp", ignored: true},
		{name: "a.download", ignored: true},
		{name: ".com.google.Chrome.abc123", ignored: true},
		{name: "Unconfirmed 12345.crdownload", ignored: true},
		{name: "Unconfirmed 12345", ignored: true},
		{name: "statement.pdf", ignored: false},
		{name: "part.pdf", ignored: false},
	}

	w := &Watcher{ignore: InProgressPatterns}
	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.ignored, w.ignored(test.name))
		})
	}
}

func TestWaitCancelled(t *testing.T) {
	w, err := New(t.TempDir(), Options{})
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = w.Wait(ctx)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestCloseTwice(t *testing.T) {
	w, err := New(t.TempDir(), Options{})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, err = w.Wait(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}

func TestBadPattern(t *testing.T) {
	_, err := New(t.TempDir(), Options{Ignore: []string{"["}})
	require.Error(t, err)
}
