// Package fswatch blocks until a file shows up in a directory.
package fswatch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// InProgressPatterns match the temporary files browsers write while a
// download is still running.
var InProgressPatterns = []string{
	"*.crdownload",
	"*.part",
	"*.tmp",
	"*.download",
	".com.google.Chrome.*",
	"Unconfirmed *",
}

// ErrClosed is returned by Wait after Close.
var ErrClosed = errors.New("watcher closed")

type Options struct {
	// Ignore holds filepath.Match patterns applied to base names. Nil means
	// InProgressPatterns.
	Ignore []string
}

// Watcher reports the first file created in a directory that does not
// match an ignore pattern. Renames into the directory count as creation.
type Watcher struct {
	dir    string
	ignore []string
	inner  *fsnotify.Watcher

	found chan string
	fail  chan error
	done  chan struct{}

	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

// New starts watching dir. The watch is armed when New returns so a click
// issued afterwards cannot be missed.
func New(dir string, opts Options) (*Watcher, error) {
	ignore := opts.Ignore
	if ignore == nil {
		ignore = InProgressPatterns
	}
	for _, pattern := range ignore {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("ignore pattern %q: %w", pattern, err)
		}
	}

	inner, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	err = inner.Add(dir)
	if err != nil {
		inner.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	w := &Watcher{
		dir:    dir,
		ignore: ignore,
		inner:  inner,
		found:  make(chan string, 1),
		fail:   make(chan error, 1),
		done:   make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.inner.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) {
				continue
			}
			name := filepath.Base(event.Name)
			if w.ignored(name) {
				continue
			}
			select {
			case w.found <- name:
			default:
			}
		case err, ok := <-w.inner.Errors:
			if !ok {
				return
			}
			select {
			case w.fail <- err:
			default:
			}
		}
	}
}

func (w *Watcher) ignored(name string) bool {
	for _, pattern := range w.ignore {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// Dir is the watched directory.
func (w *Watcher) Dir() string {
	return w.dir
}

// Wait blocks until a qualifying file appears and returns its base name.
func (w *Watcher) Wait(ctx context.Context) (string, error) {
	select {
	case name := <-w.found:
		return name, nil
	case err := <-w.fail:
		return "", fmt.Errorf("watch %s: %w", w.dir, err)
	case <-w.done:
		return "", ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close releases the OS watch. It is safe to call more than once.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)
		w.closeErr = w.inner.Close()
		w.wg.Wait()
	})
	return w.closeErr
}
