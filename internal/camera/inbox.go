// Package camera feeds captured photos into the app. On a desktop the
// "camera" is a directory that a phone sync tool, a screenshot utility or
// a webcam script writes images into.
package camera

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// DefaultSettle is how long a file must stay unchanged before it counts as
// a finished photo.
const DefaultSettle = 250 * time.Millisecond

// ErrClosed is returned by Run after Close.
var ErrClosed = errors.New("inbox closed")

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".gif": true,
}

// IsPhoto reports whether path looks like a finished image file.
func IsPhoto(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return false
	}
	return imageExts[strings.ToLower(filepath.Ext(base))]
}

// Inbox watches a directory and reports each new photo once it has been
// fully written. Only the newest unread photo is kept.
type Inbox struct {
	dir     string
	settle  time.Duration
	watcher *fsnotify.Watcher
	logger  *log.Logger
	photos  chan string
	ready   chan string

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// Option configures an Inbox.
type Option func(*Inbox)

// WithSettle overrides DefaultSettle.
func WithSettle(d time.Duration) Option {
	return func(i *Inbox) { i.settle = d }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(i *Inbox) { i.logger = l }
}

// NewInbox starts watching dir.
func NewInbox(dir string, opts ...Option) (*Inbox, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("unable to get absolute path: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("unable to create watcher: %w", err)
	}
	if err := w.Add(abs); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("unable to watch %s: %w", abs, err)
	}

	i := &Inbox{
		dir:     abs,
		settle:  DefaultSettle,
		watcher: w,
		logger:  log.Default().WithPrefix("camera"),
		photos:  make(chan string, 1),
		ready:   make(chan string, 16),
		timers:  make(map[string]*time.Timer),
	}
	for _, o := range opts {
		o(i)
	}
	i.logger.Info("Watching for photos", "dir", abs)
	return i, nil
}

// Dir returns the watched directory.
func (i *Inbox) Dir() string { return i.dir }

// Photos delivers paths of new photos.
func (i *Inbox) Photos() <-chan string { return i.photos }

// Run forwards settled photos until ctx is done or the inbox is closed.
func (i *Inbox) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-i.watcher.Events:
			if !ok {
				return ErrClosed
			}
			// Rename carries the old name; the new one arrives as Create.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !IsPhoto(event.Name) {
				continue
			}
			i.logger.Debug("fsnotify event", "file", event.Name, "event", event.Op)
			i.arm(event.Name)
		case err, ok := <-i.watcher.Errors:
			if !ok {
				return ErrClosed
			}
			i.logger.Debug("fsnotify error", "dir", i.dir, "error", err)
		case path := <-i.ready:
			i.logger.Info("New photo", "file", path)
			offerLatest(i.photos, path)
		}
	}
}

// arm restarts the settle timer for path.
func (i *Inbox) arm(path string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return
	}
	if t, ok := i.timers[path]; ok {
		t.Stop()
	}
	i.timers[path] = time.AfterFunc(i.settle, func() {
		i.mu.Lock()
		delete(i.timers, path)
		closed := i.closed
		i.mu.Unlock()
		if closed {
			return
		}
		if _, err := os.Stat(path); err != nil {
			i.logger.Debug("Photo vanished before it settled", "file", path)
			return
		}
		select {
		case i.ready <- path:
		default:
			i.logger.Warn("Dropping photo, too many pending", "file", path)
		}
	})
}

// Close stops watching.
func (i *Inbox) Close() error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return nil
	}
	i.closed = true
	for _, t := range i.timers {
		t.Stop()
	}
	i.timers = nil
	i.mu.Unlock()
	return i.watcher.Close()
}

func offerLatest(ch chan string, v string) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}
