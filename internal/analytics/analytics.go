// Package analytics records anonymous usage events. Events are published on
// an in-process bus and delivered asynchronously to the registered sinks.
package analytics

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	evbus "github.com/asaskevich/EventBus"
	"github.com/bytedance/sonic"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// Event names.
const (
	EventAppOpen      = "app_open"
	EventPhotoTaken   = "photo_taken"
	EventAutoRead     = "set_preference_auto_read"
	EventRetake       = "retake"
	EventTutorialDone = "tutorial_completed"
)

const topic = "analytics:event"

// Event is a single tracked occurrence.
type Event struct {
	Name       string                 `json:"event"`
	DistinctID string                 `json:"distinct_id"`
	Timestamp  time.Time              `json:"timestamp"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// sinkBuffer is how many events a sink may fall behind before new events
// are dropped for it.
const sinkBuffer = 256

// Tracker fans events out to sinks.
type Tracker struct {
	bus        evbus.Bus
	distinctID string
	logger     *log.Logger

	mu      sync.Mutex
	enabled bool
	closed  bool
	closers []func() error
}

// New returns an enabled Tracker with no sinks.
func New(logger *log.Logger) *Tracker {
	if logger == nil {
		logger = log.Default().WithPrefix("analytics")
	}
	return &Tracker{
		bus:        evbus.New(),
		distinctID: uuid.NewString(),
		logger:     logger,
		enabled:    true,
	}
}

// SetEnabled turns tracking on or off.
func (t *Tracker) SetEnabled(on bool) {
	t.mu.Lock()
	t.enabled = on
	t.mu.Unlock()
}

// AddSink registers fn to receive every event, in publication order, on a
// goroutine of its own. A sink that falls more than sinkBuffer events behind
// loses the newest ones; Track never waits for it.
func (t *Tracker) AddSink(fn func(Event)) error {
	queue := make(chan Event, sinkBuffer)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for e := range queue {
			fn(e)
		}
	}()

	enqueue := func(e Event) {
		select {
		case queue <- e:
		default:
			t.logger.Warn("Dropping event, sink is behind", "name", e.Name)
		}
	}
	if err := t.bus.Subscribe(topic, enqueue); err != nil {
		close(queue)
		return fmt.Errorf("unable to add analytics sink: %w", err)
	}

	t.mu.Lock()
	t.closers = append(t.closers, func() error {
		close(queue)
		<-drained
		return nil
	})
	t.mu.Unlock()
	return nil
}

// Track publishes an event without waiting for any sink.
func (t *Tracker) Track(name string, props map[string]interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled || t.closed {
		return
	}
	t.bus.Publish(topic, Event{
		Name:       name,
		DistinctID: t.distinctID,
		Timestamp:  time.Now().UTC(),
		Properties: props,
	})
}

// Close delivers pending events, then closes sinks that hold resources.
func (t *Tracker) Close() error {
	t.mu.Lock()
	t.closed = true
	closers := t.closers
	t.closers = nil
	t.mu.Unlock()

	var firstErr error
	for _, c := range closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// LogSink writes events to the logger at debug level.
func (t *Tracker) LogSink() func(Event) {
	return func(e Event) {
		t.logger.Debug("Event", "name", e.Name, "props", e.Properties)
	}
}

// AddFileSink appends events as JSON lines to path.
func (t *Tracker) AddFileSink(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("unable to create analytics directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("unable to open analytics file: %w", err)
	}

	sink := func(e Event) {
		line, err := sonic.Marshal(e)
		if err != nil {
			t.logger.Warn("Could not encode event", "name", e.Name, "err", err)
			return
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			t.logger.Warn("Could not write event", "name", e.Name, "err", err)
		}
	}
	if err := t.AddSink(sink); err != nil {
		_ = f.Close()
		return err
	}

	t.mu.Lock()
	t.closers = append(t.closers, f.Close)
	t.mu.Unlock()
	return nil
}
