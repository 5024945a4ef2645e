package audit

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull makes Emit non-blocking. Events that do not fit the buffer
	// are counted by Dropped.
	DropIfFull bool
	// Now stamps events emitted without a timestamp. Defaults to time.Now.
	Now func() time.Time
}

// redactedKeys never leave the process, whatever a producer put in Metadata.
var redactedKeys = map[string]struct{}{
	"code":          {},
	"otp":           {},
	"assertion":     {},
	"signature":     {},
	"token":         {},
	"authorization": {},
	"signing_key":   {},
}

// Dispatcher forwards audit events to a sink on a single worker goroutine,
// in emission order. A nil *Dispatcher is valid and discards everything.
type Dispatcher struct {
	sink       Sink
	queue      chan Event
	stop       chan struct{}
	finished   chan struct{}
	dropIfFull bool
	now        func() time.Time

	dropped   atomic.Uint64
	delivered atomic.Uint64
	stopping  atomic.Bool
	stopOnce  sync.Once
}

// NewDispatcher starts the worker. It returns nil when cfg.Enabled is false.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	d := &Dispatcher{
		sink:       sink,
		queue:      make(chan Event, max(cfg.BufferSize, 1)),
		stop:       make(chan struct{}),
		finished:   make(chan struct{}),
		dropIfFull: cfg.DropIfFull,
		now:        now,
	}
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer close(d.finished)
	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		case <-d.stop:
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(event Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("sca: audit sink panicked on %s: %v", event.EventType, r)
		}
	}()
	d.sink.Emit(context.Background(), event)
	d.delivered.Add(1)
}

// Emit queues event. In blocking mode it waits for buffer space until ctx is
// done or the dispatcher closes.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.stopping.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	event = d.prepare(event)

	if d.dropIfFull {
		select {
		case d.queue <- event:
		case <-d.stop:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.queue <- event:
	case <-ctx.Done():
	case <-d.stop:
	}
}

// prepare stamps the event and copies Metadata without redacted keys, so a
// producer mutating its map afterwards cannot race the worker.
func (d *Dispatcher) prepare(event Event) Event {
	if event.Timestamp.IsZero() {
		event.Timestamp = d.now().UTC()
	}
	if len(event.Metadata) == 0 {
		event.Metadata = nil
		return event
	}
	clean := make(map[string]string, len(event.Metadata))
	for k, v := range event.Metadata {
		if _, secret := redactedKeys[k]; secret {
			continue
		}
		clean[k] = v
	}
	event.Metadata = clean
	return event
}

// Close stops accepting events, delivers what is buffered and waits for the
// worker to exit. It is safe to call more than once.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.stopOnce.Do(func() {
		d.stopping.Store(true)
		close(d.stop)
		<-d.finished
	})
}

func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Delivered reports how many events reached the sink without panicking.
func (d *Dispatcher) Delivered() uint64 {
	if d == nil {
		return 0
	}
	return d.delivered.Load()
}
