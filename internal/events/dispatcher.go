// Package events is an in-process publish/subscribe bus
// Events are queued without limit and handled by one worker in emit order
package events

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/nkiryanov/identity/internal/logger"
)

const (
	defaultRetryAttempts = 3
	defaultRetryDelay    = time.Second
)

type Event struct {
	ID        string // ULID
	Name      string
	Args      []any
	Kwargs    map[string]any
	EmittedAt time.Time
}

type Listener func(ctx context.Context, e Event) error

type ListenerID uint64

type ListenerOption func(*listener)

// Remove listener after the first event it handled
func Once() ListenerOption {
	return func(l *listener) { l.once = true }
}

// Override dispatcher retry defaults, zero values keep defaults
func WithRetry(attempts int, delay time.Duration) ListenerOption {
	return func(l *listener) {
		if attempts > 0 {
			l.attempts = attempts
		}
		if delay > 0 {
			l.delay = delay
		}
	}
}

// Notified about every listener outcome
type Observer interface {
	ListenerDone(event string, attempts int, err error)
}

type noopObserver struct{}

func (noopObserver) ListenerDone(string, int, error) {}

type Config struct {
	// Attempts per listener and fixed delay between them
	// Defaults are 3 attempts with 1 second delay
	RetryAttempts int
	RetryDelay    time.Duration

	Observer Observer
}

type listener struct {
	id       ListenerID
	fn       Listener
	once     bool
	attempts int
	delay    time.Duration
}

type Dispatcher struct {
	mu        sync.Mutex
	listeners map[string][]listener
	lastID    ListenerID

	queueMu sync.Mutex
	queue   []Event
	notify  chan struct{}

	runMu   sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}

	attempts int
	delay    time.Duration
	observer Observer
	logger   logger.Logger
}

func NewDispatcher(cfg Config, l logger.Logger) *Dispatcher {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = defaultRetryAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.Observer == nil {
		cfg.Observer = noopObserver{}
	}

	return &Dispatcher{
		listeners: make(map[string][]listener),
		notify:    make(chan struct{}, 1),
		attempts:  cfg.RetryAttempts,
		delay:     cfg.RetryDelay,
		observer:  cfg.Observer,
		logger:    l.With("component", "events"),
	}
}

// Register listener for event
// The same function may be registered many times, every registration gets its own id
func (d *Dispatcher) On(event string, fn Listener, opts ...ListenerOption) ListenerID {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.lastID++
	l := listener{id: d.lastID, fn: fn, attempts: d.attempts, delay: d.delay}
	for _, opt := range opts {
		opt(&l)
	}

	d.listeners[event] = append(d.listeners[event], l)
	return l.id
}

// Remove listed registrations, or all listeners of the event if none listed
func (d *Dispatcher) Off(event string, ids ...ListenerID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(ids) == 0 {
		delete(d.listeners, event)
		return
	}
	d.remove(event, ids)
}

func (d *Dispatcher) Emit(event string, args ...any) string {
	return d.EmitWith(event, nil, args...)
}

// Queue event and return its id
// Never waits for listeners
func (d *Dispatcher) EmitWith(event string, kwargs map[string]any, args ...any) string {
	e := Event{
		ID:        ulid.Make().String(),
		Name:      event,
		Args:      args,
		Kwargs:    kwargs,
		EmittedAt: time.Now(),
	}

	d.queueMu.Lock()
	d.queue = append(d.queue, e)
	d.queueMu.Unlock()

	select {
	case d.notify <- struct{}{}:
	default:
	}

	d.logger.Debug("event emitted", "event", event, "event_id", e.ID)
	return e.ID
}

// Number of queued events not taken by the worker yet
func (d *Dispatcher) Len() int {
	d.queueMu.Lock()
	defer d.queueMu.Unlock()

	return len(d.queue)
}

// Start worker, calling Start on running dispatcher is noop
// Start during Stop waits until the old worker exits, so one worker runs at a time
// Returned channel closed when worker stops
func (d *Dispatcher) Start(ctx context.Context) <-chan struct{} {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	if d.stopped != nil {
		select {
		case <-d.stopped:
			// Worker exited because its parent context was done
			d.cancel()
		default:
			return d.stopped
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.stopped = make(chan struct{})

	go d.run(ctx, d.stopped)

	return d.stopped
}

// Stop worker and wait until event in flight is handled, retries included
// Events left in queue are handled after the next Start
func (d *Dispatcher) Stop() {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	if d.cancel == nil {
		return
	}

	d.cancel()
	<-d.stopped
	d.cancel, d.stopped = nil, nil
}

func (d *Dispatcher) run(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)
	d.logger.Debug("event worker started")

	for {
		for ctx.Err() == nil {
			e, ok := d.pop()
			if !ok {
				break
			}
			d.dispatch(ctx, e)
		}

		select {
		case <-ctx.Done():
			d.logger.Debug("event worker stopped", "pending", d.Len())
			return
		case <-d.notify:
		}
	}
}

func (d *Dispatcher) pop() (Event, bool) {
	d.queueMu.Lock()
	defer d.queueMu.Unlock()

	if len(d.queue) == 0 {
		return Event{}, false
	}

	e := d.queue[0]
	d.queue[0] = Event{}
	d.queue = d.queue[1:]
	return e, true
}

// Run every listener registered at the moment in its own goroutine and wait for all of them
func (d *Dispatcher) dispatch(ctx context.Context, e Event) {
	d.mu.Lock()
	snapshot := slices.Clone(d.listeners[e.Name])
	d.mu.Unlock()

	if len(snapshot) == 0 {
		d.logger.Debug("no listeners for event", "event", e.Name, "event_id", e.ID)
		return
	}

	// Listener retries must outlive Stop
	ctx = context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for _, l := range snapshot {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.call(ctx, l, e)
		}()
	}
	wg.Wait()

	var once []ListenerID
	for _, l := range snapshot {
		if l.once {
			once = append(once, l.id)
		}
	}
	if len(once) > 0 {
		d.mu.Lock()
		d.remove(e.Name, once)
		d.mu.Unlock()
	}
}

func (d *Dispatcher) call(ctx context.Context, l listener, e Event) {
	log := d.logger.With("event", e.Name, "event_id", e.ID, "listener_id", l.id)

	var err error
	for attempt := 1; attempt <= l.attempts; attempt++ {
		err = safeCall(ctx, l.fn, e)
		if err == nil {
			d.observer.ListenerDone(e.Name, attempt, nil)
			return
		}

		log.Warn("listener failed", "attempt", attempt, "attempts", l.attempts, "error", err)
		if attempt < l.attempts {
			time.Sleep(l.delay)
		}
	}

	log.Error("listener abandoned, retry attempts exhausted", "error", err)
	d.observer.ListenerDone(e.Name, l.attempts, err)
}

func safeCall(ctx context.Context, fn Listener, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return fn(ctx, e)
}

// Must be called with d.mu held
func (d *Dispatcher) remove(event string, ids []ListenerID) {
	kept := slices.DeleteFunc(d.listeners[event], func(l listener) bool {
		return slices.Contains(ids, l.id)
	})
	if len(kept) == 0 {
		delete(d.listeners, event)
		return
	}
	d.listeners[event] = kept
}

// Number of listeners registered for event
func (d *Dispatcher) Listeners(event string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.listeners[event])
}
