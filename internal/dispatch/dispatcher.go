// Package dispatch runs inbound messages on a bounded worker pool so webhook
// requests return before relay work finishes.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/hsitotv/relaybot/internal/channel"
	"github.com/hsitotv/relaybot/internal/healthcheck"
)

var (
	// ErrQueueFull is returned by Submit when every queue slot is taken.
	ErrQueueFull = errors.New("dispatch queue is full")
	// ErrNotRunning is returned by Submit before Start or after Stop.
	ErrNotRunning = errors.New("dispatcher is not running")
)

// Handler processes one inbound message. A returned error is logged by the
// worker; the message is not retried.
type Handler interface {
	HandleInbound(ctx context.Context, msg channel.InboundMessage) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg channel.InboundMessage) error

// HandleInbound calls f.
func (f HandlerFunc) HandleInbound(ctx context.Context, msg channel.InboundMessage) error {
	return f(ctx, msg)
}

// Observer receives queue depth changes.
type Observer interface {
	ObserveQueueDepth(depth int)
}

// Dispatcher owns the queue and its workers.
type Dispatcher struct {
	logger   *slog.Logger
	handler  Handler
	workers  int
	size     int
	observer Observer

	mu      sync.RWMutex
	queue   chan channel.InboundMessage
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a dispatcher. Non-positive workers or queueSize fall back to 1.
func New(log *slog.Logger, handler Handler, workers, queueSize int, observer Observer) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Dispatcher{
		logger:   log.With(slog.String("component", "dispatch")),
		handler:  handler,
		workers:  workers,
		size:     queueSize,
		observer: observer,
	}
}

// Start launches the workers. Calling Start on a running dispatcher is a no-op.
func (d *Dispatcher) Start(ctx context.Context) error {
	if d.handler == nil {
		return errors.New("dispatch handler is required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil
	}
	// Workers outlive the start hook's context; Stop decides when they end.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.queue = make(chan channel.InboundMessage, d.size)
	d.cancel = cancel
	d.running = true
	for i := range d.workers {
		d.wg.Add(1)
		go d.work(runCtx, i, d.queue)
	}
	d.logger.Info("dispatcher started", slog.Int("workers", d.workers), slog.Int("queue_size", d.size))
	return nil
}

// Submit enqueues msg without blocking.
func (d *Dispatcher) Submit(msg channel.InboundMessage) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.running {
		return ErrNotRunning
	}
	select {
	case d.queue <- msg:
		d.observeDepth(len(d.queue))
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop refuses new messages and waits for queued ones to finish. When ctx
// ends first the workers' context is cancelled and ctx's error returned.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	close(d.queue)
	cancel := d.cancel
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		cancel()
		d.logger.Info("dispatcher stopped")
		return nil
	case <-ctx.Done():
		cancel()
		d.logger.Warn("dispatcher stop timed out", slog.Any("error", ctx.Err()))
		return ctx.Err()
	}
}

// Depth returns the number of queued messages.
func (d *Dispatcher) Depth() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.queue == nil {
		return 0
	}
	return len(d.queue)
}

// Capacity returns the queue size.
func (d *Dispatcher) Capacity() int {
	return d.size
}

func (d *Dispatcher) work(ctx context.Context, id int, queue <-chan channel.InboundMessage) {
	defer d.wg.Done()
	for msg := range queue {
		d.observeDepth(len(queue))
		d.handle(ctx, id, msg)
	}
}

func (d *Dispatcher) handle(ctx context.Context, worker int, msg channel.InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("inbound handler panicked",
				slog.Int("worker", worker),
				slog.Int("update_id", msg.UpdateID),
				slog.String("route", msg.RoutingKey()),
				slog.String("panic", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	if err := d.handler.HandleInbound(ctx, msg); err != nil {
		d.logger.Error("inbound handler failed",
			slog.Int("worker", worker),
			slog.Int("update_id", msg.UpdateID),
			slog.String("route", msg.RoutingKey()),
			slog.Any("error", err),
		)
	}
}

func (d *Dispatcher) observeDepth(depth int) {
	if d.observer != nil {
		d.observer.ObserveQueueDepth(depth)
	}
}

// ListChecks reports queue saturation. A queue more than three quarters full
// is a warning.
func (d *Dispatcher) ListChecks(ctx context.Context) []healthcheck.CheckResult {
	d.mu.RLock()
	running := d.running
	d.mu.RUnlock()
	depth := d.Depth()
	item := healthcheck.CheckResult{
		ID:       "dispatch.queue",
		Type:     "dispatch.queue",
		Status:   healthcheck.StatusOK,
		Summary:  "Dispatch queue has room.",
		Metadata: map[string]any{"depth": depth, "capacity": d.size, "workers": d.workers},
	}
	switch {
	case !running:
		item.Status = healthcheck.StatusError
		item.Summary = "Dispatcher is not running."
	case depth*4 > d.size*3:
		item.Status = healthcheck.StatusWarn
		item.Summary = "Dispatch queue is nearly full."
	}
	return []healthcheck.CheckResult{item}
}
