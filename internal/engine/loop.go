package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/scripthost/internal/ir"
)

// Handler receives the events drained by a Loop.
type Handler interface {
	// HandleFire fans one host event out to subscribed scripts.
	HandleFire(ctx context.Context, ev ir.Event)
	// HandleTick advances host time by ticks.
	HandleTick(ctx context.Context, ticks int64)
}

// Loop is the single-consumer host event pump.
//
// Host threads call Enqueue from anywhere; Run drains the queue in FIFO
// order on exactly one goroutine. Fire and tick events therefore never
// interleave with each other, while command handlers (select, run, discard)
// still run concurrently on their own goroutines.
//
// Thread-safety model:
//   - Enqueue(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
type Loop struct {
	queue   *eventQueue
	handler Handler
	logger  *slog.Logger
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithLoopLogger sets the loop's logger.
func WithLoopLogger(logger *slog.Logger) LoopOption {
	return func(l *Loop) {
		l.logger = logger
	}
}

// NewLoop creates a Loop delivering to handler.
func NewLoop(handler Handler, opts ...LoopOption) *Loop {
	l := &Loop{
		queue:   newEventQueue(),
		handler: handler,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Enqueue submits an event for processing by Run.
// Returns false if the loop has been stopped.
func (l *Loop) Enqueue(ev Event) bool {
	return l.queue.Enqueue(ev)
}

// Fire enqueues a host event.
func (l *Loop) Fire(ev ir.Event) bool {
	return l.Enqueue(Event{Type: EventTypeFire, Fire: &ev})
}

// Tick enqueues a clock advance.
func (l *Loop) Tick(ticks int64) bool {
	return l.Enqueue(Event{Type: EventTypeTick, Ticks: ticks})
}

// QueueLen returns the number of events waiting.
func (l *Loop) QueueLen() int {
	return l.queue.Len()
}

// Run drains the queue until ctx is cancelled or Stop is called.
//
// ERROR HANDLING: a malformed event is logged and skipped; the loop keeps
// going. Script failures never reach here, the handler isolates them.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("event loop starting")

	for {
		if event, ok := l.queue.TryDequeue(); ok {
			if err := l.process(ctx, event); err != nil {
				l.logger.Error("event processing failed", "type", event.Type.String(), "error", err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			l.logger.Info("event loop stopping: context cancelled")
			l.queue.Close()
			return ctx.Err()

		case <-l.queue.Wait():
			// The signal channel closes when the queue is closed, which makes
			// this case fire immediately.
			if l.queue.closedAndEmpty() {
				l.logger.Info("event loop stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue; Run returns once the remaining events are drained.
func (l *Loop) Stop() {
	l.queue.Close()
}

// RunTicker enqueues one tick per interval until ctx is cancelled or the
// loop stops. Ticks that find the queue busy still queue; a slow handler
// falls behind rather than skipping host time.
func (l *Loop) RunTicker(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !l.Tick(1) {
				return
			}
		}
	}
}

func (l *Loop) process(ctx context.Context, event Event) error {
	switch event.Type {
	case EventTypeFire:
		if event.Fire == nil {
			return fmt.Errorf("fire event missing payload")
		}
		l.handler.HandleFire(ctx, *event.Fire)
		return nil

	case EventTypeTick:
		if event.Ticks < 1 {
			return fmt.Errorf("tick event with non-positive count %d", event.Ticks)
		}
		l.handler.HandleTick(ctx, event.Ticks)
		return nil

	default:
		return fmt.Errorf("unknown event type: %d", event.Type)
	}
}
