package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scripthost/internal/ir"
)

type recordingHandler struct {
	mu    sync.Mutex
	calls []string
}

func (h *recordingHandler) HandleFire(_ context.Context, ev ir.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, "fire:"+ev.Category)
}

func (h *recordingHandler) HandleTick(context.Context, int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, "tick")
}

func (h *recordingHandler) snapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func newTestLoop(h Handler) *Loop {
	return NewLoop(h, WithLoopLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func TestLoop_DrainsInOrderThenStops(t *testing.T) {
	h := &recordingHandler{}
	l := newTestLoop(h)

	require.True(t, l.Fire(ir.Event{Category: "a"}))
	require.True(t, l.Tick(3))
	require.True(t, l.Fire(ir.Event{Category: "b"}))
	l.Stop()

	err := l.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"fire:a", "tick", "fire:b"}, h.snapshot())
	assert.False(t, l.Fire(ir.Event{Category: "late"}), "stopped loop rejects events")
}

func TestLoop_SkipsMalformedEvents(t *testing.T) {
	h := &recordingHandler{}
	l := newTestLoop(h)

	l.Enqueue(Event{Type: EventTypeFire})
	l.Enqueue(Event{Type: EventTypeTick, Ticks: 0})
	l.Enqueue(Event{Type: EventType(99)})
	l.Fire(ir.Event{Category: "ok"})
	l.Stop()

	require.NoError(t, l.Run(context.Background()))
	assert.Equal(t, []string{"fire:ok"}, h.snapshot())
}

func TestLoop_ContextCancelStopsRun(t *testing.T) {
	l := newTestLoop(&recordingHandler{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestLoop_ConcurrentProducers(t *testing.T) {
	h := &recordingHandler{}
	l := newTestLoop(h)

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				l.Fire(ir.Event{Category: "x"})
			}
		}()
	}
	wg.Wait()
	l.Stop()

	require.NoError(t, <-done)
	assert.Len(t, h.snapshot(), 200)
}

func TestLoop_RunTickerFeedsTicks(t *testing.T) {
	h := &recordingHandler{}
	l := newTestLoop(h)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	tickerDone := make(chan struct{})
	go func() {
		l.RunTicker(ctx, time.Millisecond)
		close(tickerDone)
	}()

	require.Eventually(t, func() bool { return len(h.snapshot()) >= 3 }, 2*time.Second, time.Millisecond)
	l.Stop()
	require.NoError(t, <-done)

	select {
	case <-tickerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("ticker did not stop with the loop")
	}
	for _, call := range h.snapshot() {
		assert.Equal(t, "tick", call)
	}
}
