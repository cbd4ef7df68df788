package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scripthost/internal/ir"
)

func fireEvent(category string) Event {
	return Event{Type: EventTypeFire, Fire: &ir.Event{Category: category}}
}

func TestEventQueue_EnqueueDequeue(t *testing.T) {
	q := newEventQueue()

	ok := q.Enqueue(fireEvent(ir.CategoryEntityTarget))
	require.True(t, ok, "enqueue should succeed")

	got, ok := q.TryDequeue()
	require.True(t, ok, "dequeue should succeed")
	assert.Equal(t, EventTypeFire, got.Type)
	assert.Equal(t, ir.CategoryEntityTarget, got.Fire.Category)
}

func TestEventQueue_FIFO(t *testing.T) {
	q := newEventQueue()

	q.Enqueue(fireEvent("a"))
	q.Enqueue(Event{Type: EventTypeTick, Ticks: 4})
	q.Enqueue(fireEvent("b"))

	e1, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "a", e1.Fire.Category)

	e2, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, EventTypeTick, e2.Type)
	assert.Equal(t, int64(4), e2.Ticks)

	e3, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "b", e3.Fire.Category)
}

func TestEventQueue_TryDequeue_Empty(t *testing.T) {
	q := newEventQueue()

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue on empty queue should fail")
}

func TestEventQueue_WaitSignalsAfterEnqueue(t *testing.T) {
	q := newEventQueue()
	q.Enqueue(fireEvent("a"))

	select {
	case <-q.Wait():
	default:
		t.Fatal("expected a pending signal")
	}
}

func TestEventQueue_CloseWakesWaiters(t *testing.T) {
	q := newEventQueue()
	q.Close()

	_, open := <-q.Wait()
	assert.False(t, open, "signal channel closes on Close")
	assert.True(t, q.closedAndEmpty())
}

func TestEventQueue_StaleSignalIsNotClosure(t *testing.T) {
	q := newEventQueue()
	q.Enqueue(fireEvent("a"))
	_, ok := q.TryDequeue()
	require.True(t, ok)

	<-q.Wait()
	assert.False(t, q.closedAndEmpty())
}

func TestEventQueue_Enqueue_AfterClose(t *testing.T) {
	q := newEventQueue()
	q.Close()
	q.Close() // idempotent

	assert.False(t, q.Enqueue(fireEvent("a")), "enqueue after close should fail")
}

func TestEventQueue_Len(t *testing.T) {
	q := newEventQueue()
	assert.Equal(t, 0, q.Len())

	q.Enqueue(fireEvent("a"))
	q.Enqueue(fireEvent("b"))
	assert.Equal(t, 2, q.Len())

	q.TryDequeue()
	assert.Equal(t, 1, q.Len())
}

func TestEventQueue_ThreadSafe(t *testing.T) {
	q := newEventQueue()
	const producers, perProducer = 10, 100

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				q.Enqueue(Event{Type: EventTypeTick, Ticks: 1})
			}
		}()
	}
	wg.Wait()

	count := 0
	for {
		if _, ok := q.TryDequeue(); !ok {
			break
		}
		count++
	}
	assert.Equal(t, producers*perProducer, count)
}
