package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTickClock_StartsAtZero(t *testing.T) {
	c := NewTickClock()
	assert.Equal(t, int64(0), c.Current(), "new clock should start at 0")
}

func TestTickClock_NewTickClockAt(t *testing.T) {
	c := NewTickClockAt(100)
	assert.Equal(t, int64(100), c.Current())
	assert.Equal(t, int64(101), c.Next())
}

func TestTickClock_Next_Incrementing(t *testing.T) {
	c := NewTickClock()

	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())
	assert.Equal(t, int64(3), c.Next())
	assert.Equal(t, int64(3), c.Current())
}

func TestTickClock_ThreadSafe(t *testing.T) {
	c := NewTickClock()
	const goroutines = 50
	const callsPerGoroutine = 100

	var wg sync.WaitGroup
	seen := make(chan int64, goroutines*callsPerGoroutine)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				seen <- c.Next()
			}
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[int64]bool)
	for tick := range seen {
		assert.False(t, unique[tick], "tick %d returned twice", tick)
		unique[tick] = true
	}
	assert.Equal(t, int64(goroutines*callsPerGoroutine), c.Current())
}
