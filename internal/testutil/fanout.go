package testutil

import (
	"fmt"
	"sync/atomic"
)

// CountingFanoutIDs issues fan-out ids "fanout-1", "fanout-2", ...
//
// Unlike engine.SequenceGenerator it never runs out, which suits scenarios
// where the number of fired events is not known up front.
//
// Implements engine.FanoutIDGenerator.
type CountingFanoutIDs struct {
	n atomic.Int64
}

// Generate returns the next id.
func (c *CountingFanoutIDs) Generate() string {
	return fmt.Sprintf("fanout-%d", c.n.Add(1))
}
