package testutil

import "sync"

// SequentialInstances hands out script instance numbers 1, 2, 3, ...
//
// Loaded scripts get ids like "greeter.js#1" instead of a random suffix, so
// scenario traces are byte-identical across runs.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type SequentialInstances struct {
	mu   sync.Mutex
	next int
}

// NewSequentialInstances creates a source whose first number is 1.
func NewSequentialInstances() *SequentialInstances {
	return &SequentialInstances{}
}

// Next returns the next instance number.
func (s *SequentialInstances) Next() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return s.next
}

// Reset restarts the sequence. After Reset, Next returns 1.
func (s *SequentialInstances) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = 0
}

// RepeatingInstances replays a fixed list of instance numbers, then keeps
// returning the last one. Used to force id collisions in tests.
type RepeatingInstances struct {
	mu   sync.Mutex
	nums []int
	idx  int
}

// NewRepeatingInstances creates a source over nums. nums must not be empty.
func NewRepeatingInstances(nums ...int) *RepeatingInstances {
	return &RepeatingInstances{nums: nums}
}

// Next returns the next number in the list.
func (r *RepeatingInstances) Next() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.nums[r.idx]
	if r.idx < len(r.nums)-1 {
		r.idx++
	}
	return n
}
