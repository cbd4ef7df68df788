package dispatch

import (
	"slices"

	"github.com/roach88/scripthost/internal/ir"
)

// LocationPolicy decides whether an event is delivered to a listener.
//
// Events without a location are passed to the policy too; the policies in
// this package deliver them.
type LocationPolicy interface {
	Allow(l Listener, ev ir.Event) bool
}

// LocationPolicyFunc adapts a function to LocationPolicy.
type LocationPolicyFunc func(l Listener, ev ir.Event) bool

// Allow implements LocationPolicy.
func (f LocationPolicyFunc) Allow(l Listener, ev ir.Event) bool {
	return f(l, ev)
}

// DeliverAll delivers every event. It is the default policy.
type DeliverAll struct{}

// Allow implements LocationPolicy.
func (DeliverAll) Allow(Listener, ir.Event) bool { return true }

// WorldPolicy delivers events located in one of Worlds, and events with no
// location at all. An empty Worlds list delivers everything.
type WorldPolicy struct {
	Worlds []string
}

// Allow implements LocationPolicy.
func (p WorldPolicy) Allow(_ Listener, ev ir.Event) bool {
	if ev.Location == nil || len(p.Worlds) == 0 {
		return true
	}
	return slices.Contains(p.Worlds, ev.Location.World)
}
