// Package session tracks which script each actor is working with, so
// command handlers can run or discard "the current script" without the
// actor naming it again.
package session

import (
	"errors"
	"fmt"
	"sync"
)

// ConsoleActor is the actor id of the operator console.
const ConsoleActor = "console"

// ErrSelectorUnsupported is returned for principals with no stable
// identity. Such callers never share a default selection.
var ErrSelectorUnsupported = errors.New("command sender has no selectable identity")

// PrincipalKind distinguishes command senders.
type PrincipalKind int

const (
	// KindOther is a sender with no stable identity (a command block, an
	// anonymous remote caller).
	KindOther PrincipalKind = iota
	// KindUser is a person identified by UserID.
	KindUser
	// KindConsole is the operator console.
	KindConsole
)

// Principal identifies who issued a command.
type Principal struct {
	Kind   PrincipalKind
	UserID string
}

// User returns a user principal.
func User(id string) Principal { return Principal{Kind: KindUser, UserID: id} }

// Console returns the console principal.
func Console() Principal { return Principal{Kind: KindConsole} }

// String renders the principal for logs.
func (p Principal) String() string {
	switch p.Kind {
	case KindUser:
		return "user:" + p.UserID
	case KindConsole:
		return ConsoleActor
	default:
		return "unknown"
	}
}

// ActorID derives the selection key for p.
func ActorID(p Principal) (string, error) {
	switch p.Kind {
	case KindConsole:
		return ConsoleActor, nil
	case KindUser:
		if p.UserID == "" {
			return "", fmt.Errorf("%w: user without id", ErrSelectorUnsupported)
		}
		return "user:" + p.UserID, nil
	default:
		return "", ErrSelectorUnsupported
	}
}

// Liveness reports whether a script id is still live.
type Liveness interface {
	IsLive(scriptID string) bool
}

// LivenessFunc adapts a function to Liveness.
type LivenessFunc func(scriptID string) bool

// IsLive implements Liveness.
func (f LivenessFunc) IsLive(scriptID string) bool { return f(scriptID) }

// Selections maps actor ids to selected script ids.
type Selections struct {
	mu       sync.Mutex
	selected map[string]string
	live     Liveness
}

// NewSelections creates an empty table that checks liveness with live.
func NewSelections(live Liveness) *Selections {
	return &Selections{
		selected: make(map[string]string),
		live:     live,
	}
}

// Select makes scriptID the actor's selection and returns the previous one
// ("" if none).
func (s *Selections) Select(actorID, scriptID string) (previous string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous = s.selected[actorID]
	s.selected[actorID] = scriptID
	return previous
}

// Current returns the actor's selection. A selection whose script has since
// been discarded is cleared and reported as none.
func (s *Selections) Current(actorID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.selected[actorID]
	if !ok {
		return "", false
	}
	if !s.live.IsLive(id) {
		delete(s.selected, actorID)
		return "", false
	}
	return id, true
}

// Clear drops the actor's selection.
func (s *Selections) Clear(actorID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.selected, actorID)
}
