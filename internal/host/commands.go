package host

import (
	"context"
	"fmt"

	"github.com/roach88/scripthost/internal/script"
	"github.com/roach88/scripthost/internal/session"
)

// SelectScript loads name and makes it the actor's selection.
//
// Selecting the file already selected is a no-op. A replaced selection that
// was never run is discarded.
func (h *Host) SelectScript(ctx context.Context, p session.Principal, name string, allowFallback bool) Result {
	h.mu.Lock()
	defer h.mu.Unlock()

	actor, err := session.ActorID(p)
	if err != nil {
		h.logger.Warn("select rejected", "actor", p.String(), "error", err)
		return failure(msgNoIdentity)
	}

	filename := h.resolver.Normalize(name)
	var previous *script.Script
	if id, ok := h.selections.Current(actor); ok {
		previous, _ = h.Script(id)
	}
	if previous != nil && previous.Filename() == filename {
		return empty(msgAlreadySelected)
	}

	s, err := h.Load(ctx, name, allowFallback)
	if err != nil {
		h.logger.Info("select failed", "actor", actor, "file", filename, "error", err)
		if !script.IsSourceUnavailable(err) {
			return failure(msgError, filename, err.Error())
		}
		res := failure(msgNotFound)
		if previous != nil {
			res.Message += "\n" + formatCurrent(previous)
		}
		return res
	}

	h.selections.Select(actor, s.ID())
	if previous != nil && !previous.Running() {
		previous.Discard(ctx)
	}
	return success(msgSelected, s.Filename())
}

// RunSelected runs the actor's selection.
func (h *Host) RunSelected(ctx context.Context, p session.Principal) Result {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, res, ok := h.selected(p)
	if !ok {
		return res
	}
	if err := s.Run(ctx); err != nil {
		h.logger.Info("run failed", "script", s.ID(), "file", s.Filename(), "error", err)
		return errorResult(s, err)
	}
	return success(msgExecuted)
}

// DiscardSelected discards the actor's selection if it has been run.
func (h *Host) DiscardSelected(ctx context.Context, p session.Principal) Result {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, res, ok := h.selected(p)
	if !ok {
		return res
	}
	if !s.Running() {
		return empty(msgNotActive)
	}
	s.Discard(ctx)
	return success(msgDiscarded)
}

// CurrentSelection reports the actor's selection.
func (h *Host) CurrentSelection(p session.Principal) Result {
	s, res, ok := h.selected(p)
	if !ok {
		return res
	}
	return success(formatCurrent(s))
}

func (h *Host) selected(p session.Principal) (*script.Script, Result, bool) {
	actor, err := session.ActorID(p)
	if err != nil {
		return nil, failure(msgNoIdentity), false
	}
	id, ok := h.selections.Current(actor)
	if !ok {
		return nil, empty(msgSelectFirst), false
	}
	s, ok := h.Script(id)
	if !ok {
		return nil, empty(msgSelectFirst), false
	}
	return s, Result{}, true
}

func formatCurrent(s *script.Script) string {
	return fmt.Sprintf(msgCurrentSelection, s.Filename())
}
