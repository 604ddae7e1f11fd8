package reconcile

import (
	"fmt"

	"github.com/damoang/angple-chat/internal/common"
	"github.com/damoang/angple-chat/internal/domain"
)

// ToggleReaction flips the user's reaction optimistically. The request is
// sent in the background; a failure reverts to the last confirmed state
// and is reported through OnReactionChanged only.
func (e *Engine) ToggleReaction(id, kind string) error {
	if kind == "" {
		return common.Validationf("reaction kind is required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	en := e.lookupLocked(id)
	if en == nil {
		return fmt.Errorf("%w: message %s", common.ErrNotFound, id)
	}
	if !en.confirmed() {
		return common.Validationf("message %s is not sent yet", id)
	}

	r := en.reactionOf(kind)
	r.desired = !r.view().Active
	e.emitReactionLocked(en, kind, nil)

	if !r.inflight {
		r.inflight = true
		go e.sendReaction(en.msg.ID, kind)
	}
	return nil
}

// sendReaction keeps sending until the server agrees with the latest
// desired state. At most one request per (message, kind) is in flight.
func (e *Engine) sendReaction(id, kind string) {
	for {
		e.mu.Lock()
		en := e.byID[id]
		if en == nil {
			e.mu.Unlock()
			return
		}
		r := en.reactionOf(kind)
		want := r.desired
		if want == r.confirmed.Active {
			r.inflight = false
			e.mu.Unlock()
			return
		}
		e.mu.Unlock()

		st, err := e.transport.SetReaction(e.ctx, id, kind, want)

		e.mu.Lock()
		en = e.byID[id]
		if en == nil {
			e.mu.Unlock()
			return
		}
		r = en.reactionOf(kind)
		if err != nil {
			r.inflight = false
			r.desired = r.confirmed.Active
			if e.ctx.Err() == nil {
				e.emitReactionLocked(en, kind, common.FromContext(err))
			}
			e.mu.Unlock()
			return
		}
		r.confirmed.Active = st.Active
		if r.accept(st.Version) {
			r.confirmed.Count = st.Count
			r.confirmed.Version = st.Version
		}
		if r.desired == st.Active {
			r.inflight = false
			e.emitReactionLocked(en, kind, nil)
			e.mu.Unlock()
			return
		}
		e.mu.Unlock()
	}
}

// OnReacted applies a broadcast reaction delta
func (e *Engine) OnReacted(d domain.ReactionDelta) {
	e.mu.Lock()
	defer e.mu.Unlock()

	en := e.byID[d.MessageID]
	if en == nil {
		return
	}
	r := en.reactionOf(d.Kind)
	if !r.accept(d.Version) {
		return
	}
	before := r.view()
	if d.UserID == e.cfg.UserID {
		r.confirmed = domain.ReactionState{Active: d.Active, Count: d.Count, Version: d.Version}
		if !r.inflight {
			r.desired = d.Active
		}
	} else {
		r.confirmed.Count = d.Count
		r.confirmed.Version = d.Version
	}
	if r.view() != before {
		e.emitReactionLocked(en, d.Kind, nil)
	}
}

// applyReactionItemsLocked sets server truth from a fetched page
func (e *Engine) applyReactionItemsLocked(en *entry, items []domain.ReactionItem) bool {
	seen := make(map[string]bool, len(items))
	changed := false
	set := func(kind string, st domain.ReactionState) {
		r := en.reactionOf(kind)
		if !r.accept(st.Version) {
			return
		}
		before := r.view()
		r.confirmed = st
		if !r.inflight {
			r.desired = st.Active
		}
		if r.view() != before {
			changed = true
		}
	}
	for _, it := range items {
		seen[it.Kind] = true
		set(it.Kind, domain.ReactionState{Active: it.Mine, Count: it.Count, Version: it.Version})
	}
	for kind, r := range en.reactions {
		if !seen[kind] && !r.inflight {
			set(kind, domain.ReactionState{Version: r.confirmed.Version})
		}
	}
	return changed
}

func (e *Engine) emitReactionLocked(en *entry, kind string, err error) {
	change := ReactionChange{
		MessageID: en.msg.ID,
		Kind:      kind,
		State:     en.reactionOf(kind).view(),
		Err:       err,
	}
	snap, idx := en.snapshot(), e.indexLocked(en)
	e.notify(func(o Observer) {
		o.OnReactionChanged(change)
		o.OnMessageUpdated(snap, idx)
	})
}
