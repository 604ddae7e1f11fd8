package reconcile

import (
	"github.com/damoang/angple-chat/internal/domain"
)

// JumpResult locates a message in the loaded window
type JumpResult struct {
	Found bool
	Index int // position in Entries(), valid when Found
}

// JumpTo finds id (durable or temp) in the loaded window. A miss means
// NotLoaded: the caller may page older history and retry.
func (e *Engine) JumpTo(id string) JumpResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	en := e.lookupLocked(id)
	if en == nil {
		return JumpResult{}
	}
	return JumpResult{Found: true, Index: e.indexLocked(en)}
}

// targetLocked returns the loaded or separately resolved reply target
func (e *Engine) targetLocked(id string) *domain.Message {
	if en := e.byID[id]; en != nil {
		return &en.msg
	}
	return e.external[id]
}

// refreshReplyLocked recomputes en's preview from what the engine knows.
// An existing preview is kept until something better is known, so a
// reply never flickers between states.
func (e *Engine) refreshReplyLocked(en *entry) bool {
	if en.msg.ReplyToID == nil {
		changed := en.reply != nil
		en.reply = nil
		return changed
	}
	targetID := *en.msg.ReplyToID

	var p *domain.Preview
	if e.tombstones[targetID] {
		p = domain.UnavailablePreview(targetID)
	} else {
		target := e.targetLocked(targetID)
		if target == nil {
			if en.reply == nil {
				e.resolveLocked(targetID)
			}
			return false
		}
		name := e.names[target.AuthorID]
		if name == "" && en.reply != nil && en.reply.AuthorID == target.AuthorID {
			name = en.reply.AuthorName
		}
		if name == "" {
			e.lookupNameLocked(target.AuthorID)
		}
		p = domain.BuildPreview(targetID, target, name, e.cfg.SnippetRunes)
	}

	if en.reply != nil && *en.reply == *p {
		return false
	}
	en.reply = p
	return true
}

// refreshDependentsLocked updates every entry replying to targetID
func (e *Engine) refreshDependentsLocked(targetID string, emit bool) bool {
	changed := false
	visit := func(en *entry) {
		if en.msg.ReplyToID == nil || *en.msg.ReplyToID != targetID {
			return
		}
		if !e.refreshReplyLocked(en) {
			return
		}
		changed = true
		if emit {
			snap, idx := en.snapshot(), e.indexLocked(en)
			e.notify(func(o Observer) { o.OnMessageUpdated(snap, idx) })
		}
	}
	for _, en := range e.confirmed {
		visit(en)
	}
	for _, en := range e.unconfirmed {
		visit(en)
	}
	return changed
}

// rememberPreviewLocked records what a server-built preview tells us
func (e *Engine) rememberPreviewLocked(en *entry, p *domain.Preview) {
	if p == nil {
		return
	}
	if p.Available && p.AuthorID != "" && p.AuthorName != "" && p.AuthorName != domain.UnknownAuthor {
		if _, ok := e.names[p.AuthorID]; !ok {
			e.names[p.AuthorID] = p.AuthorName
		}
	}
	if !p.Available && p.MessageID != "" && e.targetLocked(p.MessageID) == nil {
		e.tombstones[p.MessageID] = true
	}
	if en.reply == nil {
		cp := *p
		en.reply = &cp
	}
}

// resolveLocked fetches a reply target that is outside the window
func (e *Engine) resolveLocked(id string) {
	if e.resolving[id] || e.ctx.Err() != nil {
		return
	}
	e.resolving[id] = true
	go func() {
		found, err := e.transport.Resolve(e.ctx, []string{id})

		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.resolving, id)
		if err != nil || e.ctx.Err() != nil {
			return
		}
		m := found[id]
		if m == nil || m.IsDeleted() {
			e.tombstones[id] = true
		} else if e.byID[id] == nil {
			e.external[id] = m
		}
		e.refreshDependentsLocked(id, true)
	}()
}

// lookupNameLocked resolves a display name through the optional profile
// lookup; without one, names come from server-built previews only
func (e *Engine) lookupNameLocked(userID string) {
	if e.cfg.Profiles == nil || userID == "" || e.lookingUp[userID] || e.ctx.Err() != nil {
		return
	}
	e.lookingUp[userID] = true
	go func() {
		profiles, err := e.cfg.Profiles.LookupProfiles(e.ctx, []string{userID})

		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.lookingUp, userID)
		if err != nil || e.ctx.Err() != nil {
			return
		}
		name := domain.UnknownAuthor
		if p := profiles[userID]; p != nil && p.DisplayName != "" {
			name = p.DisplayName
		}
		e.names[userID] = name

		for _, list := range [][]*entry{e.confirmed, e.unconfirmed} {
			for _, en := range list {
				if en.msg.ReplyToID == nil {
					continue
				}
				target := e.targetLocked(*en.msg.ReplyToID)
				if target == nil || target.AuthorID != userID {
					continue
				}
				if e.refreshReplyLocked(en) {
					snap, idx := en.snapshot(), e.indexLocked(en)
					e.notify(func(o Observer) { o.OnMessageUpdated(snap, idx) })
				}
			}
		}
	}()
}
