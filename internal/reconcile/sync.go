package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/damoang/angple-chat/internal/common"
	"github.com/damoang/angple-chat/internal/domain"
	"github.com/damoang/angple-chat/internal/ws"
)

const (
	maxResyncPages  = 10
	maxResolveBatch = 200
	minBackoff      = 200 * time.Millisecond
	maxBackoff      = 10 * time.Second
)

// Resync backfills the newest history and merges it idempotently. Pages
// are fetched backwards until they reach a message already in the window;
// when they never do, the old window is replaced. Loaded messages the
// server no longer returns are resolved to detect deletions. Observers
// get one OnScopeSnapshot at the end.
func (e *Engine) Resync(ctx context.Context) error {
	e.mu.Lock()
	known := make(map[string]bool, len(e.byID))
	for id := range e.byID {
		known[id] = true
	}
	e.mu.Unlock()

	var pages []*domain.MessagePage
	overlap := false
	q := PageQuery{Limit: e.cfg.PageSize}
	for i := 0; i < maxResyncPages; i++ {
		page, err := e.transport.FetchRecent(ctx, e.cfg.ScopeID, q)
		if err != nil {
			return err
		}
		pages = append(pages, page)
		for _, m := range page.Messages {
			if known[m.ID] {
				overlap = true
			}
		}
		if overlap || len(known) == 0 || !page.HasMore || page.NextCursor == "" {
			break
		}
		q.Before = page.NextCursor
	}
	last := pages[len(pages)-1]

	e.mu.Lock()
	if len(known) > 0 && !overlap && last.HasMore {
		// 공백 구간은 이어 붙일 수 없다
		e.dropConfirmedLocked()
		known = map[string]bool{}
	}
	if len(known) == 0 {
		e.olderCursor = last.NextCursor
		e.hasOlder = last.HasMore
	}

	seen := make(map[string]bool)
	for i := len(pages) - 1; i >= 0; i-- {
		e.mergePageLocked(pages[i], seen)
	}

	var unseen []string
	for _, en := range e.confirmed {
		if !seen[en.msg.ID] && len(unseen) < maxResolveBatch {
			unseen = append(unseen, en.msg.ID)
		}
	}
	e.mu.Unlock()

	if len(unseen) > 0 {
		found, err := e.transport.Resolve(ctx, unseen)
		if err != nil {
			return err
		}
		e.mu.Lock()
		for _, id := range unseen {
			if m := found[id]; m == nil || m.IsDeleted() {
				e.deleteLocked(id, false)
			}
		}
		e.mu.Unlock()
	}

	e.mu.Lock()
	snapshot := e.snapshotLocked()
	e.notify(func(o Observer) { o.OnScopeSnapshot(snapshot) })
	e.mu.Unlock()
	return nil
}

// LoadOlder fetches the page before the oldest loaded message and emits a
// snapshot when it added anything. Zero with a nil error means the start
// of the scope has been reached.
func (e *Engine) LoadOlder(ctx context.Context) (int, error) {
	e.mu.Lock()
	if !e.hasOlder {
		e.mu.Unlock()
		return 0, nil
	}
	cursor := e.olderCursor
	e.mu.Unlock()

	page, err := e.transport.FetchRecent(ctx, e.cfg.ScopeID, PageQuery{Limit: e.cfg.PageSize, Before: cursor})
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.olderCursor == cursor {
		e.olderCursor = page.NextCursor
		e.hasOlder = page.HasMore && page.NextCursor != ""
	}
	before := len(e.confirmed)
	e.mergePageLocked(page, make(map[string]bool))
	added := len(e.confirmed) - before
	if added > 0 {
		snapshot := e.snapshotLocked()
		e.notify(func(o Observer) { o.OnScopeSnapshot(snapshot) })
	}
	return added, nil
}

// HasOlder reports whether LoadOlder can fetch more
func (e *Engine) HasOlder() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasOlder
}

// closeCoder is implemented by streams that know the server's close code
type closeCoder interface {
	CloseCode() int
}

// Run keeps the engine subscribed: subscribe, resync, apply events, and on
// disconnect do it again with backoff. A stream the server closed with
// ws.CloseResync is resubscribed right away. It returns when ctx is done, the
// engine is closed, or the server refuses the subscription.
func (e *Engine) Run(ctx context.Context) error {
	backoff := minBackoff
	for {
		healthy, resync, err := e.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if e.ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, common.ErrAuthorization) || errors.Is(err, common.ErrValidation) || errors.Is(err, common.ErrNotFound) {
			return err
		}
		if healthy {
			backoff = minBackoff
		}
		if resync {
			continue
		}

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-e.ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		if backoff *= 2; backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// runOnce subscribes before resyncing so nothing committed in between is
// missed; healthy reports whether the resync succeeded, resync whether the
// server asked for one when it ended the stream
func (e *Engine) runOnce(ctx context.Context) (healthy, resync bool, err error) {
	stream, err := e.transport.Subscribe(ctx, e.cfg.ScopeID)
	if err != nil {
		return false, false, err
	}
	defer stream.Close()

	if err := e.Resync(ctx); err != nil {
		return false, false, err
	}
	for {
		select {
		case ev, ok := <-stream.Events():
			if !ok {
				cc, known := stream.(closeCoder)
				return true, known && cc.CloseCode() == ws.CloseResync, nil
			}
			e.Apply(ev)
		case <-ctx.Done():
			return true, false, ctx.Err()
		case <-e.ctx.Done():
			return true, false, nil
		}
	}
}

func (e *Engine) mergePageLocked(page *domain.MessagePage, seen map[string]bool) {
	for _, m := range page.Messages {
		seen[m.ID] = true
		e.mergeLocked(m, page.Previews[m.ID], false)
		en := e.byID[m.ID]
		if en == nil {
			continue
		}
		e.rememberPreviewLocked(en, page.Previews[m.ID])
		e.refreshReplyLocked(en)
		e.applyReactionItemsLocked(en, page.Reactions[m.ID])
	}
}

// dropConfirmedLocked forgets the loaded window; unconfirmed local
// submissions stay
func (e *Engine) dropConfirmedLocked() {
	for _, en := range e.confirmed {
		delete(e.byID, en.msg.ID)
		if en.local() {
			delete(e.byHandle, en.handle)
		}
	}
	e.confirmed = nil
}
