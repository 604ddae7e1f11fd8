package reconcile

import "github.com/damoang/angple-chat/internal/domain"

// ReactionChange reports a reaction view change. Err is set when an
// optimistic toggle was reverted.
type ReactionChange struct {
	MessageID string
	Kind      string
	State     domain.ReactionState
	Err       error
}

// Observer receives view changes in order on a single goroutine, never
// while the engine holds its lock. Index is the position in Entries().
type Observer interface {
	OnScopeSnapshot(entries []Entry)
	OnMessageInserted(e Entry, index int)
	OnMessageUpdated(e Entry, index int)
	OnMessageDeleted(id string)
	OnReactionChanged(change ReactionChange)
	OnSendFailed(h Handle, reason error)
}

// NopObserver implements Observer with no-ops; embed it to override a subset
type NopObserver struct{}

func (NopObserver) OnScopeSnapshot([]Entry) {}
func (NopObserver) OnMessageInserted(Entry, int) {}
func (NopObserver) OnMessageUpdated(Entry, int) {}
func (NopObserver) OnMessageDeleted(string) {}
func (NopObserver) OnReactionChanged(ReactionChange) {}
func (NopObserver) OnSendFailed(Handle, error) {}
