package reconcile

import (
	"context"

	"github.com/damoang/angple-chat/internal/domain"
)

// PageQuery selects one keyset page; cursors are opaque server tokens
type PageQuery struct {
	Limit  int
	Before string
}

// File is a blob to upload with a submission. Data is kept so a failed
// upload can be retried without asking the user again.
type File struct {
	Filename string
	Data     []byte
	Duration *float64 // seconds, for video
}

// Stream is a live scope subscription. Events is closed when the
// subscription ends; the engine then resubscribes and resyncs.
type Stream interface {
	Events() <-chan *domain.Event
	Close()
}

// Transport is everything the engine needs from the server side
type Transport interface {
	Append(ctx context.Context, req *domain.AppendRequest) (*domain.Message, error)
	Upload(ctx context.Context, file *File) (*domain.Attachment, error)
	FetchRecent(ctx context.Context, scopeID string, q PageQuery) (*domain.MessagePage, error)
	Resolve(ctx context.Context, ids []string) (map[string]*domain.Message, error)
	SetReaction(ctx context.Context, messageID, kind string, active bool) (*domain.ReactionState, error)
	Subscribe(ctx context.Context, scopeID string) (Stream, error)
}

// ProfileLookup resolves author display names for reply previews
type ProfileLookup interface {
	LookupProfiles(ctx context.Context, userIDs []string) (map[string]*domain.Profile, error)
}
