package reconcile

import (
	"context"
	"time"

	"github.com/damoang/angple-chat/internal/domain"
)

// DeliveryState is client-local: pending -> sent | failed
type DeliveryState string

const (
	StatePending DeliveryState = "pending"
	StateSent    DeliveryState = "sent"
	StateFailed  DeliveryState = "failed"
)

// Handle identifies a local submission for its whole life. It equals the
// entry's temp id.
type Handle string

// UploadStatus is the progress of one attachment of a local submission
type UploadStatus struct {
	Filename string
	Done     bool
	Err      error
}

// Entry is an immutable snapshot of one row of the working list
type Entry struct {
	Handle    Handle // empty for messages from other sessions
	ID        string // durable id once sent, temp id before
	Message   domain.Message
	State     DeliveryState
	Err       error
	Reactions map[string]domain.ReactionState
	Reply     *domain.Preview
	Uploads   []UploadStatus
}

// Draft is what a user composes
type Draft struct {
	Body      string
	Files     []File
	ReplyToID *string
}

// reaction is one kind on one message. confirmed is the newest server
// truth by version; desired differs from confirmed.Active while a local
// toggle is unacknowledged.
type reaction struct {
	confirmed domain.ReactionState
	desired   bool
	inflight  bool
}

// view is what the user sees
func (r *reaction) view() domain.ReactionState {
	v := r.confirmed
	v.Version = 0
	if r.desired != v.Active {
		v.Active = r.desired
		if r.desired {
			v.Count++
		} else if v.Count > 0 {
			v.Count--
		}
	}
	return v
}

// accept reports whether a server state at version v is not older than
// what is already known. Unversioned states are always accepted.
func (r *reaction) accept(v int64) bool {
	return v == 0 || v >= r.confirmed.Version
}

type entry struct {
	handle Handle
	msg    domain.Message
	state  DeliveryState
	err    error
	reply  *domain.Preview

	reactions map[string]*reaction

	// local submissions only
	key         string
	files       []File
	uploaded    []*domain.Attachment
	uploadErr   []error
	fingerprint string
	submittedAt time.Time
	attempt     int
	uploadsDone chan struct{}
	timer       *time.Timer
	cancel      context.CancelFunc
}

func (en *entry) local() bool {
	return en.handle != ""
}

func (en *entry) confirmed() bool {
	return en.state == StateSent
}

// before orders confirmed entries by (created_at, id)
func (en *entry) before(o *entry) bool {
	return en.msg.Before(&o.msg)
}

func (en *entry) stopTimers() {
	if en.timer != nil {
		en.timer.Stop()
		en.timer = nil
	}
	if en.cancel != nil {
		en.cancel()
		en.cancel = nil
	}
}

func (en *entry) reactionOf(kind string) *reaction {
	if en.reactions == nil {
		en.reactions = make(map[string]*reaction)
	}
	r, ok := en.reactions[kind]
	if !ok {
		r = &reaction{}
		en.reactions[kind] = r
	}
	return r
}

func (en *entry) snapshot() Entry {
	s := Entry{
		Handle: en.handle,
		ID:     en.msg.ID,
		State:  en.state,
		Err:    en.err,
	}
	s.Message = en.msg
	if en.msg.Attachments != nil {
		s.Message.Attachments = append([]domain.Attachment(nil), en.msg.Attachments...)
	}
	if len(en.reactions) > 0 {
		s.Reactions = make(map[string]domain.ReactionState, len(en.reactions))
		for kind, r := range en.reactions {
			if v := r.view(); v.Count > 0 || v.Active {
				s.Reactions[kind] = v
			}
		}
	}
	if en.reply != nil {
		p := *en.reply
		s.Reply = &p
	}
	if en.state != StateSent && len(en.files) > 0 {
		s.Uploads = make([]UploadStatus, len(en.files))
		for i, f := range en.files {
			s.Uploads[i] = UploadStatus{
				Filename: f.Filename,
				Done:     en.uploaded[i] != nil,
				Err:      en.uploadErr[i],
			}
		}
	}
	return s
}
