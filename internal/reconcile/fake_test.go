package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/damoang/angple-chat/internal/common"
	"github.com/damoang/angple-chat/internal/domain"
	"github.com/stretchr/testify/require"
)

const testScope = "class-1"

// fakeTransport is an in-memory server for one scope
type fakeTransport struct {
	mu       sync.Mutex
	clock    int64
	messages []*domain.Message
	byKey    map[string]*domain.Message
	members  map[string]map[string]map[string]bool // message -> kind -> user

	appendHook   func(ctx context.Context, req *domain.AppendRequest) error
	uploadHook   func(ctx context.Context, f *File) error
	reactionHook func(ctx context.Context, messageID, kind string, active bool) error

	appendCalls []domain.AppendRequest
	resolveLog  [][]string
	streams     []*fakeStream
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		clock:   1_000_000,
		byKey:   make(map[string]*domain.Message),
		members: make(map[string]map[string]map[string]bool),
	}
}

// seed stores a message from another author
func (f *fakeTransport) seed(authorID, body string, replyTo *string) *domain.Message {
	m, _ := f.store(&domain.AppendRequest{
		ScopeID:       testScope,
		AuthorID:      authorID,
		SubmissionKey: fmt.Sprintf("seed-%d", len(f.messages)),
		Body:          body,
		ReplyToID:     replyTo,
	})
	return m
}

func (f *fakeTransport) store(req *domain.AppendRequest) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if m := f.byKey[req.AuthorID+"/"+req.SubmissionKey]; m != nil {
		cp := *m
		return &cp, nil
	}
	f.clock += 10
	m := &domain.Message{
		ID:            fmt.Sprintf("m%03d", len(f.messages)+1),
		ScopeID:       req.ScopeID,
		AuthorID:      req.AuthorID,
		SubmissionKey: req.SubmissionKey,
		Body:          req.Body,
		Attachments:   req.Attachments,
		ReplyToID:     req.ReplyToID,
		CreatedAt:     f.clock,
	}
	f.messages = append(f.messages, m)
	f.byKey[req.AuthorID+"/"+req.SubmissionKey] = m
	cp := *m
	return &cp, nil
}

func (f *fakeTransport) delete(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ID == id {
			at := f.clock
			m.DeletedAt = &at
		}
	}
}

func (f *fakeTransport) Append(ctx context.Context, req *domain.AppendRequest) (*domain.Message, error) {
	f.mu.Lock()
	f.appendCalls = append(f.appendCalls, *req)
	hook := f.appendHook
	f.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, req); err != nil {
			return nil, err
		}
	}
	return f.store(req)
}

func (f *fakeTransport) Upload(ctx context.Context, file *File) (*domain.Attachment, error) {
	f.mu.Lock()
	hook := f.uploadHook
	f.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, file); err != nil {
			return nil, err
		}
	}
	return &domain.Attachment{
		URL:      "https://cdn.test/" + file.Filename,
		Kind:     domain.AttachmentImage,
		Filename: file.Filename,
		Size:     int64(len(file.Data)),
	}, nil
}

// FetchRecent uses the index of the oldest returned message as cursor
func (f *fakeTransport) FetchRecent(_ context.Context, scopeID string, q PageQuery) (*domain.MessagePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var live []*domain.Message
	for _, m := range f.messages {
		if m.ScopeID == scopeID && !m.IsDeleted() {
			live = append(live, m)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].Before(live[j]) })

	end := len(live)
	if q.Before != "" {
		n, err := strconv.Atoi(q.Before)
		if err != nil {
			return nil, common.Validationf("bad cursor")
		}
		end = n
	}
	start := end - q.Limit
	if start < 0 {
		start = 0
	}

	page := &domain.MessagePage{
		HasMore:   start > 0,
		Reactions: make(map[string][]domain.ReactionItem),
	}
	for _, m := range live[start:end] {
		cp := *m
		page.Messages = append(page.Messages, &cp)
		for kind, users := range f.members[m.ID] {
			if len(users) == 0 {
				continue
			}
			page.Reactions[m.ID] = append(page.Reactions[m.ID], domain.ReactionItem{Kind: kind, Count: len(users)})
		}
	}
	if page.HasMore {
		page.NextCursor = strconv.Itoa(start)
	}
	return page, nil
}

func (f *fakeTransport) Resolve(_ context.Context, ids []string) (map[string]*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.resolveLog = append(f.resolveLog, append([]string(nil), ids...))
	out := make(map[string]*domain.Message)
	for _, m := range f.messages {
		for _, id := range ids {
			if m.ID == id {
				cp := *m
				out[id] = &cp
			}
		}
	}
	return out, nil
}

func (f *fakeTransport) SetReaction(ctx context.Context, messageID, kind string, active bool) (*domain.ReactionState, error) {
	f.mu.Lock()
	hook := f.reactionHook
	f.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, messageID, kind, active); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.members[messageID] == nil {
		f.members[messageID] = make(map[string]map[string]bool)
	}
	if f.members[messageID][kind] == nil {
		f.members[messageID][kind] = make(map[string]bool)
	}
	users := f.members[messageID][kind]
	if active {
		users["me"] = true
	} else {
		delete(users, "me")
	}
	return &domain.ReactionState{Active: active, Count: len(users)}, nil
}

func (f *fakeTransport) Subscribe(_ context.Context, _ string) (Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeStream{ch: make(chan *domain.Event, 16)}
	f.streams = append(f.streams, s)
	return s, nil
}

func (f *fakeTransport) calls() []domain.AppendRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.AppendRequest(nil), f.appendCalls...)
}

func (f *fakeTransport) stored(key string) *domain.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.SubmissionKey == key {
			cp := *m
			return &cp
		}
	}
	return nil
}

type fakeStream struct {
	ch   chan *domain.Event
	once sync.Once

	mu   sync.Mutex
	code int
}

func (s *fakeStream) Events() <-chan *domain.Event { return s.ch }

func (s *fakeStream) Close() { s.once.Do(func() { close(s.ch) }) }

// closeWith ends the stream as if the server sent close code
func (s *fakeStream) closeWith(code int) {
	s.mu.Lock()
	s.code = code
	s.mu.Unlock()
	s.Close()
}

func (s *fakeStream) CloseCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code
}

// recorder captures observer callbacks
type recorder struct {
	mu        sync.Mutex
	snapshots [][]Entry
	inserted  []Entry
	updated   []Entry
	deleted   []string
	reactions []ReactionChange
	failures  map[Handle]error
}

func newRecorder() *recorder {
	return &recorder{failures: make(map[Handle]error)}
}

func (r *recorder) OnScopeSnapshot(entries []Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, entries)
}

func (r *recorder) OnMessageInserted(e Entry, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inserted = append(r.inserted, e)
}

func (r *recorder) OnMessageUpdated(e Entry, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updated = append(r.updated, e)
}

func (r *recorder) OnMessageDeleted(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, id)
}

func (r *recorder) OnReactionChanged(c ReactionChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reactions = append(r.reactions, c)
}

func (r *recorder) OnSendFailed(h Handle, reason error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[h] = reason
}

func (r *recorder) insertedIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(r.inserted))
	for i, e := range r.inserted {
		ids[i] = e.ID
	}
	return ids
}

func (r *recorder) failure(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures[h]
}

func (r *recorder) reactionChanges() []ReactionChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ReactionChange(nil), r.reactions...)
}

func newTestEngine(t *testing.T, tr Transport, obs Observer, mutate ...func(*Config)) *Engine {
	t.Helper()
	cfg := Config{
		ScopeID:   testScope,
		UserID:    "me",
		SessionID: "session-1",
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	e := New(cfg, tr, obs)
	t.Cleanup(e.Close)
	return e
}

func waitState(t *testing.T, e *Engine, h Handle, want DeliveryState) Entry {
	t.Helper()
	var got Entry
	require.Eventually(t, func() bool {
		for _, en := range e.Entries() {
			if en.Handle == h {
				got = en
				return en.State == want
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "entry %s never reached %s", h, want)
	return got
}

func ids(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, en := range entries {
		out[i] = en.ID
	}
	return out
}

// blockUntilCancelled makes Append hang until its context ends
func blockUntilCancelled(captured chan<- domain.AppendRequest) func(context.Context, *domain.AppendRequest) error {
	return func(ctx context.Context, req *domain.AppendRequest) error {
		if captured != nil {
			captured <- *req
		}
		<-ctx.Done()
		return ctx.Err()
	}
}

func strPtr(s string) *string { return &s }
