// Package reconcile keeps one scope's working list for a client session.
//
// The list merges three sources: the session's own optimistic
// submissions, the acknowledgements of those submissions, and broadcasts
// from everyone in the scope. Each local submission moves through an
// explicit pending -> sent | failed state machine, and every durable id is
// rendered at most once no matter in which order confirmations and
// broadcasts arrive.
package reconcile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/damoang/angple-chat/internal/common"
	"github.com/damoang/angple-chat/internal/domain"
	"github.com/google/uuid"
)

// 기본값
const (
	DefaultPendingTimeout  = 30 * time.Second
	DefaultDuplicateWindow = 2 * time.Second
	DefaultPageSize        = 50
	DefaultSnippetRunes    = 80
)

// Config configures an Engine for one scope
type Config struct {
	ScopeID         string
	UserID          string
	SessionID       string        // default: random uuid
	PendingTimeout  time.Duration // pending -> failed after this long
	DuplicateWindow time.Duration // identical drafts inside this window are rejected
	PageSize        int
	SnippetRunes    int
	MaxBodyLength   int // 0 = no client-side limit
	Profiles        ProfileLookup
	Now             func() time.Time
}

func (c *Config) setDefaults() {
	if c.SessionID == "" {
		c.SessionID = uuid.NewString()
	}
	if c.PendingTimeout <= 0 {
		c.PendingTimeout = DefaultPendingTimeout
	}
	if c.DuplicateWindow <= 0 {
		c.DuplicateWindow = DefaultDuplicateWindow
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.SnippetRunes <= 0 {
		c.SnippetRunes = DefaultSnippetRunes
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

type recentSubmission struct {
	fingerprint string
	at          time.Time
	handle      Handle
}

// Engine is safe for concurrent use. Observer callbacks run in order on a
// single goroutine, never while the engine lock is held.
type Engine struct {
	cfg       Config
	transport Transport
	observer  Observer

	mu          sync.Mutex
	confirmed   []*entry // sorted by (created_at, id)
	unconfirmed []*entry // pending/failed, submission order
	byID        map[string]*entry
	byHandle    map[Handle]*entry
	byKey       map[string]*entry // submission key of unconfirmed entries
	tombstones  map[string]bool
	external    map[string]*domain.Message // reply targets outside the window
	names       map[string]string
	resolving   map[string]bool
	lookingUp   map[string]bool
	recent      []recentSubmission
	nextTemp    uint64
	seq         int64
	olderCursor string
	hasOlder    bool

	ctx     context.Context
	cancel  context.CancelFunc
	events  *dispatcher
	appends *serialQueue
	once    sync.Once
}

// New creates an engine; a nil observer discards notifications
func New(cfg Config, transport Transport, observer Observer) *Engine {
	cfg.setDefaults()
	if observer == nil {
		observer = NopObserver{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:        cfg,
		transport:  transport,
		observer:   observer,
		byID:       make(map[string]*entry),
		byHandle:   make(map[Handle]*entry),
		byKey:      make(map[string]*entry),
		tombstones: make(map[string]bool),
		external:   make(map[string]*domain.Message),
		names:      make(map[string]string),
		resolving:  make(map[string]bool),
		lookingUp:  make(map[string]bool),
		ctx:        ctx,
		cancel:     cancel,
		events:     newDispatcher(),
		appends:    newSerialQueue(),
	}
}

// ScopeID returns the scope this engine works on
func (e *Engine) ScopeID() string {
	return e.cfg.ScopeID
}

// SessionID returns the session id sent with every append
func (e *Engine) SessionID() string {
	return e.cfg.SessionID
}

// Submit adds an optimistic entry at the tail and returns at once. Uploads
// start immediately; the append runs after every earlier submission of
// this engine has been appended or has failed.
func (e *Engine) Submit(d Draft) (Handle, error) {
	if e.cfg.ScopeID == "" {
		return "", common.Validationf("scope is required")
	}
	if strings.TrimSpace(d.Body) == "" && len(d.Files) == 0 {
		return "", common.Validationf("message is empty")
	}
	if e.cfg.MaxBodyLength > 0 && utf8.RuneCountInString(d.Body) > e.cfg.MaxBodyLength {
		return "", common.Validationf("body exceeds %d characters", e.cfg.MaxBodyLength)
	}
	for _, f := range d.Files {
		if len(f.Data) == 0 {
			return "", common.Validationf("file %q is empty", f.Filename)
		}
	}
	if d.ReplyToID != nil && strings.HasPrefix(*d.ReplyToID, domain.TempIDPrefix) {
		return "", common.Validationf("cannot reply to an unsent message")
	}

	fp := fingerprint(d)
	now := e.cfg.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ctx.Err() != nil {
		return "", fmt.Errorf("%w: engine closed", common.ErrUnavailable)
	}
	if e.isDuplicateLocked(fp, now) {
		return "", fmt.Errorf("%w: identical message was just sent", common.ErrConflict)
	}

	e.nextTemp++
	h := Handle(fmt.Sprintf("%s%d", domain.TempIDPrefix, e.nextTemp))
	en := &entry{
		handle: h,
		msg: domain.Message{
			ID:            string(h),
			ScopeID:       e.cfg.ScopeID,
			AuthorID:      e.cfg.UserID,
			Body:          d.Body,
			ReplyToID:     copyString(d.ReplyToID),
			CreatedAt:     now.UnixMicro(),
			SubmissionKey: uuid.NewString(),
		},
		state:       StatePending,
		files:       append([]File(nil), d.Files...),
		uploaded:    make([]*domain.Attachment, len(d.Files)),
		uploadErr:   make([]error, len(d.Files)),
		fingerprint: fp,
		submittedAt: now,
	}
	en.key = en.msg.SubmissionKey

	e.unconfirmed = append(e.unconfirmed, en)
	e.byHandle[h] = en
	e.byKey[en.key] = en
	e.recent = append(e.recent, recentSubmission{fingerprint: fp, at: now, handle: h})
	e.refreshReplyLocked(en)

	snap, idx := en.snapshot(), e.indexLocked(en)
	e.notify(func(o Observer) { o.OnMessageInserted(snap, idx) })

	e.startAttemptLocked(en)
	return h, nil
}

// isDuplicateLocked drops expired fingerprints, then looks for a live
// entry with the same content
func (e *Engine) isDuplicateLocked(fp string, now time.Time) bool {
	keep := e.recent[:0]
	for _, r := range e.recent {
		if now.Sub(r.at) < e.cfg.DuplicateWindow {
			keep = append(keep, r)
		}
	}
	e.recent = keep

	for _, r := range e.recent {
		if r.fingerprint != fp {
			continue
		}
		if en := e.byHandle[r.handle]; en != nil && en.state != StateFailed {
			return true
		}
	}
	return false
}

// OnPersisted confirms a local submission with the stored record
func (e *Engine) OnPersisted(h Handle, rec *domain.Message) {
	if rec == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if en := e.byHandle[h]; en != nil {
		e.confirmLocked(en, rec)
	}
}

// OnPersistFailed marks a pending submission failed; its content is kept
// for Retry
func (e *Engine) OnPersistFailed(h Handle, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	en := e.byHandle[h]
	if en == nil || en.state != StatePending {
		return
	}
	e.failLocked(en, err)
}

// OnBroadcastReceived merges a message insert from the scope stream
func (e *Engine) OnBroadcastReceived(rec *domain.Message) {
	if rec == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mergeLocked(rec, nil, true)
}

// OnDeleted removes a message; replies to it fall back to an unavailable
// preview
func (e *Engine) OnDeleted(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deleteLocked(id, true)
}

// Apply routes a stream event to the matching handler
func (e *Engine) Apply(ev *domain.Event) {
	if ev == nil || (ev.ScopeID != "" && ev.ScopeID != e.cfg.ScopeID) {
		return
	}
	switch ev.Type {
	case domain.EventInserted:
		e.OnBroadcastReceived(ev.Message)
	case domain.EventDeleted:
		e.OnDeleted(ev.MessageID)
	case domain.EventReacted:
		if ev.Reaction != nil {
			e.OnReacted(*ev.Reaction)
		}
	}
}

// Retry re-submits a failed entry at the tail, keeping its submission key
// so a late success of the earlier attempt is never stored twice
func (e *Engine) Retry(h Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	en := e.byHandle[h]
	if en == nil {
		return fmt.Errorf("%w: %s", common.ErrNotFound, h)
	}
	if en.state != StateFailed {
		return fmt.Errorf("%w: %s is %s", common.ErrConflict, h, en.state)
	}

	e.removeUnconfirmedLocked(en)
	e.unconfirmed = append(e.unconfirmed, en)
	en.state = StatePending
	en.err = nil
	for i := range en.uploadErr {
		en.uploadErr[i] = nil
	}

	snap, idx := en.snapshot(), e.indexLocked(en)
	e.notify(func(o Observer) { o.OnMessageUpdated(snap, idx) })

	e.startAttemptLocked(en)
	return nil
}

// Discard drops a failed entry from the list
func (e *Engine) Discard(h Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	en := e.byHandle[h]
	if en == nil {
		return fmt.Errorf("%w: %s", common.ErrNotFound, h)
	}
	if en.state != StateFailed {
		return fmt.Errorf("%w: %s is %s", common.ErrConflict, h, en.state)
	}
	e.removeLocked(en)
	id := string(h)
	e.notify(func(o Observer) { o.OnMessageDeleted(id) })
	return nil
}

// Entries returns the working list: confirmed messages in total order,
// then unconfirmed local submissions in submission order
func (e *Engine) Entries() []Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() []Entry {
	out := make([]Entry, 0, len(e.confirmed)+len(e.unconfirmed))
	for _, en := range e.confirmed {
		out = append(out, en.snapshot())
	}
	for _, en := range e.unconfirmed {
		out = append(out, en.snapshot())
	}
	return out
}

// Entry returns one entry by handle or id
func (e *Engine) Entry(id string) (Entry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	en := e.lookupLocked(id)
	if en == nil {
		return Entry{}, false
	}
	return en.snapshot(), true
}

// Flush waits until every notification emitted so far has been delivered.
// Must not be called from an observer callback.
func (e *Engine) Flush() {
	e.events.flush()
}

// Close stops timers and background work. Queued appends are dropped;
// no callback runs after Close returns.
func (e *Engine) Close() {
	e.once.Do(func() {
		e.cancel()
		e.mu.Lock()
		for _, en := range e.unconfirmed {
			en.stopTimers()
		}
		e.mu.Unlock()
		e.appends.close()
		e.events.close()
	})
}

func (e *Engine) notify(fn func(Observer)) {
	obs := e.observer
	e.events.enqueue(func() { fn(obs) })
}

func (e *Engine) lookupLocked(id string) *entry {
	if en := e.byID[id]; en != nil {
		return en
	}
	return e.byHandle[Handle(id)]
}

// confirmLocked moves a local entry into the confirmed order
func (e *Engine) confirmLocked(en *entry, rec *domain.Message) {
	if en.state == StateSent {
		return
	}
	if e.tombstones[rec.ID] || rec.IsDeleted() {
		e.tombstones[rec.ID] = true
		e.removeLocked(en)
		id := string(en.handle)
		e.notify(func(o Observer) { o.OnMessageDeleted(id) })
		return
	}
	if other := e.byID[rec.ID]; other != nil && other != en {
		// 이미 다른 경로로 들어온 레코드
		e.removeLocked(en)
		id := string(en.handle)
		e.notify(func(o Observer) { o.OnMessageDeleted(id) })
		return
	}

	en.stopTimers()
	e.removeUnconfirmedLocked(en)
	delete(e.byKey, en.key)

	reply := en.reply
	en.msg = *rec
	en.state = StateSent
	en.err = nil
	en.files = nil
	en.uploaded = nil
	en.uploadErr = nil
	en.reply = reply
	e.byID[rec.ID] = en
	delete(e.external, rec.ID)
	e.insertConfirmedLocked(en)
	e.refreshReplyLocked(en)

	snap, idx := en.snapshot(), e.indexLocked(en)
	e.notify(func(o Observer) { o.OnMessageUpdated(snap, idx) })
}

func (e *Engine) failLocked(en *entry, err error) {
	en.stopTimers()
	en.state = StateFailed
	en.err = err

	h := en.handle
	snap, idx := en.snapshot(), e.indexLocked(en)
	e.notify(func(o Observer) {
		o.OnMessageUpdated(snap, idx)
		o.OnSendFailed(h, err)
	})
}

// mergeLocked inserts a remote record unless it is already known. preview
// is the server-built reply preview, if any. It reports whether the
// working list changed.
func (e *Engine) mergeLocked(rec *domain.Message, preview *domain.Preview, emit bool) bool {
	if rec.ID == "" || rec.ScopeID != "" && rec.ScopeID != e.cfg.ScopeID {
		return false
	}
	if rec.IsDeleted() {
		return e.deleteLocked(rec.ID, emit)
	}
	if e.tombstones[rec.ID] || e.byID[rec.ID] != nil {
		return false
	}
	if rec.AuthorID == e.cfg.UserID && rec.SubmissionKey != "" {
		if en := e.byKey[rec.SubmissionKey]; en != nil {
			e.confirmLocked(en, rec)
			return true
		}
	}

	en := &entry{msg: *rec, state: StateSent}
	e.byID[rec.ID] = en
	delete(e.external, rec.ID)
	e.insertConfirmedLocked(en)
	e.rememberPreviewLocked(en, preview)
	e.refreshReplyLocked(en)
	e.refreshDependentsLocked(rec.ID, emit)

	if emit {
		snap, idx := en.snapshot(), e.indexLocked(en)
		e.notify(func(o Observer) { o.OnMessageInserted(snap, idx) })
	}
	return true
}

func (e *Engine) deleteLocked(id string, emit bool) bool {
	if id == "" {
		return false
	}
	e.tombstones[id] = true
	delete(e.external, id)

	changed := false
	if en := e.byID[id]; en != nil {
		e.removeLocked(en)
		changed = true
		if emit {
			e.notify(func(o Observer) { o.OnMessageDeleted(id) })
		}
	}
	if e.refreshDependentsLocked(id, emit) {
		changed = true
	}
	return changed
}

func (e *Engine) insertConfirmedLocked(en *entry) {
	i := sort.Search(len(e.confirmed), func(i int) bool {
		return !e.confirmed[i].before(en)
	})
	e.confirmed = append(e.confirmed, nil)
	copy(e.confirmed[i+1:], e.confirmed[i:])
	e.confirmed[i] = en
}

func (e *Engine) removeUnconfirmedLocked(en *entry) {
	for i, u := range e.unconfirmed {
		if u == en {
			e.unconfirmed = append(e.unconfirmed[:i], e.unconfirmed[i+1:]...)
			return
		}
	}
}

func (e *Engine) removeLocked(en *entry) {
	en.stopTimers()
	if en.confirmed() {
		for i, c := range e.confirmed {
			if c == en {
				e.confirmed = append(e.confirmed[:i], e.confirmed[i+1:]...)
				break
			}
		}
		if e.byID[en.msg.ID] == en {
			delete(e.byID, en.msg.ID)
		}
	} else {
		e.removeUnconfirmedLocked(en)
		delete(e.byKey, en.key)
	}
	if en.local() && e.byHandle[en.handle] == en {
		delete(e.byHandle, en.handle)
	}
}

// indexLocked returns the position of en in Entries() order, or -1
func (e *Engine) indexLocked(en *entry) int {
	for i, c := range e.confirmed {
		if c == en {
			return i
		}
	}
	for i, u := range e.unconfirmed {
		if u == en {
			return len(e.confirmed) + i
		}
	}
	return -1
}

// fingerprint hashes what makes two drafts byte-identical
func fingerprint(d Draft) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d:%s|", len(d.Body), d.Body)
	if d.ReplyToID != nil {
		fmt.Fprintf(h, "r%d:%s|", len(*d.ReplyToID), *d.ReplyToID)
	}
	for _, f := range d.Files {
		fmt.Fprintf(h, "f%d:%s|%d:", len(f.Filename), f.Filename, len(f.Data))
		h.Write(f.Data)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
