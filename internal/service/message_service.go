package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/damoang/angple-chat/internal/common"
	"github.com/damoang/angple-chat/internal/config"
	"github.com/damoang/angple-chat/internal/domain"
	"github.com/damoang/angple-chat/internal/metrics"
	"github.com/damoang/angple-chat/internal/repository"
	"github.com/damoang/angple-chat/pkg/cache"
	pkglogger "github.com/damoang/angple-chat/pkg/logger"
)

// PageQuery selects one keyset page. At most one of Before/After is set.
type PageQuery struct {
	Limit  int
	Before string
	After  string
}

// MessageService is the durable message log of every scope
type MessageService interface {
	Append(ctx context.Context, req *domain.AppendRequest) (*domain.Message, error)
	FetchRecent(ctx context.Context, actorID, scopeID string, q PageQuery) (*domain.MessagePage, error)
	Resolve(ctx context.Context, actorID string, ids []string) (map[string]*domain.Message, error)
	SoftDelete(ctx context.Context, id, requestedBy string) error
	Purge(ctx context.Context, id, requestedBy string) error
}

type messageService struct {
	repo      repository.MessageRepository
	auth      Authorizer
	publisher Publisher
	cache     cache.Service
	limits    config.ChatConfig
	now       func() time.Time
}

// NewMessageService creates a new MessageService. A nil publisher disables fan-out.
func NewMessageService(repo repository.MessageRepository, auth Authorizer, publisher Publisher, cacheSvc cache.Service, limits config.ChatConfig) MessageService {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if cacheSvc == nil {
		cacheSvc = cache.NewService(nil)
	}
	return &messageService{
		repo:      repo,
		auth:      auth,
		publisher: publisher,
		cache:     cacheSvc,
		limits:    limits,
		now:       time.Now,
	}
}

// Append validates, authorizes and persists one submission, then publishes
// the inserted event. A replayed submission key is answered from the store
// without a second publish.
func (s *messageService) Append(ctx context.Context, req *domain.AppendRequest) (*domain.Message, error) {
	if err := s.validateAppend(req); err != nil {
		metrics.AppendRejected.WithLabelValues("validation").Inc()
		return nil, err
	}
	if err := s.auth.Authorize(ctx, req.AuthorID, req.ScopeID, domain.ActionAppend); err != nil {
		metrics.AppendRejected.WithLabelValues("authorization").Inc()
		return nil, err
	}

	msg, replayed, err := s.repo.Append(ctx, req, s.now().UnixMicro())
	if err != nil {
		metrics.AppendRejected.WithLabelValues(rejectReason(err)).Inc()
		return nil, err
	}
	if replayed {
		metrics.AppendReplays.Inc()
		return msg, nil
	}

	metrics.MessagesAppended.WithLabelValues(msg.PrimaryKind()).Inc()
	s.publisher.Publish(ctx, msg.ScopeID, domain.InsertedEvent(msg))
	return msg, nil
}

func (s *messageService) validateAppend(req *domain.AppendRequest) error {
	if req.ScopeID == "" {
		return common.Validationf("scope is required")
	}
	if req.SubmissionKey == "" || len(req.SubmissionKey) > 64 {
		return common.Validationf("submission_key must be 1-64 bytes")
	}
	if strings.TrimSpace(req.Body) == "" && len(req.Attachments) == 0 {
		return common.Validationf("message is empty")
	}
	if n := utf8.RuneCountInString(req.Body); n > s.limits.MaxBodyLength {
		return common.Validationf("body has %d characters (max %d)", n, s.limits.MaxBodyLength)
	}
	if len(req.Attachments) > s.limits.MaxAttachments {
		return common.Validationf("too many attachments (max %d)", s.limits.MaxAttachments)
	}
	for i, a := range req.Attachments {
		switch {
		case a.URL == "":
			return common.Validationf("attachment %d has no url", i)
		case !a.Kind.Valid():
			return common.Validationf("attachment %d has unknown kind %q", i, a.Kind)
		case a.Size < 0 || a.Size > s.limits.MaxAttachmentSize:
			return common.Validationf("attachment %d is too large", i)
		}
	}
	if req.SessionID != "" && req.Seq <= 0 {
		return common.Validationf("seq must be positive")
	}
	if req.ReplyToID != nil && strings.HasPrefix(*req.ReplyToID, domain.TempIDPrefix) {
		return common.Validationf("cannot reply to an unsent message")
	}
	return nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, common.ErrConflict):
		return "conflict"
	case errors.Is(err, common.ErrNotFound):
		return "not_found"
	default:
		return "unavailable"
	}
}

// FetchRecent returns one page ordered oldest to newest
func (s *messageService) FetchRecent(ctx context.Context, actorID, scopeID string, q PageQuery) (*domain.MessagePage, error) {
	if err := s.auth.Authorize(ctx, actorID, scopeID, domain.ActionRead); err != nil {
		return nil, err
	}
	if q.Before != "" && q.After != "" {
		return nil, common.Validationf("before and after are exclusive")
	}

	limit := q.Limit
	if limit <= 0 {
		limit = s.limits.DefaultPageSize
	}
	if limit > s.limits.MaxPageSize {
		limit = s.limits.MaxPageSize
	}

	var (
		rows    []*domain.Message
		hasMore bool
		next    *repository.Cursor
	)
	if q.After != "" {
		after, err := repository.DecodeCursor(q.After, scopeID)
		if err != nil {
			return nil, err
		}
		if rows, hasMore, err = s.repo.FetchAfter(ctx, scopeID, limit, after); err != nil {
			return nil, err
		}
		if hasMore && len(rows) > 0 {
			next = repository.CursorOf(rows[len(rows)-1])
		}
	} else {
		before, err := repository.DecodeCursor(q.Before, scopeID)
		if err != nil {
			return nil, err
		}
		if rows, hasMore, err = s.repo.FetchPage(ctx, scopeID, limit, before); err != nil {
			return nil, err
		}
		if hasMore && len(rows) > 0 {
			next = repository.CursorOf(rows[0])
		}
	}

	if rows == nil {
		rows = []*domain.Message{}
	}
	return &domain.MessagePage{
		Messages:   rows,
		NextCursor: repository.EncodeCursor(next),
		HasMore:    hasMore,
	}, nil
}

// Resolve is a batch point lookup including tombstones. Tombstones carry no
// body or attachments. Messages in scopes the actor may not read are
// omitted like missing ones.
func (s *messageService) Resolve(ctx context.Context, actorID string, ids []string) (map[string]*domain.Message, error) {
	found, err := s.repo.FindByIDs(ctx, dedupe(ids))
	if err != nil {
		return nil, err
	}

	allowed := make(map[string]bool)
	for id, m := range found {
		ok, seen := allowed[m.ScopeID]
		if !seen {
			authErr := s.auth.Authorize(ctx, actorID, m.ScopeID, domain.ActionRead)
			if authErr != nil && !errors.Is(authErr, common.ErrAuthorization) {
				return nil, authErr
			}
			ok = authErr == nil
			allowed[m.ScopeID] = ok
		}
		if !ok {
			delete(found, id)
			continue
		}
		// 삭제된 메시지는 id/scope/author/reply 참조만 남긴다
		if m.IsDeleted() {
			m.Body = ""
			m.Attachments = []domain.Attachment{}
		}
	}
	return found, nil
}

// SoftDelete tombstones a message authored by requestedBy. Repeating the
// call on a deleted message succeeds without a second event.
func (s *messageService) SoftDelete(ctx context.Context, id, requestedBy string) error {
	msg, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if msg.AuthorID != requestedBy {
		return fmt.Errorf("%w: only the author may delete %s", common.ErrAuthorization, id)
	}
	if err := s.auth.Authorize(ctx, requestedBy, msg.ScopeID, domain.ActionDelete); err != nil {
		return err
	}
	if msg.IsDeleted() {
		return nil
	}

	changed, err := s.repo.SoftDelete(ctx, id, s.now().UnixMicro())
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	metrics.MessagesDeleted.Inc()
	if err := s.cache.InvalidatePreview(ctx, id); err != nil {
		pkglogger.GetLogger().Warn().Err(err).Str("message_id", id).Msg("preview cache invalidation failed")
	}
	s.publisher.Publish(ctx, msg.ScopeID, domain.DeletedEvent(msg.ScopeID, id))
	return nil
}

// Purge removes a message authored by requestedBy for good. Replies keep
// their reply_to_id and resolve to an unavailable preview. No event is
// published when the message was already tombstoned.
func (s *messageService) Purge(ctx context.Context, id, requestedBy string) error {
	msg, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if msg.AuthorID != requestedBy {
		return fmt.Errorf("%w: only the author may delete %s", common.ErrAuthorization, id)
	}
	if err := s.auth.Authorize(ctx, requestedBy, msg.ScopeID, domain.ActionDelete); err != nil {
		return err
	}

	removed, err := s.repo.HardDelete(ctx, id)
	if err != nil {
		return err
	}

	metrics.MessagesDeleted.Inc()
	if err := s.cache.InvalidatePreview(ctx, id); err != nil {
		pkglogger.GetLogger().Warn().Err(err).Str("message_id", id).Msg("preview cache invalidation failed")
	}
	if !removed.IsDeleted() {
		s.publisher.Publish(ctx, removed.ScopeID, domain.DeletedEvent(removed.ScopeID, id))
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
