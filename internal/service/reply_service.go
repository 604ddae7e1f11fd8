package service

import (
	"context"
	"errors"

	"github.com/damoang/angple-chat/internal/domain"
	"github.com/damoang/angple-chat/internal/repository"
	"github.com/damoang/angple-chat/pkg/cache"
	pkglogger "github.com/damoang/angple-chat/pkg/logger"
)

// ReplyService builds reply previews. Lookup failures of a target degrade to
// an unavailable preview; only infrastructure failures are returned.
type ReplyService interface {
	// ResolvePreview returns nil when m is not a reply
	ResolvePreview(ctx context.Context, m *domain.Message) (*domain.Preview, error)
	// ResolvePreviews maps each replying message id to its target preview
	ResolvePreviews(ctx context.Context, ms []*domain.Message) (map[string]*domain.Preview, error)
	// PreviewOf summarizes targetID as a reply target for actorID
	PreviewOf(ctx context.Context, actorID, targetID string) (*domain.Preview, error)
}

type replyService struct {
	messages     repository.MessageRepository
	profiles     ProfileLookup
	auth         Authorizer
	cache        cache.Service
	snippetRunes int
}

// NewReplyService creates a new ReplyService
func NewReplyService(messages repository.MessageRepository, profiles ProfileLookup, auth Authorizer, cacheSvc cache.Service, snippetRunes int) ReplyService {
	if cacheSvc == nil {
		cacheSvc = cache.NewService(nil)
	}
	return &replyService{
		messages:     messages,
		profiles:     profiles,
		auth:         auth,
		cache:        cacheSvc,
		snippetRunes: snippetRunes,
	}
}

func (s *replyService) ResolvePreview(ctx context.Context, m *domain.Message) (*domain.Preview, error) {
	if m == nil || m.ReplyToID == nil {
		return nil, nil
	}
	previews, err := s.previews(ctx, []string{*m.ReplyToID})
	if err != nil {
		return nil, err
	}
	return previews[*m.ReplyToID], nil
}

func (s *replyService) ResolvePreviews(ctx context.Context, ms []*domain.Message) (map[string]*domain.Preview, error) {
	var targets []string
	for _, m := range ms {
		if m != nil && m.ReplyToID != nil {
			targets = append(targets, *m.ReplyToID)
		}
	}
	result := make(map[string]*domain.Preview)
	if len(targets) == 0 {
		return result, nil
	}

	byTarget, err := s.previews(ctx, dedupe(targets))
	if err != nil {
		return nil, err
	}
	for _, m := range ms {
		if m != nil && m.ReplyToID != nil {
			result[m.ID] = byTarget[*m.ReplyToID]
		}
	}
	return result, nil
}

func (s *replyService) PreviewOf(ctx context.Context, actorID, targetID string) (*domain.Preview, error) {
	previews, err := s.previews(ctx, []string{targetID})
	if err != nil {
		return nil, err
	}
	p := previews[targetID]
	if !p.Available {
		return p, nil
	}

	msg, err := s.messages.FindByID(ctx, targetID)
	if err != nil {
		return domain.UnavailablePreview(targetID), nil
	}
	if err := s.auth.Authorize(ctx, actorID, msg.ScopeID, domain.ActionRead); err != nil {
		return nil, err
	}
	return p, nil
}

// previews resolves every target id, cache first
func (s *replyService) previews(ctx context.Context, targetIDs []string) (map[string]*domain.Preview, error) {
	result := make(map[string]*domain.Preview, len(targetIDs))
	var misses []string
	for _, id := range targetIDs {
		var p domain.Preview
		err := s.cache.GetPreview(ctx, id, &p)
		if err == nil {
			result[id] = &p
			continue
		}
		if !errors.Is(err, cache.ErrMiss) {
			pkglogger.GetLogger().Warn().Err(err).Str("message_id", id).Msg("preview cache read failed")
		}
		misses = append(misses, id)
	}
	if len(misses) == 0 {
		return result, nil
	}

	found, err := s.messages.FindByIDs(ctx, misses)
	if err != nil {
		return nil, err
	}

	var authors []string
	for _, m := range found {
		if !m.IsDeleted() {
			authors = append(authors, m.AuthorID)
		}
	}
	names, complete := s.displayNames(ctx, dedupe(authors))

	for _, id := range misses {
		target := found[id]
		name := ""
		if target != nil {
			name = names[target.AuthorID]
		}
		p := domain.BuildPreview(id, target, name, s.snippetRunes)
		result[id] = p
		if !complete {
			continue
		}
		if err := s.cache.SetPreview(ctx, id, p); err != nil {
			pkglogger.GetLogger().Warn().Err(err).Str("message_id", id).Msg("preview cache write failed")
		}
	}
	return result, nil
}

// displayNames never fails; a broken profile service renders "Unknown"
// and reports complete=false so the result is not cached
func (s *replyService) displayNames(ctx context.Context, userIDs []string) (names map[string]string, complete bool) {
	names = make(map[string]string, len(userIDs))
	if s.profiles == nil || len(userIDs) == 0 {
		return names, true
	}
	profiles, err := s.profiles.LookupProfiles(ctx, userIDs)
	if err != nil {
		pkglogger.GetLogger().Warn().Err(err).Int("count", len(userIDs)).Msg("profile lookup failed")
		return names, false
	}
	for id, p := range profiles {
		if p != nil && p.DisplayName != "" {
			names[id] = p.DisplayName
		}
	}
	return names, true
}

// EnrichPage attaches the viewer's reaction summaries and reply previews
func EnrichPage(ctx context.Context, page *domain.MessagePage, viewerID string, reactions *ReactionService, replies ReplyService) error {
	if len(page.Messages) == 0 {
		return nil
	}
	ids := make([]string, len(page.Messages))
	for i, m := range page.Messages {
		ids[i] = m.ID
	}
	if reactions != nil {
		summaries, err := reactions.Summaries(ctx, viewerID, ids)
		if err != nil {
			return err
		}
		page.Reactions = summaries
	}
	if replies != nil {
		previews, err := replies.ResolvePreviews(ctx, page.Messages)
		if err != nil {
			return err
		}
		page.Previews = previews
	}
	return nil
}
