package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/damoang/angple-chat/internal/common"
	"github.com/damoang/angple-chat/internal/domain"
	"github.com/damoang/angple-chat/internal/metrics"
	"github.com/damoang/angple-chat/internal/repository"
)

const (
	maxReactionsPerTarget = 20
	maxReactionKindBytes  = 50
)

// ReactionService handles reaction business logic
type ReactionService struct {
	repo      *repository.ReactionRepository
	messages  repository.MessageRepository
	auth      Authorizer
	publisher Publisher
}

// NewReactionService creates a new ReactionService. A nil publisher disables fan-out.
func NewReactionService(repo *repository.ReactionRepository, messages repository.MessageRepository, auth Authorizer, publisher Publisher) *ReactionService {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &ReactionService{repo: repo, messages: messages, auth: auth, publisher: publisher}
}

// Set makes the actor's membership equal to active. Safe to retry.
func (s *ReactionService) Set(ctx context.Context, actorID, messageID, kind string, active bool) (*domain.ReactionState, error) {
	if err := s.precheck(ctx, actorID, messageID, kind, active); err != nil {
		return nil, err
	}
	res, err := s.repo.Set(ctx, messageID, actorID, kind, active)
	if err != nil {
		return nil, err
	}
	s.afterChange(ctx, res, messageID, actorID, kind)
	return &res.State, nil
}

// Toggle flips the actor's membership
func (s *ReactionService) Toggle(ctx context.Context, actorID, messageID, kind string) (*domain.ReactionState, error) {
	if err := s.precheck(ctx, actorID, messageID, kind, true); err != nil {
		return nil, err
	}
	res, err := s.repo.Toggle(ctx, messageID, actorID, kind)
	if err != nil {
		return nil, err
	}
	s.afterChange(ctx, res, messageID, actorID, kind)
	return &res.State, nil
}

// Summaries retrieves per-kind counts for messageIDs from the viewer's perspective
func (s *ReactionService) Summaries(ctx context.Context, viewerID string, messageIDs []string) (map[string][]domain.ReactionItem, error) {
	return s.repo.Summaries(ctx, dedupe(messageIDs), viewerID)
}

func (s *ReactionService) precheck(ctx context.Context, actorID, messageID, kind string, adding bool) error {
	if err := ValidateReactionKind(kind); err != nil {
		return err
	}
	msg, err := s.messages.FindByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.IsDeleted() {
		return fmt.Errorf("%w: message %s deleted", common.ErrNotFound, messageID)
	}
	if err := s.auth.Authorize(ctx, actorID, msg.ScopeID, domain.ActionReact); err != nil {
		return err
	}
	if !adding {
		return nil
	}

	// Check reaction limit for add mode
	kinds, err := s.repo.KindCount(ctx, messageID)
	if err != nil {
		return err
	}
	if kinds >= maxReactionsPerTarget {
		// existing kinds stay toggleable
		has, err := s.repo.HasKind(ctx, messageID, kind)
		if err != nil {
			return err
		}
		if !has {
			return common.Validationf("at most %d reaction kinds per message", maxReactionsPerTarget)
		}
	}
	return nil
}

func (s *ReactionService) afterChange(ctx context.Context, res *repository.ReactionResult, messageID, actorID, kind string) {
	if !res.Changed {
		return
	}
	direction := "remove"
	if res.State.Active {
		direction = "add"
	}
	metrics.ReactionChanges.WithLabelValues(direction).Inc()
	s.publisher.Publish(ctx, res.ScopeID, domain.ReactedEvent(res.ScopeID, &domain.ReactionDelta{
		MessageID: messageID,
		UserID:    actorID,
		Kind:      kind,
		Active:    res.State.Active,
		Count:     res.State.Count,
		Version:   res.State.Version,
	}))
}

// ValidateReactionKind accepts "category:name" or a bare name up to 50 bytes
func ValidateReactionKind(kind string) error {
	if kind == "" || len(kind) > maxReactionKindBytes {
		return common.Validationf("reaction kind must be 1-%d bytes", maxReactionKindBytes)
	}
	if strings.ContainsAny(kind, " \t\r\n") {
		return common.Validationf("reaction kind must not contain whitespace")
	}
	if strings.Count(kind, ":") > 1 {
		return common.Validationf("reaction kind %q has too many separators", kind)
	}
	if category, name, ok := strings.Cut(kind, ":"); ok && (category == "" || name == "") {
		return common.Validationf("reaction kind %q is incomplete", kind)
	}
	return nil
}
