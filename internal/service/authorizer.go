package service

import (
	"context"
	"fmt"

	"github.com/damoang/angple-chat/internal/common"
	"github.com/damoang/angple-chat/internal/domain"
	"github.com/damoang/angple-chat/internal/repository"
)

// Authorizer answers (actor, scope, action) allow/deny questions.
// Denial is returned as an error wrapping common.ErrAuthorization.
type Authorizer interface {
	Authorize(ctx context.Context, actorID, scopeID string, action domain.Action) error
}

// ProfileLookup resolves display identities; missing ids are absent
type ProfileLookup interface {
	LookupProfiles(ctx context.Context, userIDs []string) (map[string]*domain.Profile, error)
}

// Publisher fans a committed mutation out to scope subscribers
type Publisher interface {
	Publish(ctx context.Context, scopeID string, ev *domain.Event)
}

type membershipAuthorizer struct {
	scopes repository.ScopeRepository
}

// NewMembershipAuthorizer allows any authenticated actor in open scopes and
// only listed members in restricted ones
func NewMembershipAuthorizer(scopes repository.ScopeRepository) Authorizer {
	return &membershipAuthorizer{scopes: scopes}
}

func (a *membershipAuthorizer) Authorize(ctx context.Context, actorID, scopeID string, action domain.Action) error {
	if actorID == "" {
		return fmt.Errorf("%w: anonymous %s", common.ErrAuthorization, action)
	}
	ok, err := a.scopes.IsMember(ctx, scopeID, actorID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s may not %s in %s", common.ErrAuthorization, actorID, action, scopeID)
	}
	return nil
}

type repoProfileLookup struct {
	repo repository.ProfileRepository
}

// NewProfileLookup adapts the profile table to ProfileLookup
func NewProfileLookup(repo repository.ProfileRepository) ProfileLookup {
	return &repoProfileLookup{repo: repo}
}

func (l *repoProfileLookup) LookupProfiles(ctx context.Context, userIDs []string) (map[string]*domain.Profile, error) {
	return l.repo.FindByIDs(ctx, userIDs)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, *domain.Event) {}
