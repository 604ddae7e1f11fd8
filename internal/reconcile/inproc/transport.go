// Package inproc runs a reconcile.Engine against the service layer and the
// scope hub of the same process. Bots and integration tests use it in
// place of the HTTP client.
package inproc

import (
	"bytes"
	"context"

	"github.com/damoang/angple-chat/internal/domain"
	"github.com/damoang/angple-chat/internal/reconcile"
	"github.com/damoang/angple-chat/internal/service"
	"github.com/damoang/angple-chat/internal/ws"
)

// Services bundles what the transport calls into
type Services struct {
	Messages    service.MessageService
	Reactions   *service.ReactionService
	Replies     service.ReplyService
	Attachments service.AttachmentService
	Profiles    service.ProfileLookup // optional
	Hub         *ws.Hub
}

// Transport acts as one user against Services
type Transport struct {
	userID string
	svc    Services
}

var (
	_ reconcile.Transport     = (*Transport)(nil)
	_ reconcile.ProfileLookup = (*Transport)(nil)
)

// NewTransport creates a transport acting as userID
func NewTransport(userID string, svc Services) *Transport {
	return &Transport{userID: userID, svc: svc}
}

func (t *Transport) Append(ctx context.Context, req *domain.AppendRequest) (*domain.Message, error) {
	r := *req
	r.AuthorID = t.userID
	return t.svc.Messages.Append(ctx, &r)
}

func (t *Transport) Upload(ctx context.Context, f *reconcile.File) (*domain.Attachment, error) {
	return t.svc.Attachments.Upload(ctx, &service.Blob{
		Filename: f.Filename,
		Size:     int64(len(f.Data)),
		Body:     bytes.NewReader(f.Data),
		Duration: f.Duration,
	})
}

func (t *Transport) FetchRecent(ctx context.Context, scopeID string, q reconcile.PageQuery) (*domain.MessagePage, error) {
	page, err := t.svc.Messages.FetchRecent(ctx, t.userID, scopeID, service.PageQuery{Limit: q.Limit, Before: q.Before})
	if err != nil {
		return nil, err
	}
	if err := service.EnrichPage(ctx, page, t.userID, t.svc.Reactions, t.svc.Replies); err != nil {
		return nil, err
	}
	return page, nil
}

func (t *Transport) Resolve(ctx context.Context, ids []string) (map[string]*domain.Message, error) {
	return t.svc.Messages.Resolve(ctx, t.userID, ids)
}

func (t *Transport) SetReaction(ctx context.Context, messageID, kind string, active bool) (*domain.ReactionState, error) {
	return t.svc.Reactions.Set(ctx, t.userID, messageID, kind, active)
}

// Subscribe registers on the hub directly; read access is checked by
// fetching a one-message page first
func (t *Transport) Subscribe(ctx context.Context, scopeID string) (reconcile.Stream, error) {
	if _, err := t.svc.Messages.FetchRecent(ctx, t.userID, scopeID, service.PageQuery{Limit: 1}); err != nil {
		return nil, err
	}
	return &stream{sub: t.svc.Hub.Subscribe(scopeID)}, nil
}

// LookupProfiles makes the transport usable as the engine's profile lookup
func (t *Transport) LookupProfiles(ctx context.Context, userIDs []string) (map[string]*domain.Profile, error) {
	if t.svc.Profiles == nil {
		return map[string]*domain.Profile{}, nil
	}
	return t.svc.Profiles.LookupProfiles(ctx, userIDs)
}

type stream struct {
	sub *ws.Subscription
}

func (s *stream) Events() <-chan *domain.Event { return s.sub.C }

func (s *stream) Close() { s.sub.Close() }
