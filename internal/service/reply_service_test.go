package service

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/damoang/angple-chat/internal/domain"
	"github.com/damoang/angple-chat/internal/repository"
	"github.com/damoang/angple-chat/pkg/cache"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type replyFixture struct {
	messages MessageService
	replies  ReplyService
	profiles *MockProfileLookup
	mr       *miniredis.Miniredis
}

func newReplyFixture(t *testing.T) *replyFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	cacheSvc := cache.NewService(client)

	repo := repository.NewMessageRepository(setupTestDB(t))
	auth := allowAll()
	profiles := new(MockProfileLookup)
	return &replyFixture{
		messages: NewMessageService(repo, auth, nil, cacheSvc, testLimits()),
		replies:  NewReplyService(repo, profiles, auth, cacheSvc, 80),
		profiles: profiles,
		mr:       mr,
	}
}

func (f *replyFixture) send(t *testing.T, req *domain.AppendRequest) *domain.Message {
	t.Helper()
	req.ScopeID = "class-1"
	m, err := f.messages.Append(context.Background(), req)
	require.NoError(t, err)
	return m
}

func TestReplyService_PreviewSurvivesTargetDeletion(t *testing.T) {
	f := newReplyFixture(t)
	ctx := context.Background()
	f.profiles.On("LookupProfiles", mock.Anything, []string{"u1"}).
		Return(map[string]*domain.Profile{"u1": {UserID: "u1", DisplayName: "Minji"}}, nil)

	target := f.send(t, &domain.AppendRequest{AuthorID: "u1", SubmissionKey: "t", Body: "original"})
	reply := f.send(t, &domain.AppendRequest{AuthorID: "u2", SubmissionKey: "r", Body: "answer", ReplyToID: &target.ID})

	p, err := f.replies.ResolvePreview(ctx, reply)
	require.NoError(t, err)
	assert.True(t, p.Available)
	assert.Equal(t, "Minji", p.AuthorName)
	assert.Equal(t, "original", p.Snippet)
	assert.True(t, f.mr.Exists(cache.PrefixPreview+target.ID))

	require.NoError(t, f.messages.SoftDelete(ctx, target.ID, "u1"))

	p, err = f.replies.ResolvePreview(ctx, reply)
	require.NoError(t, err)
	assert.False(t, p.Available)
	assert.Equal(t, target.ID, p.MessageID)

	// the referencing message itself is untouched
	got, err := f.messages.Resolve(ctx, "u2", []string{reply.ID})
	require.NoError(t, err)
	require.Contains(t, got, reply.ID)
	assert.False(t, got[reply.ID].IsDeleted())
	assert.Equal(t, target.ID, *got[reply.ID].ReplyToID)
}

func TestReplyService_ResolvePreviewsBatch(t *testing.T) {
	f := newReplyFixture(t)
	ctx := context.Background()
	f.profiles.On("LookupProfiles", mock.Anything, mock.Anything).
		Return(map[string]*domain.Profile{}, nil)

	photo := f.send(t, &domain.AppendRequest{AuthorID: "u9", SubmissionKey: "p", Attachments: []domain.Attachment{
		{URL: "/uploads/cat.png", Kind: domain.AttachmentImage, Filename: "cat.png", Size: 10},
	}})
	plain := f.send(t, &domain.AppendRequest{AuthorID: "u2", SubmissionKey: "x", Body: "not a reply"})
	r1 := f.send(t, &domain.AppendRequest{AuthorID: "u2", SubmissionKey: "r1", Body: "nice", ReplyToID: &photo.ID})
	r2 := f.send(t, &domain.AppendRequest{AuthorID: "u3", SubmissionKey: "r2", Body: "agree", ReplyToID: &photo.ID})

	previews, err := f.replies.ResolvePreviews(ctx, []*domain.Message{plain, r1, r2})
	require.NoError(t, err)
	assert.Len(t, previews, 2)
	assert.NotContains(t, previews, plain.ID)
	assert.Equal(t, "Photo cat.png", previews[r1.ID].Snippet)
	assert.Equal(t, domain.UnknownAuthor, previews[r2.ID].AuthorName)

	none, err := f.replies.ResolvePreview(ctx, plain)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestReplyService_ProfileFailureIsNotCached(t *testing.T) {
	f := newReplyFixture(t)
	ctx := context.Background()
	f.profiles.On("LookupProfiles", mock.Anything, mock.Anything).
		Return(nil, errors.New("profile service down"))

	target := f.send(t, &domain.AppendRequest{AuthorID: "u1", SubmissionKey: "t", Body: "hi"})

	p, err := f.replies.PreviewOf(ctx, "u2", target.ID)
	require.NoError(t, err)
	assert.True(t, p.Available)
	assert.Equal(t, domain.UnknownAuthor, p.AuthorName)
	assert.False(t, f.mr.Exists(cache.PrefixPreview+target.ID))

	missing, err := f.replies.PreviewOf(ctx, "u2", "nope")
	require.NoError(t, err)
	assert.False(t, missing.Available)
}
