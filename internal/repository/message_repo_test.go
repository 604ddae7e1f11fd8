package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/damoang/angple-chat/internal/common"
	"github.com/damoang/angple-chat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendReq(scope, author, key string) *domain.AppendRequest {
	return &domain.AppendRequest{ScopeID: scope, AuthorID: author, SubmissionKey: key, Body: "hi " + key}
}

func TestMessageRepository_AppendAssignsIncreasingTimestamps(t *testing.T) {
	db := setupTestDB(t)
	seedScope(t, db, "class-1")
	repo := NewMessageRepository(db)
	ctx := context.Background()

	// same wall clock for every append: the store still totally orders them
	var prev *domain.Message
	for i := 0; i < 5; i++ {
		msg, replayed, err := repo.Append(ctx, appendReq("class-1", "u1", fmt.Sprintf("k%d", i)), 1_000)
		require.NoError(t, err)
		assert.False(t, replayed)
		assert.NotEmpty(t, msg.ID)
		if prev != nil {
			assert.Greater(t, msg.CreatedAt, prev.CreatedAt)
		}
		prev = msg
	}
	assert.Equal(t, int64(1_004), prev.CreatedAt)

	// a later clock jumps forward instead of incrementing
	msg, _, err := repo.Append(ctx, appendReq("class-1", "u1", "later"), 5_000)
	require.NoError(t, err)
	assert.Equal(t, int64(5_000), msg.CreatedAt)
}

func TestMessageRepository_AppendIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	seedScope(t, db, "class-1")
	repo := NewMessageRepository(db)
	ctx := context.Background()

	first, replayed, err := repo.Append(ctx, appendReq("class-1", "u1", "same"), 10)
	require.NoError(t, err)
	assert.False(t, replayed)

	again, replayed, err := repo.Append(ctx, appendReq("class-1", "u1", "same"), 20)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, first.CreatedAt, again.CreatedAt)

	// another author may reuse the key
	other, replayed, err := repo.Append(ctx, appendReq("class-1", "u2", "same"), 30)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.NotEqual(t, first.ID, other.ID)

	var n int64
	db.Model(&domain.Message{}).Count(&n)
	assert.Equal(t, int64(2), n)
}

func TestMessageRepository_AppendErrors(t *testing.T) {
	db := setupTestDB(t)
	seedScope(t, db, "class-1")
	seedScope(t, db, "class-2")
	repo := NewMessageRepository(db)
	ctx := context.Background()

	foreign, _, err := repo.Append(ctx, appendReq("class-2", "u1", "x"), 1)
	require.NoError(t, err)
	gone, _, err := repo.Append(ctx, appendReq("class-1", "u1", "gone"), 2)
	require.NoError(t, err)
	_, err = repo.SoftDelete(ctx, gone.ID, 3)
	require.NoError(t, err)

	missing := "does-not-exist"
	tests := []struct {
		name string
		req  *domain.AppendRequest
		want error
	}{
		{"unknown scope", appendReq("nope", "u1", "a"), common.ErrNotFound},
		{"missing reply target", func() *domain.AppendRequest {
			r := appendReq("class-1", "u1", "b")
			r.ReplyToID = &missing
			return r
		}(), common.ErrNotFound},
		{"reply target in another scope", func() *domain.AppendRequest {
			r := appendReq("class-1", "u1", "c")
			r.ReplyToID = &foreign.ID
			return r
		}(), common.ErrNotFound},
		{"deleted reply target", func() *domain.AppendRequest {
			r := appendReq("class-1", "u1", "d")
			r.ReplyToID = &gone.ID
			return r
		}(), common.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := repo.Append(ctx, tt.req, 10)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestMessageRepository_SessionSeqGuard(t *testing.T) {
	db := setupTestDB(t)
	seedScope(t, db, "class-1")
	repo := NewMessageRepository(db)
	ctx := context.Background()

	withSeq := func(key string, seq int64) *domain.AppendRequest {
		r := appendReq("class-1", "u1", key)
		r.SessionID = "s1"
		r.Seq = seq
		return r
	}

	_, _, err := repo.Append(ctx, withSeq("a", 1), 1)
	require.NoError(t, err)
	_, _, err = repo.Append(ctx, withSeq("b", 3), 2)
	require.NoError(t, err)

	_, _, err = repo.Append(ctx, withSeq("c", 2), 3)
	assert.ErrorIs(t, err, common.ErrConflict)

	// a replay is answered before the seq check
	_, replayed, err := repo.Append(ctx, withSeq("a", 1), 4)
	require.NoError(t, err)
	assert.True(t, replayed)

	var n int64
	db.Model(&domain.Message{}).Count(&n)
	assert.Equal(t, int64(2), n)
}

func TestMessageRepository_ConcurrentAppendsTotallyOrdered(t *testing.T) {
	db := setupTestDB(t)
	seedScope(t, db, "campus")
	repo := NewMessageRepository(db)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := repo.Append(ctx, appendReq("campus", fmt.Sprintf("u%d", i%3), fmt.Sprintf("k%d", i)), 100)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	rows, hasMore, err := repo.FetchPage(ctx, "campus", 50, nil)
	require.NoError(t, err)
	assert.False(t, hasMore)
	require.Len(t, rows, 20)
	seen := map[int64]bool{}
	for i, m := range rows {
		assert.False(t, seen[m.CreatedAt], "duplicate created_at")
		seen[m.CreatedAt] = true
		if i > 0 {
			assert.True(t, rows[i-1].Before(m))
		}
	}
}

func TestMessageRepository_FetchPage(t *testing.T) {
	db := setupTestDB(t)
	seedScope(t, db, "class-1")
	repo := NewMessageRepository(db)
	ctx := context.Background()

	var all []*domain.Message
	for i := 0; i < 7; i++ {
		m, _, err := repo.Append(ctx, appendReq("class-1", "u1", fmt.Sprintf("k%d", i)), int64(i*10+1))
		require.NoError(t, err)
		all = append(all, m)
	}
	_, err := repo.SoftDelete(ctx, all[2].ID, 999)
	require.NoError(t, err)

	page1, hasMore, err := repo.FetchPage(ctx, "class-1", 3, nil)
	require.NoError(t, err)
	assert.True(t, hasMore)
	assert.Equal(t, []string{all[4].ID, all[5].ID, all[6].ID}, ids(page1))

	// inserting after the cursor was taken must not shift older pages
	_, _, err = repo.Append(ctx, appendReq("class-1", "u1", "new"), 1_000)
	require.NoError(t, err)

	page2, hasMore, err := repo.FetchPage(ctx, "class-1", 3, CursorOf(page1[0]))
	require.NoError(t, err)
	assert.False(t, hasMore)
	assert.Equal(t, []string{all[0].ID, all[1].ID, all[3].ID}, ids(page2))

	newer, hasMore, err := repo.FetchAfter(ctx, "class-1", 10, CursorOf(all[5]))
	require.NoError(t, err)
	assert.False(t, hasMore)
	require.Len(t, newer, 2)
	assert.Equal(t, all[6].ID, newer[0].ID)
	assert.Equal(t, "hi new", newer[1].Body)
}

func TestMessageRepository_SoftDeleteAndLookup(t *testing.T) {
	db := setupTestDB(t)
	seedScope(t, db, "class-1")
	repo := NewMessageRepository(db)
	ctx := context.Background()

	m, _, err := repo.Append(ctx, &domain.AppendRequest{
		ScopeID: "class-1", AuthorID: "u1", SubmissionKey: "k",
		Attachments: []domain.Attachment{{URL: "/uploads/a.png", Kind: domain.AttachmentImage, Filename: "a.png", Size: 3}},
	}, 1)
	require.NoError(t, err)

	changed, err := repo.SoftDelete(ctx, m.ID, 50)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = repo.SoftDelete(ctx, m.ID, 60)
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := repo.FindByID(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, got.DeletedAt)
	assert.Equal(t, int64(50), *got.DeletedAt)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, "a.png", got.Attachments[0].Filename)

	_, err = repo.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)

	found, err := repo.FindByIDs(ctx, []string{m.ID, "missing"})
	require.NoError(t, err)
	assert.Len(t, found, 1)
	assert.True(t, found[m.ID].IsDeleted())
}

func ids(ms []*domain.Message) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}

func TestMessageRepository_HardDelete(t *testing.T) {
	db := setupTestDB(t)
	seedScope(t, db, "class-1")
	repo := NewMessageRepository(db)
	reactions := NewReactionRepository(db)
	ctx := context.Background()

	target, _, err := repo.Append(ctx, &domain.AppendRequest{ScopeID: "class-1", AuthorID: "u1", SubmissionKey: "a", Body: "target"}, 1)
	require.NoError(t, err)
	reply, _, err := repo.Append(ctx, &domain.AppendRequest{ScopeID: "class-1", AuthorID: "u2", SubmissionKey: "b", Body: "reply", ReplyToID: &target.ID}, 2)
	require.NoError(t, err)
	_, err = reactions.Set(ctx, target.ID, "u2", "like", true)
	require.NoError(t, err)

	removed, err := repo.HardDelete(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, "target", removed.Body)

	_, err = repo.FindByID(ctx, target.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, err = repo.HardDelete(ctx, target.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)

	var memberships, counts int64
	require.NoError(t, db.Model(&domain.ReactionMembership{}).Where("message_id = ?", target.ID).Count(&memberships).Error)
	require.NoError(t, db.Model(&domain.ReactionCount{}).Where("message_id = ?", target.ID).Count(&counts).Error)
	assert.Zero(t, memberships)
	assert.Zero(t, counts)

	got, err := repo.FindByID(ctx, reply.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ReplyToID)
	assert.Equal(t, target.ID, *got.ReplyToID)
}
