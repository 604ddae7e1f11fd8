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
	"gorm.io/gorm"
)

func seedMessage(t *testing.T, db *gorm.DB, scopeID string) *domain.Message {
	t.Helper()
	m, _, err := NewMessageRepository(db).Append(context.Background(), appendReq(scopeID, "author", "seed"), 1)
	require.NoError(t, err)
	return m
}

func storedCount(t *testing.T, db *gorm.DB, messageID, kind string) (count int, members int64) {
	t.Helper()
	agg, err := kindCount(db, messageID, kind)
	require.NoError(t, err)
	count = agg.Count
	db.Model(&domain.ReactionMembership{}).Where("message_id = ? AND kind = ?", messageID, kind).Count(&members)
	return count, members
}

func TestReactionRepository_SetIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	seedScope(t, db, "class-1")
	msg := seedMessage(t, db, "class-1")
	repo := NewReactionRepository(db)
	ctx := context.Background()

	res, err := repo.Set(ctx, msg.ID, "u1", "emoji:like", true)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, "class-1", res.ScopeID)
	assert.Equal(t, domain.ReactionState{Active: true, Count: 1, Version: 1}, res.State)

	// duplicate delivery of the same intent
	res, err = repo.Set(ctx, msg.ID, "u1", "emoji:like", true)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, 1, res.State.Count)
	assert.Equal(t, int64(1), res.State.Version)

	res, err = repo.Set(ctx, msg.ID, "u1", "emoji:like", false)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, domain.ReactionState{Active: false, Count: 0, Version: 2}, res.State)

	res, err = repo.Set(ctx, msg.ID, "u1", "emoji:like", false)
	require.NoError(t, err)
	assert.False(t, res.Changed)

	count, members := storedCount(t, db, msg.ID, "emoji:like")
	assert.Equal(t, 0, count)
	assert.Equal(t, int64(0), members)
}

func TestReactionRepository_Toggle(t *testing.T) {
	db := setupTestDB(t)
	seedScope(t, db, "class-1")
	msg := seedMessage(t, db, "class-1")
	repo := NewReactionRepository(db)
	ctx := context.Background()

	res, err := repo.Toggle(ctx, msg.ID, "u1", "heart")
	require.NoError(t, err)
	assert.True(t, res.State.Active)

	_, err = repo.Toggle(ctx, msg.ID, "u2", "heart")
	require.NoError(t, err)

	res, err = repo.Toggle(ctx, msg.ID, "u1", "heart")
	require.NoError(t, err)
	assert.False(t, res.State.Active)
	assert.Equal(t, 1, res.State.Count)

	var members []string
	require.NoError(t, db.Model(&domain.ReactionMembership{}).
		Where("message_id = ? AND kind = ?", msg.ID, "heart").Pluck("user_id", &members).Error)
	assert.Equal(t, []string{"u2"}, members)
}

func TestReactionRepository_CountMatchesMembersUnderConcurrency(t *testing.T) {
	db := setupTestDB(t)
	seedScope(t, db, "campus")
	msg := seedMessage(t, db, "campus")
	repo := NewReactionRepository(db)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("u%d", i%5)
			_, err := repo.Set(ctx, msg.ID, user, "like", i%2 == 0)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	count, members := storedCount(t, db, msg.ID, "like")
	assert.Equal(t, int64(count), members)
}

func TestReactionRepository_RejectsDeletedOrMissing(t *testing.T) {
	db := setupTestDB(t)
	seedScope(t, db, "class-1")
	msg := seedMessage(t, db, "class-1")
	repo := NewReactionRepository(db)
	ctx := context.Background()

	_, err := repo.Set(ctx, "missing", "u1", "like", true)
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = NewMessageRepository(db).SoftDelete(ctx, msg.ID, 5)
	require.NoError(t, err)

	_, err = repo.Toggle(ctx, msg.ID, "u1", "like")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestReactionRepository_Summaries(t *testing.T) {
	db := setupTestDB(t)
	seedScope(t, db, "class-1")
	msg := seedMessage(t, db, "class-1")
	repo := NewReactionRepository(db)
	ctx := context.Background()

	_, err := repo.Set(ctx, msg.ID, "u1", "emoji:like", true)
	require.NoError(t, err)
	_, err = repo.Set(ctx, msg.ID, "u2", "emoji:like", true)
	require.NoError(t, err)
	_, err = repo.Set(ctx, msg.ID, "u2", "laugh", true)
	require.NoError(t, err)

	got, err := repo.Summaries(ctx, []string{msg.ID}, "u1")
	require.NoError(t, err)
	items := got[msg.ID]
	require.Len(t, items, 2)
	assert.Equal(t, "emoji", items[0].Category)
	assert.Equal(t, "like", items[0].ReactionID)
	assert.Equal(t, 2, items[0].Count)
	assert.True(t, items[0].Mine)
	assert.Equal(t, "laugh", items[1].Kind)
	assert.False(t, items[1].Mine)
}
