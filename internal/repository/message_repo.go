package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/damoang/angple-chat/internal/common"
	"github.com/damoang/angple-chat/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MessageRepository message log data access interface
type MessageRepository interface {
	// Append persists req at nowUS (unix micros). replayed is true when the
	// (scope, author, submission key) already existed; the stored record is
	// returned unchanged in that case.
	Append(ctx context.Context, req *domain.AppendRequest, nowUS int64) (msg *domain.Message, replayed bool, err error)
	// FetchPage returns up to limit non-deleted messages strictly older
	// than before (nil = newest), ordered oldest to newest.
	FetchPage(ctx context.Context, scopeID string, limit int, before *Cursor) ([]*domain.Message, bool, error)
	// FetchAfter returns up to limit non-deleted messages strictly newer
	// than after, ordered oldest to newest.
	FetchAfter(ctx context.Context, scopeID string, limit int, after *Cursor) ([]*domain.Message, bool, error)
	// FindByID includes tombstoned rows
	FindByID(ctx context.Context, id string) (*domain.Message, error)
	// FindByIDs includes tombstoned rows; unknown ids are absent from the map
	FindByIDs(ctx context.Context, ids []string) (map[string]*domain.Message, error)
	// SoftDelete sets deleted_at once; false when already deleted
	SoftDelete(ctx context.Context, id string, atUS int64) (bool, error)
	// HardDelete removes the row and its reactions and returns what was
	// removed. Replies keep their reply_to_id.
	HardDelete(ctx context.Context, id string) (*domain.Message, error)
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository creates a new MessageRepository
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Append(ctx context.Context, req *domain.AppendRequest, nowUS int64) (*domain.Message, bool, error) {
	var (
		out      *domain.Message
		replayed bool
	)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Advancing the high-water mark first takes the scope row lock, so
		// everything below is serialized per scope.
		res := tx.Model(&domain.Scope{}).
			Where("id = ?", req.ScopeID).
			Update("last_message_at", gorm.Expr(
				"CASE WHEN last_message_at >= ? THEN last_message_at + 1 ELSE ? END", nowUS, nowUS))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: scope %s", common.ErrNotFound, req.ScopeID)
		}

		existing, err := findSubmission(tx, req.ScopeID, req.AuthorID, req.SubmissionKey)
		if err != nil {
			return err
		}
		if existing != nil {
			out, replayed = existing, true
			return nil
		}

		if req.SessionID != "" {
			if err := advanceSession(tx, req.SessionID, req.ScopeID, req.Seq); err != nil {
				return err
			}
		}

		if req.ReplyToID != nil {
			var target domain.Message
			err := tx.Select("id", "scope_id", "deleted_at").
				Where("id = ?", *req.ReplyToID).First(&target).Error
			if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && (target.ScopeID != req.ScopeID || target.IsDeleted())) {
				return fmt.Errorf("%w: reply target %s", common.ErrNotFound, *req.ReplyToID)
			}
			if err != nil {
				return err
			}
		}

		var createdAt int64
		if err := tx.Model(&domain.Scope{}).Select("last_message_at").
			Where("id = ?", req.ScopeID).Scan(&createdAt).Error; err != nil {
			return err
		}

		msg := &domain.Message{
			ID:            uuid.NewString(),
			ScopeID:       req.ScopeID,
			AuthorID:      req.AuthorID,
			SubmissionKey: req.SubmissionKey,
			Body:          req.Body,
			Attachments:   req.Attachments,
			ReplyToID:     req.ReplyToID,
			CreatedAt:     createdAt,
		}
		if msg.Attachments == nil {
			msg.Attachments = []domain.Attachment{}
		}
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		out = msg
		return nil
	})

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// lost a race on the submission index from another writer
		existing, ferr := findSubmission(r.db.WithContext(ctx), req.ScopeID, req.AuthorID, req.SubmissionKey)
		if ferr == nil && existing != nil {
			return existing, true, nil
		}
		return nil, false, fmt.Errorf("%w: duplicate submission %s", common.ErrConflict, req.SubmissionKey)
	}
	if err != nil {
		return nil, false, mapDBError(err)
	}
	return out, replayed, nil
}

func findSubmission(tx *gorm.DB, scopeID, authorID, key string) (*domain.Message, error) {
	var rows []*domain.Message
	if err := tx.Where("scope_id = ? AND author_id = ? AND submission_key = ?", scopeID, authorID, key).
		Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// advanceSession rejects a seq at or below the session's last accepted one
func advanceSession(tx *gorm.DB, sessionID, scopeID string, seq int64) error {
	var cur []domain.SessionCursor
	if err := tx.Where("session_id = ? AND scope_id = ?", sessionID, scopeID).
		Limit(1).Find(&cur).Error; err != nil {
		return err
	}
	if len(cur) > 0 && seq <= cur[0].LastSeq {
		return fmt.Errorf("%w: seq %d not after %d for session %s", common.ErrConflict, seq, cur[0].LastSeq, sessionID)
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}, {Name: "scope_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_seq"}),
	}).Create(&domain.SessionCursor{SessionID: sessionID, ScopeID: scopeID, LastSeq: seq}).Error
}

func (r *messageRepository) FetchPage(ctx context.Context, scopeID string, limit int, before *Cursor) ([]*domain.Message, bool, error) {
	q := r.db.WithContext(ctx).Where("scope_id = ? AND deleted_at IS NULL", scopeID)
	if before != nil {
		q = q.Where("(created_at < ? OR (created_at = ? AND id < ?))", before.CreatedAt, before.CreatedAt, before.ID)
	}

	var rows []*domain.Message
	if err := q.Order("created_at DESC, id DESC").Limit(limit + 1).Find(&rows).Error; err != nil {
		return nil, false, mapDBError(err)
	}

	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}
	// newest first from the query, callers render oldest first
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, hasMore, nil
}

func (r *messageRepository) FetchAfter(ctx context.Context, scopeID string, limit int, after *Cursor) ([]*domain.Message, bool, error) {
	q := r.db.WithContext(ctx).Where("scope_id = ? AND deleted_at IS NULL", scopeID)
	if after != nil {
		q = q.Where("(created_at > ? OR (created_at = ? AND id > ?))", after.CreatedAt, after.CreatedAt, after.ID)
	}

	var rows []*domain.Message
	if err := q.Order("created_at ASC, id ASC").Limit(limit + 1).Find(&rows).Error; err != nil {
		return nil, false, mapDBError(err)
	}
	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}
	return rows, hasMore, nil
}

func (r *messageRepository) FindByID(ctx context.Context, id string) (*domain.Message, error) {
	var msg domain.Message
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&msg).Error; err != nil {
		return nil, mapDBError(err)
	}
	return &msg, nil
}

func (r *messageRepository) FindByIDs(ctx context.Context, ids []string) (map[string]*domain.Message, error) {
	result := make(map[string]*domain.Message, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var rows []*domain.Message
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, mapDBError(err)
	}
	for _, m := range rows {
		result[m.ID] = m
	}
	return result, nil
}

func (r *messageRepository) SoftDelete(ctx context.Context, id string, atUS int64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Message{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Update("deleted_at", atUS)
	if res.Error != nil {
		return false, mapDBError(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *messageRepository) HardDelete(ctx context.Context, id string) (*domain.Message, error) {
	var removed domain.Message
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&removed).Error; err != nil {
			return err
		}
		if err := tx.Where("message_id = ?", id).Delete(&domain.ReactionMembership{}).Error; err != nil {
			return err
		}
		if err := tx.Where("message_id = ?", id).Delete(&domain.ReactionCount{}).Error; err != nil {
			return err
		}
		return tx.Delete(&domain.Message{}, "id = ?", id).Error
	})
	if err != nil {
		return nil, mapDBError(err)
	}
	return &removed, nil
}
