package repository

import (
	"context"
	"fmt"

	"github.com/damoang/angple-chat/internal/common"
	"github.com/damoang/angple-chat/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReactionRepository handles reaction membership and counter operations.
// Counters only move when a membership row is actually inserted or deleted,
// which keeps count == |members| under retries and duplicates.
type ReactionRepository struct {
	db *gorm.DB
}

// NewReactionRepository creates a new ReactionRepository
func NewReactionRepository(db *gorm.DB) *ReactionRepository {
	return &ReactionRepository{db: db}
}

// ReactionResult is the outcome of a set or toggle
type ReactionResult struct {
	ScopeID string
	State   domain.ReactionState
	Changed bool
}

// Set makes the membership of (messageID, userID, kind) equal to active.
// Repeating the same call is a no-op.
func (r *ReactionRepository) Set(ctx context.Context, messageID, userID, kind string, active bool) (*ReactionResult, error) {
	var out *ReactionResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scopeID, err := liveMessageScope(tx, messageID)
		if err != nil {
			return err
		}
		out, err = setMembership(tx, scopeID, messageID, userID, kind, active)
		return err
	})
	if err != nil {
		return nil, mapDBError(err)
	}
	return out, nil
}

// Toggle flips the caller's membership and returns the new state
func (r *ReactionRepository) Toggle(ctx context.Context, messageID, userID, kind string) (*ReactionResult, error) {
	var out *ReactionResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scopeID, err := liveMessageScope(tx, messageID)
		if err != nil {
			return err
		}
		var n int64
		if err := tx.Model(&domain.ReactionMembership{}).
			Where("message_id = ? AND user_id = ? AND kind = ?", messageID, userID, kind).
			Count(&n).Error; err != nil {
			return err
		}
		out, err = setMembership(tx, scopeID, messageID, userID, kind, n == 0)
		return err
	})
	if err != nil {
		return nil, mapDBError(err)
	}
	return out, nil
}

func liveMessageScope(tx *gorm.DB, messageID string) (string, error) {
	var rows []domain.Message
	if err := tx.Select("id", "scope_id", "deleted_at").
		Where("id = ?", messageID).Limit(1).Find(&rows).Error; err != nil {
		return "", err
	}
	if len(rows) == 0 || rows[0].IsDeleted() {
		return "", fmt.Errorf("%w: message %s", common.ErrNotFound, messageID)
	}
	return rows[0].ScopeID, nil
}

func setMembership(tx *gorm.DB, scopeID, messageID, userID, kind string, active bool) (*ReactionResult, error) {
	var changed bool
	if active {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&domain.ReactionMembership{
			MessageID: messageID,
			UserID:    userID,
			Kind:      kind,
		})
		if res.Error != nil {
			return nil, res.Error
		}
		changed = res.RowsAffected == 1
		if changed {
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "message_id"}, {Name: "kind"}},
				DoUpdates: clause.Assignments(map[string]interface{}{
					"reaction_count": gorm.Expr("reaction_count + 1"),
					"version":        gorm.Expr("version + 1"),
				}),
			}).Create(&domain.ReactionCount{MessageID: messageID, Kind: kind, Count: 1, Version: 1}).Error; err != nil {
				return nil, err
			}
		}
	} else {
		res := tx.Where("message_id = ? AND user_id = ? AND kind = ?", messageID, userID, kind).
			Delete(&domain.ReactionMembership{})
		if res.Error != nil {
			return nil, res.Error
		}
		changed = res.RowsAffected == 1
		if changed {
			// 0이 되어도 행은 남긴다 (version 유지)
			if err := tx.Model(&domain.ReactionCount{}).
				Where("message_id = ? AND kind = ? AND reaction_count > 0", messageID, kind).
				Updates(map[string]interface{}{
					"reaction_count": gorm.Expr("reaction_count - 1"),
					"version":        gorm.Expr("version + 1"),
				}).Error; err != nil {
				return nil, err
			}
		}
	}

	agg, err := kindCount(tx, messageID, kind)
	if err != nil {
		return nil, err
	}
	return &ReactionResult{
		ScopeID: scopeID,
		State:   domain.ReactionState{Active: active, Count: agg.Count, Version: agg.Version},
		Changed: changed,
	}, nil
}

// kindCount returns the aggregate row, zero valued when absent
func kindCount(tx *gorm.DB, messageID, kind string) (domain.ReactionCount, error) {
	var rows []domain.ReactionCount
	if err := tx.Where("message_id = ? AND kind = ?", messageID, kind).
		Limit(1).Find(&rows).Error; err != nil {
		return domain.ReactionCount{}, err
	}
	if len(rows) == 0 {
		return domain.ReactionCount{MessageID: messageID, Kind: kind}, nil
	}
	return rows[0], nil
}

// Summaries retrieves per-kind counts for messageIDs, marking the viewer's own reactions
func (r *ReactionRepository) Summaries(ctx context.Context, messageIDs []string, viewerID string) (map[string][]domain.ReactionItem, error) {
	result := make(map[string][]domain.ReactionItem)
	if len(messageIDs) == 0 {
		return result, nil
	}
	db := r.db.WithContext(ctx)

	var counts []domain.ReactionCount
	if err := db.Where("message_id IN ? AND reaction_count > 0", messageIDs).
		Order("id ASC").
		Find(&counts).Error; err != nil {
		return nil, mapDBError(err)
	}

	mine := make(map[string]map[string]bool)
	if viewerID != "" {
		var own []domain.ReactionMembership
		if err := db.Where("user_id = ? AND message_id IN ?", viewerID, messageIDs).
			Find(&own).Error; err != nil {
			return nil, mapDBError(err)
		}
		for _, m := range own {
			if mine[m.MessageID] == nil {
				mine[m.MessageID] = make(map[string]bool)
			}
			mine[m.MessageID][m.Kind] = true
		}
	}

	for _, c := range counts {
		item := domain.ParseReaction(c.Kind, c.Count)
		item.Mine = mine[c.MessageID][c.Kind]
		item.Version = c.Version
		result[c.MessageID] = append(result[c.MessageID], item)
	}
	return result, nil
}

// KindCount counts distinct reaction kinds currently present on messageID
func (r *ReactionRepository) KindCount(ctx context.Context, messageID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.ReactionCount{}).
		Where("message_id = ? AND reaction_count > 0", messageID).
		Count(&n).Error
	return n, mapDBError(err)
}

// HasKind checks if kind is already present on messageID
func (r *ReactionRepository) HasKind(ctx context.Context, messageID, kind string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.ReactionCount{}).
		Where("message_id = ? AND kind = ? AND reaction_count > 0", messageID, kind).
		Count(&n).Error
	return n > 0, mapDBError(err)
}
