package repository

import (
	"context"

	"github.com/damoang/angple-chat/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProfileRepository reads author display identities
type ProfileRepository interface {
	FindByIDs(ctx context.Context, userIDs []string) (map[string]*domain.Profile, error)
	Upsert(ctx context.Context, p *domain.Profile) error
}

type profileRepository struct {
	db *gorm.DB
}

// NewProfileRepository creates a new ProfileRepository
func NewProfileRepository(db *gorm.DB) ProfileRepository {
	return &profileRepository{db: db}
}

func (r *profileRepository) FindByIDs(ctx context.Context, userIDs []string) (map[string]*domain.Profile, error) {
	result := make(map[string]*domain.Profile, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}
	var rows []*domain.Profile
	if err := r.db.WithContext(ctx).Where("user_id IN ?", userIDs).Find(&rows).Error; err != nil {
		return nil, mapDBError(err)
	}
	for _, p := range rows {
		result[p.UserID] = p
	}
	return result, nil
}

func (r *profileRepository) Upsert(ctx context.Context, p *domain.Profile) error {
	return mapDBError(r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "avatar_url"}),
	}).Create(p).Error)
}
