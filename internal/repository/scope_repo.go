package repository

import (
	"context"

	"github.com/damoang/angple-chat/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ScopeRepository scope and membership data access interface
type ScopeRepository interface {
	FindByID(ctx context.Context, id string) (*domain.Scope, error)
	Create(ctx context.Context, scope *domain.Scope) error
	AddMember(ctx context.Context, scopeID, userID string) error
	// IsMember reports whether userID may act in a scope; scopes without
	// member rows are open.
	IsMember(ctx context.Context, scopeID, userID string) (bool, error)
}

type scopeRepository struct {
	db *gorm.DB
}

// NewScopeRepository creates a new ScopeRepository
func NewScopeRepository(db *gorm.DB) ScopeRepository {
	return &scopeRepository{db: db}
}

func (r *scopeRepository) FindByID(ctx context.Context, id string) (*domain.Scope, error) {
	var scope domain.Scope
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&scope).Error; err != nil {
		return nil, mapDBError(err)
	}
	return &scope, nil
}

func (r *scopeRepository) Create(ctx context.Context, scope *domain.Scope) error {
	return mapDBError(r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(scope).Error)
}

func (r *scopeRepository) AddMember(ctx context.Context, scopeID, userID string) error {
	return mapDBError(r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&domain.ScopeMember{ScopeID: scopeID, UserID: userID}).Error)
}

func (r *scopeRepository) IsMember(ctx context.Context, scopeID, userID string) (bool, error) {
	var total, mine int64
	db := r.db.WithContext(ctx).Model(&domain.ScopeMember{})
	if err := db.Where("scope_id = ?", scopeID).Count(&total).Error; err != nil {
		return false, mapDBError(err)
	}
	if total == 0 {
		return true, nil
	}
	if err := r.db.WithContext(ctx).Model(&domain.ScopeMember{}).
		Where("scope_id = ? AND user_id = ?", scopeID, userID).
		Count(&mine).Error; err != nil {
		return false, mapDBError(err)
	}
	return mine > 0, nil
}
