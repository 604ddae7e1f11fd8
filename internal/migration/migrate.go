package migration

import (
	"github.com/damoang/angple-chat/internal/domain"
	"gorm.io/gorm"
)

// Models lists every table owned by the chat service
func Models() []interface{} {
	return []interface{}{
		&domain.Scope{},
		&domain.ScopeMember{},
		&domain.SessionCursor{},
		&domain.Message{},
		&domain.ReactionMembership{},
		&domain.ReactionCount{},
		&domain.Profile{},
	}
}

// Run executes AutoMigrate for the chat tables and seeds the campus scope if empty.
func Run(db *gorm.DB) error {
	// 1. AutoMigrate - 테이블 없으면 생성, 있으면 컬럼/인덱스만 추가
	if err := db.AutoMigrate(Models()...); err != nil {
		return err
	}

	// 2. Seed - chat_scopes 테이블이 비어있을 때만 기본 캠퍼스 채팅방 삽입
	var count int64
	if err := db.Model(&domain.Scope{}).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return seedScopes(db)
	}
	return nil
}

func seedScopes(db *gorm.DB) error {
	scopes := []domain.Scope{
		{ID: "campus", Kind: domain.ScopeCampus, Name: "캠퍼스 라운지"},
	}
	return db.Create(&scopes).Error
}
