package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TTL 상수 정의
const (
	TTLPreview = 10 * time.Minute // 답장 미리보기 (원본 삭제 시 무효화)
	TTLDefault = 5 * time.Minute
)

// 캐시 키 접두사
const (
	PrefixPreview = "chat:preview:"
)

// ErrMiss is returned when the key is absent or the cache is disabled
var ErrMiss = errors.New("cache miss")

// Service Redis 캐시 서비스 인터페이스
type Service interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error

	// 답장 미리보기 캐시
	GetPreview(ctx context.Context, messageID string, dest interface{}) error
	SetPreview(ctx context.Context, messageID string, data interface{}) error
	InvalidatePreview(ctx context.Context, messageID string) error

	IsAvailable() bool
	Ping(ctx context.Context) error
}

// redisCache Redis 기반 캐시 구현
type redisCache struct {
	client *redis.Client
}

// NewService 새로운 캐시 서비스 생성. nil client gives a no-op cache.
func NewService(client *redis.Client) Service {
	return &redisCache{client: client}
}

// IsAvailable Redis 연결 가능 여부
func (c *redisCache) IsAvailable() bool {
	return c.client != nil
}

// Ping Redis 연결 테스트
func (c *redisCache) Ping(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	return c.client.Ping(ctx).Err()
}

// Get 캐시에서 값 조회
func (c *redisCache) Get(ctx context.Context, key string, dest interface{}) error {
	if c.client == nil {
		return ErrMiss
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return err
	}

	return json.Unmarshal(data, dest)
}

// Set 캐시에 값 저장
func (c *redisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if c.client == nil {
		return nil // Redis 없으면 무시
	}

	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	return c.client.Set(ctx, key, data, ttl).Err()
}

// Delete 캐시 삭제
func (c *redisCache) Delete(ctx context.Context, keys ...string) error {
	if c.client == nil || len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *redisCache) previewKey(messageID string) string {
	return PrefixPreview + messageID
}

func (c *redisCache) GetPreview(ctx context.Context, messageID string, dest interface{}) error {
	return c.Get(ctx, c.previewKey(messageID), dest)
}

func (c *redisCache) SetPreview(ctx context.Context, messageID string, data interface{}) error {
	return c.Set(ctx, c.previewKey(messageID), data, TTLPreview)
}

func (c *redisCache) InvalidatePreview(ctx context.Context, messageID string) error {
	return c.Delete(ctx, c.previewKey(messageID))
}
