package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"creditledger/internal/model"

	"github.com/go-redis/redis/v8"
)

var ErrSessionNotFound = errors.New("会话不存在")

const sessionKeyPrefix = "admin:session:"

// SessionStore 管理员会话存储
type SessionStore interface {
	Save(ctx context.Context, session *model.AdminSession, ttl time.Duration) error
	Get(ctx context.Context, token string) (*model.AdminSession, error)
	Delete(ctx context.Context, token string) error
}

// RedisSessionStore 会话以 JSON 存放在 admin:session:<token>，Redis TTL 与会话有效期一致
type RedisSessionStore struct {
	client *redis.Client
}

func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

func (s *RedisSessionStore) Save(ctx context.Context, session *model.AdminSession, ttl time.Duration) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, sessionKeyPrefix+session.Token, data, ttl).Err()
}

func (s *RedisSessionStore) Get(ctx context.Context, token string) (*model.AdminSession, error) {
	data, err := s.client.Get(ctx, sessionKeyPrefix+token).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	var session model.AdminSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, token string) error {
	return s.client.Del(ctx, sessionKeyPrefix+token).Err()
}
