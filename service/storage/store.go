package storage

import (
	"context"
	"fmt"
	"sync"

	"DMProject/global/config"
	rds "DMProject/service/storage/redis"
)

// Credential keys shared with the mobile app's secure store.
const (
	KeyToken     = "userToken"
	KeyUserID    = "userId"
	KeySocietyID = "societyId"
)

// Store is a small key-value store for session credentials. Get returns "" for
// an absent key.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

type MemStore struct {
	mu sync.RWMutex
	kv map[string]string
}

func NewMemStore() *MemStore { return &MemStore{kv: map[string]string{}} }

func (s *MemStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.kv[key], nil
}

func (s *MemStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	s.kv[key] = value
	s.mu.Unlock()
	return nil
}

func (s *MemStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.kv, key)
	s.mu.Unlock()
	return nil
}

// Open builds the store named by cfg.Kind.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Kind {
	case "", config.StoreMemory:
		return NewMemStore(), nil
	case config.StoreFile:
		return NewFileStore(cfg.Path), nil
	case config.StoreRedis:
		rdb, err := rds.NewClient(ctx, rds.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			return nil, fmt.Errorf("redis store %s: %w", cfg.Redis.Addr, err)
		}
		return NewRedisStore(rdb, cfg.Profile), nil
	default:
		return nil, fmt.Errorf("unknown store kind %q", cfg.Kind)
	}
}
