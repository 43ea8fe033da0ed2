package position

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// StateStore mirrors open positions so a restart can resume scale-out.
type StateStore interface {
	Save(ctx context.Context, p Position) error
	Delete(ctx context.Context, symbol string) error
	Load(ctx context.Context) ([]Position, error)
}

// MemoryStore keeps state in process only.
type MemoryStore struct {
	mu        sync.RWMutex
	positions map[string]Position
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{positions: make(map[string]Position)}
}

func (s *MemoryStore) Save(_ context.Context, p Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.Fills = append([]Fill(nil), p.Fills...)
	s.positions[p.Symbol] = p
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions, symbol)
	return nil
}

func (s *MemoryStore) Load(context.Context) ([]Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	return out, nil
}

const (
	positionKeyPrefix = "momentum:position"
	positionListKey   = "momentum:positions:list"
	positionStateTTL  = 7 * 24 * time.Hour
)

// RedisStore persists state in Redis with an in-memory fallback: when Redis
// is unreachable writes land in memory and trading continues.
type RedisStore struct {
	client    *redis.Client
	cache     *MemoryStore
	available atomic.Bool
	log       zerolog.Logger
}

// NewRedisStore creates a store. A nil client runs memory-only.
func NewRedisStore(client *redis.Client, log zerolog.Logger) *RedisStore {
	s := &RedisStore{client: client, cache: NewMemoryStore(), log: log}
	if client == nil {
		log.Info().Msg("no redis client, position state kept in memory")
		return s
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis unavailable at startup, using in-memory position state")
	} else {
		s.available.Store(true)
	}
	return s
}

// Available reports whether writes currently reach Redis.
func (s *RedisStore) Available() bool { return s.available.Load() }

func positionKey(symbol string) string {
	return fmt.Sprintf("%s:%s", positionKeyPrefix, symbol)
}

func (s *RedisStore) Save(ctx context.Context, p Position) error {
	_ = s.cache.Save(ctx, p)
	if s.client == nil || !s.available.Load() {
		return nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal position state: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, positionKey(p.Symbol), data, positionStateTTL)
	pipe.SAdd(ctx, positionListKey, p.Symbol)
	pipe.Expire(ctx, positionListKey, positionStateTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn().Err(err).Str("symbol", p.Symbol).Msg("redis save failed, falling back to memory")
		s.available.Store(false)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, symbol string) error {
	_ = s.cache.Delete(ctx, symbol)
	if s.client == nil || !s.available.Load() {
		return nil
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, positionKey(symbol))
	pipe.SRem(ctx, positionListKey, symbol)
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Msg("redis delete failed")
		s.available.Store(false)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context) ([]Position, error) {
	if s.client == nil || !s.available.Load() {
		return s.cache.Load(ctx)
	}
	symbols, err := s.client.SMembers(ctx, positionListKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		s.log.Warn().Err(err).Msg("redis read failed, using in-memory position state")
		s.available.Store(false)
		return s.cache.Load(ctx)
	}

	var out []Position
	for _, sym := range symbols {
		data, err := s.client.Get(ctx, positionKey(sym)).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load position %s: %w", sym, err)
		}
		var p Position
		if err := json.Unmarshal(data, &p); err != nil {
			s.log.Warn().Err(err).Str("symbol", sym).Msg("skipping unreadable position state")
			continue
		}
		_ = s.cache.Save(ctx, p)
		out = append(out, p)
	}
	return out, nil
}
