package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"foliochat/internal/redis"
)

var errTokenNotFound = errors.New("token not found")

// TokenStore maps session tokens to session ids. Lookup extends the token by ttl.
type TokenStore interface {
	Save(ctx context.Context, token, sessionID string, ttl time.Duration) error
	Lookup(ctx context.Context, token string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, token string) error
	DeleteSession(ctx context.Context, sessionID string) error
}

type memoryEntry struct {
	sessionID string
	expiresAt time.Time
}

// MemoryTokenStore keeps tokens in process memory.
type MemoryTokenStore struct {
	mu        sync.Mutex
	tokens    map[string]memoryEntry
	bySession map[string]map[string]struct{}
	now       func() time.Time
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{
		tokens:    make(map[string]memoryEntry),
		bySession: make(map[string]map[string]struct{}),
		now:       time.Now,
	}
}

func (s *MemoryTokenStore) Save(_ context.Context, token, sessionID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	// drop expired entries while we hold the lock
	for t, e := range s.tokens {
		if now.After(e.expiresAt) {
			s.deleteLocked(t)
		}
	}
	s.tokens[token] = memoryEntry{sessionID: sessionID, expiresAt: now.Add(ttl)}
	if s.bySession[sessionID] == nil {
		s.bySession[sessionID] = make(map[string]struct{})
	}
	s.bySession[sessionID][token] = struct{}{}
	return nil
}

func (s *MemoryTokenStore) Lookup(_ context.Context, token string, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.tokens[token]
	if !ok {
		return "", errTokenNotFound
	}
	now := s.now()
	if now.After(entry.expiresAt) {
		s.deleteLocked(token)
		return "", errTokenNotFound
	}
	entry.expiresAt = now.Add(ttl)
	s.tokens[token] = entry
	return entry.sessionID, nil
}

func (s *MemoryTokenStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(token)
	return nil
}

func (s *MemoryTokenStore) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token := range s.bySession[sessionID] {
		delete(s.tokens, token)
	}
	delete(s.bySession, sessionID)
	return nil
}

func (s *MemoryTokenStore) deleteLocked(token string) {
	entry, ok := s.tokens[token]
	if !ok {
		return
	}
	delete(s.tokens, token)
	if set := s.bySession[entry.sessionID]; set != nil {
		delete(set, token)
		if len(set) == 0 {
			delete(s.bySession, entry.sessionID)
		}
	}
}

const (
	redisTokenPrefix   = "foliochat:token:"
	redisSessionPrefix = "foliochat:session-tokens:"
)

// RedisTokenStore keeps tokens in redis so several instances can share them. Each session
// also has a set of its tokens so they can be revoked together.
type RedisTokenStore struct {
	client *redis.Client
}

func NewRedisTokenStore(client *redis.Client) *RedisTokenStore {
	return &RedisTokenStore{client: client}
}

func (s *RedisTokenStore) Save(ctx context.Context, token, sessionID string, ttl time.Duration) error {
	if err := s.client.Set(ctx, redisTokenPrefix+token, sessionID, ttl); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	if err := s.client.AddMember(ctx, redisSessionPrefix+sessionID, token, ttl); err != nil {
		return fmt.Errorf("index token: %w", err)
	}
	return nil
}

func (s *RedisTokenStore) Lookup(ctx context.Context, token string, ttl time.Duration) (string, error) {
	sessionID, err := s.client.GetEx(ctx, redisTokenPrefix+token, ttl)
	if errors.Is(err, redis.ErrCacheMiss) {
		return "", errTokenNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup token: %w", err)
	}
	if err := s.client.Expire(ctx, redisSessionPrefix+sessionID, ttl); err != nil {
		return "", fmt.Errorf("extend session tokens: %w", err)
	}
	return sessionID, nil
}

func (s *RedisTokenStore) Delete(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, redisTokenPrefix+token); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (s *RedisTokenStore) DeleteSession(ctx context.Context, sessionID string) error {
	tokens, err := s.client.Members(ctx, redisSessionPrefix+sessionID)
	if err != nil {
		return fmt.Errorf("list session tokens: %w", err)
	}
	keys := make([]string, 0, len(tokens)+1)
	for _, token := range tokens {
		keys = append(keys, redisTokenPrefix+token)
	}
	keys = append(keys, redisSessionPrefix+sessionID)
	if err := s.client.Del(ctx, keys...); err != nil {
		return fmt.Errorf("revoke session tokens: %w", err)
	}
	return nil
}
