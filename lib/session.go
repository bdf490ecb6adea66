package lib

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const sessionPrefix = "relay:session:"

// SessionStore maps opaque session ids to account ids.
type SessionStore interface {
	Create(ctx context.Context, accountID uint) (string, error)
	Lookup(ctx context.Context, id string) (uint, error)
	Destroy(ctx context.Context, id string) error
}

// NewSessionStore keeps sessions in redis when a client is given and in
// process memory otherwise.
func NewSessionStore(client *redis.Client, cfg SessionConfig) SessionStore {
	ttl := time.Duration(cfg.TTL) * time.Second
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if client != nil {
		return &RedisSessions{client: client, ttl: ttl}
	}
	return NewMemorySessions(ttl)
}

type RedisSessions struct {
	client *redis.Client
	ttl    time.Duration
}

func (s *RedisSessions) Create(ctx context.Context, accountID uint) (string, error) {
	id := uuid.NewString()
	if err := s.client.Set(ctx, sessionPrefix+id, accountID, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return id, nil
}

func (s *RedisSessions) Lookup(ctx context.Context, id string) (uint, error) {
	value, err := s.client.Get(ctx, sessionPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return 0, ErrSessionNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("load session: %w", err)
	}
	accountID, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, ErrSessionNotFound
	}
	return uint(accountID), nil
}

func (s *RedisSessions) Destroy(ctx context.Context, id string) error {
	return s.client.Del(ctx, sessionPrefix+id).Err()
}

type memorySession struct {
	accountID uint
	expires   time.Time
}

type MemorySessions struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]memorySession
	now      func() time.Time
}

func NewMemorySessions(ttl time.Duration) *MemorySessions {
	return &MemorySessions{
		ttl:      ttl,
		sessions: make(map[string]memorySession),
		now:      time.Now,
	}
}

func (s *MemorySessions) Create(_ context.Context, accountID uint) (string, error) {
	id := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = memorySession{accountID: accountID, expires: s.now().Add(s.ttl)}
	return id, nil
}

func (s *MemorySessions) Lookup(_ context.Context, id string) (uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return 0, ErrSessionNotFound
	}
	if !s.now().Before(session.expires) {
		delete(s.sessions, id)
		return 0, ErrSessionNotFound
	}
	return session.accountID, nil
}

func (s *MemorySessions) Destroy(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// SignSession appends an HMAC of id to the cookie value. With an empty
// secret the id is used as-is.
func SignSession(secret, id string) string {
	if secret == "" {
		return id
	}
	return id + "." + sessionMAC(secret, id)
}

// VerifySession returns the session id carried by a cookie value produced by
// SignSession with the same secret.
func VerifySession(secret, value string) (string, bool) {
	if secret == "" {
		return value, value != ""
	}
	id, mac, ok := strings.Cut(value, ".")
	if !ok || id == "" {
		return "", false
	}
	if !hmac.Equal([]byte(mac), []byte(sessionMAC(secret, id))) {
		return "", false
	}
	return id, true
}

func sessionMAC(secret, id string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(id))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
