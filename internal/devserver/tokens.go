package devserver

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v4"
)

const tokenTTL = 3 * time.Hour

// claims carries the user id inside issued bearer tokens.
type claims struct {
	UserID int64 `json:"uid"`
	jwt.RegisteredClaims
}

// TokenCache maps issued bearer tokens to user ids so the auth
// middleware can resolve a credential without re-verifying the
// signature on every request.
type TokenCache interface {
	Store(ctx context.Context, token string, userID int64, ttl time.Duration) error
	Lookup(ctx context.Context, token string) (int64, bool, error)
}

// TokenAuth issues and validates bearer credentials.
type TokenAuth struct {
	secret []byte
	cache  TokenCache
}

// NewTokenAuth creates a token authority signing with secret. cache
// may be nil, in which case an in-process cache is used.
func NewTokenAuth(secret string, cache TokenCache) *TokenAuth {
	if cache == nil {
		cache = newMemoryTokenCache()
	}
	return &TokenAuth{secret: []byte(secret), cache: cache}
}

// Issue creates a signed bearer token for the user.
func (a *TokenAuth) Issue(ctx context.Context, userID int64) (string, error) {
	c := claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(a.secret)
	if err != nil {
		return "", err
	}
	// Cache failures are not fatal: validation falls back to the
	// signature check.
	_ = a.cache.Store(ctx, token, userID, tokenTTL)
	return token, nil
}

// Resolve validates a bearer token and returns the user id.
func (a *TokenAuth) Resolve(ctx context.Context, token string) (int64, error) {
	if userID, ok, err := a.cache.Lookup(ctx, token); err == nil && ok {
		return userID, nil
	}

	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil {
		return 0, err
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return 0, jwt.ErrSignatureInvalid
	}
	return c.UserID, nil
}

type memoryTokenCache struct {
	mu     sync.Mutex
	tokens map[string]memoryTokenEntry
}

type memoryTokenEntry struct {
	userID  int64
	expires time.Time
}

func newMemoryTokenCache() *memoryTokenCache {
	return &memoryTokenCache{tokens: make(map[string]memoryTokenEntry)}
}

func (c *memoryTokenCache) Store(_ context.Context, token string, userID int64, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[token] = memoryTokenEntry{userID: userID, expires: time.Now().Add(ttl)}
	return nil
}

func (c *memoryTokenCache) Lookup(_ context.Context, token string) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.tokens[token]
	if !ok || time.Now().After(entry.expires) {
		delete(c.tokens, token)
		return 0, false, nil
	}
	return entry.userID, true, nil
}

// RedisTokenCache stores issued tokens in Redis so multiple dev
// server instances can share sessions.
type RedisTokenCache struct {
	rdb *redis.Client
}

// NewRedisTokenCache connects to Redis and verifies the connection.
func NewRedisTokenCache(addr, password string, db int) (*RedisTokenCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisTokenCache{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (c *RedisTokenCache) Close() error {
	return c.rdb.Close()
}

func (c *RedisTokenCache) Store(ctx context.Context, token string, userID int64, ttl time.Duration) error {
	return c.rdb.Set(ctx, "session:"+token, userID, ttl).Err()
}

func (c *RedisTokenCache) Lookup(ctx context.Context, token string) (int64, bool, error) {
	val, err := c.rdb.Get(ctx, "session:"+token).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	userID, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return userID, true, nil
}
