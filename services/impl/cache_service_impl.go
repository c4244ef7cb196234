package impl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/beacon-core/config"
	"github.com/beacon-core/models"
	"github.com/beacon-core/services"
)

const (
	// CacheKeyPrefix is the prefix for all retrieval cache keys
	CacheKeyPrefix = "retrieval"

	// DefaultCacheTTL is the default TTL for cached retrieval results
	DefaultCacheTTL = 5 * 60

	// MaxCacheTTL is the maximum allowed TTL (1 hour)
	MaxCacheTTL = 60 * 60
)

// cacheServiceImpl implements CacheService using either in-memory or Redis cache
type cacheServiceImpl struct {
	// In-memory cache (fallback when Redis is unavailable)
	memCache map[string]cacheEntry
	mu       sync.RWMutex

	// Redis cache (production)
	redis *redis.Client

	config   *config.RedisConfig
	enabled  bool
	useRedis bool
}

type cacheEntry struct {
	data      []byte
	expiresAt time.Time
}

// NewCacheService creates a new CacheService instance
// Uses Redis if available, falls back to in-memory cache
func NewCacheService(cfg *config.RedisConfig) (services.CacheService, error) {
	if cfg == nil || !cfg.EnableRetrievalCache {
		return &cacheServiceImpl{
			enabled: false,
		}, nil
	}

	svc := &cacheServiceImpl{
		memCache: make(map[string]cacheEntry),
		config:   cfg,
		enabled:  true,
		useRedis: false,
	}

	// Try to connect to Redis
	if cfg.Host != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password: cfg.Password,
			DB:       cfg.DB,
		})

		// Test connection
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := redisClient.Ping(ctx).Err(); err == nil {
			svc.redis = redisClient
			svc.useRedis = true
		}
		// If Redis fails, fall back to in-memory (no error)
	}

	return svc, nil
}

// NewCacheServiceWithRedis creates a cache service with an existing Redis client
func NewCacheServiceWithRedis(redisClient *redis.Client, cfg *config.RedisConfig) services.CacheService {
	if redisClient == nil || cfg == nil || !cfg.EnableRetrievalCache {
		return &cacheServiceImpl{
			memCache: make(map[string]cacheEntry),
			config:   cfg,
			enabled:  cfg != nil && cfg.EnableRetrievalCache,
			useRedis: false,
		}
	}

	return &cacheServiceImpl{
		memCache: make(map[string]cacheEntry),
		redis:    redisClient,
		config:   cfg,
		enabled:  true,
		useRedis: true,
	}
}

// GetCachedRetrieval retrieves a cached retrieval result if available
func (s *cacheServiceImpl) GetCachedRetrieval(ctx context.Context, cacheKey string) (*models.RetrievalResult, error) {
	if !s.enabled {
		return nil, nil
	}

	prefixedKey := s.prefixKey(cacheKey)

	// Try Redis first if available
	if s.useRedis && s.redis != nil {
		data, err := s.redis.Get(ctx, prefixedKey).Bytes()
		if err == nil {
			var result models.RetrievalResult
			if err := json.Unmarshal(data, &result); err != nil {
				// Invalid cache data - delete it
				s.redis.Del(ctx, prefixedKey)
				return nil, nil
			}
			return &result, nil
		}
		if err != redis.Nil {
			// Redis error - fall back to memory cache
			return s.getFromMemCache(prefixedKey)
		}
		return nil, nil // Cache miss
	}

	// Use in-memory cache
	return s.getFromMemCache(prefixedKey)
}

// getFromMemCache retrieves from in-memory cache
func (s *cacheServiceImpl) getFromMemCache(prefixedKey string) (*models.RetrievalResult, error) {
	s.mu.RLock()
	entry, exists := s.memCache[prefixedKey]
	s.mu.RUnlock()

	if !exists {
		return nil, nil // Cache miss
	}

	// Check expiration
	if time.Now().After(entry.expiresAt) {
		// Entry expired, clean it up
		s.mu.Lock()
		delete(s.memCache, prefixedKey)
		s.mu.Unlock()
		return nil, nil
	}

	var result models.RetrievalResult
	if err := json.Unmarshal(entry.data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached retrieval: %w", err)
	}

	return &result, nil
}

// SetCachedRetrieval stores a retrieval result in cache with TTL
func (s *cacheServiceImpl) SetCachedRetrieval(ctx context.Context, cacheKey string, result *models.RetrievalResult, ttlSeconds int) error {
	if !s.enabled || result == nil {
		return nil
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal retrieval for caching: %w", err)
	}

	ttl := time.Duration(ttlSeconds) * time.Second
	if ttlSeconds <= 0 && s.config != nil {
		ttl = time.Duration(s.config.RetrievalCacheTTL) * time.Second
	}
	if ttl <= 0 {
		ttl = time.Duration(DefaultCacheTTL) * time.Second
	}
	if ttl > time.Duration(MaxCacheTTL)*time.Second {
		ttl = time.Duration(MaxCacheTTL) * time.Second
	}

	prefixedKey := s.prefixKey(cacheKey)

	// Use Redis if available
	if s.useRedis && s.redis != nil {
		if err := s.redis.Set(ctx, prefixedKey, data, ttl).Err(); err != nil {
			// Redis error - fall back to memory cache
			s.setInMemCache(prefixedKey, data, ttl)
			return nil
		}
		return nil
	}

	// Use in-memory cache
	s.setInMemCache(prefixedKey, data, ttl)
	return nil
}

// setInMemCache stores data in memory cache
func (s *cacheServiceImpl) setInMemCache(prefixedKey string, data []byte, ttl time.Duration) {
	s.mu.Lock()
	s.memCache[prefixedKey] = cacheEntry{
		data:      data,
		expiresAt: time.Now().Add(ttl),
	}
	s.mu.Unlock()
}

// InvalidateRetrieval invalidates cached retrievals for specific patterns
func (s *cacheServiceImpl) InvalidateRetrieval(ctx context.Context, pattern string) error {
	if !s.enabled {
		return nil
	}

	prefixedPattern := s.prefixKey(pattern)

	// Use Redis if available
	if s.useRedis && s.redis != nil {
		var cursor uint64
		for {
			keys, newCursor, err := s.redis.Scan(ctx, cursor, prefixedPattern, 100).Result()
			if err != nil {
				break // Redis error - silently fail
			}
			if len(keys) > 0 {
				s.redis.Del(ctx, keys...)
			}
			cursor = newCursor
			if cursor == 0 {
				break
			}
		}
	}

	// Always clear in-memory cache as well
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.memCache {
		if matchPattern(key, prefixedPattern) {
			delete(s.memCache, key)
		}
	}

	return nil
}

// InvalidateAllRetrieval drops every cached retrieval across all viewer
// scopes. Used after workflow transitions, when per-viewer keys cannot be
// enumerated.
func (s *cacheServiceImpl) InvalidateAllRetrieval(ctx context.Context) error {
	return s.InvalidateRetrieval(ctx, "*")
}

// matchPattern provides simple pattern matching (* as wildcard)
func matchPattern(key, pattern string) bool {
	// Simple implementation - matches if pattern prefix matches
	if len(pattern) > 0 && pattern[len(pattern)-1] == '*' {
		prefix := pattern[:len(pattern)-1]
		return len(key) >= len(prefix) && key[:len(prefix)] == prefix
	}
	return key == pattern
}

// RetrievalCacheKey builds a cache key scoped to the viewer's access
// surface. Role, institution and user id are all part of the key, so results
// cached for one scope can never answer another.
func (s *cacheServiceImpl) RetrievalCacheKey(viewer models.Viewer, queryHash string) string {
	inst := "none"
	if viewer.InstitutionID != nil {
		inst = viewer.InstitutionID.String()
	}
	h := sha256.New()
	h.Write([]byte(viewer.UserID.String()))
	h.Write([]byte(viewer.Role))
	h.Write([]byte(inst))
	h.Write([]byte(queryHash))
	return fmt.Sprintf("%s:%s:%s", viewer.Role, inst, hex.EncodeToString(h.Sum(nil))[:16])
}

// prefixKey adds a prefix to cache keys for namespacing
func (s *cacheServiceImpl) prefixKey(key string) string {
	return fmt.Sprintf("%s:%s", CacheKeyPrefix, key)
}

// HashQuery generates a hash of a query string for use in cache keys
func HashQuery(query string) string {
	hash := sha256.Sum256([]byte(query))
	return hex.EncodeToString(hash[:16]) // Use first 16 bytes for shorter key
}

// IsUsingRedis returns true if the cache is using Redis backend
func (s *cacheServiceImpl) IsUsingRedis() bool {
	return s.useRedis
}
