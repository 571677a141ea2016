package user

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/ovaphlow/pitchfork/service-account/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-account/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-account/pkg/cache"
	"github.com/ovaphlow/pitchfork/service-account/pkg/encryption"
)

// DefaultCacheTTL is the lifetime of a cached profile.
const DefaultCacheTTL = 300 * time.Second

// CacheKey is the key a profile is cached under.
func CacheKey(id int64) string { return "user:" + strconv.FormatInt(id, 10) }

// ProfileCache keeps sealed profile snapshots in a cache backend.
// A nil backend disables caching: Get always misses, Set and Invalidate are no-ops.
// Every method returns its error so callers decide explicitly to log and move on.
type ProfileCache struct {
	backend cache.Cache
	codec   *encryption.Codec
	ttl     time.Duration
}

func NewProfileCache(backend cache.Cache, codec *encryption.Codec, ttl time.Duration) *ProfileCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &ProfileCache{backend: backend, codec: codec, ttl: ttl}
}

// Get returns the cached profile. ok is false on a miss.
func (c *ProfileCache) Get(ctx context.Context, id int64) (p entity.Profile, ok bool, err error) {
	if c == nil || c.backend == nil {
		return p, false, nil
	}
	raw, err := c.backend.Get(ctx, CacheKey(id))
	if errors.Is(err, cache.ErrMiss) {
		metrics.CacheOperationsTotal.WithLabelValues("get", metrics.ResultMiss).Inc()
		return p, false, nil
	}
	if err != nil {
		metrics.CacheOperationsTotal.WithLabelValues("get", metrics.ResultError).Inc()
		return p, false, err
	}
	plain, err := c.codec.DecryptBytes(raw)
	if err != nil {
		metrics.CacheOperationsTotal.WithLabelValues("get", metrics.ResultError).Inc()
		return p, false, err
	}
	if err := json.Unmarshal(plain, &p); err != nil {
		metrics.CacheOperationsTotal.WithLabelValues("get", metrics.ResultError).Inc()
		return p, false, err
	}
	metrics.CacheOperationsTotal.WithLabelValues("get", metrics.ResultHit).Inc()
	return p, true, nil
}

func (c *ProfileCache) Set(ctx context.Context, p entity.Profile) error {
	if c == nil || c.backend == nil {
		return nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	sealed, err := c.codec.EncryptBytes(raw)
	if err != nil {
		return err
	}
	err = c.backend.Set(ctx, CacheKey(p.ID), sealed, c.ttl)
	metrics.CacheOperationsTotal.WithLabelValues("set", resultOf(err)).Inc()
	return err
}

func (c *ProfileCache) Invalidate(ctx context.Context, id int64) error {
	if c == nil || c.backend == nil {
		return nil
	}
	err := c.backend.Delete(ctx, CacheKey(id))
	metrics.CacheOperationsTotal.WithLabelValues("delete", resultOf(err)).Inc()
	return err
}

func resultOf(err error) string {
	if err != nil {
		return metrics.ResultError
	}
	return metrics.ResultSuccess
}
