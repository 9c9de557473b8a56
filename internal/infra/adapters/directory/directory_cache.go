package directory

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"ostrid-adapter/internal/domain/model"
	"ostrid-adapter/internal/domain/ports/adapter"
	"ostrid-adapter/internal/infra/metrics"
	red "ostrid-adapter/internal/infra/redis"
)

var _ adapter.SpecialistDirectory = (*cacheDecorator)(nil)

type cacheDecorator struct {
	inner adapter.SpecialistDirectory
	cache red.RedisClient
	ttl   time.Duration
	log   *zerolog.Logger
}

// NewCacheDecorator caches directory query results per dimension set. A
// short TTL keeps candidate lists fresh enough for discovery while sparing
// the registry one round trip per raised job.
func NewCacheDecorator(inner adapter.SpecialistDirectory, cache red.RedisClient, ttl time.Duration, logger *zerolog.Logger) adapter.SpecialistDirectory {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	l := logger.With().Str("component", "DirectoryCache").Logger()
	return &cacheDecorator{inner: inner, cache: cache, ttl: ttl, log: &l}
}

func cacheKey(dimensions []string) string {
	dims := make([]string, len(dimensions))
	copy(dims, dimensions)
	sort.Strings(dims)
	return "ostrid:directory:" + strings.Join(dims, ",")
}

func (d *cacheDecorator) Query(ctx context.Context, dimensions []string) ([]model.Specialist, error) {
	key := cacheKey(dimensions)
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		var cached []model.Specialist
		if json.Unmarshal([]byte(val), &cached) == nil {
			metrics.IncCacheRequest("directory", "hit")
			return cached, nil
		}
	}
	if err != nil && err != redis.Nil {
		d.log.Warn().Err(err).Msg("directory cache read failed; querying registry directly")
	}

	metrics.IncCacheRequest("directory", "miss")
	specialists, err := d.inner.Query(ctx, dimensions)
	if err != nil {
		return nil, err
	}
	if bytes, err := json.Marshal(specialists); err == nil {
		d.cache.Set(ctx, key, bytes, d.ttl)
	}
	return specialists, nil
}
