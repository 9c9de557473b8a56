//go:build !integration

package directory

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"ostrid-adapter/internal/domain/model"
)

type stubCache struct {
	values  map[string]string
	getErr  error
	setKeys []string
}

func newStubCache() *stubCache { return &stubCache{values: make(map[string]string)} }

func (c *stubCache) Ping(ctx context.Context) error { return nil }
func (c *stubCache) Set(ctx context.Context, key string, value interface{}, _ time.Duration) error {
	c.setKeys = append(c.setKeys, key)
	if b, ok := value.([]byte); ok {
		c.values[key] = string(b)
	}
	return nil
}
func (c *stubCache) SetNX(ctx context.Context, key string, value interface{}, _ time.Duration) (bool, error) {
	return true, nil
}
func (c *stubCache) Get(ctx context.Context, key string) (string, error) {
	if c.getErr != nil {
		return "", c.getErr
	}
	v, ok := c.values[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}
func (c *stubCache) Incr(ctx context.Context, key string) (int64, error)           { return 0, nil }
func (c *stubCache) Expire(ctx context.Context, key string, _ time.Duration) error { return nil }
func (c *stubCache) Del(ctx context.Context, keys ...string) error                 { return nil }
func (c *stubCache) Close() error                                                  { return nil }

type stubDirectory struct {
	specialists []model.Specialist
	queries     int
	err         error
}

func (d *stubDirectory) Query(ctx context.Context, dimensions []string) ([]model.Specialist, error) {
	d.queries++
	if d.err != nil {
		return nil, d.err
	}
	return d.specialists, nil
}

func testCacheLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func TestCacheDecorator_MissThenHit(t *testing.T) {
	ctx := context.Background()
	cache := newStubCache()
	inner := &stubDirectory{specialists: []model.Specialist{{ID: "sp-1"}}}
	dir := NewCacheDecorator(inner, cache, time.Minute, testCacheLogger())

	got, err := dir.Query(ctx, []string{"quality", "price"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].ID != "sp-1" {
		t.Fatalf("unexpected result: %+v", got)
	}
	if inner.queries != 1 {
		t.Fatalf("expected one registry query, got %d", inner.queries)
	}
	if len(cache.setKeys) != 1 {
		t.Fatalf("expected the result to be cached, set keys: %v", cache.setKeys)
	}

	// Dimension order must not change the key.
	got, err = dir.Query(ctx, []string{"price", "quality"})
	if err != nil {
		t.Fatalf("cached query: %v", err)
	}
	if len(got) != 1 || inner.queries != 1 {
		t.Errorf("expected cache hit without registry query, queries=%d", inner.queries)
	}
}

func TestCacheDecorator_FailedCacheFallsThrough(t *testing.T) {
	ctx := context.Background()
	cache := newStubCache()
	cache.getErr = errors.New("connection refused")
	inner := &stubDirectory{specialists: []model.Specialist{{ID: "sp-1"}}}
	dir := NewCacheDecorator(inner, cache, time.Minute, testCacheLogger())

	got, err := dir.Query(ctx, []string{"quality"})
	if err != nil {
		t.Fatalf("query with broken cache: %v", err)
	}
	if len(got) != 1 || inner.queries != 1 {
		t.Fatalf("expected registry fallback, got %+v queries=%d", got, inner.queries)
	}
}

func TestCacheDecorator_CorruptEntryFallsThrough(t *testing.T) {
	ctx := context.Background()
	cache := newStubCache()
	inner := &stubDirectory{specialists: []model.Specialist{{ID: "sp-1"}}}
	dir := NewCacheDecorator(inner, cache, time.Minute, testCacheLogger())

	if _, err := dir.Query(ctx, []string{"quality"}); err != nil {
		t.Fatalf("prime cache: %v", err)
	}
	for k := range cache.values {
		cache.values[k] = "{not json"
	}
	if _, err := dir.Query(ctx, []string{"quality"}); err != nil {
		t.Fatalf("query with corrupt cache: %v", err)
	}
	if inner.queries != 2 {
		t.Errorf("expected corrupt entry to fall through to the registry, queries=%d", inner.queries)
	}

	var cached []model.Specialist
	for _, v := range cache.values {
		if json.Unmarshal([]byte(v), &cached) == nil {
			break
		}
	}
	if len(cached) != 1 {
		t.Errorf("expected the entry to be rewritten, cache=%v", cache.values)
	}
}
