package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hubmapconsortium/entity-api/internal/platform/logger"
)

// EntityCache is a look-aside cache keyed by entity uuid. Misses and cache
// failures are equivalent: callers always fall through to the graph store.
type EntityCache interface {
	Get(ctx context.Context, uuid string) (map[string]any, bool)
	Set(ctx context.Context, uuid string, entity map[string]any)
	Delete(ctx context.Context, uuids ...string)
}

type redisCache struct {
	rdb    *goredis.Client
	prefix string
	ttl    time.Duration
	log    *logger.Logger
}

func NewRedisCache(log *logger.Logger) (EntityCache, error) {
	if log == nil {
		return nil, fmt.Errorf("cache: logger required")
	}
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("cache: REDIS_ADDR is required")
	}
	prefix := strings.TrimSpace(os.Getenv("CACHE_PREFIX"))
	if prefix == "" {
		prefix = "entity-api"
	}
	ttl := 2 * time.Hour
	if v := strings.TrimSpace(os.Getenv("CACHE_TTL_SECONDS")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			ttl = time.Duration(parsed) * time.Second
		}
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("cache: redis ping: %w", err)
	}

	return &redisCache{
		rdb:    rdb,
		prefix: prefix,
		ttl:    ttl,
		log:    log.With("component", "EntityCache"),
	}, nil
}

func (c *redisCache) key(uuid string) string {
	return c.prefix + ":entity:" + uuid
}

func (c *redisCache) Get(ctx context.Context, uuid string) (map[string]any, bool) {
	raw, err := c.rdb.Get(ctx, c.key(uuid)).Bytes()
	if err != nil {
		if err != goredis.Nil {
			c.log.Warn("cache get failed", "uuid", uuid, "error", err.Error())
		}
		return nil, false
	}
	var entity map[string]any
	if err := json.Unmarshal(raw, &entity); err != nil {
		c.log.Warn("cache entry corrupt, dropping", "uuid", uuid, "error", err.Error())
		c.Delete(ctx, uuid)
		return nil, false
	}
	return entity, true
}

func (c *redisCache) Set(ctx context.Context, uuid string, entity map[string]any) {
	raw, err := json.Marshal(entity)
	if err != nil {
		c.log.Warn("cache encode failed", "uuid", uuid, "error", err.Error())
		return
	}
	if err := c.rdb.Set(ctx, c.key(uuid), raw, c.ttl).Err(); err != nil {
		c.log.Warn("cache set failed", "uuid", uuid, "error", err.Error())
	}
}

func (c *redisCache) Delete(ctx context.Context, uuids ...string) {
	if len(uuids) == 0 {
		return
	}
	keys := make([]string, 0, len(uuids))
	for _, uuid := range uuids {
		if uuid != "" {
			keys = append(keys, c.key(uuid))
		}
	}
	if len(keys) == 0 {
		return
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.log.Warn("cache delete failed", "count", len(keys), "error", err.Error())
	}
}

// Noop is used when no cache is configured.
type Noop struct{}

func (Noop) Get(context.Context, string) (map[string]any, bool) { return nil, false }
func (Noop) Set(context.Context, string, map[string]any)        {}
func (Noop) Delete(context.Context, ...string)                  {}
