package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/cekresi/internal/common"
	"github.com/noah-isme/cekresi/internal/obs"
)

var cacheNopLogger = zerolog.Nop()

// Locker serialises work on a key across processes. lock.Locker satisfies it.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Cached decorates a Provider with a Redis result cache. Transport errors are
// never cached; not-found answers use their own, usually shorter, TTL. Cache
// failures fall through to the wrapped provider.
//
// With a Lock set, concurrent misses for the same number wait for the first
// lookup and are then served from the cache.
type Cached struct {
	Next        Provider
	R           *redis.Client
	Prefix      string
	TTL         time.Duration
	NotFoundTTL time.Duration
	Lock        Locker
	LockTTL     time.Duration
	Logger      *zerolog.Logger
}

// Track serves the lookup from cache when possible.
func (c Cached) Track(ctx context.Context, req TrackReq) (TrackResult, error) {
	if c.Next == nil {
		return TrackResult{}, errors.New("shipping: cached provider has no upstream")
	}
	if c.R == nil {
		return c.Next.Track(ctx, req)
	}
	key := c.key(req)
	if res, ok := c.read(ctx, key, true); ok {
		return res, nil
	}
	if c.Lock == nil {
		return c.fetch(ctx, key, req)
	}

	var (
		res     TrackResult
		entered bool
	)
	err := c.Lock.WithLock(ctx, key+":lock", c.lockTTL(), func(ctx context.Context) error {
		entered = true
		if hit, ok := c.read(ctx, key, false); ok {
			res = hit
			return nil
		}
		var err error
		res, err = c.fetch(ctx, key, req)
		return err
	})
	if entered || ctx.Err() != nil {
		return res, err
	}
	c.logger().Warn().Err(err).Msg("tracking cache lock failed")
	return c.fetch(ctx, key, req)
}

// read returns the cached result for key. Only the first read of a lookup is
// counted in the cache metrics.
func (c Cached) read(ctx context.Context, key string, observe bool) (TrackResult, bool) {
	record := func(result string) {
		if observe || result == "hit" {
			observeCache(result)
		}
	}
	raw, err := c.R.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached TrackResult
		if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
			record("hit")
			return cached, true
		}
		record("error")
		c.logger().Warn().Str("key", key).Msg("discarding undecodable tracking cache entry")
	case errors.Is(err, redis.Nil):
		record("miss")
	default:
		record("error")
		c.logger().Warn().Err(err).Msg("tracking cache read failed")
	}
	return TrackResult{}, false
}

func (c Cached) fetch(ctx context.Context, key string, req TrackReq) (TrackResult, error) {
	res, err := c.Next.Track(ctx, req)
	if err != nil {
		return res, err
	}
	ttl := c.TTL
	if !res.Found {
		ttl = c.NotFoundTTL
	}
	if ttl <= 0 {
		return res, nil
	}
	encoded, err := json.Marshal(res)
	if err != nil {
		return res, nil
	}
	if err := c.R.Set(ctx, key, encoded, ttl).Err(); err != nil {
		c.logger().Warn().Err(err).Msg("tracking cache write failed")
	}
	return res, nil
}

func (c Cached) lockTTL() time.Duration {
	if c.LockTTL <= 0 {
		return 30 * time.Second
	}
	return c.LockTTL
}

func (c Cached) key(req TrackReq) string {
	prefix := c.Prefix
	if prefix == "" {
		prefix = "track"
	}
	return prefix + ":" + req.Courier.String() + ":" + common.Sha256Hex(req.TrackingNumber)
}

func (c Cached) logger() *zerolog.Logger {
	if c.Logger == nil {
		return &cacheNopLogger
	}
	return c.Logger
}

func observeCache(result string) {
	if obs.TrackingCacheTotal != nil {
		obs.TrackingCacheTotal.WithLabelValues(result).Inc()
	}
}
