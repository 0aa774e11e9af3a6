// Package cache holds the Redis-backed read-through cache for FX quotes.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"gelato-costing/internal/config"
	"gelato-costing/internal/core"
)

const (
	generationKey = "fx:gen"
	quotePrefix   = "fx:q"
)

// quoteRecord is the msgpack wire form of a quote. The rate travels as a
// string so no precision is lost through a float.
type quoteRecord struct {
	Date   string `msgpack:"d"`
	From   string `msgpack:"f"`
	To     string `msgpack:"t"`
	Rate   string `msgpack:"r"`
	Source string `msgpack:"s"`
}

// FXCache implements core.RateCache. Invalidation bumps a generation counter
// instead of scanning keys; entries from older generations expire by TTL.
// Writes are compare-and-set against the counter.
// A nil *FXCache, or one without a client, is a no-op cache.
type FXCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisClient connects and pings. An empty address returns (nil, nil) so
// the service can run without Redis.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

func NewFXCache(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *FXCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FXCache{rdb: rdb, ttl: ttl, logger: logger}
}

func (c *FXCache) enabled() bool { return c != nil && c.rdb != nil }

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (c *FXCache) generation(ctx context.Context, cmd getter) (int64, error) {
	val, err := cmd.Get(ctx, generationKey).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(val, 10, 64)
}

func quoteKey(gen int64, key string) string {
	return fmt.Sprintf("%s:%d:%s", quotePrefix, gen, key)
}

func (c *FXCache) GetQuote(ctx context.Context, key string) (*core.FXQuote, int64, bool, error) {
	if !c.enabled() {
		return nil, 0, false, nil
	}
	gen, err := c.generation(ctx, c.rdb)
	if err != nil {
		return nil, 0, false, fmt.Errorf("read fx cache generation: %w", err)
	}
	raw, err := c.rdb.Get(ctx, quoteKey(gen, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, gen, false, nil
	}
	if err != nil {
		return nil, gen, false, fmt.Errorf("get cached quote %s: %w", key, err)
	}
	q, err := DecodeQuote(raw)
	if err != nil {
		c.logger.Warn("discarding undecodable fx cache entry", zap.String("key", key), zap.Error(err))
		return nil, gen, false, nil
	}
	return q, gen, true, nil
}

// SetQuote stores q under gen only while gen is still the current
// generation. A quote looked up before an invalidation is dropped.
func (c *FXCache) SetQuote(ctx context.Context, key string, gen int64, q *core.FXQuote) error {
	if !c.enabled() || q == nil {
		return nil
	}
	raw, err := EncodeQuote(q)
	if err != nil {
		return err
	}

	err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := c.generation(ctx, tx)
		if err != nil {
			return fmt.Errorf("read fx cache generation: %w", err)
		}
		if cur != gen {
			c.logger.Debug("skipping fx cache write from old generation",
				zap.String("key", key), zap.Int64("generation", gen), zap.Int64("current", cur))
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, quoteKey(gen, key), raw, c.ttl)
			return nil
		})
		return err
	}, generationKey)
	if errors.Is(err, redis.TxFailedErr) {
		// Invalidated between the check and the write.
		return nil
	}
	if err != nil {
		return fmt.Errorf("set cached quote %s: %w", key, err)
	}
	return nil
}

func (c *FXCache) Invalidate(ctx context.Context) error {
	if !c.enabled() {
		return nil
	}
	gen, err := c.rdb.Incr(ctx, generationKey).Result()
	if err != nil {
		return fmt.Errorf("bump fx cache generation: %w", err)
	}
	c.logger.Debug("fx cache invalidated", zap.Int64("generation", gen))
	return nil
}

// EncodeQuote serialises a quote to msgpack.
func EncodeQuote(q *core.FXQuote) ([]byte, error) {
	raw, err := msgpack.Marshal(&quoteRecord{
		Date:   q.Date,
		From:   string(q.From),
		To:     string(q.To),
		Rate:   q.Rate.String(),
		Source: string(q.Source),
	})
	if err != nil {
		return nil, fmt.Errorf("encode quote: %w", err)
	}
	return raw, nil
}

// DecodeQuote is the inverse of EncodeQuote.
func DecodeQuote(raw []byte) (*core.FXQuote, error) {
	var rec quoteRecord
	if err := msgpack.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}
	rate, err := decimal.NewFromString(rec.Rate)
	if err != nil {
		return nil, fmt.Errorf("decode quote rate %q: %w", rec.Rate, err)
	}
	return &core.FXQuote{
		Date:   rec.Date,
		From:   core.Currency(rec.From),
		To:     core.Currency(rec.To),
		Rate:   rate,
		Source: core.FXSource(rec.Source),
	}, nil
}
