package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gelato-costing/internal/config"
	"gelato-costing/internal/core"
)

func sampleQuote() *core.FXQuote {
	return &core.FXQuote{
		Date:   "2024-01-01",
		From:   core.USD,
		To:     core.ZAR,
		Rate:   decimal.RequireFromString("18.3650793651"),
		Source: core.FXSourcePrior,
	}
}

func TestEncodeDecodeQuote_KeepsFullPrecision(t *testing.T) {
	raw, err := EncodeQuote(sampleQuote())
	require.NoError(t, err)

	got, err := DecodeQuote(raw)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01", got.Date)
	assert.Equal(t, core.USD, got.From)
	assert.Equal(t, core.ZAR, got.To)
	assert.Equal(t, core.FXSourcePrior, got.Source)
	assert.True(t, got.Rate.Equal(decimal.RequireFromString("18.3650793651")), "rate = %s", got.Rate)
}

func TestDecodeQuote_RejectsGarbage(t *testing.T) {
	_, err := DecodeQuote([]byte{0xc1})
	assert.Error(t, err)
}

func TestFXCache_DisabledIsNoop(t *testing.T) {
	ctx := context.Background()
	for name, c := range map[string]*FXCache{
		"nil cache":  nil,
		"nil client": NewFXCache(nil, time.Minute, nil),
	} {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, c.SetQuote(ctx, "k", 0, sampleQuote()))
			q, _, ok, err := c.GetQuote(ctx, "k")
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Nil(t, q)
			assert.NoError(t, c.Invalidate(ctx))
		})
	}
}

func TestNewRedisClient_EmptyAddrDisables(t *testing.T) {
	rdb, err := NewRedisClient(context.Background(), config.RedisConfig{})
	require.NoError(t, err)
	assert.Nil(t, rdb)
}

func newTestCache(t *testing.T) *FXCache {
	t.Helper()
	srv := miniredis.RunT(t)
	rdb, err := NewRedisClient(context.Background(), config.RedisConfig{Addr: srv.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { rdb.Close() })
	return NewFXCache(rdb, time.Minute, nil)
}

const usdZarKey = "auto:2024-01-01:USD:ZAR"

func TestFXCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	_, gen, ok, err := c.GetQuote(ctx, usdZarKey)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, c.SetQuote(ctx, usdZarKey, gen, sampleQuote()))

	q, _, ok, err := c.GetQuote(ctx, usdZarKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, q.Rate.Equal(sampleQuote().Rate))
}

func TestFXCache_InvalidateHidesOldQuotes(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	_, gen, _, err := c.GetQuote(ctx, usdZarKey)
	require.NoError(t, err)
	require.NoError(t, c.SetQuote(ctx, usdZarKey, gen, sampleQuote()))

	require.NoError(t, c.Invalidate(ctx))
	_, newGen, ok, err := c.GetQuote(ctx, usdZarKey)
	require.NoError(t, err)
	assert.False(t, ok, "quote should be unreachable after invalidation")
	assert.Equal(t, gen+1, newGen)
}

// A reader misses, a rate is written and the cache invalidated, then the
// reader stores what it read before the write. That quote must not be served.
func TestFXCache_WriteAfterInvalidateIsDropped(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	_, gen, ok, err := c.GetQuote(ctx, usdZarKey)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Invalidate(ctx))

	stale := sampleQuote()
	stale.Rate = decimal.RequireFromString("13.5")
	require.NoError(t, c.SetQuote(ctx, usdZarKey, gen, stale))

	q, _, ok, err := c.GetQuote(ctx, usdZarKey)
	require.NoError(t, err)
	assert.False(t, ok, "stale quote served after invalidation: %+v", q)
}
