package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/internal/platform/db/dbtest"
	"github.com/fatflowers/billing/pkg/config"
	"github.com/fatflowers/billing/pkg/types"
)

var may15 = time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)

func newLedger(t *testing.T, cache *goredis.Client) *Ledger {
	cfg := &config.Config{Redis: config.RedisConfig{UsageTTL: 10 * time.Minute}}
	l := NewLedger(dbtest.New(t), cache, cfg, zap.NewNop().Sugar())
	l.now = func() time.Time { return may15 }
	return l
}

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	mr := miniredis.RunT(t)
	mr.SetTime(may15)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRecord_Validation(t *testing.T) {
	l := newLedger(t, nil)
	ctx := context.Background()

	assert.True(t, errors.Is(l.Record(ctx, "", types.ResourceTypeDiscovery, 1), ErrMissingUser))
	assert.True(t, errors.Is(l.Record(ctx, "U1", "video", 1), ErrInvalidResource))
	assert.True(t, errors.Is(l.Record(ctx, "U1", types.ResourceTypeDiscovery, 0), ErrInvalidQuantity))
	assert.True(t, errors.Is(l.Record(ctx, "U1", types.ResourceTypeDiscovery, -2), ErrInvalidQuantity))
}

func TestMonthlyUsage_SumsCurrentMonthOnly(t *testing.T) {
	l := newLedger(t, nil)
	ctx := context.Background()

	l.now = func() time.Time { return time.Date(2024, 4, 30, 23, 59, 59, 0, time.UTC) }
	require.NoError(t, l.Record(ctx, "U1", types.ResourceTypeDiscovery, 7))

	l.now = func() time.Time { return may15 }
	require.NoError(t, l.Record(ctx, "U1", types.ResourceTypeDiscovery, 2))
	require.NoError(t, l.Record(ctx, "U1", types.ResourceTypeDiscovery, 3))
	require.NoError(t, l.Record(ctx, "U1", types.ResourceTypeCreative, 4))
	require.NoError(t, l.Record(ctx, "U2", types.ResourceTypeCreative, 9))

	u, err := l.MonthlyUsage(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, types.MonthlyUsage{Discoveries: 5, Creatives: 4}, u)

	// the counter resets at the month boundary
	l.now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }
	u, err = l.MonthlyUsage(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, types.MonthlyUsage{}, u)

	events, err := l.Events(ctx, "U1", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), 0)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestMonthlyUsage_CacheAgreesWithStore(t *testing.T) {
	mr, client := newMiniredis(t)
	l := newLedger(t, client)
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, "U1", types.ResourceTypeDiscovery, 2))
	// nothing cached before the first read
	assert.False(t, mr.Exists("usage:U1:202405"))

	u, err := l.MonthlyUsage(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, types.MonthlyUsage{Discoveries: 2}, u)
	assert.Equal(t, "2", mr.HGet("usage:U1:202405", "discovery"))
	assert.Equal(t, "0", mr.HGet("usage:U1:202405", "creative"))
	assert.True(t, mr.TTL("usage:U1:202405") > 0)

	require.NoError(t, l.Record(ctx, "U1", types.ResourceTypeCreative, 5))
	assert.Equal(t, "5", mr.HGet("usage:U1:202405", "creative"))

	cached, err := l.MonthlyUsage(ctx, "U1")
	require.NoError(t, err)
	fresh, err := l.sum(ctx, "U1", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, fresh, cached)
	assert.Equal(t, types.MonthlyUsage{Discoveries: 2, Creatives: 5}, cached)

	require.NoError(t, l.Invalidate(ctx, "U1"))
	assert.False(t, mr.Exists("usage:U1:202405"))
}

func TestMonthlyUsage_CacheUnavailableFallsBackToStore(t *testing.T) {
	mr, client := newMiniredis(t)
	l := newLedger(t, client)
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, "U1", types.ResourceTypeDiscovery, 3))
	mr.Close()

	require.NoError(t, l.Record(ctx, "U1", types.ResourceTypeDiscovery, 1))
	u, err := l.MonthlyUsage(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), u.Discoveries)
}

func TestMonthlyUsage_LateFillNeverLowersCachedTotal(t *testing.T) {
	monthStart := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	monthEnd := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		// readBetween runs a full MonthlyUsage after the concurrent Record
		// and before the slow reader fills.
		readBetween bool
	}{
		{name: "another reader cached the newer total", readBetween: true},
		{name: "no reader in between", readBetween: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, client := newMiniredis(t)
			l := newLedger(t, client)
			ctx := context.Background()

			require.NoError(t, l.Record(ctx, "U1", types.ResourceTypeDiscovery, 5))

			// slow reader snapshots the generation and sums before the write lands
			gen, ok := l.generation(ctx, "U1", may15)
			require.True(t, ok)
			stale, err := l.sum(ctx, "U1", monthStart, monthEnd)
			require.NoError(t, err)
			assert.Equal(t, int64(5), stale.Discoveries)

			require.NoError(t, l.Record(ctx, "U1", types.ResourceTypeDiscovery, 3))

			if tt.readBetween {
				u, err := l.MonthlyUsage(ctx, "U1")
				require.NoError(t, err)
				assert.Equal(t, int64(8), u.Discoveries)
			}

			l.fill(ctx, "U1", may15, gen, stale)

			u, err := l.MonthlyUsage(ctx, "U1")
			require.NoError(t, err)
			assert.Equal(t, int64(8), u.Discoveries)

			require.NoError(t, l.Record(ctx, "U1", types.ResourceTypeDiscovery, 1))
			u, err = l.MonthlyUsage(ctx, "U1")
			require.NoError(t, err)
			assert.Equal(t, int64(9), u.Discoveries)
		})
	}
}
