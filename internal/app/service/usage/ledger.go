package usage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	models "github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/pkg/config"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/tool"
	"github.com/fatflowers/billing/pkg/types"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrInvalidResource = errors.New("unknown resource type")
	ErrMissingUser     = errors.New("user id is required")
)

// recordScript bumps the month generation and, when the month hash is
// already cached, its counter. A partial hash is never created.
var recordScript = goredis.NewScript(`
redis.call("INCR", KEYS[2])
redis.call("EXPIREAT", KEYS[2], ARGV[3])
if redis.call("EXISTS", KEYS[1]) == 1 then
	return redis.call("HINCRBY", KEYS[1], ARGV[1], ARGV[2])
end
return false
`)

// fillScript caches a summed total only if no hash exists yet and no event
// was recorded since the reader took its generation snapshot.
var fillScript = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
local gen = redis.call("GET", KEYS[2])
if not gen then
	gen = "0"
end
if gen ~= ARGV[1] then
	return 0
end
redis.call("HSET", KEYS[1], ARGV[2], ARGV[3], ARGV[4], ARGV[5])
redis.call("EXPIREAT", KEYS[1], ARGV[6])
return 1
`)

// Ledger is the append-only usage store. The database is the source of truth;
// the optional Redis hash per user and month is a read-through cache.
type Ledger struct {
	db       *gorm.DB
	cache    *goredis.Client
	cacheTTL time.Duration
	log      *zap.SugaredLogger
	now      func() time.Time
}

func NewLedger(db *gorm.DB, cache *goredis.Client, cfg *config.Config, log *zap.SugaredLogger) *Ledger {
	return &Ledger{
		db:       db,
		cache:    cache,
		cacheTTL: cfg.Redis.UsageTTL,
		log:      log,
		now:      time.Now,
	}
}

func cacheKey(userID string, at time.Time) string {
	return "usage:" + userID + ":" + tool.MonthKey(at)
}

func genKey(userID string, at time.Time) string {
	return cacheKey(userID, at) + ":gen"
}

// Record appends one usage event.
func (l *Ledger) Record(ctx context.Context, userID string, resource types.ResourceType, quantity int64) error {
	if userID == "" {
		return ErrMissingUser
	}
	if !resource.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidResource, resource)
	}
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	now := l.now().UTC()
	ev := &models.UsageEvent{
		ID:           tool.GenerateUUIDV7(),
		UserID:       userID,
		ResourceType: resource,
		Quantity:     quantity,
		CreatedAt:    now,
	}
	if err := l.db.WithContext(ctx).Create(ev).Error; err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}

	if l.cache != nil {
		keys := []string{cacheKey(userID, now), genKey(userID, now)}
		err := recordScript.Run(ctx, l.cache, keys, string(resource), quantity, tool.StartOfNextMonthUTC(now).Unix()).Err()
		if err != nil && !errors.Is(err, goredis.Nil) {
			logctx.FromCtx(ctx, l.log).Warnw("usage_cache_incr_failed", "user_id", userID, "error", err)
		}
	}
	return nil
}

// MonthlyUsage sums the user's events in the current UTC calendar month.
func (l *Ledger) MonthlyUsage(ctx context.Context, userID string) (types.MonthlyUsage, error) {
	now := l.now().UTC()
	if u, ok := l.cached(ctx, userID, now); ok {
		return u, nil
	}

	gen, genOK := l.generation(ctx, userID, now)
	u, err := l.sum(ctx, userID, tool.StartOfMonthUTC(now), tool.StartOfNextMonthUTC(now))
	if err != nil {
		return types.MonthlyUsage{}, err
	}
	if genOK {
		l.fill(ctx, userID, now, gen, u)
	}
	return u, nil
}

func (l *Ledger) sum(ctx context.Context, userID string, from, to time.Time) (types.MonthlyUsage, error) {
	var rows []struct {
		ResourceType types.ResourceType
		Total        int64
	}
	err := l.db.WithContext(ctx).Model(&models.UsageEvent{}).
		Select("resource_type, COALESCE(SUM(quantity), 0) AS total").
		Where("user_id = ? AND created_at >= ? AND created_at < ?", userID, from, to).
		Group("resource_type").
		Scan(&rows).Error
	if err != nil {
		return types.MonthlyUsage{}, fmt.Errorf("failed to sum usage: %w", err)
	}
	var u types.MonthlyUsage
	for _, r := range rows {
		switch r.ResourceType {
		case types.ResourceTypeDiscovery:
			u.Discoveries = r.Total
		case types.ResourceTypeCreative:
			u.Creatives = r.Total
		}
	}
	return u, nil
}

func (l *Ledger) cached(ctx context.Context, userID string, now time.Time) (types.MonthlyUsage, bool) {
	if l.cache == nil {
		return types.MonthlyUsage{}, false
	}
	vals, err := l.cache.HGetAll(ctx, cacheKey(userID, now)).Result()
	if err != nil {
		logctx.FromCtx(ctx, l.log).Warnw("usage_cache_read_failed", "user_id", userID, "error", err)
		return types.MonthlyUsage{}, false
	}
	d, okD := vals[string(types.ResourceTypeDiscovery)]
	c, okC := vals[string(types.ResourceTypeCreative)]
	if !okD || !okC {
		return types.MonthlyUsage{}, false
	}
	discoveries, err1 := strconv.ParseInt(d, 10, 64)
	creatives, err2 := strconv.ParseInt(c, 10, 64)
	if err1 != nil || err2 != nil {
		return types.MonthlyUsage{}, false
	}
	return types.MonthlyUsage{Discoveries: discoveries, Creatives: creatives}, true
}

// generation returns the month's write counter. It must be read before the
// store is summed so that fill can detect a Record landing in between.
func (l *Ledger) generation(ctx context.Context, userID string, now time.Time) (string, bool) {
	if l.cache == nil {
		return "", false
	}
	gen, err := l.cache.Get(ctx, genKey(userID, now)).Result()
	if errors.Is(err, goredis.Nil) {
		return "0", true
	}
	if err != nil {
		logctx.FromCtx(ctx, l.log).Warnw("usage_cache_gen_read_failed", "user_id", userID, "error", err)
		return "", false
	}
	return gen, true
}

// fill caches u until the month rolls over, capped by the configured TTL.
// It never overwrites an existing hash and gives up when gen is stale.
func (l *Ledger) fill(ctx context.Context, userID string, now time.Time, gen string, u types.MonthlyUsage) {
	if l.cache == nil {
		return
	}
	expireAt := tool.StartOfNextMonthUTC(now)
	if l.cacheTTL > 0 && now.Add(l.cacheTTL).Before(expireAt) {
		expireAt = now.Add(l.cacheTTL)
	}
	keys := []string{cacheKey(userID, now), genKey(userID, now)}
	err := fillScript.Run(ctx, l.cache, keys, gen,
		string(types.ResourceTypeDiscovery), u.Discoveries,
		string(types.ResourceTypeCreative), u.Creatives,
		expireAt.Unix(),
	).Err()
	if err != nil {
		logctx.FromCtx(ctx, l.log).Warnw("usage_cache_fill_failed", "user_id", userID, "error", err)
	}
}

// Invalidate drops the cached totals for the user's current month.
func (l *Ledger) Invalidate(ctx context.Context, userID string) error {
	if l.cache == nil {
		return nil
	}
	return l.cache.Del(ctx, cacheKey(userID, l.now())).Err()
}

// Events lists the user's usage events since the given instant, newest first.
func (l *Ledger) Events(ctx context.Context, userID string, since time.Time, limit int) ([]*models.UsageEvent, error) {
	var events []*models.UsageEvent
	q := l.db.WithContext(ctx).Where("user_id = ? AND created_at >= ?", userID, since.UTC()).Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

var Module = fx.Options(
	fx.Provide(NewLedger),
)
