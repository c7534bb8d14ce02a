// Package stats reduces the usage log into dashboard aggregates and persists
// periodic snapshots of them.
package stats

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"keypool/internal/models"
	"keypool/internal/storage"
	"keypool/internal/utils"
)

// Defaults used when Config leaves a field zero
const (
	DefaultInterval   = 5 * time.Minute
	DefaultCacheTTL   = time.Minute
	DefaultLockTTL    = 2 * time.Minute
	DefaultModelLimit = 10

	costPlaces = 6
)

// UsageSource reduces usage rows. *storage.UsageLogRepository satisfies it.
type UsageSource interface {
	AggregateTotals(ctx context.Context, window models.TimeWindow) (*storage.UsageTotals, error)
	AggregateByProvider(ctx context.Context, window models.TimeWindow) ([]*storage.UsageTotals, error)
	AggregateByModel(ctx context.Context, window models.TimeWindow, limit int) ([]*storage.UsageTotals, error)
	CountErrorsByType(ctx context.Context, window models.TimeWindow) ([]models.ErrorTypeCount, error)
}

// SnapshotStore persists and reads snapshot rows. *storage.StatsRepository satisfies it.
type SnapshotStore interface {
	ReplaceSnapshots(ctx context.Context, slots []storage.SnapshotSlot, rows []*models.RequestStat) error
	ListSnapshots(ctx context.Context, slot storage.SnapshotSlot) ([]*models.RequestStat, error)
}

// Config holds aggregator settings
type Config struct {
	Location *time.Location
	Interval time.Duration
	CacheTTL time.Duration
	LockTTL  time.Duration
}

// Aggregator serves dashboard aggregates from a short-lived cache and runs
// snapshot passes, one at a time
type Aggregator struct {
	usage     UsageSource
	snapshots SnapshotStore
	config    Config
	cache     *ristretto.Cache[string, any]
	lock      *passLock
	group     singleflight.Group
	logger    *utils.Logger
	now       func() time.Time

	started     atomic.Bool
	stopOnce    sync.Once
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewAggregator creates an aggregator. client may be nil; when set, snapshot
// passes are also serialized across processes sharing that Redis.
func NewAggregator(usage UsageSource, snapshots SnapshotStore, client *redis.Client, config Config) (*Aggregator, error) {
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = DefaultCacheTTL
	}
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultLockTTL
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, any]{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create stats cache: %w", err)
	}

	a := &Aggregator{
		usage:       usage,
		snapshots:   snapshots,
		config:      config,
		cache:       cache,
		logger:      utils.NewLogger("stats"),
		now:         time.Now,
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
	if client != nil {
		a.lock = newPassLock(client, config.LockTTL)
	}
	return a, nil
}

// Close releases the cache
func (a *Aggregator) Close() {
	a.cache.Close()
}

// Today returns the current calendar day in the configured timezone
func (a *Aggregator) Today() models.TimeWindow {
	return models.DayWindow(a.now(), a.config.Location)
}

// DayWindow parses a YYYY-MM-DD date in the configured timezone. An empty date means today.
func (a *Aggregator) DayWindow(date string) (models.TimeWindow, error) {
	if date == "" {
		return a.Today(), nil
	}
	day, err := time.ParseInLocation(time.DateOnly, date, a.config.Location)
	if err != nil {
		return models.TimeWindow{}, utils.Errorf(utils.ErrInvalidArgument, "date must be YYYY-MM-DD: %q", date)
	}
	return models.DayWindow(day, a.config.Location), nil
}

// Snapshots returns the rows the last pass stored for date (empty means today)
// and hour, where models.FullDayHour selects the whole-day rows
func (a *Aggregator) Snapshots(ctx context.Context, date string, hour int) ([]*models.RequestStat, error) {
	window, err := a.DayWindow(date)
	if err != nil {
		return nil, err
	}
	if hour < models.FullDayHour || hour > 23 {
		return nil, utils.Errorf(utils.ErrInvalidArgument, "hour must be between %d and 23", models.FullDayHour)
	}
	slot := storage.SnapshotSlot{Date: window.Start.In(a.config.Location).Format(time.DateOnly), Hour: hour}
	return a.snapshots.ListSnapshots(ctx, slot)
}

// Overview totals every request in window
func (a *Aggregator) Overview(ctx context.Context, window models.TimeWindow) (*models.Overview, error) {
	return cached(a, cacheKey("overview", window, 0), func() (*models.Overview, error) {
		totals, err := a.usage.AggregateTotals(ctx, window)
		if err != nil {
			return nil, err
		}
		return &models.Overview{
			RequestCount: totals.RequestCount,
			SuccessCount: totals.SuccessCount,
			ErrorCount:   totals.ErrorCount,
			SuccessRate:  models.SuccessRate(totals.SuccessCount, totals.RequestCount),
			TotalCost:    roundCost(totals.TotalCost),
			TotalTokens:  totals.TotalTokens,
			AvgLatencyMs: totals.AvgLatencyMs,
		}, nil
	})
}

// HourlyTrend returns 24 hourly buckets, oldest first, ending with the hour containing at
func (a *Aggregator) HourlyTrend(ctx context.Context, at time.Time) ([]models.HourlyBucket, error) {
	last := models.HourWindow(at, a.config.Location)
	return cached(a, cacheKey("hourly", last, 0), func() ([]models.HourlyBucket, error) {
		buckets := make([]models.HourlyBucket, 0, 24)
		for i := 23; i >= 0; i-- {
			window := models.HourWindow(last.Start.Add(-time.Duration(i)*time.Hour), a.config.Location)
			totals, err := a.usage.AggregateTotals(ctx, window)
			if err != nil {
				return nil, err
			}
			buckets = append(buckets, models.HourlyBucket{
				Hour:         window.Start.In(a.config.Location).Format("2006-01-02 15:00"),
				RequestCount: totals.RequestCount,
				SuccessCount: totals.SuccessCount,
				ErrorCount:   totals.ErrorCount,
				TotalCost:    roundCost(totals.TotalCost),
				TotalTokens:  totals.TotalTokens,
			})
		}
		return buckets, nil
	})
}

// ProviderDistribution splits window by provider, busiest first
func (a *Aggregator) ProviderDistribution(ctx context.Context, window models.TimeWindow) ([]models.ProviderStat, error) {
	return cached(a, cacheKey("provider", window, 0), func() ([]models.ProviderStat, error) {
		groups, err := a.usage.AggregateByProvider(ctx, window)
		if err != nil {
			return nil, err
		}
		stats := make([]models.ProviderStat, 0, len(groups))
		for _, g := range groups {
			stats = append(stats, models.ProviderStat{
				Provider:     g.Provider,
				RequestCount: g.RequestCount,
				SuccessRate:  models.SuccessRate(g.SuccessCount, g.RequestCount),
				TotalCost:    roundCost(g.TotalCost),
				TotalTokens:  g.TotalTokens,
			})
		}
		return stats, nil
	})
}

// ModelDistribution returns the limit busiest models in window; limit <= 0 means 10
func (a *Aggregator) ModelDistribution(ctx context.Context, window models.TimeWindow, limit int) ([]models.ModelStat, error) {
	if limit <= 0 {
		limit = DefaultModelLimit
	}
	return cached(a, cacheKey("model", window, limit), func() ([]models.ModelStat, error) {
		groups, err := a.usage.AggregateByModel(ctx, window, limit)
		if err != nil {
			return nil, err
		}
		stats := make([]models.ModelStat, 0, len(groups))
		for _, g := range groups {
			stats = append(stats, models.ModelStat{
				Model:        g.Model,
				Provider:     g.Provider,
				RequestCount: g.RequestCount,
				TotalCost:    roundCost(g.TotalCost),
				TotalTokens:  g.TotalTokens,
				AvgLatencyMs: g.AvgLatencyMs,
			})
		}
		return stats, nil
	})
}

// ErrorDistribution counts failed requests in window by error type
func (a *Aggregator) ErrorDistribution(ctx context.Context, window models.TimeWindow) (*models.ErrorStats, error) {
	return cached(a, cacheKey("errors", window, 0), func() (*models.ErrorStats, error) {
		counts, err := a.usage.CountErrorsByType(ctx, window)
		if err != nil {
			return nil, err
		}
		result := &models.ErrorStats{ErrorDistribution: counts}
		for _, c := range counts {
			result.TotalErrors += c.Count
		}
		return result, nil
	})
}

func cacheKey(kind string, window models.TimeWindow, n int) string {
	return fmt.Sprintf("%s:%d:%d:%d", kind, window.Start.Unix(), window.End.Unix(), n)
}

// cached returns the value under key, computing and storing it on a miss
func cached[T any](a *Aggregator, key string, compute func() (T, error)) (T, error) {
	if v, ok := a.cache.Get(key); ok {
		if typed, ok := v.(T); ok {
			return typed, nil
		}
	}

	value, err := compute()
	if err != nil {
		var zero T
		return zero, err
	}

	a.cache.SetWithTTL(key, value, 1, a.config.CacheTTL)
	a.cache.Wait()
	return value, nil
}

func roundCost(d decimal.Decimal) decimal.Decimal {
	return d.Round(costPlaces)
}
