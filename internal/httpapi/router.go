// Package httpapi serves the console API over the key pool engine.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"keypool/internal/auth"
	"keypool/internal/config"
	"keypool/internal/configstore"
	"keypool/internal/health"
	"keypool/internal/keypool"
	"keypool/internal/middleware"
	"keypool/internal/models"
	"keypool/internal/queue"
	"keypool/internal/ratelimit"
	"keypool/internal/stats"
	"keypool/internal/storage"
	"keypool/internal/usage"
	"keypool/internal/utils"
)

// Dependencies aggregates all services the HTTP layer and the CLI need.
type Dependencies struct {
	Config      *config.Config
	DB          *storage.DB
	Redis       *redis.Client // nil when Redis is not configured
	ConfigStore *configstore.Store
	Keys        *keypool.Service
	Checker     *health.Checker
	Usage       *usage.Ingest
	UsageWorker *storage.UsageQueueWorker
	Stats       *stats.Aggregator
	AdminUsers  *storage.AdminUserRepository
	LoginLimit  ratelimit.Limiter

	logger *utils.Logger
}

// Open connects to the database and, when configured, Redis, applies the
// schema and assembles the engine.
func Open(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	db, err := storage.NewDB(storage.DBConfig{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	var redisClient *redis.Client
	if cfg.Redis.Address != "" {
		redisClient, err = queue.NewRedisClient(ctx, queue.RedisOptions{
			Address:      cfg.Redis.Address,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize Redis: %w", err)
		}
	}

	prober := health.NewOpenAIProber(cfg.Health.UpstreamURL, cfg.Health.ProbeModel)
	deps, err := NewDependencies(ctx, cfg, db, redisClient, prober)
	if err != nil {
		if redisClient != nil {
			redisClient.Close()
		}
		db.Close()
		return nil, err
	}
	return deps, nil
}

// NewDependencies wires the engine over an already migrated database.
// redisClient may be nil.
func NewDependencies(ctx context.Context, cfg *config.Config, db *storage.DB, redisClient *redis.Client, prober health.Prober) (*Dependencies, error) {
	loc := cfg.Timezone
	if loc == nil {
		loc = time.Local
	}

	keyRepo := db.NewKeyRepository()
	usageRepo := db.NewUsageLogRepository()

	configStore := configstore.New(db.NewConfigRepository())
	keys := keypool.NewService(keyRepo, configStore, loc)
	configStore.SetReconciler(keys)
	if err := configStore.Seed(ctx); err != nil {
		return nil, err
	}

	queueCfg := queue.DefaultConfig("usage")
	queueCfg.BatchSize = cfg.Queue.BatchSize
	queueCfg.BatchTimeout = cfg.Queue.BatchTimeout
	queueCfg.MaxRetries = cfg.Queue.MaxRetries
	queueCfg.RetryBackoff = cfg.Queue.RetryBackoff
	queueCfg.Capacity = cfg.Queue.Capacity
	usageQueue, usageDLQ := queue.New[*models.UsageLog](queueCfg, redisClient)
	usageWorker := storage.NewUsageQueueWorker(usageQueue, usageDLQ, usageRepo, queueCfg)

	aggregator, err := stats.NewAggregator(usageRepo, db.NewStatsRepository(), redisClient, stats.Config{
		Location: loc,
		Interval: cfg.Stats.Interval,
		CacheTTL: cfg.Stats.CacheTTL,
		LockTTL:  cfg.Stats.LockTTL,
	})
	if err != nil {
		return nil, err
	}

	var loginLimit ratelimit.Limiter = ratelimit.NewNoopLimiter()
	if redisClient != nil && cfg.LoginRateLimit > 0 {
		loginLimit = ratelimit.NewRateLimiter(redisClient).ForLimit(cfg.LoginRateLimit)
	}

	return &Dependencies{
		Config:      cfg,
		DB:          db,
		Redis:       redisClient,
		ConfigStore: configStore,
		Keys:        keys,
		Checker: health.NewChecker(keyRepo, prober, health.Config{
			Workers:      cfg.Health.Workers,
			KeyTimeout:   cfg.Health.KeyTimeout,
			BatchTimeout: cfg.Health.BatchTimeout,
		}),
		Usage:       usage.NewIngest(usageRepo, usageWorker, configStore),
		UsageWorker: usageWorker,
		Stats:       aggregator,
		AdminUsers:  db.NewAdminUserRepository(),
		LoginLimit:  loginLimit,
		logger:      utils.NewLogger("httpapi"),
	}, nil
}

// Start launches the usage writer and the periodic stats pass
func (d *Dependencies) Start(ctx context.Context) {
	d.UsageWorker.Start(ctx)
	d.Stats.Start(ctx)
}

// Close stops the background work, draining queued usage, and releases connections
func (d *Dependencies) Close() error {
	d.Stats.Stop()
	err := d.UsageWorker.Stop()
	d.Stats.Close()
	if d.Redis != nil {
		err = errors.Join(err, d.Redis.Close())
	}
	return errors.Join(err, d.DB.Close())
}

// NewRouter builds the console API. Every /api route except login and logout
// requires a session; viewers may read, writes need the admin role.
func NewRouter(d *Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(utils.NewLogger("http")))
	r.Use(chimw.Recoverer)

	r.Get("/health", d.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(middleware.RateLimitByIP(d.LoginLimit, "login")).Post("/login", d.handleLogin)
			r.Post("/logout", d.handleLogout)
		})

		viewer := middleware.AdminJWTMiddleware(d.Config, auth.RoleViewer)
		admin := middleware.AdminJWTMiddleware(d.Config, auth.RoleAdmin)

		r.Route("/keys", func(r chi.Router) {
			r.With(viewer).Post("/list", d.handleListKeys)
			r.With(viewer).Post("/get", d.handleGetKey)
			r.With(viewer).Post("/pool", d.handleActivePool)
			r.With(admin).Post("/create", d.handleCreateKey)
			r.With(admin).Post("/update", d.handleUpdateKey)
			r.With(admin).Post("/delete", d.handleDeleteKey)
			r.With(admin).Post("/batchCreate", d.handleBatchCreateKeys)
			r.With(admin).Post("/check", d.handleCheckKey)
			r.With(admin).Post("/batchCheck", d.handleBatchCheckKeys)
			r.With(admin).Post("/batchDelete", d.handleBatchDeleteKeys)
		})

		r.Route("/logs", func(r chi.Router) {
			r.With(viewer).Post("/list", d.handleListLogs)
			r.With(admin).Post("/record", d.handleRecordLog)
			r.With(admin).Post("/dlq/list", d.handleListDeadLetters)
			r.With(admin).Post("/dlq/retry", d.handleRetryDeadLetter)
		})

		r.Route("/configs", func(r chi.Router) {
			r.With(viewer).Post("/system/get", d.handleGetSystemConfig)
			r.With(admin).Post("/system/save", d.handleSaveSystemConfig)
			r.With(viewer).Post("/ua/list", d.handleListUserAgents)
			r.With(viewer).Post("/proxy/list", d.handleListProxies)
		})

		r.Route("/dashboard", func(r chi.Router) {
			r.Use(viewer)
			r.Post("/overview", d.handleOverview)
			r.Post("/hourly-trend", d.handleHourlyTrend)
			r.Post("/provider-distribution", d.handleProviderDistribution)
			r.Post("/model-distribution", d.handleModelDistribution)
			r.Post("/error-stats", d.handleErrorStats)
			r.Post("/key-balance-stats", d.handleKeyBalanceStats)
			r.Post("/snapshots", d.handleSnapshots)
			r.With(admin).Post("/trigger-stats", d.handleTriggerStats)
			r.With(admin).Post("/update-keys-balance", d.handleUpdateKeysBalance)
		})
	})

	return r
}

func (d *Dependencies) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := d.DB.Health(r.Context()); err != nil {
		d.logger.Error("Health check failed", "error", err)
		utils.RespondWithJSON(w, http.StatusServiceUnavailable, utils.Envelope{
			Code: http.StatusServiceUnavailable, Msg: "database unavailable", Success: false,
		})
		return
	}

	queued, err := d.UsageWorker.GetQueueLength(r.Context())
	if err != nil {
		d.logger.Warn("Failed to read usage queue length", "error", err)
		queued = -1
	}
	utils.RespondOK(w, "ok", healthStatus{
		Driver:           d.DB.Driver(),
		DB:               d.DB.GetStats(),
		UsageQueueLength: queued,
	})
}

type healthStatus struct {
	Driver           string          `json:"driver"`
	DB               storage.DBStats `json:"db"`
	UsageQueueLength int             `json:"usage_queue_length"`
}
