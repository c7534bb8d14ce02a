// Package configstore owns the flat system configuration and exposes it to
// the rest of the engine only as a typed, immutable snapshot.
package configstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"keypool/internal/models"
	"keypool/internal/utils"
)

// Repository persists the flat key/value map. *storage.ConfigRepository satisfies it.
type Repository interface {
	GetAll(ctx context.Context) (map[string]string, error)
	SaveAll(ctx context.Context, values map[string]string) error
	SeedDefaults(ctx context.Context, defaults map[string]string) (int, error)
}

// Reconciler is run after every successful save with the new snapshot
type Reconciler interface {
	Reconcile(ctx context.Context, cfg models.SystemConfig) error
}

// Store serves the live configuration snapshot
type Store struct {
	repo       Repository
	snapshot   atomic.Pointer[models.SystemConfig]
	saveMu     sync.Mutex
	reconciler Reconciler
	logger     *utils.Logger
}

// New creates a store holding the defaults until Load or Seed is called
func New(repo Repository) *Store {
	s := &Store{
		repo:   repo,
		logger: utils.NewLogger("configstore"),
	}
	defaults := models.DefaultSystemConfig()
	s.snapshot.Store(&defaults)
	return s
}

// SetReconciler installs the post-save hook
func (s *Store) SetReconciler(r Reconciler) {
	s.reconciler = r
}

// Seed inserts defaults for missing keys, then loads the stored configuration
func (s *Store) Seed(ctx context.Context) error {
	inserted, err := s.repo.SeedDefaults(ctx, models.DefaultSystemConfig().Values())
	if err != nil {
		return fmt.Errorf("failed to seed config: %w", err)
	}
	if inserted > 0 {
		s.logger.Info("Seeded default configuration", "keys", inserted)
	}
	return s.Reload(ctx)
}

// Reload replaces the live snapshot with what is stored. Stored values that
// fail validation are reported and the previous snapshot is kept.
func (s *Store) Reload(ctx context.Context) error {
	values, err := s.repo.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cfg, err := models.ParseSystemConfig(values)
	if err != nil {
		return fmt.Errorf("stored configuration is invalid: %w", err)
	}

	s.snapshot.Store(&cfg)
	return nil
}

// Snapshot returns the latest committed configuration
func (s *Store) Snapshot() models.SystemConfig {
	return *s.snapshot.Load()
}

// Values returns the live configuration in its flat form, including keys
// this version does not interpret
func (s *Store) Values() map[string]string {
	return s.Snapshot().Values()
}

// ReadonlyKeys lists keys that Save refuses
func (s *Store) ReadonlyKeys() []string {
	return slices.Clone(models.ReadonlyConfigKeys)
}

// Save validates every supplied key, writes them in one transaction and
// publishes the new snapshot. Nothing is written when any key is invalid.
// The reconciler runs afterwards; its failure is logged and never undoes the save.
func (s *Store) Save(ctx context.Context, updates map[string]string) (models.SystemConfig, error) {
	if len(updates) == 0 {
		return models.SystemConfig{}, utils.Errorf(utils.ErrInvalidArgument, "configs must not be empty")
	}
	for _, key := range slices.Sorted(maps.Keys(updates)) {
		if key == "" {
			return models.SystemConfig{}, utils.Errorf(utils.ErrInvalidArgument, "config key must not be empty")
		}
		if models.IsReadonlyConfigKey(key) {
			return models.SystemConfig{}, utils.Errorf(utils.ErrInvalidArgument, "config %s is read-only", key)
		}
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	merged := s.Values()
	maps.Copy(merged, updates)

	cfg, err := models.ParseSystemConfig(merged)
	if err != nil {
		return models.SystemConfig{}, err
	}

	// Values are stored in their normalized form
	normalized := cfg.Values()
	toWrite := make(map[string]string, len(updates))
	for key := range updates {
		toWrite[key] = normalized[key]
	}

	if err := s.repo.SaveAll(ctx, toWrite); err != nil {
		return models.SystemConfig{}, fmt.Errorf("failed to save config: %w", err)
	}
	s.snapshot.Store(&cfg)
	s.logger.Info("Configuration saved", "keys", len(toWrite))

	if s.reconciler != nil {
		if err := s.reconciler.Reconcile(ctx, cfg); err != nil {
			s.logger.Warn("Reconciliation after config save failed", "error", err)
		}
	}

	return cfg, nil
}
