package keypool

import (
	"context"
	"math/rand/v2"

	"keypool/internal/models"
	"keypool/internal/utils"
)

// SelectActivePool samples min(key_pool_size, enabled) distinct enabled keys.
// Nothing is cached: every call reads the current enabled set and pool size.
func (s *Service) SelectActivePool(ctx context.Context) ([]*models.APIKey, error) {
	cfg := s.config.Snapshot()

	enabled, err := s.keys.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}

	selectable := enabled[:0]
	for _, key := range enabled {
		if key.IsSelectable() {
			selectable = append(selectable, key)
		}
	}
	if len(selectable) == 0 {
		return nil, utils.Errorf(utils.ErrPoolExhausted, "no enabled keys available")
	}

	switch cfg.Strategy {
	case models.StrategyRandom:
		return sampleRandom(selectable, cfg.PoolSize), nil
	default:
		return nil, utils.Errorf(utils.ErrInvalidArgument, "unsupported selection strategy %q", cfg.Strategy)
	}
}

// sampleRandom returns n keys drawn uniformly without replacement
func sampleRandom(keys []*models.APIKey, n int) []*models.APIKey {
	n = min(n, len(keys))
	pool := make([]*models.APIKey, len(keys))
	copy(pool, keys)
	// partial Fisher-Yates: the first n slots end up a uniform sample
	for i := 0; i < n; i++ {
		j := i + rand.IntN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:n]
}

func randomChoice(list []string) string {
	if len(list) == 0 {
		return ""
	}
	return list[rand.IntN(len(list))]
}
