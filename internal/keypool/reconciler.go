package keypool

import (
	"context"
	"errors"
	"fmt"

	"keypool/internal/models"
)

// ReconcileResult counts the keys touched by one reconciliation pass
type ReconcileResult struct {
	Checked int
	Updated int
	Failed  int
}

// Reconcile moves every enabled key onto the UA and proxy lists of cfg. A key
// whose UA is not listed gets a random listed UA; a key whose proxy is set and
// not listed gets a random listed proxy, or none when the list is empty. Keys
// already compliant are left alone. A failing key never stops the pass; the
// failures are joined into the returned error.
func (s *Service) Reconcile(ctx context.Context, cfg models.SystemConfig) error {
	_, err := s.reconcile(ctx, cfg)
	return err
}

func (s *Service) reconcile(ctx context.Context, cfg models.SystemConfig) (ReconcileResult, error) {
	var result ReconcileResult

	keys, err := s.keys.ListEnabled(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to list keys for reconciliation: %w", err)
	}

	var errs []error
	for _, key := range keys {
		result.Checked++

		ua := key.UserAgent
		if len(cfg.UAList) > 0 && !cfg.HasUserAgent(ua) {
			ua = randomChoice(cfg.UAList)
		}

		proxy := key.Proxy
		if current := key.ProxyAddress(); current != "" && !cfg.HasProxy(current) {
			if len(cfg.ProxyList) > 0 {
				next := randomChoice(cfg.ProxyList)
				proxy = &next
			} else {
				proxy = nil
			}
		}

		if ua == key.UserAgent && proxy == key.Proxy {
			continue
		}

		if err := s.keys.UpdateAssignment(ctx, key.ID, ua, proxy); err != nil {
			s.logger.Warn("Reconciliation failed for key", "id", key.ID, "name", key.Name, "error", err)
			result.Failed++
			errs = append(errs, fmt.Errorf("key %d: %w", key.ID, err))
			continue
		}
		result.Updated++
	}

	s.logger.Info("Reconciliation finished", "checked", result.Checked, "updated", result.Updated, "failed", result.Failed)
	return result, errors.Join(errs...)
}
