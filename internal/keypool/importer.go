package keypool

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"keypool/internal/models"
	"keypool/internal/utils"
)

// ImportResult reports a bulk import
type ImportResult struct {
	SuccessCount int              `json:"success_count"`
	FailCount    int              `json:"fail_count"`
	TotalCount   int              `json:"total_count"`
	SuccessKeys  []*models.APIKey `json:"success_keys"`
}

// BatchCreate imports raw credentials one line at a time. Blank lines are
// dropped; a credential that already exists, including one imported earlier in
// the same batch, counts as a failure. Created keys are named prefix-N where N
// counts created keys from 1, and get a random UA and proxy from the live config.
func (s *Service) BatchCreate(ctx context.Context, prefix string, secrets []string) (*ImportResult, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, utils.Errorf(utils.ErrInvalidArgument, "batch_name is required")
	}

	lines := make([]string, 0, len(secrets))
	for _, raw := range secrets {
		if line := strings.TrimSpace(raw); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return nil, utils.Errorf(utils.ErrInvalidArgument, "api_keys must contain at least one key")
	}

	cfg := s.config.Snapshot()
	result := &ImportResult{
		TotalCount:  len(lines),
		SuccessKeys: []*models.APIKey{},
	}

	index := 0
	for _, secret := range lines {
		exists, err := s.keys.ExistsBySecret(ctx, secret)
		if err != nil {
			s.logger.Error("Import lookup failed", "key", utils.MaskSecret(secret), "error", err)
			result.FailCount++
			continue
		}
		if exists {
			s.logger.Debug("Import skipped existing key", "key", utils.MaskSecret(secret))
			result.FailCount++
			continue
		}

		index++
		name, err := s.nextFreeName(ctx, prefix, &index)
		if err != nil {
			s.logger.Error("Import name lookup failed", "key", utils.MaskSecret(secret), "error", err)
			result.FailCount++
			continue
		}

		key := &models.APIKey{
			Name:         name,
			Secret:       secret,
			UserAgent:    randomChoice(cfg.UAList),
			Proxy:        utils.NilIfEmpty(randomChoice(cfg.ProxyList)),
			Enabled:      true,
			Balance:      decimal.NewNullDecimal(models.DefaultImportBalance),
			TotalBalance: decimal.NewNullDecimal(models.DefaultImportBalance),
		}
		if err := s.keys.Create(ctx, key); err != nil {
			s.logger.Warn("Import failed for key", "key", utils.MaskSecret(secret), "name", key.Name, "error", err)
			result.FailCount++
			continue
		}

		result.SuccessCount++
		result.SuccessKeys = append(result.SuccessKeys, key)
	}

	s.logger.Info("Batch import finished", "batch", prefix,
		"total", result.TotalCount, "success", result.SuccessCount, "failed", result.FailCount)
	return result, nil
}

// nextFreeName returns prefix-index, advancing index past names already taken
// by an earlier import with the same prefix
func (s *Service) nextFreeName(ctx context.Context, prefix string, index *int) (string, error) {
	for {
		name := fmt.Sprintf("%s-%d", prefix, *index)
		taken, err := s.keys.ExistsByName(ctx, name)
		if err != nil {
			return "", err
		}
		if !taken {
			return name, nil
		}
		*index++
	}
}
