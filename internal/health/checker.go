// Package health verifies pool credentials against the upstream provider and
// records the outcome on each key.
package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"keypool/internal/models"
	"keypool/internal/utils"
)

// Defaults used when Config leaves a field zero
const (
	DefaultWorkers      = 10
	DefaultKeyTimeout   = 30 * time.Second
	DefaultBatchTimeout = time.Hour

	recordTimeout = 10 * time.Second

	msgBudgetExhausted = "not checked: batch budget exhausted"
)

// KeyStore is the persistence the checker needs. *storage.KeyRepository satisfies it.
type KeyStore interface {
	GetByID(ctx context.Context, id int64) (*models.APIKey, error)
	ListEnabled(ctx context.Context) ([]*models.APIKey, error)
	RecordCheckSuccess(ctx context.Context, id int64) error
	RecordCheckFailure(ctx context.Context, id int64, errorCode string) error
}

// Config bounds the checker's concurrency and latency
type Config struct {
	Workers      int
	KeyTimeout   time.Duration
	BatchTimeout time.Duration
}

// CheckResult is the outcome for one key
type CheckResult struct {
	KeyID     int64  `json:"key_id"`
	KeyName   string `json:"key_name"`
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code,omitempty"`
}

// BatchCheckResult reports a batch of checks. Results hold one entry per
// requested id, in request order.
type BatchCheckResult struct {
	SuccessCount int            `json:"success_count"`
	FailCount    int            `json:"fail_count"`
	TotalCount   int            `json:"total_count"`
	Results      []*CheckResult `json:"results"`
}

// BalanceUpdateResult reports a pool-wide balance refresh
type BalanceUpdateResult struct {
	TotalKeys   int      `json:"total_keys"`
	UpdatedKeys int      `json:"updated_keys"`
	FailedKeys  int      `json:"failed_keys"`
	Errors      []string `json:"errors"`
}

// Checker runs liveness checks with a bounded number of concurrent upstream calls
type Checker struct {
	keys   KeyStore
	prober Prober
	config Config
	logger *utils.Logger
}

// NewChecker creates a checker
func NewChecker(keys KeyStore, prober Prober, config Config) *Checker {
	if config.Workers <= 0 {
		config.Workers = DefaultWorkers
	}
	if config.KeyTimeout <= 0 {
		config.KeyTimeout = DefaultKeyTimeout
	}
	if config.BatchTimeout <= 0 {
		config.BatchTimeout = DefaultBatchTimeout
	}
	return &Checker{
		keys:   keys,
		prober: prober,
		config: config,
		logger: utils.NewLogger("health"),
	}
}

// CheckOne probes a single key and records the outcome on it. An upstream
// rejection is reported in the result, not as an error.
func (c *Checker) CheckOne(ctx context.Context, id int64) (*CheckResult, error) {
	key, err := c.keys.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.check(ctx, key), nil
}

// CheckMany probes every id. The batch runs detached from ctx's cancellation
// and is bounded by the batch timeout instead; each probe is bounded by the
// per-key timeout.
func (c *Checker) CheckMany(ctx context.Context, ids []int64) (*BatchCheckResult, error) {
	if len(ids) == 0 {
		return nil, utils.Errorf(utils.ErrInvalidArgument, "key_ids must not be empty")
	}

	batchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.BatchTimeout)
	defer cancel()

	results := make([]*CheckResult, len(ids))
	g := new(errgroup.Group)
	g.SetLimit(c.config.Workers)

	for i, id := range ids {
		g.Go(func() error {
			if batchCtx.Err() != nil {
				results[i] = c.notChecked(ctx, id)
				return nil
			}
			key, err := c.keys.GetByID(batchCtx, id)
			if err != nil {
				if batchCtx.Err() != nil {
					results[i] = c.notChecked(ctx, id)
					return nil
				}
				results[i] = &CheckResult{KeyID: id, KeyName: "unknown", Message: "key not found"}
				if !errors.Is(err, utils.ErrNotFound) {
					results[i].Message = fmt.Sprintf("failed to load key: %v", err)
				}
				return nil
			}
			results[i] = c.check(batchCtx, key)
			return nil
		})
	}
	_ = g.Wait()

	batch := &BatchCheckResult{TotalCount: len(ids), Results: results}
	for _, r := range results {
		if r.Success {
			batch.SuccessCount++
		} else {
			batch.FailCount++
		}
	}

	c.logger.Info("Batch check finished",
		"total", batch.TotalCount, "success", batch.SuccessCount, "failed", batch.FailCount)
	return batch, nil
}

// UpdateAllBalances checks every enabled key, refreshing balances of the
// healthy ones and disabling the rest
func (c *Checker) UpdateAllBalances(ctx context.Context) (*BalanceUpdateResult, error) {
	keys, err := c.keys.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled keys: %w", err)
	}

	result := &BalanceUpdateResult{TotalKeys: len(keys), Errors: []string{}}
	if len(keys) == 0 {
		return result, nil
	}

	ids := make([]int64, len(keys))
	for i, key := range keys {
		ids[i] = key.ID
	}

	batch, err := c.CheckMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	result.UpdatedKeys = batch.SuccessCount
	result.FailedKeys = batch.FailCount
	for _, r := range batch.Results {
		if !r.Success {
			result.Errors = append(result.Errors, fmt.Sprintf("%s (id %d): %s", r.KeyName, r.KeyID, r.Message))
		}
	}
	return result, nil
}

// notChecked reports a key the batch never probed. The key is left untouched.
func (c *Checker) notChecked(ctx context.Context, id int64) *CheckResult {
	result := &CheckResult{KeyID: id, KeyName: "unknown", Message: msgBudgetExhausted}

	loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	key, err := c.keys.GetByID(loadCtx, id)
	switch {
	case err == nil:
		result.KeyName = key.Name
	case errors.Is(err, utils.ErrNotFound):
		result.Message = "key not found"
	}
	return result
}

func (c *Checker) check(ctx context.Context, key *models.APIKey) *CheckResult {
	result := &CheckResult{KeyID: key.ID, KeyName: key.Name}

	probeCtx, cancel := context.WithTimeout(ctx, c.config.KeyTimeout)
	start := time.Now()
	err := c.prober.Probe(probeCtx, key)
	cancel()

	// outcomes are recorded even when the batch budget ran out
	recordCtx, cancelRecord := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancelRecord()

	if err == nil {
		if err := c.keys.RecordCheckSuccess(recordCtx, key.ID); err != nil {
			c.logger.Error("Failed to record check success", "id", key.ID, "error", err)
			result.Message = fmt.Sprintf("check passed but balance update failed: %v", err)
			return result
		}
		result.Success = true
		result.Message = "check passed"
		if !key.Enabled {
			result.Message = "check passed, key stays disabled until re-enabled"
		}
		c.logger.Debug("Key check passed", "id", key.ID, "latency", time.Since(start))
		return result
	}

	// the batch budget ran out before the key answered
	if ctx.Err() != nil {
		result.Message = msgBudgetExhausted
		c.logger.Warn("Key check cut by batch budget", "id", key.ID, "name", key.Name)
		return result
	}

	if errors.Is(probeCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("check timed out after %s: %w", time.Since(start).Round(time.Millisecond), context.DeadlineExceeded)
	}
	result.ErrorCode = NormalizeErrorCode(err)
	result.Message = err.Error()

	if recErr := c.keys.RecordCheckFailure(recordCtx, key.ID, result.ErrorCode); recErr != nil {
		c.logger.Error("Failed to record check failure", "id", key.ID, "error", recErr)
	}
	c.logger.Warn("Key check failed, key disabled", "id", key.ID, "name", key.Name, "code", result.ErrorCode, "error", err)
	return result
}
