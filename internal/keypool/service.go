// Package keypool manages the upstream credential pool: key CRUD, active
// pool selection, bulk import and UA/proxy reconciliation.
package keypool

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"keypool/internal/models"
	"keypool/internal/storage"
	"keypool/internal/utils"
)

// KeyStore is the persistence the pool needs. *storage.KeyRepository satisfies it.
type KeyStore interface {
	Create(ctx context.Context, key *models.APIKey) error
	GetByID(ctx context.Context, id int64) (*models.APIKey, error)
	ExistsBySecret(ctx context.Context, secret string) (bool, error)
	ExistsByName(ctx context.Context, name string) (bool, error)
	ListWithFilters(ctx context.Context, filters storage.KeyListFilters) (*storage.KeyListResult, error)
	ListEnabled(ctx context.Context) ([]*models.APIKey, error)
	Update(ctx context.Context, id int64, update models.APIKeyUpdate) (*models.APIKey, error)
	Delete(ctx context.Context, id int64) error
	UpdateAssignment(ctx context.Context, id int64, ua string, proxy *string) error
	BalanceStats(ctx context.Context) (*models.KeyBalanceStats, error)
}

// ConfigSource yields the live system configuration
type ConfigSource interface {
	Snapshot() models.SystemConfig
}

// Service validates operator input before it reaches the key store and
// implements selection, import and reconciliation over it
type Service struct {
	keys   KeyStore
	config ConfigSource
	loc    *time.Location
	logger *utils.Logger
}

// NewService creates a key service. loc is used to interpret calendar dates in filters.
func NewService(keys KeyStore, config ConfigSource, loc *time.Location) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		keys:   keys,
		config: config,
		loc:    loc,
		logger: utils.NewLogger("keypool"),
	}
}

// CreateKeyInput holds the fields of a new key
type CreateKeyInput struct {
	Name         string
	Secret       string
	UserAgent    string
	Proxy        string
	Enabled      *bool
	Balance      *decimal.Decimal
	TotalBalance *decimal.Decimal
	Memo         string
}

// Create validates and stores a new key
func (s *Service) Create(ctx context.Context, in CreateKeyInput) (*models.APIKey, error) {
	name := strings.TrimSpace(in.Name)
	secret := strings.TrimSpace(in.Secret)
	ua := strings.TrimSpace(in.UserAgent)
	proxy := strings.TrimSpace(in.Proxy)

	switch {
	case name == "":
		return nil, utils.Errorf(utils.ErrInvalidArgument, "name is required")
	case secret == "":
		return nil, utils.Errorf(utils.ErrInvalidArgument, "api_key is required")
	case ua == "":
		return nil, utils.Errorf(utils.ErrInvalidArgument, "ua is required")
	}
	if proxy != "" {
		if err := models.ValidateProxyURL(proxy); err != nil {
			return nil, err
		}
	}

	key := &models.APIKey{
		Name:      name,
		Secret:    secret,
		UserAgent: ua,
		Proxy:     utils.NilIfEmpty(proxy),
		Enabled:   true,
		Memo:      utils.NilIfEmpty(strings.TrimSpace(in.Memo)),
	}
	if in.Enabled != nil {
		key.Enabled = *in.Enabled
	}
	if in.Balance != nil {
		key.Balance = decimal.NewNullDecimal(*in.Balance)
	}
	if in.TotalBalance != nil {
		key.TotalBalance = decimal.NewNullDecimal(*in.TotalBalance)
	}

	if err := s.keys.Create(ctx, key); err != nil {
		return nil, err
	}

	s.logger.Info("Key created", "id", key.ID, "name", key.Name)
	return key, nil
}

// Get returns one key
func (s *Service) Get(ctx context.Context, id int64) (*models.APIKey, error) {
	if id <= 0 {
		return nil, utils.Errorf(utils.ErrInvalidArgument, "key_id is required")
	}
	return s.keys.GetByID(ctx, id)
}

// ListKeysInput holds list filters. CreateDate is YYYY-MM-DD in the service timezone.
type ListKeysInput struct {
	Name       string
	Enabled    *bool
	CreateDate string
	MinBalance *decimal.Decimal
	Page       int
	PageSize   int
}

// List returns one page of keys, newest first, and the total match count
func (s *Service) List(ctx context.Context, in ListKeysInput) ([]*models.APIKey, int, error) {
	page, pageSize, err := utils.NormalizePage(in.Page, in.PageSize)
	if err != nil {
		return nil, 0, err
	}

	filters := storage.KeyListFilters{
		Name:       strings.TrimSpace(in.Name),
		Enabled:    in.Enabled,
		MinBalance: in.MinBalance,
		Page:       page,
		PageSize:   pageSize,
	}

	if in.CreateDate != "" {
		day, err := time.ParseInLocation(time.DateOnly, in.CreateDate, s.loc)
		if err != nil {
			return nil, 0, utils.Errorf(utils.ErrInvalidArgument, "create_date must be YYYY-MM-DD: %q", in.CreateDate)
		}
		window := models.DayWindow(day, s.loc)
		filters.CreatedFrom = &window.Start
		filters.CreatedTo = &window.End
	}

	result, err := s.keys.ListWithFilters(ctx, filters)
	if err != nil {
		return nil, 0, err
	}
	return result.Keys, result.TotalCount, nil
}

// Update applies a partial update. The credential itself is never editable.
func (s *Service) Update(ctx context.Context, id int64, update models.APIKeyUpdate) (*models.APIKey, error) {
	if id <= 0 {
		return nil, utils.Errorf(utils.ErrInvalidArgument, "key_id is required")
	}
	if update.IsEmpty() {
		return nil, utils.Errorf(utils.ErrInvalidArgument, "no fields to update")
	}

	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return nil, utils.Errorf(utils.ErrInvalidArgument, "name must not be empty")
		}
		update.Name = &name
	}
	if update.UserAgent != nil {
		ua := strings.TrimSpace(*update.UserAgent)
		if ua == "" {
			return nil, utils.Errorf(utils.ErrInvalidArgument, "ua must not be empty")
		}
		update.UserAgent = &ua
	}
	if update.Proxy != nil {
		proxy := strings.TrimSpace(*update.Proxy)
		if proxy != "" {
			if err := models.ValidateProxyURL(proxy); err != nil {
				return nil, err
			}
		}
		update.Proxy = &proxy
	}

	key, err := s.keys.Update(ctx, id, update)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Key updated", "id", id)
	return key, nil
}

// Delete hard-deletes a key
func (s *Service) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return utils.Errorf(utils.ErrInvalidArgument, "key_id is required")
	}
	if err := s.keys.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Key deleted", "id", id)
	return nil
}

// BatchResult counts the outcome of a per-item batch operation
type BatchResult struct {
	SuccessCount int `json:"success_count"`
	FailCount    int `json:"fail_count"`
	TotalCount   int `json:"total_count"`
}

// BatchDelete deletes each id independently; unknown ids count as failures
func (s *Service) BatchDelete(ctx context.Context, ids []int64) (*BatchResult, error) {
	if len(ids) == 0 {
		return nil, utils.Errorf(utils.ErrInvalidArgument, "key_ids must not be empty")
	}

	result := &BatchResult{TotalCount: len(ids)}
	for _, id := range ids {
		if err := s.keys.Delete(ctx, id); err != nil {
			s.logger.Warn("Batch delete skipped key", "id", id, "error", err)
			result.FailCount++
			continue
		}
		result.SuccessCount++
	}

	s.logger.Info("Batch delete finished", "success", result.SuccessCount, "failed", result.FailCount)
	return result, nil
}

// BalanceStats summarizes credit across the pool
func (s *Service) BalanceStats(ctx context.Context) (*models.KeyBalanceStats, error) {
	return s.keys.BalanceStats(ctx)
}
