package httpapi

import (
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"keypool/internal/keypool"
	"keypool/internal/models"
	"keypool/internal/utils"
)

type listKeysRequest struct {
	Page       int              `json:"page"`
	PageSize   int              `json:"page_size"`
	Name       string           `json:"name"`
	Enabled    *bool            `json:"enabled"`
	CreateDate string           `json:"create_date"`
	MinBalance *decimal.Decimal `json:"min_balance"`
}

type keyIDRequest struct {
	KeyID int64 `json:"key_id"`
}

type keyIDsRequest struct {
	KeyIDs []int64 `json:"key_ids"`
}

type createKeyRequest struct {
	Name         string           `json:"name"`
	APIKey       string           `json:"api_key"`
	UA           string           `json:"ua"`
	Proxy        *string          `json:"proxy"`
	Enabled      *bool            `json:"enabled"`
	Balance      *decimal.Decimal `json:"balance"`
	TotalBalance *decimal.Decimal `json:"total_balance"`
	Memo         *string          `json:"memo"`
}

type updateKeyRequest struct {
	KeyID        int64            `json:"key_id"`
	Name         *string          `json:"name"`
	APIKey       *string          `json:"api_key"`
	UA           *string          `json:"ua"`
	Proxy        *string          `json:"proxy"`
	Enabled      *bool            `json:"enabled"`
	Balance      *decimal.Decimal `json:"balance"`
	TotalBalance *decimal.Decimal `json:"total_balance"`
	Memo         *string          `json:"memo"`
}

type batchCreateRequest struct {
	BatchName string   `json:"batch_name"`
	APIKeys   []string `json:"api_keys"`
}

func (d *Dependencies) handleListKeys(w http.ResponseWriter, r *http.Request) {
	var req listKeysRequest
	if err := decodeJSON(w, r, &req); err != nil {
		utils.RespondWithError(w, err)
		return
	}

	keys, total, err := d.Keys.List(r.Context(), keypool.ListKeysInput{
		Name:       req.Name,
		Enabled:    req.Enabled,
		CreateDate: req.CreateDate,
		MinBalance: req.MinBalance,
		Page:       req.Page,
		PageSize:   req.PageSize,
	})
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}

	utils.RespondOK(w, "", pageOf(keys, total, req.Page, req.PageSize))
}

func (d *Dependencies) handleGetKey(w http.ResponseWriter, r *http.Request) {
	var req keyIDRequest
	if err := decodeJSON(w, r, &req); err != nil {
		utils.RespondWithError(w, err)
		return
	}

	key, err := d.Keys.Get(r.Context(), req.KeyID)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondOK(w, "", key)
}

func (d *Dependencies) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		utils.RespondWithError(w, err)
		return
	}

	key, err := d.Keys.Create(r.Context(), keypool.CreateKeyInput{
		Name:         req.Name,
		Secret:       req.APIKey,
		UserAgent:    req.UA,
		Proxy:        utils.StringPtrValue(req.Proxy),
		Enabled:      req.Enabled,
		Balance:      req.Balance,
		TotalBalance: req.TotalBalance,
		Memo:         utils.StringPtrValue(req.Memo),
	})
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondOK(w, "key created", key)
}

func (d *Dependencies) handleUpdateKey(w http.ResponseWriter, r *http.Request) {
	var req updateKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		utils.RespondWithError(w, err)
		return
	}
	if req.APIKey != nil {
		utils.RespondWithError(w, utils.Errorf(utils.ErrInvalidArgument, "api_key cannot be updated"))
		return
	}

	key, err := d.Keys.Update(r.Context(), req.KeyID, models.APIKeyUpdate{
		Name:         req.Name,
		UserAgent:    req.UA,
		Proxy:        req.Proxy,
		Enabled:      req.Enabled,
		Balance:      req.Balance,
		TotalBalance: req.TotalBalance,
		Memo:         req.Memo,
	})
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondOK(w, "key updated", key)
}

func (d *Dependencies) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	var req keyIDRequest
	if err := decodeJSON(w, r, &req); err != nil {
		utils.RespondWithError(w, err)
		return
	}

	if err := d.Keys.Delete(r.Context(), req.KeyID); err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondOK(w, "key deleted", nil)
}

func (d *Dependencies) handleBatchCreateKeys(w http.ResponseWriter, r *http.Request) {
	var req batchCreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		utils.RespondWithError(w, err)
		return
	}

	result, err := d.Keys.BatchCreate(r.Context(), req.BatchName, req.APIKeys)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondOK(w, batchMessage("import", result.SuccessCount, result.FailCount), result)
}

func (d *Dependencies) handleCheckKey(w http.ResponseWriter, r *http.Request) {
	var req keyIDRequest
	if err := decodeJSON(w, r, &req); err != nil {
		utils.RespondWithError(w, err)
		return
	}

	result, err := d.Checker.CheckOne(r.Context(), req.KeyID)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondOK(w, result.Message, result)
}

// handleBatchCheckKeys may run for up to the configured batch budget; the
// server write timeout is sized for it.
func (d *Dependencies) handleBatchCheckKeys(w http.ResponseWriter, r *http.Request) {
	var req keyIDsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		utils.RespondWithError(w, err)
		return
	}

	result, err := d.Checker.CheckMany(r.Context(), req.KeyIDs)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondOK(w, batchMessage("check", result.SuccessCount, result.FailCount), result)
}

func (d *Dependencies) handleBatchDeleteKeys(w http.ResponseWriter, r *http.Request) {
	var req keyIDsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		utils.RespondWithError(w, err)
		return
	}

	result, err := d.Keys.BatchDelete(r.Context(), req.KeyIDs)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondOK(w, batchMessage("delete", result.SuccessCount, result.FailCount), result)
}

func (d *Dependencies) handleActivePool(w http.ResponseWriter, r *http.Request) {
	keys, err := d.Keys.SelectActivePool(r.Context())
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondOK(w, "", keys)
}

func batchMessage(op string, success, failed int) string {
	if failed == 0 {
		return fmt.Sprintf("%s finished: %d succeeded", op, success)
	}
	return fmt.Sprintf("%s finished: %d succeeded, %d failed", op, success, failed)
}

// nonNil keeps empty lists encoding as [] rather than null
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// pageOf echoes the effective paging of an already validated list request
func pageOf[T any](items []T, total, page, pageSize int) utils.PageData[T] {
	page, pageSize, _ = utils.NormalizePage(page, pageSize)
	return utils.PageData[T]{
		Items:    nonNil(items),
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}
}
