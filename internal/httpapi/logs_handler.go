package httpapi

import (
	"net/http"

	"github.com/shopspring/decimal"

	"keypool/internal/models"
	"keypool/internal/usage"
	"keypool/internal/utils"
)

type listLogsRequest struct {
	Page      int    `json:"page"`
	PageSize  int    `json:"page_size"`
	KeyID     *int64 `json:"key_id"`
	APIKey    string `json:"api_key"`
	Status    string `json:"status"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// recordLogRequest is one proxied attempt as reported by the proxy path
type recordLogRequest struct {
	RequestID     string  `json:"request_id"`
	KeyID         *int64  `json:"key_id"`
	APIKey        *string `json:"api_key"`
	Proxy         *string `json:"proxy"`
	Provider      string  `json:"provider"`
	Model         string  `json:"model"`
	ResponseModel *string `json:"res_model"`

	PromptTokens             int64 `json:"prompt_tokens"`
	CompletionTokens         int64 `json:"completion_tokens"`
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
	TotalTokens              int64 `json:"total_tokens"`

	Cost           decimal.Decimal `json:"cost"`
	LatencyMs      *int64          `json:"latency_ms"`
	Status         string          `json:"status"`
	HTTPStatusCode *int            `json:"http_status_code"`
	ErrorType      *string         `json:"error_type"`
	ErrorMessage   *string         `json:"error_message"`
	RequestBody    *string         `json:"request_body"`
	ResponseBody   *string         `json:"response_body"`

	// Async hands the entry to the background writer instead of inserting it inline
	Async bool `json:"async"`
}

func (req *recordLogRequest) toModel() *models.UsageLog {
	return &models.UsageLog{
		RequestID:                req.RequestID,
		KeyID:                    req.KeyID,
		Secret:                   req.APIKey,
		Proxy:                    req.Proxy,
		Provider:                 req.Provider,
		Model:                    req.Model,
		ResponseModel:            req.ResponseModel,
		PromptTokens:             req.PromptTokens,
		CompletionTokens:         req.CompletionTokens,
		InputTokens:              req.InputTokens,
		OutputTokens:             req.OutputTokens,
		CacheCreationInputTokens: req.CacheCreationInputTokens,
		CacheReadInputTokens:     req.CacheReadInputTokens,
		TotalTokens:              req.TotalTokens,
		Cost:                     req.Cost,
		LatencyMs:                req.LatencyMs,
		Status:                   req.Status,
		HTTPStatusCode:           req.HTTPStatusCode,
		ErrorType:                req.ErrorType,
		ErrorMessage:             req.ErrorMessage,
		RequestBody:              req.RequestBody,
		ResponseBody:             req.ResponseBody,
	}
}

func (d *Dependencies) handleListLogs(w http.ResponseWriter, r *http.Request) {
	var req listLogsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		utils.RespondWithError(w, err)
		return
	}

	start, err := parseTimestamp("start_time", req.StartTime, d.location())
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	end, err := parseTimestamp("end_time", req.EndTime, d.location())
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}

	logs, total, err := d.Usage.List(r.Context(), usage.ListLogsInput{
		KeyID:     req.KeyID,
		Secret:    req.APIKey,
		Status:    req.Status,
		Provider:  req.Provider,
		Model:     req.Model,
		StartTime: start,
		EndTime:   end,
		Page:      req.Page,
		PageSize:  req.PageSize,
	})
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}

	utils.RespondOK(w, "", pageOf(logs, total, req.Page, req.PageSize))
}

func (d *Dependencies) handleRecordLog(w http.ResponseWriter, r *http.Request) {
	var req recordLogRequest
	if err := decodeJSON(w, r, &req); err != nil {
		utils.RespondWithError(w, err)
		return
	}

	entry := req.toModel()
	if req.Async {
		if err := d.Usage.Enqueue(r.Context(), entry); err != nil {
			utils.RespondWithError(w, err)
			return
		}
		utils.RespondOK(w, "usage queued", map[string]string{"request_id": entry.RequestID})
		return
	}

	recorded, err := d.Usage.Record(r.Context(), entry)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondOK(w, "usage recorded", recorded)
}

type deadLetterListRequest struct {
	Limit int `json:"limit"`
}

type deadLetterRetryRequest struct {
	ID string `json:"id"`
}

func (d *Dependencies) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	var req deadLetterListRequest
	if err := decodeJSON(w, r, &req); err != nil {
		utils.RespondWithError(w, err)
		return
	}
	if req.Limit < 0 {
		utils.RespondWithError(w, utils.Errorf(utils.ErrInvalidArgument, "limit must not be negative"))
		return
	}

	items, err := d.UsageWorker.GetDeadLetterItems(r.Context(), req.Limit)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondOK(w, "", items)
}

func (d *Dependencies) handleRetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	var req deadLetterRetryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		utils.RespondWithError(w, err)
		return
	}
	if req.ID == "" {
		utils.RespondWithError(w, utils.Errorf(utils.ErrInvalidArgument, "id is required"))
		return
	}

	if err := d.UsageWorker.RetryDeadLetterItem(r.Context(), req.ID); err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondOK(w, "usage entry re-queued", map[string]string{"id": req.ID})
}
