package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Providers
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Usage statuses
const (
	UsageStatusSuccess = "success"
	UsageStatusError   = "error"
)

// Error types recorded on failed usage entries
const (
	ErrorTypeConnection = "ConnectionError"
	ErrorTypeTimeout    = "TimeoutError"
	ErrorTypeAuth       = "AuthError"
	ErrorTypeRateLimit  = "RateLimitError"
	ErrorTypeNotFound   = "NotFoundError"
	ErrorTypeServer     = "ServerError"
	ErrorTypeOther      = "OtherError"
)

// UsageLog is one proxied upstream attempt. Rows are append-only.
//
// Token counters follow the provider: OpenAI-shaped entries use the prompt and
// completion counters, Anthropic-shaped entries use input, output and cache
// counters. TotalTokens is derived from whichever set applies.
type UsageLog struct {
	ID        int64     `db:"id" json:"id"`
	CreatedAt time.Time `db:"create_time" json:"create_time"`
	RequestID string    `db:"request_id" json:"request_id"`

	KeyID  *int64  `db:"key_id" json:"key_id"`
	Secret *string `db:"api_key" json:"api_key"`
	Proxy  *string `db:"proxy" json:"proxy"`

	Provider      string  `db:"provider" json:"provider"`
	Model         string  `db:"model" json:"model"`
	ResponseModel *string `db:"res_model" json:"res_model"`

	PromptTokens     int64 `db:"prompt_tokens" json:"prompt_tokens"`
	CompletionTokens int64 `db:"completion_tokens" json:"completion_tokens"`

	InputTokens              int64 `db:"input_tokens" json:"input_tokens"`
	OutputTokens             int64 `db:"output_tokens" json:"output_tokens"`
	CacheCreationInputTokens int64 `db:"cache_creation_input_tokens" json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int64 `db:"cache_read_input_tokens" json:"cache_read_input_tokens"`

	TotalTokens int64 `db:"total_tokens" json:"total_tokens"`

	Cost           decimal.Decimal `db:"cost" json:"cost"`
	LatencyMs      *int64          `db:"latency_ms" json:"latency_ms"`
	Status         string          `db:"status" json:"status"`
	HTTPStatusCode *int            `db:"http_status_code" json:"http_status_code"`
	ErrorType      *string         `db:"error_type" json:"error_type"`
	ErrorMessage   *string         `db:"error_message" json:"error_message"`

	RequestBody  *string `db:"request_body" json:"request_body,omitempty"`
	ResponseBody *string `db:"response_body" json:"response_body,omitempty"`
}

// DerivedTotalTokens sums the counters that belong to the entry's provider
func (u *UsageLog) DerivedTotalTokens() int64 {
	switch u.Provider {
	case ProviderAnthropic:
		return u.InputTokens + u.OutputTokens + u.CacheCreationInputTokens + u.CacheReadInputTokens
	case ProviderOpenAI:
		return u.PromptTokens + u.CompletionTokens
	default:
		return u.PromptTokens + u.CompletionTokens + u.InputTokens + u.OutputTokens +
			u.CacheCreationInputTokens + u.CacheReadInputTokens
	}
}

// IsSuccess reports whether the attempt succeeded
func (u *UsageLog) IsSuccess() bool {
	return u.Status == UsageStatusSuccess
}
