package health

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"keypool/internal/models"
)

// NormalizeErrorCode maps a probe failure onto the error code stored on the key
func NormalizeErrorCode(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.ErrorCodeTimeout
	}

	switch statusCode(err) {
	case http.StatusUnauthorized:
		return models.ErrorCodeUnauthorized
	case http.StatusTooManyRequests:
		if strings.Contains(strings.ToLower(err.Error()), "quota") {
			return models.ErrorCodeInsufficientQuota
		}
		return models.ErrorCodeRateLimit
	case http.StatusPaymentRequired:
		return models.ErrorCodeInsufficientQuota
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "unauthorized", "401", "authentication", "invalid api key", "incorrect api key"):
		return models.ErrorCodeUnauthorized
	case containsAny(msg, "rate limit", "429"):
		return models.ErrorCodeRateLimit
	case containsAny(msg, "insufficient", "quota", "balance"):
		return models.ErrorCodeInsufficientQuota
	case containsAny(msg, "timeout", "deadline", "timed out"):
		return models.ErrorCodeTimeout
	default:
		return models.ErrorCodeCheckFailed
	}
}

func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
