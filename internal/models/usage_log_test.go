package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUsageLog_DerivedTotalTokens(t *testing.T) {
	tests := []struct {
		name string
		log  UsageLog
		want int64
	}{
		{
			name: "openai counters",
			log:  UsageLog{Provider: ProviderOpenAI, PromptTokens: 10, CompletionTokens: 5, InputTokens: 100},
			want: 15,
		},
		{
			name: "anthropic counters",
			log: UsageLog{Provider: ProviderAnthropic, InputTokens: 10, OutputTokens: 5,
				CacheCreationInputTokens: 3, CacheReadInputTokens: 2, PromptTokens: 100},
			want: 20,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.log.DerivedTotalTokens())
		})
	}
}

func TestSuccessRate(t *testing.T) {
	assert.Equal(t, 0.0, SuccessRate(0, 0))
	assert.Equal(t, 0.75, SuccessRate(3, 4))
	assert.Equal(t, 1.0, SuccessRate(4, 4))
}

func TestWindows(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	ts := time.Date(2025, 3, 1, 18, 30, 0, 0, time.UTC) // 02:30 next day in UTC+8

	day := DayWindow(ts, loc)
	assert.Equal(t, time.Date(2025, 3, 2, 0, 0, 0, 0, loc), day.Start)
	assert.Equal(t, 24*time.Hour, day.End.Sub(day.Start))

	hour := HourWindow(ts, loc)
	assert.Equal(t, time.Date(2025, 3, 2, 2, 0, 0, 0, loc), hour.Start)
	assert.Equal(t, time.Hour, hour.End.Sub(hour.Start))
}
