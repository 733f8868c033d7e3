package domain

import "time"

// UsageStats is the telemetry written when a message completes.
type UsageStats struct {
	PromptTokenCount     int     `json:"promptTokenCount"`
	CompletionTokenCount int     `json:"tokenCount"`
	DurationMs           int64   `json:"durationMs"`
	TimeToFirstTokenMs   int64   `json:"timeToFirstTokenMs"`
	TokensPerSecond      float64 `json:"tokensPerSecond"`
}

// NewUsageStats computes usage for one relay. A zero duration reports the
// raw completion token count as the rate.
func NewUsageStats(promptTokens, completionTokens int, duration, timeToFirstToken time.Duration) UsageStats {
	tps := float64(completionTokens)
	if secs := duration.Seconds(); secs > 0 {
		tps = float64(completionTokens) / secs
	}
	return UsageStats{
		PromptTokenCount:     promptTokens,
		CompletionTokenCount: completionTokens,
		DurationMs:           duration.Milliseconds(),
		TimeToFirstTokenMs:   timeToFirstToken.Milliseconds(),
		TokensPerSecond:      tps,
	}
}
