package ai

import (
	"time"

	"golang.org/x/time/rate"
)

// DefaultRequestsPerMinute and DefaultTokensPerMinute bound a channel's
// sliding windows until a config loader overrides them per channel.
const (
	DefaultRequestsPerMinute = 60
	DefaultTokensPerMinute   = 100_000
)

// limiterPair guards requests-per-minute and tokens-per-minute for one
// channel. rate.Limiter already implements a sliding token
// bucket, which is the idiomatic Go stand-in for a sliding-window
// limiter.
type limiterPair struct {
	requests *rate.Limiter
	tokens   *rate.Limiter
}

func newLimiterPair(requestsPerMinute, tokensPerMinute int) *limiterPair {
	return &limiterPair{
		requests: rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), requestsPerMinute),
		tokens:   rate.NewLimiter(rate.Limit(float64(tokensPerMinute)/60.0), tokensPerMinute),
	}
}

// Reserve attempts to admit one request consuming estimatedTokens, failing
// fast (no wait) if either window is
// full.
func (m *Manager) Reserve(channelID string, estimatedTokens int) (bool, error) {
	m.mu.Lock()
	lp, ok := m.limiters[channelID]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}

	now := time.Now()
	if !lp.requests.AllowN(now, 1) {
		return false, nil
	}
	if estimatedTokens > 0 && !lp.tokens.AllowN(now, estimatedTokens) {
		return false, nil
	}
	return true, nil
}
