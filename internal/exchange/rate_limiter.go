package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter spaces requests with a token bucket and opens a circuit breaker
// when the exchange answers 429/418 so no further calls are sent during the ban.
type RateLimiter struct {
	limiter *rate.Limiter

	mu                sync.RWMutex
	circuitOpen       bool
	banUntil          time.Time
	consecutiveErrors int
	usedWeight1m      int
}

// NewRateLimiter creates a limiter allowing requestsPerSec with a burst of the same size
func NewRateLimiter(requestsPerSec int) *RateLimiter {
	if requestsPerSec <= 0 {
		requestsPerSec = 10
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSec), requestsPerSec),
	}
}

// Wait blocks until a request slot is available or the circuit is open
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r.IsCircuitOpen() {
		return fmt.Errorf("%w: banned until %s", ErrRateLimited, r.BanUntil().Format("15:04:05"))
	}
	return r.limiter.Wait(ctx)
}

// RecordSuccess resets the error streak and closes an expired circuit
func (r *RateLimiter) RecordSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.consecutiveErrors = 0
	if r.circuitOpen && time.Now().After(r.banUntil) {
		r.circuitOpen = false
	}
}

// RecordRateLimitError opens the circuit until banUntilMs, or for an exponential backoff when unknown
func (r *RateLimiter) RecordRateLimitError(banUntilMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.consecutiveErrors++

	var banUntil time.Time
	if banUntilMs > 0 {
		banUntil = time.UnixMilli(banUntilMs)
	} else {
		backoff := time.Duration(1<<uint(r.consecutiveErrors)) * time.Second
		if backoff > 2*time.Minute {
			backoff = 2 * time.Minute
		}
		banUntil = time.Now().Add(backoff)
	}

	r.circuitOpen = true
	r.banUntil = banUntil
}

// IsCircuitOpen returns true while a ban is in force
func (r *RateLimiter) IsCircuitOpen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.circuitOpen && time.Now().Before(r.banUntil)
}

// BanUntil returns the end of the current ban window
func (r *RateLimiter) BanUntil() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.banUntil
}

// UpdateFromHeaders records the X-MBX-USED-WEIGHT-1M header value
func (r *RateLimiter) UpdateFromHeaders(usedWeight1m int) {
	r.mu.Lock()
	r.usedWeight1m = usedWeight1m
	r.mu.Unlock()
}

// UsedWeight returns the last reported 1m request weight
func (r *RateLimiter) UsedWeight() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.usedWeight1m
}

// ParseBanUntilFromError extracts the ban timestamp from an error body like "banned until 1766824120342"
func ParseBanUntilFromError(errMsg string) int64 {
	idx := strings.Index(errMsg, "until ")
	if idx < 0 {
		return 0
	}
	digits := errMsg[idx+len("until "):]
	end := strings.IndexFunc(digits, func(r rune) bool { return r < '0' || r > '9' })
	if end >= 0 {
		digits = digits[:end]
	}
	banUntil, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0
	}

	if banUntil > time.Now().UnixMilli() && banUntil < time.Now().Add(24*time.Hour).UnixMilli() {
		return banUntil
	}
	return 0
}
