package queue

import (
	"math/rand"
	"time"

	"github.com/ternarybob/pricewatch/internal/models"
)

// RetryPolicy decides whether a failed job gets another attempt and how long
// it waits first. Soft failures back off exponentially up to MaxBackoff;
// hard failures that are retryable at all get a single extra attempt under
// the smaller HardFailBackoff cap.
type RetryPolicy struct {
	MaxAttempts     int
	BaseBackoff     time.Duration
	MaxBackoff      time.Duration
	HardFailBackoff time.Duration
}

// NewRetryPolicy returns the default policy.
func NewRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:     3,
		BaseBackoff:     5 * time.Second,
		MaxBackoff:      5 * time.Minute,
		HardFailBackoff: 30 * time.Second,
	}
}

// Decision is the queue action for one failed attempt.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Decide maps an outcome and the attempt that produced it onto a queue
// action. attempt is 1-based and counts the attempt that just failed.
func (p *RetryPolicy) Decide(outcome models.ScrapeOutcome, attempt int) Decision {
	if outcome.Kind.NeverRetry() {
		return Decision{}
	}
	if attempt >= p.MaxAttempts {
		return Decision{}
	}

	if outcome.Status == models.OutcomeSoftFail {
		return Decision{Retry: true, Delay: p.Backoff(attempt, p.MaxBackoff)}
	}

	// Hard failures are likely permanent: one extra attempt, then the DLQ.
	if attempt >= 2 {
		return Decision{}
	}
	return Decision{Retry: true, Delay: p.Backoff(attempt, p.HardFailBackoff)}
}

// Backoff computes min(cap, base*2^(attempt-1)) with ±20% jitter so herds
// of failed jobs do not reconverge on the same tick.
func (p *RetryPolicy) Backoff(attempt int, cap time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	backoff := float64(p.BaseBackoff)
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= float64(cap) {
			break
		}
	}
	if backoff > float64(cap) {
		backoff = float64(cap)
	}

	jitter := backoff * 0.2 * (rand.Float64()*2 - 1)
	d := time.Duration(backoff + jitter)
	if d < 0 {
		d = p.BaseBackoff
	}
	return d
}
