package queue

import (
	"testing"
	"time"

	"github.com/ternarybob/pricewatch/internal/models"
)

func TestBackoffDoublesWithinJitter(t *testing.T) {
	policy := &RetryPolicy{
		MaxAttempts:     5,
		BaseBackoff:     time.Second,
		MaxBackoff:      time.Minute,
		HardFailBackoff: 10 * time.Second,
	}

	expected := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	for attempt := 1; attempt <= len(expected); attempt++ {
		for i := 0; i < 50; i++ {
			d := policy.Backoff(attempt, policy.MaxBackoff)
			lo := time.Duration(float64(expected[attempt-1]) * 0.8)
			hi := time.Duration(float64(expected[attempt-1]) * 1.2)
			if d < lo || d > hi {
				t.Fatalf("attempt %d: backoff %v outside [%v, %v]", attempt, d, lo, hi)
			}
		}
	}
}

func TestBackoffCaps(t *testing.T) {
	policy := &RetryPolicy{BaseBackoff: time.Second, MaxBackoff: 5 * time.Second}
	for i := 0; i < 50; i++ {
		d := policy.Backoff(10, policy.MaxBackoff)
		if d > 6*time.Second { // cap plus 20% jitter
			t.Fatalf("backoff %v exceeds jittered cap", d)
		}
	}
}

func TestDecide(t *testing.T) {
	policy := &RetryPolicy{
		MaxAttempts:     3,
		BaseBackoff:     time.Second,
		MaxBackoff:      time.Minute,
		HardFailBackoff: 10 * time.Second,
	}

	tests := []struct {
		name    string
		outcome models.ScrapeOutcome
		attempt int
		retry   bool
	}{
		{"soft fail first attempt", models.SoftFail(models.FailKindTimeout, ""), 1, true},
		{"soft fail second attempt", models.SoftFail(models.FailKindNetworkError, ""), 2, true},
		{"soft fail attempts exhausted", models.SoftFail(models.FailKindTimeout, ""), 3, false},
		{"hard fail first attempt retried once", models.HardFail(models.FailKindParseMiss, ""), 1, true},
		{"hard fail second attempt dead-letters", models.HardFail(models.FailKindParseMiss, ""), 2, false},
		{"blocked retried once", models.HardFail(models.FailKindBlocked, ""), 1, true},
		{"domain blocked never retried", models.HardFail(models.FailKindDomainBlocked, ""), 1, false},
		{"invalid url never retried", models.HardFail(models.FailKindInvalidURL, ""), 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := policy.Decide(tt.outcome, tt.attempt)
			if d.Retry != tt.retry {
				t.Errorf("retry = %v, want %v", d.Retry, tt.retry)
			}
			if d.Retry && d.Delay <= 0 {
				t.Errorf("retry with non-positive delay %v", d.Delay)
			}
		})
	}
}
