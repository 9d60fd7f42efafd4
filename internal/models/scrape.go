package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobOrigin records why a scrape job was enqueued.
type JobOrigin string

const (
	JobOriginScheduled JobOrigin = "scheduled"
	JobOriginManual    JobOrigin = "manual"
	JobOriginRetry     JobOrigin = "retry"
)

// ScrapeJob is the unit of work carried by the queue.
// Attempt runs from 1 to MaxAttempts; the queue bumps it on every nack.
type ScrapeJob struct {
	ID                   string     `json:"id"` // job_{uuid}
	TrackerID            string     `json:"tracker_id"`
	ProductID            string     `json:"product_id"`
	URL                  string     `json:"url"` // canonical form
	AllowBrowserFallback bool       `json:"allow_browser_fallback"`
	Attempt              int        `json:"attempt"`
	MaxAttempts          int        `json:"max_attempts"`
	EnqueuedAt           time.Time  `json:"enqueued_at"`
	NotBefore            *time.Time `json:"not_before,omitempty"`
	Origin               JobOrigin  `json:"origin"`
}

// Validate checks the invariants the queue relies on.
func (j *ScrapeJob) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job ID cannot be empty")
	}
	if j.URL == "" {
		return fmt.Errorf("job URL cannot be empty")
	}
	if j.Attempt < 1 || j.Attempt > j.MaxAttempts {
		return fmt.Errorf("job attempt %d outside [1, %d]", j.Attempt, j.MaxAttempts)
	}
	return nil
}

// ToJSON serializes the job for queue storage.
func (j *ScrapeJob) ToJSON() ([]byte, error) {
	return json.Marshal(j)
}

// ScrapeJobFromJSON deserializes a job from queue storage.
func ScrapeJobFromJSON(data []byte) (*ScrapeJob, error) {
	var job ScrapeJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode scrape job: %w", err)
	}
	return &job, nil
}

// FetchedPage is the raw result of one page fetch, handed from a fetcher
// to the extractor pipeline.
type FetchedPage struct {
	URL         string            `json:"url"`
	FinalURL    string            `json:"final_url"`
	StatusCode  int               `json:"status_code"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        []byte            `json:"body,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
	Source      PriceSource       `json:"source"`
	Elapsed     time.Duration     `json:"elapsed"`
}

// FailKind classifies a scrape failure. The same vocabulary flows through
// the executor, the queue's retry policy, the tracker state machine, and the
// audit log, so callers switch on kinds rather than unwrapping error chains.
type FailKind string

const (
	FailKindTimeout       FailKind = "timeout"
	FailKindHTTPStatus    FailKind = "http_status"
	FailKindParseMiss     FailKind = "parse_miss"
	FailKindRobotsDeny    FailKind = "robots_deny"
	FailKindRateLimited   FailKind = "rate_limited"
	FailKindBrowserError  FailKind = "browser_error"
	FailKindDomainBlocked FailKind = "domain_blocked"
	FailKindInvalidURL    FailKind = "invalid_url"
	FailKindNetworkError  FailKind = "network_error"
	FailKindBlocked       FailKind = "blocked"
	FailKindInternal      FailKind = "internal"
)

// Transient reports whether the kind is retryable with plain backoff.
func (k FailKind) Transient() bool {
	switch k {
	case FailKindTimeout, FailKindNetworkError, FailKindRateLimited, FailKindBrowserError:
		return true
	}
	return false
}

// NeverRetry reports whether the kind must go straight to the DLQ.
func (k FailKind) NeverRetry() bool {
	switch k {
	case FailKindDomainBlocked, FailKindInvalidURL, FailKindRobotsDeny:
		return true
	}
	return false
}

// TrackerStatus maps a failure kind onto the tracker state machine.
func (k FailKind) TrackerStatus() TrackerStatus {
	switch k {
	case FailKindParseMiss:
		return TrackerStatusExtractionFailed
	case FailKindBlocked, FailKindDomainBlocked, FailKindRobotsDeny:
		return TrackerStatusBlocked
	default:
		return TrackerStatusNetworkError
	}
}

// OutcomeStatus is the variant tag of a ScrapeOutcome.
type OutcomeStatus string

const (
	OutcomeSuccess  OutcomeStatus = "success"
	OutcomeSoftFail OutcomeStatus = "soft_fail"
	OutcomeHardFail OutcomeStatus = "hard_fail"
)

// ScrapeOutcome is the tagged result of one scrape execution. Outcomes are
// values passed between pipeline components; a Go error crossing a component
// boundary means a programmer or storage fault, never a failed scrape.
type ScrapeOutcome struct {
	Status OutcomeStatus `json:"status"`
	Kind   FailKind      `json:"kind,omitempty"`   // set for soft_fail / hard_fail
	Detail string        `json:"detail,omitempty"` // short human-readable context
	Signal *PriceSignal  `json:"signal,omitempty"` // set for success
}

// SuccessOutcome wraps an extracted signal.
func SuccessOutcome(signal *PriceSignal) ScrapeOutcome {
	return ScrapeOutcome{Status: OutcomeSuccess, Signal: signal}
}

// SoftFail marks a transient failure the queue should retry with backoff.
func SoftFail(kind FailKind, detail string) ScrapeOutcome {
	return ScrapeOutcome{Status: OutcomeSoftFail, Kind: kind, Detail: detail}
}

// HardFail marks a likely-permanent failure; the retry policy caps these low.
func HardFail(kind FailKind, detail string) ScrapeOutcome {
	return ScrapeOutcome{Status: OutcomeHardFail, Kind: kind, Detail: detail}
}

// IsSuccess reports whether the outcome carries a signal.
func (o ScrapeOutcome) IsSuccess() bool {
	return o.Status == OutcomeSuccess
}

func (o ScrapeOutcome) String() string {
	if o.IsSuccess() {
		return string(o.Status)
	}
	return fmt.Sprintf("%s(%s)", o.Status, o.Kind)
}
