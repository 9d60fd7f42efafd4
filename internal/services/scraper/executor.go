package scraper

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pricewatch/internal/interfaces"
	"github.com/ternarybob/pricewatch/internal/models"
)

// escalationThreshold is the confidence below which an HTTP-tier result is
// weak enough to justify a rendered fetch.
const escalationThreshold = 0.5

// PriceExtractor resolves a fetched page into a price outcome.
type PriceExtractor interface {
	Extract(page *models.FetchedPage) models.ScrapeOutcome
}

// Executor runs one scrape job end-to-end: canonicalize the URL, gate on
// the allowlist and the rate governor, fetch over HTTP, extract, and
// escalate to the browser tier when the HTTP result is a miss or weak.
type Executor struct {
	policy   *URLPolicy
	http     interfaces.PageFetcher
	browser  interfaces.PageFetcher
	registry PriceExtractor
	governor interfaces.RateGovernor
	logger   arbor.ILogger
}

// NewExecutor wires the scrape pipeline. browser may be nil when the
// rendered tier is disabled; jobs then never escalate.
func NewExecutor(policy *URLPolicy, http, browser interfaces.PageFetcher, registry PriceExtractor, governor interfaces.RateGovernor, logger arbor.ILogger) *Executor {
	return &Executor{
		policy:   policy,
		http:     http,
		browser:  browser,
		registry: registry,
		governor: governor,
		logger:   logger,
	}
}

func (e *Executor) Execute(ctx context.Context, job *models.ScrapeJob) models.ScrapeOutcome {
	canonical, err := e.policy.Canonicalize(job.URL)
	if err != nil {
		return models.HardFail(models.FailKindInvalidURL, err.Error())
	}

	if !e.policy.DomainAllowed(canonical) {
		return models.HardFail(models.FailKindDomainBlocked, "domain not on allowlist: "+ExtractDomain(canonical))
	}

	host := ExtractDomain(canonical)
	release, ok := e.governor.Admit(ctx, host)
	if !ok {
		return models.SoftFail(models.FailKindRateLimited, "admission wait bound exceeded for "+host)
	}
	defer release()

	result := e.http.Fetch(ctx, canonical)
	if !result.OK() {
		return outcomeFromFetchFailure(result)
	}

	page := result.Page
	if !statusOK(page.StatusCode) {
		kind := ClassifyStatus(page.StatusCode)
		detail := fmt.Sprintf("http status %d", page.StatusCode)
		if kind.Transient() {
			return models.SoftFail(kind, detail)
		}
		return models.HardFail(kind, detail)
	}

	outcome := e.registry.Extract(page)
	if !e.shouldEscalate(job, outcome) {
		return outcome
	}

	e.logger.Debug().
		Str("job_id", job.ID).
		Str("url", canonical).
		Str("reason", escalationReason(outcome)).
		Msg("Escalating to browser tier")

	browserResult := e.browser.Fetch(ctx, canonical)
	if !browserResult.OK() {
		if outcome.IsSuccess() {
			// A weak HTTP result beats a failed render.
			return outcome
		}
		return outcomeFromFetchFailure(browserResult)
	}

	browserPage := browserResult.Page
	if !statusOK(browserPage.StatusCode) {
		if outcome.IsSuccess() {
			return outcome
		}
		kind := ClassifyStatus(browserPage.StatusCode)
		detail := fmt.Sprintf("http status %d from rendered page", browserPage.StatusCode)
		if kind.Transient() {
			return models.SoftFail(kind, detail)
		}
		return models.HardFail(kind, detail)
	}

	browserOutcome := e.registry.Extract(browserPage)
	if browserOutcome.IsSuccess() {
		if !outcome.IsSuccess() || browserOutcome.Signal.Confidence > outcome.Signal.Confidence {
			return browserOutcome
		}
	}
	return outcome
}

// shouldEscalate reports whether the HTTP-tier outcome warrants a rendered
// fetch: a parse miss, or a success below the confidence threshold.
func (e *Executor) shouldEscalate(job *models.ScrapeJob, outcome models.ScrapeOutcome) bool {
	if e.browser == nil || !job.AllowBrowserFallback {
		return false
	}
	if outcome.Kind == models.FailKindParseMiss {
		return true
	}
	return outcome.IsSuccess() && outcome.Signal.Confidence < escalationThreshold
}

func escalationReason(outcome models.ScrapeOutcome) string {
	if outcome.IsSuccess() {
		return fmt.Sprintf("confidence %.2f below threshold", outcome.Signal.Confidence)
	}
	return "parse miss"
}

// outcomeFromFetchFailure converts a classified fetch failure into an
// outcome, soft for transient kinds.
func outcomeFromFetchFailure(result interfaces.FetchResult) models.ScrapeOutcome {
	if result.Kind.Transient() {
		return models.SoftFail(result.Kind, result.Detail)
	}
	return models.HardFail(result.Kind, result.Detail)
}

func statusOK(status int) bool {
	return status >= 200 && status < 300
}
