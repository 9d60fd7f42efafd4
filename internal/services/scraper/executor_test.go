package scraper

import (
	"context"
	"testing"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pricewatch/internal/interfaces"
	"github.com/ternarybob/pricewatch/internal/models"
)

type fakeFetcher struct {
	result interfaces.FetchResult
	calls  int
	last   string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) interfaces.FetchResult {
	f.calls++
	f.last = url
	return f.result
}

type fakeRegistry struct {
	bySource map[models.PriceSource]models.ScrapeOutcome
	calls    []models.PriceSource
}

func (f *fakeRegistry) Extract(page *models.FetchedPage) models.ScrapeOutcome {
	f.calls = append(f.calls, page.Source)
	return f.bySource[page.Source]
}

type fakeGovernor struct {
	deny     bool
	admits   int
	releases int
}

func (g *fakeGovernor) Admit(_ context.Context, _ string) (func(), bool) {
	if g.deny {
		return nil, false
	}
	g.admits++
	return func() { g.releases++ }, true
}

func pageResult(status int, source models.PriceSource) interfaces.FetchResult {
	return interfaces.FetchResult{Page: &models.FetchedPage{
		URL:        "https://example.com/p/1",
		FinalURL:   "https://example.com/p/1",
		StatusCode: status,
		Body:       []byte("<html></html>"),
		Source:     source,
	}}
}

func successAt(price, confidence float64) models.ScrapeOutcome {
	return models.SuccessOutcome(&models.PriceSignal{
		Price:      price,
		Currency:   "USD",
		Confidence: confidence,
		AdapterID:  "generic",
	})
}

func testJob(allowBrowser bool) *models.ScrapeJob {
	return &models.ScrapeJob{
		ID:                   "job_test",
		TrackerID:            "trk_test",
		URL:                  "https://example.com/p/1",
		AllowBrowserFallback: allowBrowser,
		Attempt:              1,
		MaxAttempts:          3,
	}
}

func newTestExecutor(http, browser interfaces.PageFetcher, registry PriceExtractor, governor interfaces.RateGovernor) *Executor {
	policy := NewURLPolicy(false, nil)
	return NewExecutor(policy, http, browser, registry, governor, arbor.NewLogger())
}

func TestExecutorSuccess(t *testing.T) {
	httpFetcher := &fakeFetcher{result: pageResult(200, models.PriceSourceHTTP)}
	browserFetcher := &fakeFetcher{}
	registry := &fakeRegistry{bySource: map[models.PriceSource]models.ScrapeOutcome{
		models.PriceSourceHTTP: successAt(19.90, 1.0),
	}}
	governor := &fakeGovernor{}

	outcome := newTestExecutor(httpFetcher, browserFetcher, registry, governor).
		Execute(context.Background(), testJob(true))

	if !outcome.IsSuccess() {
		t.Fatalf("outcome = %s", outcome)
	}
	if outcome.Signal.Price != 19.90 {
		t.Errorf("price = %v", outcome.Signal.Price)
	}
	if browserFetcher.calls != 0 {
		t.Error("browser should not run on a confident HTTP result")
	}
	if governor.admits != 1 || governor.releases != 1 {
		t.Errorf("governor admits=%d releases=%d, want 1/1", governor.admits, governor.releases)
	}
}

func TestExecutorCanonicalizesBeforeFetch(t *testing.T) {
	httpFetcher := &fakeFetcher{result: pageResult(200, models.PriceSourceHTTP)}
	registry := &fakeRegistry{bySource: map[models.PriceSource]models.ScrapeOutcome{
		models.PriceSourceHTTP: successAt(10, 1.0),
	}}

	job := testJob(false)
	job.URL = "HTTPS://WWW.Example.com/p/1/?utm_source=x"
	newTestExecutor(httpFetcher, nil, registry, &fakeGovernor{}).
		Execute(context.Background(), job)

	if httpFetcher.last != "https://example.com/p/1" {
		t.Errorf("fetched %q, want canonical form", httpFetcher.last)
	}
}

func TestExecutorInvalidURL(t *testing.T) {
	httpFetcher := &fakeFetcher{}
	governor := &fakeGovernor{}

	job := testJob(true)
	job.URL = "notaurl"
	outcome := newTestExecutor(httpFetcher, nil, &fakeRegistry{}, governor).
		Execute(context.Background(), job)

	if outcome.Status != models.OutcomeHardFail || outcome.Kind != models.FailKindInvalidURL {
		t.Fatalf("outcome = %s", outcome)
	}
	if httpFetcher.calls != 0 {
		t.Error("invalid URL must not be fetched")
	}
	if governor.admits != 0 {
		t.Error("invalid URL must not consume admission")
	}
}

func TestExecutorDomainBlocked(t *testing.T) {
	policy := NewURLPolicy(true, []string{"example.com"})
	httpFetcher := &fakeFetcher{}
	executor := NewExecutor(policy, httpFetcher, nil, &fakeRegistry{}, &fakeGovernor{}, arbor.NewLogger())

	job := testJob(true)
	job.URL = "https://evil.shop/p/1"
	outcome := executor.Execute(context.Background(), job)

	if outcome.Status != models.OutcomeHardFail || outcome.Kind != models.FailKindDomainBlocked {
		t.Fatalf("outcome = %s", outcome)
	}
	if httpFetcher.calls != 0 {
		t.Error("off-allowlist URL must not be fetched")
	}
}

func TestExecutorGovernorDenial(t *testing.T) {
	httpFetcher := &fakeFetcher{}
	outcome := newTestExecutor(httpFetcher, nil, &fakeRegistry{}, &fakeGovernor{deny: true}).
		Execute(context.Background(), testJob(true))

	if outcome.Status != models.OutcomeSoftFail || outcome.Kind != models.FailKindRateLimited {
		t.Fatalf("outcome = %s", outcome)
	}
	if httpFetcher.calls != 0 {
		t.Error("denied admission must not fetch")
	}
}

func TestExecutorStatusClassification(t *testing.T) {
	tests := []struct {
		status     int
		wantStatus models.OutcomeStatus
		wantKind   models.FailKind
	}{
		{429, models.OutcomeSoftFail, models.FailKindRateLimited},
		{403, models.OutcomeHardFail, models.FailKindBlocked},
		{451, models.OutcomeHardFail, models.FailKindBlocked},
		{500, models.OutcomeSoftFail, models.FailKindNetworkError},
		{503, models.OutcomeSoftFail, models.FailKindNetworkError},
		{404, models.OutcomeHardFail, models.FailKindHTTPStatus},
	}

	for _, tt := range tests {
		registry := &fakeRegistry{}
		outcome := newTestExecutor(
			&fakeFetcher{result: pageResult(tt.status, models.PriceSourceHTTP)},
			nil, registry, &fakeGovernor{},
		).Execute(context.Background(), testJob(true))

		if outcome.Status != tt.wantStatus || outcome.Kind != tt.wantKind {
			t.Errorf("status %d: outcome = %s/%s, want %s/%s",
				tt.status, outcome.Status, outcome.Kind, tt.wantStatus, tt.wantKind)
		}
		if len(registry.calls) != 0 {
			t.Errorf("status %d: extractor must not run on a non-2xx page", tt.status)
		}
	}
}

func TestExecutorTransportFailure(t *testing.T) {
	httpFetcher := &fakeFetcher{result: interfaces.FetchResult{
		Kind:   models.FailKindTimeout,
		Detail: "deadline exceeded",
	}}
	outcome := newTestExecutor(httpFetcher, nil, &fakeRegistry{}, &fakeGovernor{}).
		Execute(context.Background(), testJob(true))

	if outcome.Status != models.OutcomeSoftFail || outcome.Kind != models.FailKindTimeout {
		t.Fatalf("outcome = %s", outcome)
	}
}

func TestExecutorEscalatesOnParseMiss(t *testing.T) {
	httpFetcher := &fakeFetcher{result: pageResult(200, models.PriceSourceHTTP)}
	browserFetcher := &fakeFetcher{result: pageResult(200, models.PriceSourceBrowser)}
	registry := &fakeRegistry{bySource: map[models.PriceSource]models.ScrapeOutcome{
		models.PriceSourceHTTP:    models.HardFail(models.FailKindParseMiss, "no price"),
		models.PriceSourceBrowser: successAt(42.00, 1.0),
	}}

	outcome := newTestExecutor(httpFetcher, browserFetcher, registry, &fakeGovernor{}).
		Execute(context.Background(), testJob(true))

	if !outcome.IsSuccess() {
		t.Fatalf("outcome = %s", outcome)
	}
	if outcome.Signal.Price != 42.00 {
		t.Errorf("price = %v, want rendered-tier value", outcome.Signal.Price)
	}
	if browserFetcher.calls != 1 {
		t.Errorf("browser calls = %d, want 1", browserFetcher.calls)
	}
}

func TestExecutorEscalatesOnLowConfidence(t *testing.T) {
	httpFetcher := &fakeFetcher{result: pageResult(200, models.PriceSourceHTTP)}
	browserFetcher := &fakeFetcher{result: pageResult(200, models.PriceSourceBrowser)}
	registry := &fakeRegistry{bySource: map[models.PriceSource]models.ScrapeOutcome{
		models.PriceSourceHTTP:    successAt(9.99, 0.4),
		models.PriceSourceBrowser: successAt(12.50, 1.0),
	}}

	outcome := newTestExecutor(httpFetcher, browserFetcher, registry, &fakeGovernor{}).
		Execute(context.Background(), testJob(true))

	if !outcome.IsSuccess() || outcome.Signal.Price != 12.50 {
		t.Fatalf("outcome = %s, want the higher-confidence rendered result", outcome)
	}
}

func TestExecutorKeepsHTTPResultWhenBrowserIsNoBetter(t *testing.T) {
	httpFetcher := &fakeFetcher{result: pageResult(200, models.PriceSourceHTTP)}
	browserFetcher := &fakeFetcher{result: pageResult(200, models.PriceSourceBrowser)}
	registry := &fakeRegistry{bySource: map[models.PriceSource]models.ScrapeOutcome{
		models.PriceSourceHTTP:    successAt(9.99, 0.4),
		models.PriceSourceBrowser: successAt(11.00, 0.4),
	}}

	outcome := newTestExecutor(httpFetcher, browserFetcher, registry, &fakeGovernor{}).
		Execute(context.Background(), testJob(true))

	if !outcome.IsSuccess() || outcome.Signal.Price != 9.99 {
		t.Fatalf("outcome = %s, want the original HTTP result", outcome)
	}
}

func TestExecutorConfidentResultSkipsBrowser(t *testing.T) {
	httpFetcher := &fakeFetcher{result: pageResult(200, models.PriceSourceHTTP)}
	browserFetcher := &fakeFetcher{}
	registry := &fakeRegistry{bySource: map[models.PriceSource]models.ScrapeOutcome{
		models.PriceSourceHTTP: successAt(5.00, 0.7),
	}}

	newTestExecutor(httpFetcher, browserFetcher, registry, &fakeGovernor{}).
		Execute(context.Background(), testJob(true))

	if browserFetcher.calls != 0 {
		t.Error("meta-tier confidence should not escalate")
	}
}

func TestExecutorNoEscalationWhenDisallowed(t *testing.T) {
	httpFetcher := &fakeFetcher{result: pageResult(200, models.PriceSourceHTTP)}
	browserFetcher := &fakeFetcher{}
	registry := &fakeRegistry{bySource: map[models.PriceSource]models.ScrapeOutcome{
		models.PriceSourceHTTP: models.HardFail(models.FailKindParseMiss, "no price"),
	}}

	outcome := newTestExecutor(httpFetcher, browserFetcher, registry, &fakeGovernor{}).
		Execute(context.Background(), testJob(false))

	if outcome.Kind != models.FailKindParseMiss {
		t.Fatalf("outcome = %s", outcome)
	}
	if browserFetcher.calls != 0 {
		t.Error("job forbids browser fallback")
	}
}

func TestExecutorNoEscalationWithoutBrowserTier(t *testing.T) {
	httpFetcher := &fakeFetcher{result: pageResult(200, models.PriceSourceHTTP)}
	registry := &fakeRegistry{bySource: map[models.PriceSource]models.ScrapeOutcome{
		models.PriceSourceHTTP: models.HardFail(models.FailKindParseMiss, "no price"),
	}}

	outcome := newTestExecutor(httpFetcher, nil, registry, &fakeGovernor{}).
		Execute(context.Background(), testJob(true))

	if outcome.Kind != models.FailKindParseMiss {
		t.Fatalf("outcome = %s", outcome)
	}
}

func TestExecutorBrowserFailureKeepsWeakSuccess(t *testing.T) {
	httpFetcher := &fakeFetcher{result: pageResult(200, models.PriceSourceHTTP)}
	browserFetcher := &fakeFetcher{result: interfaces.FetchResult{
		Kind:   models.FailKindBrowserError,
		Detail: "tab crashed",
	}}
	registry := &fakeRegistry{bySource: map[models.PriceSource]models.ScrapeOutcome{
		models.PriceSourceHTTP: successAt(9.99, 0.4),
	}}

	outcome := newTestExecutor(httpFetcher, browserFetcher, registry, &fakeGovernor{}).
		Execute(context.Background(), testJob(true))

	if !outcome.IsSuccess() || outcome.Signal.Price != 9.99 {
		t.Fatalf("outcome = %s, want the weak HTTP success preserved", outcome)
	}
}

func TestExecutorBrowserFailureAfterMiss(t *testing.T) {
	httpFetcher := &fakeFetcher{result: pageResult(200, models.PriceSourceHTTP)}
	browserFetcher := &fakeFetcher{result: interfaces.FetchResult{
		Kind:   models.FailKindBrowserError,
		Detail: "tab crashed",
	}}
	registry := &fakeRegistry{bySource: map[models.PriceSource]models.ScrapeOutcome{
		models.PriceSourceHTTP: models.HardFail(models.FailKindParseMiss, "no price"),
	}}

	outcome := newTestExecutor(httpFetcher, browserFetcher, registry, &fakeGovernor{}).
		Execute(context.Background(), testJob(true))

	if outcome.Status != models.OutcomeSoftFail || outcome.Kind != models.FailKindBrowserError {
		t.Fatalf("outcome = %s, want soft browser_error", outcome)
	}
}
