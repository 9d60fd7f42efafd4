package interfaces

import (
	"context"

	"github.com/ternarybob/pricewatch/internal/models"
)

// PageFetcher retrieves one page within the deadline carried by ctx.
// Implementations classify transport-level failures into outcome kinds and
// return them in FetchResult; a non-nil error means a programmer fault.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) FetchResult
}

// FetchResult carries either a page or a classified failure.
type FetchResult struct {
	Page   *models.FetchedPage
	Kind   models.FailKind // set when Page is nil
	Detail string
}

// OK reports whether a page body was delivered.
func (r FetchResult) OK() bool {
	return r.Page != nil
}

// Extractor turns a fetched page into a price signal. Adapters must not
// perform I/O and must stamp their own AdapterID on the signal.
type Extractor interface {
	// ID identifies the adapter in signals and audit rows.
	ID() string

	// Claims reports whether the adapter handles pages from host.
	Claims(host string) bool

	// Extract returns a success outcome or a parse-miss hard fail.
	Extract(page *models.FetchedPage) models.ScrapeOutcome
}

// ScrapeExecutor runs one job end-to-end: canonicalize, gate on the domain
// allowlist, fetch over HTTP, extract, escalate to the browser tier on a
// parse miss when the job allows it.
type ScrapeExecutor interface {
	Execute(ctx context.Context, job *models.ScrapeJob) models.ScrapeOutcome
}

// RateGovernor bounds request rate per host and caps global concurrency.
// Admit blocks until a per-host token and a global slot are held, the wait
// bound elapses (ok=false), or ctx is done. Release must be called exactly
// once for every ok admission.
type RateGovernor interface {
	Admit(ctx context.Context, host string) (release func(), ok bool)
}
