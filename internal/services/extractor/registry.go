package extractor

import (
	"net/url"
	"strings"

	"github.com/ternarybob/pricewatch/internal/interfaces"
	"github.com/ternarybob/pricewatch/internal/models"
)

// Registry dispatches pages to the right extractor: a site adapter when one
// claims the host, with the generic adapter as fallback when the site
// adapter misses.
type Registry struct {
	sites   []*SiteAdapter
	generic *GenericAdapter
}

func NewRegistry(defaultCurrency string) *Registry {
	return &Registry{
		sites:   builtinSiteAdapters(),
		generic: NewGenericAdapter(defaultCurrency),
	}
}

// Extract runs the adapter cascade for the page's host.
func (r *Registry) Extract(page *models.FetchedPage) models.ScrapeOutcome {
	host := pageHost(page)
	for _, adapter := range r.sites {
		if !adapter.Claims(host) {
			continue
		}
		if outcome := adapter.Extract(page); outcome.IsSuccess() {
			return outcome
		}
	}
	return r.generic.Extract(page)
}

// ForHost returns the extractors that would run for a host, in order.
func (r *Registry) ForHost(host string) []interfaces.Extractor {
	var out []interfaces.Extractor
	for _, adapter := range r.sites {
		if adapter.Claims(host) {
			out = append(out, adapter)
		}
	}
	return append(out, r.generic)
}

// pageHost resolves the host the page was actually served from, preferring
// the post-redirect URL.
func pageHost(page *models.FetchedPage) string {
	raw := page.FinalURL
	if raw == "" {
		raw = page.URL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}
