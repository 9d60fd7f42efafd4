package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pricewatch/internal/interfaces"
	"github.com/ternarybob/pricewatch/internal/models"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

var errTooManyRedirects = errors.New("redirect limit exceeded")

// HTTPFetcherConfig tunes the plain HTTP fetch tier.
type HTTPFetcherConfig struct {
	UserAgents     []string
	AcceptLanguage string
	Timeout        time.Duration
	MaxRedirects   int
	MaxBodySize    int64
}

// HTTPFetcher retrieves pages with a plain HTTP client. User agents rotate
// across requests; redirects and body size are bounded.
type HTTPFetcher struct {
	client    *http.Client
	config    HTTPFetcherConfig
	uaCounter atomic.Uint64
	logger    arbor.ILogger
}

func NewHTTPFetcher(config HTTPFetcherConfig, logger arbor.ILogger) *HTTPFetcher {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxRedirects <= 0 {
		config.MaxRedirects = 5
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = 10 << 20
	}

	client := &http.Client{
		Timeout: config.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= config.MaxRedirects {
				return errTooManyRedirects
			}
			return nil
		},
	}

	return &HTTPFetcher{
		client: client,
		config: config,
		logger: logger,
	}
}

// Fetch retrieves url and returns the page regardless of HTTP status; the
// caller classifies non-2xx codes. Transport failures come back classified.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) interfaces.FetchResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return interfaces.FetchResult{
			Kind:   models.FailKindInvalidURL,
			Detail: fmt.Sprintf("building request: %v", err),
		}
	}

	req.Header.Set("User-Agent", f.nextUserAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	if f.config.AcceptLanguage != "" {
		req.Header.Set("Accept-Language", f.config.AcceptLanguage)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		kind, detail := classifyTransportError(err)
		f.logger.Debug().
			Str("url", url).
			Str("kind", string(kind)).
			Msg("HTTP fetch failed: " + detail)
		return interfaces.FetchResult{Kind: kind, Detail: detail}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBodySize))
	if err != nil {
		kind, detail := classifyTransportError(err)
		return interfaces.FetchResult{Kind: kind, Detail: "reading body: " + detail}
	}

	headers := make(map[string]string, len(resp.Header))
	for name := range resp.Header {
		headers[name] = resp.Header.Get(name)
	}

	page := &models.FetchedPage{
		URL:         url,
		FinalURL:    resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		Headers:     headers,
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		Source:      models.PriceSourceHTTP,
		Elapsed:     time.Since(start),
	}

	f.logger.Debug().
		Str("url", url).
		Int("status", resp.StatusCode).
		Int("bytes", len(body)).
		Dur("elapsed", page.Elapsed).
		Msg("HTTP fetch complete")

	return interfaces.FetchResult{Page: page}
}

// nextUserAgent rotates through the configured agents.
func (f *HTTPFetcher) nextUserAgent() string {
	agents := f.config.UserAgents
	if len(agents) == 0 {
		return defaultUserAgent
	}
	n := f.uaCounter.Add(1)
	return agents[(n-1)%uint64(len(agents))]
}

// classifyTransportError maps client errors onto outcome kinds. Deadline
// expiry is a timeout; everything else, including the redirect bound, is a
// network error.
func classifyTransportError(err error) (models.FailKind, string) {
	if errors.Is(err, errTooManyRedirects) {
		return models.FailKindNetworkError, "redirect limit exceeded"
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return models.FailKindTimeout, err.Error()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.FailKindTimeout, err.Error()
	}
	return models.FailKindNetworkError, err.Error()
}

// ClassifyStatus maps a non-2xx HTTP status onto an outcome kind.
func ClassifyStatus(status int) models.FailKind {
	switch {
	case status == http.StatusTooManyRequests:
		return models.FailKindRateLimited
	case status == http.StatusForbidden, status == http.StatusUnavailableForLegalReasons:
		return models.FailKindBlocked
	case status >= 500:
		return models.FailKindNetworkError
	default:
		return models.FailKindHTTPStatus
	}
}
