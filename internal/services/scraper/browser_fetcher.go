package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pricewatch/internal/interfaces"
	"github.com/ternarybob/pricewatch/internal/models"
)

// BrowserFetcherConfig tunes the rendered fetch tier.
type BrowserFetcherConfig struct {
	// PageTimeout bounds one navigation plus render.
	PageTimeout time.Duration
	// RenderWait is how long to let scripts settle after navigation.
	RenderWait time.Duration
}

// BrowserFetcher renders pages in a pooled headless browser. Each fetch runs
// in a fresh tab; the document response status is captured off the CDP
// network events so non-2xx rendered pages classify the same way as plain
// HTTP ones.
type BrowserFetcher struct {
	pool   *BrowserPool
	config BrowserFetcherConfig
	logger arbor.ILogger
}

func NewBrowserFetcher(pool *BrowserPool, config BrowserFetcherConfig, logger arbor.ILogger) *BrowserFetcher {
	if config.PageTimeout <= 0 {
		config.PageTimeout = 30 * time.Second
	}
	if config.RenderWait <= 0 {
		config.RenderWait = 3 * time.Second
	}
	return &BrowserFetcher{pool: pool, config: config, logger: logger}
}

func (b *BrowserFetcher) Fetch(ctx context.Context, url string) interfaces.FetchResult {
	browserCtx, err := b.pool.Acquire()
	if err != nil {
		return interfaces.FetchResult{
			Kind:   models.FailKindBrowserError,
			Detail: err.Error(),
		}
	}

	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	defer tabCancel()

	runCtx, cancel := context.WithTimeout(tabCtx, b.config.PageTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var docMu sync.Mutex
	docStatus := 0
	docHeaders := map[string]string{}
	chromedp.ListenTarget(runCtx, func(ev interface{}) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Type != network.ResourceTypeDocument {
			return
		}
		docMu.Lock()
		defer docMu.Unlock()
		if docStatus != 0 {
			return
		}
		docStatus = int(resp.Response.Status)
		for name, value := range resp.Response.Headers {
			docHeaders[name] = fmt.Sprint(value)
		}
	})

	start := time.Now()
	var html, finalURL string
	err = chromedp.Run(runCtx,
		network.Enable(),
		chromedp.Navigate(url),
		chromedp.Sleep(b.config.RenderWait),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		kind := models.FailKindBrowserError
		if errors.Is(err, context.DeadlineExceeded) {
			kind = models.FailKindTimeout
		}
		b.logger.Debug().
			Str("url", url).
			Str("kind", string(kind)).
			Msg("Browser fetch failed: " + err.Error())
		return interfaces.FetchResult{Kind: kind, Detail: err.Error()}
	}

	docMu.Lock()
	status := docStatus
	headers := docHeaders
	docMu.Unlock()
	if status == 0 {
		// No document event observed; the page rendered, treat as OK.
		status = 200
	}
	if finalURL == "" {
		finalURL = url
	}

	page := &models.FetchedPage{
		URL:         url,
		FinalURL:    finalURL,
		StatusCode:  status,
		Headers:     headers,
		Body:        []byte(html),
		ContentType: "text/html",
		Source:      models.PriceSourceBrowser,
		Elapsed:     time.Since(start),
	}

	b.logger.Debug().
		Str("url", url).
		Int("status", status).
		Int("bytes", len(html)).
		Dur("elapsed", page.Elapsed).
		Msg("Browser fetch complete")

	return interfaces.FetchResult{Page: page}
}
