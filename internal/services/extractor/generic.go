package extractor

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ternarybob/pricewatch/internal/models"
)

// Confidence tiers by extraction method.
const (
	ConfidenceStructured = 1.0
	ConfidenceMeta       = 0.7
	ConfidenceHeuristic  = 0.4
)

// GenericAdapter extracts prices from arbitrary product pages. It tries a
// JSON-LD offers block first, then price meta tags, then a heuristic scan
// of price-like containers.
type GenericAdapter struct {
	defaultCurrency string
}

func NewGenericAdapter(defaultCurrency string) *GenericAdapter {
	return &GenericAdapter{defaultCurrency: defaultCurrency}
}

func (a *GenericAdapter) ID() string {
	return "generic"
}

// Claims always reports true; the generic adapter is the fallback for every
// host without a dedicated adapter.
func (a *GenericAdapter) Claims(host string) bool {
	return true
}

func (a *GenericAdapter) Extract(page *models.FetchedPage) models.ScrapeOutcome {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return models.HardFail(models.FailKindParseMiss, "unparseable document: "+err.Error())
	}

	if sig, ok := extractJSONLD(doc); ok {
		return a.finish(sig, page)
	}
	if sig, ok := extractMetaTags(doc); ok {
		return a.finish(sig, page)
	}
	if sig, ok := extractHeuristic(doc); ok {
		return a.finish(sig, page)
	}
	return models.HardFail(models.FailKindParseMiss, "no price found in document")
}

// finish fills in the fields shared by every tier.
func (a *GenericAdapter) finish(sig *models.PriceSignal, page *models.FetchedPage) models.ScrapeOutcome {
	if sig.Currency == "" {
		sig.Currency = a.defaultCurrency
	}
	sig.ExtractedFrom = page.Source
	sig.AdapterID = a.ID()
	return models.SuccessOutcome(sig)
}

// extractJSONLD scans application/ld+json scripts for an offers block with a
// valid price. Labeled structured data gets full confidence.
func extractJSONLD(doc *goquery.Document) (*models.PriceSignal, bool) {
	var found *models.PriceSignal
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var payload interface{}
		if err := json.Unmarshal([]byte(s.Text()), &payload); err != nil {
			return true
		}
		for _, node := range flattenJSONLD(payload) {
			if sig, ok := signalFromOffers(node); ok {
				found = sig
				return false
			}
		}
		return true
	})
	if found == nil {
		return nil, false
	}
	return found, true
}

// flattenJSONLD normalizes a JSON-LD payload into candidate nodes. Top-level
// arrays and @graph containers both appear in the wild.
func flattenJSONLD(payload interface{}) []map[string]interface{} {
	var nodes []map[string]interface{}
	switch v := payload.(type) {
	case []interface{}:
		for _, item := range v {
			if m, ok := item.(map[string]interface{}); ok {
				nodes = append(nodes, m)
			}
		}
	case map[string]interface{}:
		nodes = append(nodes, v)
		if graph, ok := v["@graph"].([]interface{}); ok {
			for _, item := range graph {
				if m, ok := item.(map[string]interface{}); ok {
					nodes = append(nodes, m)
				}
			}
		}
	}
	return nodes
}

func signalFromOffers(node map[string]interface{}) (*models.PriceSignal, bool) {
	raw, ok := node["offers"]
	if !ok {
		return nil, false
	}

	var offers []map[string]interface{}
	switch v := raw.(type) {
	case map[string]interface{}:
		offers = append(offers, v)
	case []interface{}:
		for _, item := range v {
			if m, ok := item.(map[string]interface{}); ok {
				offers = append(offers, m)
			}
		}
	}

	for _, offer := range offers {
		price, ok := jsonAmount(offer["price"])
		if !ok {
			continue
		}
		sig := &models.PriceSignal{
			Price:      price,
			Confidence: ConfidenceStructured,
		}
		if cur, ok := offer["priceCurrency"].(string); ok {
			sig.Currency = strings.ToUpper(strings.TrimSpace(cur))
		}
		if name, ok := node["name"].(string); ok {
			sig.Title = strings.TrimSpace(name)
		}
		if avail, ok := offer["availability"].(string); ok {
			sig.InStock = availabilityInStock(avail)
		}
		return sig, true
	}
	return nil, false
}

// jsonAmount reads a price that may be a JSON number or a string.
func jsonAmount(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		if !validPrice(n) {
			return 0, false
		}
		return round2(n), true
	case string:
		return parseAmount(n)
	}
	return 0, false
}

func availabilityInStock(availability string) *bool {
	a := strings.ToLower(availability)
	var v bool
	switch {
	case strings.Contains(a, "instock"):
		v = true
	case strings.Contains(a, "outofstock"), strings.Contains(a, "soldout"):
		v = false
	default:
		return nil
	}
	return &v
}

// metaPriceSelectors are tried in order; the first parseable content wins.
var metaPriceSelectors = []string{
	`meta[property="product:price:amount"]`,
	`meta[property="og:price:amount"]`,
	`meta[name="price"]`,
	`meta[itemprop="price"]`,
	`[itemprop="price"]`,
}

var metaCurrencySelectors = []string{
	`meta[property="product:price:currency"]`,
	`meta[property="og:price:currency"]`,
	`meta[itemprop="priceCurrency"]`,
	`[itemprop="priceCurrency"]`,
}

// extractMetaTags reads the common price meta tag conventions.
func extractMetaTags(doc *goquery.Document) (*models.PriceSignal, bool) {
	for _, selector := range metaPriceSelectors {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			continue
		}
		content, ok := sel.Attr("content")
		if !ok || strings.TrimSpace(content) == "" {
			content = sel.Text()
		}
		price, currency, ok := ParseMoney(content)
		if !ok {
			continue
		}
		if currency == "" {
			currency = metaCurrency(doc)
		}
		return &models.PriceSignal{
			Price:      price,
			Currency:   currency,
			Title:      documentTitle(doc),
			Confidence: ConfidenceMeta,
		}, true
	}
	return nil, false
}

func metaCurrency(doc *goquery.Document) string {
	for _, selector := range metaCurrencySelectors {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			continue
		}
		content, ok := sel.Attr("content")
		if !ok {
			content = sel.Text()
		}
		content = strings.ToUpper(strings.TrimSpace(content))
		if code, ok := currencyCodes[content]; ok {
			return code
		}
		if len(content) == 3 {
			return content
		}
	}
	return ""
}

// extractHeuristic scans price-like containers for a currency-marked number.
// A bare number in a price container is accepted only when no marked match
// exists anywhere.
func extractHeuristic(doc *goquery.Document) (*models.PriceSignal, bool) {
	var bare *models.PriceSignal
	var marked *models.PriceSignal

	doc.Find(`[class*="price"], [id*="price"], [data-price]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := strings.TrimSpace(sel.Text())
		if attr, ok := sel.Attr("data-price"); ok && strings.TrimSpace(attr) != "" {
			text = attr + " " + text
		}
		price, currency, ok := ParseMoney(text)
		if !ok {
			return true
		}
		sig := &models.PriceSignal{
			Price:      price,
			Currency:   currency,
			Title:      documentTitle(doc),
			Confidence: ConfidenceHeuristic,
		}
		if currency != "" {
			marked = sig
			return false
		}
		if bare == nil {
			bare = sig
		}
		return true
	})

	if marked != nil {
		return marked, true
	}
	if bare != nil {
		return bare, true
	}
	return nil, false
}

func documentTitle(doc *goquery.Document) string {
	if title, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content"); ok {
		if t := strings.TrimSpace(title); t != "" {
			return t
		}
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}
