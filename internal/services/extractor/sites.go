package extractor

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ternarybob/pricewatch/internal/models"
)

// nextDataPriceKeys are the JSON keys treated as a price when scanning a
// framework state blob. Compared case-insensitively.
var nextDataPriceKeys = map[string]struct{}{
	"price":        {},
	"currentprice": {},
	"saleprice":    {},
	"finalprice":   {},
	"amount":       {},
}

const nextDataMaxDepth = 12

// SiteAdapter extracts prices for a known retail site using its page
// structure. Selector hits and state-blob hits both carry adapter-tier
// confidence.
type SiteAdapter struct {
	id           string
	domains      []string
	selectors    string
	scanNextData bool
	currency     string
}

func (a *SiteAdapter) ID() string {
	return a.id
}

// Claims matches the host exactly or as a subdomain of a claimed domain.
func (a *SiteAdapter) Claims(host string) bool {
	for _, d := range a.domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func (a *SiteAdapter) Extract(page *models.FetchedPage) models.ScrapeOutcome {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return models.HardFail(models.FailKindParseMiss, "unparseable document: "+err.Error())
	}

	if sig, ok := a.extractSelectors(doc); ok {
		return a.finish(sig, page)
	}
	if a.scanNextData {
		if sig, ok := a.extractNextData(doc); ok {
			return a.finish(sig, page)
		}
	}
	return models.HardFail(models.FailKindParseMiss, "adapter "+a.id+" found no price")
}

func (a *SiteAdapter) finish(sig *models.PriceSignal, page *models.FetchedPage) models.ScrapeOutcome {
	if sig.Currency == "" {
		sig.Currency = a.currency
	}
	sig.ExtractedFrom = page.Source
	sig.AdapterID = a.id
	return models.SuccessOutcome(sig)
}

func (a *SiteAdapter) extractSelectors(doc *goquery.Document) (*models.PriceSignal, bool) {
	var found *models.PriceSignal
	doc.Find(a.selectors).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		price, currency, ok := ParseMoney(strings.TrimSpace(sel.Text()))
		if !ok {
			return true
		}
		found = &models.PriceSignal{
			Price:      price,
			Currency:   currency,
			Title:      documentTitle(doc),
			Confidence: ConfidenceMeta,
		}
		return false
	})
	if found == nil {
		return nil, false
	}
	return found, true
}

// extractNextData scans the embedded framework state for a price-named key.
func (a *SiteAdapter) extractNextData(doc *goquery.Document) (*models.PriceSignal, bool) {
	raw := doc.Find(`script#__NEXT_DATA__`).First().Text()
	if strings.TrimSpace(raw) == "" {
		return nil, false
	}
	var payload interface{}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, false
	}
	price, ok := deepFindPrice(payload, 0)
	if !ok {
		return nil, false
	}
	return &models.PriceSignal{
		Price:      price,
		Currency:   a.currency,
		Title:      documentTitle(doc),
		Confidence: ConfidenceMeta,
	}, true
}

// deepFindPrice walks the blob looking for a price-named key with a valid
// value. Map keys are visited in sorted order so results are deterministic.
func deepFindPrice(v interface{}, depth int) (float64, bool) {
	if depth > nextDataMaxDepth {
		return 0, false
	}
	switch node := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(node))
		for k := range node {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if _, hit := nextDataPriceKeys[strings.ToLower(k)]; hit {
				if price, ok := jsonAmount(node[k]); ok {
					return price, true
				}
			}
		}
		for _, k := range keys {
			if price, ok := deepFindPrice(node[k], depth+1); ok {
				return price, true
			}
		}
	case []interface{}:
		for _, item := range node {
			if price, ok := deepFindPrice(item, depth+1); ok {
				return price, true
			}
		}
	}
	return 0, false
}

// builtinSiteAdapters returns the adapters for the retail sites shipped with
// the service.
func builtinSiteAdapters() []*SiteAdapter {
	return []*SiteAdapter{
		{
			id:           "migros",
			domains:      []string{"migros.com.tr"},
			selectors:    `#sale-price, .sale-price, .price-new, [class*="sale-price"]`,
			scanNextData: true,
			currency:     "TRY",
		},
		{
			id:           "a101",
			domains:      []string{"a101.com.tr"},
			selectors:    `.current-price, [class*="current-price"], [class*="saleprice"]`,
			scanNextData: true,
			currency:     "TRY",
		},
		{
			id:           "sok",
			domains:      []string{"sokmarket.com.tr"},
			selectors:    `.price__amount, [class*="PriceText"], [class*="price-value"]`,
			scanNextData: true,
			currency:     "TRY",
		},
		{
			id:           "getir",
			domains:      []string{"getir.com"},
			selectors:    `[data-testid="price"], [class*="ProductPrice"]`,
			scanNextData: true,
			currency:     "TRY",
		},
	}
}
