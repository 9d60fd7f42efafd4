package extractor

import (
	"testing"

	"github.com/ternarybob/pricewatch/internal/models"
)

func makePage(url, body string) *models.FetchedPage {
	return &models.FetchedPage{
		URL:        url,
		FinalURL:   url,
		StatusCode: 200,
		Body:       []byte(body),
		Source:     models.PriceSourceHTTP,
	}
}

const jsonLDPage = `<html><head><title>Widget Deluxe</title>
<script type="application/ld+json">
{"@context":"https://schema.org","@type":"Product","name":"Widget Deluxe",
 "offers":{"@type":"Offer","price":"149.90","priceCurrency":"TRY",
 "availability":"https://schema.org/InStock"}}
</script></head><body><span class="price">999,99 TL</span></body></html>`

func TestGenericExtractJSONLD(t *testing.T) {
	adapter := NewGenericAdapter("USD")
	outcome := adapter.Extract(makePage("https://shop.example.com/p/1", jsonLDPage))

	if !outcome.IsSuccess() {
		t.Fatalf("expected success, got %s", outcome)
	}
	sig := outcome.Signal
	if sig.Price != 149.90 {
		t.Errorf("price = %v, want 149.90", sig.Price)
	}
	if sig.Currency != "TRY" {
		t.Errorf("currency = %q, want TRY", sig.Currency)
	}
	if sig.Confidence != ConfidenceStructured {
		t.Errorf("confidence = %v, want %v", sig.Confidence, ConfidenceStructured)
	}
	if sig.Title != "Widget Deluxe" {
		t.Errorf("title = %q", sig.Title)
	}
	if sig.InStock == nil || !*sig.InStock {
		t.Error("expected in-stock signal")
	}
	if sig.AdapterID != "generic" {
		t.Errorf("adapter = %q", sig.AdapterID)
	}
}

func TestGenericExtractJSONLDArray(t *testing.T) {
	page := makePage("https://shop.example.com/p/2", `<html><head>
<script type="application/ld+json">
[{"@type":"BreadcrumbList"},
 {"@type":"Product","name":"Bundle","offers":[{"price":42.5,"priceCurrency":"EUR"}]}]
</script></head><body></body></html>`)

	outcome := NewGenericAdapter("USD").Extract(page)
	if !outcome.IsSuccess() {
		t.Fatalf("expected success, got %s", outcome)
	}
	if outcome.Signal.Price != 42.5 || outcome.Signal.Currency != "EUR" {
		t.Errorf("got %v %s", outcome.Signal.Price, outcome.Signal.Currency)
	}
}

func TestGenericExtractMetaTags(t *testing.T) {
	page := makePage("https://shop.example.com/p/3", `<html><head>
<title>Meta Product</title>
<meta property="og:price:amount" content="19,90">
<meta property="og:price:currency" content="EUR">
</head><body></body></html>`)

	outcome := NewGenericAdapter("USD").Extract(page)
	if !outcome.IsSuccess() {
		t.Fatalf("expected success, got %s", outcome)
	}
	sig := outcome.Signal
	if sig.Price != 19.90 {
		t.Errorf("price = %v, want 19.90", sig.Price)
	}
	if sig.Currency != "EUR" {
		t.Errorf("currency = %q, want EUR", sig.Currency)
	}
	if sig.Confidence != ConfidenceMeta {
		t.Errorf("confidence = %v, want %v", sig.Confidence, ConfidenceMeta)
	}
}

func TestGenericExtractHeuristic(t *testing.T) {
	page := makePage("https://shop.example.com/p/4", `<html><head><title>Plain</title></head>
<body><div class="other">v2.0 build 300</div>
<span class="product-price">₺89,90</span></body></html>`)

	outcome := NewGenericAdapter("USD").Extract(page)
	if !outcome.IsSuccess() {
		t.Fatalf("expected success, got %s", outcome)
	}
	sig := outcome.Signal
	if sig.Price != 89.90 || sig.Currency != "TRY" {
		t.Errorf("got %v %s, want 89.90 TRY", sig.Price, sig.Currency)
	}
	if sig.Confidence != ConfidenceHeuristic {
		t.Errorf("confidence = %v, want %v", sig.Confidence, ConfidenceHeuristic)
	}
}

func TestGenericHeuristicPrefersCurrencyMarked(t *testing.T) {
	page := makePage("https://shop.example.com/p/5", `<html><body>
<div class="price-note">3</div>
<div class="price">€24,50</div></body></html>`)

	outcome := NewGenericAdapter("USD").Extract(page)
	if !outcome.IsSuccess() {
		t.Fatalf("expected success, got %s", outcome)
	}
	if outcome.Signal.Price != 24.50 || outcome.Signal.Currency != "EUR" {
		t.Errorf("got %v %s, want 24.50 EUR", outcome.Signal.Price, outcome.Signal.Currency)
	}
}

func TestGenericHeuristicBareFallsBackToDefaultCurrency(t *testing.T) {
	page := makePage("https://shop.example.com/p/6", `<html><body>
<span id="price-box">49.99</span></body></html>`)

	outcome := NewGenericAdapter("USD").Extract(page)
	if !outcome.IsSuccess() {
		t.Fatalf("expected success, got %s", outcome)
	}
	if outcome.Signal.Currency != "USD" {
		t.Errorf("currency = %q, want default USD", outcome.Signal.Currency)
	}
}

func TestGenericExtractMiss(t *testing.T) {
	page := makePage("https://shop.example.com/p/7", `<html><body><p>Out of catalog</p></body></html>`)

	outcome := NewGenericAdapter("USD").Extract(page)
	if outcome.Status != models.OutcomeHardFail {
		t.Fatalf("status = %s, want hard fail", outcome.Status)
	}
	if outcome.Kind != models.FailKindParseMiss {
		t.Errorf("kind = %s, want %s", outcome.Kind, models.FailKindParseMiss)
	}
}

func TestGenericTierOrder(t *testing.T) {
	// A page carrying all three tiers must resolve through JSON-LD.
	page := makePage("https://shop.example.com/p/8", `<html><head>
<meta property="og:price:amount" content="11.00">
<script type="application/ld+json">{"name":"X","offers":{"price":"22.00","priceCurrency":"USD"}}</script>
</head><body><span class="price">$33.00</span></body></html>`)

	outcome := NewGenericAdapter("USD").Extract(page)
	if !outcome.IsSuccess() {
		t.Fatalf("expected success, got %s", outcome)
	}
	if outcome.Signal.Price != 22.00 {
		t.Errorf("price = %v, want JSON-LD value 22.00", outcome.Signal.Price)
	}
	if outcome.Signal.Confidence != ConfidenceStructured {
		t.Errorf("confidence = %v", outcome.Signal.Confidence)
	}
}

func TestSiteAdapterNextData(t *testing.T) {
	page := makePage("https://www.migros.com.tr/widget-p-123", `<html><head><title>Widget</title>
<script id="__NEXT_DATA__" type="application/json">
{"props":{"pageProps":{"product":{"id":123,"salePrice":149.5,"stock":3}}}}
</script></head><body></body></html>`)

	registry := NewRegistry("TRY")
	outcome := registry.Extract(page)
	if !outcome.IsSuccess() {
		t.Fatalf("expected success, got %s", outcome)
	}
	sig := outcome.Signal
	if sig.AdapterID != "migros" {
		t.Errorf("adapter = %q, want migros", sig.AdapterID)
	}
	if sig.Price != 149.50 {
		t.Errorf("price = %v, want 149.50", sig.Price)
	}
	if sig.Currency != "TRY" {
		t.Errorf("currency = %q, want TRY", sig.Currency)
	}
	if sig.Confidence != ConfidenceMeta {
		t.Errorf("confidence = %v, want adapter tier", sig.Confidence)
	}
}

func TestSiteAdapterSelector(t *testing.T) {
	page := makePage("https://www.sokmarket.com.tr/sut-1l", `<html><body>
<div class="price__amount">34,50 TL</div></body></html>`)

	outcome := NewRegistry("TRY").Extract(page)
	if !outcome.IsSuccess() {
		t.Fatalf("expected success, got %s", outcome)
	}
	if outcome.Signal.AdapterID != "sok" {
		t.Errorf("adapter = %q, want sok", outcome.Signal.AdapterID)
	}
	if outcome.Signal.Price != 34.50 {
		t.Errorf("price = %v, want 34.50", outcome.Signal.Price)
	}
}

func TestRegistryFallsBackToGeneric(t *testing.T) {
	// Site adapter claims the host but the page has no adapter-visible
	// price; the generic JSON-LD tier still resolves it.
	page := makePage("https://www.a101.com.tr/deterjan", `<html><head>
<script type="application/ld+json">{"name":"Deterjan","offers":{"price":"79.90","priceCurrency":"TRY"}}</script>
</head><body></body></html>`)

	outcome := NewRegistry("TRY").Extract(page)
	if !outcome.IsSuccess() {
		t.Fatalf("expected success, got %s", outcome)
	}
	if outcome.Signal.AdapterID != "generic" {
		t.Errorf("adapter = %q, want generic fallback", outcome.Signal.AdapterID)
	}
	if outcome.Signal.Price != 79.90 {
		t.Errorf("price = %v", outcome.Signal.Price)
	}
}

func TestRegistryForHost(t *testing.T) {
	registry := NewRegistry("TRY")

	chain := registry.ForHost("migros.com.tr")
	if len(chain) != 2 {
		t.Fatalf("expected site adapter plus generic, got %d extractors", len(chain))
	}
	if chain[0].ID() != "migros" || chain[1].ID() != "generic" {
		t.Errorf("chain = [%s %s]", chain[0].ID(), chain[1].ID())
	}

	chain = registry.ForHost("unknown-shop.example")
	if len(chain) != 1 || chain[0].ID() != "generic" {
		t.Fatalf("unknown host should get only the generic adapter")
	}
}

func TestExtractCarriesPageSource(t *testing.T) {
	page := makePage("https://shop.example.com/p/9", jsonLDPage)
	page.Source = models.PriceSourceBrowser

	outcome := NewGenericAdapter("USD").Extract(page)
	if !outcome.IsSuccess() {
		t.Fatalf("expected success, got %s", outcome)
	}
	if outcome.Signal.ExtractedFrom != models.PriceSourceBrowser {
		t.Errorf("extracted_from = %s, want browser", outcome.Signal.ExtractedFrom)
	}
}
