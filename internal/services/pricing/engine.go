package pricing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pricewatch/internal/common"
	"github.com/ternarybob/pricewatch/internal/interfaces"
	"github.com/ternarybob/pricewatch/internal/models"
)

// Engine produces price recommendations by applying the first matching
// active rule to a product and the latest competitor observation per tracker.
// All money math runs on decimals; the suggested price is rounded to two
// places with banker's rounding at the very end.
type Engine struct {
	storage interfaces.StorageManager
	config  *common.PricingConfig
	logger  arbor.ILogger
}

func NewEngine(storage interfaces.StorageManager, config *common.PricingConfig, logger arbor.ILogger) *Engine {
	return &Engine{
		storage: storage,
		config:  config,
		logger:  logger,
	}
}

// Recommend loads the product, the active rules, and the recent history
// window, and evaluates them.
func (e *Engine) Recommend(ctx context.Context, productID string) (*models.Recommendation, error) {
	product, err := e.storage.ProductStorage().GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	rules, err := e.storage.RuleStorage().ListActiveRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load pricing rules: %w", err)
	}

	history, err := e.storage.HistoryStorage().HistoryForProduct(ctx, productID, e.config.HistoryWindowDays)
	if err != nil {
		return nil, fmt.Errorf("failed to load price history: %w", err)
	}

	rec := e.Evaluate(product, rules, history, time.Now().UTC())

	e.logger.Debug().
		Str("product_id", productID).
		Float64("current", rec.CurrentPrice).
		Float64("suggested", rec.SuggestedPrice).
		Str("rule_id", rec.RuleID).
		Msg("Recommendation computed")

	return rec, nil
}

// Evaluate is the pure evaluation core: deterministic for a given
// (product, rules, history) snapshot.
func (e *Engine) Evaluate(product *models.Product, rules []*models.PricingRule, history []*models.PricePoint, now time.Time) *models.Recommendation {
	rec := &models.Recommendation{
		ProductID:      product.ID,
		CurrentPrice:   product.CurrentPrice,
		SuggestedPrice: product.CurrentPrice,
		ComputedAt:     now,
	}

	rule := firstMatch(product, rules)
	if rule == nil {
		rec.Reason = "no matching rule"
		return rec
	}

	current := decimal.NewFromFloat(product.CurrentPrice)
	factor := decimal.NewFromFloat(1).Add(decimal.NewFromFloat(rule.AdjustmentPct).Div(decimal.NewFromInt(100)))
	competitors, avg := latestCompetitorAverage(history)

	var suggested decimal.Decimal
	var reason string

	switch rule.Type {
	case models.RuleTypeFixed, models.RuleTypeClearance:
		suggested = current.Mul(factor)
		reason = fmt.Sprintf("rule %q (%s): adjustment %+.1f%% on current price",
			rule.Name, rule.Type, rule.AdjustmentPct)

	case models.RuleTypeCompetitive:
		if competitors == 0 {
			rec.Reason = "no competitor data"
			return rec
		}
		suggested = avg.Mul(factor)
		reason = fmt.Sprintf("rule %q (%s): %d competitors, avg=%s, adjustment %+.1f%%",
			rule.Name, rule.Type, competitors, avg.StringFixed(2), rule.AdjustmentPct)

	case models.RuleTypeDynamic:
		if competitors == 0 {
			rec.Reason = "no competitor data"
			return rec
		}
		wc := decimal.NewFromFloat(e.config.CompetitorWeight)
		wm := decimal.NewFromFloat(e.config.MarketWeight)
		suggested = avg.Mul(wc).Add(current.Mul(wm))
		reason = fmt.Sprintf("rule %q (%s): %d competitors, avg=%s, blend %s/%s",
			rule.Name, rule.Type, competitors, avg.StringFixed(2),
			wc.String(), wm.String())

	default:
		rec.Reason = fmt.Sprintf("rule %q has unknown type %s", rule.Name, rule.Type)
		return rec
	}

	suggested, clampNote := e.clamp(suggested, current, product.Cost)
	if clampNote != "" {
		reason += ", " + clampNote
	}

	rec.SuggestedPrice = suggested.RoundBank(2).InexactFloat64()
	rec.Reason = reason
	rec.RuleID = rule.ID
	return rec
}

// clamp bounds suggested to ±MaxChangePct around the current price and, when
// the unit cost is known, to the margin floor. The floor wins over the
// downward movement cap.
func (e *Engine) clamp(suggested, current decimal.Decimal, cost *float64) (decimal.Decimal, string) {
	pct := decimal.NewFromFloat(e.config.MaxChangePct).Div(decimal.NewFromInt(100))
	upper := current.Mul(decimal.NewFromInt(1).Add(pct))
	lower := current.Mul(decimal.NewFromInt(1).Sub(pct))

	floor := decimal.NewFromFloat(0.01)
	marginFloor := false
	if cost != nil {
		margin := decimal.NewFromFloat(*cost).
			Mul(decimal.NewFromInt(1).Add(decimal.NewFromFloat(e.config.MinMarginPct).Div(decimal.NewFromInt(100))))
		if margin.GreaterThan(floor) {
			floor = margin
			marginFloor = true
		}
	}
	if lower.LessThan(floor) {
		lower = floor
	} else {
		marginFloor = false
	}
	if upper.LessThan(lower) {
		upper = lower
	}

	switch {
	case suggested.GreaterThan(upper):
		return upper, fmt.Sprintf("clamped to max change +%.0f%%", e.config.MaxChangePct)
	case suggested.LessThan(lower):
		if marginFloor {
			return lower, "raised to margin floor"
		}
		return lower, fmt.Sprintf("clamped to max change -%.0f%%", e.config.MaxChangePct)
	}
	return suggested, ""
}

// firstMatch returns the highest-priority active rule matching the product.
// Ties on priority break by ascending ID so evaluation stays deterministic.
func firstMatch(product *models.Product, rules []*models.PricingRule) *models.PricingRule {
	sorted := make([]*models.PricingRule, len(rules))
	copy(sorted, rules)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority > sorted[j].Priority
		}
		return sorted[i].ID < sorted[j].ID
	})

	for _, rule := range sorted {
		if rule.Status != models.RuleStatusActive {
			continue
		}
		if rule.Matches(product) {
			return rule
		}
	}
	return nil
}

// latestCompetitorAverage keeps the most recent point per tracker and
// averages those prices.
func latestCompetitorAverage(history []*models.PricePoint) (int, decimal.Decimal) {
	latest := make(map[string]*models.PricePoint)
	for _, point := range history {
		current, ok := latest[point.TrackerID]
		if !ok || point.CapturedAt.After(current.CapturedAt) {
			latest[point.TrackerID] = point
		}
	}
	if len(latest) == 0 {
		return 0, decimal.Decimal{}
	}

	sum := decimal.Decimal{}
	for _, point := range latest {
		sum = sum.Add(decimal.NewFromFloat(point.Price))
	}
	return len(latest), sum.Div(decimal.NewFromInt(int64(len(latest))))
}
