package badger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/pricewatch/internal/common"
	"github.com/ternarybob/pricewatch/internal/interfaces"
	"github.com/ternarybob/pricewatch/internal/models"
	"github.com/ternarybob/pricewatch/internal/services/scraper"
)

// URLCanonicalizer is the slice of the URL policy the seed loader needs for
// tracker dedupe.
type URLCanonicalizer interface {
	Canonicalize(raw string) (string, error)
}

// SeedFile is the on-disk shape of a seed file. TOML and YAML are both
// accepted; a file may carry any mix of sections.
type SeedFile struct {
	Products []SeedProduct `toml:"products" yaml:"products"`
	Trackers []SeedTracker `toml:"trackers" yaml:"trackers"`
	Rules    []SeedRule    `toml:"rules" yaml:"rules"`
}

// SeedProduct declares a catalog product. The ID is required so reloading
// the same file upserts instead of duplicating.
type SeedProduct struct {
	ID           string   `toml:"id" yaml:"id"`
	Name         string   `toml:"name" yaml:"name"`
	SKU          string   `toml:"sku" yaml:"sku"`
	Category     string   `toml:"category" yaml:"category"`
	Cost         *float64 `toml:"cost" yaml:"cost"`
	CurrentPrice float64  `toml:"current_price" yaml:"current_price"`
	Stock        *int     `toml:"stock" yaml:"stock"`
	Active       *bool    `toml:"active" yaml:"active"`
}

// SeedTracker declares a competitor URL to watch. Trackers carry no ID;
// CreateOrGet dedupes on (product_id, canonical URL).
type SeedTracker struct {
	ProductID       string `toml:"product_id" yaml:"product_id"`
	CompetitorName  string `toml:"competitor" yaml:"competitor"`
	URL             string `toml:"url" yaml:"url"`
	IntervalSeconds int    `toml:"interval_seconds" yaml:"interval_seconds"`
}

// SeedRule declares a pricing rule. The ID is required for idempotent
// reloads, like products.
type SeedRule struct {
	ID            string  `toml:"id" yaml:"id"`
	Name          string  `toml:"name" yaml:"name"`
	Description   string  `toml:"description" yaml:"description"`
	Type          string  `toml:"type" yaml:"type"`
	Category      string  `toml:"category" yaml:"category"`
	ProductID     string  `toml:"product_id" yaml:"product_id"`
	AdjustmentPct float64 `toml:"adjustment_pct" yaml:"adjustment_pct"`
	Status        string  `toml:"status" yaml:"status"`
	Priority      int     `toml:"priority" yaml:"priority"`
}

// LoadSeedsFromFiles loads products, trackers, and rules from the seed
// directory. Files that fail to parse are skipped with a warning; the load
// is idempotent across restarts.
func LoadSeedsFromFiles(ctx context.Context, storage interfaces.StorageManager, canonicalizer URLCanonicalizer, seedsDir string, logger arbor.ILogger) error {
	if _, err := os.Stat(seedsDir); os.IsNotExist(err) {
		logger.Debug().Str("dir", seedsDir).Msg("Seeds directory does not exist, skipping")
		return nil
	}

	logger.Info().Str("dir", seedsDir).Msg("Loading seeds from files")

	entries, err := os.ReadDir(seedsDir)
	if err != nil {
		return fmt.Errorf("failed to read seeds directory: %w", err)
	}

	products, trackers, rules := 0, 0, 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".toml" && ext != ".yaml" && ext != ".yml" {
			continue
		}

		filePath := filepath.Join(seedsDir, entry.Name())
		raw, err := os.ReadFile(filePath)
		if err != nil {
			logger.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to read seed file")
			continue
		}

		var seed SeedFile
		if ext == ".toml" {
			err = toml.Unmarshal(raw, &seed)
		} else {
			err = yaml.Unmarshal(raw, &seed)
		}
		if err != nil {
			logger.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to parse seed file")
			continue
		}

		p, t, r := loadSeedFile(ctx, storage, canonicalizer, &seed, entry.Name(), logger)
		products += p
		trackers += t
		rules += r
	}

	if products+trackers+rules > 0 {
		logger.Info().
			Int("products", products).
			Int("trackers", trackers).
			Int("rules", rules).
			Msg("Seeds loaded from files")
	} else {
		logger.Debug().Msg("No seeds loaded from files")
	}
	return nil
}

func loadSeedFile(ctx context.Context, storage interfaces.StorageManager, canonicalizer URLCanonicalizer, seed *SeedFile, fileName string, logger arbor.ILogger) (int, int, int) {
	products := 0
	for _, sp := range seed.Products {
		product := sp.ToProduct()
		if err := product.Validate(); err != nil {
			logger.Warn().Err(err).Str("file", fileName).Str("product_id", product.ID).Msg("Invalid seed product")
			continue
		}
		if err := storage.ProductStorage().SaveProduct(ctx, product); err != nil {
			logger.Warn().Err(err).Str("file", fileName).Str("product_id", product.ID).Msg("Failed to save seed product")
			continue
		}
		products++
	}

	trackers := 0
	for _, st := range seed.Trackers {
		canonical, err := canonicalizer.Canonicalize(st.URL)
		if err != nil {
			logger.Warn().Err(err).Str("file", fileName).Str("url", st.URL).Msg("Invalid seed tracker URL")
			continue
		}
		tracker := &models.CompetitorTracker{
			ID:              common.NewTrackerID(),
			ProductID:       st.ProductID,
			CompetitorName:  st.CompetitorName,
			RawURL:          st.URL,
			CanonicalURL:    canonical,
			Domain:          scraper.ExtractDomain(canonical),
			Active:          true,
			LastStatus:      models.TrackerStatusNew,
			IntervalSeconds: st.IntervalSeconds,
		}
		if err := tracker.Validate(); err != nil {
			logger.Warn().Err(err).Str("file", fileName).Str("url", st.URL).Msg("Invalid seed tracker")
			continue
		}
		_, created, err := storage.TrackerStorage().CreateOrGet(ctx, tracker)
		if err != nil {
			logger.Warn().Err(err).Str("file", fileName).Str("url", st.URL).Msg("Failed to save seed tracker")
			continue
		}
		if created {
			trackers++
		}
	}

	rules := 0
	for _, sr := range seed.Rules {
		rule := sr.ToRule()
		if err := rule.Validate(); err != nil {
			logger.Warn().Err(err).Str("file", fileName).Str("rule_id", rule.ID).Msg("Invalid seed rule")
			continue
		}
		if err := storage.RuleStorage().SaveRule(ctx, rule); err != nil {
			logger.Warn().Err(err).Str("file", fileName).Str("rule_id", rule.ID).Msg("Failed to save seed rule")
			continue
		}
		rules++
	}

	return products, trackers, rules
}

// ToProduct converts the seed declaration to the model. Active defaults to
// true when omitted.
func (sp *SeedProduct) ToProduct() *models.Product {
	active := true
	if sp.Active != nil {
		active = *sp.Active
	}
	return &models.Product{
		ID:           sp.ID,
		Name:         sp.Name,
		SKU:          sp.SKU,
		Category:     sp.Category,
		Cost:         sp.Cost,
		CurrentPrice: sp.CurrentPrice,
		Stock:        sp.Stock,
		Active:       active,
	}
}

// ToRule converts the seed declaration to the model. Status defaults to
// active when omitted.
func (sr *SeedRule) ToRule() *models.PricingRule {
	status := models.RuleStatus(sr.Status)
	if status == "" {
		status = models.RuleStatusActive
	}
	return &models.PricingRule{
		ID:            sr.ID,
		Name:          sr.Name,
		Description:   sr.Description,
		Type:          models.RuleType(sr.Type),
		Category:      sr.Category,
		ProductID:     sr.ProductID,
		AdjustmentPct: sr.AdjustmentPct,
		Status:        status,
		Priority:      sr.Priority,
	}
}
