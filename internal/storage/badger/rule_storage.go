package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/pricewatch/internal/interfaces"
	"github.com/ternarybob/pricewatch/internal/models"
)

// RuleStorage implements the RuleStorage interface for Badger
type RuleStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewRuleStorage creates a new RuleStorage instance
func NewRuleStorage(db *BadgerDB, logger arbor.ILogger) interfaces.RuleStorage {
	return &RuleStorage{
		db:     db,
		logger: logger,
	}
}

func (s *RuleStorage) SaveRule(ctx context.Context, rule *models.PricingRule) error {
	if rule.ID == "" {
		return fmt.Errorf("rule ID is required")
	}

	now := time.Now()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	if err := s.db.Store().Upsert(rule.ID, rule); err != nil {
		return fmt.Errorf("failed to save rule: %w", err)
	}
	return nil
}

func (s *RuleStorage) GetRule(ctx context.Context, id string) (*models.PricingRule, error) {
	var rule models.PricingRule
	if err := s.db.Store().Get(id, &rule); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("%w: rule %s", models.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return &rule, nil
}

func (s *RuleStorage) ListRules(ctx context.Context, limit, offset int) ([]*models.PricingRule, error) {
	query := badgerhold.Where("ID").Ne("").SortBy("Priority").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Skip(offset)
	}

	var rules []models.PricingRule
	if err := s.db.Store().Find(&rules, query); err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return rulePtrs(rules), nil
}

// ListActiveRules returns the active rules in evaluation order: priority
// descending, rule ID ascending on ties.
func (s *RuleStorage) ListActiveRules(ctx context.Context) ([]*models.PricingRule, error) {
	var rules []models.PricingRule
	err := s.db.Store().Find(&rules, badgerhold.Where("Status").Eq(models.RuleStatusActive))
	if err != nil {
		return nil, fmt.Errorf("failed to list active rules: %w", err)
	}

	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
	return rulePtrs(rules), nil
}

func (s *RuleStorage) DeleteRule(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.PricingRule{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	return nil
}

func rulePtrs(rules []models.PricingRule) []*models.PricingRule {
	result := make([]*models.PricingRule, len(rules))
	for i := range rules {
		result[i] = &rules[i]
	}
	return result
}
