package models

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// RuleType selects the pricing formula a rule applies.
type RuleType string

const (
	RuleTypeFixed       RuleType = "fixed"
	RuleTypeCompetitive RuleType = "competitive"
	RuleTypeDynamic     RuleType = "dynamic"
	RuleTypeClearance   RuleType = "clearance"
)

// RuleStatus gates whether a rule participates in evaluation.
type RuleStatus string

const (
	RuleStatusActive   RuleStatus = "active"
	RuleStatusInactive RuleStatus = "inactive"
)

// PricingRule adjusts a product price relative to its own price or to
// competitor observations. Rules are evaluated in descending Priority with
// ties broken by ascending ID; the first active match fires.
//
// Scope: ProductID binds the rule to one product; otherwise Category binds it
// to a category; with neither set the rule matches every product.
type PricingRule struct {
	ID            string     `json:"id" validate:"required"` // rule_{uuid}
	Name          string     `json:"name" validate:"required"`
	Description   string     `json:"description,omitempty"`
	Type          RuleType   `json:"type" validate:"required,oneof=fixed competitive dynamic clearance"`
	Category      string     `json:"category,omitempty"`
	ProductID     string     `json:"product_id,omitempty"`
	AdjustmentPct float64    `json:"adjustment_pct"`
	Status        RuleStatus `json:"status" validate:"required,oneof=active inactive"`
	Priority      int        `json:"priority"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

var ruleValidator = validator.New()

// Validate checks the struct tags; seed loading and the rules API both run
// rules through this before persisting.
func (r *PricingRule) Validate() error {
	if err := ruleValidator.Struct(r); err != nil {
		return fmt.Errorf("invalid pricing rule: %w", err)
	}
	return nil
}

// Matches reports whether the rule applies to the product.
func (r *PricingRule) Matches(p *Product) bool {
	if r.ProductID != "" {
		return r.ProductID == p.ID
	}
	if r.Category != "" {
		return p.Category != "" && r.Category == p.Category
	}
	return true
}

// Recommendation is the deterministic output of the rule engine for one
// product at one history snapshot. Reason enumerates the inputs so the
// suggestion is auditable without replaying the evaluation.
type Recommendation struct {
	ProductID      string    `json:"product_id"`
	CurrentPrice   float64   `json:"current_price"`
	SuggestedPrice float64   `json:"suggested_price"`
	Reason         string    `json:"reason"`
	RuleID         string    `json:"rule_id,omitempty"` // empty when no rule fired
	ComputedAt     time.Time `json:"computed_at"`
}

func (r *Recommendation) String() string {
	return fmt.Sprintf("product=%s current=%.2f suggested=%.2f rule=%s",
		r.ProductID, r.CurrentPrice, r.SuggestedPrice, r.RuleID)
}
