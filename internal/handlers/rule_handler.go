package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pricewatch/internal/common"
	"github.com/ternarybob/pricewatch/internal/interfaces"
	"github.com/ternarybob/pricewatch/internal/models"
)

// RuleHandler serves the pricing rule CRUD endpoints.
type RuleHandler struct {
	storage interfaces.StorageManager
	logger  arbor.ILogger
}

func NewRuleHandler(storage interfaces.StorageManager, logger arbor.ILogger) *RuleHandler {
	return &RuleHandler{
		storage: storage,
		logger:  logger,
	}
}

// ListHandler handles GET /api/rules.
func (h *RuleHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	limit, offset := GetPaginationParams(r)
	rules, err := h.storage.RuleStorage().ListRules(r.Context(), limit, offset)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"rules":  rules,
		"count":  len(rules),
		"limit":  limit,
		"offset": offset,
	})
}

// CreateHandler handles POST /api/rules.
func (h *RuleHandler) CreateHandler(w http.ResponseWriter, r *http.Request) {
	var rule models.PricingRule
	if !DecodeJSON(w, r, &rule) {
		return
	}

	if rule.ID == "" {
		rule.ID = common.NewRuleID()
	}
	if rule.Status == "" {
		rule.Status = models.RuleStatusActive
	}
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	if err := rule.Validate(); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.storage.RuleStorage().SaveRule(r.Context(), &rule); err != nil {
		WriteDomainError(w, err)
		return
	}

	h.logger.Info().Str("rule_id", rule.ID).Str("type", string(rule.Type)).Msg("Pricing rule saved")
	WriteJSON(w, http.StatusCreated, &rule)
}

// GetHandler handles GET /api/rules/{id}.
func (h *RuleHandler) GetHandler(w http.ResponseWriter, r *http.Request, id string) {
	rule, err := h.storage.RuleStorage().GetRule(r.Context(), id)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, rule)
}

// UpdateHandler handles PUT /api/rules/{id}.
func (h *RuleHandler) UpdateHandler(w http.ResponseWriter, r *http.Request, id string) {
	existing, err := h.storage.RuleStorage().GetRule(r.Context(), id)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	var rule models.PricingRule
	if !DecodeJSON(w, r, &rule) {
		return
	}
	rule.ID = existing.ID
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now().UTC()

	if err := rule.Validate(); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.storage.RuleStorage().SaveRule(r.Context(), &rule); err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, &rule)
}

// DeleteHandler handles DELETE /api/rules/{id}.
func (h *RuleHandler) DeleteHandler(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.storage.RuleStorage().DeleteRule(r.Context(), id); err != nil {
		WriteDomainError(w, err)
		return
	}
	h.logger.Info().Str("rule_id", id).Msg("Pricing rule deleted")
	WriteSuccess(w, "rule deleted")
}
