package common

import (
	"github.com/google/uuid"
)

// NewProductID generates a unique product ID with the "prd_" prefix
func NewProductID() string {
	return "prd_" + uuid.New().String()
}

// NewTrackerID generates a unique tracker ID with the "trk_" prefix
func NewTrackerID() string {
	return "trk_" + uuid.New().String()
}

// NewJobID generates a unique scrape job ID with the "job_" prefix
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewPricePointID generates a unique price point ID with the "pp_" prefix
func NewPricePointID() string {
	return "pp_" + uuid.New().String()
}

// NewRuleID generates a unique pricing rule ID with the "rule_" prefix
func NewRuleID() string {
	return "rule_" + uuid.New().String()
}

// NewExecutionID generates a unique scrape execution ID with the "exec_" prefix
func NewExecutionID() string {
	return "exec_" + uuid.New().String()
}
