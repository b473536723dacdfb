// Package models defines the core domain entities for the polyagent decision engine.
// These models represent market snapshots, tool descriptors, reasoning recommendations,
// and execution decisions. All models include built-in validation to ensure data
// integrity throughout the analysis pipeline.
//
// Terminology (matching Polymarket's own naming):
//   - Market: a single question with a set of priced outcomes. This is the unit we analyze.
//   - Outcome prices: the market-implied probabilities, one per outcome, summing to ~1.0.
package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// priceSumEpsilon is the tolerance applied when checking that outcome prices sum to 1.0.
const priceSumEpsilon = 0.01

// MarketSnapshot is a point-in-time, read-only view of a market as supplied by the
// market-data client. The decision engine never mutates a snapshot.
type MarketSnapshot struct {
	ID            string    `json:"id"`
	Question      string    `json:"question"`
	Description   string    `json:"description,omitempty"`
	Outcomes      []string  `json:"outcomes"`       // Outcome labels, same order as OutcomePrices
	OutcomePrices []float64 `json:"outcome_prices"` // Market-implied probabilities in [0, 1]
	Liquidity     float64   `json:"liquidity"`      // Current liquidity in USD
	Volume        float64   `json:"volume"`         // Total volume in USD
	Spread        float64   `json:"spread"`
	CloseTime     time.Time `json:"close_time"`
}

// Validate checks that the snapshot is structurally sound. A snapshot that fails
// validation must never reach the reasoning step.
func (s *MarketSnapshot) Validate() error {
	if s.ID == "" {
		return errors.New("market ID must not be empty")
	}
	if s.Question == "" {
		return errors.New("market question must not be empty")
	}
	if len(s.OutcomePrices) == 0 {
		return errors.New("market must have at least one outcome price")
	}
	var sum float64
	for i, p := range s.OutcomePrices {
		if p < 0.0 || p > 1.0 {
			return fmt.Errorf("outcome price %d must be between 0.0 and 1.0", i)
		}
		sum += p
	}
	if math.Abs(sum-1.0) > priceSumEpsilon {
		return fmt.Errorf("outcome prices must sum to 1.0, got %.4f", sum)
	}
	if len(s.Outcomes) > 0 && len(s.Outcomes) != len(s.OutcomePrices) {
		return errors.New("outcomes and outcome prices must have the same length")
	}
	return nil
}
