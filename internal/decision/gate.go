// Package decision converts a recommendation into an executable-or-not decision.
// The gate only authorizes a bounded intent; order submission belongs to the
// execution collaborator. Given identical inputs the gate always returns the same
// decision.
package decision

import (
	"github.com/rewired-gh/polyagent/internal/models"
)

// Decide applies the confidence threshold and trade-size cap to a recommendation.
//
// Execution is authorized only when the action is BUY or SELL and confidence meets the
// threshold. BUY maps to the "Yes" side, SELL to "No". The authorized amount is capped
// at maxTradeAmount.
func Decide(rec models.Recommendation, confidenceThreshold, maxTradeAmount float64) models.ExecutionDecision {
	switch rec.Action {
	case models.ActionBuy, models.ActionSell:
	default:
		return models.ExecutionDecision{Execute: false, Reason: models.SkipHoldRecommended}
	}

	if rec.Confidence < confidenceThreshold {
		return models.ExecutionDecision{Execute: false, Reason: models.SkipLowConfidence}
	}

	side := "Yes"
	if rec.Action == models.ActionSell {
		side = "No"
	}
	return models.ExecutionDecision{
		Execute: true,
		Side:    side,
		Amount:  maxTradeAmount,
	}
}
