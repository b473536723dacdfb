// Package evidence builds the bounded, deterministic context payload consumed by the
// reasoning step. Building is a pure function of the market snapshot: the same snapshot
// always serializes to byte-identical output, so analysis traces stay reproducible.
package evidence

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/rewired-gh/polyagent/internal/models"
)

// ErrMalformedSnapshot indicates the caller's snapshot is structurally invalid.
// It is an input error: never retried and never downgraded to a recommendation.
var ErrMalformedSnapshot = errors.New("malformed market snapshot")

// maxFieldLen bounds the question and description fields in the payload so a single
// oversized market cannot blow out the reasoning request.
const maxFieldLen = 2000

// Context is the evidence payload for one reasoning session.
type Context struct {
	MarketID string
	Question string
	Payload  string
}

// Build serializes a snapshot into an evidence context. Numeric fields are rounded to
// four decimal places for reproducibility.
func Build(snap models.MarketSnapshot) (Context, error) {
	if err := snap.Validate(); err != nil {
		return Context{}, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Market ID: %s\n", snap.ID)
	fmt.Fprintf(&b, "Question: %s\n", truncate(snap.Question))
	if snap.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", truncate(snap.Description))
	}

	b.WriteString("Outcome Prices:\n")
	for i, p := range snap.OutcomePrices {
		label := fmt.Sprintf("outcome %d", i)
		if i < len(snap.Outcomes) {
			label = snap.Outcomes[i]
		}
		fmt.Fprintf(&b, "  - %s: %s\n", label, round4(p))
	}

	fmt.Fprintf(&b, "Liquidity (USD): %s\n", round4(snap.Liquidity))
	fmt.Fprintf(&b, "Volume (USD): %s\n", round4(snap.Volume))
	fmt.Fprintf(&b, "Spread: %s\n", round4(snap.Spread))
	if !snap.CloseTime.IsZero() {
		fmt.Fprintf(&b, "Close Time: %s\n", snap.CloseTime.UTC().Format("2006-01-02T15:04:05Z"))
	}

	return Context{
		MarketID: snap.ID,
		Question: snap.Question,
		Payload:  b.String(),
	}, nil
}

// round4 renders a float with exactly the precision the payload promises.
func round4(v float64) string {
	return decimal.NewFromFloat(v).Round(4).String()
}

// truncate cuts s at maxFieldLen bytes without splitting a multi-byte rune.
func truncate(s string) string {
	if len(s) <= maxFieldLen {
		return s
	}
	cut := maxFieldLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
