package evidence

import (
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rewired-gh/polyagent/internal/models"
)

func sampleSnapshot() models.MarketSnapshot {
	return models.MarketSnapshot{
		ID:            "market-42",
		Question:      "Will X happen?",
		Description:   "Resolution per official announcement.",
		Outcomes:      []string{"Yes", "No"},
		OutcomePrices: []float64{0.65, 0.35},
		Liquidity:     12345.67891,
		Volume:        98765.43219,
		Spread:        0.021,
		CloseTime:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestBuildDeterministic(t *testing.T) {
	snap := sampleSnapshot()

	first, err := Build(snap)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	second, err := Build(snap)
	if err != nil {
		t.Fatalf("second Build failed: %v", err)
	}
	if first.Payload != second.Payload {
		t.Error("Build is not deterministic: payloads differ across calls")
	}
}

func TestBuildRoundsToFourDecimals(t *testing.T) {
	snap := sampleSnapshot()
	ctx, err := Build(snap)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !strings.Contains(ctx.Payload, "12345.6789") {
		t.Errorf("liquidity not rounded to 4 decimals in payload:\n%s", ctx.Payload)
	}
	if strings.Contains(ctx.Payload, "12345.67891") {
		t.Errorf("payload carries unrounded liquidity:\n%s", ctx.Payload)
	}
}

func TestBuildIncludesAllFields(t *testing.T) {
	ctx, err := Build(sampleSnapshot())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	for _, want := range []string{
		"Market ID: market-42",
		"Question: Will X happen?",
		"Yes: 0.65",
		"No: 0.35",
		"Close Time: 2026-03-01T12:00:00Z",
	} {
		if !strings.Contains(ctx.Payload, want) {
			t.Errorf("payload missing %q:\n%s", want, ctx.Payload)
		}
	}
}

func TestBuildMalformedSnapshot(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *models.MarketSnapshot)
	}{
		{"missing ID", func(s *models.MarketSnapshot) { s.ID = "" }},
		{"missing question", func(s *models.MarketSnapshot) { s.Question = "" }},
		{"prices sum off", func(s *models.MarketSnapshot) { s.OutcomePrices = []float64{0.5, 0.3} }},
		{"no prices", func(s *models.MarketSnapshot) { s.OutcomePrices = nil; s.Outcomes = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := sampleSnapshot()
			tt.mutate(&snap)
			_, err := Build(snap)
			if !errors.Is(err, ErrMalformedSnapshot) {
				t.Errorf("expected ErrMalformedSnapshot, got %v", err)
			}
		})
	}
}

func TestBuildTruncatesOversizedFields(t *testing.T) {
	snap := sampleSnapshot()
	snap.Description = strings.Repeat("x", 10000)
	ctx, err := Build(snap)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(ctx.Payload) > 6000 {
		t.Errorf("payload not bounded: %d bytes", len(ctx.Payload))
	}
}

func TestTruncatePreservesRuneBoundaries(t *testing.T) {
	// A multi-byte rune straddling the byte limit must be dropped whole.
	s := strings.Repeat("x", maxFieldLen-1) + "日本語"
	got := truncate(s)
	if !utf8.ValidString(got) {
		t.Errorf("truncate produced invalid UTF-8: %q", got[len(got)-8:])
	}
	if !strings.HasSuffix(got, "x...") {
		t.Errorf("expected straddling rune dropped, got suffix %q", got[len(got)-8:])
	}
	if len(got) > maxFieldLen+3 {
		t.Errorf("truncated string too long: %d bytes", len(got))
	}
}
