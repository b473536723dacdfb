package reasoning

import (
	"errors"
	"testing"

	"github.com/rewired-gh/polyagent/internal/models"
)

func TestParseRecommendationJSON(t *testing.T) {
	tests := []struct {
		name           string
		content        string
		wantAction     models.Action
		wantConfidence float64
	}{
		{
			"plain JSON object",
			`{"action": "BUY", "confidence": 0.8, "reasoning": "underpriced"}`,
			models.ActionBuy, 0.8,
		},
		{
			"JSON fenced in prose",
			"Here is my analysis.\n```json\n{\"action\": \"SELL\", \"confidence\": 0.72, \"reasoning\": \"overpriced\"}\n```\nDone.",
			models.ActionSell, 0.72,
		},
		{
			"recommendation key instead of action",
			`{"recommendation": "hold", "confidence": 0.3}`,
			models.ActionHold, 0.3,
		},
		{
			"percentage confidence",
			`{"action": "BUY", "confidence": 80, "reasoning": "x"}`,
			models.ActionBuy, 0.8,
		},
		{
			"braces inside reasoning string",
			`{"action": "BUY", "confidence": 0.6, "reasoning": "payload was {\"a\": 1}"}`,
			models.ActionBuy, 0.6,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := parseRecommendation(tt.content)
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if rec.Action != tt.wantAction {
				t.Errorf("action = %s, want %s", rec.Action, tt.wantAction)
			}
			if rec.Confidence != tt.wantConfidence {
				t.Errorf("confidence = %v, want %v", rec.Confidence, tt.wantConfidence)
			}
		})
	}
}

func TestParseRecommendationLabeledText(t *testing.T) {
	content := `Based on my analysis of the market:

- Recommendation: BUY
- Confidence: 75%
- Reasoning: The market underestimates the base rate.`

	rec, err := parseRecommendation(content)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if rec.Action != models.ActionBuy {
		t.Errorf("action = %s, want BUY", rec.Action)
	}
	if rec.Confidence != 0.75 {
		t.Errorf("confidence = %v, want 0.75", rec.Confidence)
	}
	if rec.Reasoning != "The market underestimates the base rate." {
		t.Errorf("unexpected reasoning: %q", rec.Reasoning)
	}
}

func TestParseRecommendationHoldWithoutConfidence(t *testing.T) {
	rec, err := parseRecommendation("Recommendation: HOLD\nNot enough signal either way.")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if rec.Action != models.ActionHold || rec.Confidence != 0 {
		t.Errorf("got %s/%v, want HOLD/0", rec.Action, rec.Confidence)
	}
}

func TestParseRecommendationUnparsable(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"free text", "The market looks interesting but I cannot decide."},
		{"unknown action", `{"action": "SHORT", "confidence": 0.9}`},
		{"buy without confidence", "Recommendation: BUY\nReasoning: trust me"},
		{"confidence out of range", `{"action": "BUY", "confidence": 250}`},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseRecommendation(tt.content)
			if !errors.Is(err, ErrUnparsableOutput) {
				t.Errorf("expected ErrUnparsableOutput, got %v", err)
			}
		})
	}
}

func TestExtractJSONObject(t *testing.T) {
	obj, ok := extractJSONObject(`prefix {"a": {"b": 1}} suffix`)
	if !ok || obj != `{"a": {"b": 1}}` {
		t.Errorf("got %q ok=%v", obj, ok)
	}
	if _, ok := extractJSONObject("no object here"); ok {
		t.Error("expected no object")
	}
	if _, ok := extractJSONObject(`{"unterminated": `); ok {
		t.Error("expected unbalanced object to fail")
	}
}
