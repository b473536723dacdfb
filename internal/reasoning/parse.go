package reasoning

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/rewired-gh/polyagent/internal/models"
)

// ErrUnparsableOutput indicates the reasoning output could not be parsed into a valid
// action/confidence pair. It is structural, never retried: the engine converts it into
// a conservative HOLD recommendation instead of surfacing it to the caller.
var ErrUnparsableOutput = errors.New("unparsable reasoning output")

var (
	actionRe     = regexp.MustCompile(`(?i)recommendation:\s*\**\s*(buy|sell|hold)`)
	confidenceRe = regexp.MustCompile(`(?i)confidence[:\s]+\**\s*(\d+(?:\.\d+)?)\s*%?`)
	reasoningRe  = regexp.MustCompile(`(?is)reasoning:\s*(.+)$`)
)

// parseRecommendation extracts action, confidence, and reasoning from the model's final
// output. A JSON object is preferred; labeled text ("Recommendation: BUY",
// "Confidence: 80%") is the fallback, matching the formats the prompt asks for.
func parseRecommendation(content string) (models.Recommendation, error) {
	if rec, ok := parseJSONRecommendation(content); ok {
		return rec, nil
	}
	if rec, ok := parseLabeledRecommendation(content); ok {
		return rec, nil
	}
	return models.Recommendation{}, fmt.Errorf("%w: no action/confidence pair found", ErrUnparsableOutput)
}

func parseJSONRecommendation(content string) (models.Recommendation, bool) {
	obj, ok := extractJSONObject(content)
	if !ok || !gjson.Valid(obj) {
		return models.Recommendation{}, false
	}

	actionField := gjson.Get(obj, "action")
	if !actionField.Exists() {
		actionField = gjson.Get(obj, "recommendation")
	}
	action, ok := normalizeAction(actionField.String())
	if !ok {
		return models.Recommendation{}, false
	}

	confidenceField := gjson.Get(obj, "confidence")
	confidence, ok := normalizeConfidence(confidenceField.Float(), confidenceField.Exists())
	if !ok || (action != models.ActionHold && !confidenceField.Exists()) {
		return models.Recommendation{}, false
	}

	reasoning := gjson.Get(obj, "reasoning").String()
	if reasoning == "" {
		reasoning = content
	}
	return models.Recommendation{Action: action, Confidence: confidence, Reasoning: reasoning}, true
}

func parseLabeledRecommendation(content string) (models.Recommendation, bool) {
	m := actionRe.FindStringSubmatch(content)
	if m == nil {
		return models.Recommendation{}, false
	}
	action, _ := normalizeAction(m[1])

	var confidence float64
	if cm := confidenceRe.FindStringSubmatch(content); cm != nil {
		var v float64
		fmt.Sscanf(cm[1], "%f", &v)
		var ok bool
		confidence, ok = normalizeConfidence(v, true)
		if !ok {
			return models.Recommendation{}, false
		}
	} else if action != models.ActionHold {
		// BUY/SELL without a stated confidence cannot be gated; refuse to guess.
		return models.Recommendation{}, false
	}

	reasoning := content
	if rm := reasoningRe.FindStringSubmatch(content); rm != nil {
		reasoning = strings.TrimSpace(rm[1])
	}
	return models.Recommendation{Action: action, Confidence: confidence, Reasoning: reasoning}, true
}

func normalizeAction(s string) (models.Action, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return models.ActionBuy, true
	case "SELL":
		return models.ActionSell, true
	case "HOLD", "WAIT":
		return models.ActionHold, true
	default:
		return "", false
	}
}

// normalizeConfidence maps either a 0..1 fraction or a 0..100 percentage into [0, 1].
func normalizeConfidence(v float64, present bool) (float64, bool) {
	if !present {
		return 0, true
	}
	if v < 0 {
		return 0, false
	}
	if v > 1 {
		v = v / 100
	}
	if v > 1 {
		return 0, false
	}
	return v, true
}

// extractJSONObject returns the first balanced JSON object in s, skipping string
// literals so braces inside reasoning text do not break the scan.
func extractJSONObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	if start == -1 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(s[start : i+1]), true
			}
		}
	}
	return "", false
}
