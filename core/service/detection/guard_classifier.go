// Package detection coordinates content analysis: identity dedup, scoring,
// classification and verdict aggregation.
package detection

import (
	"math"

	"phishguard/core/domain"
)

// Classify maps a risk score and an optional phishing flag to a category.
// The flag escalates any score to PHISHING. NaN counts as 0; scores are
// clamped to [0,100] first.
func Classify(score float64, phishing bool) domain.Category {
	score = ClampScore(score)
	switch {
	case phishing, score > domain.PhishingThreshold:
		return domain.CategoryPhishing
	case score > domain.SuspiciousThreshold:
		return domain.CategorySuspicious
	default:
		return domain.CategorySafe
	}
}

// ClampScore normalizes a raw service score into [0,100].
func ClampScore(score float64) float64 {
	switch {
	case math.IsNaN(score):
		return 0
	case score < 0:
		return 0
	case score > 100:
		return 100
	}
	return score
}

// ClassifySignal normalizes the verdict's score and fills its category.
func ClassifySignal(v *domain.SignalVerdict) {
	if v == nil {
		return
	}
	v.RiskScore = ClampScore(v.RiskScore)
	v.Category = Classify(v.RiskScore, v.IsPhishing)
}
