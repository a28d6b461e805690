package domain

import "time"

// Category is the three-level risk classification.
type Category string

const (
	CategorySafe       Category = "SAFE"
	CategorySuspicious Category = "SUSPICIOUS"
	CategoryPhishing   Category = "PHISHING"
)

// Classification thresholds (exclusive lower bounds).
const (
	SuspiciousThreshold = 30.0
	PhishingThreshold   = 70.0

	// HighRiskURLThreshold is the per-URL score above which a URL is shown individually.
	HighRiskURLThreshold = 50.0
)

// SignalVerdict is the outcome of a single risk signal (email text or one URL).
type SignalVerdict struct {
	RiskScore    float64  `json:"risk_score"`
	IsPhishing   bool     `json:"is_phishing"`
	Explanations []string `json:"explanations,omitempty"`
	Category     Category `json:"category,omitempty"`
}

// URLVerdict is the verdict of one URL contributing to a combined analysis.
type URLVerdict struct {
	URL     string        `json:"url"`
	Verdict SignalVerdict `json:"verdict"`
}

// ScoreResult is the raw outcome of a combined text+URL scoring call.
type ScoreResult struct {
	Text *SignalVerdict `json:"text,omitempty"`
	URLs []URLVerdict   `json:"urls,omitempty"`
}

// CombinedVerdict aggregates the text signal and the URL signals of one unit.
type CombinedVerdict struct {
	RiskScore    float64        `json:"risk_score"`
	Category     Category       `json:"category"`
	IsPhishing   bool           `json:"is_phishing"`
	Explanations []string       `json:"explanations"`
	Text         *SignalVerdict `json:"text,omitempty"`
	URLs         []URLVerdict   `json:"urls,omitempty"`
	GeneratedAt  time.Time      `json:"generated_at"`
}

// HighRiskURLs returns the URL verdicts presentation should flag individually.
func (v *CombinedVerdict) HighRiskURLs() []URLVerdict {
	if v == nil {
		return nil
	}
	var out []URLVerdict
	for _, u := range v.URLs {
		if u.Verdict.RiskScore > HighRiskURLThreshold {
			out = append(out, u)
		}
	}
	return out
}

// DisplayDuration is how long a transient badge for this verdict stays visible.
func (v *CombinedVerdict) DisplayDuration() time.Duration {
	if v == nil {
		return 0
	}
	switch v.Category {
	case CategoryPhishing:
		return 30 * time.Second
	case CategorySuspicious:
		return 20 * time.Second
	default:
		return 10 * time.Second
	}
}
