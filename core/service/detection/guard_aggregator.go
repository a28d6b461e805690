package detection

import (
	"time"

	"phishguard/core/domain"
)

// DefaultExplanationLimit caps the explanations carried by a combined verdict.
const DefaultExplanationLimit = 5

// Aggregator combines classified signals into one verdict.
type Aggregator struct {
	explanationLimit int
	now              func() time.Time
}

// NewAggregator creates an aggregator; limit <= 0 means DefaultExplanationLimit.
func NewAggregator(limit int) *Aggregator {
	if limit <= 0 {
		limit = DefaultExplanationLimit
	}
	return &Aggregator{explanationLimit: limit, now: time.Now}
}

// Aggregate builds the combined verdict. Signals must already be classified.
//
// The text score is the headline score when present; otherwise the worst URL
// score wins. Any PHISHING signal makes the combined verdict PHISHING.
func (a *Aggregator) Aggregate(text *domain.SignalVerdict, urls []domain.URLVerdict) *domain.CombinedVerdict {
	v := &domain.CombinedVerdict{
		Text:        text,
		URLs:        urls,
		GeneratedAt: a.now(),
	}

	phishing := false
	if text != nil {
		v.RiskScore = text.RiskScore
		phishing = text.Category == domain.CategoryPhishing
	}
	for i, u := range urls {
		if text == nil && (i == 0 || u.Verdict.RiskScore > v.RiskScore) {
			v.RiskScore = u.Verdict.RiskScore
		}
		if u.Verdict.Category == domain.CategoryPhishing {
			phishing = true
		}
	}

	v.IsPhishing = phishing
	v.Category = Classify(v.RiskScore, phishing)
	v.Explanations = a.explanations(text, urls)
	return v
}

func (a *Aggregator) explanations(text *domain.SignalVerdict, urls []domain.URLVerdict) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, a.explanationLimit)

	add := func(list []string) bool {
		for _, e := range list {
			if _, ok := seen[e]; ok {
				continue
			}
			seen[e] = struct{}{}
			out = append(out, e)
			if len(out) == a.explanationLimit {
				return false
			}
		}
		return true
	}

	if text != nil && !add(text.Explanations) {
		return out
	}
	for _, u := range urls {
		if !add(u.Verdict.Explanations) {
			break
		}
	}
	return out
}
