package detection

import (
	"reflect"
	"testing"

	"phishguard/core/domain"
)

func signal(score float64, phishing bool, explanations ...string) *domain.SignalVerdict {
	v := &domain.SignalVerdict{RiskScore: score, IsPhishing: phishing, Explanations: explanations}
	ClassifySignal(v)
	return v
}

func urlSignal(url string, score float64, explanations ...string) domain.URLVerdict {
	return domain.URLVerdict{URL: url, Verdict: *signal(score, false, explanations...)}
}

func TestAggregateScore(t *testing.T) {
	tests := []struct {
		name         string
		text         *domain.SignalVerdict
		urls         []domain.URLVerdict
		wantScore    float64
		wantCategory domain.Category
		wantPhishing bool
	}{
		{
			name: "url only worst case wins",
			urls: []domain.URLVerdict{
				urlSignal("https://a.example/", 20),
				urlSignal("https://b.example/", 85),
				urlSignal("https://c.example/", 40),
			},
			wantScore:    85,
			wantCategory: domain.CategoryPhishing,
			wantPhishing: true,
		},
		{
			name:         "single url",
			urls:         []domain.URLVerdict{urlSignal("https://a.example/", 45)},
			wantScore:    45,
			wantCategory: domain.CategorySuspicious,
		},
		{
			name:         "text score is authoritative",
			text:         signal(25, false),
			urls:         []domain.URLVerdict{urlSignal("https://a.example/", 60)},
			wantScore:    25,
			wantCategory: domain.CategorySafe,
		},
		{
			name:         "phishing url escalates safe text",
			text:         signal(10, false),
			urls:         []domain.URLVerdict{urlSignal("https://evil.example/", 95)},
			wantScore:    10,
			wantCategory: domain.CategoryPhishing,
			wantPhishing: true,
		},
		{
			name:         "text phishing flag",
			text:         signal(40, true),
			wantScore:    40,
			wantCategory: domain.CategoryPhishing,
			wantPhishing: true,
		},
		{
			name:         "nothing",
			wantScore:    0,
			wantCategory: domain.CategorySafe,
		},
	}

	agg := NewAggregator(0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := agg.Aggregate(tt.text, tt.urls)
			if v.RiskScore != tt.wantScore {
				t.Errorf("RiskScore = %v, want %v", v.RiskScore, tt.wantScore)
			}
			if v.Category != tt.wantCategory {
				t.Errorf("Category = %s, want %s", v.Category, tt.wantCategory)
			}
			if v.IsPhishing != tt.wantPhishing {
				t.Errorf("IsPhishing = %v, want %v", v.IsPhishing, tt.wantPhishing)
			}
			if len(v.URLs) != len(tt.urls) {
				t.Errorf("URLs = %d, want per-url detail preserved (%d)", len(v.URLs), len(tt.urls))
			}
			if v.GeneratedAt.IsZero() {
				t.Error("GeneratedAt not set")
			}
		})
	}
}

func TestAggregateExplanations(t *testing.T) {
	agg := NewAggregator(5)

	text := signal(80, false, "urgent language", "credential request", "urgent language")
	urls := []domain.URLVerdict{
		urlSignal("https://a.example/", 90, "lookalike domain", "credential request"),
		urlSignal("https://b.example/", 10, "new domain", "ip address host"),
	}

	v := agg.Aggregate(text, urls)
	want := []string{"urgent language", "credential request", "lookalike domain", "new domain", "ip address host"}
	if !reflect.DeepEqual(v.Explanations, want) {
		t.Errorf("Explanations = %v, want %v", v.Explanations, want)
	}
	if v.RiskScore != 80 || v.Category != domain.CategoryPhishing {
		t.Errorf("explanation cap changed score/category: %v %s", v.RiskScore, v.Category)
	}
}

func TestCombinedVerdictPresentationHints(t *testing.T) {
	agg := NewAggregator(0)
	v := agg.Aggregate(nil, []domain.URLVerdict{
		urlSignal("https://a.example/", 50),
		urlSignal("https://b.example/", 51),
	})

	high := v.HighRiskURLs()
	if len(high) != 1 || high[0].URL != "https://b.example/" {
		t.Errorf("HighRiskURLs = %+v, want only b.example", high)
	}
	if d := v.DisplayDuration(); d.Seconds() != 20 {
		t.Errorf("DisplayDuration = %v, want 20s for SUSPICIOUS", d)
	}
}
