package out

import (
	"context"
	"time"

	"phishguard/core/domain"
)

// VerdictLogEntry is one resolved analysis, kept for audit.
type VerdictLogEntry struct {
	Identity   string                  `json:"identity" bson:"identity"`
	Kind       domain.IdentityKind     `json:"kind" bson:"kind"`
	Status     domain.AnalysisStatus   `json:"status" bson:"status"`
	RiskScore  float64                 `json:"risk_score" bson:"risk_score"`
	Category   domain.Category         `json:"category,omitempty" bson:"category,omitempty"`
	Failure    domain.FailureKind      `json:"failure,omitempty" bson:"failure,omitempty"`
	Verdict    *domain.CombinedVerdict `json:"verdict,omitempty" bson:"verdict,omitempty"`
	Attempts   int                     `json:"attempts" bson:"attempts"`
	DurationMS int64                   `json:"duration_ms" bson:"duration_ms"`
	CreatedAt  time.Time               `json:"created_at" bson:"created_at"`
}

// VerdictLogRepository defines the outbound port for the verdict audit log.
type VerdictLogRepository interface {
	Append(ctx context.Context, entry *VerdictLogEntry) error
	ListByIdentity(ctx context.Context, identity string, limit int) ([]*VerdictLogEntry, error)
}
