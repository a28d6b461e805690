package out

import (
	"context"

	"phishguard/core/domain"
)

// ScoringPort is the outbound port to the remote risk scoring service.
// Implementations never retry; every failure is a *domain.ScoringError.
type ScoringPort interface {
	// ScoreText scores message text together with the URLs found in it.
	ScoreText(ctx context.Context, text string, urls []string) (*domain.ScoreResult, error)

	// ScoreURL scores a single navigated URL.
	ScoreURL(ctx context.Context, url string) (*domain.SignalVerdict, error)

	// Health checks that the service answers.
	Health(ctx context.Context) error
}
