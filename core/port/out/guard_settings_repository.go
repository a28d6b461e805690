package out

import (
	"context"

	"phishguard/core/domain"
)

// DetectionSettingsRepository defines the outbound port for detector settings persistence.
type DetectionSettingsRepository interface {
	// Get returns the stored settings, or the defaults when nothing is stored.
	Get(ctx context.Context) (domain.DetectionSettings, error)

	// Save stores settings and notifies subscribers.
	Save(ctx context.Context, settings domain.DetectionSettings) error

	// Subscribe delivers settings on every change until ctx is done.
	Subscribe(ctx context.Context) (<-chan domain.DetectionSettings, error)
}
