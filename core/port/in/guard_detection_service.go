package in

import (
	"context"

	"phishguard/core/domain"
)

// DetectionService is the single entry point for every analysis trigger
// (page load, manual request, stream event, periodic re-scan).
type DetectionService interface {
	// Observe analyzes the unit unless it is already completed or in flight.
	Observe(ctx context.Context, id domain.ContentIdentity, fetch domain.SignalSource) domain.ObserveResult

	// Reanalyze forces a new analysis of a completed unit.
	Reanalyze(ctx context.Context, id domain.ContentIdentity, fetch domain.SignalSource) domain.ObserveResult

	// Await blocks until the in-flight analysis of id resolves or ctx is done.
	Await(ctx context.Context, id domain.ContentIdentity) domain.ObserveResult

	// Forget evicts the unit after the host removed it.
	Forget(id domain.ContentIdentity)

	// Record returns the current analysis record, if any.
	Record(id domain.ContentIdentity) (domain.AnalysisRecord, bool)

	// Stats summarizes the cache.
	Stats() *DetectionStats
}

// DetectionStats is a point-in-time count of cache records per status.
type DetectionStats struct {
	Total    int                           `json:"total"`
	ByStatus map[domain.AnalysisStatus]int `json:"by_status"`
	Enabled  bool                          `json:"enabled"`
	Scoring  map[string]float64            `json:"scoring_latency_ms,omitempty"`
}

// SettingsService reads and changes detector settings.
type SettingsService interface {
	Current() domain.DetectionSettings
	Update(ctx context.Context, req *UpdateSettingsRequest) (domain.DetectionSettings, error)
	Reload(ctx context.Context) (domain.DetectionSettings, error)
}

// UpdateSettingsRequest carries a partial settings change.
type UpdateSettingsRequest struct {
	Enabled              *bool `json:"enabled"`
	NotificationsEnabled *bool `json:"notifications_enabled"`
}
