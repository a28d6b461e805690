package domain

import "time"

// DetectionSettings are the user-facing switches of the detector.
type DetectionSettings struct {
	Enabled              bool      `json:"enabled"`
	NotificationsEnabled bool      `json:"notifications_enabled"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// DefaultDetectionSettings mirrors the install-time defaults: everything on.
func DefaultDetectionSettings() DetectionSettings {
	return DetectionSettings{
		Enabled:              true,
		NotificationsEnabled: true,
	}
}
