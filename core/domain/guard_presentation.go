package domain

import (
	"fmt"
	"time"
)

// PresentationEventType names what a presentation subscriber receives.
type PresentationEventType string

const (
	EventVerdictCompleted PresentationEventType = "verdict.completed"
	EventVerdictFailed    PresentationEventType = "verdict.failed"
	EventNotification     PresentationEventType = "notification"
	EventContentRemoved   PresentationEventType = "content.removed"
)

// PresentationEvent is pushed to badge/notification renderers, keyed by identity.
type PresentationEvent struct {
	Type      PresentationEventType `json:"type"`
	Seq       int64                 `json:"seq"`
	Identity  string                `json:"identity"`
	Status    AnalysisStatus        `json:"status,omitempty"`
	Verdict   *CombinedVerdict      `json:"verdict,omitempty"`
	Failure   FailureKind           `json:"failure,omitempty"`
	Title     string                `json:"title,omitempty"`
	Message   string                `json:"message,omitempty"`
	DisplayMS int64                 `json:"display_ms,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
}

// NewVerdictEvent builds the badge event for a completed analysis.
func NewVerdictEvent(id ContentIdentity, v *CombinedVerdict) *PresentationEvent {
	return &PresentationEvent{
		Type:      EventVerdictCompleted,
		Identity:  id.String(),
		Status:    StatusCompleted,
		Verdict:   v,
		DisplayMS: v.DisplayDuration().Milliseconds(),
		Timestamp: time.Now(),
	}
}

// NewFailureEvent builds the event for a failed analysis.
func NewFailureEvent(id ContentIdentity, kind FailureKind) *PresentationEvent {
	return &PresentationEvent{
		Type:      EventVerdictFailed,
		Identity:  id.String(),
		Status:    StatusFailed,
		Failure:   kind,
		Timestamp: time.Now(),
	}
}

// NewNotificationEvent builds the desktop notification for a verdict.
func NewNotificationEvent(id ContentIdentity, v *CombinedVerdict) *PresentationEvent {
	subject := "Email"
	if id.Kind == IdentityURL {
		subject = "Current page"
	}
	return &PresentationEvent{
		Type:      EventNotification,
		Identity:  id.String(),
		Status:    StatusCompleted,
		Verdict:   v,
		Title:     "PhishGuard",
		Message:   fmt.Sprintf("%s: %s (Risk %.1f%%)", subject, v.Category, v.RiskScore),
		Timestamp: time.Now(),
	}
}

// NewRemovedEvent tells renderers to drop any artifact for the identity.
func NewRemovedEvent(id ContentIdentity) *PresentationEvent {
	return &PresentationEvent{
		Type:      EventContentRemoved,
		Identity:  id.String(),
		Timestamp: time.Now(),
	}
}
