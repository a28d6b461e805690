package out

import (
	"context"
	"time"
)

// ContentEventPublisher enqueues host content events for the worker.
type ContentEventPublisher interface {
	PublishContentEvents(ctx context.Context, events []*ContentEvent) error
}

// ContentEventType names a host content event.
type ContentEventType string

const (
	ContentObserved ContentEventType = "content.observed"
	ContentRemoved  ContentEventType = "content.removed"
	SettingsChanged ContentEventType = "settings.changed"
)

// ContentEvent is one host notification carried over the stream.
type ContentEvent struct {
	ID        string           `json:"id"`
	Type      ContentEventType `json:"type"`
	Identity  string           `json:"identity,omitempty"`
	URL       string           `json:"url,omitempty"`
	MessageID string           `json:"message_id,omitempty"`
	ElementID string           `json:"element_id,omitempty"`
	Text      string           `json:"text,omitempty"`
	HTML      string           `json:"html,omitempty"`
	BaseURL   string           `json:"base_url,omitempty"`
	URLs      []string         `json:"urls,omitempty"`
	Force     bool             `json:"force,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}
