package out

import (
	"context"

	"phishguard/core/domain"
)

// PresenterPort delivers presentation events to badge/notification renderers.
// Implementations must tolerate the same completed verdict arriving twice.
type PresenterPort interface {
	Publish(ctx context.Context, event *domain.PresentationEvent) error

	// Forget drops any memo kept for the identity.
	Forget(identity string)
}

// PresenterSubscriber is implemented by presenters that stream to connected clients.
type PresenterSubscriber interface {
	Subscribe(clientID string) <-chan *domain.PresentationEvent
	Unsubscribe(clientID string)
	ConnectedCount() int
}
