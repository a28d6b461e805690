// Package realtime fans presentation events out to connected renderers.
package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"phishguard/core/domain"
	"phishguard/core/port/out"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

const clientBuffer = 256

// PresenterHub implements out.PresenterPort over per-client channels.
//
// Verdict and notification events are idempotent per identity: an event
// whose verdict carries the generation time already delivered is dropped.
type PresenterHub struct {
	mu      sync.RWMutex
	clients map[string]chan *domain.PresentationEvent
	// identity -> last delivered verdict event, replayed to new clients
	latest map[string]*domain.PresentationEvent
	// identity|type -> generated-at of the last delivered verdict
	delivered map[string]int64

	log zerolog.Logger

	seq     atomic.Int64 // 전역 시퀀스
	sent    atomic.Int64
	dropped atomic.Int64
	deduped atomic.Int64
}

var (
	_ out.PresenterPort       = (*PresenterHub)(nil)
	_ out.PresenterSubscriber = (*PresenterHub)(nil)
)

// NewPresenterHub creates an empty hub.
func NewPresenterHub(log zerolog.Logger) *PresenterHub {
	return &PresenterHub{
		clients:   make(map[string]chan *domain.PresentationEvent),
		latest:    make(map[string]*domain.PresentationEvent),
		delivered: make(map[string]int64),
		log:       log.With().Str("component", "presenter_hub").Logger(),
	}
}

// Subscribe registers a client and replays the latest verdict of every identity.
// Subscribing twice with the same id replaces the earlier channel.
func (h *PresenterHub) Subscribe(clientID string) <-chan *domain.PresentationEvent {
	ch := make(chan *domain.PresentationEvent, clientBuffer)

	h.mu.Lock()
	if old, ok := h.clients[clientID]; ok {
		close(old)
	}
	h.clients[clientID] = ch
	for _, ev := range h.latest {
		select {
		case ch <- ev:
		default:
		}
	}
	total := len(h.clients)
	h.mu.Unlock()

	h.log.Debug().Str("client_id", clientID).Int("total_connections", total).Msg("client subscribed")
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (h *PresenterHub) Unsubscribe(clientID string) {
	h.mu.Lock()
	if ch, ok := h.clients[clientID]; ok {
		delete(h.clients, clientID)
		close(ch)
	}
	h.mu.Unlock()

	h.log.Debug().Str("client_id", clientID).Msg("client unsubscribed")
}

// Publish delivers ev to every client unless it repeats a delivered verdict.
func (h *PresenterHub) Publish(ctx context.Context, ev *domain.PresentationEvent) error {
	if ev == nil {
		return nil
	}

	h.mu.Lock()
	if !h.admit(ev) {
		h.mu.Unlock()
		h.deduped.Add(1)
		return nil
	}
	ev.Seq = h.seq.Add(1)
	chList := make([]chan *domain.PresentationEvent, 0, len(h.clients))
	for _, ch := range h.clients {
		chList = append(chList, ch)
	}
	// send under the lock so Unsubscribe cannot close a channel mid-send
	for _, ch := range chList {
		select {
		case ch <- ev:
			h.sent.Add(1)
		default:
			h.dropped.Add(1)
			h.log.Warn().Str("identity", ev.Identity).Str("event_type", string(ev.Type)).
				Int64("seq", ev.Seq).Msg("dropped event due to full buffer")
		}
	}
	h.mu.Unlock()
	return nil
}

// Forget clears the memo of identity so a new verdict is delivered again.
func (h *PresenterHub) Forget(identity string) {
	h.mu.Lock()
	h.forget(identity)
	h.mu.Unlock()
}

// admit updates the memo and reports whether ev should be sent. Caller holds mu.
func (h *PresenterHub) admit(ev *domain.PresentationEvent) bool {
	switch ev.Type {
	case domain.EventVerdictCompleted, domain.EventNotification:
		if ev.Verdict == nil {
			return true
		}
		key := ev.Identity + "|" + string(ev.Type)
		gen := ev.Verdict.GeneratedAt.UnixNano()
		if last, ok := h.delivered[key]; ok && last == gen {
			return false
		}
		h.delivered[key] = gen
		if ev.Type == domain.EventVerdictCompleted {
			h.latest[ev.Identity] = ev
		}
	case domain.EventVerdictFailed:
		delete(h.latest, ev.Identity)
	case domain.EventContentRemoved:
		h.forget(ev.Identity)
	}
	return true
}

func (h *PresenterHub) forget(identity string) {
	delete(h.latest, identity)
	delete(h.delivered, identity+"|"+string(domain.EventVerdictCompleted))
	delete(h.delivered, identity+"|"+string(domain.EventNotification))
}

// ConnectedCount returns the number of connected clients.
func (h *PresenterHub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetMetrics returns hub counters.
func (h *PresenterHub) GetMetrics() HubMetrics {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HubMetrics{
		Connections:     len(h.clients),
		TrackedVerdicts: len(h.latest),
		MessagesSent:    h.sent.Load(),
		MessagesDropped: h.dropped.Load(),
		Deduplicated:    h.deduped.Load(),
	}
}

// HubMetrics holds presenter hub counters.
type HubMetrics struct {
	Connections     int   `json:"connections"`
	TrackedVerdicts int   `json:"tracked_verdicts"`
	MessagesSent    int64 `json:"messages_sent"`
	MessagesDropped int64 `json:"messages_dropped"`
	Deduplicated    int64 `json:"deduplicated"`
}

// HeartbeatInterval is how often SSE streams send a keep-alive comment.
const HeartbeatInterval = 30 * time.Second

// SerializeEvent renders one event as an SSE frame.
func SerializeEvent(ev *domain.PresentationEvent) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, len(payload)+64)
	frame = append(frame, "event: "...)
	frame = append(frame, string(ev.Type)...)
	frame = append(frame, "\ndata: "...)
	frame = append(frame, payload...)
	frame = append(frame, "\n\n"...)
	return frame, nil
}
