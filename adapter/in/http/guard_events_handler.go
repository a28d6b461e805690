package http

import (
	"bufio"
	"fmt"
	"time"

	"phishguard/adapter/out/realtime"
	"phishguard/core/port/out"
	"phishguard/pkg/apperr"
	"phishguard/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const maxEventBatch = 100

// =============================================================================
// Events Handler - 호스트 이벤트 수신 + 프레젠테이션 SSE 스트림
// =============================================================================

// EventsHandler accepts host content events and streams presentation events.
type EventsHandler struct {
	publisher  out.ContentEventPublisher
	subscriber out.PresenterSubscriber
	heartbeat  time.Duration
	log        zerolog.Logger
}

// NewEventsHandler creates a handler. publisher may be nil when no stream is configured.
func NewEventsHandler(publisher out.ContentEventPublisher, subscriber out.PresenterSubscriber, log zerolog.Logger) *EventsHandler {
	return &EventsHandler{
		publisher:  publisher,
		subscriber: subscriber,
		heartbeat:  realtime.HeartbeatInterval,
		log:        log.With().Str("handler", "events").Logger(),
	}
}

func (h *EventsHandler) Register(router fiber.Router) {
	router.Post("/events", h.Publish)
	router.Get("/events/stream", h.Stream)
	router.Get("/events/status", h.Status)
}

// PublishEventsRequest is a batch of host content events.
type PublishEventsRequest struct {
	Events []*out.ContentEvent `json:"events"`
}

// Publish handles POST /events: the batch is queued on the stream for the worker.
func (h *EventsHandler) Publish(c *fiber.Ctx) error {
	if h.publisher == nil {
		return apperr.ServiceUnavailable("event stream is not configured")
	}

	var req PublishEventsRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if len(req.Events) == 0 {
		return apperr.MissingField("events")
	}
	if len(req.Events) > maxEventBatch {
		return apperr.InvalidInput("events", fmt.Sprintf("at most %d events per batch", maxEventBatch))
	}
	for i, ev := range req.Events {
		if ev == nil {
			return apperr.InvalidInput(fmt.Sprintf("events[%d]", i), "null event")
		}
		switch ev.Type {
		case out.ContentObserved, out.ContentRemoved, out.SettingsChanged:
		default:
			return apperr.InvalidInput(fmt.Sprintf("events[%d].type", i), "unknown event type")
		}
	}

	if err := h.publisher.PublishContentEvents(c.UserContext(), req.Events); err != nil {
		h.log.Error().Err(err).Int("events", len(req.Events)).Msg("failed to publish events")
		return apperr.ServiceUnavailable("event stream unavailable").WithError(err)
	}

	ids := make([]string, len(req.Events))
	for i, ev := range req.Events {
		ids[i] = ev.ID
	}
	return response.Accepted(c, fiber.Map{"queued": len(ids), "ids": ids})
}

// Stream handles GET /events/stream (Server-Sent Events).
func (h *EventsHandler) Stream(c *fiber.Ctx) error {
	clientID := uuid.New().String()
	events := h.subscriber.Subscribe(clientID)

	h.log.Info().Str("client_id", clientID).Msg("SSE client connected")

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("Transfer-Encoding", "chunked")
	c.Set("X-Accel-Buffering", "no") // Nginx buffering 비활성화

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()
		defer func() {
			h.subscriber.Unsubscribe(clientID)
			h.log.Info().Str("client_id", clientID).Msg("SSE client disconnected")
		}()

		w.WriteString("event: connected\n")
		fmt.Fprintf(w, "data: {\"client_id\":%q}\n\n", clientID)
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				frame, err := realtime.SerializeEvent(ev)
				if err != nil {
					h.log.Error().Err(err).Msg("failed to serialize event")
					continue
				}
				w.Write(frame)
				if err := w.Flush(); err != nil {
					h.log.Debug().Err(err).Msg("client disconnected during write")
					return
				}

			case <-ticker.C:
				w.WriteString(": heartbeat\n\n")
				if err := w.Flush(); err != nil {
					h.log.Debug().Err(err).Msg("client disconnected during heartbeat")
					return
				}
			}
		}
	})
	return nil
}

// Status handles GET /events/status.
func (h *EventsHandler) Status(c *fiber.Ctx) error {
	return response.OK(c, fiber.Map{
		"connected_clients": h.subscriber.ConnectedCount(),
		"stream_enabled":    h.publisher != nil,
	})
}
