package http

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"phishguard/core/domain"
	"phishguard/core/port/in"
	"phishguard/core/port/out"
	"phishguard/core/service/extraction"
	"phishguard/pkg/apperr"
	"phishguard/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

const (
	defaultWaitTimeout = 15 * time.Second
	defaultHistory     = 20
	maxHistory         = 100
)

// Tracker remembers analyzed units for periodic re-scan.
type Tracker interface {
	Track(id domain.ContentIdentity, fetch domain.SignalSource)
	Untrack(id domain.ContentIdentity)
}

// DetectionHandler exposes analysis triggers and analysis state.
type DetectionHandler struct {
	detection   in.DetectionService
	tracker     Tracker
	verdictLog  out.VerdictLogRepository
	waitTimeout time.Duration
	log         zerolog.Logger
}

// NewDetectionHandler creates a handler. tracker and verdictLog may be nil.
func NewDetectionHandler(detection in.DetectionService, tracker Tracker, verdictLog out.VerdictLogRepository, waitTimeout time.Duration, log zerolog.Logger) *DetectionHandler {
	if waitTimeout <= 0 {
		waitTimeout = defaultWaitTimeout
	}
	return &DetectionHandler{
		detection:   detection,
		tracker:     tracker,
		verdictLog:  verdictLog,
		waitTimeout: waitTimeout,
		log:         log.With().Str("handler", "detection").Logger(),
	}
}

func (h *DetectionHandler) Register(router fiber.Router) {
	router.Post("/analyze/message", h.AnalyzeMessage)
	router.Post("/analyze/url", h.AnalyzeURL)

	router.Get("/content", h.GetContent)
	router.Get("/content/:id", h.GetContent)
	router.Get("/content/:id/history", h.GetHistory)
	router.Delete("/content", h.RemoveContent)
	router.Delete("/content/:id", h.RemoveContent)

	router.Get("/stats", h.Stats)
}

// AnalyzeMessageRequest is a manual or page-load request for an element-based unit.
type AnalyzeMessageRequest struct {
	MessageID string   `json:"message_id"`
	ElementID string   `json:"element_id"`
	HTML      string   `json:"html"`
	Text      string   `json:"text"`
	RawMIME   string   `json:"raw_mime"` // base64
	BaseURL   string   `json:"base_url"`
	URLs      []string `json:"urls"`
	Force     bool     `json:"force"`
}

// AnalyzeURLRequest is a request for a URL-based unit.
type AnalyzeURLRequest struct {
	URL   string `json:"url"`
	Force bool   `json:"force"`
}

// AnalyzeMessage handles POST /analyze/message.
func (h *DetectionHandler) AnalyzeMessage(c *fiber.Ctx) error {
	var req AnalyzeMessageRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	unit := &extraction.Unit{
		MessageID: req.MessageID,
		ElementID: req.ElementID,
		HTML:      req.HTML,
		Text:      req.Text,
		BaseURL:   req.BaseURL,
		URLs:      req.URLs,
	}
	if req.RawMIME != "" {
		raw, err := base64.StdEncoding.DecodeString(req.RawMIME)
		if err != nil {
			return apperr.InvalidInput("raw_mime", "not valid base64")
		}
		unit.RawMIME = raw
	}
	return h.analyze(c, unit, req.Force)
}

// AnalyzeURL handles POST /analyze/url.
func (h *DetectionHandler) AnalyzeURL(c *fiber.Ctx) error {
	var req AnalyzeURLRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if req.URL == "" {
		return apperr.MissingField("url")
	}
	return h.analyze(c, &extraction.Unit{URL: req.URL}, req.Force)
}

func (h *DetectionHandler) analyze(c *fiber.Ctx, unit *extraction.Unit, force bool) error {
	id, fetch, err := extraction.Resolve(unit)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidURL) {
			return apperr.InvalidInput("url", "must be an absolute http(s) URL")
		}
		return apperr.InvalidIdentity(err)
	}

	ctx := c.UserContext()
	var res domain.ObserveResult
	if force {
		res = h.detection.Reanalyze(ctx, id, fetch)
	} else {
		res = h.detection.Observe(ctx, id, fetch)
	}

	if res.Status == domain.ObservePending && queryBool(c, "wait") {
		waitCtx, cancel := context.WithTimeout(ctx, h.waitTimeout)
		res = h.detection.Await(waitCtx, id)
		cancel()
	}

	if h.tracker != nil && res.Status != domain.ObserveSkipped {
		h.tracker.Track(id, fetch)
	}
	return h.respond(c, res)
}

func (h *DetectionHandler) respond(c *fiber.Ctx, res domain.ObserveResult) error {
	switch res.Status {
	case domain.ObservePending:
		return response.Accepted(c, res)
	case domain.ObserveError:
		return apperr.FromFailureKind(res.Failure).WithDetail("identity", res.Identity)
	}
	return response.OK(c, res)
}

// GetContent handles GET /content/:id.
func (h *DetectionHandler) GetContent(c *fiber.Ctx) error {
	id, err := identityParam(c)
	if err != nil {
		return err
	}
	rec, ok := h.detection.Record(id)
	if !ok {
		return apperr.NotFound("content")
	}
	return response.OK(c, rec)
}

// GetHistory handles GET /content/:id/history.
func (h *DetectionHandler) GetHistory(c *fiber.Ctx) error {
	if h.verdictLog == nil {
		return apperr.ServiceUnavailable("verdict log is not configured")
	}
	id, err := identityParam(c)
	if err != nil {
		return err
	}
	limit := c.QueryInt("limit", defaultHistory)
	if limit <= 0 || limit > maxHistory {
		limit = defaultHistory
	}
	entries, err := h.verdictLog.ListByIdentity(c.UserContext(), id.String(), limit)
	if err != nil {
		return apperr.DatabaseError("list verdict log", err)
	}
	return response.OKWithMeta(c, entries, &response.Meta{Total: len(entries), Limit: limit})
}

// RemoveContent handles DELETE /content/:id, the host's removal signal.
func (h *DetectionHandler) RemoveContent(c *fiber.Ctx) error {
	id, err := identityParam(c)
	if err != nil {
		return err
	}
	h.detection.Forget(id)
	if h.tracker != nil {
		h.tracker.Untrack(id)
	}
	h.log.Debug().Str("identity", id.String()).Msg("content removed")
	return response.NoContent(c)
}

// Stats handles GET /stats.
func (h *DetectionHandler) Stats(c *fiber.Ctx) error {
	return response.OK(c, h.detection.Stats())
}
