package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthChecker is one readiness dependency.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// CheckFunc adapts a function to HealthChecker.
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) Ping(ctx context.Context) error { return f(ctx) }

type namedCheck struct {
	name     string
	checker  HealthChecker
	optional bool
}

// HealthHandler serves liveness, readiness and Prometheus metrics.
type HealthHandler struct {
	checks   []namedCheck
	gatherer prometheus.Gatherer
	timeout  time.Duration
}

func NewHealthHandler(gatherer prometheus.Gatherer) *HealthHandler {
	return &HealthHandler{gatherer: gatherer, timeout: 5 * time.Second}
}

// WithCheck adds a dependency that must be healthy for readiness.
func (h *HealthHandler) WithCheck(name string, c HealthChecker) *HealthHandler {
	h.checks = append(h.checks, namedCheck{name: name, checker: c})
	return h
}

// WithOptionalCheck adds a dependency that is reported but never fails readiness.
// The scoring service is one: analyses degrade to Failed records without it.
func (h *HealthHandler) WithOptionalCheck(name string, c HealthChecker) *HealthHandler {
	h.checks = append(h.checks, namedCheck{name: name, checker: c, optional: true})
	return h
}

func (h *HealthHandler) Register(app *fiber.App) {
	app.Get("/health", h.Health)
	app.Get("/ready", h.Ready)
	if h.gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	checks := make(map[string]string, len(h.checks))
	allHealthy := true
	for _, nc := range h.checks {
		if err := nc.checker.Ping(ctx); err != nil {
			checks[nc.name] = "unhealthy: " + err.Error()
			if !nc.optional {
				allHealthy = false
			}
			continue
		}
		checks[nc.name] = "healthy"
	}

	status := "ready"
	statusCode := fiber.StatusOK
	if !allHealthy {
		status = "not ready"
		statusCode = fiber.StatusServiceUnavailable
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
