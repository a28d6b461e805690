package bootstrap

import (
	"context"
	"strings"

	"phishguard/adapter/in/http"
	"phishguard/infra/middleware"
	"phishguard/pkg/logger"
	"phishguard/pkg/metrics"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

const apiBodyLimit = 4 * 1024 * 1024

func NewAPI(deps *Dependencies) *fiber.App {
	cfg := deps.Config

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),

		ReadBufferSize:  16384,
		WriteBufferSize: 16384,

		// go-json: 표준 encoding/json 대비 빠른 직렬화
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		BodyLimit: apiBodyLimit,

		ServerHeader:       "",
		DisableDefaultDate: true,
	})

	// Global middleware stack (order matters)
	app.Use(middleware.Recover())         // 1. Panic recovery
	app.Use(middleware.RequestID())       // 2. Request ID
	app.Use(middleware.SecurityHeaders()) // 3. Security headers
	app.Use(middleware.RequestLogger())   // 4. Request logging

	// SSE 응답은 압축하면 스트리밍이 버퍼링됨
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
		Next: func(c *fiber.Ctx) bool {
			return strings.HasSuffix(c.Path(), "/events/stream")
		},
	}))

	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	allowCredentials := true
	if allowOrigins == "" || allowOrigins == "*" {
		if cfg.IsProduction() {
			allowOrigins = ""
			allowCredentials = false
		} else {
			allowOrigins = "http://localhost:3000,http://localhost:5173"
		}
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		ExposeHeaders:    "X-Request-ID,Retry-After",
		AllowCredentials: allowCredentials,
		MaxAge:           86400,
	}))

	// Health check (no auth required)
	health := http.NewHealthHandler(deps.Registry).
		WithOptionalCheck("scoring", http.CheckFunc(deps.Scoring.Health))
	if deps.DB != nil {
		health.WithCheck("postgres", http.CheckFunc(deps.DB.Ping))
	}
	if deps.SQLDB != nil {
		health.WithCheck("settings_pool", http.CheckFunc(metrics.DBPoolCheck(deps.SQLDB.DB)))
	}
	if deps.Redis != nil {
		rdb := deps.Redis
		health.WithCheck("redis", http.CheckFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}))
	}
	if deps.MongoDB != nil {
		mongoClient := deps.MongoDB
		health.WithOptionalCheck("mongodb", http.CheckFunc(func(ctx context.Context) error {
			return mongoClient.Ping(ctx, nil)
		}))
	}
	health.Register(app)

	api := app.Group("/api/v1")
	api.Use(middleware.MaxBodySize(apiBodyLimit))
	if cfg.JWTSecret != "" {
		api.Use(middleware.JWTAuth(cfg.JWTSecret))
	} else {
		logger.Warn("API_JWT_SECRET not set, API is unauthenticated")
	}

	if cfg.RateLimit > 0 {
		limiter := middleware.NewRateLimiter(cfg.RateLimit, cfg.RateLimitWindow, deps.Redis)
		api.Use("/analyze", limiter.Handler())
	}

	http.NewDetectionHandler(
		deps.Orchestrator,
		deps.Rescan,
		deps.VerdictLog,
		cfg.WaitTimeout,
		logger.Component("http"),
	).Register(api)
	http.NewSettingsHandler(deps.SettingsService).Register(api)
	http.NewEventsHandler(deps.ContentEventPublisher(), deps.Presenter, logger.Component("http")).Register(api)

	logger.Info("API server initialized")
	return app
}
