package bootstrap

import (
	"context"
	"sync"
	"time"

	"phishguard/adapter/in/worker"
	"phishguard/adapter/out/messaging"
	"phishguard/adapter/out/mongodb"
	"phishguard/adapter/out/persistence"
	"phishguard/adapter/out/realtime"
	"phishguard/adapter/out/scoring"
	"phishguard/config"
	"phishguard/core/domain"
	"phishguard/core/port/out"
	"phishguard/core/service/detection"
	"phishguard/core/service/settings"
	"phishguard/infra/database"
	"phishguard/pkg/logger"
	"phishguard/pkg/metrics"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// Dependencies is the process-wide object graph. API and worker modes share
// one instance so the analysis cache is the same for every trigger.
type Dependencies struct {
	Config  *config.Config
	DB      *pgxpool.Pool
	SQLDB   *sqlx.DB
	Redis   *redis.Client
	MongoDB *mongo.Client

	// Metrics
	Registry *prometheus.Registry
	Metrics  *metrics.DetectionMetrics

	// Repositories
	SettingsRepo out.DetectionSettingsRepository
	VerdictLog   out.VerdictLogRepository

	// Outbound
	Scoring   *scoring.Client
	Presenter *realtime.PresenterHub
	Producer  *messaging.RedisProducer

	// Services
	SettingsService *settings.Service
	Orchestrator    *detection.Orchestrator
	Rescan          *worker.RescanScheduler

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	// Metrics
	deps.Registry = prometheus.NewRegistry()
	deps.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	deps.Metrics = metrics.NewDetectionMetrics(deps.Registry)

	defaults := domain.DetectionSettings{
		Enabled:              cfg.DefaultEnabled,
		NotificationsEnabled: cfg.DefaultNotifications,
	}

	// Database (pgxpool + sqlx)
	if cfg.DatabaseURL != "" {
		db, err := database.NewPostgres(ctx, cfg.DatabaseURL, nil)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		deps.DB = db
		cleanups = append(cleanups, func() { db.Close() })

		sqlDB, err := database.NewSQLX(cfg.DatabaseURL, 10, 5)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		deps.SQLDB = sqlDB
		cleanups = append(cleanups, func() { sqlDB.Close() })
		deps.Registry.MustRegister(collectors.NewDBStatsCollector(sqlDB.DB, "settings"))

		adapter := persistence.NewSettingsAdapter(sqlDB, cfg.DatabaseURL, defaults, logger.Component("settings_repo"))
		if err := adapter.EnsureSchema(ctx); err != nil {
			cleanup()
			return nil, nil, err
		}
		deps.SettingsRepo = adapter
		logger.Info("Settings stored in PostgreSQL")
	} else {
		deps.SettingsRepo = persistence.NewMemorySettingsStore(defaults)
		logger.Warn("DATABASE_URL not set, settings are kept in memory")
	}

	// Redis
	if cfg.RedisURL != "" {
		rdb, err := database.NewRedis(ctx, cfg.RedisURL, nil)
		if err != nil {
			logger.Warn("Redis connection failed: %v", err)
		} else {
			deps.Redis = rdb
			cleanups = append(cleanups, func() { rdb.Close() })
			deps.Producer = messaging.NewRedisProducer(rdb, cfg.StreamName)
		}
	}

	// MongoDB
	if cfg.MongoDBURL != "" {
		client, err := mongodb.NewClient(ctx, cfg.MongoDBURL)
		if err != nil {
			logger.Warn("MongoDB connection failed: %v", err)
		} else {
			deps.MongoDB = client
			cleanups = append(cleanups, func() {
				disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				client.Disconnect(disconnectCtx)
			})

			verdictLog := mongodb.NewVerdictLogAdapter(client.Database(cfg.MongoDBName), cfg.VerdictLogRetention)
			if err := verdictLog.EnsureIndexes(ctx); err != nil {
				logger.Warn("Verdict log index creation failed: %v", err)
			}
			deps.VerdictLog = verdictLog
		}
	}

	// Scoring client
	deps.Scoring = scoring.NewClient(&scoring.Config{
		BaseURL: cfg.ScoringAPIURL,
		Timeout: cfg.ScoringTimeout,
	}, nil, logger.Component("scoring"))

	// Settings
	deps.SettingsService = settings.NewService(deps.SettingsRepo, defaults, logger.Component("settings"))
	if _, err := deps.SettingsService.Reload(ctx); err != nil {
		logger.Warn("Initial settings load failed, using defaults: %v", err)
	}

	// Detection
	deps.Presenter = realtime.NewPresenterHub(logger.Component("presenter"))
	deps.Orchestrator = detection.NewOrchestrator(
		detection.NewAnalysisCache(),
		deps.Scoring,
		deps.SettingsService,
		&detection.OrchestratorConfig{
			MaxTextRunes:     cfg.ScoringMaxTextRunes,
			MaxURLs:          cfg.ScoringMaxURLs,
			ExplanationLimit: cfg.ExplanationLimit,
		},
	).
		WithPresenter(deps.Presenter).
		WithMetrics(deps.Metrics).
		WithLogger(logger.Component("orchestrator"))
	if deps.VerdictLog != nil {
		deps.Orchestrator.WithVerdictLog(deps.VerdictLog)
	}
	deps.SettingsService.AddListener(deps.Orchestrator)

	deps.Rescan = worker.NewRescanScheduler(deps.Orchestrator, cfg.RescanInterval, cfg.RescanMaxTracked)

	cleanups = append(cleanups, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := deps.Orchestrator.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Verdict log flush incomplete: %v", err)
		}
	})

	return deps, cleanup, nil
}

// StartBackground runs the settings follower and the re-scan scheduler.
func (d *Dependencies) StartBackground() {
	ctx, cancel := context.WithCancel(context.Background())
	d.bgCancel = cancel

	d.bgWG.Add(1)
	go func() {
		defer d.bgWG.Done()
		if err := d.SettingsService.Run(ctx); err != nil {
			logger.Error("Settings follower stopped: %v", err)
		}
	}()

	d.Rescan.Start()
}

// StopBackground stops what StartBackground started.
func (d *Dependencies) StopBackground() {
	if d.bgCancel == nil {
		return
	}
	d.Rescan.Stop()
	d.bgCancel()
	d.bgWG.Wait()
}

// ContentEventPublisher returns the stream producer, or nil when Redis is
// not configured.
func (d *Dependencies) ContentEventPublisher() out.ContentEventPublisher {
	if d.Producer == nil {
		return nil
	}
	return d.Producer
}
