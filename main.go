package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"phishguard/config"
	"phishguard/internal/bootstrap"
	"phishguard/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
)

const (
	shutdownTimeout = 30 * time.Second // Maximum time to wait for graceful shutdown
	startupTimeout  = 30 * time.Second
)

func main() {
	// Load .env file if exists (for local development)
	envErr := godotenv.Load()

	mode := flag.String("mode", "all", "Run mode: api, worker, all")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}

	logger.Init(logger.Config{
		Level:   logger.ParseLevel(cfg.LogLevel),
		Service: "phishguard",
		Pretty:  cfg.IsDevelopment(),
	})
	if envErr != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	runAPI, runWorker := false, false
	switch *mode {
	case "api":
		runAPI = true
	case "worker":
		runWorker = true
	case "all":
		runAPI, runWorker = true, true
	default:
		logger.Fatal("Unknown mode: %s", *mode)
	}

	startCtx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	deps, cleanup, err := bootstrap.NewDependencies(startCtx, cfg)
	cancel()
	if err != nil {
		logger.Fatal("Failed to initialize dependencies: %v", err)
	}
	defer cleanup()

	deps.StartBackground()

	var (
		app    *fiber.App
		worker *bootstrap.Worker
		wg     sync.WaitGroup
	)

	if runWorker {
		worker = bootstrap.NewWorker(deps)
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("Starting worker...")
			if err := worker.Start(); err != nil {
				logger.Error("Worker failed: %v", err)
			}
		}()
	}

	if runAPI {
		app = bootstrap.NewAPI(deps)
		wg.Add(1)
		go func() {
			defer wg.Done()
			addr := ":" + cfg.Port
			logger.Info("Starting API server on %s", addr)
			if err := app.Listen(addr); err != nil {
				logger.Error("API server stopped: %v", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down (timeout: %v)...", shutdownTimeout)
	ctx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	done := make(chan struct{})
	go func() {
		if app != nil {
			if err := app.ShutdownWithContext(ctx); err != nil {
				logger.Error("Error shutting down API: %v", err)
			}
		}
		if worker != nil {
			worker.Stop()
		}
		deps.StopBackground()
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Shut down gracefully")
	case <-ctx.Done():
		logger.Warn("Shutdown timed out, forcing exit")
		os.Exit(1)
	}
}
