package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpapi "github.com/i474232898/solar-resource-analyzer/internal/api/http"
	"github.com/i474232898/solar-resource-analyzer/internal/config"
	"github.com/i474232898/solar-resource-analyzer/internal/geocode"
	"github.com/i474232898/solar-resource-analyzer/internal/logger"
	"github.com/i474232898/solar-resource-analyzer/internal/scheduler"
	"github.com/i474232898/solar-resource-analyzer/internal/solar"
	"github.com/i474232898/solar-resource-analyzer/internal/solar/providers"
	"github.com/i474232898/solar-resource-analyzer/internal/store"
)

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatalf("failed to load config: %v", err)
	}
	if err := logger.InitLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		logger.Log.Fatalf("failed to init logger: %v", err)
	}

	// Shared HTTP client for outbound provider calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	provs, err := buildProviders(cfg, httpClient)
	if err != nil {
		logger.Log.Fatalf("failed to build providers: %v", err)
	}

	// In-memory session store with configured retention.
	memStore := store.NewMemoryStore(cfg.SessionMaxCount, cfg.SessionMaxAge)

	// Core service orchestrating providers and sessions.
	service := solar.NewService(memStore, provs)

	// Scheduler that periodically drops expired sessions.
	sched := scheduler.New(memStore, cfg.SessionSweepInterval)
	if err := sched.Start(); err != nil {
		logger.Log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "solar-resource-analyzer",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		// Archive fetches can run for minutes.
		WriteTimeout: cfg.NSRDB.Timeout + 30*time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(fiberlogger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":    "ok",
			"service":   "solar-resource-analyzer",
			"providers": service.Sources(),
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	var geo httpapi.Geocoder
	if cfg.GeocoderAPIKey != "" {
		geo = geocode.New(cfg.GeocoderAPIKey)
	} else {
		logger.Log.Info("GEOCODER_API_KEY not set; address lookup disabled")
	}

	// API routes.
	httpapi.RegisterRoutes(app, service, httpapi.Deps{
		Geocoder:     geo,
		DefaultKeys:  cfg.DefaultKeys(),
		FetchTimeout: cfg.NSRDB.Timeout,
	})

	go func() {
		logger.Log.Infof("listening on :%s", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			logger.Log.Errorf("fiber server stopped: %v", err)
		}
	}()

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Log.Errorf("error during shutdown: %v", err)
	}
}

func httpConfig(client *http.Client, cfg *config.AppConfig, pc config.ProviderConfig) providers.HTTPClientConfig {
	return providers.HTTPClientConfig{
		Client: client,
		Backoff: providers.BackoffConfig{
			MaxRetries:      cfg.Backoff.MaxRetries,
			InitialInterval: cfg.Backoff.InitialInterval,
			MaxInterval:     cfg.Backoff.MaxInterval,
		},
		Timeout:           pc.Timeout,
		RequestsPerSecond: pc.RequestsPerSecond,
		Burst:             pc.Burst,
	}
}

// buildProviders creates the enabled providers with resilience (backoff,
// circuit breaker, pacing).
func buildProviders(cfg *config.AppConfig, client *http.Client) ([]solar.Provider, error) {
	gapPolicy, err := solar.ParseGapPolicy(cfg.NRELGapPolicy)
	if err != nil {
		return nil, err
	}

	var provs []solar.Provider
	for _, name := range cfg.EnabledProviders {
		src, err := solar.ParseSource(name)
		if err != nil {
			return nil, err
		}
		switch src {
		case solar.SourceNREL:
			provs = append(provs, providers.NewNRELProvider(providers.NRELConfig{
				BaseURL:   cfg.NREL.BaseURL,
				GapPolicy: gapPolicy,
				HTTP:      httpConfig(client, cfg, cfg.NREL),
			}))
		case solar.SourceGoogleSolar:
			provs = append(provs, providers.NewGoogleSolarProvider(providers.GoogleSolarConfig{
				BaseURL: cfg.GoogleSolar.BaseURL,
				HTTP:    httpConfig(client, cfg, cfg.GoogleSolar),
			}))
		case solar.SourceNSRDB:
			p, err := providers.NewNSRDBProvider(providers.NSRDBConfig{
				BaseURL: cfg.NSRDB.BaseURL,
				Contact: providers.Contact(cfg.NSRDB.Contact),
				LeapDay: cfg.NSRDB.LeapDay,
				UTC:     cfg.NSRDB.UTC,
				Format:  cfg.NSRDB.CSVFormat,
				HTTP:    httpConfig(client, cfg, cfg.NSRDB.ProviderConfig),
			})
			if err != nil {
				return nil, err
			}
			provs = append(provs, p)
		}
	}
	return provs, nil
}
