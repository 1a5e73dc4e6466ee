package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	httpapi "github.com/i474232898/weather-etl/internal/api/http"
	"github.com/i474232898/weather-etl/internal/artifact"
	"github.com/i474232898/weather-etl/internal/config"
	"github.com/i474232898/weather-etl/internal/scheduler"
	"github.com/i474232898/weather-etl/internal/store"
	"github.com/i474232898/weather-etl/internal/telemetry"
	"github.com/i474232898/weather-etl/internal/weather"
	"github.com/i474232898/weather-etl/internal/weather/providers"
)

const (
	serviceName = "weather-etl"
	version     = "0.1.0"
)

func main() {
	os.Exit(run())
}

func run() int {
	once := flag.Bool("once", false, "run the pipeline once for -ds and exit")
	dsFlag := flag.String("ds", "", "scheduled date YYYY-MM-DD for -once (default: today)")
	stage := flag.String("stage", "all", "with -once: all, fetch or transform")
	flag.Parse()

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Printf("failed to load config: %v", err)
		return 1
	}

	lg, err := telemetry.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Printf("failed to build logger: %v", err)
		return 1
	}
	defer lg.Sync()

	shutdownTracer, err := telemetry.InitTracer(cfg.ZipkinURL, serviceName, version)
	if err != nil {
		lg.Errorw("failed to init tracing", "error", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			lg.Warnw("tracer shutdown", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	artifacts, err := newArtifactStore(ctx, cfg)
	if err != nil {
		lg.Errorw("failed to init artifact storage", "backend", cfg.ArtifactBackend, "error", err)
		return 1
	}

	records, closeStore := newStore(cfg, lg)
	defer closeStore()

	// Shared HTTP client for the provider call. No client-side retries: a failed
	// run is retried as a whole by the scheduler.
	httpClient := resty.New().
		SetTimeout(cfg.HTTPTimeout).
		SetRetryCount(0)

	provider := providers.NewOpenWeatherProvider(httpClient, cfg.OpenWeatherAPIKey,
		providers.WithBaseURL(cfg.OpenWeatherBaseURL))

	if cfg.OpenWeatherAPIKey == "" {
		lg.Warnw("OPENWEATHER_API_KEY is not set; fetches will fail with ConfigError")
	}

	pipeline := weather.NewPipeline(weather.Config{
		Location:     cfg.Location,
		ConnectionID: cfg.ConnectionID,
		Timezone:     cfg.Timezone,
	}, provider, artifacts, records, lg)

	sched := scheduler.New(pipeline, records, scheduler.Options{
		At:         cfg.ScheduleAt,
		Location:   cfg.Timezone,
		Retries:    cfg.Retries,
		RetryDelay: cfg.RetryDelay,
		Catchup:    cfg.Catchup,
		StartDate:  cfg.StartDate,
		History:    cfg.RunHistory,
	}, lg)

	if *once {
		return runOnce(ctx, lg, pipeline, *dsFlag, *stage)
	}
	return serve(ctx, cfg, lg, sched, records)
}

// runOnce executes a single run without retries and reports failure through
// the exit code, for use under an external scheduler.
func runOnce(ctx context.Context, lg *zap.SugaredLogger, p *weather.Pipeline, dsFlag, stage string) int {
	ds := p.Today()
	if dsFlag != "" {
		var err error
		if ds, err = weather.ParseDate(dsFlag); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
	}

	var err error
	switch stage {
	case "all":
		_, err = p.Run(ctx, ds)
	case "fetch":
		if ds != p.Today() {
			fmt.Fprintf(os.Stderr, "fetch only writes today's artifact (%s), got -ds %s\n", p.Today(), ds)
			return 2
		}
		_, err = p.Fetch(ctx)
	case "transform":
		var rec weather.WeatherRecord
		if rec, err = p.Transform(ctx, ds); err == nil {
			err = json.NewEncoder(os.Stdout).Encode(rec)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown stage %q (want all, fetch or transform)\n", stage)
		return 2
	}

	if err != nil {
		lg.Errorw("run failed", "ds", ds, "stage", weather.StageOf(err), "kind", weather.Kind(err), "error", err)
		fmt.Fprintf(os.Stderr, "%s: %v\n", weather.Kind(err), err)
		return 1
	}
	lg.Infow("run succeeded", "ds", ds, "stage", stage)
	return 0
}

func serve(ctx context.Context, cfg *config.AppConfig, lg *zap.SugaredLogger, sched *scheduler.Scheduler, records weather.Store) int {
	prepareStore(ctx, records, lg)

	if err := sched.Start(); err != nil {
		lg.Errorw("failed to start scheduler", "error", err)
		return 1
	}
	defer sched.Stop()

	// Basic app configuration
	app := fiber.New(fiber.Config{
		AppName:               serviceName,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
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
	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		status := fiber.Map{
			"status":  "ok",
			"service": serviceName,
			"today":   sched.Today(),
		}
		if p, ok := records.(interface{ Ping(context.Context) error }); ok {
			pingCtx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
			defer cancel()
			if err := p.Ping(pingCtx); err != nil {
				status["status"] = "degraded"
				status["store"] = "disconnected"
				return c.Status(fiber.StatusServiceUnavailable).JSON(status)
			}
			status["store"] = "connected"
		}
		return c.JSON(status)
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// API routes.
	httpapi.RegisterRoutes(app, sched, records)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			lg.Errorw("fiber server stopped", "error", err)
		}
	}()
	lg.Infow("weather-etl started",
		"port", cfg.Port,
		"schedule_at", cfg.ScheduleAt,
		"timezone", cfg.Timezone.String(),
		"location", cfg.Location.Query(),
		"store", cfg.StoreBackend,
		"artifacts", cfg.ArtifactBackend,
	)

	// Wait for termination signal
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		lg.Warnw("error during shutdown", "error", err)
	}
	return 0
}

func newArtifactStore(ctx context.Context, cfg *config.AppConfig) (weather.ArtifactStore, error) {
	if cfg.ArtifactBackend == config.BackendMinio {
		return artifact.NewMinioStore(ctx, artifact.MinioConfig{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Minio.Bucket,
			Prefix:    cfg.Minio.Prefix,
			UseSSL:    cfg.Minio.UseSSL,
		})
	}
	return artifact.NewFileStore(cfg.DataDir)
}

func newStore(cfg *config.AppConfig, lg *zap.SugaredLogger) (weather.Store, func()) {
	if cfg.StoreBackend == config.BackendMemory {
		return store.NewMemoryStore(0), func() {}
	}
	pg := store.NewPostgresStore(cfg.DatabaseURL, cfg.StoreTimeout, lg.Named("postgres"))
	return pg, pg.Close
}

// prepareStore creates the destination schema up front when the store
// supports it. A failure is only logged: the store retries on first use.
func prepareStore(ctx context.Context, records weather.Store, lg *zap.SugaredLogger) bool {
	s, ok := records.(interface{ EnsureSchema(context.Context) error })
	if !ok {
		return true
	}
	if err := s.EnsureSchema(ctx); err != nil {
		lg.Warnw("destination schema not ready; will retry on first load", "kind", weather.Kind(err), "error", err)
		return false
	}
	lg.Infow("destination schema ready")
	return true
}
