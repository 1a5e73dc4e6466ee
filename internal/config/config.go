package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/i474232898/weather-etl/internal/weather"
)

// Artifact and store backends.
const (
	BackendFile     = "file"
	BackendMinio    = "minio"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type AppConfig struct {
	OpenWeatherAPIKey  string
	OpenWeatherBaseURL string

	// Location observed by the pipeline.
	Location weather.Location

	// Raw artifacts.
	ArtifactBackend string
	DataDir         string
	Minio           MinioConfig

	// Destination store.
	StoreBackend string
	ConnectionID string
	// DatabaseURL is resolved from the connection registry for ConnectionID.
	DatabaseURL string

	HTTPTimeout  time.Duration
	StoreTimeout time.Duration

	// Scheduling.
	ScheduleAt string // HH:MM in Timezone
	Timezone   *time.Location
	Retries    int
	RetryDelay time.Duration
	Catchup    bool
	StartDate  weather.Date
	RunHistory int

	Port      string
	ZipkinURL string
	LogLevel  string
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// Load reads configuration from environment (and an optional .env file)
// with defaults matching the daily Brooklyn job.
func Load() (*AppConfig, error) {
	// A missing .env file is fine; the environment may already be populated.
	_ = godotenv.Load()

	cfg := &AppConfig{}

	cfg.OpenWeatherAPIKey = os.Getenv("OPENWEATHER_API_KEY")
	cfg.OpenWeatherBaseURL = os.Getenv("OPENWEATHER_BASE_URL")

	cfg.Location = weather.Location{
		City:    getenvDefault("WEATHER_LOCATION_CITY", "Brooklyn"),
		Country: getenvDefault("WEATHER_LOCATION_COUNTRY", "USA"),
	}
	if strings.Contains(cfg.Location.City, ",") {
		return nil, fmt.Errorf("WEATHER_LOCATION_CITY must name a single city")
	}

	cfg.ArtifactBackend = getenvDefault("ARTIFACT_BACKEND", BackendFile)
	cfg.DataDir = getenvDefault("DATA_DIR", "./data")
	cfg.Minio = MinioConfig{
		Endpoint:  os.Getenv("MINIO_ENDPOINT"),
		AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		SecretKey: os.Getenv("MINIO_SECRET_KEY"),
		Bucket:    getenvDefault("MINIO_BUCKET", "weather-raw"),
		Prefix:    getenvDefault("MINIO_PREFIX", "openweather"),
	}
	var err error
	if cfg.Minio.UseSSL, err = getenvBool("MINIO_USE_SSL", false); err != nil {
		return nil, err
	}
	switch cfg.ArtifactBackend {
	case BackendFile:
	case BackendMinio:
		if cfg.Minio.Endpoint == "" {
			return nil, fmt.Errorf("MINIO_ENDPOINT is required when ARTIFACT_BACKEND=minio")
		}
	default:
		return nil, fmt.Errorf("invalid ARTIFACT_BACKEND %q", cfg.ArtifactBackend)
	}

	cfg.StoreBackend = getenvDefault("STORE_BACKEND", BackendPostgres)
	cfg.ConnectionID = getenvDefault("CONNECTION_ID", "weather_id")
	switch cfg.StoreBackend {
	case BackendPostgres:
		dsn, err := ResolveConnection(cfg.ConnectionID)
		if err != nil {
			return nil, err
		}
		cfg.DatabaseURL = dsn
	case BackendMemory:
	default:
		return nil, fmt.Errorf("invalid STORE_BACKEND %q", cfg.StoreBackend)
	}

	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", "10s"); err != nil {
		return nil, err
	}
	if cfg.StoreTimeout, err = getenvDuration("STORE_TIMEOUT", "10s"); err != nil {
		return nil, err
	}

	cfg.ScheduleAt = getenvDefault("SCHEDULE_AT", "00:05")
	if _, err := time.Parse("15:04", cfg.ScheduleAt); err != nil {
		return nil, fmt.Errorf("invalid SCHEDULE_AT: %w", err)
	}
	if cfg.Timezone, err = time.LoadLocation(getenvDefault("TIMEZONE", "UTC")); err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}

	if cfg.Retries, err = getenvInt("RETRIES", 5); err != nil {
		return nil, err
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("RETRIES must not be negative")
	}
	if cfg.RetryDelay, err = getenvDuration("RETRY_DELAY", "1m"); err != nil {
		return nil, err
	}
	if cfg.Catchup, err = getenvBool("CATCHUP", false); err != nil {
		return nil, err
	}
	if cfg.StartDate, err = weather.ParseDate(getenvDefault("START_DATE", "2025-09-14")); err != nil {
		return nil, fmt.Errorf("invalid START_DATE: %w", err)
	}
	if cfg.RunHistory, err = getenvInt("RUN_HISTORY", 100); err != nil {
		return nil, err
	}
	if cfg.RunHistory < 0 {
		return nil, fmt.Errorf("RUN_HISTORY must not be negative")
	}

	cfg.Port = getenvDefault("PORT", "8080")
	cfg.ZipkinURL = os.Getenv("ZIPKIN_URL")
	cfg.LogLevel = getenvDefault("LOG_LEVEL", "info")

	return cfg, nil
}

// ResolveConnection looks up a named connection in the environment registry:
// the DSN for id "weather_id" lives in CONN_WEATHER_ID.
func ResolveConnection(id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("connection id is empty")
	}
	key := "CONN_" + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(id))
	dsn := os.Getenv(key)
	if dsn == "" {
		return "", fmt.Errorf("connection %q is not registered: set %s", id, key)
	}
	return dsn, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getenvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
