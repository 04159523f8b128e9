// Package config loads and validates process configuration from the
// environment, following the godotenv + struct pattern used by
// ponytojas-gtfs-simulator-go/internal/config and
// jfmow-gtfs-new-zealand's backend.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/senseyeio/duration"
)

// Config holds every recognized tuning option plus the supplemental
// durations this expansion adds (idle eviction, cache TTL).
type Config struct {
	Port int `validate:"min=1,max=65535"`

	HistorySize               int `validate:"min=1"`
	MinSignalsForDirection    int `validate:"min=1"`
	MinMovementThresholdM     float64
	DirectionMatchThresholdDeg float64 `validate:"min=0,max=180"`
	StopDepartureOffset       time.Duration

	BusIdleEviction time.Duration
	CatalogCacheTTL time.Duration

	DatabaseURL string `validate:"required"`
	RedisAddr   string

	MetricsAddr string
}

// Load reads .env (if present, ignored if missing) then the process
// environment, applying documented defaults for anything unset.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                       envInt("PORT", 3000),
		HistorySize:                envInt("HISTORY_SIZE", 5),
		MinSignalsForDirection:     envInt("MIN_SIGNALS_FOR_DIRECTION", 3),
		MinMovementThresholdM:      envFloat("MIN_MOVEMENT_THRESHOLD_METERS", 1.0),
		DirectionMatchThresholdDeg: envFloat("DIRECTION_MATCH_THRESHOLD_DEGREES", 45.0),
		StopDepartureOffset:        30 * time.Second,
		BusIdleEviction:            15 * time.Minute,
		CatalogCacheTTL:            5 * time.Minute,
		DatabaseURL:                os.Getenv("DATABASE_URL"),
		RedisAddr:                  envDefault("REDIS_ADDR", "127.0.0.1:6379"),
		MetricsAddr:                os.Getenv("METRICS_ADDR"),
	}

	if v := os.Getenv("STOP_DEPARTURE_OFFSET"); v != "" {
		d, err := parseISODuration(v, cfg.StopDepartureOffset)
		if err != nil {
			return nil, fmt.Errorf("invalid STOP_DEPARTURE_OFFSET: %w", err)
		}
		cfg.StopDepartureOffset = d
	}
	if v := os.Getenv("BUS_IDLE_EVICTION"); v != "" {
		d, err := parseISODuration(v, cfg.BusIdleEviction)
		if err != nil {
			return nil, fmt.Errorf("invalid BUS_IDLE_EVICTION: %w", err)
		}
		cfg.BusIdleEviction = d
	}
	if v := os.Getenv("CATALOG_CACHE_TTL"); v != "" {
		d, err := parseISODuration(v, cfg.CatalogCacheTTL)
		if err != nil {
			return nil, fmt.Errorf("invalid CATALOG_CACHE_TTL: %w", err)
		}
		cfg.CatalogCacheTTL = d
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// parseISODuration accepts either an ISO-8601 duration ("PT30S") via
// senseyeio/duration, or a plain Go duration string ("30s"), for
// operator convenience.
func parseISODuration(v string, fallback time.Duration) (time.Duration, error) {
	if strings.HasPrefix(strings.ToUpper(v), "P") {
		d, err := duration.ParseISO8601(v)
		if err != nil {
			return fallback, err
		}
		var zero time.Time
		return d.Shift(zero).Sub(zero), nil
	}
	return time.ParseDuration(v)
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
