package main

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type config struct {
	listenAddr  string
	upstreamURL string
	logLevel    string

	rateEnabled      bool
	rateLimit        int
	rateWindow       time.Duration
	rateAssignLimit  int
	rateAssignWindow time.Duration
	rateIdleTTL      time.Duration
	rateCleanupEvery time.Duration
	addHeaders       bool

	queueMaxSize    int
	queueTimeout    time.Duration
	queuePace       time.Duration
	queueSweepEvery time.Duration
	queueWait       time.Duration

	databaseURL    string
	metricsEnabled bool

	rateStatsEnabled       bool
	rateStatsRedisAddr     string
	rateStatsRedisPassword string
	rateStatsRedisDB       int
	rateStatsPrefix        string
	rateStatsTTL           time.Duration
	rateStatsBucket        string
	rateStatsTrackTenants  bool
}

func readConfig() (config, error) {
	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.upstreamURL = os.Getenv("UPSTREAM_URL")
	cfg.logLevel = getenvDefault("LOG_LEVEL", "info")

	cfg.rateEnabled = getenvBoolDefault("RATE_ENABLED", true)
	cfg.rateLimit = getenvIntDefault("RATE_LIMIT", 100)
	cfg.rateWindow = getenvDurationDefault("RATE_WINDOW", time.Minute)
	cfg.rateAssignLimit = getenvIntDefault("RATE_ASSIGN_LIMIT", 10)
	cfg.rateAssignWindow = getenvDurationDefault("RATE_ASSIGN_WINDOW", time.Minute)
	cfg.rateIdleTTL = getenvDurationDefault("RATE_IDLE_TTL", 30*time.Minute)
	cfg.rateCleanupEvery = getenvDurationDefault("RATE_CLEANUP_EVERY", 5*time.Minute)
	cfg.addHeaders = getenvBoolDefault("ADD_RATELIMIT_HEADERS", true)

	cfg.queueMaxSize = getenvIntDefault("QUEUE_MAX_SIZE", 50)
	cfg.queueTimeout = getenvDurationDefault("QUEUE_TIMEOUT", 30*time.Second)
	cfg.queuePace = getenvDurationDefault("QUEUE_PACE", 100*time.Millisecond)
	cfg.queueSweepEvery = getenvDurationDefault("QUEUE_SWEEP_EVERY", 5*time.Minute)
	cfg.queueWait = getenvDurationDefault("QUEUE_WAIT", 35*time.Second)

	cfg.databaseURL = os.Getenv("DATABASE_URL")
	cfg.metricsEnabled = getenvBoolDefault("METRICS_ENABLED", true)

	cfg.rateStatsEnabled = getenvBoolDefault("RATE_STATS_ENABLED", false)
	cfg.rateStatsRedisAddr = getenvDefault("RATE_STATS_REDIS_ADDR", "")
	cfg.rateStatsRedisPassword = os.Getenv("RATE_STATS_REDIS_PASSWORD")
	cfg.rateStatsRedisDB = getenvIntDefault("RATE_STATS_REDIS_DB", 0)
	cfg.rateStatsPrefix = getenvDefault("RATE_STATS_PREFIX", "storefront:ratelimit:stats")
	cfg.rateStatsTTL = getenvDurationDefault("RATE_STATS_TTL", 24*time.Hour)
	cfg.rateStatsBucket = getenvDefault("RATE_STATS_BUCKET", "minute")
	cfg.rateStatsTrackTenants = getenvBoolDefault("RATE_STATS_TRACK_TENANTS", false)

	if cfg.rateStatsEnabled && strings.TrimSpace(cfg.rateStatsRedisAddr) == "" {
		return config{}, errors.New("RATE_STATS_REDIS_ADDR is required when RATE_STATS_ENABLED=true")
	}
	if cfg.rateLimit <= 0 || cfg.rateAssignLimit <= 0 {
		return config{}, errors.New("RATE_LIMIT and RATE_ASSIGN_LIMIT must be > 0")
	}
	if cfg.rateWindow <= 0 || cfg.rateAssignWindow <= 0 {
		return config{}, errors.New("RATE_WINDOW and RATE_ASSIGN_WINDOW must be > 0")
	}
	if cfg.queueMaxSize <= 0 {
		return config{}, errors.New("QUEUE_MAX_SIZE must be > 0")
	}
	if cfg.queueTimeout <= 0 {
		return config{}, errors.New("QUEUE_TIMEOUT must be > 0")
	}
	if cfg.queuePace < 0 {
		return config{}, errors.New("QUEUE_PACE must be >= 0")
	}
	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
