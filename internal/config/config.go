// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr    string
	DBPath        string
	ArchiveRoot   string
	ArchiveSecret string

	WorkerCount       int
	LoaderConcurrency int
	QueuePollInterval time.Duration
	LeaseTimeout      time.Duration
	LockWaitTimeout   time.Duration
}

// Load reads configuration from the environment, after loading an optional
// .env file, and returns a validated Config. COVERDECK_ARCHIVE_ROOT and
// COVERDECK_ARCHIVE_SECRET are required; everything else has a default:
// COVERDECK_LISTEN_ADDR (127.0.0.1:8080), COVERDECK_DB_PATH (coverdeck.db),
// COVERDECK_WORKER_COUNT (4), COVERDECK_LOADER_CONCURRENCY (8),
// COVERDECK_QUEUE_POLL_INTERVAL (1s), COVERDECK_LEASE_TIMEOUT (5m),
// COVERDECK_LOCK_WAIT_TIMEOUT (30s).
func Load() (*Config, error) {
	// A missing .env file is the normal production case.
	_ = godotenv.Load()

	archiveRoot := os.Getenv("COVERDECK_ARCHIVE_ROOT")
	if archiveRoot == "" {
		return nil, fmt.Errorf("COVERDECK_ARCHIVE_ROOT is required")
	}

	archiveSecret := os.Getenv("COVERDECK_ARCHIVE_SECRET")
	if archiveSecret == "" {
		return nil, fmt.Errorf("COVERDECK_ARCHIVE_SECRET is required")
	}

	listenAddr := "127.0.0.1:8080"
	if v, ok := os.LookupEnv("COVERDECK_LISTEN_ADDR"); ok {
		listenAddr = v
	}

	dbPath := "coverdeck.db"
	if v, ok := os.LookupEnv("COVERDECK_DB_PATH"); ok {
		dbPath = v
	}

	workerCount, err := intEnv("COVERDECK_WORKER_COUNT", 4)
	if err != nil {
		return nil, err
	}

	loaderConcurrency, err := intEnv("COVERDECK_LOADER_CONCURRENCY", 8)
	if err != nil {
		return nil, err
	}

	queuePollInterval, err := durationEnv("COVERDECK_QUEUE_POLL_INTERVAL", time.Second)
	if err != nil {
		return nil, err
	}

	leaseTimeout, err := durationEnv("COVERDECK_LEASE_TIMEOUT", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	lockWaitTimeout, err := durationEnv("COVERDECK_LOCK_WAIT_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	return &Config{
		ListenAddr:        listenAddr,
		DBPath:            dbPath,
		ArchiveRoot:       archiveRoot,
		ArchiveSecret:     archiveSecret,
		WorkerCount:       workerCount,
		LoaderConcurrency: loaderConcurrency,
		QueuePollInterval: queuePollInterval,
		LeaseTimeout:      leaseTimeout,
		LockWaitTimeout:   lockWaitTimeout,
	}, nil
}

func intEnv(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid integer %q: %w", key, v, err)
	}
	if parsed < 1 {
		return 0, fmt.Errorf("%s must be positive, got %d", key, parsed)
	}
	return parsed, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid duration %q: %w", key, v, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, parsed)
	}
	return parsed, nil
}
