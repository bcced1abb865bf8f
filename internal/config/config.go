package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Admission AdmissionConfig
	Worker    WorkerConfig
}

type ServerConfig struct {
	Port        int
	MetricsPort int
	// DrainToken, when set, is required as a bearer token on the worker
	// drain endpoint.
	DrainToken string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AdmissionConfig struct {
	// CooldownTTL is how long a product is shed locally after a sold-out
	// result.
	CooldownTTL time.Duration
	// AttemptTimeout bounds one atomic admission call.
	AttemptTimeout time.Duration
	// Retries is the retry budget before an attempt fails closed.
	Retries int
}

type WorkerConfig struct {
	// ID is the externally assigned consumer identity. It must be unique
	// across the fleet; there is no fallback to process metadata.
	ID           string
	BatchSize    int64
	PollInterval time.Duration
	// ClaimMinIdle is how long a delivered-but-unacknowledged entry may sit
	// before another consumer claims it.
	ClaimMinIdle time.Duration
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        getEnvInt("PORT", 8080),
			MetricsPort: getEnvInt("METRICS_PORT", 9090),
			DrainToken:  os.Getenv("DRAIN_TOKEN"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Admission: AdmissionConfig{
			CooldownTTL:    getEnvDuration("COOLDOWN_DURATION", 5*time.Second),
			AttemptTimeout: getEnvDuration("ADMISSION_TIMEOUT", 500*time.Millisecond),
			Retries:        getEnvInt("ADMISSION_RETRIES", 2),
		},
		Worker: WorkerConfig{
			ID:           os.Getenv("WORKER_ID"),
			BatchSize:    int64(getEnvInt("WORKER_BATCH_SIZE", 200)),
			PollInterval: getEnvDuration("WORKER_POLL_INTERVAL", time.Second),
			ClaimMinIdle: getEnvDuration("WORKER_CLAIM_MIN_IDLE", time.Minute),
		},
	}
}

// ValidateWorker checks the fields a settlement worker process requires.
func (c *Config) ValidateWorker() error {
	if c.Worker.ID == "" {
		return fmt.Errorf("WORKER_ID must be set: consumer identity is assigned externally, not derived from the process")
	}
	if c.Worker.BatchSize <= 0 {
		return fmt.Errorf("WORKER_BATCH_SIZE must be positive, got %d", c.Worker.BatchSize)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
