package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the wavedeck server and worker.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Processor ProcessorConfig
	Upload    UploadConfig
	Sweep     SweepConfig
}

type ServerConfig struct {
	Port          int
	Env           string
	BaseURL       string
	DefaultUserID int64
	RateLimit     int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// QueueConfig carries the broker address and the default retry policy for enqueued jobs.
type QueueConfig struct {
	RedisURL    string
	Name        string
	MaxAttempts int
	BackoffBase time.Duration
	JobTimeout  time.Duration
}

type WorkerConfig struct {
	Concurrency     int
	Embedded        bool
	ShutdownTimeout time.Duration
}

type ProcessorConfig struct {
	Backend     string
	URL         string
	FailureRate float64
	MinDelay    time.Duration
	MaxDelay    time.Duration
}

type UploadConfig struct {
	Dir      string
	MaxBytes int64
}

type SweepConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
}

var validBackends = map[string]bool{
	"simulator": true,
	"http":      true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	redisURL := os.Getenv("REDIS_URL")

	cfg := &Config{
		Server: ServerConfig{
			Port:          envInt("WAVEDECK_PORT", 8080),
			Env:           envString("WAVEDECK_ENV", "development"),
			BaseURL:       os.Getenv("BASE_URL"),
			DefaultUserID: int64(envInt("DEFAULT_USER_ID", 1)),
			RateLimit:     envInt("RATE_LIMIT_PER_MIN", 60),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: redisURL,
		},
		Queue: QueueConfig{
			RedisURL:    envString("QUEUE_REDIS_URL", redisURL),
			Name:        envString("QUEUE_NAME", "inference"),
			MaxAttempts: envInt("QUEUE_MAX_ATTEMPTS", 3),
			BackoffBase: envDuration("QUEUE_BACKOFF_BASE", time.Second),
			JobTimeout:  envDuration("QUEUE_JOB_TIMEOUT", 10*time.Second),
		},
		Worker: WorkerConfig{
			Concurrency:     envInt("WORKER_CONCURRENCY", 4),
			Embedded:        envBool("WORKER_EMBEDDED", true),
			ShutdownTimeout: envDuration("WORKER_SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Processor: ProcessorConfig{
			Backend:     envString("PROCESSOR", "simulator"),
			URL:         os.Getenv("PROCESSOR_URL"),
			FailureRate: envFloat("PROCESSOR_FAILURE_RATE", 0.1),
			MinDelay:    envDuration("PROCESSOR_MIN_DELAY", time.Second),
			MaxDelay:    envDuration("PROCESSOR_MAX_DELAY", 5*time.Second),
		},
		Upload: UploadConfig{
			Dir:      envString("UPLOAD_DIR", "./wavedeck-uploads"),
			MaxBytes: int64(envInt("MAX_UPLOAD_BYTES", 10<<20)),
		},
		Sweep: SweepConfig{
			Interval:   envDuration("SWEEP_INTERVAL", time.Minute),
			StaleAfter: envDuration("SWEEP_STALE_AFTER", 10*time.Minute),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Server.BaseURL == "" {
		return fmt.Errorf("BASE_URL is required")
	}
	if !strings.HasPrefix(c.Server.BaseURL, "http://") && !strings.HasPrefix(c.Server.BaseURL, "https://") {
		return fmt.Errorf("BASE_URL must start with http:// or https://, got %q", c.Server.BaseURL)
	}

	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("QUEUE_MAX_ATTEMPTS must be at least 1, got %d", c.Queue.MaxAttempts)
	}
	if c.Queue.JobTimeout <= 0 {
		return fmt.Errorf("QUEUE_JOB_TIMEOUT must be positive")
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.Worker.Concurrency)
	}

	if !validBackends[c.Processor.Backend] {
		return fmt.Errorf("PROCESSOR must be one of simulator, http; got %q", c.Processor.Backend)
	}
	if c.Processor.Backend == "http" && c.Processor.URL == "" {
		return fmt.Errorf("PROCESSOR_URL is required when PROCESSOR is http")
	}
	if c.Processor.FailureRate < 0 || c.Processor.FailureRate > 1 {
		return fmt.Errorf("PROCESSOR_FAILURE_RATE must be between 0 and 1, got %v", c.Processor.FailureRate)
	}
	if c.Processor.MaxDelay < c.Processor.MinDelay {
		return fmt.Errorf("PROCESSOR_MAX_DELAY must not be less than PROCESSOR_MIN_DELAY")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
