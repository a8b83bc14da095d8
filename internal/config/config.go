package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the generation server.
type Config struct {
	Server    ServerConfig
	Queue     QueueConfig
	Artifacts ArtifactConfig
	Inference InferenceConfig
	Image     ImageConfig
	Redis     RedisConfig
	Auth      AuthConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type QueueConfig struct {
	MaxQueueSize  int
	MaxConcurrent int
	// RecycleAfter retires the worker goroutine after this many jobs run,
	// successful or failed, and starts a fresh one, draining backend state
	// between generations. Zero disables recycling.
	RecycleAfter     int
	WaitPollInterval time.Duration
	// SyncWaitTimeout bounds how long the synchronous generate endpoint
	// waits for a job before telling the client to poll instead.
	SyncWaitTimeout time.Duration
}

type ArtifactConfig struct {
	Dir          string
	Retention    time.Duration
	ReapInterval time.Duration
}

type InferenceConfig struct {
	Provider string
	Timeout  time.Duration
	Runtime  RuntimeConfig
	Local    LocalConfig
}

type RuntimeConfig struct {
	BaseURL string
	// LoadTimeout bounds the readiness probe; first model load on a cold
	// runtime can take minutes.
	LoadTimeout time.Duration
}

type LocalConfig struct {
	Command string
	WorkDir string
}

type ImageConfig struct {
	FetchTimeout time.Duration
	MaxBytes     int64
}

type RedisConfig struct {
	URL             string
	RateLimitPerMin int
}

type AuthConfig struct {
	// APIKeyHash is a bcrypt hash of the single accepted API key. Empty
	// disables authentication entirely.
	APIKeyHash string
}

var validProviders = map[string]bool{
	"runtime": true,
	"local":   true,
	"mock":    true,
}

// Load reads configuration from environment variables (with an optional .env
// file) and returns a validated Config. Returns an error with a descriptive
// message if any required value is missing or invalid.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("SAM3D_PORT", 8080),
			Env:  envString("SAM3D_ENV", "development"),
		},
		Queue: QueueConfig{
			MaxQueueSize:     envInt("MAX_QUEUE_SIZE", 16),
			MaxConcurrent:    envInt("MAX_CONCURRENT", 1),
			RecycleAfter:     envInt("WORKER_RECYCLE_AFTER", 25),
			WaitPollInterval: envDuration("WAIT_POLL_INTERVAL", 500*time.Millisecond),
			SyncWaitTimeout:  envDuration("SYNC_WAIT_TIMEOUT", 15*time.Minute),
		},
		Artifacts: ArtifactConfig{
			Dir:          envString("ARTIFACT_DIR", filepath.Join(os.TempDir(), "sam3d-artifacts")),
			Retention:    envDuration("ARTIFACT_RETENTION", time.Hour),
			ReapInterval: envDuration("REAP_INTERVAL", 5*time.Minute),
		},
		Inference: InferenceConfig{
			Provider: envString("INFERENCE_PROVIDER", "runtime"),
			Timeout:  envDurationSecs("INFERENCE_TIMEOUT_SECS", 600*time.Second),
			Runtime: RuntimeConfig{
				BaseURL:     os.Getenv("RUNTIME_BASE_URL"),
				LoadTimeout: envDuration("RUNTIME_LOAD_TIMEOUT", 5*time.Minute),
			},
			Local: LocalConfig{
				Command: os.Getenv("LOCAL_RUNNER_CMD"),
				WorkDir: os.Getenv("LOCAL_RUNNER_DIR"),
			},
		},
		Image: ImageConfig{
			FetchTimeout: envDuration("IMAGE_FETCH_TIMEOUT", 60*time.Second),
			MaxBytes:     envInt64("IMAGE_MAX_BYTES", 32<<20),
		},
		Redis: RedisConfig{
			URL:             os.Getenv("REDIS_URL"),
			RateLimitPerMin: envInt("RATE_LIMIT_PER_MIN", 60),
		},
		Auth: AuthConfig{
			APIKeyHash: os.Getenv("API_KEY_HASH"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("SAM3D_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Queue.MaxQueueSize < 1 {
		return fmt.Errorf("MAX_QUEUE_SIZE must be at least 1, got %d", c.Queue.MaxQueueSize)
	}
	// The GPU cannot run two inference calls concurrently; concurrency is
	// pinned at one per process.
	if c.Queue.MaxConcurrent != 1 {
		return fmt.Errorf("MAX_CONCURRENT is fixed at 1, got %d", c.Queue.MaxConcurrent)
	}
	if c.Queue.RecycleAfter < 0 {
		return fmt.Errorf("WORKER_RECYCLE_AFTER must not be negative, got %d", c.Queue.RecycleAfter)
	}
	if c.Queue.WaitPollInterval <= 0 {
		return fmt.Errorf("WAIT_POLL_INTERVAL must be positive, got %s", c.Queue.WaitPollInterval)
	}
	if c.Queue.SyncWaitTimeout <= 0 {
		return fmt.Errorf("SYNC_WAIT_TIMEOUT must be positive, got %s", c.Queue.SyncWaitTimeout)
	}

	if c.Artifacts.Retention <= 0 {
		return fmt.Errorf("ARTIFACT_RETENTION must be positive, got %s", c.Artifacts.Retention)
	}
	if c.Artifacts.ReapInterval <= 0 {
		return fmt.Errorf("REAP_INTERVAL must be positive, got %s", c.Artifacts.ReapInterval)
	}

	if !validProviders[c.Inference.Provider] {
		return fmt.Errorf("INFERENCE_PROVIDER must be one of runtime, local, mock; got %q", c.Inference.Provider)
	}
	if c.Inference.Provider == "runtime" {
		if c.Inference.Runtime.BaseURL == "" {
			return fmt.Errorf("RUNTIME_BASE_URL is required when INFERENCE_PROVIDER is runtime")
		}
		if !strings.HasPrefix(c.Inference.Runtime.BaseURL, "http://") && !strings.HasPrefix(c.Inference.Runtime.BaseURL, "https://") {
			return fmt.Errorf("RUNTIME_BASE_URL must start with http:// or https://, got %q", c.Inference.Runtime.BaseURL)
		}
	}
	if c.Inference.Provider == "local" && c.Inference.Local.Command == "" {
		return fmt.Errorf("LOCAL_RUNNER_CMD is required when INFERENCE_PROVIDER is local")
	}
	if c.Inference.Timeout <= 0 {
		return fmt.Errorf("INFERENCE_TIMEOUT_SECS must be positive, got %s", c.Inference.Timeout)
	}

	if c.Image.MaxBytes <= 0 {
		return fmt.Errorf("IMAGE_MAX_BYTES must be positive, got %d", c.Image.MaxBytes)
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

func envInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
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

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
