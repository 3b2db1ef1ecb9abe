package nuvom

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Environment selects runtime defaults such as log verbosity.
type Environment string

const (
	EnvDev  Environment = "dev"
	EnvTest Environment = "test"
	EnvProd Environment = "prod"
)

// Config holds configuration for the execution runtime. It is consumed by
// the engine; hosts may build it directly or load it from the environment
// with LoadConfig.
type Config struct {
	// Environment is one of dev, test, prod.
	Environment Environment

	// LogLevel is the minimum slog level (debug, info, warn, error).
	LogLevel string

	// QueueBackend names the queue backend to resolve at startup.
	QueueBackend string

	// ResultBackend names the result backend to resolve at startup.
	ResultBackend string

	// SerializationBackend names the job codec.
	SerializationBackend string

	// MaxWorkers is the number of single-slot workers in the pool.
	MaxWorkers int

	// BatchSize is the maximum number of jobs pulled per dispatcher cycle.
	BatchSize int

	// JobTimeout is the default per-job wall-clock limit, applied when a
	// job carries no timeout of its own.
	JobTimeout time.Duration

	// TimeoutPolicy is the default policy applied when a job times out and
	// carries no policy of its own: retry, fail, or ignore.
	TimeoutPolicy string

	// ShutdownGrace bounds how long running jobs may finish after a
	// shutdown is requested.
	ShutdownGrace time.Duration

	// VisibilityTimeout is the lease duration for persistent queue
	// backends; an unacknowledged job becomes visible again after it.
	VisibilityTimeout time.Duration

	// QueueMaxSize bounds the in-memory queue. Zero means unbounded.
	QueueMaxSize int

	// ManifestPath locates the task manifest produced by the discovery
	// tooling. Empty disables manifest loading.
	ManifestPath string

	// PluginPath locates the plugin descriptor file.
	PluginPath string

	// QueueDir is the root directory of the file queue backend.
	QueueDir string

	// ResultDir is the root directory of the file result backend.
	ResultDir string

	// SQLiteQueuePath is the database file for the sqlite queue backend.
	SQLiteQueuePath string

	// SQLiteResultPath is the database file for the sqlite result backend.
	SQLiteResultPath string

	// PrometheusPort is consumed by monitoring plugins; the runtime only
	// carries it through.
	PrometheusPort int

	// DequeueRate caps dispatcher pulls per second. Zero disables the gate.
	DequeueRate float64
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Environment:          EnvDev,
		LogLevel:             "info",
		QueueBackend:         "memory",
		ResultBackend:        "memory",
		SerializationBackend: "msgpack",
		MaxWorkers:           4,
		BatchSize:            1,
		JobTimeout:           60 * time.Second,
		TimeoutPolicy:        "fail",
		ShutdownGrace:        10 * time.Second,
		VisibilityTimeout:    30 * time.Second,
		ManifestPath:         "",
		PluginPath:           ".nuvom_plugins.toml",
		QueueDir:             ".nuvom/queue",
		ResultDir:            ".nuvom/results",
		SQLiteQueuePath:      ".nuvom/queue.db",
		SQLiteResultPath:     ".nuvom/results.db",
	}
}

// LoadConfig reads configuration from NUVOM_-prefixed environment variables
// layered over DefaultConfig. NUVOM_QUEUE_BACKEND=file selects the file
// queue, NUVOM_MAX_WORKERS=8 sizes the pool, and so on.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetEnvPrefix("NUVOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("environment", string(cfg.Environment))
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("queue_backend", cfg.QueueBackend)
	v.SetDefault("result_backend", cfg.ResultBackend)
	v.SetDefault("serialization_backend", cfg.SerializationBackend)
	v.SetDefault("max_workers", cfg.MaxWorkers)
	v.SetDefault("batch_size", cfg.BatchSize)
	v.SetDefault("job_timeout_secs", int(cfg.JobTimeout/time.Second))
	v.SetDefault("timeout_policy", cfg.TimeoutPolicy)
	v.SetDefault("shutdown_grace_secs", int(cfg.ShutdownGrace/time.Second))
	v.SetDefault("visibility_timeout_secs", int(cfg.VisibilityTimeout/time.Second))
	v.SetDefault("queue_maxsize", cfg.QueueMaxSize)
	v.SetDefault("manifest_path", cfg.ManifestPath)
	v.SetDefault("plugin_path", cfg.PluginPath)
	v.SetDefault("queue_dir", cfg.QueueDir)
	v.SetDefault("result_dir", cfg.ResultDir)
	v.SetDefault("sqlite_queue_path", cfg.SQLiteQueuePath)
	v.SetDefault("sqlite_result_path", cfg.SQLiteResultPath)
	v.SetDefault("prometheus_port", cfg.PrometheusPort)
	v.SetDefault("dequeue_rate", cfg.DequeueRate)

	cfg.Environment = Environment(v.GetString("environment"))
	cfg.LogLevel = v.GetString("log_level")
	cfg.QueueBackend = v.GetString("queue_backend")
	cfg.ResultBackend = v.GetString("result_backend")
	cfg.SerializationBackend = v.GetString("serialization_backend")
	cfg.MaxWorkers = v.GetInt("max_workers")
	cfg.BatchSize = v.GetInt("batch_size")
	cfg.JobTimeout = time.Duration(v.GetInt("job_timeout_secs")) * time.Second
	cfg.TimeoutPolicy = v.GetString("timeout_policy")
	cfg.ShutdownGrace = time.Duration(v.GetInt("shutdown_grace_secs")) * time.Second
	cfg.VisibilityTimeout = time.Duration(v.GetInt("visibility_timeout_secs")) * time.Second
	cfg.QueueMaxSize = v.GetInt("queue_maxsize")
	cfg.ManifestPath = v.GetString("manifest_path")
	cfg.PluginPath = v.GetString("plugin_path")
	cfg.QueueDir = v.GetString("queue_dir")
	cfg.ResultDir = v.GetString("result_dir")
	cfg.SQLiteQueuePath = v.GetString("sqlite_queue_path")
	cfg.SQLiteResultPath = v.GetString("sqlite_result_path")
	cfg.PrometheusPort = v.GetInt("prometheus_port")
	cfg.DequeueRate = v.GetFloat64("dequeue_rate")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the runtime cannot honor.
func (c Config) Validate() error {
	switch c.Environment {
	case EnvDev, EnvTest, EnvProd:
	default:
		return fmt.Errorf("nuvom: invalid environment %q", c.Environment)
	}
	if c.MaxWorkers < 1 {
		return fmt.Errorf("nuvom: max_workers must be >= 1, got %d", c.MaxWorkers)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("nuvom: batch_size must be >= 1, got %d", c.BatchSize)
	}
	switch c.TimeoutPolicy {
	case "retry", "fail", "ignore":
	default:
		return fmt.Errorf("nuvom: invalid timeout_policy %q", c.TimeoutPolicy)
	}
	return nil
}
