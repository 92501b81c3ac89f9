package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/wb-go/wbf/zlog"
)

// Process roles.
const (
	RoleAPI    = "api"
	RoleWorker = "worker"
	RoleAll    = "all"
)

// Config holds the main configuration for the application.
// It is built once at startup and handed to every component constructor.
type Config struct {
	Role       string     `mapstructure:"role"` // api, worker or all
	Server     Server     `mapstructure:"server"`
	Database   Database   `mapstructure:"database"`
	Storage    Storage    `mapstructure:"storage"`
	Kafka      Kafka      `mapstructure:"kafka"`
	Retry      Retry      `mapstructure:"retry"`
	Upload     Upload     `mapstructure:"upload"`
	Worker     Worker     `mapstructure:"worker"`
	Background Background `mapstructure:"background"`
	Metrics    Metrics    `mapstructure:"metrics"`
	Processor  Processor  `mapstructure:"processor"`
}

// Server holds HTTP server-related configuration.
type Server struct {
	HTTPPort     string        `mapstructure:"http_port"` // HTTP port to listen on
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Database holds database master and slave configuration.
type Database struct {
	Master DatabaseNode   `mapstructure:"master"`
	Slaves []DatabaseNode `mapstructure:"slaves"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DatabaseNode holds connection parameters for a single database node.
type DatabaseNode struct {
	Host    string `mapstructure:"host"`
	Port    string `mapstructure:"port"`
	User    string `mapstructure:"user"`
	Pass    string `mapstructure:"pass"`
	Name    string `mapstructure:"name"`
	SSLMode string `mapstructure:"ssl_mode"`
}

// Storage holds configuration for the object store.
type Storage struct {
	Endpoint        string        `mapstructure:"endpoint"`
	AccessKey       string        `mapstructure:"access_key"`
	SecretKey       string        `mapstructure:"secret_key"`
	UseSSL          bool          `mapstructure:"use_ssl"`
	OriginalBucket  string        `mapstructure:"original_bucket"`
	ProcessedBucket string        `mapstructure:"processed_bucket"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"` // per call, 0 disables
}

// Kafka holds configuration for the Kafka message queue.
type Kafka struct {
	GroupID         string   `mapstructure:"group_id"`          // Consumer group ID
	Topic           string   `mapstructure:"topic"`             // processing requests
	ResultTopic     string   `mapstructure:"result_topic"`      // empty disables result events
	DeadLetterTopic string   `mapstructure:"dead_letter_topic"` // exhausted messages
	Brokers         []string `mapstructure:"brokers"`           // List of Kafka broker addresses
}

// Retry defines retry policy configuration.
type Retry struct {
	Attempts int           `mapstructure:"attempts"` // Number of retry attempts
	Delay    time.Duration `mapstructure:"delay"`    // Initial delay between retries
	Backoff  float64       `mapstructure:"backoff"`  // Backoff multiplier for delays
}

// Upload bounds what the ingestion path accepts.
type Upload struct {
	MaxBytes  int64 `mapstructure:"max_bytes"`
	MaxPixels int64 `mapstructure:"max_pixels"` // width*height
}

// Worker configures the consume loop.
type Worker struct {
	MaxMessages   int           `mapstructure:"max_messages"` // per poll cycle
	PollTimeout   time.Duration `mapstructure:"poll_timeout"`
	MaxDeliveries int           `mapstructure:"max_deliveries"` // before dead-lettering
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

// Background configures the queue for fire-and-forget metadata writes.
type Background struct {
	Workers     int           `mapstructure:"workers"`
	QueueSize   int           `mapstructure:"queue_size"`
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	Addr string `mapstructure:"addr"` // empty disables the endpoint
}

// Processor tunes the transform engine.
type Processor struct {
	WatermarkText string  `mapstructure:"watermark_text"`
	BlurSigma     float64 `mapstructure:"blur_sigma"`
	JPEGQuality   int     `mapstructure:"jpeg_quality"`
	MaxPixels     int64   `mapstructure:"max_pixels"` // output width*height
}

// DSN returns the PostgreSQL DSN string for connecting to this database node.
func (n DatabaseNode) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		n.User, n.Pass, n.Host, n.Port, n.Name, n.SSLMode,
	)
}

// RunsAPI reports whether the HTTP surface should be started.
func (c *Config) RunsAPI() bool {
	return c.Role == RoleAPI || c.Role == RoleAll
}

// RunsWorker reports whether the consume loop should be started.
func (c *Config) RunsWorker() bool {
	return c.Role == RoleWorker || c.Role == RoleAll
}

// Validate checks the values components rely on.
func (c *Config) Validate() error {
	var errs []error

	switch c.Role {
	case RoleAPI, RoleWorker, RoleAll:
	default:
		errs = append(errs, fmt.Errorf("role: unknown value %q", c.Role))
	}
	if len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers: at least one broker is required"))
	}
	if c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic: required"))
	}
	if c.RunsWorker() && c.Kafka.GroupID == "" {
		errs = append(errs, errors.New("kafka.group_id: required for worker role"))
	}
	if c.RunsWorker() && c.Kafka.DeadLetterTopic == "" {
		errs = append(errs, errors.New("kafka.dead_letter_topic: required for worker role"))
	}
	if c.Storage.OriginalBucket == "" || c.Storage.ProcessedBucket == "" {
		errs = append(errs, errors.New("storage: original_bucket and processed_bucket are required"))
	}
	if c.Upload.MaxBytes <= 0 || c.Upload.MaxPixels <= 0 {
		errs = append(errs, errors.New("upload: max_bytes and max_pixels must be positive"))
	}
	if c.Worker.MaxMessages <= 0 || c.Worker.MaxDeliveries <= 0 {
		errs = append(errs, errors.New("worker: max_messages and max_deliveries must be positive"))
	}
	if c.Background.Workers <= 0 || c.Background.QueueSize <= 0 {
		errs = append(errs, errors.New("background: workers and queue_size must be positive"))
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("role", RoleAll)

	v.SetDefault("server.http_port", ":8000")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("database.master.port", "5432")
	v.SetDefault("database.master.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("storage.original_bucket", "original-images")
	v.SetDefault("storage.processed_bucket", "processed-images")
	v.SetDefault("storage.request_timeout", 30*time.Second)

	v.SetDefault("kafka.topic", "image-processing-requests")
	v.SetDefault("kafka.result_topic", "image-processing-results")
	v.SetDefault("kafka.dead_letter_topic", "image-processing-requests.dlq")
	v.SetDefault("kafka.group_id", "image-processor")

	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.delay", 100*time.Millisecond)
	v.SetDefault("retry.backoff", 2.0)

	v.SetDefault("upload.max_bytes", 20<<20)
	v.SetDefault("upload.max_pixels", 8000*8000)

	v.SetDefault("worker.max_messages", 100)
	v.SetDefault("worker.poll_timeout", time.Second)
	v.SetDefault("worker.max_deliveries", 5)
	v.SetDefault("worker.retry_delay", 2*time.Second)

	v.SetDefault("background.workers", 4)
	v.SetDefault("background.queue_size", 256)
	v.SetDefault("background.task_timeout", 5*time.Second)

	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("processor.watermark_text", "Watermark")
	v.SetDefault("processor.blur_sigma", 5.0)
	v.SetDefault("processor.jpeg_quality", 90)
	v.SetDefault("processor.max_pixels", 8000*8000)
}

// bindEnv binds secrets that are usually injected through the environment.
func bindEnv(v *viper.Viper) error {
	bindings := map[string]string{
		"database.master.host": "DB_HOST",
		"database.master.port": "DB_PORT",
		"database.master.user": "DB_USER",
		"database.master.pass": "DB_PASSWORD",
		"database.master.name": "DB_NAME",
		"storage.access_key":   "MINIO_ACCESS_KEY",
		"storage.secret_key":   "MINIO_SECRET_KEY",
		"kafka.brokers":        "KAFKA_BOOTSTRAP_SERVERS",
	}

	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	return nil
}

// Load reads the configuration from path (optional when empty), the
// environment and flags, in increasing order of precedence.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if flags != nil {
		if f := flags.Lookup("role"); f != nil {
			if err := v.BindPFlag("role", f); err != nil {
				return nil, fmt.Errorf("bind flag role: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Env values arrive as one comma separated string.
	if len(cfg.Kafka.Brokers) == 1 && strings.Contains(cfg.Kafka.Brokers[0], ",") {
		cfg.Kafka.Brokers = strings.Split(cfg.Kafka.Brokers[0], ",")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads the configuration from the specified file path.
// It panics if the configuration file cannot be loaded or unmarshaled.
func MustLoad(path string, flags *pflag.FlagSet) *Config {
	cfg, err := Load(path, flags)
	if err != nil {
		zlog.Logger.Panic().Err(err).Msg("failed to load config")
	}

	return cfg
}
