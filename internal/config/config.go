package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Leaderboard LeaderboardConfig `yaml:"leaderboard"`
	Storage     StorageConfig     `yaml:"storage"`
	Classifier  ClassifierConfig  `yaml:"classifier"`
	Redis       RedisConfig       `yaml:"redis"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Reaper      ReaperConfig      `yaml:"reaper"`
	Client      ClientConfig      `yaml:"client"`
	Device      DeviceConfig      `yaml:"device"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	TemplatePath   string        `yaml:"template_path"`
	ShutdownPeriod time.Duration `yaml:"shutdown_period"`
}

// LogConfig controls the slog handler
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LeaderboardConfig holds leaderboard-specific configuration
type LeaderboardConfig struct {
	Size int `yaml:"size"`
}

// StorageConfig selects where submitted images are written
type StorageConfig struct {
	Driver     string           `yaml:"driver"`
	Dir        string           `yaml:"dir"`
	URLPrefix  string           `yaml:"url_prefix"`
	S3         S3Config         `yaml:"s3"`
	Cloudinary CloudinaryConfig `yaml:"cloudinary"`
}

// S3Config holds S3 (or S3-compatible) bucket settings
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	PublicURL string `yaml:"public_url"`
}

// CloudinaryConfig holds Cloudinary credentials
type CloudinaryConfig struct {
	CloudName string `yaml:"cloud_name"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Folder    string `yaml:"folder"`
}

// ClassifierConfig configures the grass classifier
type ClassifierConfig struct {
	Provider    string        `yaml:"provider"`
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
	StaticLabel string        `yaml:"static_label"`
}

// RedisConfig holds Redis connection configuration for the classification cache
type RedisConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
}

// PostgresConfig holds PostgreSQL connection configuration for the audit log
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// KafkaConfig holds Kafka connection configuration
type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers"`
	Topic         string        `yaml:"topic"`
	GroupID       string        `yaml:"group_id"`
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	BatchTimeout  time.Duration `yaml:"batch_timeout"`
	SubmitTimeout time.Duration `yaml:"submit_timeout"`
	StartTimeout  time.Duration `yaml:"start_timeout"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
}

// ReaperConfig controls deletion of images that fell off the leaderboard
type ReaperConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Interval  time.Duration `yaml:"interval"`
	QueueSize int           `yaml:"queue_size"`
}

// ClientConfig holds settings for the capture/submit client
type ClientConfig struct {
	ServerURL string        `yaml:"server_url"`
	Timeout   time.Duration `yaml:"timeout"`
}

// DeviceConfig holds serial port settings for the reading device
type DeviceConfig struct {
	Port        string        `yaml:"port"`
	BaudRate    int           `yaml:"baud_rate"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	Inbox       int           `yaml:"inbox"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	// A missing .env is fine; variables may come from the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML configuration, expanding environment variables first
func Parse(data []byte) (*Config, error) {
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 5000
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 32 << 20
	}
	if c.Server.ShutdownPeriod == 0 {
		c.Server.ShutdownPeriod = 30 * time.Second
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	if c.Leaderboard.Size <= 0 {
		c.Leaderboard.Size = 10
	}

	// Storage defaults
	if c.Storage.Driver == "" {
		c.Storage.Driver = "local"
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = "static/uploads"
	}
	if c.Storage.URLPrefix == "" {
		c.Storage.URLPrefix = "/uploads/"
	}
	if c.Storage.S3.Region == "" {
		c.Storage.S3.Region = "us-east-1"
	}
	if c.Storage.Cloudinary.Folder == "" {
		c.Storage.Cloudinary.Folder = "grass-leaderboard"
	}

	// Classifier defaults
	if c.Classifier.Provider == "" {
		if c.Classifier.APIKey != "" {
			c.Classifier.Provider = "openai"
		} else {
			c.Classifier.Provider = "none"
		}
	}
	if c.Classifier.Model == "" {
		c.Classifier.Model = "gpt-4o-mini"
	}
	if c.Classifier.MaxTokens == 0 {
		c.Classifier.MaxTokens = 8
	}
	if c.Classifier.Timeout == 0 {
		c.Classifier.Timeout = 20 * time.Second
	}
	if c.Classifier.StaticLabel == "" {
		c.Classifier.StaticLabel = "Uncertain"
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 10
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 2
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}
	if c.Redis.CacheTTL == 0 {
		c.Redis.CacheTTL = 24 * time.Hour
	}

	// PostgreSQL defaults
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.MaxConnections == 0 {
		c.Postgres.MaxConnections = 10
	}
	if c.Postgres.MinConnections == 0 {
		c.Postgres.MinConnections = 1
	}
	if c.Postgres.MaxConnLifetime == 0 {
		c.Postgres.MaxConnLifetime = 1 * time.Hour
	}
	if c.Postgres.MaxConnIdleTime == 0 {
		c.Postgres.MaxConnIdleTime = 30 * time.Minute
	}

	// Kafka defaults
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "grass-submissions"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "grass-leaderboard"
	}
	if c.Kafka.BatchSize == 0 {
		c.Kafka.BatchSize = 50
	}
	if c.Kafka.BatchTimeout == 0 {
		c.Kafka.BatchTimeout = 1 * time.Second
	}
	if c.Kafka.SubmitTimeout == 0 {
		c.Kafka.SubmitTimeout = 30 * time.Second
	}
	if c.Kafka.StartTimeout == 0 {
		c.Kafka.StartTimeout = 10 * time.Second
	}
	if c.Kafka.RetryBackoff == 0 {
		c.Kafka.RetryBackoff = 1 * time.Second
	}

	// Reaper defaults
	if c.Reaper.Interval == 0 {
		c.Reaper.Interval = 1 * time.Minute
	}
	if c.Reaper.QueueSize == 0 {
		c.Reaper.QueueSize = 64
	}

	// Client defaults
	if c.Client.ServerURL == "" {
		c.Client.ServerURL = "http://localhost:5000/receive"
	}
	if c.Client.Timeout == 0 {
		c.Client.Timeout = 10 * time.Second
	}

	// Device defaults
	if c.Device.Port == "" {
		c.Device.Port = "/dev/ttyACM0"
	}
	if c.Device.BaudRate == 0 {
		c.Device.BaudRate = 9600
	}
	if c.Device.ReadTimeout == 0 {
		c.Device.ReadTimeout = 1 * time.Second
	}
	if c.Device.Inbox == 0 {
		c.Device.Inbox = 64
	}
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Reaper.Enabled = true
	return cfg
}

// SlogLevel maps the configured level name onto a slog.Level
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
