package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const TokenSecretEnv = "ATTRIBUTION_TOKEN_SECRET"

type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	GRPC        GRPCConfig        `yaml:"grpc"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Attribution AttributionConfig `yaml:"attribution"`
	Worker      WorkerConfig      `yaml:"worker"`
	Log         LogConfig         `yaml:"log"`
}

type HTTPConfig struct {
	Address string `yaml:"address"`
	// PublicBaseURL prefixes the accept/refuse links sent to candidates.
	PublicBaseURL string `yaml:"public_base_url"`
	// RateLimitPerMinute applies per client IP on the candidate action routes.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
}

type GRPCConfig struct {
	Address string `yaml:"address"`
}

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
	Migrate  bool   `yaml:"migrate"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers                []string `yaml:"brokers"`
	AttributionEventsTopic string   `yaml:"attribution_events_topic"`
	NotificationsTopic     string   `yaml:"notifications_topic"`
	GroupID                string   `yaml:"group_id"`
}

type AttributionConfig struct {
	MaxBroadcastRounds       int     `yaml:"max_broadcast_rounds"`
	RoundTimeoutMinutes      int     `yaml:"round_timeout_minutes"`
	TokenValidityHours       int     `yaml:"token_validity_hours"`
	DefaultMaxDistanceKm     float64 `yaml:"default_max_distance_km"`
	TokenSecret              string  `yaml:"token_secret"`
	CandidateCacheTTLSeconds int     `yaml:"candidate_cache_ttl_seconds"`
	NotifyConcurrency        int     `yaml:"notify_concurrency"`
}

func (a AttributionConfig) RoundTimeout() time.Duration {
	return time.Duration(a.RoundTimeoutMinutes) * time.Minute
}

func (a AttributionConfig) TokenValidity() time.Duration {
	return time.Duration(a.TokenValidityHours) * time.Hour
}

func (a AttributionConfig) CandidateCacheTTL() time.Duration {
	return time.Duration(a.CandidateCacheTTLSeconds) * time.Second
}

type WorkerConfig struct {
	EscalationIntervalSeconds int `yaml:"escalation_interval_seconds"`
	BatchSize                 int `yaml:"batch_size"`
}

func (w WorkerConfig) EscalationInterval() time.Duration {
	return time.Duration(w.EscalationIntervalSeconds) * time.Second
}

type LogConfig struct {
	Level string `yaml:"level"`
	// Env selects the encoder: "production" logs JSON, anything else logs to a console.
	Env string `yaml:"env"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if secret := os.Getenv(TokenSecretEnv); secret != "" {
		cfg.Attribution.TokenSecret = secret
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML and fills in defaults. It does not validate.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if c.HTTP.RateLimitPerMinute == 0 {
		c.HTTP.RateLimitPerMinute = 120
	}
	if c.GRPC.Address == "" {
		c.GRPC.Address = ":9090"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverPostgres
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Kafka.AttributionEventsTopic == "" {
		c.Kafka.AttributionEventsTopic = "attribution-events"
	}
	if c.Kafka.NotificationsTopic == "" {
		c.Kafka.NotificationsTopic = "attribution-notifications"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "attribution-worker"
	}

	a := &c.Attribution
	if a.MaxBroadcastRounds == 0 {
		a.MaxBroadcastRounds = 3
	}
	if a.RoundTimeoutMinutes == 0 {
		a.RoundTimeoutMinutes = 30
	}
	if a.TokenValidityHours == 0 {
		a.TokenValidityHours = 24
	}
	if a.DefaultMaxDistanceKm == 0 {
		a.DefaultMaxDistanceKm = 50
	}
	if a.CandidateCacheTTLSeconds == 0 {
		a.CandidateCacheTTLSeconds = 30
	}
	if a.NotifyConcurrency == 0 {
		a.NotifyConcurrency = 8
	}

	if c.Worker.EscalationIntervalSeconds == 0 {
		c.Worker.EscalationIntervalSeconds = 60
	}
	if c.Worker.BatchSize == 0 {
		c.Worker.BatchSize = 100
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case DriverPostgres, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("database.driver must be %q or %q, got %q", DriverPostgres, DriverMemory, c.Database.Driver))
	}
	if c.HTTP.PublicBaseURL == "" {
		errs = append(errs, errors.New("http.public_base_url is required"))
	}
	if len(c.Attribution.TokenSecret) < 32 {
		errs = append(errs, fmt.Errorf("attribution.token_secret must be at least 32 bytes (or set %s)", TokenSecretEnv))
	}
	if c.Attribution.MaxBroadcastRounds < 1 {
		errs = append(errs, errors.New("attribution.max_broadcast_rounds must be positive"))
	}
	if c.Attribution.RoundTimeoutMinutes < 1 {
		errs = append(errs, errors.New("attribution.round_timeout_minutes must be positive"))
	}
	if c.Attribution.TokenValidityHours < 1 {
		errs = append(errs, errors.New("attribution.token_validity_hours must be positive"))
	}
	if c.Attribution.DefaultMaxDistanceKm <= 0 {
		errs = append(errs, errors.New("attribution.default_max_distance_km must be positive"))
	}
	if c.Attribution.NotifyConcurrency < 1 {
		errs = append(errs, errors.New("attribution.notify_concurrency must be positive"))
	}
	if c.Worker.EscalationIntervalSeconds < 1 || c.Worker.BatchSize < 1 {
		errs = append(errs, errors.New("worker.escalation_interval_seconds and worker.batch_size must be positive"))
	}
	return errors.Join(errs...)
}
