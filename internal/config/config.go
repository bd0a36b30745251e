package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the full configuration surface for the application.
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	Postgres     PostgresConfig     `mapstructure:"postgres"`
	Scylla       ScyllaConfig       `mapstructure:"scylla"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Backoff      BackoffConfig      `mapstructure:"backoff"`
	Tenant       TenantConfig       `mapstructure:"tenant"`
	WebhookRetry WebhookRetryConfig `mapstructure:"webhook_retry"`
	CallBridge   CallBridgeConfig   `mapstructure:"call_bridge"`
}

type AppConfig struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

type ScyllaConfig struct {
	Hosts       []string      `mapstructure:"hosts"`
	Port        int           `mapstructure:"port"`
	Keyspace    string        `mapstructure:"keyspace"`
	Consistency string        `mapstructure:"consistency"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type KafkaConfig struct {
	Brokers        []string      `mapstructure:"brokers"`
	ClientID       string        `mapstructure:"client_id"`
	AlertTopic     string        `mapstructure:"alert_topic"`
	EventTopic     string        `mapstructure:"event_topic"`
	CommitInterval time.Duration `mapstructure:"commit_interval"`
}

type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type TelemetryConfig struct {
	Endpoint        string        `mapstructure:"endpoint"`
	ServiceName     string        `mapstructure:"service_name"`
	SampleRatio     float64       `mapstructure:"sample_ratio"`
	TracingEnabled  bool          `mapstructure:"tracing_enabled"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type SchedulerConfig struct {
	TickInterval   time.Duration `mapstructure:"tick_interval"`
	MaxBatchSize   int           `mapstructure:"max_batch_size"`
	CallingCeiling time.Duration `mapstructure:"calling_ceiling"`
	CampaignLimit  int           `mapstructure:"campaign_limit"`
}

// BackoffConfig is the retry delay policy. Strategy is "fixed" or
// "exponential"; jitter is a fraction of the computed delay.
type BackoffConfig struct {
	Strategy  string        `mapstructure:"strategy"`
	BaseDelay time.Duration `mapstructure:"base_delay"`
	MaxDelay  time.Duration `mapstructure:"max_delay"`
	Jitter    float64       `mapstructure:"jitter"`
}

// TenantConfig provides defaults used when a tenant has no settings row.
type TenantConfig struct {
	DefaultConcurrency int    `mapstructure:"default_concurrency"`
	DefaultDailyCap    int    `mapstructure:"default_daily_cap"`
	DefaultMaxAttempts int    `mapstructure:"default_max_attempts"`
	QuotaBoundary      string `mapstructure:"quota_boundary"` // "utc" or "tenant_local"
}

type WebhookRetryConfig struct {
	TickInterval   time.Duration `mapstructure:"tick_interval"`
	BatchSize      int           `mapstructure:"batch_size"`
	GiveUpAfter    int           `mapstructure:"give_up_after"`
	RetentionDays  int           `mapstructure:"retention_days"`
	AlarmThreshold int64         `mapstructure:"alarm_threshold"`
}

type CallBridgeConfig struct {
	ProviderName   string        `mapstructure:"provider_name"`
	AgentID        string        `mapstructure:"agent_id"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("DIALER")
	v.SetEnvKeyReplacer(NewEnvReplacer())

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// NewEnvReplacer standardizes environment variable names.
func NewEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_", "-", "_")
}
