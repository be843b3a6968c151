package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App         AppSettings         `mapstructure:"app"`
	Postgres    PostgresSettings    `mapstructure:"postgres"`
	Redis       RedisSettings       `mapstructure:"redis"`
	Kafka       KafkaSettings       `mapstructure:"kafka"`
	JWT         JWTSettings         `mapstructure:"jwt"`
	Lockout     LockoutSettings     `mapstructure:"lockout"`
	OTP         OTPSettings         `mapstructure:"otp"`
	History     HistorySettings     `mapstructure:"history"`
	RateLimit   RateLimitSettings   `mapstructure:"rate_limit"`
	Argon2      Argon2Settings      `mapstructure:"argon2"`
	Telemetry   TelemetrySettings   `mapstructure:"telemetry"`
	Maintenance MaintenanceSettings `mapstructure:"maintenance"`
}

type AppSettings struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// RedisSettings configures the Redis connection backing the sliding-window
// reset limiter.
type RedisSettings struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	DB         int    `mapstructure:"db"`
	Password   string `mapstructure:"password"`
	TLSEnabled bool   `mapstructure:"tls_enabled"`
}

// KafkaSettings configures the producer behind the audit and notification
// sinks.
type KafkaSettings struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	Async       bool     `mapstructure:"async"`
}

type JWTSettings struct {
	KeyDirectory    string        `mapstructure:"key_directory"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
	PreAuthTokenTTL time.Duration `mapstructure:"pre_auth_token_ttl"`
}

// LockoutSettings tunes the failed-authentication lockout window.
type LockoutSettings struct {
	Threshold int           `mapstructure:"threshold"`
	Window    time.Duration `mapstructure:"window"`
}

// OTPSettings tunes one-time code challenges.
type OTPSettings struct {
	CodeLength  int           `mapstructure:"code_length"`
	TTL         time.Duration `mapstructure:"ttl"`
	Cooldown    time.Duration `mapstructure:"cooldown"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// HistorySettings tunes credential reuse prevention.
type HistorySettings struct {
	Limit int `mapstructure:"limit"`
}

// RateLimitSettings configures the best-effort limiters in front of
// abuse-prone entry points.
type RateLimitSettings struct {
	ResetWindow           time.Duration `mapstructure:"reset_window"`
	ResetMaxAttempts      int           `mapstructure:"reset_max_attempts"`
	AvailabilityWindow    time.Duration `mapstructure:"availability_window"`
	AvailabilityMaxChecks int           `mapstructure:"availability_max_checks"`
	SweepInterval         time.Duration `mapstructure:"sweep_interval"`
}

// Argon2Settings configures Argon2id credential hashing parameters.
type Argon2Settings struct {
	Memory      uint32 `mapstructure:"memory"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
}

type TelemetrySettings struct {
	MetricsPort  int     `mapstructure:"metrics_port"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

// MaintenanceSettings tunes the background sweeps outside the request path.
type MaintenanceSettings struct {
	Interval           time.Duration `mapstructure:"interval"`
	ChallengeRetention time.Duration `mapstructure:"challenge_retention"`
	GrantRetention     time.Duration `mapstructure:"grant_retention"`
	DormancyThreshold  time.Duration `mapstructure:"dormancy_threshold"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("IDENTITY")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.async",
		"jwt.key_directory",
		"jwt.access_token_ttl",
		"jwt.refresh_token_ttl",
		"jwt.pre_auth_token_ttl",
		"lockout.threshold",
		"lockout.window",
		"otp.code_length",
		"otp.ttl",
		"otp.cooldown",
		"otp.max_attempts",
		"history.limit",
		"rate_limit.reset_window",
		"rate_limit.reset_max_attempts",
		"rate_limit.availability_window",
		"rate_limit.availability_max_checks",
		"rate_limit.sweep_interval",
		"argon2.memory",
		"argon2.iterations",
		"argon2.parallelism",
		"argon2.salt_length",
		"argon2.key_length",
		"telemetry.metrics_port",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
		"maintenance.interval",
		"maintenance.challenge_retention",
		"maintenance.grant_retention",
		"maintenance.dormancy_threshold",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "identity-core")
	v.SetDefault("app.env", "development")

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "identity")
	v.SetDefault("postgres.password", "identity_password")
	v.SetDefault("postgres.database", "identity")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_prefix", "identity")
	v.SetDefault("kafka.async", true)

	v.SetDefault("jwt.key_directory", "./secrets")
	v.SetDefault("jwt.access_token_ttl", "60m")
	v.SetDefault("jwt.refresh_token_ttl", "168h")
	v.SetDefault("jwt.pre_auth_token_ttl", "5m")

	v.SetDefault("lockout.threshold", 5)
	v.SetDefault("lockout.window", "5m")

	v.SetDefault("otp.code_length", 6)
	v.SetDefault("otp.ttl", "5m")
	v.SetDefault("otp.cooldown", "60s")
	v.SetDefault("otp.max_attempts", 3)

	v.SetDefault("history.limit", 5)

	v.SetDefault("rate_limit.reset_window", "1h")
	v.SetDefault("rate_limit.reset_max_attempts", 3)
	v.SetDefault("rate_limit.availability_window", "1m")
	v.SetDefault("rate_limit.availability_max_checks", 20)
	v.SetDefault("rate_limit.sweep_interval", "5m")

	v.SetDefault("argon2.memory", 65536) // 64 MB
	v.SetDefault("argon2.iterations", 3)
	v.SetDefault("argon2.parallelism", 4)
	v.SetDefault("argon2.salt_length", 16)
	v.SetDefault("argon2.key_length", 32)

	v.SetDefault("telemetry.metrics_port", 9090)
	v.SetDefault("telemetry.otlp_endpoint", "http://localhost:4318")
	v.SetDefault("telemetry.service_name", "identity-core")
	v.SetDefault("telemetry.sampling_rate", 1.0)

	v.SetDefault("maintenance.interval", "1h")
	v.SetDefault("maintenance.challenge_retention", "24h")
	v.SetDefault("maintenance.grant_retention", "720h")
	v.SetDefault("maintenance.dormancy_threshold", "4320h")
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "IDENTITY_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
