package config

import (
	"net"
	"net/url"
	"strconv"
	"time"
)

// Config is the resolved settings snapshot for the C.H.A.O.S server. A *Config
// returned by a Resolver is shared by every component and is never mutated.
type Config struct {
	Environment string          `mapstructure:"environment" json:"environment" validate:"oneof=development staging production test"`
	ProjectName string          `mapstructure:"project_name" json:"project_name" validate:"required"`
	Version     string          `mapstructure:"version" json:"version"`
	Server      ServerConfig    `mapstructure:"server" json:"server"`
	Security    SecurityConfig  `mapstructure:"security" json:"security"`
	Database    DatabaseConfig  `mapstructure:"database" json:"database"`
	Voice       VoiceConfig     `mapstructure:"voice" json:"voice"`
	AI          AIConfig        `mapstructure:"ai" json:"ai"`
	RateLimit   RateLimitConfig `mapstructure:"ratelimit" json:"ratelimit"`
	Telemetry   TelemetryConfig `mapstructure:"telemetry" json:"telemetry"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host" json:"host"`
	Port            int           `mapstructure:"port" json:"port" validate:"min=1,max=65535"`
	Debug           bool          `mapstructure:"debug" json:"debug"`
	APIPrefix       string        `mapstructure:"api_prefix" json:"api_prefix" validate:"startswith=/"`
	CORSOrigins     []string      `mapstructure:"cors_origins" json:"cors_origins"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" json:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" json:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" json:"shutdown_timeout" validate:"gt=0"`
}

type SecurityConfig struct {
	SecretKey         string        `mapstructure:"secret_key" json:"secret_key"`
	AccessTokenExpire time.Duration `mapstructure:"access_token_expire" json:"access_token_expire" validate:"gt=0"`
	Algorithm         string        `mapstructure:"algorithm" json:"algorithm" validate:"oneof=HS256 HS384 HS512"`
}

// DatabaseConfig carries both the connection target and the pool shape. URL is
// derived from the individual parts during resolution when not set explicitly.
type DatabaseConfig struct {
	URL      string `mapstructure:"url" json:"url"`
	Host     string `mapstructure:"host" json:"host"`
	Port     int    `mapstructure:"port" json:"port" validate:"min=1,max=65535"`
	User     string `mapstructure:"user" json:"user"`
	Password string `mapstructure:"password" json:"password"`
	Name     string `mapstructure:"name" json:"name"`
	SSLMode  string `mapstructure:"ssl_mode" json:"ssl_mode" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`

	PoolSize      int           `mapstructure:"pool_size" json:"pool_size" validate:"gt=0"`
	MaxOverflow   int           `mapstructure:"max_overflow" json:"max_overflow" validate:"gte=0"`
	PoolTimeout   time.Duration `mapstructure:"pool_timeout" json:"pool_timeout" validate:"gt=0"`
	PoolRecycle   time.Duration `mapstructure:"pool_recycle" json:"pool_recycle" validate:"gte=0"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout" json:"idle_timeout" validate:"gte=0"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout" json:"probe_timeout" validate:"gt=0"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace" json:"shutdown_grace" validate:"gte=0"`
	Echo          bool          `mapstructure:"echo" json:"echo"`
}

type VoiceConfig struct {
	SampleRate  int           `mapstructure:"sample_rate" json:"sample_rate" validate:"gt=0"`
	Channels    int           `mapstructure:"channels" json:"channels" validate:"min=1,max=8"`
	ChunkSize   int           `mapstructure:"chunk_size" json:"chunk_size" validate:"gt=0"`
	Format      string        `mapstructure:"format" json:"format" validate:"oneof=wav ogg mp3 flac"`
	MaxDuration time.Duration `mapstructure:"max_duration" json:"max_duration" validate:"gt=0"`
	StoragePath string        `mapstructure:"storage_path" json:"storage_path"`
}

// AIConfig describes the local Ollama-style model backend.
type AIConfig struct {
	Enabled      bool          `mapstructure:"enabled" json:"enabled"`
	Model        string        `mapstructure:"model" json:"model"`
	Host         string        `mapstructure:"host" json:"host"`
	Port         int           `mapstructure:"port" json:"port" validate:"min=1,max=65535"`
	Temperature  float64       `mapstructure:"temperature" json:"temperature" validate:"gte=0,lte=2"`
	MaxTokens    int           `mapstructure:"max_tokens" json:"max_tokens" validate:"gt=0"`
	PrePrompt    string        `mapstructure:"pre_prompt" json:"pre_prompt"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout" json:"probe_timeout" validate:"gt=0"`
}

// BaseURL returns the HTTP base address of the AI backend.
func (a AIConfig) BaseURL() string {
	return "http://" + net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

type RateLimitConfig struct {
	Enabled       bool          `mapstructure:"enabled" json:"enabled"`
	Limit         int64         `mapstructure:"limit" json:"limit" validate:"gt=0"`
	Period        time.Duration `mapstructure:"period" json:"period" validate:"gt=0"`
	Prefix        string        `mapstructure:"prefix" json:"prefix"`
	RedisAddr     string        `mapstructure:"redis_addr" json:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password" json:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db" json:"redis_db" validate:"gte=0"`
}

type TelemetryConfig struct {
	OTLPEndpoint  string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	OTLPInsecure  bool   `mapstructure:"otlp_insecure" json:"otlp_insecure"`
	ServiceName   string `mapstructure:"service_name" json:"service_name"`
	LogLevel      string `mapstructure:"log_level" json:"log_level" validate:"oneof=debug info warn warning error DEBUG INFO WARN WARNING ERROR"`
	LogFormat     string `mapstructure:"log_format" json:"log_format" validate:"oneof=json console"`
	LogFile       string `mapstructure:"log_file" json:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb" json:"log_max_size_mb" validate:"gte=0"`
	LogMaxBackups int    `mapstructure:"log_max_backups" json:"log_max_backups" validate:"gte=0"`
	LogMaxAgeDays int    `mapstructure:"log_max_age_days" json:"log_max_age_days" validate:"gte=0"`
}

// IsProduction reports whether the snapshot targets a production deployment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// ComposeURL builds a postgres:// connection URL from the individual parts.
func (d DatabaseConfig) ComposeURL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   "/" + d.Name,
	}
	if d.SSLMode != "" {
		q := url.Values{}
		q.Set("sslmode", d.SSLMode)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// Redacted returns a copy of c with secret material masked, suitable for logs.
func (c *Config) Redacted() Config {
	out := *c
	out.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	if out.Security.SecretKey != "" {
		out.Security.SecretKey = redactedMask
	}
	if out.Database.Password != "" {
		out.Database.Password = redactedMask
	}
	if out.RateLimit.RedisPassword != "" {
		out.RateLimit.RedisPassword = redactedMask
	}
	if u, err := url.Parse(out.Database.URL); err == nil {
		out.Database.URL = u.Redacted()
	}
	return out
}

const redactedMask = "xxxxx"
