package config

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Options selects the optional override sources consulted by Load.
type Options struct {
	// File is an optional whole-document YAML file. When set it must exist.
	File string
	// Dir holds optional per-section files such as database.yaml or ai.yaml.
	Dir string
	// EnvFile is an optional dotenv file. A missing file is ignored.
	EnvFile string
	// Logger receives resolution warnings. Defaults to slog.Default().
	Logger *slog.Logger
}

// Resolver memoizes a single resolution of the configuration sources.
type Resolver struct {
	opts Options

	once sync.Once
	cfg  *Config
	err  error
}

// NewResolver returns a Resolver that reads from opts on the first Resolve call.
func NewResolver(opts Options) *Resolver {
	return &Resolver{opts: opts}
}

// Resolve returns the settings snapshot, loading it on the first call only.
// Later calls return the identical pointer (or the identical error) without
// touching any source again.
func (r *Resolver) Resolve() (*Config, error) {
	r.once.Do(func() {
		r.cfg, r.err = Load(r.opts)
	})
	return r.cfg, r.err
}

// sectionFiles lists the per-section override files in merge order. The
// ollama alias is merged before ai so that ai.yaml wins when both exist.
var sectionFiles = []struct{ base, section string }{
	{"ollama", "ai"},
	{"server", "server"},
	{"security", "security"},
	{"database", "database"},
	{"voice", "voice"},
	{"ai", "ai"},
	{"ratelimit", "ratelimit"},
	{"telemetry", "telemetry"},
}

// Load reads config in increasing precedence: defaults, the optional YAML file,
// per-section files in Dir, the dotenv file, then environment variables
// (CHAOS_<SECTION>_<KEY> or the bare legacy names such as DB_HOST).
func Load(opts Options) (*Config, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	v := viper.New()
	setDefaults(v)

	if opts.File != "" {
		v.SetConfigFile(opts.File)
		if err := v.ReadInConfig(); err != nil {
			return nil, &Error{Source: opts.File, Err: err}
		}
	}

	if opts.Dir != "" {
		if err := mergeSectionFiles(v, opts.Dir); err != nil {
			return nil, err
		}
	}

	if opts.EnvFile != "" {
		if err := mergeDotenv(v, opts.EnvFile); err != nil {
			return nil, err
		}
	}

	for _, key := range v.AllKeys() {
		if err := v.BindEnv(append([]string{key}, envNames(key)...)...); err != nil {
			return nil, &Error{Source: "environment", Err: err}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsDurationHook,
		stringSliceHook,
	))); err != nil {
		return nil, &Error{Source: "decode", Err: err}
	}

	if err := deriveDatabaseURL(&cfg.Database); err != nil {
		return nil, &Error{Source: "database.url", Err: err}
	}

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(&cfg); err != nil {
		return nil, &Error{Source: "validation", Err: err}
	}

	if cfg.Security.SecretKey == "" {
		secret, err := generateSecret()
		if err != nil {
			return nil, fmt.Errorf("generating secret key: %w", err)
		}
		cfg.Security.SecretKey = secret
		logger.Warn("SECRET_KEY not set, generated an ephemeral key; sessions will not survive a restart")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("project_name", "C.H.A.O.S")
	v.SetDefault("version", "1.0.0")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.debug", false)
	v.SetDefault("server.api_prefix", "/api")
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000", "http://localhost:8080"})
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("security.secret_key", "")
	v.SetDefault("security.access_token_expire", 24*time.Hour)
	v.SetDefault("security.algorithm", "HS256")

	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "chaos_user")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "chaos_db")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 5)
	v.SetDefault("database.max_overflow", 10)
	v.SetDefault("database.pool_timeout", 30*time.Second)
	v.SetDefault("database.pool_recycle", 30*time.Minute)
	v.SetDefault("database.idle_timeout", 10*time.Minute)
	v.SetDefault("database.probe_timeout", 5*time.Second)
	v.SetDefault("database.shutdown_grace", 10*time.Second)
	v.SetDefault("database.echo", false)

	v.SetDefault("voice.sample_rate", 44100)
	v.SetDefault("voice.channels", 1)
	v.SetDefault("voice.chunk_size", 1024)
	v.SetDefault("voice.format", "wav")
	v.SetDefault("voice.max_duration", 5*time.Minute)
	v.SetDefault("voice.storage_path", "storage/voice")

	v.SetDefault("ai.enabled", true)
	v.SetDefault("ai.model", "llama3.2")
	v.SetDefault("ai.host", "localhost")
	v.SetDefault("ai.port", 11434)
	v.SetDefault("ai.temperature", 0.7)
	v.SetDefault("ai.max_tokens", 2048)
	v.SetDefault("ai.pre_prompt", "You are an AI assistant for the CHAOS voice messaging platform.")
	v.SetDefault("ai.probe_timeout", 3*time.Second)

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.limit", 100)
	v.SetDefault("ratelimit.period", time.Minute)
	v.SetDefault("ratelimit.prefix", "chaos:ratelimit")
	v.SetDefault("ratelimit.redis_addr", "")
	v.SetDefault("ratelimit.redis_password", "")
	v.SetDefault("ratelimit.redis_db", 0)

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.otlp_insecure", true)
	v.SetDefault("telemetry.service_name", "chaos-server")
	v.SetDefault("telemetry.log_level", "info")
	v.SetDefault("telemetry.log_format", "json")
	v.SetDefault("telemetry.log_file", "")
	v.SetDefault("telemetry.log_max_size_mb", 100)
	v.SetDefault("telemetry.log_max_backups", 30)
	v.SetDefault("telemetry.log_max_age_days", 30)
}

// legacyEnv lists the bare variable names accepted next to the prefixed form.
var legacyEnv = map[string][]string{
	"environment":  {"ENVIRONMENT"},
	"project_name": {"PROJECT_NAME"},

	"server.host":         {"HOST"},
	"server.port":         {"PORT"},
	"server.debug":        {"DEBUG"},
	"server.cors_origins": {"CORS_ORIGINS"},

	"security.secret_key": {"SECRET_KEY"},
	"security.algorithm":  {"ALGORITHM"},

	"database.url":            {"DATABASE_URL"},
	"database.host":           {"DB_HOST"},
	"database.port":           {"DB_PORT"},
	"database.user":           {"DB_USER"},
	"database.password":       {"DB_PASSWORD"},
	"database.name":           {"DB_NAME"},
	"database.ssl_mode":       {"DB_SSL_MODE"},
	"database.pool_size":      {"DB_POOL_SIZE"},
	"database.max_overflow":   {"DB_MAX_OVERFLOW"},
	"database.pool_timeout":   {"DB_POOL_TIMEOUT"},
	"database.pool_recycle":   {"DB_POOL_RECYCLE"},
	"database.idle_timeout":   {"DB_POOL_IDLE_TIMEOUT"},
	"database.probe_timeout":  {"DB_PROBE_TIMEOUT"},
	"database.shutdown_grace": {"DB_SHUTDOWN_GRACE"},
	"database.echo":           {"SQL_ECHO"},

	"voice.sample_rate":  {"VOICE_SAMPLE_RATE"},
	"voice.channels":     {"VOICE_CHANNELS"},
	"voice.chunk_size":   {"VOICE_CHUNK_SIZE"},
	"voice.format":       {"VOICE_FORMAT"},
	"voice.max_duration": {"VOICE_MAX_DURATION"},
	"voice.storage_path": {"VOICE_STORAGE_PATH"},

	"ai.enabled":     {"AI_ENABLED"},
	"ai.model":       {"AI_MODEL"},
	"ai.host":        {"AI_HOST"},
	"ai.port":        {"AI_PORT"},
	"ai.temperature": {"AI_TEMPERATURE"},
	"ai.max_tokens":  {"AI_MAX_TOKENS"},
	"ai.pre_prompt":  {"AI_PRE_PROMPT"},

	"ratelimit.enabled":        {"RATE_LIMIT_ENABLED"},
	"ratelimit.limit":          {"RATE_LIMIT"},
	"ratelimit.period":         {"RATE_LIMIT_PERIOD"},
	"ratelimit.redis_addr":     {"REDIS_ADDR"},
	"ratelimit.redis_password": {"REDIS_PASSWORD"},
	"ratelimit.redis_db":       {"REDIS_DB"},

	"telemetry.otlp_endpoint": {"OTEL_EXPORTER_OTLP_ENDPOINT"},
	"telemetry.log_level":     {"LOG_LEVEL"},
	"telemetry.log_format":    {"LOG_FORMAT"},
	"telemetry.log_file":      {"LOG_FILE"},
}

// envNames returns the environment variable names for key, highest priority first.
func envNames(key string) []string {
	prefixed := "CHAOS_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
	return append([]string{prefixed}, legacyEnv[key]...)
}

func mergeSectionFiles(v *viper.Viper, dir string) error {
	for _, sf := range sectionFiles {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, sf.base+ext)
			if _, err := os.Stat(path); err != nil {
				if errors.Is(err, os.ErrNotExist) {
					continue
				}
				return &Error{Source: path, Err: err}
			}

			sub := viper.New()
			sub.SetConfigFile(path)
			if err := sub.ReadInConfig(); err != nil {
				return &Error{Source: path, Err: err}
			}
			if err := v.MergeConfigMap(map[string]any{sf.section: sub.AllSettings()}); err != nil {
				return &Error{Source: path, Err: err}
			}
		}
	}
	return nil
}

func mergeDotenv(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	vals, err := godotenv.Read(path)
	if err != nil {
		return &Error{Source: path, Err: err}
	}

	layer := map[string]any{}
	for _, key := range v.AllKeys() {
		for _, name := range envNames(key) {
			if val, ok := vals[name]; ok && val != "" {
				setNested(layer, key, val)
				break
			}
		}
	}
	if len(layer) == 0 {
		return nil
	}
	if err := v.MergeConfigMap(layer); err != nil {
		return &Error{Source: path, Err: err}
	}
	return nil
}

func setNested(m map[string]any, key string, val any) {
	parts := strings.Split(key, ".")
	for _, p := range parts[:len(parts)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[p] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = val
}

var durationType = reflect.TypeOf(time.Duration(0))

// secondsDurationHook decodes durations from Go duration strings and from bare
// integers, which are read as seconds (DB_POOL_TIMEOUT=30).
func secondsDurationHook(f, t reflect.Type, data any) (any, error) {
	if t != durationType || f == durationType {
		return data, nil
	}

	switch f.Kind() {
	case reflect.String:
		s := strings.TrimSpace(data.(string))
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.Duration(n) * time.Second, nil
		}
		return time.ParseDuration(s)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return time.Duration(reflect.ValueOf(data).Int()) * time.Second, nil
	case reflect.Float32, reflect.Float64:
		return time.Duration(reflect.ValueOf(data).Float() * float64(time.Second)), nil
	default:
		return data, nil
	}
}

// stringSliceHook accepts comma separated lists and JSON arrays.
func stringSliceHook(f, t reflect.Type, data any) (any, error) {
	if f.Kind() != reflect.String || t.Kind() != reflect.Slice || t.Elem().Kind() != reflect.String {
		return data, nil
	}

	s := strings.TrimSpace(data.(string))
	if s == "" {
		return []string{}, nil
	}
	if strings.HasPrefix(s, "[") {
		var out []string
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, fmt.Errorf("parsing list %q: %w", s, err)
		}
		return out, nil
	}

	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out, nil
}

// deriveDatabaseURL composes the URL from its parts when absent, otherwise
// normalizes the scheme and back-fills the parts from the URL.
func deriveDatabaseURL(d *DatabaseConfig) error {
	if d.URL == "" {
		d.URL = d.ComposeURL()
		return nil
	}

	u, err := url.Parse(d.URL)
	if err != nil {
		return err
	}

	// postgresql+asyncpg:// and friends carry a driver suffix.
	scheme, _, _ := strings.Cut(u.Scheme, "+")
	if scheme != "postgres" && scheme != "postgresql" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Scheme = "postgres"

	if h := u.Hostname(); h != "" {
		d.Host = h
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid port %q: %w", p, err)
		}
		d.Port = port
	}
	if u.User != nil {
		d.User = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			d.Password = pw
		}
	}
	if name := strings.TrimPrefix(u.Path, "/"); name != "" {
		d.Name = name
	}
	if mode := u.Query().Get("sslmode"); mode != "" {
		d.SSLMode = mode
	}

	d.URL = u.String()
	return nil
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
