package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full SquadFlow configuration.
type Config struct {
	// Log controls structured logging.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Database is the relational store holding conversations, rules, squads.
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Redis backs the stream messenger. Ignored when Messenger is "memory".
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Messenger picks the delivery backend: "redis" or "memory".
	Messenger string `yaml:"messenger" env:"MESSENGER"`

	// Engine holds conversation and escalation timing.
	Engine EngineConfig `yaml:"engine" env:"ENGINE"`

	// Sweeper controls the periodic overdue-conversation scan.
	Sweeper SweeperConfig `yaml:"sweeper" env:"SWEEPER"`

	// Metrics controls the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// Telemetry controls OpenTelemetry export.
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// LogConfig controls zap logger construction.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json, console.
	Format string `yaml:"format" env:"FORMAT"`
	// OutputPaths are zap output sinks.
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// DatabaseConfig describes the relational store connection.
type DatabaseConfig struct {
	// Driver: postgres, mysql, sqlite.
	Driver string `yaml:"driver" env:"DRIVER"`
	Host   string `yaml:"host" env:"HOST"`
	Port   int    `yaml:"port" env:"PORT"`
	User   string `yaml:"user" env:"USER"`
	// Password is normally injected via SQUADFLOW_DATABASE_PASSWORD.
	Password string `yaml:"password" env:"PASSWORD"`
	// Name is the database name, or the file path for sqlite.
	Name    string `yaml:"name" env:"NAME"`
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`

	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// DSN returns the driver-specific connection string.
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}

// RedisConfig describes the stream messenger backend.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	// KeyPrefix namespaces all stream keys.
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// StreamMaxLen caps each inbox stream, approximately.
	StreamMaxLen int64 `yaml:"stream_max_len" env:"STREAM_MAX_LEN"`
	// SendRate / SendBurst throttle outbound delivery per instance.
	SendRate  float64 `yaml:"send_rate" env:"SEND_RATE"`
	SendBurst int     `yaml:"send_burst" env:"SEND_BURST"`
}

// EngineConfig holds conversation and escalation timing.
type EngineConfig struct {
	// InitialTimeout is the responder's deadline from initiation and again
	// from acknowledgment.
	InitialTimeout time.Duration `yaml:"initial_timeout" env:"INITIAL_TIMEOUT"`
	// FollowUpTimeout is the shorter deadline after a reminder.
	FollowUpTimeout time.Duration `yaml:"follow_up_timeout" env:"FOLLOW_UP_TIMEOUT"`
	// EscalationTimeout is the fresh deadline granted on escalation.
	EscalationTimeout time.Duration `yaml:"escalation_timeout" env:"ESCALATION_TIMEOUT"`
	// MaxRetries is how many timeouts a conversation absorbs before the
	// sweeper escalates instead of reminding.
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// MaxEscalationLevels caps escalation chain walks.
	MaxEscalationLevels int `yaml:"max_escalation_levels" env:"MAX_ESCALATION_LEVELS"`
}

// SweeperConfig controls the periodic deadline sweep.
type SweeperConfig struct {
	// Interval between sweeps.
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
	// Concurrency bounds how many overdue conversations are handled at once.
	Concurrency int `yaml:"concurrency" env:"CONCURRENCY"`
	// BatchLimit caps conversations considered per sweep; 0 means no cap.
	BatchLimit int `yaml:"batch_limit" env:"BATCH_LIMIT"`
	// Retention is how long terminal conversations are kept before purge;
	// 0 disables purging.
	Retention time.Duration `yaml:"retention" env:"RETENTION"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	Port    int  `yaml:"port" env:"PORT"`
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Loader loads configuration with builder-style options.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the default env prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "SQUADFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file path. A missing file is not an error.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator appends a validation function run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves configuration. Precedence: defaults, then YAML file, then
// environment variables.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads configuration from a path, panicking on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv loads configuration from defaults and environment only.
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	var errs []string

	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("unknown database driver %q", c.Database.Driver))
	}
	switch c.Messenger {
	case "redis", "memory":
	default:
		errs = append(errs, fmt.Sprintf("unknown messenger backend %q", c.Messenger))
	}
	if c.Engine.InitialTimeout <= 0 {
		errs = append(errs, "engine.initial_timeout must be positive")
	}
	if c.Engine.FollowUpTimeout <= 0 {
		errs = append(errs, "engine.follow_up_timeout must be positive")
	}
	if c.Engine.MaxRetries < 0 {
		errs = append(errs, "engine.max_retries must not be negative")
	}
	if c.Sweeper.Interval <= 0 {
		errs = append(errs, "sweeper.interval must be positive")
	}
	if c.Sweeper.Concurrency <= 0 {
		errs = append(errs, "sweeper.concurrency must be positive")
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		errs = append(errs, "invalid metrics port")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
