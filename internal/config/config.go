// Package config handles application configuration loading from a YAML file
// with environment variable overrides.
package config

import (
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	contextutils "mcqgen/internal/utils"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server        ServerConfig        `json:"server" yaml:"server"`
	Database      DatabaseConfig      `json:"database" yaml:"database"`
	Redis         RedisConfig         `json:"redis" yaml:"redis"`
	Oracles       OraclesConfig       `json:"oracles" yaml:"oracles"`
	Embedder      EmbedderConfig      `json:"embedder" yaml:"embedder"`
	Generation    GenerationConfig    `json:"generation" yaml:"generation"`
	Dedup         DedupConfig         `json:"dedup" yaml:"dedup"`
	Verifier      VerifierConfig      `json:"verifier" yaml:"verifier"`
	Auth          AuthConfig          `json:"auth" yaml:"auth"`
	OpenTelemetry OpenTelemetryConfig `json:"open_telemetry" yaml:"open_telemetry"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Port            string   `json:"port" yaml:"port"`
	WorkerPort      string   `json:"worker_port" yaml:"worker_port"`
	SessionSecret   string   `json:"session_secret" yaml:"session_secret"`
	Debug           bool     `json:"debug" yaml:"debug"`
	LogLevel        string   `json:"log_level" yaml:"log_level"`
	MaxAIConcurrent int      `json:"max_ai_concurrent" yaml:"max_ai_concurrent" validate:"gte=1"`
	CORSOrigins     []string `json:"cors_origins" yaml:"cors_origins"`
	MaxHistory      int      `json:"max_history" yaml:"max_history"`
	MaxActivityLogs int      `json:"max_activity_logs" yaml:"max_activity_logs"`
	// RequestsPerSecond and RequestBurst bound each client IP; 0 disables the limiter.
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second" validate:"gte=0"`
	RequestBurst      int     `json:"request_burst" yaml:"request_burst" validate:"gte=0"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	URL             string        `json:"url" yaml:"url"`
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// RedisConfig configures the similarity index snapshot store. An empty Addr
// keeps the index purely in memory.
type RedisConfig struct {
	Addr        string        `json:"addr" yaml:"addr"`
	Password    string        `json:"password" yaml:"password"`
	DB          int           `json:"db" yaml:"db"`
	SnapshotKey string        `json:"snapshot_key" yaml:"snapshot_key"`
	DialTimeout time.Duration `json:"dial_timeout" yaml:"dial_timeout"`
}

// OracleConfig describes one text completion endpoint.
type OracleConfig struct {
	// Provider is one of "llama" (OpenAI compatible completions over HTTP),
	// "openai" or "gemini".
	Provider          string        `json:"provider" yaml:"provider" validate:"omitempty,oneof=llama openai gemini"`
	URL               string        `json:"url" yaml:"url"`
	Model             string        `json:"model" yaml:"model"`
	APIKey            string        `json:"api_key" yaml:"api_key"`
	RequestsPerMinute int           `json:"requests_per_minute" yaml:"requests_per_minute" validate:"gte=0"`
	Timeout           time.Duration `json:"timeout" yaml:"timeout"`
}

// Enabled reports whether the oracle has a provider configured
func (o OracleConfig) Enabled() bool {
	return o.Provider != ""
}

// OraclesConfig groups the generation, fallback and judging oracles
type OraclesConfig struct {
	Primary      OracleConfig `json:"primary" yaml:"primary"`
	Secondary    OracleConfig `json:"secondary" yaml:"secondary"`
	Verification OracleConfig `json:"verification" yaml:"verification"`
}

// EmbedderConfig configures the OpenAI compatible embeddings endpoint
type EmbedderConfig struct {
	URL    string `json:"url" yaml:"url"`
	Model  string `json:"model" yaml:"model"`
	APIKey string `json:"api_key" yaml:"api_key"`
}

// GenerationConfig holds the knobs of the adaptive generation loop
type GenerationConfig struct {
	Subject              string  `json:"subject" yaml:"subject"`
	BatchSize            int     `json:"batch_size" yaml:"batch_size" validate:"gte=1"`
	MaxRetriesAdaptive   int     `json:"max_retries_adaptive" yaml:"max_retries_adaptive" validate:"gte=1"`
	MaxRetriesStandard   int     `json:"max_retries_standard" yaml:"max_retries_standard" validate:"gte=1"`
	MaxFailedBatches     int     `json:"max_failed_batches" yaml:"max_failed_batches" validate:"gte=1"`
	ContextSize          int     `json:"context_size" yaml:"context_size" validate:"gte=0"`
	ContextWindow        int     `json:"context_window" yaml:"context_window" validate:"gte=1"`
	MaxCompletionTokens  int     `json:"max_completion_tokens" yaml:"max_completion_tokens" validate:"gte=1"`
	TokenReserve         int     `json:"token_reserve" yaml:"token_reserve" validate:"gte=0"`
	Temperature          float64 `json:"temperature" yaml:"temperature" validate:"gte=0,lte=2"`
	TopP                 float64 `json:"top_p" yaml:"top_p" validate:"gt=0,lte=1"`
	DefaultQuestionCount int     `json:"default_question_count" yaml:"default_question_count" validate:"gte=1"`
	MaxQuestionCount     int     `json:"max_question_count" yaml:"max_question_count" validate:"gtefield=DefaultQuestionCount"`
}

// DedupConfig holds similarity thresholds used to reject near duplicates
type DedupConfig struct {
	GlobalThreshold  float64 `json:"global_threshold" yaml:"global_threshold" validate:"gt=0,lte=1"`
	BatchThreshold   float64 `json:"batch_threshold" yaml:"batch_threshold" validate:"gt=0,lte=1"`
	HistoryThreshold float64 `json:"history_threshold" yaml:"history_threshold" validate:"gt=0,lte=1"`
	GlobalNeighbors  int     `json:"global_neighbors" yaml:"global_neighbors" validate:"gte=1"`
	HistoryQuizzes   int     `json:"history_quizzes" yaml:"history_quizzes" validate:"gte=1"`
}

// VerifierConfig configures answer verification and the background sweep
type VerifierConfig struct {
	InterCallDelay   time.Duration `json:"inter_call_delay" yaml:"inter_call_delay"`
	RateLimitBackoff time.Duration `json:"rate_limit_backoff" yaml:"rate_limit_backoff"`
	SweepInterval    time.Duration `json:"sweep_interval" yaml:"sweep_interval"`
	SweepBatch       int           `json:"sweep_batch" yaml:"sweep_batch" validate:"gte=1"`
	StartPaused      bool          `json:"start_paused" yaml:"start_paused"`
}

// AuthConfig represents token authentication configuration
type AuthConfig struct {
	JWTSecret      string        `json:"jwt_secret" yaml:"jwt_secret"`
	Issuer         string        `json:"issuer" yaml:"issuer"`
	AccessTokenTTL time.Duration `json:"access_token_ttl" yaml:"access_token_ttl"`
}

// OpenTelemetryConfig holds all OpenTelemetry-related configuration
type OpenTelemetryConfig struct {
	Endpoint       string            `json:"endpoint" yaml:"endpoint"`               // Default: "localhost:4317"
	Protocol       string            `json:"protocol" yaml:"protocol"`               // "grpc" or "http"
	Insecure       bool              `json:"insecure" yaml:"insecure"`               // Plaintext exporter connection
	Headers        map[string]string `json:"headers" yaml:"headers"`                 // For authenticated endpoints
	ServiceName    string            `json:"service_name" yaml:"service_name"`       // "mcqgen-server" or "mcqgen-worker"
	ServiceVersion string            `json:"service_version" yaml:"service_version"` // From version package
	EnableTracing  bool              `json:"enable_tracing" yaml:"enable_tracing"`
	EnableMetrics  bool              `json:"enable_metrics" yaml:"enable_metrics"`
	EnableLogging  bool              `json:"enable_logging" yaml:"enable_logging"`
	SamplingRate   float64           `json:"sampling_rate" yaml:"sampling_rate"`
	UseAutoSDK     bool              `json:"use_auto_sdk" yaml:"use_auto_sdk"` // Use the eBPF auto-instrumentation SDK provider
}

// NewConfig loads configuration from YAML file first, then overrides with environment variables
func NewConfig() (result0 *Config, err error) {
	config, err := loadConfigWithOverrides()
	if err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrInternalError, "failed to load config: %w", err)
	}

	config.overrideFromEnv()
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the `validate` tags of every section
func (c *Config) Validate() error {
	if err := contextutils.ValidateStruct(c); err != nil {
		return contextutils.WrapError(err, "invalid configuration")
	}
	return nil
}

// applyDefaults fills zero values with the service defaults
func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.WorkerPort == "" {
		c.Server.WorkerPort = "8081"
	}
	if c.Server.MaxAIConcurrent == 0 {
		c.Server.MaxAIConcurrent = DefaultMaxAIConcurrent
	}
	if c.Server.MaxHistory == 0 {
		c.Server.MaxHistory = 50
	}
	if c.Server.MaxActivityLogs == 0 {
		c.Server.MaxActivityLogs = 200
	}

	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = DatabaseConnMaxLifetime
	}

	if c.Redis.SnapshotKey == "" {
		c.Redis.SnapshotKey = DefaultIndexSnapshotKey
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}

	if c.Oracles.Primary.Provider == "" {
		c.Oracles.Primary.Provider = "llama"
	}
	for _, o := range []*OracleConfig{&c.Oracles.Primary, &c.Oracles.Secondary, &c.Oracles.Verification} {
		if o.Timeout == 0 {
			o.Timeout = AIRequestTimeout
		}
	}

	g := &c.Generation
	if g.Subject == "" {
		g.Subject = "biology"
	}
	if g.BatchSize == 0 {
		g.BatchSize = DefaultAIBatchSize
	}
	if g.MaxRetriesAdaptive == 0 {
		g.MaxRetriesAdaptive = 5
	}
	if g.MaxRetriesStandard == 0 {
		g.MaxRetriesStandard = 3
	}
	if g.MaxFailedBatches == 0 {
		g.MaxFailedBatches = 5
	}
	if g.ContextSize == 0 {
		g.ContextSize = 3
	}
	if g.ContextWindow == 0 {
		g.ContextWindow = 2048
	}
	if g.MaxCompletionTokens == 0 {
		g.MaxCompletionTokens = 768
	}
	if g.TokenReserve == 0 {
		g.TokenReserve = 10
	}
	if g.Temperature == 0 {
		g.Temperature = 0.8
	}
	if g.TopP == 0 {
		g.TopP = 0.95
	}
	if g.DefaultQuestionCount == 0 {
		g.DefaultQuestionCount = 10
	}
	if g.MaxQuestionCount == 0 {
		g.MaxQuestionCount = 50
	}

	d := &c.Dedup
	if d.GlobalThreshold == 0 {
		d.GlobalThreshold = 0.85
	}
	if d.BatchThreshold == 0 {
		d.BatchThreshold = 0.85
	}
	if d.HistoryThreshold == 0 {
		d.HistoryThreshold = 0.65
	}
	if d.GlobalNeighbors == 0 {
		d.GlobalNeighbors = 5
	}
	if d.HistoryQuizzes == 0 {
		d.HistoryQuizzes = 1
	}

	v := &c.Verifier
	if v.InterCallDelay == 0 {
		v.InterCallDelay = 4100 * time.Millisecond
	}
	if v.RateLimitBackoff == 0 {
		v.RateLimitBackoff = 60 * time.Second
	}
	if v.SweepInterval == 0 {
		v.SweepInterval = 5 * time.Minute
	}
	if v.SweepBatch == 0 {
		v.SweepBatch = 20
	}

	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "mcqgen"
	}
	if c.Auth.AccessTokenTTL == 0 {
		c.Auth.AccessTokenTTL = AccessTokenTTL
	}

	if c.OpenTelemetry.SamplingRate == 0 {
		c.OpenTelemetry.SamplingRate = 1.0
	}
}

// overrideFromEnv overrides config values with environment variables using reflection
func (c *Config) overrideFromEnv() {
	overrideStructFromEnvWithPrefix(c, "")
}

var durationType = reflect.TypeOf(time.Duration(0))

// overrideStructFromEnvWithPrefix walks v and replaces every field whose
// upper-cased yaml path (SECTION_FIELD) is set in the environment.
func overrideStructFromEnvWithPrefix(v interface{}, prefix string) {
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	if val.Kind() != reflect.Struct {
		return
	}

	typ := val.Type()
	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		if !field.CanSet() {
			continue
		}

		yamlTag := strings.Split(fieldType.Tag.Get("yaml"), ",")[0]
		if yamlTag == "" || yamlTag == "-" {
			continue
		}

		envKey := strings.ToUpper(strings.ReplaceAll(yamlTag, "-", "_"))
		if prefix != "" {
			envKey = prefix + "_" + envKey
		}

		if field.Kind() == reflect.Struct {
			overrideStructFromEnvWithPrefix(field.Addr().Interface(), envKey)
			continue
		}

		envVal := os.Getenv(envKey)
		if envVal == "" {
			continue
		}
		setFromString(field, envVal)
	}
}

func setFromString(field reflect.Value, envVal string) {
	if field.Type() == durationType {
		if d, err := time.ParseDuration(envVal); err == nil {
			field.SetInt(int64(d))
		}
		return
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(envVal)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if intVal, err := strconv.ParseInt(envVal, 10, 64); err == nil {
			field.SetInt(intVal)
		}
	case reflect.Float32, reflect.Float64:
		if floatVal, err := strconv.ParseFloat(envVal, 64); err == nil {
			field.SetFloat(floatVal)
		}
	case reflect.Bool:
		if boolVal, err := strconv.ParseBool(envVal); err == nil {
			field.SetBool(boolVal)
		}
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(envVal, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}
}

// loadConfigWithOverrides loads MCQGEN_CONFIG_FILE, falling back to config.yaml.
// A missing default file yields an empty config so env-only deployments work.
func loadConfigWithOverrides() (result0 *Config, err error) {
	if envPath := os.Getenv("MCQGEN_CONFIG_FILE"); envPath != "" {
		config, err := loadConfigFromFile(envPath)
		if err != nil {
			return nil, contextutils.WrapErrorf(contextutils.ErrInternalError, "failed to load config from %s: %w", envPath, err)
		}
		return config, nil
	}

	config, err := loadConfigFromFile("config.yaml")
	if os.IsNotExist(err) {
		return &Config{}, nil
	}
	return config, err
}

// loadConfigFromFile loads configuration from a specific file
func loadConfigFromFile(path string) (result0 *Config, err error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := yaml.Unmarshal(yamlFile, &config); err != nil {
		return nil, err
	}

	return &config, nil
}
