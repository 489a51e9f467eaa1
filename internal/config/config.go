package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Config holds all configuration for the PlanWise worker.
type Config struct {
	Env      string `env:"PLANWISE_ENV" validate:"required"`
	Log      LogConfig
	Worker   WorkerConfig
	Store    StoreConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Events   EventsConfig
	AI       AIConfig
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL"  validate:"oneof=debug info warn error"`
	Format string `env:"LOG_FORMAT" validate:"oneof=json text"`
}

type WorkerConfig struct {
	ID           string        `env:"WORKER_ID"            validate:"required"`
	Concurrency  int           `env:"WORKER_CONCURRENCY"   validate:"min=1,max=64"`
	PollInterval time.Duration `env:"WORKER_POLL_INTERVAL" validate:"gt=0"`
	StepPacing   time.Duration `env:"WORKER_STEP_PACING"   validate:"gte=0"`
	OpsPort      int           `env:"OPS_PORT"             validate:"min=1,max=65535"`
}

type StoreConfig struct {
	Driver        string `env:"STORE_DRIVER"   validate:"oneof=postgres sqlite"`
	SQLitePath    string `env:"SQLITE_PATH"`
	MigrationsDir string `env:"MIGRATIONS_DIR" validate:"required"`
}

type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS"    validate:"min=1"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS"    validate:"min=0"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME" validate:"gt=0"`
}

// RedisConfig is optional. An empty URL disables the status mirror.
type RedisConfig struct {
	URL string `env:"REDIS_URL"`
}

// EventsConfig is optional. An empty URL disables job event publishing.
type EventsConfig struct {
	AMQPURL  string `env:"AMQP_URL"`
	Exchange string `env:"AMQP_EXCHANGE" validate:"required"`
}

type AIConfig struct {
	// Providers is the fallback order. The mock provider is always tried last.
	Providers      []string      `env:"AI_PROVIDERS"       validate:"required,min=1"`
	RequestTimeout time.Duration `env:"AI_REQUEST_TIMEOUT" validate:"gt=0"`
	ConnectTimeout time.Duration `env:"AI_CONNECT_TIMEOUT" validate:"gt=0"`
	MaxRetries     int           `env:"AI_MAX_RETRIES"     validate:"min=1,max=10"`
	BaseDelay      time.Duration `env:"AI_BASE_DELAY"      validate:"gt=0"`
	MaxDelay       time.Duration `env:"AI_MAX_DELAY"       validate:"gtefield=BaseDelay"`

	Anthropic ProviderConfig `validate:"-"`
	OpenAI    ProviderConfig `validate:"-"`
	Qwen      ProviderConfig `validate:"-"`
	Gemini    ProviderConfig `validate:"-"`
	Ollama    ProviderConfig `validate:"-"`
	VLLM      ProviderConfig `validate:"-"`
}

// ProviderConfig is the per-family connection settings, read from
// <FAMILY>_API_KEY, <FAMILY>_API_ENDPOINT, <FAMILY>_MODEL,
// <FAMILY>_MAX_TOKENS and <FAMILY>_TEMPERATURE.
type ProviderConfig struct {
	APIKey      string
	Endpoint    string
	Model       string
	MaxTokens   int
	Temperature float64
	// Beta is sent as the anthropic-beta header when set.
	Beta string
}

// Provider family names accepted in AI_PROVIDERS.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderQwen      = "qwen"
	ProviderGemini    = "gemini"
	ProviderOllama    = "ollama"
	ProviderVLLM      = "vllm"
	ProviderMock      = "mock"
)

var providerAliases = map[string]string{
	"claude":    ProviderAnthropic,
	"dashscope": ProviderQwen,
}

var validProviders = map[string]bool{
	ProviderAnthropic: true,
	ProviderOpenAI:    true,
	ProviderQwen:      true,
	ProviderGemini:    true,
	ProviderOllama:    true,
	ProviderVLLM:      true,
	ProviderMock:      true,
}

type providerDefaults struct {
	prefix      string
	endpoint    string
	model       string
	maxTokens   int
	temperature float64
}

var familyDefaults = map[string]providerDefaults{
	ProviderAnthropic: {"anthropic", "https://api.anthropic.com/v1/messages", "claude-sonnet-4-5-20250929", 4096, 0.7},
	ProviderOpenAI:    {"openai", "https://api.openai.com/v1/chat/completions", "gpt-4o-mini", 4096, 0.7},
	ProviderQwen:      {"qwen", "https://dashscope.aliyuncs.com/api/v1/services/aigc/text-generation/generation", "qwen-plus", 4096, 0.7},
	ProviderGemini:    {"gemini", "https://generativelanguage.googleapis.com/v1beta", "gemini-2.0-flash", 4096, 0.7},
	ProviderOllama:    {"ollama", "http://localhost:11434", "llama3", 4096, 0.7},
	ProviderVLLM:      {"vllm", "http://localhost:8000/v1/chat/completions", "mistral-7b-instruct", 4096, 0.7},
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		Env: v.GetString("planwise_env"),
		Log: LogConfig{
			Level:  strings.ToLower(v.GetString("log_level")),
			Format: strings.ToLower(v.GetString("log_format")),
		},
		Worker: WorkerConfig{
			ID:           v.GetString("worker_id"),
			Concurrency:  v.GetInt("worker_concurrency"),
			PollInterval: v.GetDuration("worker_poll_interval"),
			StepPacing:   v.GetDuration("worker_step_pacing"),
			OpsPort:      v.GetInt("ops_port"),
		},
		Store: StoreConfig{
			Driver:        strings.ToLower(v.GetString("store_driver")),
			SQLitePath:    v.GetString("sqlite_path"),
			MigrationsDir: v.GetString("migrations_dir"),
		},
		Database: DatabaseConfig{
			URL:             v.GetString("database_url"),
			MaxOpenConns:    v.GetInt("database_max_open_conns"),
			MaxIdleConns:    v.GetInt("database_max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database_conn_max_lifetime"),
		},
		Redis: RedisConfig{
			URL: v.GetString("redis_url"),
		},
		Events: EventsConfig{
			AMQPURL:  v.GetString("amqp_url"),
			Exchange: v.GetString("amqp_exchange"),
		},
		AI: AIConfig{
			Providers:      splitList(v.GetString("ai_providers")),
			RequestTimeout: v.GetDuration("ai_request_timeout"),
			ConnectTimeout: v.GetDuration("ai_connect_timeout"),
			MaxRetries:     v.GetInt("ai_max_retries"),
			BaseDelay:      v.GetDuration("ai_base_delay"),
			MaxDelay:       v.GetDuration("ai_max_delay"),
			Anthropic:      providerConfig(v, ProviderAnthropic),
			OpenAI:         providerConfig(v, ProviderOpenAI),
			Qwen:           providerConfig(v, ProviderQwen),
			Gemini:         providerConfig(v, ProviderGemini),
			Ollama:         providerConfig(v, ProviderOllama),
			VLLM:           providerConfig(v, ProviderVLLM),
		},
	}
	if cfg.Worker.ID == "" {
		cfg.Worker.ID = "worker-" + uuid.NewString()[:8]
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("planwise_env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	v.SetDefault("worker_concurrency", 1)
	v.SetDefault("worker_poll_interval", 500*time.Millisecond)
	v.SetDefault("worker_step_pacing", 300*time.Millisecond)
	v.SetDefault("ops_port", 9090)

	v.SetDefault("store_driver", "postgres")
	v.SetDefault("sqlite_path", "planwise.db")
	v.SetDefault("migrations_dir", "migrations")

	v.SetDefault("database_max_open_conns", 25)
	v.SetDefault("database_max_idle_conns", 5)
	v.SetDefault("database_conn_max_lifetime", 5*time.Minute)

	v.SetDefault("amqp_exchange", "planwise.jobs")

	v.SetDefault("ai_providers", "anthropic,qwen")
	v.SetDefault("ai_request_timeout", 60*time.Second)
	v.SetDefault("ai_connect_timeout", 10*time.Second)
	v.SetDefault("ai_max_retries", 3)
	v.SetDefault("ai_base_delay", time.Second)
	v.SetDefault("ai_max_delay", 32*time.Second)

	for _, d := range familyDefaults {
		v.SetDefault(d.prefix+"_api_endpoint", d.endpoint)
		v.SetDefault(d.prefix+"_model", d.model)
		v.SetDefault(d.prefix+"_max_tokens", d.maxTokens)
		v.SetDefault(d.prefix+"_temperature", d.temperature)
	}
}

func providerConfig(v *viper.Viper, family string) ProviderConfig {
	p := familyDefaults[family].prefix
	return ProviderConfig{
		APIKey:      v.GetString(p + "_api_key"),
		Endpoint:    strings.TrimRight(v.GetString(p+"_api_endpoint"), "/"),
		Model:       v.GetString(p + "_model"),
		MaxTokens:   v.GetInt(p + "_max_tokens"),
		Temperature: v.GetFloat64(p + "_temperature"),
		Beta:        v.GetString(p + "_beta"),
	}
}

// Provider returns the settings for a normalized family name.
func (c AIConfig) Provider(family string) (ProviderConfig, bool) {
	switch family {
	case ProviderAnthropic:
		return c.Anthropic, true
	case ProviderOpenAI:
		return c.OpenAI, true
	case ProviderQwen:
		return c.Qwen, true
	case ProviderGemini:
		return c.Gemini, true
	case ProviderOllama:
		return c.Ollama, true
	case ProviderVLLM:
		return c.VLLM, true
	default:
		return ProviderConfig{}, false
	}
}

// NormalizeProvider lowercases a provider name and resolves aliases.
func NormalizeProvider(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := providerAliases[n]; ok {
		return alias
	}
	return n
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := NormalizeProvider(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) validate() error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return fld.Tag.Get("env")
	})
	if err := validate.Struct(c); err != nil {
		return describeValidationError(err)
	}

	if c.Store.Driver == "postgres" && c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is postgres")
	}
	if c.Store.Driver == "sqlite" && c.Store.SQLitePath == "" {
		return fmt.Errorf("SQLITE_PATH is required when STORE_DRIVER is sqlite")
	}

	for _, name := range c.AI.Providers {
		if !validProviders[name] {
			return fmt.Errorf("AI_PROVIDERS entries must be one of anthropic, openai, qwen, gemini, ollama, vllm, mock; got %q", name)
		}
		pc, ok := c.AI.Provider(name)
		if !ok {
			continue
		}
		prefix := strings.ToUpper(familyDefaults[name].prefix)
		if !strings.HasPrefix(pc.Endpoint, "http://") && !strings.HasPrefix(pc.Endpoint, "https://") {
			return fmt.Errorf("%s_API_ENDPOINT must start with http:// or https://, got %q", prefix, pc.Endpoint)
		}
		if pc.Model == "" {
			return fmt.Errorf("%s_MODEL is required when %s is listed in AI_PROVIDERS", prefix, name)
		}
		if pc.MaxTokens <= 0 {
			return fmt.Errorf("%s_MAX_TOKENS must be positive, got %d", prefix, pc.MaxTokens)
		}
		if pc.Temperature < 0 || pc.Temperature > 2 {
			return fmt.Errorf("%s_TEMPERATURE must be between 0 and 2, got %v", prefix, pc.Temperature)
		}
	}

	return nil
}

// describeValidationError turns the first validator failure into a message
// naming the environment variable.
func describeValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", fe.Field())
	case "oneof":
		return fmt.Errorf("%s must be one of %s; got %q",
			fe.Field(), strings.ReplaceAll(fe.Param(), " ", ", "), fe.Value())
	case "gtefield":
		return fmt.Errorf("%s must not be smaller than AI_BASE_DELAY, got %v", fe.Field(), fe.Value())
	default:
		return fmt.Errorf("%s is invalid (%s=%s), got %v", fe.Field(), fe.Tag(), fe.Param(), fe.Value())
	}
}
