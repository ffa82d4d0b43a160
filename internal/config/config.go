// Package config loads runtime settings from defaults, an optional YAML file
// and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DriverDynamoDB = "dynamodb"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"

	defaultConfigFile = "config.yaml"
)

type Config struct {
	ParamPrefix string         `yaml:"param_prefix"`
	Store       StoreConfig    `yaml:"store"`
	Cache       CacheConfig    `yaml:"cache"`
	LLM         LLMConfig      `yaml:"llm"`
	Analysis    AnalysisConfig `yaml:"analysis"`
	Kafka       KafkaConfig    `yaml:"kafka"`
	LogLevel    string         `yaml:"log_level"`
}

type StoreConfig struct {
	Driver      string `yaml:"driver"`
	StateTable  string `yaml:"state_table"`
	PostgresURL string `yaml:"postgres_url"`
}

type CacheConfig struct {
	Driver string        `yaml:"driver"`
	Table  string        `yaml:"table"`
	TTL    time.Duration `yaml:"ttl"`
}

type LLMConfig struct {
	Provider string        `yaml:"provider"`
	Model    string        `yaml:"model"`
	BaseURL  string        `yaml:"base_url"`
	Timeout  time.Duration `yaml:"timeout"`
}

type AnalysisConfig struct {
	MessageWindow int  `yaml:"message_window"`
	PrewarmInbox  bool `yaml:"prewarm_inbox"`
}

// KafkaConfig is optional; without brokers events stay in process.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

func Default() *Config {
	return &Config{
		Store: StoreConfig{Driver: DriverDynamoDB},
		Cache: CacheConfig{Driver: DriverDynamoDB, TTL: time.Hour},
		LLM: LLMConfig{
			Provider: ProviderOpenAI,
			Timeout:  20 * time.Second,
		},
		Analysis: AnalysisConfig{MessageWindow: 20},
		Kafka: KafkaConfig{
			Topic:   "support-inbox.message-created",
			GroupID: "support-inbox-ai-invalidator",
		},
		LogLevel: "info",
	}
}

// Load reads CONFIG_FILE (or ./config.yaml when present) over the defaults,
// then applies environment overrides.
func Load() (*Config, error) {
	return load(os.Getenv, os.ReadFile)
}

func load(getenv func(string) string, readFile func(string) ([]byte, error)) (*Config, error) {
	cfg := Default()

	path := getenv("CONFIG_FILE")
	explicit := path != ""
	if !explicit {
		path = defaultConfigFile
	}
	data, err := readFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case explicit || !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := applyEnv(cfg, getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	setString("PARAM_PREFIX", &cfg.ParamPrefix)
	setString("STORE_DRIVER", &cfg.Store.Driver)
	setString("STATE_TABLE", &cfg.Store.StateTable)
	setString("POSTGRES_URL", &cfg.Store.PostgresURL)
	setString("CACHE_DRIVER", &cfg.Cache.Driver)
	setString("CACHE_TABLE", &cfg.Cache.Table)
	setString("LLM_PROVIDER", &cfg.LLM.Provider)
	setString("LLM_MODEL", &cfg.LLM.Model)
	setString("LLM_BASE_URL", &cfg.LLM.BaseURL)
	setString("KAFKA_TOPIC", &cfg.Kafka.Topic)
	setString("KAFKA_GROUP_ID", &cfg.Kafka.GroupID)
	setString("LOG_LEVEL", &cfg.LogLevel)

	if v := getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	if v := getenv("LLM_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: LLM_TIMEOUT: %w", err)
		}
		cfg.LLM.Timeout = d
	}
	if v := getenv("CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: CACHE_TTL: %w", err)
		}
		cfg.Cache.TTL = d
	}
	if v := getenv("MESSAGE_WINDOW"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: MESSAGE_WINDOW: %w", err)
		}
		cfg.Analysis.MessageWindow = n
	}
	if v := getenv("PREWARM_INBOX"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: PREWARM_INBOX: %w", err)
		}
		cfg.Analysis.PrewarmInbox = b
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.ParamPrefix) == "" {
		errs = append(errs, errors.New("param_prefix is required"))
	}

	switch c.Store.Driver {
	case DriverDynamoDB:
		if c.Store.StateTable == "" {
			errs = append(errs, errors.New("store.state_table is required for the dynamodb store"))
		}
	case DriverPostgres:
		if c.Store.PostgresURL == "" {
			errs = append(errs, errors.New("store.postgres_url is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of dynamodb|postgres", c.Store.Driver))
	}

	switch c.Cache.Driver {
	case DriverMemory:
	case DriverDynamoDB:
		if c.Cache.Table == "" {
			errs = append(errs, errors.New("cache.table is required for the dynamodb cache"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.driver %q is not one of memory|dynamodb", c.Cache.Driver))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("cache.ttl must be positive"))
	}

	if c.LLM.Provider != ProviderOpenAI && c.LLM.Provider != ProviderGemini {
		errs = append(errs, fmt.Errorf("llm.provider %q is not one of openai|gemini", c.LLM.Provider))
	}
	if c.LLM.Timeout <= 0 {
		errs = append(errs, errors.New("llm.timeout must be positive"))
	}
	if c.Analysis.MessageWindow <= 0 {
		errs = append(errs, errors.New("analysis.message_window must be positive"))
	}
	if c.Kafka.Enabled() && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required when brokers are set"))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// ValidateShared is Validate for processes that run as several concurrent
// instances, such as Lambda functions. A memory cache there would let one
// instance's invalidation miss the entries every other instance serves.
func (c *Config) ValidateShared() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Cache.Driver == DriverMemory {
		return errors.New("config: cache.driver memory is process local; use dynamodb for shared deployments")
	}
	return nil
}

// NewLogger returns a JSON slog logger at the configured level.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level %q: %w", s, err)
	}
	return level, nil
}
