package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/user/keepsake/internal/types"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KEEPSAKE"

type Config struct {
	DataDir       string `json:"data_dir" envconfig:"DATA_DIR"`
	LogLevel      string `json:"log_level" envconfig:"LOG_LEVEL"`
	LogFormat     string `json:"log_format" envconfig:"LOG_FORMAT"`
	MaxConcurrent int    `json:"max_concurrent" envconfig:"MAX_CONCURRENT"`
	MaxToolRounds int    `json:"max_tool_rounds" envconfig:"MAX_TOOL_ROUNDS"`

	LLM       LLMConfig       `json:"llm" ignored:"true"`
	Agent     AgentConfig     `json:"agent" ignored:"true"`
	Context   ContextConfig   `json:"context" ignored:"true"`
	Database  DatabaseConfig  `json:"database" ignored:"true"`
	Heartbeat HeartbeatConfig `json:"heartbeat" ignored:"true"`
	Cron      CronConfig      `json:"cron" ignored:"true"`
	Hindsight HindsightConfig `json:"hindsight" ignored:"true"`
	Telegram  TelegramConfig  `json:"telegram" ignored:"true"`
	Kafka     KafkaConfig     `json:"kafka" ignored:"true"`
	HTTP      HTTPConfig      `json:"http" ignored:"true"`
}

type LLMConfig struct {
	Provider    string  `json:"provider" envconfig:"PROVIDER"`
	BaseURL     string  `json:"base_url" envconfig:"BASE_URL"`
	APIKey      string  `json:"api_key" envconfig:"API_KEY"`
	Model       string  `json:"model" envconfig:"MODEL"`
	MaxTokens   int     `json:"max_tokens" envconfig:"MAX_TOKENS"`
	Temperature float32 `json:"temperature" envconfig:"TEMPERATURE"`
}

type AgentConfig struct {
	Timezone      string `json:"timezone" envconfig:"TIMEZONE"`
}

type ContextConfig struct {
	RecentMessages int `json:"recent_messages" envconfig:"RECENT_MESSAGES"`
	TokenBudget    int `json:"token_budget" envconfig:"TOKEN_BUDGET"`
	SummaryDays    int `json:"summary_days" envconfig:"SUMMARY_DAYS"`
}

type DatabaseConfig struct {
	Driver string `json:"driver" envconfig:"DRIVER"`
	DSN    string `json:"dsn" envconfig:"DSN"`
}

type HeartbeatConfig struct {
	Enabled           bool   `json:"enabled" envconfig:"ENABLED"`
	Schedule          string `json:"schedule" envconfig:"SCHEDULE"`
	SkipWindowMinutes int    `json:"skip_window_minutes" envconfig:"SKIP_WINDOW_MINUTES"`
	PromptPath        string `json:"prompt_path" envconfig:"PROMPT_PATH"`
	DeliverTo         string `json:"deliver_to" envconfig:"DELIVER_TO"`
}

type CronConfig struct {
	JobTimeoutMinutes   int `json:"job_timeout_minutes" envconfig:"JOB_TIMEOUT_MINUTES"`
	SyncIntervalSeconds int `json:"sync_interval_seconds" envconfig:"SYNC_INTERVAL_SECONDS"`
}

type HindsightConfig struct {
	BaseURL        string `json:"base_url" envconfig:"BASE_URL"`
	Bank           string `json:"bank" envconfig:"BANK"`
	TimeoutSeconds int    `json:"timeout_seconds" envconfig:"TIMEOUT_SECONDS"`
	QueueSize      int    `json:"queue_size" envconfig:"QUEUE_SIZE"`
}

type TelegramConfig struct {
	Token        string  `json:"token" envconfig:"TOKEN"`
	AllowedUsers []int64 `json:"allowed_users,omitempty" envconfig:"ALLOWED_USERS"`
}

type KafkaConfig struct {
	Brokers []string `json:"brokers,omitempty" envconfig:"BROKERS"`
	Topic   string   `json:"topic" envconfig:"TOPIC"`
}

type HTTPConfig struct {
	Addr string `json:"addr" envconfig:"ADDR"`
}

// Defaults returns the configuration used when no file exists.
func Defaults() *Config {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".keepsake"),
		MaxConcurrent: 2,
	}
	cfg.LogLevel = "info"
	cfg.LogFormat = "text"
	cfg.MaxToolRounds = 10
	cfg.LLM.Provider = "openai"
	cfg.LLM.BaseURL = "https://api.openai.com/v1"
	cfg.LLM.Model = "gpt-4o-mini"
	cfg.LLM.MaxTokens = 2000
	cfg.LLM.Temperature = 0.7
	cfg.Agent.Timezone = "America/New_York"
	cfg.Context.RecentMessages = 30
	cfg.Context.TokenBudget = 200000
	cfg.Context.SummaryDays = 7
	cfg.Database.Driver = "sqlite"
	cfg.Heartbeat.Enabled = true
	cfg.Heartbeat.Schedule = "@every 30m"
	cfg.Heartbeat.SkipWindowMinutes = 5
	cfg.Cron.JobTimeoutMinutes = 10
	cfg.Cron.SyncIntervalSeconds = 60
	cfg.Hindsight.Bank = "keepsake"
	cfg.Hindsight.TimeoutSeconds = 10
	cfg.Hindsight.QueueSize = 100
	cfg.Kafka.Topic = "keepsake.turns"
	cfg.HTTP.Addr = "127.0.0.1:8484"
	return cfg
}

// Load reads the config file at path, writing defaults when it does not
// exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", types.ErrConfiguration, path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if cfg.Database.Driver == "sqlite" && cfg.Database.DSN == "" {
		cfg.Database.DSN = filepath.Join(cfg.DataDir, "keepsake.db")
	}
	return cfg, nil
}

// applyEnv overlays KEEPSAKE_<SECTION>_<KEY> variables, then the
// conventional provider variables (highest precedence).
func applyEnv(cfg *Config) error {
	sections := []struct {
		prefix string
		spec   any
	}{
		{EnvPrefix, cfg},
		{EnvPrefix + "_LLM", &cfg.LLM},
		{EnvPrefix + "_AGENT", &cfg.Agent},
		{EnvPrefix + "_CONTEXT", &cfg.Context},
		{EnvPrefix + "_DATABASE", &cfg.Database},
		{EnvPrefix + "_HEARTBEAT", &cfg.Heartbeat},
		{EnvPrefix + "_CRON", &cfg.Cron},
		{EnvPrefix + "_HINDSIGHT", &cfg.Hindsight},
		{EnvPrefix + "_TELEGRAM", &cfg.Telegram},
		{EnvPrefix + "_KAFKA", &cfg.Kafka},
		{EnvPrefix + "_HTTP", &cfg.HTTP},
	}
	for _, s := range sections {
		if err := envconfig.Process(s.prefix, s.spec); err != nil {
			return fmt.Errorf("%w: %s environment: %v", types.ErrConfiguration, s.prefix, err)
		}
	}

	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		cfg.LLM.BaseURL = baseURL
	}
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}
	if hs := os.Getenv("HINDSIGHT_BASE_URL"); hs != "" {
		cfg.Hindsight.BaseURL = hs
	}
	return nil
}

// Validate reports configuration that cannot run.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Agent.Timezone); err != nil || c.Agent.Timezone == "" {
		return fmt.Errorf("%w: unknown timezone %q", types.ErrConfiguration, c.Agent.Timezone)
	}
	if c.Context.RecentMessages <= 0 {
		return fmt.Errorf("%w: context.recent_messages must be positive", types.ErrConfiguration)
	}
	if c.Context.TokenBudget <= 0 {
		return fmt.Errorf("%w: context.token_budget must be positive", types.ErrConfiguration)
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("%w: unsupported database driver %q", types.ErrConfiguration, c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("%w: database.dsn is required", types.ErrConfiguration)
	}
	if c.Heartbeat.SkipWindowMinutes < 0 {
		return fmt.Errorf("%w: heartbeat.skip_window_minutes cannot be negative", types.ErrConfiguration)
	}
	return nil
}

// Location returns the agent timezone. It falls back to UTC for a config
// that has not been validated.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Agent.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Save writes cfg to path atomically, creating the directory if needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, append(data, '\n'))
}

func writeAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg into its generic JSON form.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListValues flattens cfg into dotted keys, optionally masking secrets.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

func readFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", types.ErrConfiguration, path, err)
	}
	return m, nil
}

// GetValue returns the value stored under a dotted key in the config file.
// The file is created with defaults when missing.
func GetValue(path, key string) (any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	m, err := readFile(path)
	if err != nil {
		return nil, err
	}
	v, ok := Flatten(m)[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue stores value under a dotted key in an existing config file.
// Values that parse as JSON (numbers, booleans) keep their type; anything
// else is stored as a string.
func SetValue(path, key, value string) error {
	m, err := readFile(path)
	if err != nil {
		return err
	}
	var parsed any = value
	var v any
	if err := json.Unmarshal([]byte(value), &v); err == nil {
		switch v.(type) {
		case float64, bool, []any:
			parsed = v
		}
	}
	flat := Flatten(m)
	flat[key] = parsed
	data, err := json.MarshalIndent(Unflatten(flat), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, append(data, '\n'))
}
