package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the assistant.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Search    SearchConfig    `mapstructure:"search"`
	Agents    AgentsConfig    `mapstructure:"agents"`
	Sandbox   SandboxConfig   `mapstructure:"sandbox"`
	Session   SessionConfig   `mapstructure:"session"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug             bool          `mapstructure:"debug"`
	LogLevel          string        `mapstructure:"log_level"`
	WorkDir           string        `mapstructure:"work_dir"`
	DefaultTimeout    time.Duration `mapstructure:"default_timeout"`
	MaxProcessingTime time.Duration `mapstructure:"max_processing_time"`
}

func (g GeneralConfig) Validate() error {
	if strings.TrimSpace(g.WorkDir) == "" {
		return fmt.Errorf("general.work_dir is required")
	}
	return nil
}

// ServerConfig contains HTTP server and auth settings.
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LLMConfig contains inference provider configuration.
type LLMConfig struct {
	Provider string              `mapstructure:"provider"` // ollama, lmstudio, openai, server
	BaseURL  string              `mapstructure:"base_url"`
	APIKey   string              `mapstructure:"api_key"`
	Timeout  time.Duration       `mapstructure:"timeout"`
	Retries  int                 `mapstructure:"retries"`
	Models   map[string]LLMModel `mapstructure:"models"`
	Routing  LLMRoutingConfig    `mapstructure:"routing"`
}

// LLMModel represents a specific model configuration.
type LLMModel struct {
	Name            string  `mapstructure:"name"`
	APIName         string  `mapstructure:"api_name"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	ContextWindow   int     `mapstructure:"context_window"`
	CostPer1K       float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64 `mapstructure:"cost_per_1k_output"`
}

// LLMRoutingConfig defines which model handles which stage.
type LLMRoutingConfig struct {
	Router   string `mapstructure:"router"`
	Planning string `mapstructure:"planning"`
	Coding   string `mapstructure:"coding"`
	Browsing string `mapstructure:"browsing"`
	Talk     string `mapstructure:"talk"`
	Fallback string `mapstructure:"fallback"`
}

// Resolve returns the model key for a stage, falling back when unset.
func (r LLMRoutingConfig) Resolve(stage string) string {
	m := ""
	switch stage {
	case "router":
		m = r.Router
	case "planning":
		m = r.Planning
	case "coding":
		m = r.Coding
	case "browsing":
		m = r.Browsing
	case "talk":
		m = r.Talk
	}
	if m == "" {
		m = r.Fallback
	}
	return m
}

func (l LLMConfig) Validate() error {
	switch l.Provider {
	case "ollama", "lmstudio", "openai", "server":
	default:
		return fmt.Errorf("llm.provider must be one of ollama, lmstudio, openai, server (got %q)", l.Provider)
	}
	if len(l.Models) == 0 {
		return fmt.Errorf("llm.models must declare at least one model")
	}
	if l.Routing.Fallback == "" {
		return fmt.Errorf("llm.routing.fallback is required")
	}
	if _, ok := l.Models[l.Routing.Fallback]; !ok {
		return fmt.Errorf("llm.routing.fallback references unknown model %q", l.Routing.Fallback)
	}
	return nil
}

// BrowserConfig controls headless page fetching.
type BrowserConfig struct {
	Headless    bool          `mapstructure:"headless"`
	UserAgent   string        `mapstructure:"user_agent"`
	PageTimeout time.Duration `mapstructure:"page_timeout"`
	MaxChars    int           `mapstructure:"max_chars"`
	MaxPages    int           `mapstructure:"max_pages"`
}

// Normalize applies defaults for unset browser values.
func (b BrowserConfig) Normalize() BrowserConfig {
	if b.PageTimeout <= 0 {
		b.PageTimeout = 15 * time.Second
	}
	if b.MaxChars <= 0 {
		b.MaxChars = 20000
	}
	if b.MaxPages <= 0 {
		b.MaxPages = 3
	}
	if strings.TrimSpace(b.UserAgent) == "" {
		b.UserAgent = "localmind/1.0"
	}
	return b
}

// SearchConfig contains web search settings (SearxNG compatible).
type SearchConfig struct {
	Endpoint   string        `mapstructure:"endpoint"`
	APIKey     string        `mapstructure:"api_key"`
	MaxResults int           `mapstructure:"max_results"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// AgentsConfig contains agent-specific settings.
type AgentsConfig struct {
	MaxConcurrentAgents int           `mapstructure:"max_concurrent_agents"`
	AgentTimeout        time.Duration `mapstructure:"agent_timeout"`
	MaxRetries          int           `mapstructure:"max_retries"`
	RetryDelay          time.Duration `mapstructure:"retry_delay"`
	ConfidenceThreshold float64       `mapstructure:"confidence_threshold"`
	CodeRepairRounds    int           `mapstructure:"code_repair_rounds"`
}

// Normalize applies defaults for unset agent values.
func (a AgentsConfig) Normalize() AgentsConfig {
	if a.MaxConcurrentAgents <= 0 {
		a.MaxConcurrentAgents = 3
	}
	if a.AgentTimeout <= 0 {
		a.AgentTimeout = 2 * time.Minute
	}
	if a.ConfidenceThreshold <= 0 {
		a.ConfidenceThreshold = 0.5
	}
	if a.CodeRepairRounds <= 0 {
		a.CodeRepairRounds = 2
	}
	return a
}

// SandboxConfig declares command execution policy for the coding agent.
type SandboxConfig struct {
	AllowedInterpreters []string      `mapstructure:"allowed_interpreters"`
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxOutputBytes      int           `mapstructure:"max_output_bytes"`
	EnvAllowlist        []string      `mapstructure:"env_allowlist"`
}

func (s SandboxConfig) Validate() error {
	if len(s.AllowedInterpreters) == 0 {
		return fmt.Errorf("sandbox.allowed_interpreters is required")
	}
	return nil
}

// Normalize applies defaults for unset sandbox values.
func (s SandboxConfig) Normalize() SandboxConfig {
	if s.Timeout <= 0 {
		s.Timeout = time.Minute
	}
	if s.MaxOutputBytes <= 0 {
		s.MaxOutputBytes = 64 * 1024
	}
	return s
}

// SessionConfig controls conversation memory behaviour.
type SessionConfig struct {
	RetentionDays        int `mapstructure:"retention_days"`
	CompressAfterTurns   int `mapstructure:"compress_after_turns"`
	KeepRecentTurns      int `mapstructure:"keep_recent_turns"`
	MaxContextCharacters int `mapstructure:"max_context_characters"`
}

// Normalize applies defaults for unset session values.
func (s SessionConfig) Normalize() SessionConfig {
	if s.RetentionDays <= 0 {
		s.RetentionDays = 30
	}
	if s.CompressAfterTurns <= 0 {
		s.CompressAfterTurns = 24
	}
	if s.KeepRecentTurns <= 0 {
		s.KeepRecentTurns = 8
	}
	if s.MaxContextCharacters <= 0 {
		s.MaxContextCharacters = 8000
	}
	return s
}

// StorageConfig contains storage and persistence settings.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings.
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a connection string from the configured fields.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	host := p.Host
	port := p.Port
	ssl := p.SSLMode
	if host == "" {
		host = "localhost"
	}
	if port == "" {
		port = "5432"
	}
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, host, port, p.DBName, ssl)
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// Addr returns host:port for the Redis client.
func (r RedisConfig) Addr() string { return fmt.Sprintf("%s:%s", r.Host, r.Port) }

// SchedulerConfig holds cron expressions for background jobs.
type SchedulerConfig struct {
	ProviderHealthCron    string `mapstructure:"provider_health_cron"`
	SessionCompactionCron string `mapstructure:"session_compaction_cron"`
	RunPruneCron          string `mapstructure:"run_prune_cron"`
	RunRetentionDays      int    `mapstructure:"run_retention_days"`
}

// Normalize applies defaults for unset scheduler values.
func (s SchedulerConfig) Normalize() SchedulerConfig {
	if strings.TrimSpace(s.ProviderHealthCron) == "" {
		s.ProviderHealthCron = "@hourly"
	}
	if strings.TrimSpace(s.SessionCompactionCron) == "" {
		s.SessionCompactionCron = "@hourly"
	}
	if strings.TrimSpace(s.RunPruneCron) == "" {
		s.RunPruneCron = "@daily"
	}
	if s.RunRetentionDays <= 0 {
		s.RunRetentionDays = 90
	}
	return s
}

// TelemetryConfig contains telemetry and monitoring settings.
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	MetricsPort  int    `mapstructure:"metrics_port"`
	CostTracking bool   `mapstructure:"cost_tracking"`
	PeriodicLogs bool   `mapstructure:"periodic_logs"`
	LogFile      string `mapstructure:"log_file"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort < 0 {
		return fmt.Errorf("telemetry.metrics_port cannot be negative")
	}
	return nil
}

// LoadConfig loads config from file. An empty path searches the usual
// locations next to the binary and the working directory.
func LoadConfig(path string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.default_timeout", "30s")
	viper.SetDefault("general.max_processing_time", "10m")
	viper.SetDefault("llm.provider", "ollama")
	viper.SetDefault("llm.base_url", "http://localhost:11434")
	viper.SetDefault("llm.timeout", "120s")
	viper.SetDefault("browser.headless", true)
	viper.SetDefault("session.retention_days", 30)
	viper.SetDefault("scheduler.provider_health_cron", "@hourly")
	viper.SetDefault("telemetry.enabled", true)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("LOCALMIND")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	cfg.Browser = cfg.Browser.Normalize()
	cfg.Agents = cfg.Agents.Normalize()
	cfg.Sandbox = cfg.Sandbox.Normalize()
	cfg.Session = cfg.Session.Normalize()
	cfg.Scheduler = cfg.Scheduler.Normalize()

	if err := cfg.General.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.LLM.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Sandbox.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Telemetry.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MustLoadConfig loads config and panics on failure.
func MustLoadConfig(path string) *Config {
	cfg, err := LoadConfig(path)
	if err != nil {
		panic(fmt.Sprintf("configuration error: %v", err))
	}
	return cfg
}
