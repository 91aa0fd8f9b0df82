// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration. It is threaded explicitly
// through constructors; nothing in the engine reaches for a global.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	Agent       AgentConfig       `mapstructure:"agent" yaml:"agent"`
	Environment EnvironmentConfig `mapstructure:"environment" yaml:"environment"`
	ToolRepo    ToolRepoConfig    `mapstructure:"toolrepo" yaml:"toolrepo"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// AgentConfig holds settings for the orchestration loop and its LLM usage.
type AgentConfig struct {
	// MaxRepairIterations bounds the amend/repair sub-cycle per subtask.
	MaxRepairIterations int `mapstructure:"max_repair_iterations" yaml:"max_repair_iterations"`
	// ScoreThreshold gates persistence of completed Python tools into the
	// tool repository.
	ScoreThreshold float64 `mapstructure:"score_threshold" yaml:"score_threshold"`
	// RetrievalTopK is how many candidate tools the planner retrieves per goal.
	RetrievalTopK int             `mapstructure:"retrieval_top_k" yaml:"retrieval_top_k"`
	LLM           LLMRouterConfig `mapstructure:"llm" yaml:"llm"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
)

// LLMRouterConfig configures the model routing logic.
type LLMRouterConfig struct {
	DefaultFastModel     string `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	// RequestsPerMinute caps the outbound request rate across all tiers.
	RequestsPerMinute float64                   `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Models            map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
}

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	TopP        float32       `mapstructure:"top_p" yaml:"top_p"`
	TopK        int           `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// EnvironmentConfig tunes the execution environments.
type EnvironmentConfig struct {
	// Shell is the interpreter backing the persistent shell runtime. Empty
	// means $SHELL, falling back to bash.
	Shell string `mapstructure:"shell" yaml:"shell"`
	// WorkingDir is the process-wide working directory shared by all subtasks
	// within one run. Supports ~ expansion.
	WorkingDir string `mapstructure:"working_dir" yaml:"working_dir"`
	// WriteRetries is the restart-and-retry budget when writing to a dead
	// subprocess.
	WriteRetries int          `mapstructure:"write_retries" yaml:"write_retries"`
	Kernel       KernelConfig `mapstructure:"kernel" yaml:"kernel"`
}

// KernelConfig points the Python runtime at a Jupyter-style kernel gateway.
type KernelConfig struct {
	GatewayURL     string        `mapstructure:"gateway_url" yaml:"gateway_url"`
	AuthToken      string        `mapstructure:"auth_token" yaml:"-"`
	KernelName     string        `mapstructure:"kernel_name" yaml:"kernel_name"`
	StartupTimeout time.Duration `mapstructure:"startup_timeout" yaml:"startup_timeout"`
}

// ToolRepoConfig selects the tool repository backend.
type ToolRepoConfig struct {
	Type     string         `mapstructure:"type" yaml:"type"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

// PostgresConfig holds the connection details for a PostgreSQL database.
type PostgresConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"-"`
	DBName   string `mapstructure:"dbname" yaml:"dbname"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode"`
}

// DSN renders a pgx-compatible connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode)
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "strata-cli")
	v.SetDefault("logger.log_file", "strata.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Agent --
	v.SetDefault("agent.max_repair_iterations", 3)
	v.SetDefault("agent.score_threshold", 8.0)
	v.SetDefault("agent.retrieval_top_k", 10)
	v.SetDefault("agent.llm.default_fast_model", "gemini-2.5-flash")
	v.SetDefault("agent.llm.default_powerful_model", "gemini-2.5-pro")
	v.SetDefault("agent.llm.requests_per_minute", 30.0)

	// -- Environment --
	v.SetDefault("environment.shell", "")
	v.SetDefault("environment.working_dir", "~/strata-workspace")
	v.SetDefault("environment.write_retries", 3)
	v.SetDefault("environment.kernel.gateway_url", "http://localhost:8888")
	v.SetDefault("environment.kernel.kernel_name", "python3")
	v.SetDefault("environment.kernel.startup_timeout", "30s")

	// -- Tool repository --
	v.SetDefault("toolrepo.type", "memory")
	v.SetDefault("toolrepo.postgres.host", "localhost")
	v.SetDefault("toolrepo.postgres.port", 5432)
	v.SetDefault("toolrepo.postgres.user", "postgres")
	v.SetDefault("toolrepo.postgres.password", "") // Set via STRATA_TOOLREPO_POSTGRES_PASSWORD
	v.SetDefault("toolrepo.postgres.dbname", "strata_tools")
	v.SetDefault("toolrepo.postgres.sslmode", "disable")
}

// NewDefaultConfig creates a configuration populated with defaults only.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Bind environment variables for sensitive data.
	v.BindEnv("toolrepo.postgres.password", "STRATA_TOOLREPO_POSTGRES_PASSWORD")
	v.BindEnv("environment.kernel.auth_token", "STRATA_KERNEL_TOKEN")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// API keys come from the environment when the config file omits them.
	for name, m := range cfg.Agent.LLM.Models {
		if m.APIKey == "" {
			m.APIKey = os.Getenv("STRATA_LLM_API_KEY")
			cfg.Agent.LLM.Models[name] = m
		}
	}

	expanded, err := homedir.Expand(cfg.Environment.WorkingDir)
	if err != nil {
		return nil, fmt.Errorf("invalid working_dir: %w", err)
	}
	cfg.Environment.WorkingDir = expanded

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Agent.MaxRepairIterations <= 0 {
		return fmt.Errorf("agent.max_repair_iterations must be a positive integer")
	}
	if c.Agent.ScoreThreshold < 0 || c.Agent.ScoreThreshold > 10 {
		return fmt.Errorf("agent.score_threshold must be between 0 and 10")
	}
	if c.Environment.WriteRetries < 0 {
		return fmt.Errorf("environment.write_retries must not be negative")
	}
	switch c.ToolRepo.Type {
	case "memory":
	case "postgres":
		if c.ToolRepo.Postgres.Host == "" || c.ToolRepo.Postgres.DBName == "" {
			return fmt.Errorf("toolrepo.postgres.host and toolrepo.postgres.dbname are required")
		}
	default:
		return fmt.Errorf("toolrepo.type must be one of [memory, postgres], got %q", c.ToolRepo.Type)
	}
	return nil
}
