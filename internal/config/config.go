package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/mops-cli/internal/fetcher"
	"github.com/sells-group/mops-cli/internal/listing"
	"github.com/sells-group/mops-cli/internal/resilience"
	"github.com/sells-group/mops-cli/internal/resolve"
	"github.com/sells-group/mops-cli/internal/rules"
)

// Config holds the full application configuration.
type Config struct {
	Portal     PortalConfig   `yaml:"portal" mapstructure:"portal"`
	Download   DownloadConfig `yaml:"download" mapstructure:"download"`
	Rules      RulesConfig    `yaml:"rules" mapstructure:"rules"`
	StrictMode bool           `yaml:"strict_mode" mapstructure:"strict_mode"`
	Store      StoreConfig    `yaml:"store" mapstructure:"store"`
	Server     ServerConfig   `yaml:"server" mapstructure:"server"`
	Log        LogConfig      `yaml:"log" mapstructure:"log"`
}

// PortalConfig points at the disclosure portal.
type PortalConfig struct {
	BaseURL         string   `yaml:"base_url" mapstructure:"base_url"`
	DocBaseURL      string   `yaml:"doc_base_url" mapstructure:"doc_base_url"`
	UserAgent       string   `yaml:"user_agent" mapstructure:"user_agent"`
	VerifyTLS       bool     `yaml:"verify_tls" mapstructure:"verify_tls"`
	Encodings       []string `yaml:"encodings" mapstructure:"encodings"`
	MaxInvalidRatio float64  `yaml:"max_invalid_ratio" mapstructure:"max_invalid_ratio"`
}

// DownloadConfig configures pacing, retries and document validation.
type DownloadConfig struct {
	Dir              string  `yaml:"dir" mapstructure:"dir"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries       int     `yaml:"max_retries" mapstructure:"max_retries"`
	RateLimitMs      int     `yaml:"rate_limit_ms" mapstructure:"rate_limit_ms"`
	MinValidBytes    int64   `yaml:"min_valid_bytes" mapstructure:"min_valid_bytes"`
	ChunkSize        int     `yaml:"chunk_size" mapstructure:"chunk_size"`
	BackoffInitialMs int     `yaml:"backoff_initial_ms" mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int     `yaml:"backoff_max_ms" mapstructure:"backoff_max_ms"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
	ExistingMinBytes int64   `yaml:"existing_min_bytes" mapstructure:"existing_min_bytes"`
	VerifyStructure  bool    `yaml:"verify_structure" mapstructure:"verify_structure"`
}

// RulesConfig is the classification table, inline or from a YAML file.
// File wins when set.
type RulesConfig struct {
	File       string `yaml:"file" mapstructure:"file"`
	rules.Spec `yaml:",inline" mapstructure:",squash"`
}

// StoreConfig configures the session ledger.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads .env, then config.yaml from the working directory, then
// MOPS_ environment variables.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("MOPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("portal.base_url", listing.DefaultBaseURL)
	v.SetDefault("portal.doc_base_url", resolve.DefaultDocBaseURL)
	v.SetDefault("portal.user_agent", fetcher.DefaultUserAgent)
	v.SetDefault("portal.verify_tls", false)
	v.SetDefault("portal.encodings", listing.DefaultEncodings)
	v.SetDefault("portal.max_invalid_ratio", listing.DefaultMaxInvalidRatio)

	v.SetDefault("download.dir", "./downloads")
	v.SetDefault("download.timeout_secs", 30)
	v.SetDefault("download.max_retries", 3)
	v.SetDefault("download.rate_limit_ms", 1000)
	v.SetDefault("download.min_valid_bytes", 1024)
	v.SetDefault("download.chunk_size", 8192)
	v.SetDefault("download.backoff_initial_ms", 1000)
	v.SetDefault("download.backoff_max_ms", 30000)
	v.SetDefault("download.jitter_fraction", 0.25)
	v.SetDefault("download.existing_min_bytes", 102400)
	v.SetDefault("download.verify_structure", false)

	def := rules.DefaultSpec()
	v.SetDefault("rules.file", "")
	v.SetDefault("rules.version", def.Version)
	v.SetDefault("rules.exclude_keywords", def.ExcludeKeywords)
	v.SetDefault("rules.exclude_patterns", def.ExcludePatterns)
	v.SetDefault("rules.primary_keywords", def.PrimaryKeywords)
	v.SetDefault("rules.filename_patterns", def.FilenamePatterns)
	v.SetDefault("rules.flexible_keywords", def.FlexibleKeywords)
	v.SetDefault("strict_mode", false)

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "mops.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// RuleTable compiles the configured rules, reading rules.file when set.
func (c *Config) RuleTable() (*rules.Table, error) {
	spec := c.Rules.Spec
	if c.Rules.File != "" {
		loaded, err := rules.LoadFile(c.Rules.File)
		if err != nil {
			return nil, err
		}
		spec = loaded
	}
	return rules.New(spec)
}

// RetryPolicy builds the shared retry policy from the download settings.
func (c *Config) RetryPolicy() resilience.Policy {
	return resilience.FromConfig(c.Download.MaxRetries, c.Download.BackoffInitialMs, c.Download.BackoffMaxMs, c.Download.JitterFraction)
}

// HTTPOptions builds the session client options.
func (c *Config) HTTPOptions() fetcher.HTTPOptions {
	return fetcher.HTTPOptions{
		UserAgent: c.Portal.UserAgent,
		Timeout:   time.Duration(c.Download.TimeoutSecs) * time.Second,
		RateDelay: time.Duration(c.Download.RateLimitMs) * time.Millisecond,
		VerifyTLS: c.Portal.VerifyTLS,
	}
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
