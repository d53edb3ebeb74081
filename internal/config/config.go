// Package config loads and validates the jobhound configuration. A config
// error is fatal at startup: the pipeline never runs against a partially
// valid configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `mapstructure:"store"`
	Profile  ProfileConfig  `mapstructure:"profile"`
	Match    MatchConfig    `mapstructure:"match"`
	Approval ApprovalConfig `mapstructure:"approval"`
	Screen   ScreenConfig   `mapstructure:"screen"`
	Sources  SourcesConfig  `mapstructure:"sources"`
	AI       AIConfig       `mapstructure:"ai"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Agent    AgentConfig    `mapstructure:"agent"`
}

// StoreConfig selects and configures the posting store backend.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// ProfileConfig points at the candidate profile files.
type ProfileConfig struct {
	ResumeFile   string `mapstructure:"resume-file"`
	UserInfoFile string `mapstructure:"user-info-file"`
}

// MatchConfig is the decision policy: threshold, caps and retry budget.
// It is read once per pipeline pass so a pass never mixes policies.
type MatchConfig struct {
	Threshold  float64 `mapstructure:"threshold"`
	DailyCap   int     `mapstructure:"daily-cap"`
	AutoApply  bool    `mapstructure:"auto-apply"`
	RetryBound int     `mapstructure:"retry-bound"`
	Timezone   string  `mapstructure:"timezone"`
}

// ApprovalConfig configures the human approval gate.
type ApprovalConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	Transport string        `mapstructure:"transport"`
}

// ScreenConfig lists discovery-time screening rules.
type ScreenConfig struct {
	RedFlags         []string `mapstructure:"red-flags"`
	ExcludeCompanies []string `mapstructure:"exclude-companies"`
}

// SourcesConfig enables and configures posting sources.
type SourcesConfig struct {
	RemoteOK RemoteOKConfig `mapstructure:"remoteok"`
	Adzuna   AdzunaConfig   `mapstructure:"adzuna"`
}

// RemoteOKConfig configures the RemoteOK feed.
type RemoteOKConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	BaseURL string   `mapstructure:"base-url"`
	Tags    []string `mapstructure:"tags"`
}

// AdzunaConfig configures the Adzuna search API.
type AdzunaConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	BaseURL    string   `mapstructure:"base-url"`
	AppID      string   `mapstructure:"app-id"`
	AppKeyFile string   `mapstructure:"app-key-file"`
	Country    string   `mapstructure:"country"`
	Keywords   []string `mapstructure:"keywords"`
	MaxPages   int      `mapstructure:"max-pages"`
}

// AIConfig configures the scorer and tailor models.
type AIConfig struct {
	Gemini GeminiConfig `mapstructure:"gemini"`
}

// GeminiConfig holds Gemini API settings.
type GeminiConfig struct {
	APIKeyFile   string        `mapstructure:"api-key-file"`
	Model        string        `mapstructure:"model"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max-retries"`
	MaxLogLength int           `mapstructure:"max-log-length"`
}

// TelegramConfig holds the Telegram bot credentials.
type TelegramConfig struct {
	TokenFile string `mapstructure:"token-file"`
	ChatID    int64  `mapstructure:"chat-id"`
}

// AgentConfig configures the browser agent that performs submissions.
type AgentConfig struct {
	BaseURL       string        `mapstructure:"base-url"`
	TokenFile     string        `mapstructure:"token-file"`
	SubmitTimeout time.Duration `mapstructure:"submit-timeout"`
	MinInterval   time.Duration `mapstructure:"min-interval"`
	EvidenceDir   string        `mapstructure:"evidence-dir"`
}

// Load reads configuration from the given file (or jobhound.yaml in the
// current directory) and the JOBHOUND_* environment.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("jobhound")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("JOBHOUND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
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
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "data/jobhound.db")

	v.SetDefault("profile.resume-file", "resume.txt")
	v.SetDefault("profile.user-info-file", "user_info.json")

	v.SetDefault("match.threshold", 0.42)
	v.SetDefault("match.daily-cap", 15)
	v.SetDefault("match.auto-apply", false)
	v.SetDefault("match.retry-bound", 2)
	v.SetDefault("match.timezone", "UTC")

	v.SetDefault("approval.timeout", "48h")
	v.SetDefault("approval.transport", "console")

	v.SetDefault("sources.remoteok.enabled", true)
	v.SetDefault("sources.remoteok.base-url", "https://remoteok.com/api")
	v.SetDefault("sources.remoteok.tags", []string{"golang"})
	v.SetDefault("sources.adzuna.enabled", false)
	v.SetDefault("sources.adzuna.base-url", "https://api.adzuna.com/v1/api/jobs")
	v.SetDefault("sources.adzuna.country", "gb")
	v.SetDefault("sources.adzuna.max-pages", 2)

	v.SetDefault("ai.gemini.model", "gemini-2.5-flash")
	v.SetDefault("ai.gemini.timeout", "60s")
	v.SetDefault("ai.gemini.max-retries", 3)
	v.SetDefault("ai.gemini.max-log-length", 200)

	v.SetDefault("agent.base-url", "http://127.0.0.1:8931")
	v.SetDefault("agent.submit-timeout", "3m")
	v.SetDefault("agent.min-interval", "30s")
	v.SetDefault("agent.evidence-dir", "data/evidence")
}

// Validate checks every setting the pipeline depends on. The returned error
// names the offending key.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("store.driver must be sqlite or postgres, got %q", c.Store.Driver)
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required")
	}

	if c.Match.Threshold < 0 || c.Match.Threshold > 1 {
		return fmt.Errorf("match.threshold must be within [0, 1], got %v", c.Match.Threshold)
	}
	if c.Match.DailyCap < 1 {
		return fmt.Errorf("match.daily-cap must be at least 1, got %d", c.Match.DailyCap)
	}
	if c.Match.RetryBound < 0 {
		return fmt.Errorf("match.retry-bound must not be negative, got %d", c.Match.RetryBound)
	}
	if _, err := time.LoadLocation(c.Match.Timezone); err != nil {
		return fmt.Errorf("match.timezone %q is not a valid IANA zone: %w", c.Match.Timezone, err)
	}

	if c.Approval.Timeout <= 0 {
		return fmt.Errorf("approval.timeout must be positive, got %v", c.Approval.Timeout)
	}
	switch c.Approval.Transport {
	case "telegram":
		if c.Telegram.TokenFile == "" {
			return fmt.Errorf("telegram.token-file is required for the telegram approval transport")
		}
		if c.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram.chat-id is required for the telegram approval transport")
		}
	case "console":
	default:
		return fmt.Errorf("approval.transport must be telegram or console, got %q", c.Approval.Transport)
	}

	if c.Sources.Adzuna.Enabled {
		if c.Sources.Adzuna.AppID == "" || c.Sources.Adzuna.AppKeyFile == "" {
			return fmt.Errorf("sources.adzuna.app-id and app-key-file are required when adzuna is enabled")
		}
	}
	if !c.Sources.RemoteOK.Enabled && !c.Sources.Adzuna.Enabled {
		return fmt.Errorf("at least one source must be enabled")
	}

	if c.AI.Gemini.Timeout <= 0 {
		return fmt.Errorf("ai.gemini.timeout must be positive, got %v", c.AI.Gemini.Timeout)
	}
	if c.Agent.SubmitTimeout <= 0 {
		return fmt.Errorf("agent.submit-timeout must be positive, got %v", c.Agent.SubmitTimeout)
	}

	return nil
}

// Location resolves the operating-day timezone. Validate guarantees this
// cannot fail afterwards.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Match.Timezone)
	if err != nil {
		return nil, eris.Wrapf(err, "config: load timezone %s", c.Match.Timezone)
	}
	return loc, nil
}
