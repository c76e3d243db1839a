package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultModel          = "gpt-4o"
	DefaultMaxTokens      = 300
	DefaultTemperature    = 0.7
	DefaultHost           = "0.0.0.0"
	DefaultPort           = 5001
	DefaultBufSize        = 100
	DefaultReplyTimeout   = 30 // seconds per model call
	DefaultNotifyTimeout  = 10 // seconds per guardian webhook call
	DefaultHistoryDepth   = 6  // prior turns fed back to the model
	DefaultMaxMessageLen  = 4000
	DefaultRetentionDays  = 90
	DefaultDigestSchedule = "0 0 7 * * 1-5" // weekday mornings
)

type Config struct {
	Agent    AgentConfig    `json:"agent"`
	Provider ProviderConfig `json:"provider"`
	Channels ChannelsConfig `json:"channels"`
	Gateway  GatewayConfig  `json:"gateway"`
	Safety   SafetyConfig   `json:"safety"`
	Audit    AuditConfig    `json:"audit"`
	Digest   DigestConfig   `json:"digest"`
}

type AgentConfig struct {
	Workspace    string  `json:"workspace"`
	Model        string  `json:"model"`
	MaxTokens    int     `json:"maxTokens"`
	Temperature  float64 `json:"temperature"`
	ReplyTimeout int     `json:"replyTimeoutSeconds"`
	HistoryDepth int     `json:"historyDepth"`
}

type ProviderConfig struct {
	Type    string `json:"type,omitempty"` // "openai" (default) or "anthropic"
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
}

type ChannelsConfig struct {
	WebUI    WebUIConfig    `json:"webui"`
	Telegram TelegramConfig `json:"telegram"`
}

type WebUIConfig struct {
	Enabled   bool     `json:"enabled"`
	AllowFrom []string `json:"allowFrom"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
	Proxy     string   `json:"proxy,omitempty"`
}

type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// SafetyConfig tunes escalation detection and the Guardian boundary.
// ExtraTriggers extends the built-in lexicon; entries cannot be removed.
type SafetyConfig struct {
	ExtraTriggers   []string `json:"extraTriggers,omitempty"`
	GuardianWebhook string   `json:"guardianWebhook,omitempty"`
	NotifyTimeout   int      `json:"notifyTimeoutSeconds"`
	MaxMessageLen   int      `json:"maxMessageLen"`
}

type AuditConfig struct {
	DBPath        string `json:"dbPath,omitempty"`
	RetentionDays int    `json:"retentionDays"`
}

type DigestConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"` // 6-field cron expression
	Channel  string `json:"channel,omitempty"`
	To       string `json:"to,omitempty"`
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Agent: AgentConfig{
			Workspace:    filepath.Join(home, ".sparkgate", "workspace"),
			Model:        DefaultModel,
			MaxTokens:    DefaultMaxTokens,
			Temperature:  DefaultTemperature,
			ReplyTimeout: DefaultReplyTimeout,
			HistoryDepth: DefaultHistoryDepth,
		},
		Provider: ProviderConfig{},
		Channels: ChannelsConfig{
			WebUI: WebUIConfig{Enabled: true},
		},
		Gateway: GatewayConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Safety: SafetyConfig{
			NotifyTimeout: DefaultNotifyTimeout,
			MaxMessageLen: DefaultMaxMessageLen,
		},
		Audit: AuditConfig{
			RetentionDays: DefaultRetentionDays,
		},
		Digest: DigestConfig{
			Schedule: DefaultDigestSchedule,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".sparkgate")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if cfg.Agent.Workspace == "" {
		cfg.Agent.Workspace = DefaultConfig().Agent.Workspace
	}
	if cfg.Agent.ReplyTimeout <= 0 {
		cfg.Agent.ReplyTimeout = DefaultReplyTimeout
	}
	if cfg.Agent.HistoryDepth <= 0 {
		cfg.Agent.HistoryDepth = DefaultHistoryDepth
	}
	if cfg.Safety.NotifyTimeout <= 0 {
		cfg.Safety.NotifyTimeout = DefaultNotifyTimeout
	}
	if cfg.Safety.MaxMessageLen <= 0 {
		cfg.Safety.MaxMessageLen = DefaultMaxMessageLen
	}
	if cfg.Audit.RetentionDays <= 0 {
		cfg.Audit.RetentionDays = DefaultRetentionDays
	}
	if cfg.Digest.Schedule == "" {
		cfg.Digest.Schedule = DefaultDigestSchedule
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if key := os.Getenv("SPARKGATE_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
		if cfg.Provider.Type == "" {
			cfg.Provider.Type = "openai"
		}
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
		if cfg.Provider.Type == "" {
			cfg.Provider.Type = "anthropic"
		}
	}
	if url := os.Getenv("SPARKGATE_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if token := os.Getenv("SPARKGATE_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if url := os.Getenv("SPARKGATE_GUARDIAN_WEBHOOK"); url != "" {
		cfg.Safety.GuardianWebhook = url
	}
	if dbPath := os.Getenv("SPARKGATE_AUDIT_DB_PATH"); dbPath != "" {
		cfg.Audit.DBPath = dbPath
	}
	if days := os.Getenv("SPARKGATE_AUDIT_RETENTION_DAYS"); days != "" {
		if parsed, err := strconv.Atoi(days); err == nil {
			cfg.Audit.RetentionDays = parsed
		}
	}
	if port := os.Getenv("SPARKGATE_PORT"); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil {
			cfg.Gateway.Port = parsed
		}
	}
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
