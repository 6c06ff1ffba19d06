package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Config is the root configuration for the relay.
type Config struct {
	Server         ServerConfig         `json:"server"`
	Messenger      MessengerConfig      `json:"messenger"`
	General        GeneralConfig        `json:"general"`
	TextGeneration TextGenerationConfig `json:"textGeneration"`
	Capabilities   CapabilitiesConfig   `json:"capabilities"`
	Reply          ReplyConfig          `json:"reply"`
	Session        SessionConfig        `json:"session"`
	Dedupe         DedupeConfig         `json:"dedupe"`
	Journal        JournalConfig        `json:"journal"`
	Metrics        MetricsConfig        `json:"metrics"`
	Persona        PersonaConfig        `json:"persona"`
	Channels       ChannelsConfig       `json:"channels"`
}

type ServerConfig struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	StaticDir string `json:"staticDir,omitempty"` // served at / when it exists
	PublicURL string `json:"publicUrl,omitempty"` // externally reachable base, used for proxied file links
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}

type MessengerConfig struct {
	Enabled         bool   `json:"enabled"`
	PageAccessToken string `json:"pageAccessToken,omitempty"`
	VerifyToken     string `json:"verifyToken"`
	AppSecret       string `json:"appSecret,omitempty"` // enables X-Hub-Signature-256 checks
	APIBase         string `json:"apiBase"`
	WebhookPath     string `json:"webhookPath"`
}

type GeneralConfig struct {
	LogLevel                 string `json:"logLevel"`
	LogFormat                string `json:"logFormat"` // "text" | "json"
	LogFile                  string `json:"logFile,omitempty"`
	MaxConcurrentEvents      int    `json:"maxConcurrentEvents"`
	QueueSize                int    `json:"queueSize"`
	CapabilityTimeoutSeconds int    `json:"capabilityTimeoutSeconds"`
	DeliveryTimeoutSeconds   int    `json:"deliveryTimeoutSeconds"`
	RateLimitPerMinute       int    `json:"rateLimitPerMinute"` // 0 = unthrottled text generation
}

type TextGenerationConfig struct {
	Backend  string                   `json:"backend"`
	Failover []string                 `json:"failover,omitempty"` // tried in order after backend
	Backends map[string]BackendConfig `json:"backends"`
}

// BackendConfig describes one text-generation backend.
type BackendConfig struct {
	Type        string  `json:"type"` // "openai" | "ollama"; defaults to the backend's name
	APIBase     string  `json:"apiBase,omitempty"`
	APIKey      string  `json:"apiKey,omitempty"`
	Model       string  `json:"model,omitempty"`
	MaxTokens   int     `json:"maxTokens,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
}

type CapabilitiesConfig struct {
	Imagine EndpointConfig `json:"imagine"`
	Gemini  EndpointConfig `json:"gemini"`
	Spotify EndpointConfig `json:"spotify"`
}

type EndpointConfig struct {
	APIBase string `json:"apiBase"`
}

type ReplyConfig struct {
	Ceiling  int    `json:"ceiling"`
	Ellipsis string `json:"ellipsis"`
}

type SessionConfig struct {
	MaxTurns int `json:"maxTurns"` // 0 keeps the whole transcript
}

type DedupeConfig struct {
	Enabled    bool   `json:"enabled"`
	TTLSeconds int    `json:"ttlSeconds"`
	RedisURL   string `json:"redisURL,omitempty"` // shared guard across replicas when set
}

type JournalConfig struct {
	Enabled       bool   `json:"enabled"`
	DBPath        string `json:"dbPath"`
	RetentionDays int    `json:"retentionDays"`
	PruneSchedule string `json:"pruneSchedule"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type PersonaConfig struct {
	Path string `json:"path,omitempty"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token,omitempty"`
	AllowFrom FlexStringList `json:"allowFrom,omitempty"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.relaybot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".relaybot"
	}
	return filepath.Join(home, ".relaybot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// LoadEnvFiles loads .env files into the process environment. Variables that
// are already set win; missing files are skipped.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads, expands and validates the config file at path.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	ApplyEnv(cfg)
	cfg.expandPaths()

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, except a missing file yields the defaults plus
// environment overrides.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	cfg = Defaults()
	ApplyEnv(cfg)
	cfg.expandPaths()
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays the deployment environment variables on cfg.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PUBLIC_URL"); v != "" {
		cfg.Server.PublicURL = v
	}
	if v := os.Getenv("PAGE_ACCESS_TOKEN"); v != "" {
		cfg.Messenger.PageAccessToken = v
		cfg.Messenger.Enabled = true
	}
	if v := os.Getenv("VERIFY_TOKEN"); v != "" {
		cfg.Messenger.VerifyToken = v
	}
	if v := os.Getenv("APP_SECRET"); v != "" {
		cfg.Messenger.AppSecret = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		bc := cfg.TextGeneration.Backends["openai"]
		if bc.APIKey == "" {
			bc.APIKey = v
			if cfg.TextGeneration.Backends == nil {
				cfg.TextGeneration.Backends = make(map[string]BackendConfig)
			}
			cfg.TextGeneration.Backends["openai"] = bc
		}
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Dedupe.RedisURL = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Channels.Telegram.Token = v
		cfg.Channels.Telegram.Enabled = true
	}
}

func (cfg *Config) expandPaths() {
	cfg.Journal.DBPath = ExpandPath(cfg.Journal.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Persona.Path = ExpandPath(cfg.Persona.Path)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	// Secrets live in this file.
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values. All problems are reported at once.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Server.PublicURL != "" && !strings.HasPrefix(cfg.Server.PublicURL, "http://") && !strings.HasPrefix(cfg.Server.PublicURL, "https://") {
		errs = append(errs, "server.publicUrl must be an http(s) URL")
	}
	if !strings.HasPrefix(cfg.Messenger.WebhookPath, "/") {
		errs = append(errs, "messenger.webhookPath must start with /")
	}
	if cfg.Messenger.VerifyToken == "" {
		errs = append(errs, "messenger.verifyToken must not be empty")
	}

	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	switch cfg.General.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, "general.logFormat must be one of: text, json")
	}
	if cfg.General.MaxConcurrentEvents < 1 || cfg.General.MaxConcurrentEvents > 1000 {
		errs = append(errs, "general.maxConcurrentEvents must be between 1 and 1000")
	}
	if cfg.General.QueueSize < 1 {
		errs = append(errs, "general.queueSize must be >= 1")
	}
	if cfg.General.CapabilityTimeoutSeconds < 1 {
		errs = append(errs, "general.capabilityTimeoutSeconds must be >= 1")
	}
	if cfg.General.DeliveryTimeoutSeconds < 1 {
		errs = append(errs, "general.deliveryTimeoutSeconds must be >= 1")
	}
	if cfg.General.RateLimitPerMinute < 0 {
		errs = append(errs, "general.rateLimitPerMinute must be >= 0")
	}

	// Backend and failover chain must reference configured backends.
	chain := append([]string{cfg.TextGeneration.Backend}, cfg.TextGeneration.Failover...)
	for _, name := range chain {
		bc, ok := cfg.TextGeneration.Backends[name]
		if !ok {
			errs = append(errs, fmt.Sprintf("textGeneration references unknown backend: %q", name))
			continue
		}
		switch bc.BackendType(name) {
		case "openai", "ollama":
		default:
			errs = append(errs, fmt.Sprintf("textGeneration.backends.%s: unknown type %q", name, bc.Type))
		}
	}

	if cfg.Reply.Ceiling < 2 {
		errs = append(errs, "reply.ceiling must be >= 2")
	}
	if len([]rune(cfg.Reply.Ellipsis)) >= cfg.Reply.Ceiling {
		errs = append(errs, "reply.ellipsis must be shorter than reply.ceiling")
	}
	if cfg.Session.MaxTurns < 0 {
		errs = append(errs, "session.maxTurns must be >= 0")
	}
	if cfg.Dedupe.Enabled && cfg.Dedupe.TTLSeconds < 1 {
		errs = append(errs, "dedupe.ttlSeconds must be >= 1")
	}

	if cfg.Journal.Enabled {
		if cfg.Journal.DBPath == "" {
			errs = append(errs, "journal.dbPath is required when the journal is enabled")
		}
		if cfg.Journal.RetentionDays < 1 {
			errs = append(errs, "journal.retentionDays must be >= 1")
		}
		if _, err := cron.ParseStandard(cfg.Journal.PruneSchedule); err != nil {
			errs = append(errs, fmt.Sprintf("journal.pruneSchedule: %v", err))
		}
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, "metrics.path must start with /")
	}
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, "channels.telegram.token is required when telegram is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// BackendType resolves the backend implementation for a named entry.
func (b BackendConfig) BackendType(name string) string {
	if b.Type != "" {
		return b.Type
	}
	return name
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
