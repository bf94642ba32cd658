package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all Caption Relay environment
// variables.
const EnvPrefix = "CAPTION_RELAY_"

// PlatformSelectors configures caption extraction for one meeting platform.
// Containers are tried in order; TextSelector and SpeakerSelector address
// sub-elements inside a caption line.
type PlatformSelectors struct {
	Containers      []string `yaml:"containers"`
	TextSelector    string   `yaml:"text_selector"`
	SpeakerSelector string   `yaml:"speaker_selector"`
}

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	CoordinatorURL        string                       `yaml:"coordinator_url"`
	CoordinatorListenAddr string                       `yaml:"coordinator_listen_addr"`
	AgentListenAddr       string                       `yaml:"agent_listen_addr"`
	DBPath                string                       `yaml:"db_path"`
	FlushThreshold        int                          `yaml:"flush_threshold"`
	FlushInterval         string                       `yaml:"flush_interval"`
	ReconnectDelay        string                       `yaml:"reconnect_delay"`
	MaxReconnectAttempts  int                          `yaml:"max_reconnect_attempts"`
	PersistInterval       string                       `yaml:"persist_interval"`
	Selectors             map[string]PlatformSelectors `yaml:"selectors"`
	OpenAIModel           string                       `yaml:"openai_model"`
	GDriveFolderID        string                       `yaml:"gdrive_folder_id"`
	GoogleCredentialsFile string                       `yaml:"google_credentials_file"`

	// Secrets, env vars only, never serialized to YAML.
	OpenAIAPIKey string `yaml:"-"`
}

func defaults() Config {
	return Config{
		CoordinatorURL:        "ws://127.0.0.1:8365/ws/agent",
		CoordinatorListenAddr: "127.0.0.1:8365",
		AgentListenAddr:       "127.0.0.1:8366",
		DBPath:                "data/caption-relay.db",
		FlushThreshold:        10,
		FlushInterval:         "5s",
		ReconnectDelay:        "5s",
		MaxReconnectAttempts:  10,
		PersistInterval:       "10s",
		Selectors: map[string]PlatformSelectors{
			"google-meet": {
				Containers:      []string{"div.a4cQT", "div.iOzk7"},
				TextSelector:    "span.iTTPOb",
				SpeakerSelector: "span.zs7s8d",
			},
			"teams": {
				Containers:      []string{"div.closed-captions-renderer", "div.cc-container"},
				TextSelector:    "span.ui-chat__messagecontent",
				SpeakerSelector: "span.ui-chat__message-author",
			},
			"zoom": {
				Containers:      []string{"#live-transcription-subtitle", "div.caption-window"},
				TextSelector:    "span.caption-text",
				SpeakerSelector: "span.caption-speaker",
			},
		},
		OpenAIModel:           "gpt-4o-mini",
		GoogleCredentialsFile: "./service-account.json",
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// ParsedFlushInterval returns FlushInterval as a time.Duration, falling
// back to 5s if the value is invalid.
func (c *Config) ParsedFlushInterval() time.Duration {
	return parseDuration(c.FlushInterval, 5*time.Second)
}

// ParsedReconnectDelay returns ReconnectDelay as a time.Duration, falling
// back to 5s if the value is invalid.
func (c *Config) ParsedReconnectDelay() time.Duration {
	return parseDuration(c.ReconnectDelay, 5*time.Second)
}

// ParsedPersistInterval returns PersistInterval as a time.Duration, falling
// back to 10s if the value is invalid.
func (c *Config) ParsedPersistInterval() time.Duration {
	return parseDuration(c.PersistInterval, 10*time.Second)
}

// SelectorsFor returns the extraction selectors for a platform name, or
// false when the platform has no configuration.
func (c *Config) SelectorsFor(platform string) (PlatformSelectors, bool) {
	sel, ok := c.Selectors[platform]
	return sel, ok
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "COORDINATOR_URL"); v != "" {
		cfg.CoordinatorURL = v
	}
	if v := os.Getenv(EnvPrefix + "COORDINATOR_LISTEN_ADDR"); v != "" {
		cfg.CoordinatorListenAddr = v
	}
	if v := os.Getenv(EnvPrefix + "AGENT_LISTEN_ADDR"); v != "" {
		cfg.AgentListenAddr = v
	}
	if v := os.Getenv(EnvPrefix + "DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvPrefix + "FLUSH_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.FlushThreshold = n
		}
	}
	if v := os.Getenv(EnvPrefix + "FLUSH_INTERVAL"); v != "" {
		cfg.FlushInterval = v
	}
	if v := os.Getenv(EnvPrefix + "RECONNECT_DELAY"); v != "" {
		cfg.ReconnectDelay = v
	}
	if v := os.Getenv(EnvPrefix + "MAX_RECONNECT_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.MaxReconnectAttempts = n
		}
	}
	if v := os.Getenv(EnvPrefix + "PERSIST_INTERVAL"); v != "" {
		cfg.PersistInterval = v
	}
	if v := os.Getenv(EnvPrefix + "OPENAI_MODEL"); v != "" {
		cfg.OpenAIModel = v
	}
	if v := os.Getenv(EnvPrefix + "GDRIVE_FOLDER_ID"); v != "" {
		cfg.GDriveFolderID = v
	}
	if v := os.Getenv(EnvPrefix + "GOOGLE_CREDENTIALS_FILE"); v != "" {
		cfg.GoogleCredentialsFile = v
	}
}

func loadSecrets(cfg *Config) {
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
}

func validate(cfg *Config) []string {
	var warnings []string

	if cfg.OpenAIAPIKey == "" {
		warnings = append(warnings, "OpenAI API key not configured, session summaries are disabled. Set "+EnvPrefix+"OPENAI_API_KEY.")
	}
	if _, err := time.ParseDuration(cfg.FlushInterval); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid flush_interval %q, using default 5s.", cfg.FlushInterval))
	}
	if _, err := time.ParseDuration(cfg.ReconnectDelay); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid reconnect_delay %q, using default 5s.", cfg.ReconnectDelay))
	}
	if _, err := time.ParseDuration(cfg.PersistInterval); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid persist_interval %q, using default 10s.", cfg.PersistInterval))
	}
	if cfg.FlushThreshold <= 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid flush_threshold %d, using default 10.", cfg.FlushThreshold))
		cfg.FlushThreshold = 10
	}
	if len(cfg.Selectors) == 0 {
		warnings = append(warnings, "No platform selectors configured, caption extraction will observe the page root only.")
	}

	return warnings
}
