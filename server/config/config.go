// Package config loads the service configuration from an optional YAML file
// and CALENDARBOT_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultRefreshInterval = 300
	MinRefreshInterval     = 60
	MaxRefreshInterval     = 1800

	DefaultExpansionDays  = 14
	DefaultWindowSize     = 5
	DefaultServerBind     = "0.0.0.0"
	DefaultServerPort     = 8080
	DefaultRequestTimeout = 30
	DefaultMaxRetries     = 3
	DefaultBackoffFactor  = 1.5

	maxSources = 3
)

// Source describes one ICS feed. In YAML it may be given either as a bare
// URL string or as an object with name/url.
type Source struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

func (s *Source) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		s.URL = node.Value
		return nil
	}
	type plain Source
	return node.Decode((*plain)(s))
}

type Config struct {
	Sources    []Source `yaml:"sources"`
	ICSSources []Source `yaml:"ics_sources"` // legacy alias, merged into Sources

	RefreshIntervalSeconds int     `yaml:"refresh_interval_seconds"`
	RRuleExpansionDays     int     `yaml:"rrule_expansion_days"`
	EventWindowSize        int     `yaml:"event_window_size"`
	ServerBind             string  `yaml:"server_bind"`
	ServerPort             int     `yaml:"server_port"`
	AlexaBearerToken       string  `yaml:"alexa_bearer_token"`
	LogLevel               string  `yaml:"log_level"`
	RequestTimeoutSeconds  int     `yaml:"request_timeout_seconds"`
	MaxRetries             int     `yaml:"max_retries"`
	RetryBackoffFactor     float64 `yaml:"retry_backoff_factor"`
	SkipStorePath          string  `yaml:"skip_store_path"`
	RedisURL               string  `yaml:"redis_url"`

	NonInteractive bool `yaml:"-"`
}

// Load reads path (if non-empty), applies environment overrides, then fills
// defaults and clamps out-of-range values. A missing required source list is
// not an error here; the pipeline simply has nothing to fetch.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	// Merge the legacy key.
	cfg.Sources = append(cfg.Sources, cfg.ICSSources...)
	cfg.ICSSources = nil

	applyEnv(cfg)
	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CALENDARBOT_ICS_URL"); v != "" {
		cfg.Sources = append(cfg.Sources, Source{URL: v})
	}
	for _, key := range []string{"CALENDARBOT_REFRESH_INTERVAL_SECONDS", "CALENDARBOT_REFRESH_INTERVAL"} {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				cfg.RefreshIntervalSeconds = n
			}
			break
		}
	}
	for _, key := range []string{"CALENDARBOT_WEB_HOST", "CALENDARBOT_SERVER_BIND"} {
		if v := os.Getenv(key); v != "" {
			cfg.ServerBind = v
			break
		}
	}
	for _, key := range []string{"CALENDARBOT_WEB_PORT", "CALENDARBOT_SERVER_PORT"} {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				cfg.ServerPort = n
			}
			break
		}
	}
	if v := os.Getenv("CALENDARBOT_ALEXA_BEARER_TOKEN"); v != "" {
		cfg.AlexaBearerToken = v
	}
	if v := os.Getenv("CALENDARBOT_NONINTERACTIVE"); v != "" && v != "0" && !strings.EqualFold(v, "false") {
		cfg.NonInteractive = true
	}
}

func applyDefaults(cfg *Config) {
	if cfg.RefreshIntervalSeconds == 0 {
		cfg.RefreshIntervalSeconds = DefaultRefreshInterval
	}
	if cfg.RefreshIntervalSeconds < MinRefreshInterval {
		cfg.RefreshIntervalSeconds = MinRefreshInterval
	}
	if cfg.RefreshIntervalSeconds > MaxRefreshInterval {
		cfg.RefreshIntervalSeconds = MaxRefreshInterval
	}
	if cfg.RRuleExpansionDays <= 0 {
		cfg.RRuleExpansionDays = DefaultExpansionDays
	}
	if cfg.EventWindowSize <= 0 {
		cfg.EventWindowSize = DefaultWindowSize
	}
	if cfg.ServerBind == "" {
		cfg.ServerBind = DefaultServerBind
	}
	if cfg.ServerPort == 0 {
		cfg.ServerPort = DefaultServerPort
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "INFO"
	}
	cfg.LogLevel = strings.ToUpper(cfg.LogLevel)
	if cfg.RequestTimeoutSeconds <= 0 {
		cfg.RequestTimeoutSeconds = DefaultRequestTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryBackoffFactor <= 1 {
		cfg.RetryBackoffFactor = DefaultBackoffFactor
	}
	if cfg.SkipStorePath == "" {
		cfg.SkipStorePath = defaultSkipStorePath()
	}

	for i := range cfg.Sources {
		if cfg.Sources[i].Name == "" {
			cfg.Sources[i].Name = fmt.Sprintf("source-%d", i+1)
		}
	}
	if len(cfg.Sources) > maxSources {
		cfg.Sources = cfg.Sources[:maxSources]
	}
}

func validate(cfg *Config) error {
	for _, src := range cfg.Sources {
		if src.URL == "" {
			return errors.New("config: source with empty url")
		}
	}
	if cfg.ServerPort < 1 || cfg.ServerPort > 65535 {
		return fmt.Errorf("config: server_port %d out of range", cfg.ServerPort)
	}
	return nil
}

func defaultSkipStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "calendarbot", "skipped.json")
}
