package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and parses the configuration file.
// Files ending in .yaml or .yml are parsed as YAML, anything else as JSON.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data, filepath.Ext(path))
}

// Parse parses configuration data in the format named by ext
func Parse(data []byte, ext string) (*Config, error) {
	cfg := &Config{}
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyDefaults sets default values for unset fields
func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.WireLogLevel == "" {
		cfg.WireLogLevel = DefaultWireLogLevel
	}
	if cfg.WireLogCacheSize == 0 {
		cfg.WireLogCacheSize = DefaultWireLogCacheSize
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.SendThrottle == 0 {
		cfg.SendThrottle = DefaultSendThrottle
	}
	if cfg.ResponseTimeout == 0 {
		cfg.ResponseTimeout = DefaultResponseTimeout
	}
	if cfg.MessageTimeout == 0 {
		cfg.MessageTimeout = DefaultMessageTimeout
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.Metrics != nil {
		if cfg.Metrics.Listen == "" {
			cfg.Metrics.Listen = DefaultMetricsListen
		}
		if cfg.Metrics.Path == "" {
			cfg.Metrics.Path = DefaultMetricsPath
		}
	}

	for i := range cfg.Channels {
		if cfg.Channels[i].Action == "" {
			cfg.Channels[i].Action = ActionSub
		}
		cfg.Channels[i].Action = strings.ToUpper(cfg.Channels[i].Action)
	}
}

// validate checks the configuration for errors
func validate(cfg *Config) error {
	if cfg.URL == "" {
		return errors.New("url is required")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return fmt.Errorf("url is invalid: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("url scheme must be ws or wss")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("logLevel must be one of: debug, info, warn, error")
	}

	validWireLogLevels := map[string]bool{
		"off":     true,
		"partial": true,
		"full":    true,
	}
	if !validWireLogLevels[strings.ToLower(cfg.WireLogLevel)] {
		return fmt.Errorf("wireLogLevel must be one of: off, partial, full")
	}

	if cfg.WireLogCacheSize < 0 {
		return fmt.Errorf("wireLogCacheSize must be non-negative")
	}
	if cfg.TickInterval < 0 {
		return fmt.Errorf("tickInterval must be non-negative")
	}
	if cfg.SendThrottle < 0 {
		return fmt.Errorf("sendThrottle must be non-negative")
	}
	if cfg.ResponseTimeout < 0 {
		return fmt.Errorf("responseTimeout must be non-negative")
	}
	if cfg.MessageTimeout < 0 {
		return fmt.Errorf("messageTimeout must be non-negative")
	}
	if cfg.ReconnectInterval < 0 {
		return fmt.Errorf("reconnectInterval must be non-negative")
	}
	if cfg.PingInterval < 0 {
		return fmt.Errorf("pingInterval must be non-negative")
	}

	if cfg.Metrics != nil && cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	if cfg.Plugins != nil && cfg.Plugins.Timeout < 0 {
		return fmt.Errorf("plugins.timeout must be non-negative")
	}

	subscribed := make(map[string]bool)
	for i, ch := range cfg.Channels {
		if ch.Controller == "" || ch.Topic == "" {
			return fmt.Errorf("channel[%d]: controller and topic are required", i)
		}
		if strings.Contains(ch.Controller, "+") || strings.Contains(ch.Topic, "+") {
			return fmt.Errorf("channel[%d]: controller and topic must not contain '+'", i)
		}
		if ch.Action != ActionSub && ch.Action != ActionPublish {
			return fmt.Errorf("channel[%d]: action must be SUB or PUBLISH", i)
		}
		if ch.IsPublish() {
			continue
		}
		key := ch.Controller + "/" + ch.Topic
		if subscribed[key] {
			return fmt.Errorf("channel[%d]: duplicate subscription '%s'", i, key)
		}
		subscribed[key] = true
	}

	return nil
}
