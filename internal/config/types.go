package config

import (
	"strings"
	"time"
)

// Channel actions accepted in channel configuration
const (
	ActionSub     = "SUB"
	ActionPublish = "PUBLISH"
)

// Config represents the main configuration structure
type Config struct {
	LogLevel          string          `json:"logLevel" yaml:"logLevel"`
	WireLogLevel      string          `json:"wireLogLevel" yaml:"wireLogLevel"`         // off, partial or full
	WireLogCacheSize  int             `json:"wireLogCacheSize" yaml:"wireLogCacheSize"` // requests tracked for partial wire logging
	URL               string          `json:"url" yaml:"url"`
	TickInterval      int             `json:"tickInterval" yaml:"tickInterval"`       // ms - interval between engine ticks
	SendThrottle      int             `json:"sendThrottle" yaml:"sendThrottle"`       // requests sent per tick
	ResponseTimeout   int             `json:"responseTimeout" yaml:"responseTimeout"` // ms - time to wait for a reply to a request
	MessageTimeout    int             `json:"messageTimeout" yaml:"messageTimeout"`   // ms - timeout for receiving any message from the server
	ReconnectInterval int             `json:"reconnectInterval" yaml:"reconnectInterval"`
	PingInterval      int             `json:"pingInterval" yaml:"pingInterval"`
	Metrics           *MetricsConfig  `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Plugins           *PluginConfig   `json:"plugins,omitempty" yaml:"plugins,omitempty"`
	Channels          []ChannelConfig `json:"channels" yaml:"channels"`
}

// MetricsConfig represents the Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Listen  string `json:"listen" yaml:"listen"`
	Path    string `json:"path" yaml:"path"`
}

// PluginConfig represents plugin configuration
type PluginConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Directory string `json:"directory" yaml:"directory"` // path to plugins directory
	Timeout   int    `json:"timeout" yaml:"timeout"`     // execution timeout in milliseconds
}

// ChannelConfig is a subscription activated at startup
type ChannelConfig struct {
	Controller    string `json:"controller" yaml:"controller"`
	Topic         string `json:"topic" yaml:"topic"`
	Action        string `json:"action" yaml:"action"` // SUB (default) or PUBLISH
	Data          any    `json:"data,omitempty" yaml:"data,omitempty"`
	ResendAllowed *bool  `json:"resendAllowed,omitempty" yaml:"resendAllowed,omitempty"`
}

// Default values
const (
	DefaultLogLevel          = "info"
	DefaultWireLogLevel      = "off"
	DefaultWireLogCacheSize  = 1024
	DefaultTickInterval      = 100 // ms
	DefaultSendThrottle      = 20
	DefaultResponseTimeout   = 30000 // ms
	DefaultMessageTimeout    = 60000 // ms - timeout for receiving messages from the server (60s)
	DefaultReconnectInterval = 5000  // ms - interval between reconnection attempts (5s)
	DefaultPingInterval      = 30000 // ms
	DefaultMetricsListen     = ":9090"
	DefaultMetricsPath       = "/metrics"
	DefaultPluginDirectory   = "./plugins"
	DefaultPluginTimeout     = 1000 // ms - default decode execution timeout
)

// GetTickIntervalDuration returns tick interval as time.Duration
func (c *Config) GetTickIntervalDuration() time.Duration {
	return time.Duration(c.TickInterval) * time.Millisecond
}

// GetResponseTimeoutDuration returns response timeout as time.Duration
func (c *Config) GetResponseTimeoutDuration() time.Duration {
	return time.Duration(c.ResponseTimeout) * time.Millisecond
}

// GetMessageTimeoutDuration returns message timeout as time.Duration
func (c *Config) GetMessageTimeoutDuration() time.Duration {
	return time.Duration(c.MessageTimeout) * time.Millisecond
}

// GetReconnectIntervalDuration returns reconnect interval as time.Duration
func (c *Config) GetReconnectIntervalDuration() time.Duration {
	return time.Duration(c.ReconnectInterval) * time.Millisecond
}

// GetPingIntervalDuration returns ping interval as time.Duration
func (c *Config) GetPingIntervalDuration() time.Duration {
	return time.Duration(c.PingInterval) * time.Millisecond
}

// IsMetricsEnabled returns true if metrics are configured and enabled
func (c *Config) IsMetricsEnabled() bool {
	return c.Metrics != nil && c.Metrics.Enabled
}

// IsPluginsEnabled returns true if plugins are configured and enabled
func (c *Config) IsPluginsEnabled() bool {
	return c.Plugins != nil && c.Plugins.Enabled
}

// GetPluginDirectory returns the plugins directory path
func (c *Config) GetPluginDirectory() string {
	if c.Plugins == nil || c.Plugins.Directory == "" {
		return DefaultPluginDirectory
	}
	return c.Plugins.Directory
}

// GetPluginTimeoutDuration returns plugin timeout as time.Duration
func (c *Config) GetPluginTimeoutDuration() time.Duration {
	if c.Plugins == nil || c.Plugins.Timeout == 0 {
		return time.Duration(DefaultPluginTimeout) * time.Millisecond
	}
	return time.Duration(c.Plugins.Timeout) * time.Millisecond
}

// IsPublish returns true for one-shot publish channels
func (c *ChannelConfig) IsPublish() bool {
	return strings.EqualFold(c.Action, ActionPublish)
}

// IsResendAllowed returns the configured value, defaulting to true for
// subscriptions and false for publish requests
func (c *ChannelConfig) IsResendAllowed() bool {
	if c.ResendAllowed != nil {
		return *c.ResendAllowed
	}
	return !c.IsPublish()
}
