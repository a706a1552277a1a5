package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"
)

// DefaultExecutionTimeout is the default timeout for a decode call
const DefaultExecutionTimeout = time.Second

// channelDirectiveRegex matches @channel directive in comments
var channelDirectiveRegex = regexp.MustCompile(`(?m)^//\s*@channel\s+(\S+/\S+)`)

// PluginManager manages JavaScript plugins
type PluginManager struct {
	plugins  map[string]*Plugin  // channel -> plugin
	runtimes map[string]*Runtime // channel -> loaded runtime
	logger   zerolog.Logger
	timeout  time.Duration
	mu       sync.Mutex
}

var _ Manager = (*PluginManager)(nil)

// NewPluginManager creates a new PluginManager
func NewPluginManager(logger zerolog.Logger) *PluginManager {
	return &PluginManager{
		plugins:  make(map[string]*Plugin),
		runtimes: make(map[string]*Runtime),
		logger:   logger.With().Str("component", "plugin-manager").Logger(),
		timeout:  DefaultExecutionTimeout,
	}
}

// SetTimeout sets the execution timeout for plugins
func (m *PluginManager) SetTimeout(timeout time.Duration) {
	m.timeout = timeout
}

// LoadFromDirectory loads all .js plugins from a directory
func (m *PluginManager) LoadFromDirectory(dir string) error {
	// Check if directory exists
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		m.logger.Warn().Str("directory", dir).Msg("plugins directory does not exist")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat plugins directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("plugins path is not a directory: %s", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read plugins directory: %w", err)
	}

	loadedCount := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".js") {
			continue
		}

		pluginPath := filepath.Join(dir, entry.Name())
		content, err := os.ReadFile(pluginPath)
		if err != nil {
			m.logger.Error().Err(err).Str("file", entry.Name()).Msg("failed to read plugin file")
			continue
		}

		name := strings.TrimSuffix(entry.Name(), ".js")
		if err := m.LoadScript(name, string(content)); err != nil {
			m.logger.Error().
				Err(err).
				Str("file", entry.Name()).
				Msg("failed to load plugin")
			continue
		}
		loadedCount++
	}

	m.logger.Info().
		Int("loaded", loadedCount).
		Str("directory", dir).
		Msg("plugins loaded")

	return nil
}

// LoadScript compiles and registers a plugin from source
func (m *PluginManager) LoadScript(name, script string) error {
	channel := extractChannelDirective(script)
	if channel == "" {
		return fmt.Errorf("plugin missing @channel directive")
	}

	program, err := goja.Compile(name+".js", script, true)
	if err != nil {
		return fmt.Errorf("failed to compile plugin: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.plugins[channel]; exists {
		return fmt.Errorf("duplicate channel: %s", channel)
	}

	m.plugins[channel] = &Plugin{
		Name:    name,
		Channel: channel,
		Script:  script,
		program: program,
	}

	m.logger.Info().
		Str("name", name).
		Str("channel", channel).
		Msg("plugin loaded")

	return nil
}

// extractChannelDirective extracts the Controller/Topic from @channel directive
func extractChannelDirective(script string) string {
	matches := channelDirectiveRegex.FindStringSubmatch(script)
	if len(matches) >= 2 {
		return matches[1]
	}
	return ""
}

// HasPlugin checks if a plugin exists for the given channel
func (m *PluginManager) HasPlugin(channel string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.plugins[channel]
	return exists
}

// Decode runs the plugin registered for channel on msg
func (m *PluginManager) Decode(channel string, msg Message) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	plugin, exists := m.plugins[channel]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, channel)
	}

	runtime, err := m.runtimeFor(plugin)
	if err != nil {
		return nil, err
	}

	input, err := messageValue(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrPluginExecution, plugin.Name, err)
	}

	timer := time.AfterFunc(m.timeout, func() {
		runtime.Interrupt("timeout")
	})
	value, err := runtime.CallFunction("decode", input)
	timer.Stop()

	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			// an interrupted runtime may hold partial state
			delete(m.runtimes, channel)
			m.logger.Warn().
				Str("plugin", plugin.Name).
				Dur("timeout", m.timeout).
				Msg("plugin execution timed out")
			return nil, fmt.Errorf("%w: %s", ErrPluginTimeout, plugin.Name)
		}
		runtime.ClearInterrupt()
		var jsErr *goja.Exception
		if errors.As(err, &jsErr) {
			return nil, fmt.Errorf("%w: %s: %s", ErrPluginExecution, plugin.Name, jsErr.String())
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrPluginExecution, plugin.Name, err)
	}
	runtime.ClearInterrupt()

	return resultFromValue(value)
}

// runtimeFor returns the plugin's runtime, running its script on first use
func (m *PluginManager) runtimeFor(plugin *Plugin) (*Runtime, error) {
	if runtime, ok := m.runtimes[plugin.Channel]; ok {
		return runtime, nil
	}

	runtime := NewRuntime(m.logger.With().Str("plugin", plugin.Name).Logger())
	if _, err := runtime.RunProgram(plugin.program); err != nil {
		m.logger.Error().
			Err(err).
			Str("plugin", plugin.Name).
			Msg("failed to load plugin script")
		return nil, fmt.Errorf("%w: %s: script error: %w", ErrPluginExecution, plugin.Name, err)
	}
	if _, ok := goja.AssertFunction(runtime.VM().Get("decode")); !ok {
		return nil, fmt.Errorf("%w: %s: decode function not defined", ErrPluginExecution, plugin.Name)
	}

	m.runtimes[plugin.Channel] = runtime
	return runtime, nil
}

func messageValue(msg Message) (map[string]interface{}, error) {
	var data interface{}
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			return nil, fmt.Errorf("invalid data: %w", err)
		}
	}

	value := map[string]interface{}{
		"controller": msg.Controller,
		"topic":      msg.Topic,
		"action":     msg.Action,
		"data":       data,
	}
	if msg.TransactionID != nil {
		value["transactionId"] = *msg.TransactionID
	}
	return value, nil
}

// resultFromValue converts the value returned by decode
func resultFromValue(value goja.Value) (*Result, error) {
	var exported interface{}
	if value != nil && !goja.IsUndefined(value) && !goja.IsNull(value) {
		exported = value.Export()
	}

	if obj, ok := exported.(map[string]interface{}); ok {
		if errValue, hasError := obj["error"]; hasError {
			texts, err := errorTexts(errValue)
			if err != nil {
				return nil, err
			}
			return &Result{ErrorTexts: texts}, nil
		}
	}

	payload, err := json.Marshal(exported)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal result: %w", ErrPluginExecution, err)
	}
	return &Result{Payload: payload}, nil
}

func errorTexts(value interface{}) ([]string, error) {
	switch v := value.(type) {
	case string:
		return []string{v}, nil
	case []interface{}:
		texts := make([]string, 0, len(v))
		for _, item := range v {
			text, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: error texts must be strings", ErrPluginExecution)
			}
			texts = append(texts, text)
		}
		if len(texts) == 0 {
			return nil, fmt.Errorf("%w: error texts are empty", ErrPluginExecution)
		}
		return texts, nil
	default:
		return nil, fmt.Errorf("%w: error must be a string or an array of strings", ErrPluginExecution)
	}
}

// GetChannels returns all channels with a plugin
func (m *PluginManager) GetChannels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	channels := make([]string, 0, len(m.plugins))
	for channel := range m.plugins {
		channels = append(channels, channel)
	}
	sort.Strings(channels)
	return channels
}

// Close releases all resources
func (m *PluginManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plugins = make(map[string]*Plugin)
	m.runtimes = make(map[string]*Runtime)
	m.logger.Info().Msg("plugin manager closed")
}
