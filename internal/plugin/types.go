package plugin

import (
	"encoding/json"
	"errors"

	"github.com/dop251/goja"
)

// Plugin represents a loaded JavaScript plugin
type Plugin struct {
	Name    string // plugin name (filename without extension)
	Channel string // Controller/Topic this plugin decodes
	Script  string // JavaScript source code

	program *goja.Program
}

// Message is the envelope handed to a plugin's decode function
type Message struct {
	Controller    string
	Topic         string
	Action        string
	TransactionID *int64
	Data          json.RawMessage
}

// Result is the outcome of a decode call. Exactly one of Payload and
// ErrorTexts is set.
type Result struct {
	Payload    json.RawMessage
	ErrorTexts []string
}

// IsError returns true if the plugin reported a data error
func (r *Result) IsError() bool {
	return r.ErrorTexts != nil
}

// Manager defines the plugin manager interface
type Manager interface {
	// HasPlugin checks if a plugin exists for the given channel
	HasPlugin(channel string) bool
	// Decode runs the plugin for the given channel
	Decode(channel string, msg Message) (*Result, error)
	// GetChannels returns all channels with a plugin
	GetChannels() []string
	// Close releases all resources
	Close()
}

// Plugin errors
var (
	ErrPluginNotFound  = errors.New("plugin not found")
	ErrPluginTimeout   = errors.New("plugin execution timed out")
	ErrPluginExecution = errors.New("plugin execution failed")
)
