package publisher

import (
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

// WireLogLevel controls logging of raw envelopes
type WireLogLevel int

const (
	// WireLogOff disables envelope logging
	WireLogOff WireLogLevel = iota
	// WireLogPartial logs every outgoing envelope and the first reply to each
	WireLogPartial
	// WireLogFull logs every envelope in both directions
	WireLogFull
)

// DefaultWireLogCacheSize bounds the number of requests awaiting a first reply in partial mode
const DefaultWireLogCacheSize = 1024

// ParseWireLogLevel parses "off", "partial" or "full"; empty means off
func ParseWireLogLevel(s string) (WireLogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "off":
		return WireLogOff, nil
	case "partial":
		return WireLogPartial, nil
	case "full":
		return WireLogFull, nil
	default:
		return WireLogOff, fmt.Errorf("invalid wire log level: %q", s)
	}
}

// String returns the string representation of WireLogLevel
func (l WireLogLevel) String() string {
	switch l {
	case WireLogOff:
		return "off"
	case WireLogPartial:
		return "partial"
	case WireLogFull:
		return "full"
	default:
		return "unknown"
	}
}

const (
	directionOut = "-->"
	directionIn  = "<--"
)

// WireLog writes raw envelope text to the logger at debug level
type WireLog struct {
	level   WireLogLevel
	pending *lru.Cache[string, struct{}]
	logger  zerolog.Logger
}

// NewWireLog creates a wire log with the given level.
// cacheSize bounds the keys tracked for partial mode.
func NewWireLog(level WireLogLevel, cacheSize int, logger zerolog.Logger) (*WireLog, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultWireLogCacheSize
	}
	pending, err := lru.New[string, struct{}](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	return &WireLog{
		level:   level,
		pending: pending,
		logger:  logger.With().Str("component", "wirelog").Logger(),
	}, nil
}

// Level returns the configured level
func (w *WireLog) Level() WireLogLevel {
	return w.level
}

// Outgoing logs a sent envelope. key is the correlation key the reply will carry, or "".
func (w *WireLog) Outgoing(now time.Time, key string, text []byte) {
	if w.level == WireLogOff {
		return
	}
	if w.level == WireLogPartial && key != "" {
		w.pending.Add(key, struct{}{})
	}
	w.write(now, directionOut, text)
}

// Incoming logs a received envelope. In partial mode only the first reply per key is logged.
func (w *WireLog) Incoming(now time.Time, key string, text []byte) {
	switch w.level {
	case WireLogOff:
		return
	case WireLogPartial:
		if key == "" || !w.pending.Contains(key) {
			return
		}
		w.pending.Remove(key)
	}
	w.write(now, directionIn, text)
}

func (w *WireLog) write(now time.Time, direction string, text []byte) {
	w.logger.Debug().
		Time("at", now).
		Str("direction", direction).
		RawJSON("envelope", text).
		Msg("wire")
}
