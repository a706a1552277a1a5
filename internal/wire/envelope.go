package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMissingTransactionID is returned when a publish-style envelope has no transaction id.
// It is a contract violation by the encoder or the server, never a transient condition.
var ErrMissingTransactionID = errors.New("publish envelope has no transaction id")

// Parse parses a complete envelope from JSON text
func Parse(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse envelope: %w", err)
	}
	return &env, nil
}

// Bytes returns the envelope as JSON bytes
func (e *Envelope) Bytes() ([]byte, error) {
	return json.Marshal(e)
}

// Clone creates a copy of the envelope
func (e *Envelope) Clone() *Envelope {
	clone := &Envelope{
		Controller: e.Controller,
		Topic:      e.Topic,
		Action:     e.Action,
	}
	if e.TransactionID != nil {
		clone.SetTransactionID(*e.TransactionID)
	}
	if e.Confirm != nil {
		clone.SetConfirm(*e.Confirm)
	}
	if e.Data != nil {
		clone.Data = make(json.RawMessage, len(e.Data))
		copy(clone.Data, e.Data)
	}
	return clone
}

// DataAbsent returns true if Data is missing or JSON null
func (e *Envelope) DataAbsent() bool {
	if len(e.Data) == 0 {
		return true
	}
	return bytes.Equal(bytes.TrimSpace(e.Data), []byte("null"))
}

// ErrorTexts extracts error texts from Data. Data holds error texts when it is
// a JSON string, or a non-empty array whose first element is a string.
func (e *Envelope) ErrorTexts() ([]string, bool) {
	data := bytes.TrimSpace(e.Data)
	if len(data) == 0 {
		return nil, false
	}

	switch data[0] {
	case '"':
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return nil, false
		}
		return []string{text}, true
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil || len(items) == 0 {
			return nil, false
		}
		texts := make([]string, 0, len(items))
		for i, item := range items {
			var text string
			if err := json.Unmarshal(item, &text); err != nil {
				if i == 0 {
					return nil, false
				}
				// only the first element decides; keep non-string tails as raw text
				text = string(item)
			}
			texts = append(texts, text)
		}
		return texts, true
	default:
		return nil, false
	}
}

// PublishKey returns the correlation key of a publish-style exchange: the
// transaction id in decimal.
func PublishKey(e *Envelope) (string, error) {
	if !e.HasTransactionID() {
		return "", fmt.Errorf("%w: %s", ErrMissingTransactionID, e.ControllerTopic())
	}
	return e.transactionIDString(), nil
}

// SubKey returns the correlation key of a subscribe/unsubscribe topic
func SubKey(e *Envelope) string {
	return e.Controller + keySeparator + e.Topic
}
