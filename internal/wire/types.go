package wire

import (
	"encoding/json"
	"strconv"
)

// AuthController is the controller whose envelopes belong to the session/auth layer
// rather than to any subscription.
const AuthController = "Auth"

// keySeparator joins controller and topic in a subscription correlation key.
// It never appears in either field.
const keySeparator = "+"

// Action is the action field of an envelope
type Action string

const (
	ActionPublish Action = "PUBLISH"
	ActionSub     Action = "SUB"
	ActionUnsub   Action = "UNSUB"
	ActionError   Action = "ERROR"
	ActionCancel  Action = "CANCEL"
)

// ParseAction maps a raw action field to an Action. ok is false when the field
// is absent or not a known action.
func ParseAction(raw string) (Action, bool) {
	switch Action(raw) {
	case ActionPublish, ActionSub, ActionUnsub, ActionError, ActionCancel:
		return Action(raw), true
	default:
		return "", false
	}
}

// Error markers the server places amongst the error texts
const (
	ErrorCodeRetry   = "Retry"
	ErrorCodeLimited = "Limited"
)

// Envelope is the message container exchanged over the transport.
// Only the fields the engine inspects are typed; Data is left raw for the
// channel codecs.
type Envelope struct {
	Controller    string          `json:"Controller"`
	Topic         string          `json:"Topic"`
	Action        string          `json:"Action,omitempty"`
	TransactionID *int64          `json:"TransactionID,omitempty"`
	Confirm       *bool           `json:"Confirm,omitempty"`
	Data          json.RawMessage `json:"Data,omitempty"`
}

// HasTransactionID returns true if the envelope carries a transaction id
func (e *Envelope) HasTransactionID() bool {
	return e.TransactionID != nil
}

// SetTransactionID sets the transaction id
func (e *Envelope) SetTransactionID(id int64) {
	e.TransactionID = &id
}

// Confirmed returns true only when the confirm flag is present and true
func (e *Envelope) Confirmed() bool {
	return e.Confirm != nil && *e.Confirm
}

// SetConfirm sets the confirm flag
func (e *Envelope) SetConfirm(confirm bool) {
	e.Confirm = &confirm
}

// ControllerTopic returns "Controller/Topic", used in human readable texts
func (e *Envelope) ControllerTopic() string {
	return e.Controller + "/" + e.Topic
}

// transactionIDString formats the transaction id as decimal
func (e *Envelope) transactionIDString() string {
	return strconv.FormatInt(*e.TransactionID, 10)
}
