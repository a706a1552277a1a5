package publisher

import (
	"github.com/google/uuid"
)

// StateID is the lifecycle state of a subscription
type StateID int

const (
	// StateInactive: not sent, or demoted after a retryable error
	StateInactive StateID = iota
	// StateResponseWaiting: request sent, reply not yet received
	StateResponseWaiting
	// StateSubscribed: confirmed and receiving updates
	StateSubscribed
)

// String returns the string representation of StateID
func (s StateID) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateResponseWaiting:
		return "response-waiting"
	case StateSubscribed:
		return "subscribed"
	default:
		return "unknown"
	}
}

// DataItemID identifies the caller's data item a subscription feeds
type DataItemID int64

// BroadcastRequestNr marks a message that was not produced for a particular
// caller request but broadcast to the data item.
const BroadcastRequestNr = -1

// ChannelDescriptor describes the channel a subscription targets. It is opaque
// to the engine and only interpreted by the Encoder and Decoder.
type ChannelDescriptor interface {
	Description() string
}

// Subscription is one caller's standing interest in a channel.
// It is mutated only by the Manager that owns it.
type Subscription struct {
	id                uuid.UUID
	dataItemID        DataItemID
	dataItemRequestNr int
	channel           ChannelDescriptor
	resendAllowed     bool

	state               StateID
	unsubscribeRequired bool
	beenSentAtLeastOnce bool

	// correlation key currently registered for this subscription ("" if none)
	key string
	// activation order, used to keep broadcast output deterministic
	seq uint64
}

// NewSubscription creates an inactive subscription.
// resendAllowed must be false for one-shot publish requests.
func NewSubscription(dataItemID DataItemID, dataItemRequestNr int, channel ChannelDescriptor, resendAllowed bool) *Subscription {
	return &Subscription{
		id:                uuid.New(),
		dataItemID:        dataItemID,
		dataItemRequestNr: dataItemRequestNr,
		channel:           channel,
		resendAllowed:     resendAllowed,
		state:             StateInactive,
	}
}

func (s *Subscription) ID() uuid.UUID              { return s.id }
func (s *Subscription) DataItemID() DataItemID     { return s.dataItemID }
func (s *Subscription) DataItemRequestNr() int     { return s.dataItemRequestNr }
func (s *Subscription) Channel() ChannelDescriptor { return s.channel }
func (s *Subscription) ResendAllowed() bool        { return s.resendAllowed }
func (s *Subscription) State() StateID             { return s.state }
func (s *Subscription) UnsubscribeRequired() bool  { return s.unsubscribeRequired }
func (s *Subscription) BeenSentAtLeastOnce() bool  { return s.beenSentAtLeastOnce }
func (s *Subscription) IsBroadcast() bool          { return s.dataItemRequestNr == BroadcastRequestNr }

func (s *Subscription) description() string {
	if s.channel == nil {
		return s.id.String()
	}
	return s.channel.Description()
}

// RequestKind is the kind of outgoing request
type RequestKind int

const (
	RequestSubscribeQuery RequestKind = iota
	RequestUnsubscribe
)

// String returns the string representation of RequestKind
func (k RequestKind) String() string {
	switch k {
	case RequestSubscribeQuery:
		return "subscribe-query"
	case RequestUnsubscribe:
		return "unsubscribe"
	default:
		return "unknown"
	}
}

// Request is a unit of outgoing work waiting in the send queue
type Request struct {
	Subscription *Subscription
	Kind         RequestKind

	transactionID    int64
	hasTransactionID bool
	nextID           func() int64
}

// NewRequest creates a request. nextID supplies a transaction id when the
// encoder asks for one.
func NewRequest(sub *Subscription, kind RequestKind, nextID func() int64) *Request {
	return &Request{Subscription: sub, Kind: kind, nextID: nextID}
}

// TransactionID returns the request's transaction id, assigning one on first use.
// Encoders call it only for publish-style requests.
func (r *Request) TransactionID() int64 {
	if !r.hasTransactionID {
		r.transactionID = r.nextID()
		r.hasTransactionID = true
	}
	return r.transactionID
}
