package publisher

// DataMessage is a value produced by the engine or by a channel decoder.
// Every message carries the data item it belongs to.
type DataMessage interface {
	ItemID() DataItemID
	ItemRequestNr() int
}

// Header carries the routing fields shared by all data messages.
// Decoders embed it in their own message types.
type Header struct {
	DataItemID        DataItemID
	DataItemRequestNr int
}

func (h Header) ItemID() DataItemID { return h.DataItemID }
func (h Header) ItemRequestNr() int { return h.DataItemRequestNr }

// HeaderFor returns the header of messages produced for sub
func HeaderFor(sub *Subscription) Header {
	return Header{DataItemID: sub.dataItemID, DataItemRequestNr: sub.dataItemRequestNr}
}

func broadcastHeader(sub *Subscription) Header {
	return Header{DataItemID: sub.dataItemID, DataItemRequestNr: BroadcastRequestNr}
}

// SynchronisedMessage indicates all currently available data has been delivered
type SynchronisedMessage struct {
	Header
	AlreadyUnsubscribed bool
}

// WarningMessage carries a server warning; it never changes subscription state
type WarningMessage struct {
	Header
	Text string
}

// ErrorMessage reports a classified subscription error
type ErrorMessage struct {
	Header
	Kind         ErrorKind
	Text         string
	AllowedRetry RetryKind
	RequestSent  bool
}

// OnlinedMessage is broadcast to every data item when the connection comes online
type OnlinedMessage struct {
	Header
}

// OffliningMessage is broadcast to every data item when the connection goes offline
type OffliningMessage struct {
	Header
}

func newSynchronisedMessage(sub *Subscription, alreadyUnsubscribed bool) *SynchronisedMessage {
	return &SynchronisedMessage{Header: HeaderFor(sub), AlreadyUnsubscribed: alreadyUnsubscribed}
}
