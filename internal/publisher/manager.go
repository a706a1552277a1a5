package publisher

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"feedsync/internal/wire"
)

// DefaultSendThrottle is the number of requests sent per tick when not configured
const DefaultSendThrottle = 20

// Config holds Manager settings
type Config struct {
	// SendThrottle bounds the number of requests sent per Exercise call
	SendThrottle     int
	WireLogLevel     WireLogLevel
	WireLogCacheSize int
}

// Encoder turns a queued request into an outgoing envelope
type Encoder interface {
	Encode(req *Request) (*wire.Envelope, error)
}

// Decoder turns an incoming envelope into a data message for sub.
// It may return an *ErrorMessage, which the Manager applies to sub.
type Decoder interface {
	Decode(sub *Subscription, env *wire.Envelope, action wire.Action) (DataMessage, error)
}

// Sender hands bytes to the transport and returns how long to wait for a reply
type Sender interface {
	Send(data []byte) time.Duration
}

// AuthHandler receives envelopes of the Auth controller.
// It must not call back into the Manager synchronously.
type AuthHandler interface {
	OnAuthEnvelope(env *wire.Envelope)
}

// Recorder receives engine counters
type Recorder interface {
	SubscriptionError(kind ErrorKind)
	ServerWarning()
	PacketSent()
	PacketReceived()
	ActiveSubscriptions(n int)
	SendQueueDepth(n int)
}

type nopRecorder struct{}

func (nopRecorder) SubscriptionError(ErrorKind) {}
func (nopRecorder) ServerWarning()              {}
func (nopRecorder) PacketSent()                 {}
func (nopRecorder) PacketReceived()             {}
func (nopRecorder) ActiveSubscriptions(int)     {}
func (nopRecorder) SendQueueDepth(int)          {}

// Collaborators are the Manager's external dependencies.
// Auth and Recorder are optional.
type Collaborators struct {
	Encoder  Encoder
	Decoder  Decoder
	Sender   Sender
	Auth     AuthHandler
	Recorder Recorder
}

// Manager multiplexes subscriptions over one transport.
// It is not safe for concurrent use: a single owner drives every call.
type Manager struct {
	config   Config
	encoder  Encoder
	decoder  Decoder
	sender   Sender
	auth     AuthHandler
	recorder Recorder

	registry *registry
	queue    requestQueue
	timeouts *timeoutTracker
	incoming [][]byte
	// lifecycle messages produced between ticks
	pending []DataMessage
	offline bool

	lastTransactionID int64

	wireLog *WireLog
	logger  zerolog.Logger
}

// NewManager creates a new Manager
func NewManager(cfg Config, collab Collaborators, logger zerolog.Logger) (*Manager, error) {
	if collab.Encoder == nil || collab.Decoder == nil || collab.Sender == nil {
		return nil, errors.New("encoder, decoder and sender are required")
	}
	if cfg.SendThrottle <= 0 {
		cfg.SendThrottle = DefaultSendThrottle
	}
	recorder := collab.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}

	wireLog, err := NewWireLog(cfg.WireLogLevel, cfg.WireLogCacheSize, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create wire log: %w", err)
	}

	return &Manager{
		config:   cfg,
		encoder:  collab.Encoder,
		decoder:  collab.Decoder,
		sender:   collab.Sender,
		auth:     collab.Auth,
		recorder: recorder,
		registry: newRegistry(),
		timeouts: newTimeoutTracker(),
		wireLog:  wireLog,
		logger:   logger.With().Str("component", "publisher").Logger(),
	}, nil
}

// Activate registers sub and queues its subscribe request.
// Activating a subscription that is already waiting or subscribed is an error.
func (m *Manager) Activate(sub *Subscription) error {
	if sub == nil {
		return errors.New("subscription is nil")
	}

	if m.registry.contains(sub) {
		if sub.state != StateInactive {
			return fmt.Errorf("%w: cannot activate %s in state %s", ErrInvalidState, sub.description(), sub.state)
		}
		if m.queue.has(sub, RequestSubscribeQuery) {
			return nil
		}
	} else {
		m.registry.add(sub)
	}

	sub.state = StateInactive
	m.queue.push(m.newRequest(sub, RequestSubscribeQuery))

	m.logger.Debug().
		Str("subscription", sub.description()).
		Int64("dataItemId", int64(sub.dataItemID)).
		Msg("Subscription activated")

	return nil
}

// Deactivate removes sub. If the server holds a subscription for it, an
// unsubscribe request is queued. Replies already in flight are dropped on arrival.
func (m *Manager) Deactivate(sub *Subscription) {
	if sub == nil || !m.registry.contains(sub) {
		return
	}

	m.queue.removeFor(sub, RequestSubscribeQuery)
	m.timeouts.remove(sub)
	m.registry.remove(sub)

	if sub.unsubscribeRequired {
		m.queue.push(m.newRequest(sub, RequestUnsubscribe))
		sub.unsubscribeRequired = false
	}
	sub.state = StateInactive

	m.logger.Debug().
		Str("subscription", sub.description()).
		Msg("Subscription deactivated")
}

// EnqueueIncoming queues one complete envelope for the next Exercise
func (m *Manager) EnqueueIncoming(data []byte) {
	m.incoming = append(m.incoming, data)
}

// Exercise runs one tick: queued incoming envelopes are processed, expired
// requests are failed and up to SendThrottle requests are sent.
// A returned error wraps ErrInternal, ErrProtocol or ErrDecode and is fatal;
// messages produced before the failure are still returned.
func (m *Manager) Exercise(now time.Time) ([]DataMessage, error) {
	messages := m.pending
	m.pending = nil

	messages, err := m.processIncoming(now, messages)
	if err != nil {
		return messages, err
	}

	messages = m.processTimeouts(now, messages)

	if !m.offline {
		if err := m.sendQueued(now); err != nil {
			return messages, err
		}
	}

	m.recorder.ActiveSubscriptions(m.registry.len())
	m.recorder.SendQueueDepth(m.queue.len())

	return messages, nil
}

// Online marks the transport connected. Every subscription receives an
// Onlined broadcast on the next tick so owners can activate again.
func (m *Manager) Online() {
	m.offline = false
	for _, sub := range m.registry.all() {
		m.pending = append(m.pending, &OnlinedMessage{Header: broadcastHeader(sub)})
	}
	m.logger.Info().Int("subscriptions", m.registry.len()).Msg("Publisher online")
}

// Offline marks the transport disconnected. Queued requests and timeouts are
// discarded; subscriptions that were sent are failed with Offlined and demoted.
func (m *Manager) Offline() {
	m.offline = true
	m.queue.clear()
	m.timeouts.clear()

	for _, sub := range m.registry.all() {
		m.pending = append(m.pending, &OffliningMessage{Header: broadcastHeader(sub)})
		if sub.state == StateInactive {
			continue
		}

		c := ErrorClassification{
			Kind:         KindOfflined,
			AllowedRetry: AllowedRetryFor(KindOfflined, false),
			Texts:        []string{"offlined"},
		}
		m.pending = append(m.pending, NewErrorMessage(sub, c, sub.description(), sub.beenSentAtLeastOnce))
		m.recorder.SubscriptionError(KindOfflined)

		m.registry.unregisterKey(sub)
		sub.state = StateInactive
		sub.unsubscribeRequired = false
	}
	m.logger.Info().Int("subscriptions", m.registry.len()).Msg("Publisher offline")
}

// IsOffline returns true while the transport is disconnected
func (m *Manager) IsOffline() bool {
	return m.offline
}

// Subscription returns the registered subscription with id
func (m *Manager) Subscription(id uuid.UUID) (*Subscription, bool) {
	return m.registry.get(id)
}

// SubscriptionCount returns the number of registered subscriptions
func (m *Manager) SubscriptionCount() int {
	return m.registry.len()
}

// Subscriptions returns the registered subscriptions in activation order
func (m *Manager) Subscriptions() []*Subscription {
	return m.registry.all()
}

// QueuedRequestCount returns the number of requests waiting to be sent
func (m *Manager) QueuedRequestCount() int {
	return m.queue.len()
}

func (m *Manager) newRequest(sub *Subscription, kind RequestKind) *Request {
	return NewRequest(sub, kind, m.nextTransactionID)
}

func (m *Manager) nextTransactionID() int64 {
	m.lastTransactionID++
	return m.lastTransactionID
}

func (m *Manager) processIncoming(now time.Time, messages []DataMessage) ([]DataMessage, error) {
	incoming := m.incoming
	m.incoming = nil

	for _, data := range incoming {
		produced, err := m.processMessage(now, data)
		messages = append(messages, produced...)
		if err != nil {
			return messages, err
		}
	}
	return messages, nil
}

// processTimeouts fails subscriptions whose reply did not arrive in time
func (m *Manager) processTimeouts(now time.Time, messages []DataMessage) []DataMessage {
	for _, sub := range m.timeouts.expired(now) {
		if sub.state != StateResponseWaiting || !m.registry.contains(sub) {
			continue
		}

		c := ErrorClassification{
			Kind:         KindRequestTimeout,
			AllowedRetry: AllowedRetryFor(KindRequestTimeout, false),
			Texts:        []string{"request timeout"},
		}
		msg := NewErrorMessage(sub, c, sub.description(), true)

		m.logger.Warn().
			Str("subscription", sub.description()).
			Msg("Request timed out")

		messages = append(messages, m.applyError(sub, msg))
	}
	return messages
}

func (m *Manager) sendQueued(now time.Time) error {
	for _, req := range m.queue.drain(m.config.SendThrottle) {
		if err := m.send(now, req); err != nil {
			return err
		}
	}
	return nil
}

// send encodes req, registers its correlation key and hands it to the transport
func (m *Manager) send(now time.Time, req *Request) error {
	sub := req.Subscription

	if req.Kind == RequestSubscribeQuery && !sub.resendAllowed && sub.beenSentAtLeastOnce {
		return fmt.Errorf("%w: %s cannot be resent", ErrInternal, sub.description())
	}

	env, err := m.encoder.Encode(req)
	if err != nil {
		return fmt.Errorf("%w: failed to encode %s for %s: %w", ErrInternal, req.Kind, sub.description(), err)
	}

	action := wire.ActionPublish
	if env.Action != "" {
		parsed, ok := wire.ParseAction(env.Action)
		if !ok {
			return fmt.Errorf("%w: encoder produced unknown action %q", ErrInternal, env.Action)
		}
		action = parsed
	}

	var key string
	switch action {
	case wire.ActionPublish:
		key, err = wire.PublishKey(env)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInternal, err)
		}
	case wire.ActionSub:
		env.SetConfirm(true)
		key = wire.SubKey(env)
	case wire.ActionUnsub:
		env.SetConfirm(false)
	default:
		return fmt.Errorf("%w: cannot send %s action", ErrInternal, action)
	}

	if key != "" {
		if err := m.registry.registerKey(key, sub); err != nil {
			return fmt.Errorf("%w: %w", ErrInternal, err)
		}
	}

	data, err := env.Bytes()
	if err != nil {
		return fmt.Errorf("%w: failed to marshal envelope: %w", ErrInternal, err)
	}

	sub.beenSentAtLeastOnce = true
	responseTimeout := m.sender.Send(data)
	m.recorder.PacketSent()
	m.wireLog.Outgoing(now, key, data)

	switch action {
	case wire.ActionSub:
		sub.unsubscribeRequired = true
		fallthrough
	case wire.ActionPublish:
		sub.state = StateResponseWaiting
		m.timeouts.arm(sub, now.Add(responseTimeout))
	}

	m.logger.Debug().
		Str("subscription", sub.description()).
		Str("action", string(action)).
		Str("key", key).
		Dur("responseTimeout", responseTimeout).
		Msg("Request sent")

	return nil
}

// applyError applies the retry policy of msg to sub and returns msg
func (m *Manager) applyError(sub *Subscription, msg *ErrorMessage) *ErrorMessage {
	m.recorder.SubscriptionError(msg.Kind)

	if msg.AllowedRetry == RetryNever {
		m.deleteSubscription(sub)
	} else {
		m.demote(sub)
	}

	m.logger.Debug().
		Str("subscription", sub.description()).
		Str("kind", msg.Kind.String()).
		Str("retry", msg.AllowedRetry.String()).
		Str("text", msg.Text).
		Msg("Subscription error")

	return msg
}

// demote returns sub to Inactive; the server may still hold the subscription
// so unsubscribeRequired is left as is
func (m *Manager) demote(sub *Subscription) {
	sub.state = StateInactive
	m.timeouts.remove(sub)
	m.registry.unregisterKey(sub)
}

func (m *Manager) deleteSubscription(sub *Subscription) {
	m.queue.removeFor(sub, RequestSubscribeQuery)
	m.timeouts.remove(sub)
	m.registry.remove(sub)
	sub.state = StateInactive
}
