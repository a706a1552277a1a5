package publisher

import (
	"errors"
	"fmt"
	"time"

	"feedsync/internal/wire"
)

// processMessage handles one complete incoming envelope
func (m *Manager) processMessage(now time.Time, data []byte) ([]DataMessage, error) {
	m.recorder.PacketReceived()

	env, err := wire.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}

	m.wireLog.Incoming(now, incomingLogKey(env), data)

	if env.Controller == wire.AuthController {
		if m.auth != nil {
			m.auth.OnAuthEnvelope(env)
		}
		return nil, nil
	}

	action := inferAction(env)

	switch action {
	case wire.ActionPublish:
		return m.processPublish(env)
	case wire.ActionSub:
		return m.processSub(env)
	case wire.ActionUnsub:
		return m.processUnsub(env)
	case wire.ActionError:
		return m.processError(env), nil
	case wire.ActionCancel:
		return nil, fmt.Errorf("%w: unexpected %s for %s", ErrProtocol, action, env.ControllerTopic())
	default:
		return nil, fmt.Errorf("%w: unhandled action %q", ErrInternal, action)
	}
}

// inferAction returns the explicit action, else Publish when a transaction
// id is present, else Sub
func inferAction(env *wire.Envelope) wire.Action {
	if action, ok := wire.ParseAction(env.Action); ok {
		return action
	}
	if env.HasTransactionID() {
		return wire.ActionPublish
	}
	return wire.ActionSub
}

func incomingLogKey(env *wire.Envelope) string {
	if key, err := wire.PublishKey(env); err == nil {
		return key
	}
	return wire.SubKey(env)
}

func (m *Manager) processPublish(env *wire.Envelope) ([]DataMessage, error) {
	key, err := wire.PublishKey(env)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInternal, err)
	}
	sub, ok := m.registry.lookup(key)
	if !ok {
		m.dropped(env, key)
		return nil, nil
	}

	if c, isError := Classify(env, KindPublishRequestError); isError {
		msg := NewErrorMessage(sub, c, env.ControllerTopic(), true)
		return []DataMessage{m.applyError(sub, msg)}, nil
	}

	msg, err := m.decode(sub, env, wire.ActionPublish)
	if err != nil {
		return nil, err
	}
	if errMsg, ok := msg.(*ErrorMessage); ok {
		return []DataMessage{m.applyError(sub, errMsg)}, nil
	}

	m.deleteSubscription(sub)
	return []DataMessage{msg, newSynchronisedMessage(sub, true)}, nil
}

func (m *Manager) processSub(env *wire.Envelope) ([]DataMessage, error) {
	key := wire.SubKey(env)
	sub, ok := m.registry.lookup(key)
	if !ok {
		m.dropped(env, key)
		return nil, nil
	}

	if env.Confirmed() {
		// a confirmation after a server initiated unsubscribe
		if sub.state != StateResponseWaiting {
			return nil, nil
		}
		sub.state = StateSubscribed
		m.timeouts.remove(sub)
		return []DataMessage{newSynchronisedMessage(sub, false)}, nil
	}

	if c, isError := Classify(env, KindSubRequestError); isError {
		msg := NewErrorMessage(sub, c, env.ControllerTopic(), true)
		return []DataMessage{m.applyError(sub, msg)}, nil
	}

	msg, err := m.decode(sub, env, wire.ActionSub)
	if err != nil {
		return nil, err
	}
	if errMsg, ok := msg.(*ErrorMessage); ok {
		m.applyError(sub, errMsg)
	}
	return []DataMessage{msg}, nil
}

func (m *Manager) processUnsub(env *wire.Envelope) ([]DataMessage, error) {
	key := wire.SubKey(env)
	sub, ok := m.registry.lookup(key)
	if !ok {
		m.dropped(env, key)
		return nil, nil
	}

	// unsubscribes are always sent without confirmation
	if env.Confirmed() {
		return nil, fmt.Errorf("%w: confirmed unsubscribe for %s", ErrProtocol, env.ControllerTopic())
	}

	c, isError := Classify(env, KindUserNotAuthorised)
	if !isError {
		c = ErrorClassification{
			Kind:         KindUserNotAuthorised,
			AllowedRetry: RetryNever,
			Texts:        []string{},
		}
	}
	msg := NewErrorMessage(sub, c, env.ControllerTopic(), true)
	return []DataMessage{m.applyError(sub, msg)}, nil
}

func (m *Manager) processError(env *wire.Envelope) []DataMessage {
	sub, ok := m.resolveErrorSubscription(env)
	if !ok {
		m.dropped(env, "")
		return nil
	}

	texts, ok := env.ErrorTexts()
	if !ok {
		texts = []string{DefaultServerWarningText}
	}
	m.recorder.ServerWarning()

	m.logger.Warn().
		Str("subscription", sub.description()).
		Strs("texts", texts).
		Msg("Server warning")

	return []DataMessage{&WarningMessage{
		Header: HeaderFor(sub),
		Text:   formatErrorText(texts, env.ControllerTopic()),
	}}
}

// resolveErrorSubscription finds the subscription an Error action refers to.
// Without a transaction id it is a topic error and resolves by SubKey. With one
// it resolves by PublishKey first and falls back to SubKey, since some servers
// report publish errors by controller and topic only.
func (m *Manager) resolveErrorSubscription(env *wire.Envelope) (*Subscription, bool) {
	if !env.HasTransactionID() {
		return m.registry.lookup(wire.SubKey(env))
	}

	key, err := wire.PublishKey(env)
	if err == nil {
		if sub, ok := m.registry.lookup(key); ok {
			return sub, true
		}
	}
	return m.registry.lookup(wire.SubKey(env))
}

// decode runs the decoder. Any failure means the decoder and the wire contract
// have drifted, so it is logged and returned as fatal.
func (m *Manager) decode(sub *Subscription, env *wire.Envelope, action wire.Action) (DataMessage, error) {
	msg, err := m.decoder.Decode(sub, env, action)
	if err == nil && msg == nil {
		err = errors.New("decoder returned no message")
	}
	if err != nil {
		m.logger.Error().
			Err(err).
			Str("subscription", sub.description()).
			Str("channel", env.ControllerTopic()).
			Msg("Failed to decode message")
		return nil, fmt.Errorf("%w: %s: %w", ErrDecode, env.ControllerTopic(), err)
	}
	return msg, nil
}

func (m *Manager) dropped(env *wire.Envelope, key string) {
	m.logger.Debug().
		Str("channel", env.ControllerTopic()).
		Str("key", key).
		Msg("Dropping message for unknown subscription")
}
