package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"feedsync/internal/plugin"
	"feedsync/internal/publisher"
	"feedsync/internal/wire"
)

// ErrUnsupportedChannel is returned for subscriptions whose channel was not built by this package
var ErrUnsupportedChannel = errors.New("unsupported channel descriptor")

// Channel describes a generic publisher channel
type Channel struct {
	Controller string
	Topic      string
	// Action is ActionSub for standing subscriptions or ActionPublish for one-shot requests
	Action wire.Action
	// Data is sent as the request payload
	Data json.RawMessage
}

// NewChannel creates a channel, marshalling data into the request payload
func NewChannel(controller, topic string, action wire.Action, data any) (Channel, error) {
	ch := Channel{Controller: controller, Topic: topic, Action: action}
	if action != wire.ActionSub && action != wire.ActionPublish {
		return ch, fmt.Errorf("%w: action %q", ErrUnsupportedChannel, action)
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return ch, fmt.Errorf("failed to marshal channel data: %w", err)
		}
		ch.Data = raw
	}
	return ch, nil
}

// Description returns Controller/Topic
func (c Channel) Description() string {
	return c.Controller + "/" + c.Topic
}

// IsPublish returns true for one-shot publish channels
func (c Channel) IsPublish() bool {
	return c.Action == wire.ActionPublish
}

// PayloadMessage carries a decoded channel payload
type PayloadMessage struct {
	publisher.Header
	Controller string
	Topic      string
	Action     wire.Action
	Payload    json.RawMessage
}

// ScriptDecoder decodes payloads for channels that have a script
type ScriptDecoder interface {
	HasPlugin(channel string) bool
	Decode(channel string, msg plugin.Message) (*plugin.Result, error)
}

// Codec encodes requests for generic channels and decodes their replies.
// Replies on channels with a script are decoded by the script; all others
// pass their payload through unchanged.
type Codec struct {
	scripts ScriptDecoder
	logger  zerolog.Logger
}

var (
	_ publisher.Encoder = (*Codec)(nil)
	_ publisher.Decoder = (*Codec)(nil)
)

// New creates a Codec. scripts may be nil.
func New(scripts ScriptDecoder, logger zerolog.Logger) *Codec {
	return &Codec{
		scripts: scripts,
		logger:  logger.With().Str("component", "codec").Logger(),
	}
}

func channelOf(sub *publisher.Subscription) (Channel, error) {
	switch ch := sub.Channel().(type) {
	case Channel:
		return ch, nil
	case *Channel:
		if ch != nil {
			return *ch, nil
		}
	}
	return Channel{}, fmt.Errorf("%w: %T", ErrUnsupportedChannel, sub.Channel())
}

// Encode turns req into an outgoing envelope
func (c *Codec) Encode(req *publisher.Request) (*wire.Envelope, error) {
	ch, err := channelOf(req.Subscription)
	if err != nil {
		return nil, err
	}

	env := &wire.Envelope{Controller: ch.Controller, Topic: ch.Topic}

	switch req.Kind {
	case publisher.RequestUnsubscribe:
		if ch.IsPublish() {
			return nil, fmt.Errorf("cannot unsubscribe publish channel %s", ch.Description())
		}
		env.Action = string(wire.ActionUnsub)
	case publisher.RequestSubscribeQuery:
		env.Action = string(ch.Action)
		if ch.IsPublish() {
			env.SetTransactionID(req.TransactionID())
		}
		if len(ch.Data) > 0 {
			env.Data = ch.Data
		}
	default:
		return nil, fmt.Errorf("unknown request kind %s", req.Kind)
	}

	return env, nil
}

// Decode turns a reply or update into a data message for sub
func (c *Codec) Decode(sub *publisher.Subscription, env *wire.Envelope, action wire.Action) (publisher.DataMessage, error) {
	name := env.ControllerTopic()

	payload := env.Data
	if c.scripts != nil && c.scripts.HasPlugin(name) {
		result, err := c.scripts.Decode(name, plugin.Message{
			Controller:    env.Controller,
			Topic:         env.Topic,
			Action:        string(action),
			TransactionID: env.TransactionID,
			Data:          env.Data,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", name, err)
		}
		if result.IsError() {
			classification := publisher.ClassifyTexts(result.ErrorTexts, publisher.KindDataError)
			c.logger.Debug().
				Str("channel", name).
				Strs("texts", result.ErrorTexts).
				Msg("script reported data error")
			return publisher.NewErrorMessage(sub, classification, name, true), nil
		}
		payload = result.Payload
	}

	msg := &PayloadMessage{
		Header:     publisher.HeaderFor(sub),
		Controller: env.Controller,
		Topic:      env.Topic,
		Action:     action,
	}
	if len(payload) > 0 {
		msg.Payload = make(json.RawMessage, len(payload))
		copy(msg.Payload, payload)
	}
	return msg, nil
}
