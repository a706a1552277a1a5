package main

import (
	"sync"

	"github.com/rs/zerolog"

	"feedsync/internal/codec"
	"feedsync/internal/publisher"
	"feedsync/internal/wire"
)

// logHandler writes every produced data message to the log
type logHandler struct {
	logger zerolog.Logger

	mu       sync.Mutex
	channels map[publisher.DataItemID]string
}

func newLogHandler(logger zerolog.Logger) *logHandler {
	return &logHandler{
		logger:   logger.With().Str("component", "feed").Logger(),
		channels: make(map[publisher.DataItemID]string),
	}
}

func (h *logHandler) track(sub *publisher.Subscription) {
	h.mu.Lock()
	h.channels[sub.DataItemID()] = sub.Channel().Description()
	h.mu.Unlock()
}

func (h *logHandler) channel(id publisher.DataItemID) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.channels[id]
}

func (h *logHandler) OnMessages(messages []publisher.DataMessage) {
	for _, msg := range messages {
		h.log(msg)
	}
}

func (h *logHandler) log(msg publisher.DataMessage) {
	event := func(e *zerolog.Event) *zerolog.Event {
		return e.
			Int64("dataItemId", int64(msg.ItemID())).
			Int("requestNr", msg.ItemRequestNr()).
			Str("channel", h.channel(msg.ItemID()))
	}

	switch m := msg.(type) {
	case *codec.PayloadMessage:
		event(h.logger.Info()).
			Str("action", string(m.Action)).
			RawJSON("payload", payloadOrNull(m.Payload)).
			Msg("data")
	case *publisher.SynchronisedMessage:
		event(h.logger.Info()).
			Bool("alreadyUnsubscribed", m.AlreadyUnsubscribed).
			Msg("synchronised")
	case *publisher.ErrorMessage:
		event(h.logger.Warn()).
			Str("kind", m.Kind.String()).
			Str("retry", m.AllowedRetry.String()).
			Bool("requestSent", m.RequestSent).
			Str("text", m.Text).
			Msg("subscription error")
	case *publisher.WarningMessage:
		event(h.logger.Warn()).Str("text", m.Text).Msg("server warning")
	case *publisher.OnlinedMessage:
		event(h.logger.Debug()).Msg("onlined")
	case *publisher.OffliningMessage:
		event(h.logger.Debug()).Msg("offlining")
	default:
		event(h.logger.Debug()).Msgf("unhandled message %T", msg)
	}
}

func (h *logHandler) OnAuth(env *wire.Envelope) {
	h.logger.Warn().
		Str("topic", env.Topic).
		RawJSON("data", payloadOrNull(env.Data)).
		Msg("auth message received")
}

func payloadOrNull(data []byte) []byte {
	if len(data) == 0 {
		return []byte("null")
	}
	return data
}
