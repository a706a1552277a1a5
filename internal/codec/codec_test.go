package codec

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedsync/internal/plugin"
	"feedsync/internal/publisher"
	"feedsync/internal/wire"
)

func fixedID(id int64) func() int64 {
	return func() int64 { return id }
}

func mustChannel(t *testing.T, controller, topic string, action wire.Action, data any) Channel {
	t.Helper()
	ch, err := NewChannel(controller, topic, action, data)
	require.NoError(t, err)
	return ch
}

func TestNewChannel(t *testing.T) {
	ch := mustChannel(t, "Symbols", "QuerySymbol", wire.ActionPublish, map[string]string{"code": "BHP"})
	assert.Equal(t, "Symbols/QuerySymbol", ch.Description())
	assert.True(t, ch.IsPublish())
	assert.JSONEq(t, `{"code":"BHP"}`, string(ch.Data))

	_, err := NewChannel("Trades", "X", wire.ActionCancel, nil)
	require.ErrorIs(t, err, ErrUnsupportedChannel)
}

func TestCodec_Encode(t *testing.T) {
	c := New(nil, zerolog.Nop())

	sub := publisher.NewSubscription(1, 1, mustChannel(t, "Trades", "X", wire.ActionSub, nil), true)
	env, err := c.Encode(publisher.NewRequest(sub, publisher.RequestSubscribeQuery, fixedID(1)))
	require.NoError(t, err)
	assert.Equal(t, "SUB", env.Action)
	assert.False(t, env.HasTransactionID())
	assert.Empty(t, env.Data)

	env, err = c.Encode(publisher.NewRequest(sub, publisher.RequestUnsubscribe, fixedID(1)))
	require.NoError(t, err)
	assert.Equal(t, "UNSUB", env.Action)

	query := publisher.NewSubscription(2, 1, mustChannel(t, "Symbols", "QuerySymbol", wire.ActionPublish, map[string]string{"code": "BHP"}), false)
	env, err = c.Encode(publisher.NewRequest(query, publisher.RequestSubscribeQuery, fixedID(77)))
	require.NoError(t, err)
	assert.Equal(t, "PUBLISH", env.Action)
	require.True(t, env.HasTransactionID())
	assert.Equal(t, int64(77), *env.TransactionID)
	assert.JSONEq(t, `{"code":"BHP"}`, string(env.Data))

	_, err = c.Encode(publisher.NewRequest(query, publisher.RequestUnsubscribe, fixedID(1)))
	require.Error(t, err)
}

type otherChannel struct{}

func (otherChannel) Description() string { return "other" }

func TestCodec_EncodeUnsupportedChannel(t *testing.T) {
	c := New(nil, zerolog.Nop())
	sub := publisher.NewSubscription(1, 1, otherChannel{}, true)

	_, err := c.Encode(publisher.NewRequest(sub, publisher.RequestSubscribeQuery, fixedID(1)))
	require.ErrorIs(t, err, ErrUnsupportedChannel)
}

func TestCodec_DecodePassThrough(t *testing.T) {
	c := New(nil, zerolog.Nop())
	sub := publisher.NewSubscription(5, 9, mustChannel(t, "Trades", "X", wire.ActionSub, nil), true)
	env := &wire.Envelope{Controller: "Trades", Topic: "X", Data: json.RawMessage(`{"price":1}`)}

	msg, err := c.Decode(sub, env, wire.ActionSub)
	require.NoError(t, err)

	payload, ok := msg.(*PayloadMessage)
	require.True(t, ok)
	assert.Equal(t, publisher.DataItemID(5), payload.ItemID())
	assert.Equal(t, 9, payload.ItemRequestNr())
	assert.Equal(t, wire.ActionSub, payload.Action)
	assert.JSONEq(t, `{"price":1}`, string(payload.Payload))

	env.Data[2] = 'X'
	assert.JSONEq(t, `{"price":1}`, string(payload.Payload))
}

func newScripts(t *testing.T, script string) *plugin.PluginManager {
	t.Helper()
	scripts := plugin.NewPluginManager(zerolog.Nop())
	require.NoError(t, scripts.LoadScript("test", script))
	return scripts
}

func TestCodec_DecodeWithScript(t *testing.T) {
	scripts := newScripts(t, `// @channel Trades/X
function decode(message) {
	if (message.data.halted) {
		return { error: ["Retry", "trading halted"] };
	}
	return { last: message.data.price * 2 };
}`)
	c := New(scripts, zerolog.Nop())
	sub := publisher.NewSubscription(5, 9, mustChannel(t, "Trades", "X", wire.ActionSub, nil), true)

	msg, err := c.Decode(sub, &wire.Envelope{Controller: "Trades", Topic: "X", Data: json.RawMessage(`{"price":2}`)}, wire.ActionSub)
	require.NoError(t, err)
	assert.JSONEq(t, `{"last":4}`, string(msg.(*PayloadMessage).Payload))

	msg, err = c.Decode(sub, &wire.Envelope{Controller: "Trades", Topic: "X", Data: json.RawMessage(`{"halted":true}`)}, wire.ActionSub)
	require.NoError(t, err)
	errMsg, ok := msg.(*publisher.ErrorMessage)
	require.True(t, ok)
	assert.Equal(t, publisher.KindDataError, errMsg.Kind)
	assert.Equal(t, publisher.RetryDelay, errMsg.AllowedRetry)
	assert.Equal(t, "Retry,trading halted (Trades/X)", errMsg.Text)
}

func TestCodec_DecodeScriptFailure(t *testing.T) {
	scripts := newScripts(t, `// @channel Trades/X
function decode(message) { return message.data.missing.field; }`)
	c := New(scripts, zerolog.Nop())
	sub := publisher.NewSubscription(5, 9, mustChannel(t, "Trades", "X", wire.ActionSub, nil), true)

	_, err := c.Decode(sub, &wire.Envelope{Controller: "Trades", Topic: "X", Data: json.RawMessage(`{}`)}, wire.ActionSub)
	require.ErrorIs(t, err, plugin.ErrPluginExecution)
}

type recordingSender struct {
	sent [][]byte
}

func (s *recordingSender) Send(data []byte) time.Duration {
	s.sent = append(s.sent, data)
	return time.Second
}

func TestCodec_WithManager(t *testing.T) {
	c := New(nil, zerolog.Nop())
	sender := &recordingSender{}
	m, err := publisher.NewManager(publisher.Config{}, publisher.Collaborators{
		Encoder: c,
		Decoder: c,
		Sender:  sender,
	}, zerolog.Nop())
	require.NoError(t, err)

	now := time.Now()
	sub := publisher.NewSubscription(3, 1, mustChannel(t, "Trades", "X", wire.ActionSub, nil), true)
	query := publisher.NewSubscription(4, 2, mustChannel(t, "Symbols", "QuerySymbol", wire.ActionPublish, []string{"BHP"}), false)
	require.NoError(t, m.Activate(sub))
	require.NoError(t, m.Activate(query))

	_, err = m.Exercise(now)
	require.NoError(t, err)
	require.Len(t, sender.sent, 2)

	sent, err := wire.Parse(sender.sent[1])
	require.NoError(t, err)
	require.True(t, sent.HasTransactionID())

	m.EnqueueIncoming([]byte(`{"Controller":"Trades","Topic":"X","Confirm":true}`))
	m.EnqueueIncoming([]byte(`{"Controller":"Trades","Topic":"X","Data":{"price":1}}`))
	reply := &wire.Envelope{Controller: "Symbols", Topic: "QuerySymbol", TransactionID: sent.TransactionID, Data: json.RawMessage(`[{"code":"BHP"}]`)}
	raw, err := reply.Bytes()
	require.NoError(t, err)
	m.EnqueueIncoming(raw)

	messages, err := m.Exercise(now)
	require.NoError(t, err)
	require.Len(t, messages, 4)
	assert.IsType(t, &publisher.SynchronisedMessage{}, messages[0])
	assert.IsType(t, &PayloadMessage{}, messages[1])
	assert.IsType(t, &PayloadMessage{}, messages[2])
	assert.Equal(t, publisher.DataItemID(4), messages[2].ItemID())
	assert.IsType(t, &publisher.SynchronisedMessage{}, messages[3])
	assert.Equal(t, 1, m.SubscriptionCount())
}
