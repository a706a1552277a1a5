package publisher

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"feedsync/internal/wire"
)

type testChannel struct {
	controller string
	topic      string
	action     wire.Action
}

func (c testChannel) Description() string {
	return c.controller + "/" + c.topic
}

func subChannel(controller, topic string) testChannel {
	return testChannel{controller: controller, topic: topic, action: wire.ActionSub}
}

func publishChannel(controller, topic string) testChannel {
	return testChannel{controller: controller, topic: topic, action: wire.ActionPublish}
}

// fakeEncoder builds envelopes from testChannel descriptors
type fakeEncoder struct {
	err error
	// when true, publish requests are sent without an explicit action
	implicitPublish bool
}

func (e *fakeEncoder) Encode(req *Request) (*wire.Envelope, error) {
	if e.err != nil {
		return nil, e.err
	}
	ch, ok := req.Subscription.Channel().(testChannel)
	if !ok {
		return nil, errors.New("unexpected channel type")
	}
	env := &wire.Envelope{Controller: ch.controller, Topic: ch.topic}
	switch {
	case req.Kind == RequestUnsubscribe:
		env.Action = string(wire.ActionUnsub)
	case ch.action == wire.ActionPublish:
		if !e.implicitPublish {
			env.Action = string(wire.ActionPublish)
		}
		env.SetTransactionID(req.TransactionID())
	default:
		env.Action = string(ch.action)
	}
	return env, nil
}

type testPayload struct {
	Header
	Data string
}

type fakeDecoder struct {
	decode func(sub *Subscription, env *wire.Envelope, action wire.Action) (DataMessage, error)
	calls  int
}

func (d *fakeDecoder) Decode(sub *Subscription, env *wire.Envelope, action wire.Action) (DataMessage, error) {
	d.calls++
	if d.decode != nil {
		return d.decode(sub, env, action)
	}
	return &testPayload{Header: HeaderFor(sub), Data: string(env.Data)}, nil
}

type fakeSender struct {
	timeout time.Duration
	sent    [][]byte
}

func (s *fakeSender) Send(data []byte) time.Duration {
	s.sent = append(s.sent, data)
	return s.timeout
}

func (s *fakeSender) envelope(t *testing.T, i int) *wire.Envelope {
	t.Helper()
	require.Greater(t, len(s.sent), i)
	env, err := wire.Parse(s.sent[i])
	require.NoError(t, err)
	return env
}

type fakeAuth struct {
	received []*wire.Envelope
}

func (a *fakeAuth) OnAuthEnvelope(env *wire.Envelope) {
	a.received = append(a.received, env)
}

type fakeRecorder struct {
	errors        map[ErrorKind]int
	warnings      int
	sent          int
	received      int
	active        int
	queueDepth    int
	gaugeReported bool
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{errors: make(map[ErrorKind]int)}
}

func (r *fakeRecorder) SubscriptionError(kind ErrorKind) {
	r.errors[kind]++
}

func (r *fakeRecorder) ServerWarning()  { r.warnings++ }
func (r *fakeRecorder) PacketSent()     { r.sent++ }
func (r *fakeRecorder) PacketReceived() { r.received++ }

func (r *fakeRecorder) ActiveSubscriptions(n int) {
	r.active = n
	r.gaugeReported = true
}

func (r *fakeRecorder) SendQueueDepth(n int) { r.queueDepth = n }

type harness struct {
	manager  *Manager
	encoder  *fakeEncoder
	decoder  *fakeDecoder
	sender   *fakeSender
	auth     *fakeAuth
	recorder *fakeRecorder
	now      time.Time
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		encoder:  &fakeEncoder{},
		decoder:  &fakeDecoder{},
		sender:   &fakeSender{timeout: 5 * time.Second},
		auth:     &fakeAuth{},
		recorder: newFakeRecorder(),
		now:      time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	m, err := NewManager(cfg, Collaborators{
		Encoder:  h.encoder,
		Decoder:  h.decoder,
		Sender:   h.sender,
		Auth:     h.auth,
		Recorder: h.recorder,
	}, zerolog.Nop())
	require.NoError(t, err)
	h.manager = m
	return h
}

// tick runs Exercise at the harness clock and requires success
func (h *harness) tick(t *testing.T) []DataMessage {
	t.Helper()
	messages, err := h.manager.Exercise(h.now)
	require.NoError(t, err)
	return messages
}

func (h *harness) receive(raw string) {
	h.manager.EnqueueIncoming([]byte(raw))
}

// subscribed activates a Trades/X subscription and confirms it
func (h *harness) subscribed(t *testing.T) *Subscription {
	t.Helper()
	sub := NewSubscription(7, 3, subChannel("Trades", "X"), true)
	require.NoError(t, h.manager.Activate(sub))
	h.tick(t)
	h.receive(`{"Controller":"Trades","Topic":"X","Action":"SUB","Confirm":true}`)
	h.tick(t)
	require.Equal(t, StateSubscribed, sub.State())
	return sub
}
