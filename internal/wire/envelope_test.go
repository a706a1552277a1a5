package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_OptionalFields(t *testing.T) {
	env, err := Parse([]byte(`{"Controller":"Trades","Topic":"X","Confirm":true}`))
	require.NoError(t, err)

	assert.Equal(t, "Trades", env.Controller)
	assert.Equal(t, "X", env.Topic)
	assert.False(t, env.HasTransactionID())
	assert.True(t, env.Confirmed())
	assert.True(t, env.DataAbsent())

	_, ok := ParseAction(env.Action)
	assert.False(t, ok)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte(`{"Controller":`))
	require.Error(t, err)
}

func TestParseAction(t *testing.T) {
	a, ok := ParseAction("SUB")
	require.True(t, ok)
	assert.Equal(t, ActionSub, a)

	_, ok = ParseAction("BOGUS")
	assert.False(t, ok)
}

func TestPublishKey(t *testing.T) {
	env := &Envelope{Controller: "Watchlist", Topic: "DeleteWatchlist"}
	_, err := PublishKey(env)
	require.ErrorIs(t, err, ErrMissingTransactionID)

	env.SetTransactionID(42)
	key, err := PublishKey(env)
	require.NoError(t, err)
	assert.Equal(t, "42", key)
}

func TestSubKey(t *testing.T) {
	env := &Envelope{Controller: "Trades", Topic: "BHP[ASX]"}
	assert.Equal(t, "Trades+BHP[ASX]", SubKey(env))
}

func TestErrorTexts(t *testing.T) {
	tests := []struct {
		name  string
		data  string
		texts []string
		ok    bool
	}{
		{"absent", ``, nil, false},
		{"null", `null`, nil, false},
		{"string", `"Not authorised"`, []string{"Not authorised"}, true},
		{"array", `["Retry","Limited"]`, []string{"Retry", "Limited"}, true},
		{"empty array", `[]`, nil, false},
		{"object array", `[{"a":1}]`, nil, false},
		{"object", `{"Price":1.5}`, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := &Envelope{Data: json.RawMessage(tt.data)}
			texts, ok := env.ErrorTexts()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.texts, texts)
		})
	}
}

func TestClone_IsDeep(t *testing.T) {
	env := &Envelope{Controller: "Trades", Topic: "X", Data: json.RawMessage(`"a"`)}
	env.SetConfirm(true)
	env.SetTransactionID(7)

	clone := env.Clone()
	clone.SetConfirm(false)
	clone.Data[1] = 'b'

	assert.True(t, env.Confirmed())
	assert.Equal(t, `"a"`, string(env.Data))
	assert.Equal(t, int64(7), *clone.TransactionID)
}
