package publisher

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWireLogLevel(t *testing.T) {
	for input, want := range map[string]WireLogLevel{
		"":        WireLogOff,
		"off":     WireLogOff,
		"Partial": WireLogPartial,
		" full ":  WireLogFull,
	} {
		level, err := ParseWireLogLevel(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, level, input)
	}

	_, err := ParseWireLogLevel("verbose")
	require.Error(t, err)
}

func countLines(buf *bytes.Buffer) int {
	return strings.Count(buf.String(), "\n")
}

func TestWireLog_Levels(t *testing.T) {
	now := time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)
	out := []byte(`{"Controller":"Trades","Topic":"X","Action":"SUB"}`)
	in := []byte(`{"Controller":"Trades","Topic":"X"}`)

	tests := []struct {
		level WireLogLevel
		lines int
	}{
		{level: WireLogOff, lines: 0},
		{level: WireLogPartial, lines: 2},
		{level: WireLogFull, lines: 4},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			var buf bytes.Buffer
			logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
			wl, err := NewWireLog(tt.level, 16, logger)
			require.NoError(t, err)

			wl.Outgoing(now, "Trades+X", out)
			wl.Incoming(now, "Trades+X", in)
			wl.Incoming(now, "Trades+X", in)
			wl.Incoming(now, "Other+Y", in)

			assert.Equal(t, tt.lines, countLines(&buf))
		})
	}
}

func TestWireLog_EntryFields(t *testing.T) {
	var buf bytes.Buffer
	wl, err := NewWireLog(WireLogFull, 0, zerolog.New(&buf))
	require.NoError(t, err)

	wl.Outgoing(time.Now(), "", []byte(`{"Controller":"Trades","Topic":"X"}`))

	line := buf.String()
	assert.Contains(t, line, `"direction":"-->"`)
	assert.Contains(t, line, `"envelope":{"Controller":"Trades","Topic":"X"}`)
	assert.Contains(t, line, `"component":"wirelog"`)
}

func TestManager_PartialWireLogLogsFirstReply(t *testing.T) {
	var buf bytes.Buffer
	h := newHarness(t, Config{})
	m, err := NewManager(Config{WireLogLevel: WireLogPartial}, Collaborators{
		Encoder: h.encoder,
		Decoder: h.decoder,
		Sender:  h.sender,
	}, zerolog.New(&buf).Level(zerolog.DebugLevel))
	require.NoError(t, err)

	require.NoError(t, m.Activate(NewSubscription(1, 1, subChannel("Trades", "X"), true)))
	_, err = m.Exercise(h.now)
	require.NoError(t, err)

	m.EnqueueIncoming([]byte(`{"Controller":"Trades","Topic":"X","Confirm":true}`))
	m.EnqueueIncoming([]byte(`{"Controller":"Trades","Topic":"X","Data":{"p":1}}`))
	_, err = m.Exercise(h.now)
	require.NoError(t, err)

	var wire []string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if strings.Contains(line, `"message":"wire"`) {
			wire = append(wire, line)
		}
	}
	require.Len(t, wire, 2)
	assert.Contains(t, wire[0], `"direction":"-->"`)
	assert.Contains(t, wire[1], `"direction":"<--"`)
	assert.Contains(t, wire[1], `"Confirm":true`)
}
