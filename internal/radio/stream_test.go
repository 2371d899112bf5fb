package radio_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshwatchio/meshwatch/internal/radio"
)

func TestStreamRunDeliversPackets(t *testing.T) {
	t.Parallel()

	table := radio.NewNodeTable(time.Hour)
	defer table.Stop()

	var sent bytes.Buffer
	s := radio.NewStream(testLogger(t), &sent, table)

	input := strings.Join([]string{
		`{"type":"hello","nodeNum":287454020}`,
		`not json at all`,
		`{"type":"packet","packet":{"id":7,"from":19088743,"fromId":"!01234567","to":4294967295,"decoded":{"portnum":"TEXT_MESSAGE_APP","text":"hi"}}}`,
		`{"type":"bogus"}`,
	}, "\n") + "\n"

	out := make(chan *radio.Packet, 4)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.Run(ctx, strings.NewReader(input), out)
	require.ErrorIs(t, err, io.EOF)

	assert.Equal(t, uint32(0x11223344), s.LocalNodeNum())
	assert.Equal(t, "!11223344", s.LocalNodeID())

	require.Len(t, out, 1, "malformed and unknown lines are skipped")
	p := <-out
	assert.Equal(t, uint32(7), p.ID)
	assert.Equal(t, "hi", p.Decoded.Text)

	// The packet was folded into the node table.
	_, ok := table.Get(0x01234567)
	assert.True(t, ok)
}

func TestStreamSendCommands(t *testing.T) {
	t.Parallel()

	table := radio.NewNodeTable(time.Hour)
	defer table.Stop()

	var sent bytes.Buffer
	s := radio.NewStream(testLogger(t), &sent, table)
	ctx := context.Background()

	require.NoError(t, s.SendTraceroute(ctx, 0xaabbccdd, 7))
	require.NoError(t, s.SendTelemetryRequest(ctx, 0xaabbccdd))
	require.NoError(t, s.SendText(ctx, 0xffffffff, 2, "ping"))

	lines := strings.Split(strings.TrimSpace(sent.String()), "\n")
	require.Len(t, lines, 3)

	var tr map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &tr))
	assert.Equal(t, "traceroute", tr["type"])
	assert.Equal(t, float64(7), tr["hopLimit"])
	assert.Equal(t, true, tr["wantResponse"])

	var txt map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &txt))
	assert.Equal(t, "text", txt["type"])
	assert.Equal(t, "ping", txt["text"])
	assert.Equal(t, float64(2), txt["channel"])
}

func TestStreamSendCanceledContext(t *testing.T) {
	t.Parallel()

	table := radio.NewNodeTable(time.Hour)
	defer table.Stop()

	s := radio.NewStream(testLogger(t), &bytes.Buffer{}, table)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.Error(t, s.SendTraceroute(ctx, 1, 7))
}
