package radio

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meshwatchio/meshwatch/internal/meshid"
)

// Stream is a radio driver speaking newline-delimited JSON over a byte
// stream, typically a serial bridge or TCP connection to the attached
// radio. Inbound lines carry decoded packets (plus a hello announcing
// the local node); outbound lines carry send commands.
type Stream struct {
	log   *slog.Logger
	table *NodeTable

	localNum atomic.Uint32

	mu sync.Mutex
	w  io.Writer
}

// inbound is one line received from the bridge.
type inbound struct {
	Type    string  `json:"type"`
	NodeNum uint32  `json:"nodeNum,omitempty"`
	Packet  *Packet `json:"packet,omitempty"`
}

// command is one line sent to the bridge.
type command struct {
	Type         string `json:"type"`
	Dest         uint32 `json:"dest,omitempty"`
	HopLimit     int    `json:"hopLimit,omitempty"`
	Channel      int    `json:"channel,omitempty"`
	Text         string `json:"text,omitempty"`
	WantResponse bool   `json:"wantResponse,omitempty"`
}

// NewStream builds a driver writing commands to w. The node table is
// shared so callers can size its TTL.
func NewStream(log *slog.Logger, w io.Writer, table *NodeTable) *Stream {
	return &Stream{
		log:   log.With("component", "radio"),
		table: table,
		w:     w,
	}
}

// Run consumes inbound lines from r until EOF or context cancellation,
// folding packets into the node table and forwarding them on out.
// Malformed lines are logged and skipped.
func (s *Stream) Run(ctx context.Context, r io.Reader, out chan<- *Packet) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for sc.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var in inbound
		if err := json.Unmarshal(line, &in); err != nil {
			s.log.Warn("malformed line from bridge", "error", err)
			continue
		}
		switch in.Type {
		case "hello":
			s.localNum.Store(in.NodeNum)
			s.log.Info("radio connected", "local_node", meshid.FromNum(in.NodeNum))
		case "packet":
			if in.Packet == nil {
				s.log.Warn("packet line without packet body")
				continue
			}
			s.table.Observe(in.Packet, time.Now().UTC())
			select {
			case out <- in.Packet:
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			s.log.Warn("unknown line type from bridge", "type", in.Type)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read bridge stream: %w", err)
	}
	return io.EOF
}

// LocalNodeNum returns the attached radio's node number, 0 before the
// bridge hello arrives.
func (s *Stream) LocalNodeNum() uint32 {
	return s.localNum.Load()
}

// LocalNodeID returns the canonical id of the attached radio.
func (s *Stream) LocalNodeID() string {
	return meshid.FromNum(s.localNum.Load())
}

// Nodes returns a snapshot of the driver node table.
func (s *Stream) Nodes() []NodeEntry {
	return s.table.All()
}

// SendTraceroute issues a route-discovery probe through the bridge.
func (s *Stream) SendTraceroute(ctx context.Context, dest uint32, hopLimit int) error {
	return s.send(ctx, command{Type: "traceroute", Dest: dest, HopLimit: hopLimit, WantResponse: true})
}

// SendTelemetryRequest asks dest for device metrics.
func (s *Stream) SendTelemetryRequest(ctx context.Context, dest uint32) error {
	return s.send(ctx, command{Type: "telemetry", Dest: dest, WantResponse: true})
}

// SendText transmits a text message.
func (s *Stream) SendText(ctx context.Context, dest uint32, channel int, text string) error {
	return s.send(ctx, command{Type: "text", Dest: dest, Channel: channel, Text: text})
}

func (s *Stream) send(ctx context.Context, cmd command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	buf, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode %s command: %w", cmd.Type, err)
	}
	buf = append(buf, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(buf); err != nil {
		return fmt.Errorf("write %s command: %w", cmd.Type, err)
	}
	return nil
}
