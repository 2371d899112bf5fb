package radio

import (
	"context"
	"sync/atomic"
	"time"
)

// NodeEntry is one row of the driver's in-memory node table, built from
// nodeinfo broadcasts the radio has overheard.
type NodeEntry struct {
	Num           uint32
	User          User
	Position      *Position
	DeviceMetrics *DeviceMetrics
	SNR           float64
	LastHeard     time.Time
}

// Interface is the contract a connected radio driver satisfies. The
// core only ever reads the node table and sends probes; everything else
// arrives through the packet channel the driver feeds.
type Interface interface {
	// LocalNodeID returns the canonical id of the attached radio.
	LocalNodeID() string

	// LocalNodeNum returns the attached radio's node number.
	LocalNodeNum() uint32

	// Nodes returns a snapshot of the driver's node table.
	Nodes() []NodeEntry

	// SendTraceroute issues a route-discovery probe toward dest with
	// the given hop limit, requesting a response.
	SendTraceroute(ctx context.Context, dest uint32, hopLimit int) error

	// SendTelemetryRequest asks dest for its device metrics.
	SendTelemetryRequest(ctx context.Context, dest uint32) error

	// SendText transmits a text message on the given channel.
	SendText(ctx context.Context, dest uint32, channel int, text string) error
}

// Slot holds the currently connected interface. The driver sets it on
// connect and clears it on disconnect; schedulers and handlers read it
// on every cycle and no-op when it is empty.
type Slot struct {
	v atomic.Pointer[slotEntry]
}

type slotEntry struct {
	iface Interface
}

// Set installs iface as the current interface.
func (s *Slot) Set(iface Interface) {
	s.v.Store(&slotEntry{iface: iface})
}

// Clear removes the current interface.
func (s *Slot) Clear() {
	s.v.Store(nil)
}

// Get returns the current interface, or false when no radio is
// connected.
func (s *Slot) Get() (Interface, bool) {
	e := s.v.Load()
	if e == nil || e.iface == nil {
		return nil, false
	}
	return e.iface, true
}
