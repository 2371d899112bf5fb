package radio

import (
	"sort"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// DefaultNodeTTL is how long a node table entry survives without being
// refreshed by traffic from that node.
const DefaultNodeTTL = 6 * time.Hour

// NodeTable is the driver-side in-memory node table. Entries expire
// when a node goes quiet so relay resolution does not match against
// long-gone radios.
type NodeTable struct {
	cache *ttlcache.Cache[uint32, NodeEntry]
}

// NewNodeTable builds a table whose entries expire after ttl; ttl <= 0
// selects DefaultNodeTTL.
func NewNodeTable(ttl time.Duration) *NodeTable {
	if ttl <= 0 {
		ttl = DefaultNodeTTL
	}
	c := ttlcache.New(
		ttlcache.WithTTL[uint32, NodeEntry](ttl),
		ttlcache.WithDisableTouchOnHit[uint32, NodeEntry](),
	)
	go c.Start()
	return &NodeTable{cache: c}
}

// Stop halts the expiry goroutine.
func (t *NodeTable) Stop() {
	t.cache.Stop()
}

// Upsert merges an observation into the table, refreshing the TTL.
// Zero-valued fields of the observation leave existing data in place.
func (t *NodeTable) Upsert(e NodeEntry) {
	if cur := t.cache.Get(e.Num); cur != nil {
		prev := cur.Value()
		if e.User.LongName == "" {
			e.User.LongName = prev.User.LongName
		}
		if e.User.ShortName == "" {
			e.User.ShortName = prev.User.ShortName
		}
		if e.User.HwModel == "" {
			e.User.HwModel = prev.User.HwModel
		}
		if e.User.Role == "" {
			e.User.Role = prev.User.Role
		}
		if e.Position == nil {
			e.Position = prev.Position
		}
		if e.DeviceMetrics == nil {
			e.DeviceMetrics = prev.DeviceMetrics
		}
		if e.SNR == 0 {
			e.SNR = prev.SNR
		}
		if e.LastHeard.IsZero() {
			e.LastHeard = prev.LastHeard
		}
	}
	t.cache.Set(e.Num, e, ttlcache.DefaultTTL)
}

// Get returns the entry for a node number.
func (t *NodeTable) Get(num uint32) (NodeEntry, bool) {
	item := t.cache.Get(num)
	if item == nil {
		return NodeEntry{}, false
	}
	return item.Value(), true
}

// All returns a snapshot of live entries ordered by node number.
func (t *NodeTable) All() []NodeEntry {
	items := t.cache.Items()
	out := make([]NodeEntry, 0, len(items))
	for _, item := range items {
		out = append(out, item.Value())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Num < out[j].Num })
	return out
}

// Observe folds a received packet into the table: nodeinfo updates
// names, position updates coordinates, telemetry updates device
// metrics, and every packet refreshes SNR and last-heard.
func (t *NodeTable) Observe(p *Packet, at time.Time) {
	if p == nil || p.From == 0 || p.From == 0xffffffff {
		return
	}
	e := NodeEntry{Num: p.From, LastHeard: at}
	if p.RxSNR != nil {
		e.SNR = *p.RxSNR
	}
	if d := p.Decoded; d != nil {
		switch d.Port {
		case PortNodeInfo:
			if d.User != nil {
				e.User = *d.User
			}
		case PortPosition:
			e.Position = d.Position
		case PortTelemetry:
			if d.Telemetry != nil {
				e.DeviceMetrics = d.Telemetry.DeviceMetrics
			}
		}
	}
	t.Upsert(e)
}
