package view

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/meshwatchio/meshwatch/internal/meshid"
	"github.com/meshwatchio/meshwatch/internal/store"
)

// DefaultCoverageWindow bounds how far back coverage derivation looks
// when the caller does not say.
const DefaultCoverageWindow = 24 * time.Hour

// Confidence tiers for direct links, assigned from observation count.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// Provenance tags recorded on direct links.
const (
	SourceRelayPacket = "relay-packet"
	SourceTraceroute  = "traceroute"
	SourceTelemetry   = "telemetry"
)

type Position struct {
	Lat float64  `json:"lat"`
	Lon float64  `json:"lon"`
	Alt *float64 `json:"alt,omitempty"`
}

// CoverageNode is one positioned node with its direct-link degree.
type CoverageNode struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	ShortName   string   `json:"short_name"`
	Position    Position `json:"position"`
	DirectLinks int      `json:"direct_links"`
	Battery     *int64   `json:"battery,omitempty"`
	LastSeen    string   `json:"last_seen_utc"`
}

// DirectLink is one zero-hop edge, deduplicated by unordered endpoint
// pair across all provenance sources.
type DirectLink struct {
	NodeA        string   `json:"node_a"`
	NodeB        string   `json:"node_b"`
	AvgSNR       *float64 `json:"avg_snr,omitempty"`
	AvgRSSI      *float64 `json:"avg_rssi,omitempty"`
	Observations int64    `json:"observations"`
	Source       string   `json:"source"`
	Confidence   string   `json:"confidence"`
}

// RelayCoverage is the set of senders one relay was heard forwarding,
// bucketed by hop distance.
type RelayCoverage struct {
	RelayID    string              `json:"relay_id"`
	RelayName  *string             `json:"relay_name,omitempty"`
	Tiers      map[string][]string `json:"tiers"`
	TotalHeard int                 `json:"total_heard"`
}

type Coverage struct {
	WindowHours  float64         `json:"window_hours"`
	Nodes        []CoverageNode  `json:"nodes"`
	DirectLinks  []DirectLink    `json:"direct_links"`
	Indirect     []RelayCoverage `json:"indirect"`
	HopHistogram map[int64]int64 `json:"hop_histogram"`
}

// directAcc accumulates one unordered endpoint pair.
type directAcc struct {
	a, b     string
	snrSum   float64
	snrCount int64
	rssiSum  float64
	rssiN    int64
	count    int64
	sources  map[string]bool
}

type coverageAcc struct {
	direct    map[string]*directAcc
	indirect  map[string]map[string]map[string]bool // relay -> tier -> senders
	histogram map[int64]int64
}

func newCoverageAcc() *coverageAcc {
	return &coverageAcc{
		direct:    map[string]*directAcc{},
		indirect:  map[string]map[string]map[string]bool{},
		histogram: map[int64]int64{},
	}
}

// CoverageMap partitions the window's relay observations into direct
// links and per-relay indirect coverage. Unresolved relay markers are
// skipped entirely.
func (v *Views) CoverageMap(ctx context.Context, window time.Duration) (*Coverage, error) {
	if window <= 0 {
		window = DefaultCoverageWindow
	}
	since := v.clock.Now().Add(-window)

	packets, err := v.store.RelayObservations(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("coverage packets: %w", err)
	}
	telemetry, err := v.store.CompletedTelemetrySince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("coverage telemetry: %w", err)
	}
	traceroutes, err := v.store.TraceroutesSince(ctx, since, 1000)
	if err != nil {
		return nil, fmt.Errorf("coverage traceroutes: %w", err)
	}

	acc := newCoverageAcc()
	for _, p := range packets {
		if p.RelayNodeID == nil || p.HopsAway == nil || !meshid.IsCanonical(*p.RelayNodeID) {
			continue
		}
		acc.observe(p.NodeID, *p.RelayNodeID, *p.HopsAway, p.RxSNR, f64OfInt(p.RxRSSI), SourceRelayPacket)
	}
	for _, a := range telemetry {
		if a.RelayNodeID == nil || a.HopsAway == nil || !meshid.IsCanonical(*a.RelayNodeID) {
			continue
		}
		acc.observe(a.TargetID, *a.RelayNodeID, *a.HopsAway, a.RxSNR, f64OfInt(a.RxRSSI), SourceTelemetry)
	}
	for _, tr := range traceroutes {
		for i := 0; i+1 < len(tr.Route); i++ {
			from, to := tr.Route[i], tr.Route[i+1]
			if !meshid.IsCanonical(from) || !meshid.IsCanonical(to) {
				continue
			}
			var snr *float64
			if i < len(tr.SNRTowards) {
				snr = &tr.SNRTowards[i]
			}
			acc.addDirect(from, to, snr, nil, SourceTraceroute)
		}
	}

	nodes, err := v.store.Nodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("coverage nodes: %w", err)
	}
	return acc.build(window, nodes), nil
}

// observe files one relay observation: hops 0 is a direct link between
// source and relay, anything deeper credits the relay's coverage set.
func (c *coverageAcc) observe(sourceID, relayID string, hops int64, snr, rssi *float64, source string) {
	c.histogram[hops]++
	if hops == 0 {
		c.addDirect(sourceID, relayID, snr, rssi, source)
		return
	}

	tier := hopTier(hops)
	tiers, ok := c.indirect[relayID]
	if !ok {
		tiers = map[string]map[string]bool{}
		c.indirect[relayID] = tiers
	}
	if tiers[tier] == nil {
		tiers[tier] = map[string]bool{}
	}
	tiers[tier][sourceID] = true
}

func (c *coverageAcc) addDirect(a, b string, snr, rssi *float64, source string) {
	if a == b {
		return
	}
	if a > b {
		a, b = b, a
	}
	key := a + "|" + b
	d, ok := c.direct[key]
	if !ok {
		d = &directAcc{a: a, b: b, sources: map[string]bool{}}
		c.direct[key] = d
	}
	d.count++
	d.sources[source] = true
	if snr != nil {
		d.snrSum += *snr
		d.snrCount++
	}
	if rssi != nil {
		d.rssiSum += *rssi
		d.rssiN++
	}
}

func (c *coverageAcc) build(window time.Duration, nodes []store.Node) *Coverage {
	cov := &Coverage{
		WindowHours:  window.Hours(),
		HopHistogram: c.histogram,
	}

	degree := map[string]int{}
	keys := make([]string, 0, len(c.direct))
	for k := range c.direct {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		d := c.direct[k]
		degree[d.a]++
		degree[d.b]++
		cov.DirectLinks = append(cov.DirectLinks, DirectLink{
			NodeA:        d.a,
			NodeB:        d.b,
			AvgSNR:       meanOf(d.snrSum, d.snrCount),
			AvgRSSI:      meanOf(d.rssiSum, d.rssiN),
			Observations: d.count,
			Source:       sourceTag(d.sources),
			Confidence:   confidence(d.count),
		})
	}

	names := map[string]*string{}
	for _, n := range nodes {
		if n.LongName != nil || n.ShortName != nil {
			label := nodeLabel(n)
			names[n.ID] = &label
		}
		if n.Latitude == nil || n.Longitude == nil {
			continue
		}
		cov.Nodes = append(cov.Nodes, CoverageNode{
			ID:          n.ID,
			Name:        nodeLabel(n),
			ShortName:   shortLabel(n),
			Position:    Position{Lat: *n.Latitude, Lon: *n.Longitude, Alt: n.Altitude},
			DirectLinks: degree[n.ID],
			Battery:     n.BatteryLevel,
			LastSeen:    n.LastSeen.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}

	relays := make([]string, 0, len(c.indirect))
	for r := range c.indirect {
		relays = append(relays, r)
	}
	sort.Strings(relays)
	for _, r := range relays {
		entry := RelayCoverage{RelayID: r, RelayName: names[r], Tiers: map[string][]string{}}
		for tier, senders := range c.indirect[r] {
			ids := make([]string, 0, len(senders))
			for id := range senders {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			entry.Tiers[tier] = ids
			entry.TotalHeard += len(ids)
		}
		cov.Indirect = append(cov.Indirect, entry)
	}
	return cov
}

// hopTier buckets a hop distance into {1, 2, 3, 4+}.
func hopTier(hops int64) string {
	if hops >= 4 {
		return "4+"
	}
	return fmt.Sprintf("%d", hops)
}

func confidence(observations int64) string {
	switch {
	case observations >= 20:
		return ConfidenceHigh
	case observations >= 5:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// sourceTag collapses the provenance set to a single tag, joining mixed
// origins in a stable order.
func sourceTag(sources map[string]bool) string {
	tags := make([]string, 0, len(sources))
	for s := range sources {
		tags = append(tags, s)
	}
	sort.Strings(tags)
	return strings.Join(tags, "+")
}

func meanOf(sum float64, n int64) *float64 {
	if n == 0 {
		return nil
	}
	m := sum / float64(n)
	return &m
}

func f64OfInt(v *int64) *float64 {
	if v == nil {
		return nil
	}
	f := float64(*v)
	return &f
}
