package ingest

import (
	"context"
	"log/slog"
	"sort"

	"github.com/meshwatchio/meshwatch/internal/meshid"
	"github.com/meshwatchio/meshwatch/internal/radio"
	"github.com/meshwatchio/meshwatch/internal/store"
)

// Resolver maps the 8-bit relay identifier carried on the wire back to
// a full node identity. The driver's node table is checked first; the
// persisted node set is the fallback.
type Resolver struct {
	log   *slog.Logger
	store *store.Store
	slot  *radio.Slot
}

// NewResolver builds a resolver over the given candidate sources.
func NewResolver(log *slog.Logger, st *store.Store, slot *radio.Slot) *Resolver {
	return &Resolver{
		log:   log.With("component", "relay-resolver"),
		store: st,
		slot:  slot,
	}
}

type relayCandidate struct {
	id           string
	name         string
	snr          float64
	lastHeard    int64
	totalPackets int64
}

// Resolve returns the full identity and display name of the matched
// relay, or ok = false when no candidate qualifies. A candidate
// qualifies when the low byte of its node number equals partial and it
// is not the packet's source.
func (r *Resolver) Resolve(ctx context.Context, partial uint8, sourceID string) (id, name string, ok bool) {
	var matches []relayCandidate

	if iface, connected := r.slot.Get(); connected {
		for _, entry := range iface.Nodes() {
			entryID := entry.User.ID
			if entryID == "" {
				entryID = meshid.FromNum(entry.Num)
			}
			if entryID == sourceID {
				continue
			}
			if meshid.LowByte(entry.Num) != partial {
				continue
			}
			matches = append(matches, relayCandidate{
				id:        entryID,
				name:      displayName(entry.User.LongName, entry.User.ShortName, entryID),
				snr:       entry.SNR,
				lastHeard: entry.LastHeard.Unix(),
			})
		}
	}

	if len(matches) == 0 {
		nodes, err := r.store.Nodes(ctx)
		if err != nil {
			r.log.Warn("relay fallback query failed", "error", err)
			return "", "", false
		}
		for _, n := range nodes {
			if n.ID == sourceID || n.Num == nil {
				continue
			}
			if meshid.LowByte(uint32(*n.Num)) != partial {
				continue
			}
			longName, shortName := "", ""
			if n.LongName != nil {
				longName = *n.LongName
			}
			if n.ShortName != nil {
				shortName = *n.ShortName
			}
			matches = append(matches, relayCandidate{
				id:           n.ID,
				name:         displayName(longName, shortName, n.ID),
				snr:          -999,
				totalPackets: n.TotalPackets,
			})
		}
	}

	if len(matches) == 0 {
		return "", "", false
	}

	// Rank by most recent last-heard, then best SNR, then cumulative
	// packet count.
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.lastHeard != b.lastHeard {
			return a.lastHeard > b.lastHeard
		}
		if a.snr != b.snr {
			return a.snr > b.snr
		}
		return a.totalPackets > b.totalPackets
	})

	best := matches[0]
	if len(matches) > 1 {
		r.log.Debug("multiple relay matches", "partial", partial, "chosen", best.id, "candidates", len(matches))
	}
	return best.id, best.name, true
}

func displayName(longName, shortName, fallback string) string {
	if longName != "" {
		return longName
	}
	if shortName != "" {
		return shortName
	}
	return fallback
}
