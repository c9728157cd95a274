package concat

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// partState is the reassembly bucket for one concatenated message. It is only
// mutated while the owning map shard is locked.
type partState struct {
	totalParts  uint8
	parts       map[uint8]string
	source      string
	destination string
	firstSeen   time.Time
}

func (p *partState) isComplete() bool {
	return len(p.parts) == int(p.totalParts)
}

// Tracker accumulates segments keyed by (reference, source, destination).
type Tracker struct {
	states cmap.ConcurrentMap[string, *partState]
	now    func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		states: cmap.New[*partState](),
		now:    time.Now,
	}
}

func trackerKey(reference uint16, source, destination string) string {
	return fmt.Sprintf("%d|%s|%s", reference, source, destination)
}

// Track records one segment. Non-multipart messages complete immediately.
// For multipart messages the call that stores the last missing part reports
// completion exactly once and receives the parts joined in part-number order.
func (t *Tracker) Track(ctx context.Context, info *Info, isMultipart bool, text, source, destination string) (bool, string) {
	if !isMultipart || info == nil {
		return true, text
	}

	key := trackerKey(info.Reference, source, destination)
	var duplicate, outOfRange bool
	state := t.states.Upsert(key, nil, func(exists bool, current *partState, _ *partState) *partState {
		if !exists || current == nil {
			current = &partState{
				totalParts:  info.TotalParts,
				parts:       make(map[uint8]string, info.TotalParts),
				source:      source,
				destination: destination,
				firstSeen:   t.now(),
			}
		}
		if info.PartNumber > current.totalParts {
			// totalParts is fixed by the first segment seen
			outOfRange = true
			return current
		}
		_, duplicate = current.parts[info.PartNumber]
		current.parts[info.PartNumber] = text
		return current
	})

	if outOfRange {
		slog.WarnContext(ctx, "Segment part number exceeds total parts, dropped",
			slog.String("key", key),
			slog.Int("part", int(info.PartNumber)),
			slog.Int("total", int(state.totalParts)))
		return false, ""
	}
	if duplicate {
		slog.WarnContext(ctx, "Duplicate segment overwrote stored part",
			slog.String("key", key),
			slog.Int("part", int(info.PartNumber)))
	}

	removed := t.states.RemoveCb(key, func(_ string, v *partState, exists bool) bool {
		return exists && v == state && v.isComplete()
	})
	if !removed {
		return false, ""
	}

	// The state is unreachable from the map now, so no writer can touch it.
	order := make([]uint8, 0, len(state.parts))
	for n := range state.parts {
		order = append(order, n)
	}
	slices.Sort(order)

	var sb strings.Builder
	for _, n := range order {
		sb.WriteString(state.parts[n])
	}
	slog.DebugContext(ctx, "Concatenated message complete",
		slog.String("key", key),
		slog.Int("parts", len(order)))
	return true, sb.String()
}

// CleanUp evicts every entry first seen more than timeout ago, complete or not.
// It returns the number of evicted entries.
func (t *Tracker) CleanUp(ctx context.Context, timeout time.Duration) int {
	cutoff := t.now().Add(-timeout)
	evicted := 0
	for key, snapshot := range t.states.Items() {
		if !snapshot.firstSeen.Before(cutoff) {
			continue
		}
		var received, total int
		ok := t.states.RemoveCb(key, func(_ string, v *partState, exists bool) bool {
			if !exists || v != snapshot {
				return false
			}
			received, total = len(v.parts), int(v.totalParts)
			return true
		})
		if !ok {
			continue
		}
		evicted++
		slog.WarnContext(ctx, "Evicted stale partial message",
			slog.String("key", key),
			slog.String("source", snapshot.source),
			slog.String("destination", snapshot.destination),
			slog.Int("received_parts", received),
			slog.Int("total_parts", total),
			slog.Time("first_seen", snapshot.firstSeen))
	}
	return evicted
}

// Pending is the number of messages still awaiting segments.
func (t *Tracker) Pending() int {
	return t.states.Count()
}
