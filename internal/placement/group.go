package placement

import (
	"fmt"
	"math"
	"sync"
)

// Group is a generated placement group: the ordered stripe records, the load
// state they left behind, and one load snapshot per stripe for diagnostics.
//
// Records never change once generated. Extend appends new stripes and is
// serialized internally; all other methods are safe for concurrent use.
type Group struct {
	cfg        Config
	opts       Options
	state      LoadState
	records    []Record
	history    []LoadState
	partitions []Partition
	mu         sync.RWMutex
}

// Partition is the inclusive hash range served by one stripe of the group.
type Partition struct {
	From uint32 `json:"from"`
	To   uint32 `json:"to"`
}

// Config returns the group shape. GroupSize reflects every extension.
func (g *Group) Config() Config {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cfg
}

// Options returns the selection rule the group was generated with.
func (g *Group) Options() Options {
	return g.opts
}

// Len returns the number of stripes in the group.
func (g *Group) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.records)
}

// Records returns the stripe records in generation order. The returned slice
// is owned by the caller; the records it holds are shared and read-only.
func (g *Group) Records() []Record {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Record, len(g.records))
	copy(out, g.records)
	return out
}

// Record returns the record of stripe i.
func (g *Group) Record(i uint32) (Record, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if int(i) >= len(g.records) {
		return Record{}, false
	}
	return g.records[i], true
}

// State returns a copy of the load state after the last stripe.
func (g *Group) State() LoadState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state.Clone()
}

// Snapshot returns a copy of the load state right after stripe i was placed.
func (g *Group) Snapshot(i int) (LoadState, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if i < 0 || i >= len(g.history) {
		return LoadState{}, false
	}
	return g.history[i].Clone(), true
}

// Extend appends additional stripes, continuing from the group's trailing
// load state. The result is identical to having generated the larger group
// in one call. Hash partitions are recomputed for the new size.
func (g *Group) Extend(additional int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := validateExtension(g.cfg, &g.state, len(g.records), additional); err != nil {
		return err
	}
	g.appendStripes(additional)
	g.cfg.GroupSize = len(g.records)
	g.partitions = partition(len(g.records))
	return nil
}

// appendStripes places n more stripes. Callers hold the write lock or own g.
func (g *Group) appendStripes(n int) {
	for i := 0; i < n; i++ {
		rec := placeStripe(g.cfg, g.opts, &g.state, len(g.records))
		g.records = append(g.records, rec)
		g.history = append(g.history, g.state.Clone())
	}
}

// NodeSlots lists every chunk slot of the group held by node, in stripe
// order. Under per-role exclusion one stripe can report two slots.
func (g *Group) NodeSlots(node int) []Slot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var slots []Slot
	for i, rec := range g.records {
		for j, n := range rec.Data {
			if n == node {
				slots = append(slots, Slot{Stripe: uint32(i), Chunk: j})
			}
		}
		for j, n := range rec.Parity {
			if n == node {
				slots = append(slots, Slot{Stripe: uint32(i), Chunk: len(rec.Data) + j, Parity: true})
			}
		}
	}
	return slots
}

// Partitions returns the hash range of every stripe.
func (g *Group) Partitions() []Partition {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Partition, len(g.partitions))
	copy(out, g.partitions)
	return out
}

// StripeForHash maps a 32-bit hash to the stripe whose partition contains it.
func (g *Group) StripeForHash(h uint32) uint32 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return stripeForHash(h, len(g.records))
}

// String summarizes the group for logs.
func (g *Group) String() string {
	cfg := g.Config()
	return fmt.Sprintf("group(N=%d S=%d D=%d G=%d %s)", cfg.Nodes, cfg.Chunks, cfg.DataChunks, cfg.GroupSize, g.opts.Strategy)
}

// partition splits the 32-bit hash space into n contiguous ranges of equal
// width; the last range absorbs the remainder up to MaxUint32.
func partition(n int) []Partition {
	size := uint32(math.MaxUint32 / uint32(n))
	parts := make([]Partition, n)
	for i := 0; i < n; i++ {
		from := uint32(i) * size
		to := from + size - 1
		if i == n-1 {
			to = math.MaxUint32
		}
		parts[i] = Partition{From: from, To: to}
	}
	return parts
}

func stripeForHash(h uint32, n int) uint32 {
	size := uint32(math.MaxUint32 / uint32(n))
	i := h / size
	if int(i) >= n {
		i = uint32(n - 1)
	}
	return i
}
