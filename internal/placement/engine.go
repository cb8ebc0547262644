package placement

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// Generate builds a placement group of cfg.GroupSize stripes starting from an
// all-zero load state.
//
// For every stripe, in order:
//  1. The load and cost counters continue from the previous stripe; they are
//     never reset inside a group.
//  2. Each of the P parity slots takes the eligible node with the smallest
//     load. A node is eligible when it has not already been chosen for a
//     parity slot of this stripe. The chosen node's load grows by D, the
//     reconstruction cost of a parity chunk, and its cost by 1.
//  3. Each of the D data slots is chosen the same way, excluding nodes
//     already chosen for a data slot of this stripe. Load and cost grow by 1.
//     The parity nodes of the stripe stay eligible unless opts.DistinctNodes
//     is set.
//
// Ties go to the lowest node index: the scan keeps the first minimum it sees
// and only replaces it on a strictly smaller load. The search starts from the
// first eligible node, never from an excluded one.
//
// Generation is deterministic: the same cfg and opts always produce the same
// records.
//
// Parameters:
//   - cfg: group shape, validated before any work starts
//   - opts: selection rule; the zero value is the default engine
//
// Returns:
//   - the generated group
//   - an error wrapping ErrInvalidConfig if cfg is invalid; no group is
//     produced in that case
//
// Example:
//
//	g, err := placement.Generate(placement.Config{Nodes: 4, Chunks: 3, DataChunks: 2, GroupSize: 3}, placement.Options{})
//	if err != nil {
//	    return err
//	}
//	fmt.Print(placement.Render(g.Records()))
func Generate(cfg Config, opts Options) (*Group, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := &Group{
		cfg:   cfg,
		opts:  opts,
		state: NewLoadState(cfg.Nodes),
	}
	g.appendStripes(cfg.GroupSize)
	g.partitions = partition(cfg.GroupSize)
	return g, nil
}

// Extend places additional stripes on top of an existing load state and
// returns their records. state is advanced in place, so calling Extend twice
// with g1 and then g2 stripes yields exactly the records and final state of a
// single call with g1+g2. start is the index of the first new stripe, which
// only matters for the round-robin strategy.
//
// cfg.GroupSize is ignored; additional must be at least 1 and state must
// track exactly cfg.Nodes nodes.
func Extend(cfg Config, opts Options, state *LoadState, start, additional int) ([]Record, error) {
	if err := validateExtension(cfg, state, start, additional); err != nil {
		return nil, err
	}
	records := make([]Record, 0, additional)
	for i := 0; i < additional; i++ {
		records = append(records, placeStripe(cfg, opts, state, start+i))
	}
	return records, nil
}

func validateExtension(cfg Config, state *LoadState, start, additional int) error {
	shape := cfg
	shape.GroupSize = additional
	if err := shape.Validate(); err != nil {
		return err
	}
	if state == nil {
		return fmt.Errorf("%w: nil load state", ErrInvalidConfig)
	}
	if state.Nodes() != cfg.Nodes || len(state.Cost) != cfg.Nodes {
		return fmt.Errorf("%w: load state tracks %d nodes, configuration has %d", ErrInvalidConfig, state.Nodes(), cfg.Nodes)
	}
	if start < 0 {
		return fmt.Errorf("%w: start index %d must not be negative", ErrInvalidConfig, start)
	}
	return nil
}

// placeStripe assigns every slot of stripe index and charges state for it.
func placeStripe(cfg Config, opts Options, state *LoadState, index int) Record {
	d := cfg.DataChunks
	rec := Record{
		Parity: make([]int, 0, cfg.ParityChunks()),
		Data:   make([]int, 0, d),
	}

	for j := 0; j < cfg.ParityChunks(); j++ {
		var node int
		if opts.Strategy == RoundRobin {
			node = (index + d + j) % cfg.Nodes
		} else {
			node = pickMin(state, opts, rec.Parity, nil)
		}
		rec.Parity = append(rec.Parity, node)
		state.Load[node] += d
		state.Cost[node]++
	}

	var crossRole []int
	if opts.DistinctNodes {
		crossRole = rec.Parity
	}
	for j := 0; j < d; j++ {
		var node int
		if opts.Strategy == RoundRobin {
			node = (index + j) % cfg.Nodes
		} else {
			node = pickMin(state, opts, rec.Data, crossRole)
		}
		rec.Data = append(rec.Data, node)
		state.Load[node]++
		state.Cost[node]++
	}
	return rec
}

// pickMin returns the least loaded node that appears in neither exclusion
// list. Validation guarantees at least one node is eligible.
func pickMin(state *LoadState, opts Options, own, other []int) int {
	best := -1
	for n := range state.Load {
		if slices.Contains(own, n) || slices.Contains(other, n) {
			continue
		}
		if best < 0 || better(state, opts, n, best) {
			best = n
		}
	}
	return best
}

func better(state *LoadState, opts Options, n, best int) bool {
	if state.Load[n] != state.Load[best] {
		return state.Load[n] < state.Load[best]
	}
	return opts.CostTieBreak && state.Cost[n] < state.Cost[best]
}
