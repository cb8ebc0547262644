// Package placement decides which storage node holds every chunk of every
// stripe in a placement group, and keeps that assignment balanced as the
// group grows.
//
// # Overview
//
// A placement group is an ordered list of G stripes. Each stripe has S chunk
// slots: D data slots followed by P = S - D parity slots. The engine assigns
// every slot to one of N nodes so that the expected recovery work is spread
// evenly across the cluster.
//
//	        node 0   node 1   node 2   node 3
//	       ┌───────┬────────┬────────┬────────┐
//	L1     │  P0   │   D0   │   D1   │        │
//	L2     │       │   D0   │   D1   │   P0   │
//	L3     │  P0   │   D0   │   D1   │        │
//	       ├───────┼────────┼────────┼────────┤
//	load   │   4   │   3    │   3    │   2    │
//	       └───────┴────────┴────────┴────────┘
//
// # Load Model
//
// Rebuilding a lost parity chunk reads all D data chunks of its stripe, so a
// parity slot adds D to its node's load. A data slot adds 1. The cost vector
// counts stored chunks independently of their weight.
//
// The load state is carried from one stripe to the next and is never reset
// inside a group. This is what makes the greedy choice balance globally:
// after every stripe the spread max(load) - min(load) stays within D.
//
// # Selection
//
// Parity slots are filled first, then data slots. Each slot takes the least
// loaded node that has not already been chosen for the same role in the same
// stripe. Ties keep the lowest node index.
//
// By default a node may receive both a parity and a data chunk of one stripe.
// Options.DistinctNodes forbids that and guarantees S distinct nodes per
// stripe. Options.CostTieBreak resolves equal loads by the smaller cost
// before the index. Options.Strategy = RoundRobin replaces the greedy choice
// with a fixed rotation; it does not keep the balance bound and exists to
// compare layouts.
//
// # Growth
//
// Group.Extend and the free function Extend continue from the exact trailing
// state, so growing a group by g1 and then g2 stripes produces the same
// records as generating g1+g2 stripes at once. Callers that persisted the
// load and cost vectors can rebuild the state with RestoreLoadState.
//
// # Hash Partitions
//
// A group splits the 32-bit hash space into G equal contiguous ranges, the
// last one ending at MaxUint32. Group.StripeForHash maps an object hash to
// the stripe that stores it.
//
// # Diagnostics
//
// Signature and Render print records as "L1: ((2, 3), (1))" with 1-based node
// numbers, data first. GroupStatistics counts how often each signature
// repeats. BalanceCheck and VerifyBalance test the balance bound and report a
// *PropertyViolation instead of failing hard.
//
// # Thread Safety
//
// Records are immutable once generated and can be shared freely. A Group
// serializes its own Extend calls; a LoadState passed to the free Extend
// function belongs to that call until it returns. Nothing in this package
// blocks or performs I/O.
//
// # Example
//
//	g, err := placement.Generate(placement.Config{
//	    Nodes: 4, Chunks: 3, DataChunks: 2, GroupSize: 3,
//	}, placement.Options{})
//	if err != nil {
//	    return err
//	}
//	fmt.Print(placement.Render(g.Records()))
//	// L1: ((2, 3), (1))
//	// L2: ((2, 3), (4))
//	// L3: ((2, 3), (1))
package placement
