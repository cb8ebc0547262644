package placement

import "fmt"

// LoadState is the accumulator a placement group carries through generation.
// Load approximates the future work of each node (a parity chunk weighs D,
// a data chunk weighs 1); Cost counts the chunks stored on each node. Both
// only ever grow.
//
// A LoadState is owned by one generation or extension call at a time.
type LoadState struct {
	Load []int `json:"load"`
	Cost []int `json:"cost"`
}

// NewLoadState returns an all-zero state for n nodes.
func NewLoadState(n int) LoadState {
	return LoadState{
		Load: make([]int, n),
		Cost: make([]int, n),
	}
}

// RestoreLoadState rebuilds a state from counters saved by the caller, for
// example to extend a group after a restart. The slices are copied.
func RestoreLoadState(load, cost []int) (LoadState, error) {
	if len(load) != len(cost) {
		return LoadState{}, fmt.Errorf("%w: load has %d nodes, cost has %d", ErrInvalidConfig, len(load), len(cost))
	}
	s := LoadState{
		Load: make([]int, len(load)),
		Cost: make([]int, len(cost)),
	}
	copy(s.Load, load)
	copy(s.Cost, cost)
	return s, nil
}

// Nodes returns the number of nodes tracked by the state.
func (s LoadState) Nodes() int {
	return len(s.Load)
}

// Clone returns a deep copy of the state.
func (s LoadState) Clone() LoadState {
	c, _ := RestoreLoadState(s.Load, s.Cost)
	return c
}

// Spread returns max(load) - min(load), or 0 for an empty state.
func (s LoadState) Spread() int {
	sum := summarize(s.Load)
	return sum.Max - sum.Min
}

// LoadSummary reports min, max and average of the load vector.
func (s LoadState) LoadSummary() Summary {
	return summarize(s.Load)
}

// CostSummary reports min, max and average of the cost vector.
func (s LoadState) CostSummary() Summary {
	return summarize(s.Cost)
}

// Summary is the min/max/average triple printed by the diagnostics.
type Summary struct {
	Min     int     `json:"min"`
	Max     int     `json:"max"`
	Average float64 `json:"average"`
}

func summarize(values []int) Summary {
	if len(values) == 0 {
		return Summary{}
	}
	sum := Summary{Min: values[0], Max: values[0]}
	total := 0
	for _, v := range values {
		if v < sum.Min {
			sum.Min = v
		}
		if v > sum.Max {
			sum.Max = v
		}
		total += v
	}
	sum.Average = float64(total) / float64(len(values))
	return sum
}
