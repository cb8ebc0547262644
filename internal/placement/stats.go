package placement

import (
	"fmt"
	"sort"
)

// Statistics describes how often the same node assignment repeats inside a
// group. A well-spread group has many unique signatures and a flat
// repetition distribution.
type Statistics struct {
	Stripes           int     `json:"stripes"`
	UniqueSignatures  int     `json:"unique_signatures"`
	RepetitionMin     int     `json:"repetition_min"`
	RepetitionMax     int     `json:"repetition_max"`
	RepetitionAverage float64 `json:"repetition_average"`

	// Repetitions holds the occurrence count of every distinct signature,
	// in order of first appearance.
	Repetitions []int `json:"repetitions"`
}

// GroupStatistics counts signature repetitions across records. An empty
// input yields the zero Statistics.
func GroupStatistics(records []Record) Statistics {
	stats := Statistics{Stripes: len(records)}
	if len(records) == 0 {
		return stats
	}
	index := make(map[string]int)
	for _, r := range records {
		sig := Signature(r)
		i, ok := index[sig]
		if !ok {
			i = len(stats.Repetitions)
			index[sig] = i
			stats.Repetitions = append(stats.Repetitions, 0)
		}
		stats.Repetitions[i]++
	}
	sum := summarize(stats.Repetitions)
	stats.UniqueSignatures = len(stats.Repetitions)
	stats.RepetitionMin = sum.Min
	stats.RepetitionMax = sum.Max
	stats.RepetitionAverage = sum.Average
	return stats
}

// Histogram returns how many signatures occur exactly k times, keyed by k,
// with the keys in ascending order.
func (s Statistics) Histogram() ([]int, map[int]int) {
	hist := make(map[int]int)
	for _, n := range s.Repetitions {
		hist[n]++
	}
	keys := make([]int, 0, len(hist))
	for k := range hist {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys, hist
}

// BalanceCheck reports whether the spread of the load vector is at most
// dataChunks, the balance bound the greedy rule keeps after every stripe.
func BalanceCheck(state LoadState, dataChunks int) bool {
	return state.Spread() <= dataChunks
}

// PropertyViolation reports the first stripe after which the load spread
// exceeded its bound. It is informational: the group is still usable.
type PropertyViolation struct {
	Stripe int
	Min    int
	Max    int
	Bound  int
}

func (v *PropertyViolation) Error() string {
	return fmt.Sprintf("load spread %d exceeds bound %d after stripe %d (min %d, max %d)",
		v.Max-v.Min, v.Bound, v.Stripe, v.Min, v.Max)
}

// VerifyBalance checks the balance bound against the load snapshot of every
// stripe prefix of g and returns a *PropertyViolation for the first prefix
// that breaks it, or nil.
func VerifyBalance(g *Group) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	bound := g.cfg.DataChunks
	for i, snap := range g.history {
		if BalanceCheck(snap, bound) {
			continue
		}
		sum := snap.LoadSummary()
		return &PropertyViolation{Stripe: i, Min: sum.Min, Max: sum.Max, Bound: bound}
	}
	return nil
}
