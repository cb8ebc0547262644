package placement

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignature(t *testing.T) {
	tests := []struct {
		record Record
		want   string
	}{
		{Record{Parity: []int{0}, Data: []int{1, 2}}, "((2, 3), (1))"},
		{Record{Parity: []int{4, 0}, Data: []int{2}}, "((3), (5, 1))"},
		{Record{Parity: []int{0, 1}, Data: []int{}}, "((), (1, 2))"},
		{Record{}, "((), ())"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Signature(tt.record))
	}
	assert.Equal(t, "", Render(nil))
}

func TestRecordLookup(t *testing.T) {
	r := Record{Parity: []int{3}, Data: []int{1, 2}}

	n, ok := r.Node(0)
	assert.True(t, ok)
	assert.Equal(t, 1, n)
	n, ok = r.Node(2)
	assert.True(t, ok)
	assert.Equal(t, 3, n)
	_, ok = r.Node(3)
	assert.False(t, ok)
	_, ok = r.Node(-1)
	assert.False(t, ok)

	assert.False(t, r.IsParity(1))
	assert.True(t, r.IsParity(2))
	assert.False(t, r.IsParity(3))
	assert.Equal(t, []int{1, 2, 3}, r.Nodes())
	assert.True(t, r.Contains(3))
	assert.False(t, r.Contains(0))
	assert.True(t, r.Distinct())
	assert.False(t, Record{Parity: []int{0}, Data: []int{0}}.Distinct())
}

func TestGroupStatistics(t *testing.T) {
	g, err := Generate(Config{Nodes: 4, Chunks: 3, DataChunks: 2, GroupSize: 3}, Options{})
	require.NoError(t, err)

	stats := GroupStatistics(g.Records())
	assert.Equal(t, 3, stats.Stripes)
	assert.Equal(t, 2, stats.UniqueSignatures)
	assert.Equal(t, []int{2, 1}, stats.Repetitions)
	assert.Equal(t, 1, stats.RepetitionMin)
	assert.Equal(t, 2, stats.RepetitionMax)
	assert.InDelta(t, 1.5, stats.RepetitionAverage, 1e-9)

	keys, hist := stats.Histogram()
	assert.Equal(t, []int{1, 2}, keys)
	assert.Equal(t, map[int]int{1: 1, 2: 1}, hist)

	assert.Equal(t, Statistics{}, GroupStatistics(nil))
}

// TestBalanceBound walks a grid of small shapes and checks that the greedy
// engine keeps max(load)-min(load) within D after every single stripe.
func TestBalanceBound(t *testing.T) {
	for _, opts := range []Options{{}, {DistinctNodes: true}, {CostTieBreak: true}} {
		for n := 1; n <= 9; n++ {
			for s := 1; s <= n; s++ {
				for d := 0; d <= s; d++ {
					cfg := Config{Nodes: n, Chunks: s, DataChunks: d, GroupSize: 40}
					g, err := Generate(cfg, opts)
					require.NoError(t, err)
					assert.NoError(t, VerifyBalance(g), "%+v %+v", cfg, opts)
					assert.True(t, BalanceCheck(g.State(), d))
				}
			}
		}
	}
}

func TestVerifyBalanceReportsViolation(t *testing.T) {
	// The fixed rotation ignores load: after the second stripe node 1 holds
	// two units while node 3 holds none.
	g, err := Generate(Config{Nodes: 4, Chunks: 2, DataChunks: 1, GroupSize: 2}, Options{Strategy: RoundRobin})
	require.NoError(t, err)

	err = VerifyBalance(g)
	require.Error(t, err)
	var violation *PropertyViolation
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, PropertyViolation{Stripe: 1, Min: 0, Max: 2, Bound: 1}, *violation)
	assert.Contains(t, err.Error(), "exceeds bound 1")
	assert.False(t, BalanceCheck(g.State(), 1))
}

func TestPartitions(t *testing.T) {
	g, err := Generate(Config{Nodes: 4, Chunks: 3, DataChunks: 2, GroupSize: 3}, Options{})
	require.NoError(t, err)

	parts := g.Partitions()
	require.Len(t, parts, 3)
	size := uint32(math.MaxUint32 / 3)
	assert.Equal(t, Partition{From: 0, To: size - 1}, parts[0])
	assert.Equal(t, Partition{From: size, To: 2*size - 1}, parts[1])
	assert.Equal(t, Partition{From: 2 * size, To: math.MaxUint32}, parts[2])

	for i, p := range parts {
		assert.Equal(t, uint32(i), g.StripeForHash(p.From))
		assert.Equal(t, uint32(i), g.StripeForHash(p.To))
	}

	single, err := Generate(Config{Nodes: 1, Chunks: 1, DataChunks: 1, GroupSize: 1}, Options{})
	require.NoError(t, err)
	assert.Equal(t, []Partition{{From: 0, To: math.MaxUint32}}, single.Partitions())
	assert.Equal(t, uint32(0), single.StripeForHash(math.MaxUint32))
}

func TestNodeSlots(t *testing.T) {
	g, err := Generate(Config{Nodes: 4, Chunks: 3, DataChunks: 2, GroupSize: 3}, Options{})
	require.NoError(t, err)

	assert.Equal(t, []Slot{
		{Stripe: 0, Chunk: 2, Parity: true},
		{Stripe: 2, Chunk: 2, Parity: true},
	}, g.NodeSlots(0))
	assert.Equal(t, []Slot{
		{Stripe: 0, Chunk: 0},
		{Stripe: 1, Chunk: 0},
		{Stripe: 2, Chunk: 0},
	}, g.NodeSlots(1))
	assert.Empty(t, g.NodeSlots(7))

	rec, ok := g.Record(1)
	require.True(t, ok)
	assert.Equal(t, []int{3}, rec.Parity)
	_, ok = g.Record(3)
	assert.False(t, ok)
	_, ok = g.Snapshot(3)
	assert.False(t, ok)
}
