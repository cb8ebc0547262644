package placement

import (
	"errors"
	"fmt"
	"math"

	"github.com/hashicorp/go-multierror"
)

// ErrInvalidConfig is wrapped by every configuration error the engine returns.
// Callers test for it with errors.Is.
var ErrInvalidConfig = errors.New("invalid placement configuration")

// MaxChunks bounds Chunks. Chunk indices travel as uint8 in redirection
// tables, chunk ids and the node API.
const MaxChunks = math.MaxUint8 + 1

// Config describes the shape of a placement group.
//
// The engine assigns, for each of GroupSize stripes, Chunks chunk slots to
// nodes in [0, Nodes). DataChunks of those slots hold data; the remaining
// Chunks-DataChunks slots hold parity.
type Config struct {
	// Nodes is the number of storage nodes N available to the group.
	Nodes int `json:"nodes"`

	// Chunks is the total number of chunks S per stripe.
	Chunks int `json:"chunks"`

	// DataChunks is the number of data chunks D per stripe.
	DataChunks int `json:"data_chunks"`

	// GroupSize is the number of stripes G generated for the group.
	GroupSize int `json:"group_size"`
}

// ParityChunks returns P = S - D.
func (c Config) ParityChunks() int {
	return c.Chunks - c.DataChunks
}

// Validate checks the preconditions of generation: G >= 1, N >= S and
// S >= D >= 0, with S at most MaxChunks. Every violated rule is reported,
// not just the first one. A group over zero nodes with zero chunks per
// stripe is valid and places nothing.
func (c Config) Validate() error {
	var result *multierror.Error
	if c.GroupSize < 1 {
		result = multierror.Append(result,
			fmt.Errorf("%w: group size %d must be at least 1", ErrInvalidConfig, c.GroupSize))
	}
	if c.DataChunks < 0 {
		result = multierror.Append(result,
			fmt.Errorf("%w: data chunks %d must not be negative", ErrInvalidConfig, c.DataChunks))
	}
	if c.Chunks < c.DataChunks {
		result = multierror.Append(result,
			fmt.Errorf("%w: total chunks %d must be at least data chunks %d", ErrInvalidConfig, c.Chunks, c.DataChunks))
	}
	if c.Nodes < c.Chunks {
		result = multierror.Append(result,
			fmt.Errorf("%w: nodes %d must be at least total chunks %d", ErrInvalidConfig, c.Nodes, c.Chunks))
	}
	if c.Chunks > MaxChunks {
		result = multierror.Append(result,
			fmt.Errorf("%w: total chunks %d exceeds the limit of %d", ErrInvalidConfig, c.Chunks, MaxChunks))
	}
	return result.ErrorOrNil()
}

// Strategy selects how a slot is mapped to a node.
type Strategy int

const (
	// LoadAware picks the least loaded eligible node for every slot.
	LoadAware Strategy = iota
	// RoundRobin rotates through the nodes: data slot j of stripe i goes to
	// node (i+j) mod N and parity slot j to node (i+D+j) mod N.
	RoundRobin
)

// String returns the strategy name used in configuration files.
func (s Strategy) String() string {
	switch s {
	case LoadAware:
		return "load-aware"
	case RoundRobin:
		return "round-robin"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy maps a configuration value to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "", "load-aware", "load_aware":
		return LoadAware, nil
	case "round-robin", "round_robin":
		return RoundRobin, nil
	}
	return 0, fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, s)
}

// Options tunes the selection rule. The zero value is the default engine:
// load-aware, per-role exclusion, ties broken by node index.
type Options struct {
	Strategy Strategy `json:"strategy"`

	// DistinctNodes merges the parity and data exclusion sets so that the
	// D+P slots of a stripe always land on D+P different nodes. When false,
	// each pass only excludes nodes already chosen for its own role and a
	// node may receive both a parity and a data chunk of one stripe.
	DistinctNodes bool `json:"distinct_nodes"`

	// CostTieBreak resolves equal loads by the smaller cost counter before
	// falling back to the lowest node index.
	CostTieBreak bool `json:"cost_tie_break"`
}
