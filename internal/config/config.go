// Package config loads the settings of the coordinator and the storage nodes.
//
// Values come from environment variables, optionally layered over a config
// file named by STRIPES_CONFIG (any format viper understands). Keys are
// dotted; the matching variable is the upper-cased key with dots replaced by
// underscores, so "node.id" is read from NODE_ID and "placement.nodes" from
// PLACEMENT_NODES.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"

	"github.com/dreamware/stripes/internal/placement"
)

// ErrMissing is wrapped by errors about required settings that are unset.
var ErrMissing = errors.New("missing required setting")

// FileEnv names the environment variable pointing at an optional config file.
const FileEnv = "STRIPES_CONFIG"

// Coordinator holds the coordinator settings.
type Coordinator struct {
	Addr           string
	Lists          int
	Placement      placement.Config
	Options        placement.Options
	HealthInterval time.Duration
	ForwardTimeout time.Duration
	LogLevel       string
}

// Node holds the storage node settings. Index is the placement node index the
// node asks for; -1 lets the coordinator assign the lowest free one.
type Node struct {
	ID              string
	Index           int
	Listen          string
	Addr            string
	Coordinator     string
	RegisterRetries int
	RegisterBackoff time.Duration
	LogLevel        string
}

// New returns a viper instance bound to the environment and, when
// STRIPES_CONFIG is set, to that file.
func New() (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("log.level", "info")

	if path := v.GetString("stripes.config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	}
	return v, nil
}

// LoadCoordinator reads the coordinator settings from v.
func LoadCoordinator(v *viper.Viper) (Coordinator, error) {
	v.SetDefault("coordinator.addr", ":8080")
	v.SetDefault("placement.lists", 1)
	v.SetDefault("placement.nodes", 4)
	v.SetDefault("placement.chunks", 3)
	v.SetDefault("placement.data_chunks", 2)
	v.SetDefault("placement.group_size", 16)
	v.SetDefault("placement.strategy", placement.LoadAware.String())
	v.SetDefault("placement.distinct_nodes", false)
	v.SetDefault("placement.cost_tie_break", false)
	v.SetDefault("health.interval", 5*time.Second)
	v.SetDefault("forward.timeout", 5*time.Second)

	c := Coordinator{
		Addr:  v.GetString("coordinator.addr"),
		Lists: v.GetInt("placement.lists"),
		Placement: placement.Config{
			Nodes:      v.GetInt("placement.nodes"),
			Chunks:     v.GetInt("placement.chunks"),
			DataChunks: v.GetInt("placement.data_chunks"),
			GroupSize:  v.GetInt("placement.group_size"),
		},
		Options: placement.Options{
			DistinctNodes: v.GetBool("placement.distinct_nodes"),
			CostTieBreak:  v.GetBool("placement.cost_tie_break"),
		},
		HealthInterval: v.GetDuration("health.interval"),
		ForwardTimeout: v.GetDuration("forward.timeout"),
		LogLevel:       v.GetString("log.level"),
	}

	var result *multierror.Error
	strategy, err := placement.ParseStrategy(v.GetString("placement.strategy"))
	if err != nil {
		result = multierror.Append(result, err)
	}
	c.Options.Strategy = strategy
	if c.Lists < 1 {
		result = multierror.Append(result, fmt.Errorf("placement.lists %d must be at least 1", c.Lists))
	}
	if err := c.Placement.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if c.HealthInterval <= 0 {
		result = multierror.Append(result, fmt.Errorf("health.interval %s must be positive", c.HealthInterval))
	}
	return c, result.ErrorOrNil()
}

// LoadNode reads the storage node settings from v. NODE_ID and
// COORDINATOR_ADDR are required.
func LoadNode(v *viper.Viper) (Node, error) {
	v.SetDefault("node.index", -1)
	v.SetDefault("node.listen", ":8081")
	v.SetDefault("node.addr", "http://127.0.0.1:8081")
	v.SetDefault("register.retries", 10)
	v.SetDefault("register.backoff", 400*time.Millisecond)

	n := Node{
		ID:              v.GetString("node.id"),
		Index:           v.GetInt("node.index"),
		Listen:          v.GetString("node.listen"),
		Addr:            v.GetString("node.addr"),
		Coordinator:     v.GetString("coordinator.addr"),
		RegisterRetries: v.GetInt("register.retries"),
		RegisterBackoff: v.GetDuration("register.backoff"),
		LogLevel:        v.GetString("log.level"),
	}

	var result *multierror.Error
	if n.ID == "" {
		result = multierror.Append(result, fmt.Errorf("%w: NODE_ID", ErrMissing))
	}
	if n.Coordinator == "" {
		result = multierror.Append(result, fmt.Errorf("%w: COORDINATOR_ADDR", ErrMissing))
	}
	if n.Index < -1 {
		result = multierror.Append(result, fmt.Errorf("node.index %d must be -1 or a node index", n.Index))
	}
	return n, result.ErrorOrNil()
}
