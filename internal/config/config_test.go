package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/stripes/internal/placement"
)

func TestLoadCoordinatorDefaults(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	c, err := LoadCoordinator(v)
	require.NoError(t, err)
	assert.Equal(t, ":8080", c.Addr)
	assert.Equal(t, 1, c.Lists)
	assert.Equal(t, placement.Config{Nodes: 4, Chunks: 3, DataChunks: 2, GroupSize: 16}, c.Placement)
	assert.Equal(t, placement.Options{}, c.Options)
	assert.Equal(t, 5*time.Second, c.HealthInterval)
	assert.Equal(t, "info", c.LogLevel)
}

func TestLoadCoordinatorEnv(t *testing.T) {
	t.Setenv("COORDINATOR_ADDR", ":9000")
	t.Setenv("PLACEMENT_NODES", "9")
	t.Setenv("PLACEMENT_CHUNKS", "6")
	t.Setenv("PLACEMENT_DATA_CHUNKS", "4")
	t.Setenv("PLACEMENT_STRATEGY", "round-robin")
	t.Setenv("PLACEMENT_DISTINCT_NODES", "true")
	t.Setenv("HEALTH_INTERVAL", "250ms")

	v, err := New()
	require.NoError(t, err)
	c, err := LoadCoordinator(v)
	require.NoError(t, err)

	assert.Equal(t, ":9000", c.Addr)
	assert.Equal(t, placement.Config{Nodes: 9, Chunks: 6, DataChunks: 4, GroupSize: 16}, c.Placement)
	assert.Equal(t, placement.RoundRobin, c.Options.Strategy)
	assert.True(t, c.Options.DistinctNodes)
	assert.Equal(t, 250*time.Millisecond, c.HealthInterval)
}

func TestLoadCoordinatorFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stripes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
placement:
  lists: 3
  nodes: 5
  group_size: 8
  cost_tie_break: true
log:
  level: debug
`), 0o644))
	t.Setenv(FileEnv, path)
	t.Setenv("PLACEMENT_NODES", "6")

	v, err := New()
	require.NoError(t, err)
	c, err := LoadCoordinator(v)
	require.NoError(t, err)

	assert.Equal(t, 3, c.Lists)
	assert.Equal(t, 6, c.Placement.Nodes, "environment wins over the file")
	assert.Equal(t, 8, c.Placement.GroupSize)
	assert.True(t, c.Options.CostTieBreak)
	assert.Equal(t, "debug", c.LogLevel)
}

func TestLoadCoordinatorInvalid(t *testing.T) {
	t.Setenv("PLACEMENT_NODES", "2")
	t.Setenv("PLACEMENT_LISTS", "0")
	t.Setenv("PLACEMENT_STRATEGY", "random")

	v, err := New()
	require.NoError(t, err)
	_, err = LoadCoordinator(v)
	require.Error(t, err)
	assert.ErrorIs(t, err, placement.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "placement.lists")
	assert.Contains(t, err.Error(), "unknown strategy")
}

func TestNewMissingFile(t *testing.T) {
	t.Setenv(FileEnv, filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := New()
	assert.Error(t, err)
}

func TestLoadNode(t *testing.T) {
	t.Setenv("NODE_ID", "node-2")
	t.Setenv("NODE_INDEX", "2")
	t.Setenv("COORDINATOR_ADDR", "http://coordinator:8080")

	v, err := New()
	require.NoError(t, err)
	n, err := LoadNode(v)
	require.NoError(t, err)

	assert.Equal(t, "node-2", n.ID)
	assert.Equal(t, 2, n.Index)
	assert.Equal(t, ":8081", n.Listen)
	assert.Equal(t, "http://127.0.0.1:8081", n.Addr)
	assert.Equal(t, "http://coordinator:8080", n.Coordinator)
	assert.Equal(t, 10, n.RegisterRetries)
}

func TestLoadNodeMissing(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	_, err = LoadNode(v)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissing)
	assert.Contains(t, err.Error(), "NODE_ID")
	assert.Contains(t, err.Error(), "COORDINATOR_ADDR")
}
