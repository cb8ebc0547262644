// Package main implements the stripes storage node, which keeps the chunks
// the placement engine assigned to its index and any chunk redirected to it
// while another node is down.
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│                Node                     │
//	├─────────────────────────────────────────┤
//	│  HTTP API:                              │
//	│    /health        - Health check        │
//	│    /metrics       - Prometheus metrics  │
//	│    /info          - Node information    │
//	│    /lists/*       - Chunk operations    │
//	├─────────────────────────────────────────┤
//	│  Components:                            │
//	│    Node          - Runtime state        │
//	│    shards map    - One shard per list   │
//	│    Registration  - Coordinator link     │
//	└─────────────────────────────────────────┘
//
// Configuration (see internal/config):
//   - NODE_ID: Unique node identifier (required)
//   - NODE_INDEX: Placement index to claim, -1 for the lowest free one
//   - NODE_LISTEN: Listen address (default: ":8081")
//   - NODE_ADDR: Public address for coordinator (default: "http://127.0.0.1:8081")
//   - COORDINATOR_ADDR: Coordinator URL (required)
//
// Example usage:
//
//	NODE_ID=node-1 \
//	NODE_LISTEN=:8081 \
//	NODE_ADDR=http://localhost:8081 \
//	COORDINATOR_ADDR=http://localhost:8080 \
//	./node
//
//	# Store a chunk (through coordinator)
//	curl -X PUT localhost:8080/chunks/0/3/1 --data-binary @chunk.bin
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dreamware/stripes/internal/cluster"
	"github.com/dreamware/stripes/internal/config"
	"github.com/dreamware/stripes/internal/logging"
	"github.com/dreamware/stripes/internal/metrics"
	"github.com/dreamware/stripes/internal/shard"
)

// Node is a storage node of the cluster. It holds one shard per placement
// group (list) it has received chunks for.
//
// Shard management:
//   - Shards are created lazily when the first chunk of a list arrives
//   - Each shard has independent storage and state
//   - Thread-safe access through RWMutex
//
// Concurrency model:
//   - Multiple readers can access the shard map concurrently
//   - Creating a shard requires the exclusive lock
//   - Individual shards handle their own synchronization
type Node struct {
	// shards maps list ids to the node's part of that list.
	shards map[uint32]*shard.Shard

	// ID uniquely identifies this node in the cluster. Immutable.
	ID string

	// Index is the placement index the coordinator registered the node
	// under, -1 until registration completes.
	Index int

	metrics *metrics.Metrics
	log     logrus.FieldLogger

	mu sync.RWMutex
}

// NewNode creates a node without shards.
//
// Parameters:
//   - id: Unique identifier for this node (must not be empty)
//   - logger: Destination of node events
//
// Example:
//
//	node := NewNode("node-1", logging.New("info"))
//	s := node.Shard(0)
func NewNode(id string, logger logrus.FieldLogger) *Node {
	return &Node{
		ID:      id,
		Index:   -1,
		shards:  make(map[uint32]*shard.Shard),
		metrics: metrics.New("node"),
		log:     logger.WithField("node", id),
	}
}

// Shard returns the shard of a list, creating it on first use.
func (n *Node) Shard(list uint32) *shard.Shard {
	n.mu.RLock()
	s, ok := n.shards[list]
	n.mu.RUnlock()
	if ok {
		return s
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if s, ok := n.shards[list]; ok {
		return s
	}
	s = shard.NewShard(list)
	n.shards[list] = s
	n.log.WithField("list", list).Info("created shard on demand")
	return s
}

// GetShard returns the shard of a list, or nil if the node holds no chunk of
// it yet.
func (n *Node) GetShard(list uint32) *shard.Shard {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.shards[list]
}

// Shards returns every shard ordered by list id.
func (n *Node) Shards() []*shard.Shard {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*shard.Shard, 0, len(n.shards))
	for _, s := range n.shards {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ListID < out[j].ListID })
	return out
}

// main loads the node settings, serves the chunk API and registers with the
// coordinator.
//
// Exit codes:
//   - 0: Normal shutdown via signal
//   - 1: Invalid configuration
//   - 1: Failed to register with coordinator
//   - 1: Failed to start HTTP server
func main() {
	v, err := config.New()
	if err != nil {
		logrus.WithError(err).Fatal("loading configuration")
	}
	cfg, err := config.LoadNode(v)
	if err != nil {
		logrus.WithError(err).Fatal("invalid node configuration")
	}
	logger := logging.New(cfg.LogLevel)

	node := NewNode(cfg.ID, logger)
	node.log.Info("node initialized (shards will be created on demand)")

	s := &http.Server{
		Addr:              cfg.Listen,
		Handler:           node.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		node.log.WithFields(logrus.Fields{"listen": cfg.Listen, "public": cfg.Addr}).Info("node listening")
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			node.log.WithError(err).Fatal("listen")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	info, err := register(ctx, cfg, node.log)
	if err != nil {
		node.log.WithError(err).Fatal("failed to register with coordinator")
	}
	node.mu.Lock()
	node.Index = info.Index
	node.mu.Unlock()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		node.log.WithError(err).Warn("server shutdown error")
	}
	node.log.Info("node stopped")
}

// register announces the node to the coordinator, retrying to ride out
// coordinator startup. It returns the node as registered, with the
// placement index the coordinator settled on.
//
// Retry strategy:
//   - cfg.RegisterRetries attempts, cfg.RegisterBackoff apart
//   - a 409 Conflict (index taken, cluster full) is final and not retried
//   - ctx cancellation stops the loop
func register(ctx context.Context, cfg config.Node, log logrus.FieldLogger) (cluster.NodeInfo, error) {
	body := cluster.RegisterRequest{Node: cluster.NodeInfo{ID: cfg.ID, Index: cfg.Index, Addr: cfg.Addr}}
	var lastErr error

	for i := 0; i < cfg.RegisterRetries; i++ {
		var resp cluster.RegisterResponse
		lastErr = cluster.PostJSON(ctx, cfg.Coordinator+"/register", body, &resp)
		if lastErr == nil {
			log.WithFields(logrus.Fields{"coordinator": cfg.Coordinator, "index": resp.Node.Index}).
				Info("registered with coordinator")
			return resp.Node, nil
		}
		var httpErr *cluster.HTTPError
		if errors.As(lastErr, &httpErr) && httpErr.Status == http.StatusConflict {
			return cluster.NodeInfo{}, lastErr
		}
		log.WithError(lastErr).Warnf("register retry %d", i+1)

		select {
		case <-ctx.Done():
			return cluster.NodeInfo{}, ctx.Err()
		case <-time.After(cfg.RegisterBackoff):
		}
	}
	return cluster.NodeInfo{}, fmt.Errorf("after %d attempts: %w", cfg.RegisterRetries, lastErr)
}
