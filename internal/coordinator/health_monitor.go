// Package coordinator provides the cluster coordination server functionality.
// This file implements health monitoring for registered nodes in the cluster.
package coordinator

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dreamware/stripes/internal/cluster"
)

// Health states reported in NodeHealth.Status.
const (
	StatusUnknown   = "unknown"
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// NodeHealth tracks the health status of a single node in the cluster.
// It maintains the current status, last successful check time, and failure count.
// Thread-safe: Protected by HealthMonitor's mutex when accessed.
type NodeHealth struct {
	LastCheck        time.Time `json:"last_check"`        // Timestamp of the last health check attempt
	LastHealthy      time.Time `json:"last_healthy"`      // Timestamp of the last successful health check
	NodeID           string    `json:"node_id"`           // Unique identifier of the node
	Index            int       `json:"index"`             // Placement index of the node
	Status           string    `json:"status"`            // Current status: "healthy", "unhealthy", "unknown"
	ConsecutiveFails int       `json:"consecutive_fails"` // Number of consecutive failed health checks
}

// HealthMonitor performs periodic health checks on all registered nodes in the cluster.
// It tracks node health status and notifies the coordinator when a node fails
// or comes back, so chunks can be redirected and later restored.
// Thread-safe: All methods are safe for concurrent access.
type HealthMonitor struct {
	nodes       map[string]*NodeHealth      // Current health status per node
	httpClient  *http.Client                // HTTP client for health checks
	checkFunc   func(addr string) error     // Function to perform health check
	onUnhealthy func(node cluster.NodeInfo) // Callback when node becomes unhealthy
	onRecovered func(node cluster.NodeInfo) // Callback when an unhealthy node passes again
	log         logrus.FieldLogger          // Destination of monitor events
	ctx         context.Context             // Context for cancellation
	cancel      context.CancelFunc          // Cancel function for shutdown
	interval    time.Duration               // How often to check node health
	timeout     time.Duration               // HTTP timeout for health checks
	mu          sync.RWMutex                // Protects nodes map
	wg          sync.WaitGroup              // Wait group for graceful shutdown
	maxFailures int                         // Failures before marking unhealthy
}

// NewHealthMonitor creates a new health monitor with the specified check interval.
// The monitor will check each node's /health endpoint every interval.
// Nodes are marked unhealthy after 3 consecutive failures.
//
// Parameters:
//   - interval: How often to perform health checks (recommended: 5s)
//   - logger: Destination of monitor events
//
// Returns:
//   - *HealthMonitor: Configured health monitor ready to start
//
// Example:
//
//	monitor := NewHealthMonitor(5*time.Second, logger)
//	go monitor.Start(ctx, nodeProvider)
func NewHealthMonitor(interval time.Duration, logger logrus.FieldLogger) *HealthMonitor {
	ctx, cancel := context.WithCancel(context.Background())

	return &HealthMonitor{
		interval:    interval,
		timeout:     2 * time.Second,
		maxFailures: 3,
		nodes:       make(map[string]*NodeHealth),
		httpClient: &http.Client{
			Timeout: 2 * time.Second,
		},
		log:    logger.WithField("component", "health"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetOnUnhealthy sets the callback function to be invoked when a node becomes unhealthy.
// The coordinator uses it to redirect the chunks held by the node.
//
// Example:
//
//	monitor.SetOnUnhealthy(func(node cluster.NodeInfo) {
//	    dir.FailNode(node.Index)
//	})
func (h *HealthMonitor) SetOnUnhealthy(callback func(node cluster.NodeInfo)) {
	h.onUnhealthy = callback
}

// SetOnRecovered sets the callback invoked when a node previously marked
// unhealthy passes a health check again.
func (h *HealthMonitor) SetOnRecovered(callback func(node cluster.NodeInfo)) {
	h.onRecovered = callback
}

// Start begins the health monitoring process in the current goroutine.
// It periodically checks all nodes provided by the nodeProvider function.
// This method blocks until the context is canceled.
//
// Parameters:
//   - ctx: Context for cancellation (nil uses the monitor's internal context)
//   - nodeProvider: Function that returns current list of nodes
func (h *HealthMonitor) Start(ctx context.Context, nodeProvider func() []cluster.NodeInfo) {
	h.wg.Add(1)
	defer h.wg.Done()

	if ctx == nil {
		ctx = h.ctx
	}
	if h.checkFunc == nil {
		h.checkFunc = h.defaultHealthCheck
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.log.WithField("interval", h.interval).Info("health monitor started")

	h.checkAllNodes(nodeProvider())

	for {
		select {
		case <-ticker.C:
			h.checkAllNodes(nodeProvider())
		case <-ctx.Done():
			h.log.Info("health monitor stopping due to context cancellation")
			return
		case <-h.ctx.Done():
			h.log.Info("health monitor stopping due to internal cancellation")
			return
		}
	}
}

// Stop cancels monitoring and waits for Start to return.
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
	h.log.Info("health monitor stopped")
}

func (h *HealthMonitor) checkAllNodes(nodes []cluster.NodeInfo) {
	currentNodes := make(map[string]bool)

	for _, node := range nodes {
		currentNodes[node.ID] = true
		h.checkNode(node)
	}

	h.mu.Lock()
	for nodeID := range h.nodes {
		if !currentNodes[nodeID] {
			delete(h.nodes, nodeID)
			h.log.WithField("node", nodeID).Info("removed node from health monitoring")
		}
	}
	h.mu.Unlock()
}

// checkNode probes one node and updates its record. A status transition
// invokes the matching callback after the lock is released, on the calling
// goroutine, so a failure is always reported before the recovery that
// follows it.
func (h *HealthMonitor) checkNode(node cluster.NodeInfo) {
	h.mu.Lock()
	health, exists := h.nodes[node.ID]
	if !exists {
		health = &NodeHealth{
			NodeID:      node.ID,
			Status:      StatusUnknown,
			LastCheck:   time.Now(),
			LastHealthy: time.Now(),
		}
		h.nodes[node.ID] = health
	}
	health.Index = node.Index
	h.mu.Unlock()

	err := h.checkFunc(node.Addr)

	if callback := h.record(health, node, err); callback != nil {
		callback(node)
	}
}

// record applies one check result and returns the callback the transition
// calls for, if any.
func (h *HealthMonitor) record(health *NodeHealth, node cluster.NodeInfo, err error) func(cluster.NodeInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()

	health.LastCheck = time.Now()
	entry := h.log.WithFields(logrus.Fields{"node": node.ID, "index": node.Index})

	if err != nil {
		health.ConsecutiveFails++
		entry.WithError(err).Warnf("health check failed (attempt %d/%d)", health.ConsecutiveFails, h.maxFailures)

		if health.ConsecutiveFails < h.maxFailures || health.Status == StatusUnhealthy {
			return nil
		}
		health.Status = StatusUnhealthy
		entry.Warnf("node marked unhealthy after %d failures", health.ConsecutiveFails)
		return h.onUnhealthy
	}

	var callback func(cluster.NodeInfo)
	if health.Status == StatusUnhealthy {
		entry.Info("node recovered and is now healthy")
		callback = h.onRecovered
	}
	health.Status = StatusHealthy
	health.ConsecutiveFails = 0
	health.LastHealthy = time.Now()
	return callback
}

func (h *HealthMonitor) defaultHealthCheck(addr string) error {
	// Handle both full URLs and host:port formats
	url := addr
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		url = fmt.Sprintf("http://%s", addr)
	}
	if !strings.HasSuffix(url, "/health") {
		url = strings.TrimRight(url, "/") + "/health"
	}

	resp, err := h.httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// GetNodeHealth returns a copy of the health record of a node, or nil.
func (h *HealthMonitor) GetNodeHealth(nodeID string) *NodeHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.nodes[nodeID]
	if !exists {
		return nil
	}
	c := *health
	return &c
}

// GetAllNodeHealth returns copies of every health record, keyed by node ID.
func (h *HealthMonitor) GetAllNodeHealth() map[string]*NodeHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make(map[string]*NodeHealth, len(h.nodes))
	for id, health := range h.nodes {
		c := *health
		result[id] = &c
	}
	return result
}

// IsHealthy reports whether the last checks of a node succeeded.
func (h *HealthMonitor) IsHealthy(nodeID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.nodes[nodeID]
	if !exists {
		return false
	}
	return health.Status == StatusHealthy
}

// SetCheckFunction replaces the HTTP probe, mainly for tests.
func (h *HealthMonitor) SetCheckFunction(checkFunc func(addr string) error) {
	h.checkFunc = checkFunc
}
