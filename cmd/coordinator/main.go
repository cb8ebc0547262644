package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/dreamware/stripes/internal/cluster"
	"github.com/dreamware/stripes/internal/config"
	"github.com/dreamware/stripes/internal/coordinator"
	"github.com/dreamware/stripes/internal/logging"
	"github.com/dreamware/stripes/internal/metrics"
)

var (
	errIndexTaken   = errors.New("node index already registered")
	errIndexInvalid = errors.New("node index out of range")
	errClusterFull  = errors.New("every node index is taken")
	errBadPath      = errors.New("invalid path value")
)

func main() {
	v, err := config.New()
	if err != nil {
		logrus.WithError(err).Fatal("loading configuration")
	}
	cfg, err := config.LoadCoordinator(v)
	if err != nil {
		logrus.WithError(err).Fatal("invalid coordinator configuration")
	}
	logger := logging.New(cfg.LogLevel)

	srv, err := newServer(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("building placement directory")
	}

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.monitor.Start(ctx, srv.registeredNodes)

	go func() {
		logger.WithFields(logrus.Fields{
			"addr":   cfg.Addr,
			"lists":  cfg.Lists,
			"nodes":  cfg.Placement.Nodes,
			"chunks": cfg.Placement.Chunks,
			"data":   cfg.Placement.DataChunks,
		}).Info("coordinator listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("listen")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	cancel()
	srv.monitor.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	logger.Info("coordinator stopped")
}

type server struct {
	cfg     config.Coordinator
	dir     *coordinator.Directory
	monitor *coordinator.HealthMonitor
	metrics *metrics.Metrics
	client  *http.Client
	log     logrus.FieldLogger

	mu    sync.RWMutex
	nodes map[int]cluster.NodeInfo // by placement index
}

func newServer(cfg config.Coordinator, logger logrus.FieldLogger) (*server, error) {
	m := metrics.New("coordinator")
	dir, err := coordinator.NewDirectory(cfg.Placement, cfg.Options, cfg.Lists, m)
	if err != nil {
		return nil, err
	}
	s := &server{
		cfg:     cfg,
		dir:     dir,
		monitor: coordinator.NewHealthMonitor(cfg.HealthInterval, logger),
		metrics: m,
		client:  &http.Client{Timeout: cfg.ForwardTimeout},
		log:     logger,
		nodes:   make(map[int]cluster.NodeInfo),
	}
	s.monitor.SetOnUnhealthy(s.nodeFailed)
	s.monitor.SetOnRecovered(s.nodeRecovered)
	return s, nil
}

func (s *server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/nodes", s.handleListNodes).Methods(http.MethodGet)
	r.HandleFunc("/nodes/{index:[0-9]+}/slots", s.handleNodeSlots).Methods(http.MethodGet)
	r.HandleFunc("/nodes/{index:[0-9]+}/fail", s.handleFailNode).Methods(http.MethodPost)
	r.HandleFunc("/nodes/{index:[0-9]+}/recover", s.handleRecoverNode).Methods(http.MethodPost)

	r.HandleFunc("/placement/{list:[0-9]+}", s.handlePlacement).Methods(http.MethodGet)
	r.HandleFunc("/placement/{list:[0-9]+}/extend", s.handleExtend).Methods(http.MethodPost)

	r.HandleFunc("/stripes/{list:[0-9]+}/{stripe:[0-9]+}", s.handleStripe).Methods(http.MethodGet)
	r.HandleFunc("/stripes/{list:[0-9]+}/{stripe:[0-9]+}/redirection", s.handleRedirect).Methods(http.MethodPut)
	r.HandleFunc("/stripes/{list:[0-9]+}/{stripe:[0-9]+}/redirection", s.handleRelease).Methods(http.MethodDelete)
	r.HandleFunc("/redirections", s.handleRedirections).Methods(http.MethodGet)

	r.HandleFunc("/locate/{name}", s.handleLocate).Methods(http.MethodGet)
	r.HandleFunc("/chunks/{list:[0-9]+}/{stripe:[0-9]+}/{chunk:[0-9]+}", s.handleChunk).
		Methods(http.MethodGet, http.MethodPut, http.MethodDelete)
	return r
}

// register records a node under its requested index, or the lowest free one
// when the index is -1. A node re-registering under its ID keeps its index.
func (s *server) register(node cluster.NodeInfo) (cluster.NodeInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.cfg.Placement.Nodes
	if node.Index < -1 || node.Index >= n {
		return node, fmt.Errorf("%w: %d of %d", errIndexInvalid, node.Index, n)
	}
	for idx, existing := range s.nodes {
		if existing.ID == node.ID && (node.Index == -1 || node.Index == idx) {
			node.Index = idx
			s.nodes[idx] = node
			return node, nil
		}
	}
	if node.Index == -1 {
		for idx := 0; idx < n; idx++ {
			if _, taken := s.nodes[idx]; !taken {
				node.Index = idx
				break
			}
		}
		if node.Index == -1 {
			return node, errClusterFull
		}
	}
	if existing, taken := s.nodes[node.Index]; taken && existing.ID != node.ID {
		return node, fmt.Errorf("%w: %d by %s", errIndexTaken, node.Index, existing.ID)
	}
	for idx, existing := range s.nodes {
		if existing.ID == node.ID {
			delete(s.nodes, idx)
		}
	}
	s.nodes[node.Index] = node
	s.metrics.NodeHealthy.WithLabelValues(strconv.Itoa(node.Index)).Set(1)
	return node, nil
}

// registeredNodes returns the registered nodes ordered by index.
func (s *server) registeredNodes() []cluster.NodeInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]cluster.NodeInfo, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func (s *server) nodeAddr(index int) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[index]
	return n.Addr, ok
}

func (s *server) nodeFailed(node cluster.NodeInfo) {
	s.metrics.NodeHealthy.WithLabelValues(strconv.Itoa(node.Index)).Set(0)
	count, err := s.dir.FailNode(node.Index)
	entry := s.log.WithFields(logrus.Fields{"node": node.ID, "index": node.Index, "stripes": count})
	if err != nil {
		entry.WithError(err).Error("some chunks of the failed node have no surrogate")
		return
	}
	entry.Warn("redirected chunks of failed node")
}

func (s *server) nodeRecovered(node cluster.NodeInfo) {
	s.metrics.NodeHealthy.WithLabelValues(strconv.Itoa(node.Index)).Set(1)
	count := s.dir.RecoverNode(node.Index)
	s.log.WithFields(logrus.Fields{"node": node.ID, "index": node.Index, "stripes": count}).
		Info("restored placement of recovered node")
}
