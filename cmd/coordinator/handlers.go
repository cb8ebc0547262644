package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/dreamware/stripes/internal/cluster"
	"github.com/dreamware/stripes/internal/coordinator"
	"github.com/dreamware/stripes/internal/placement"
	"github.com/dreamware/stripes/internal/redirect"
	"github.com/dreamware/stripes/internal/stripe"
)

// placementResponse is the diagnostic view of one placement group.
type placementResponse struct {
	List       uint32               `json:"list"`
	Config     placement.Config     `json:"config"`
	Records    []placement.Record   `json:"records"`
	Render     string               `json:"render"`
	State      placement.LoadState  `json:"state"`
	Load       placement.Summary    `json:"load"`
	Cost       placement.Summary    `json:"cost"`
	Statistics placement.Statistics `json:"statistics"`
	Balanced   bool                 `json:"balanced"`
	Violation  string               `json:"violation,omitempty"`
}

type stripeResponse struct {
	Key         stripe.Key                   `json:"key"`
	Record      placement.Record             `json:"record"`
	Locations   []cluster.Location           `json:"locations"`
	Redirection *coordinator.RedirectionInfo `json:"redirection,omitempty"`
}

type extendRequest struct {
	Additional int `json:"additional"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorStatus maps directory errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, coordinator.ErrUnknownList),
		errors.Is(err, coordinator.ErrUnknownStripe),
		errors.Is(err, coordinator.ErrNoRedirection):
		return http.StatusNotFound
	case errors.Is(err, coordinator.ErrTokenMismatch),
		errors.Is(err, errIndexTaken),
		errors.Is(err, errClusterFull):
		return http.StatusConflict
	case errors.Is(err, coordinator.ErrInvalidChunk),
		errors.Is(err, redirect.ErrLengthMismatch),
		errors.Is(err, placement.ErrInvalidConfig),
		errors.Is(err, errIndexInvalid),
		errors.Is(err, errBadPath):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) fail(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		s.log.WithError(err).Error("request failed")
	}
	http.Error(w, err.Error(), status)
}

func uintVar(r *http.Request, name string) (uint32, error) {
	v, err := strconv.ParseUint(mux.Vars(r)[name], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", errBadPath, name, mux.Vars(r)[name])
	}
	return uint32(v), nil
}

func keyVars(r *http.Request) (stripe.Key, error) {
	list, err := uintVar(r, "list")
	if err != nil {
		return stripe.Key{}, err
	}
	id, err := uintVar(r, "stripe")
	if err != nil {
		return stripe.Key{}, err
	}
	return stripe.New(list, id), nil
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req cluster.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Node.ID == "" || req.Node.Addr == "" {
		http.Error(w, "missing id/addr", http.StatusBadRequest)
		return
	}
	node, err := s.register(req.Node)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.log.WithFields(logrus.Fields{"node": node.ID, "index": node.Index, "addr": node.Addr}).Info("node registered")
	writeJSON(w, http.StatusOK, cluster.RegisterResponse{Node: node})
}

func (s *server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Nodes  []cluster.NodeInfo                 `json:"nodes"`
		Down   []int                              `json:"down"`
		Health map[string]*coordinator.NodeHealth `json:"health"`
	}{
		Nodes:  s.registeredNodes(),
		Down:   s.dir.Down(),
		Health: s.monitor.GetAllNodeHealth(),
	})
}

func (s *server) nodeIndex(r *http.Request) (int, error) {
	v, err := uintVar(r, "index")
	if err != nil {
		return 0, err
	}
	if int(v) >= s.cfg.Placement.Nodes {
		return 0, fmt.Errorf("%w: %d of %d", errIndexInvalid, v, s.cfg.Placement.Nodes)
	}
	return int(v), nil
}

func (s *server) handleNodeSlots(w http.ResponseWriter, r *http.Request) {
	index, err := s.nodeIndex(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Index int                    `json:"index"`
		Slots []coordinator.NodeSlot `json:"slots"`
	}{Index: index, Slots: s.dir.NodeSlots(index)})
}

// handleFailNode marks a node failed by hand, as the health monitor would.
func (s *server) handleFailNode(w http.ResponseWriter, r *http.Request) {
	index, err := s.nodeIndex(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	count, err := s.dir.FailNode(index)
	resp := struct {
		Redirected int    `json:"redirected"`
		Error      string `json:"error,omitempty"`
	}{Redirected: count}
	if err != nil {
		resp.Error = err.Error()
	}
	s.log.WithFields(logrus.Fields{"index": index, "stripes": count}).Warn("node failed by request")
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleRecoverNode(w http.ResponseWriter, r *http.Request) {
	index, err := s.nodeIndex(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	count := s.dir.RecoverNode(index)
	s.log.WithFields(logrus.Fields{"index": index, "stripes": count}).Info("node recovered by request")
	writeJSON(w, http.StatusOK, struct {
		Restored int `json:"restored"`
	}{Restored: count})
}

func (s *server) handlePlacement(w http.ResponseWriter, r *http.Request) {
	list, err := uintVar(r, "list")
	if err != nil {
		s.fail(w, err)
		return
	}
	g, err := s.dir.Group(list)
	if err != nil {
		s.fail(w, err)
		return
	}
	records := g.Records()
	state := g.State()
	resp := placementResponse{
		List:       list,
		Config:     g.Config(),
		Records:    records,
		Render:     placement.Render(records),
		State:      state,
		Load:       state.LoadSummary(),
		Cost:       state.CostSummary(),
		Statistics: placement.GroupStatistics(records),
		Balanced:   true,
	}
	if err := placement.VerifyBalance(g); err != nil {
		resp.Balanced = false
		resp.Violation = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleExtend(w http.ResponseWriter, r *http.Request) {
	list, err := uintVar(r, "list")
	if err != nil {
		s.fail(w, err)
		return
	}
	var req extendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if err := s.dir.Extend(list, req.Additional); err != nil {
		s.fail(w, err)
		return
	}
	g, _ := s.dir.Group(list)
	s.log.WithFields(logrus.Fields{"list": list, "added": req.Additional, "stripes": g.Len()}).Info("placement group extended")
	writeJSON(w, http.StatusOK, struct {
		Stripes int `json:"stripes"`
	}{Stripes: g.Len()})
}

// locations resolves every chunk of a stripe and fills in node addresses.
func (s *server) locations(key stripe.Key) (placement.Record, []cluster.Location, error) {
	rec, err := s.dir.Record(key)
	if err != nil {
		return rec, nil, err
	}
	locs := make([]cluster.Location, 0, rec.Chunks())
	for c := 0; c < rec.Chunks(); c++ {
		loc, err := s.dir.Resolve(key, c)
		if err != nil {
			return rec, nil, err
		}
		loc.Addr, _ = s.nodeAddr(loc.Node)
		locs = append(locs, loc)
	}
	return rec, locs, nil
}

func (s *server) handleStripe(w http.ResponseWriter, r *http.Request) {
	key, err := keyVars(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	rec, locs, err := s.locations(key)
	if err != nil {
		s.fail(w, err)
		return
	}
	resp := stripeResponse{Key: key, Record: rec, Locations: locs}
	if info, ok := s.dir.Redirection(key); ok {
		resp.Redirection = &info
	}
	writeJSON(w, http.StatusOK, resp)
}

func toChunks(values []int, max int) ([]uint8, error) {
	out := make([]uint8, len(values))
	for i, v := range values {
		if v < 0 || v >= max {
			return nil, fmt.Errorf("%w: %d of %d", coordinator.ErrInvalidChunk, v, max)
		}
		out[i] = uint8(v)
	}
	return out, nil
}

func (s *server) handleRedirect(w http.ResponseWriter, r *http.Request) {
	key, err := keyVars(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	var req cluster.RedirectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	chunks := s.cfg.Placement.Chunks
	originals, err := toChunks(req.Originals, chunks)
	if err != nil {
		s.fail(w, err)
		return
	}
	redirected, err := toChunks(req.Redirected, chunks)
	if err != nil {
		s.fail(w, err)
		return
	}
	token, err := s.dir.Redirect(key, originals, redirected)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.log.WithFields(logrus.Fields{"stripe": key.String(), "originals": req.Originals, "redirected": req.Redirected}).
		Info("redirection attached")
	writeJSON(w, http.StatusOK, cluster.RedirectResponse{Token: token})
}

func (s *server) handleRelease(w http.ResponseWriter, r *http.Request) {
	key, err := keyVars(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	var req cluster.ReleaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if err := s.dir.Release(key, req.Token); err != nil {
		s.fail(w, err)
		return
	}
	s.log.WithField("stripe", key.String()).Info("redirection released")
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleRedirections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Redirections []coordinator.RedirectionInfo `json:"redirections"`
	}{Redirections: s.dir.Redirections()})
}

func (s *server) handleLocate(w http.ResponseWriter, r *http.Request) {
	key := s.dir.Locate(mux.Vars(r)["name"])
	_, locs, err := s.locations(key)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Key       stripe.Key         `json:"key"`
		Locations []cluster.Location `json:"locations"`
	}{Key: key, Locations: locs})
}

// handleChunk forwards chunk traffic to the node currently serving the
// chunk. A redirected chunk is stored on the surrogate node under its own
// chunk index.
func (s *server) handleChunk(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		s.metrics.RequestHistogram.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	}()

	key, err := keyVars(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	chunk, err := uintVar(r, "chunk")
	if err != nil {
		s.fail(w, err)
		return
	}
	loc, err := s.dir.Resolve(key, int(chunk))
	if err != nil {
		s.fail(w, err)
		return
	}
	addr, ok := s.nodeAddr(loc.Node)
	if !ok {
		s.metrics.ChunkRequests.WithLabelValues(r.Method, strconv.Itoa(http.StatusServiceUnavailable)).Inc()
		http.Error(w, fmt.Sprintf("node %d not registered", loc.Node), http.StatusServiceUnavailable)
		return
	}
	target := fmt.Sprintf("%s/lists/%d/stripes/%d/chunks/%d", addr, loc.List, loc.Stripe, loc.Chunk)
	status := s.forward(w, r, target)
	s.metrics.ChunkRequests.WithLabelValues(r.Method, strconv.Itoa(status)).Inc()
}

// forward replays r against target and copies the response back. It returns
// the status written to w.
func (s *server) forward(w http.ResponseWriter, r *http.Request, target string) int {
	var body io.Reader
	if r.Method == http.MethodPut {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return http.StatusBadRequest
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, body)
	if err != nil {
		http.Error(w, "failed to create request", http.StatusInternalServerError)
		return http.StatusInternalServerError
	}
	resp, err := s.client.Do(req)
	if err != nil {
		s.log.WithError(err).WithField("target", target).Warn("forwarding chunk request failed")
		http.Error(w, fmt.Sprintf("failed to forward request: %v", err), http.StatusBadGateway)
		return http.StatusBadGateway
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
	return resp.StatusCode
}
