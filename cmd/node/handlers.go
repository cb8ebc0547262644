package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/dreamware/stripes/internal/shard"
	"github.com/dreamware/stripes/internal/storage"
)

// maxChunkSize bounds the body of a chunk upload.
const maxChunkSize = 64 << 20

func (n *Node) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	r.Handle("/metrics", n.metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/info", n.handleNodeInfo).Methods(http.MethodGet)

	r.HandleFunc("/lists/{list:[0-9]+}", n.handleListStripes).Methods(http.MethodGet)
	r.HandleFunc("/lists/{list:[0-9]+}/stats", n.handleShardStats).Methods(http.MethodGet)
	r.HandleFunc("/lists/{list:[0-9]+}/stripes/{stripe:[0-9]+}", n.handleStripeChunks).Methods(http.MethodGet)
	r.HandleFunc("/lists/{list:[0-9]+}/stripes/{stripe:[0-9]+}", n.handleDeleteStripe).Methods(http.MethodDelete)

	const chunkPath = "/lists/{list:[0-9]+}/stripes/{stripe:[0-9]+}/chunks/{chunk:[0-9]+}"
	r.HandleFunc(chunkPath, n.timed(n.handleGet)).Methods(http.MethodGet)
	r.HandleFunc(chunkPath, n.timed(n.handlePut)).Methods(http.MethodPut)
	r.HandleFunc(chunkPath, n.timed(n.handleDelete)).Methods(http.MethodDelete)
	return r
}

// statusRecorder captures the status written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// timed records request count and latency of a chunk handler.
func (n *Node) timed(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		n.metrics.RequestHistogram.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
		n.metrics.ChunkRequests.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
	}
}

func pathUint(r *http.Request, name string, bits int) (uint64, bool) {
	v, err := strconv.ParseUint(mux.Vars(r)[name], 10, bits)
	return v, err == nil
}

// chunkVars parses list, stripe and chunk from the path.
func chunkVars(w http.ResponseWriter, r *http.Request) (list, stripeID uint32, chunk uint8, ok bool) {
	l, okList := pathUint(r, "list", 32)
	s, okStripe := pathUint(r, "stripe", 32)
	c, okChunk := pathUint(r, "chunk", 8)
	if !okList || !okStripe || !okChunk {
		http.Error(w, "invalid chunk path", http.StatusBadRequest)
		return 0, 0, 0, false
	}
	return uint32(l), uint32(s), uint8(c), true
}

func listVar(w http.ResponseWriter, r *http.Request) (uint32, bool) {
	l, ok := pathUint(r, "list", 32)
	if !ok {
		http.Error(w, "invalid list id", http.StatusBadRequest)
	}
	return uint32(l), ok
}

// handleGet returns the raw bytes of a chunk.
//
// Endpoint: GET /lists/{list}/stripes/{stripe}/chunks/{chunk}
//
// Response:
//   - 200 OK: chunk bytes, Content-Type application/octet-stream
//   - 404 Not Found: the node holds no such chunk
func (n *Node) handleGet(w http.ResponseWriter, r *http.Request) {
	list, stripeID, chunk, ok := chunkVars(w, r)
	if !ok {
		return
	}
	s := n.GetShard(list)
	if s == nil {
		http.Error(w, storage.ErrChunkNotFound.Error(), http.StatusNotFound)
		return
	}
	value, err := s.Get(stripeID, chunk)
	if err != nil {
		if errors.Is(err, storage.ErrChunkNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := w.Write(value); err != nil {
		n.log.WithError(err).Warn("error writing chunk response")
	}
}

// handlePut stores a chunk, overwriting any previous content. The shard of
// the list is created if this is its first chunk on the node.
//
// Endpoint: PUT /lists/{list}/stripes/{stripe}/chunks/{chunk}
//
// Response:
//   - 204 No Content: chunk stored
//   - 400 Bad Request: body unreadable or larger than maxChunkSize
func (n *Node) handlePut(w http.ResponseWriter, r *http.Request) {
	list, stripeID, chunk, ok := chunkVars(w, r)
	if !ok {
		return
	}
	value, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxChunkSize))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if err := n.Shard(list).Put(stripeID, chunk, value); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDelete removes a chunk. Deleting a missing chunk succeeds.
//
// Endpoint: DELETE /lists/{list}/stripes/{stripe}/chunks/{chunk}
func (n *Node) handleDelete(w http.ResponseWriter, r *http.Request) {
	list, stripeID, chunk, ok := chunkVars(w, r)
	if !ok {
		return
	}
	if s := n.GetShard(list); s != nil {
		if err := s.Delete(stripeID, chunk); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStripeChunks lists the chunk indices held for a stripe.
//
// Endpoint: GET /lists/{list}/stripes/{stripe}
func (n *Node) handleStripeChunks(w http.ResponseWriter, r *http.Request) {
	list, ok := listVar(w, r)
	if !ok {
		return
	}
	stripeID, ok := pathUint(r, "stripe", 32)
	if !ok {
		http.Error(w, "invalid stripe id", http.StatusBadRequest)
		return
	}
	chunks := []int{}
	if s := n.GetShard(list); s != nil {
		for _, c := range s.Chunks(uint32(stripeID)) {
			chunks = append(chunks, int(c))
		}
	}
	writeJSON(w, struct {
		List   uint32 `json:"list"`
		Stripe uint32 `json:"stripe"`
		Chunks []int  `json:"chunks"`
	}{List: list, Stripe: uint32(stripeID), Chunks: chunks})
}

// handleDeleteStripe drops every chunk of a stripe, used once a redirected
// chunk has been rebuilt on its own node.
//
// Endpoint: DELETE /lists/{list}/stripes/{stripe}
func (n *Node) handleDeleteStripe(w http.ResponseWriter, r *http.Request) {
	list, ok := listVar(w, r)
	if !ok {
		return
	}
	stripeID, ok := pathUint(r, "stripe", 32)
	if !ok {
		http.Error(w, "invalid stripe id", http.StatusBadRequest)
		return
	}
	deleted := 0
	if s := n.GetShard(list); s != nil {
		deleted = s.DeleteStripe(uint32(stripeID))
	}
	writeJSON(w, struct {
		Deleted int `json:"deleted"`
	}{Deleted: deleted})
}

// handleListStripes lists the stripes of a list with at least one chunk on
// this node.
//
// Endpoint: GET /lists/{list}
func (n *Node) handleListStripes(w http.ResponseWriter, r *http.Request) {
	list, ok := listVar(w, r)
	if !ok {
		return
	}
	stripes := []uint32{}
	if s := n.GetShard(list); s != nil {
		stripes = append(stripes, s.Stripes()...)
	}
	writeJSON(w, struct {
		List    uint32   `json:"list"`
		Stripes []uint32 `json:"stripes"`
		Count   int      `json:"count"`
	}{List: list, Stripes: stripes, Count: len(stripes)})
}

// handleShardStats returns the operation counters and storage totals of
// one shard.
//
// Endpoint: GET /lists/{list}/stats
//
// Response body:
//
//	{
//	  "list_id": 0,
//	  "operations": {"gets": 12, "puts": 5, "deletes": 1},
//	  "storage": {"chunks": 4, "bytes": 4096}
//	}
func (n *Node) handleShardStats(w http.ResponseWriter, r *http.Request) {
	list, ok := listVar(w, r)
	if !ok {
		return
	}
	s := n.GetShard(list)
	if s == nil {
		http.Error(w, "no shard for list", http.StatusNotFound)
		return
	}
	stats := s.GetStats()
	writeJSON(w, struct {
		ListID uint32 `json:"list_id"`
		shard.ShardStats
	}{ListID: list, ShardStats: stats})
}

// handleNodeInfo returns the node identity and a summary of every shard.
//
// Endpoint: GET /info
func (n *Node) handleNodeInfo(w http.ResponseWriter, _ *http.Request) {
	shards := n.Shards()
	infos := make([]shard.ShardInfo, 0, len(shards))
	for _, s := range shards {
		infos = append(infos, s.Info())
	}
	n.mu.RLock()
	index := n.Index
	n.mu.RUnlock()

	writeJSON(w, struct {
		NodeID string            `json:"node_id"`
		Index  int               `json:"index"`
		Shards []shard.ShardInfo `json:"shards"`
		Count  int               `json:"shard_count"`
	}{NodeID: n.ID, Index: index, Shards: infos, Count: len(infos)})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
