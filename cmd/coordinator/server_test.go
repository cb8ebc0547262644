package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/stripes/internal/cluster"
	"github.com/dreamware/stripes/internal/config"
	"github.com/dreamware/stripes/internal/logging"
	"github.com/dreamware/stripes/internal/placement"
	"github.com/dreamware/stripes/internal/stripe"
)

// Stripes of list 0 are placed on nodes (data, data, parity):
//
//	stripe 0: 1, 2, 0
//	stripe 1: 1, 2, 3
//	stripe 2: 1, 2, 0
func testConfig() config.Coordinator {
	return config.Coordinator{
		Addr:           ":0",
		Lists:          1,
		Placement:      placement.Config{Nodes: 4, Chunks: 3, DataChunks: 2, GroupSize: 3},
		HealthInterval: time.Second,
		ForwardTimeout: 2 * time.Second,
		LogLevel:       "error",
	}
}

func newTestServer(t *testing.T) (*server, *httptest.Server) {
	t.Helper()
	srv, err := newServer(testConfig(), logging.Discard())
	require.NoError(t, err)
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return srv, ts
}

// fakeNode stores chunks the way a storage node does, keyed "list/stripe/chunk".
type fakeNode struct {
	mu     sync.Mutex
	chunks map[string][]byte
	server *httptest.Server
}

func newFakeNode(t *testing.T) *fakeNode {
	t.Helper()
	n := &fakeNode{chunks: make(map[string][]byte)}
	r := mux.NewRouter()
	r.HandleFunc("/lists/{list}/stripes/{stripe}/chunks/{chunk}", func(w http.ResponseWriter, r *http.Request) {
		v := mux.Vars(r)
		id := v["list"] + "/" + v["stripe"] + "/" + v["chunk"]
		n.mu.Lock()
		defer n.mu.Unlock()
		switch r.Method {
		case http.MethodGet:
			data, ok := n.chunks[id]
			if !ok {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write(data)
		case http.MethodPut:
			data, _ := io.ReadAll(r.Body)
			n.chunks[id] = data
			w.WriteHeader(http.StatusNoContent)
		case http.MethodDelete:
			delete(n.chunks, id)
			w.WriteHeader(http.StatusNoContent)
		}
	})
	n.server = httptest.NewServer(r)
	t.Cleanup(n.server.Close)
	return n
}

func (n *fakeNode) chunk(id string) (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	data, ok := n.chunks[id]
	return string(data), ok
}

func do(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

func TestRegister(t *testing.T) {
	_, ts := newTestServer(t)

	tests := []struct {
		name      string
		body      any
		wantCode  int
		wantIndex int
	}{
		{"first node gets lowest index", cluster.RegisterRequest{Node: cluster.NodeInfo{ID: "a", Index: -1, Addr: "http://a"}}, http.StatusOK, 0},
		{"second node gets next index", cluster.RegisterRequest{Node: cluster.NodeInfo{ID: "b", Index: -1, Addr: "http://b"}}, http.StatusOK, 1},
		{"explicit index", cluster.RegisterRequest{Node: cluster.NodeInfo{ID: "c", Index: 3, Addr: "http://c"}}, http.StatusOK, 3},
		{"index taken by another node", cluster.RegisterRequest{Node: cluster.NodeInfo{ID: "d", Index: 3, Addr: "http://d"}}, http.StatusConflict, 0},
		{"index out of range", cluster.RegisterRequest{Node: cluster.NodeInfo{ID: "d", Index: 4, Addr: "http://d"}}, http.StatusBadRequest, 0},
		{"re-registration keeps index", cluster.RegisterRequest{Node: cluster.NodeInfo{ID: "a", Index: -1, Addr: "http://a2"}}, http.StatusOK, 0},
		{"missing id", cluster.RegisterRequest{Node: cluster.NodeInfo{Index: -1, Addr: "http://x"}}, http.StatusBadRequest, 0},
		{"bad json", "{", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, http.MethodPost, ts.URL+"/register", tt.body)
			require.Equal(t, tt.wantCode, resp.StatusCode)
			if tt.wantCode != http.StatusOK {
				return
			}
			var out cluster.RegisterResponse
			decode(t, resp, &out)
			assert.Equal(t, tt.wantIndex, out.Node.Index)
		})
	}

	resp := do(t, http.MethodGet, ts.URL+"/nodes", nil)
	var nodes struct {
		Nodes []cluster.NodeInfo `json:"nodes"`
	}
	decode(t, resp, &nodes)
	require.Len(t, nodes.Nodes, 3)
	assert.Equal(t, "http://a2", nodes.Nodes[0].Addr)
	assert.Equal(t, 3, nodes.Nodes[2].Index)
}

func TestRegisterClusterFull(t *testing.T) {
	srv, _ := newTestServer(t)
	for i := 0; i < 4; i++ {
		_, err := srv.register(cluster.NodeInfo{ID: fmt.Sprintf("n%d", i), Index: -1, Addr: "http://n"})
		require.NoError(t, err)
	}
	_, err := srv.register(cluster.NodeInfo{ID: "extra", Index: -1, Addr: "http://n"})
	assert.ErrorIs(t, err, errClusterFull)
	assert.Equal(t, http.StatusConflict, errorStatus(err))
}

func TestPlacementEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp := do(t, http.MethodGet, ts.URL+"/placement/0", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out placementResponse
	decode(t, resp, &out)
	assert.Equal(t, "L1: ((2, 3), (1))\nL2: ((2, 3), (4))\nL3: ((2, 3), (1))\n", out.Render)
	assert.Equal(t, []int{4, 3, 3, 2}, out.State.Load)
	assert.Equal(t, []int{2, 3, 3, 1}, out.State.Cost)
	assert.True(t, out.Balanced)
	assert.Empty(t, out.Violation)
	assert.Equal(t, 2, out.Statistics.UniqueSignatures)
	assert.Equal(t, 4, out.Load.Max)

	resp = do(t, http.MethodGet, ts.URL+"/placement/1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExtendEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp := do(t, http.MethodPost, ts.URL+"/placement/0/extend", extendRequest{Additional: 2})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Stripes int `json:"stripes"`
	}
	decode(t, resp, &out)
	assert.Equal(t, 5, out.Stripes)

	resp = do(t, http.MethodPost, ts.URL+"/placement/0/extend", extendRequest{Additional: 0})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodGet, ts.URL+"/stripes/0/4", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRedirectionEndpoints(t *testing.T) {
	_, ts := newTestServer(t)
	url := ts.URL + "/stripes/0/0/redirection"

	resp := do(t, http.MethodPut, url, cluster.RedirectRequest{Originals: []int{0}, Redirected: []int{2}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var redirected cluster.RedirectResponse
	decode(t, resp, &redirected)
	require.NotEmpty(t, redirected.Token)

	resp = do(t, http.MethodGet, ts.URL+"/stripes/0/0", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stripeOut stripeResponse
	decode(t, resp, &stripeOut)
	require.Len(t, stripeOut.Locations, 3)
	assert.True(t, stripeOut.Locations[0].Redirected)
	assert.Equal(t, 0, stripeOut.Locations[0].Node)
	assert.False(t, stripeOut.Locations[1].Redirected)
	require.NotNil(t, stripeOut.Redirection)
	assert.Equal(t, "0 --> 2\n", stripeOut.Redirection.Render)

	resp = do(t, http.MethodGet, ts.URL+"/redirections", nil)
	var list struct {
		Redirections []json.RawMessage `json:"redirections"`
	}
	decode(t, resp, &list)
	assert.Len(t, list.Redirections, 1)

	tests := []struct {
		name     string
		method   string
		url      string
		body     any
		wantCode int
	}{
		{"chunk out of range", http.MethodPut, url, cluster.RedirectRequest{Originals: []int{0}, Redirected: []int{5}}, http.StatusBadRequest},
		{"length mismatch", http.MethodPut, url, cluster.RedirectRequest{Originals: []int{0, 1}, Redirected: []int{2}}, http.StatusBadRequest},
		{"unknown stripe", http.MethodPut, ts.URL + "/stripes/0/9/redirection", cluster.RedirectRequest{Originals: []int{0}, Redirected: []int{1}}, http.StatusNotFound},
		{"wrong token", http.MethodDelete, url, cluster.ReleaseRequest{Token: "nope"}, http.StatusConflict},
		{"release", http.MethodDelete, url, cluster.ReleaseRequest{Token: redirected.Token}, http.StatusNoContent},
		{"release twice", http.MethodDelete, url, cluster.ReleaseRequest{Token: redirected.Token}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, tt.method, tt.url, tt.body)
			assert.Equal(t, tt.wantCode, resp.StatusCode)
		})
	}
}

func TestChunkForwarding(t *testing.T) {
	srv, ts := newTestServer(t)
	nodes := make([]*fakeNode, 4)
	for i := range nodes {
		nodes[i] = newFakeNode(t)
		_, err := srv.register(cluster.NodeInfo{ID: fmt.Sprintf("node-%d", i), Index: i, Addr: nodes[i].server.URL})
		require.NoError(t, err)
	}
	chunkURL := ts.URL + "/chunks/0/1/2"

	resp := do(t, http.MethodPut, chunkURL, "parity")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	got, ok := nodes[3].chunk("0/1/2")
	require.True(t, ok)
	assert.Equal(t, "parity", got)

	resp = do(t, http.MethodGet, chunkURL, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "parity", readBody(t, resp))

	// Node 3 goes down: parity chunk 2 of stripe 1 moves to slot 0, node 1.
	resp = do(t, http.MethodPost, ts.URL+"/nodes/3/fail", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodPut, chunkURL, "rebuilt")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	got, ok = nodes[1].chunk("0/1/2")
	require.True(t, ok)
	assert.Equal(t, "rebuilt", got)

	resp = do(t, http.MethodGet, chunkURL, nil)
	assert.Equal(t, "rebuilt", readBody(t, resp))

	resp = do(t, http.MethodPost, ts.URL+"/nodes/3/recover", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = do(t, http.MethodGet, chunkURL, nil)
	assert.Equal(t, "parity", readBody(t, resp))

	resp = do(t, http.MethodDelete, chunkURL, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_, ok = nodes[3].chunk("0/1/2")
	assert.False(t, ok)

	resp = do(t, http.MethodGet, ts.URL+"/chunks/0/1/3", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Equal(t, 3.0, testutil.ToFloat64(srv.metrics.ChunkRequests.WithLabelValues(http.MethodGet, "200")))
}

func TestChunkUnregisteredNode(t *testing.T) {
	_, ts := newTestServer(t)
	resp := do(t, http.MethodGet, ts.URL+"/chunks/0/0/0", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestLocateEndpoint(t *testing.T) {
	srv, ts := newTestServer(t)

	resp := do(t, http.MethodGet, ts.URL+"/locate/cat.jpg", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Key       stripe.Key         `json:"key"`
		Locations []cluster.Location `json:"locations"`
	}
	decode(t, resp, &out)
	assert.Len(t, out.Locations, 3)
	assert.Equal(t, srv.dir.Locate("cat.jpg"), out.Key)
}

func TestHealthCallbacks(t *testing.T) {
	srv, _ := newTestServer(t)
	node := cluster.NodeInfo{ID: "node-0", Index: 0, Addr: "http://n0"}

	srv.nodeFailed(node)
	assert.Equal(t, []int{0}, srv.dir.Down())
	assert.Len(t, srv.dir.RedirectedKeys(), 2)
	assert.Equal(t, 0.0, testutil.ToFloat64(srv.metrics.NodeHealthy.WithLabelValues("0")))

	srv.nodeRecovered(node)
	assert.Empty(t, srv.dir.Down())
	assert.Empty(t, srv.dir.RedirectedKeys())
	assert.Equal(t, 1.0, testutil.ToFloat64(srv.metrics.NodeHealthy.WithLabelValues("0")))
}

func TestNodeEndpoints(t *testing.T) {
	_, ts := newTestServer(t)

	resp := do(t, http.MethodGet, ts.URL+"/nodes/0/slots", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var slots struct {
		Slots []json.RawMessage `json:"slots"`
	}
	decode(t, resp, &slots)
	assert.Len(t, slots.Slots, 2)

	resp = do(t, http.MethodPost, ts.URL+"/nodes/7/fail", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	_, ts := newTestServer(t)

	resp := do(t, http.MethodGet, ts.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodGet, ts.URL+"/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "stripes_coordinator_stripes_generated_total")
}
