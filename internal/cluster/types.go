package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// NodeInfo identifies a storage node. Index is the node's position in the
// placement groups, the number the engine assigns chunks to.
type NodeInfo struct {
	ID    string `json:"id"`
	Index int    `json:"index"`
	Addr  string `json:"addr"`
}

// RegisterRequest is sent by a node on startup. An Index of -1 asks the
// coordinator to pick the lowest free one.
type RegisterRequest struct {
	Node NodeInfo `json:"node"`
}

// RegisterResponse confirms the index the node was registered under.
type RegisterResponse struct {
	Node NodeInfo `json:"node"`
}

// RedirectRequest attaches a redirection table to a stripe: chunk
// Originals[i] is served by chunk slot Redirected[i].
type RedirectRequest struct {
	Originals  []int `json:"originals"`
	Redirected []int `json:"redirected"`
}

// RedirectResponse carries the token that owns the new redirection.
type RedirectResponse struct {
	Token string `json:"token"`
}

// ReleaseRequest removes a redirection owned by Token.
type ReleaseRequest struct {
	Token string `json:"token"`
}

// Location is where one chunk of a stripe is served from right now.
type Location struct {
	List   uint32 `json:"list"`
	Stripe uint32 `json:"stripe"`
	Chunk  int    `json:"chunk"`
	Parity bool   `json:"parity"`
	Node   int    `json:"node"`
	Addr   string `json:"addr,omitempty"`

	// Redirected is set when a redirection moved the chunk; Target is then
	// the chunk slot whose node serves it.
	Redirected bool `json:"redirected"`
	Target     int  `json:"target"`
}

// HTTPError is returned for responses with a status of 300 or above.
type HTTPError struct {
	URL    string
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %s: %d", e.URL, e.Status)
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

// PostJSON sends body as JSON and decodes the response into out, when out
// is not nil. Statuses of 300 and above come back as *HTTPError.
func PostJSON(ctx context.Context, url string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &HTTPError{URL: url, Status: resp.StatusCode}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
