// Package cluster defines the messages exchanged between the coordinator and
// the storage nodes, and the small HTTP/JSON client both sides use to send
// them.
//
// # Overview
//
// The cluster follows a hub-and-spoke model. Nodes register with the
// coordinator and receive a placement index; the coordinator owns the
// placement groups and the redirection tables and forwards chunk traffic to
// the node that currently serves each chunk.
//
//	              ┌──────────────────┐
//	              │   Coordinator    │
//	              │                  │
//	              │ - Directory      │
//	              │ - Health Monitor │
//	              └────────┬─────────┘
//	                       │
//	      ┌────────────────┼────────────────┐
//	      │                │                │
//	┌─────▼─────┐    ┌─────▼─────┐    ┌─────▼─────┐
//	│  Node 0   │    │  Node 1   │    │  Node 2   │
//	│           │    │           │    │           │
//	│ chunks of │    │ chunks of │    │ chunks of │
//	│ its slots │    │ its slots │    │ its slots │
//	└───────────┘    └───────────┘    └───────────┘
//
// # Messages
//
// NodeInfo: identity, placement index and public address of a node.
//
// RegisterRequest / RegisterResponse: sent by a node on startup. An index of
// -1 lets the coordinator choose; the response carries the final index.
//
// RedirectRequest / RedirectResponse / ReleaseRequest: attach and remove a
// redirection on one stripe. Chunk indices travel as JSON numbers. The
// token returned on attach must be presented to remove it.
//
// Location: the answer to "where is chunk c of stripe s right now", with
// the redirection applied.
//
// # Communication Protocol
//
// PostJSON is the one client call, used by nodes to register. It sends
// JSON with a 5 second client timeout. Responses with a
// status of 300 or above are returned as *HTTPError so callers can branch on
// the status code:
//
//	var httpErr *cluster.HTTPError
//	if errors.As(err, &httpErr) && httpErr.Status == http.StatusConflict {
//	    // index taken or cluster full, retrying will not help
//	}
//
// # Thread Safety
//
// PostJSON shares one http.Client and is safe for concurrent use. It takes
// a context for cancellation.
package cluster
