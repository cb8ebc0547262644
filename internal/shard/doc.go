// Package shard implements the node-local slice of one placement group.
//
// # Overview
//
// Every placement group (list) is spread across all nodes of the cluster.
// On a given node, a Shard holds the chunks of that list the node stores:
// the slots the placement engine assigned to the node's index, and chunks
// redirected to it while their own node is unreachable.
//
//	┌─────────────────────────────────────┐
//	│            SHARD (list 0)           │
//	├─────────────────────────────────────┤
//	│  stripe 0: chunk 1, chunk 2         │
//	│  stripe 1: chunk 1, chunk 2         │
//	│  stripe 2: chunk 0 (redirected)     │
//	├─────────────────────────────────────┤
//	│  Store   - storage.Store            │
//	│  State   - active / rebuilding      │
//	│  Stats   - operation counters       │
//	└─────────────────────────────────────┘
//
// Shards are created on demand the first time a chunk of their list reaches
// the node.
//
// # Operations
//
// Chunk access:
//   - Get(stripe, chunk), Put(stripe, chunk, value), Delete(stripe, chunk)
//
// Stripe views:
//   - Chunks(stripe) lists the chunk indices held for a stripe
//   - Stripes() lists every stripe with at least one chunk
//   - DeleteStripe(stripe) drops all chunks of a stripe, used once a
//     redirection is released and the chunk has been rebuilt on its own node
//
// # States
//
//	active ──► rebuilding ──► active
//	   │
//	   └──► deleted
//
// # Thread Safety
//
// Chunk operations rely on the store's own locking. Operation counters are
// updated atomically and State is protected by a RWMutex.
package shard
