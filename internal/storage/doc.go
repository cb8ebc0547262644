// Package storage defines the chunk store used by the storage nodes and its
// in-memory implementation.
//
// # Overview
//
// A node holds the chunks of every stripe slot the placement engine assigned
// to it, plus any chunk redirected to it while another node is down. Each
// chunk is addressed by a ChunkID: the stripe key and the chunk index within
// the stripe (data chunks first, then parity).
//
//	┌─────────────────────────────────────┐
//	│         Application Layer           │
//	│         (Shards, Nodes)             │
//	└─────────────────────────────────────┘
//	                 │
//	                 ▼
//	┌─────────────────────────────────────┐
//	│          Store interface            │
//	└─────────────────────────────────────┘
//	                 │
//	                 ▼
//	┌─────────────────────────────────────┐
//	│            MemoryStore              │
//	│  map[ChunkID][]byte + ordered index │
//	└─────────────────────────────────────┘
//
// # Core Interface
//
// Store: chunk operations
//   - Get(id) - Retrieve a chunk, ErrChunkNotFound if absent
//   - Put(id, value) - Store or overwrite a chunk
//   - Delete(id) - Remove a chunk, idempotent
//   - List() - All chunk ids ordered by stripe key, then chunk index
//   - Stripe(key) - The chunk ids held for one stripe
//   - Stats() - Chunk count and byte total
//
// # Implementations
//
// MemoryStore keeps chunks in a map and their ids in a btree, so listings
// come out ordered and a per-stripe scan touches only that stripe's chunks.
// Values are copied on the way in and on the way out. Nothing is persisted;
// a restarted node starts empty and is refilled by rebuild traffic.
//
// # Concurrency and Thread Safety
//
// All operations are safe for concurrent use. Reads share a sync.RWMutex;
// writes take it exclusively. Stats are maintained incrementally and cost
// O(1).
//
// # Error Handling
//
//	value, err := store.Get(id)
//	if errors.Is(err, storage.ErrChunkNotFound) {
//	    // never written or already deleted
//	}
package storage
