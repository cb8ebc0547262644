package shard

import (
	"sync"
	"sync/atomic"

	"github.com/dreamware/stripes/internal/storage"
	"github.com/dreamware/stripes/internal/stripe"
)

// ShardState represents the current state of a shard
type ShardState string

const (
	// ShardStateActive means the shard is serving requests
	ShardStateActive ShardState = "active"
	// ShardStateRebuilding means chunks are being copied back after a failure
	ShardStateRebuilding ShardState = "rebuilding"
	// ShardStateDeleted means the shard is marked for deletion
	ShardStateDeleted ShardState = "deleted"
)

// Shard is the part of one placement group (list) stored on a node: every
// chunk of that list the node holds, whether assigned by placement or
// received through a redirection.
type Shard struct {
	ListID uint32        // Placement group served by this shard
	Store  storage.Store // The storage backend for this shard
	State  ShardState    // Current shard state
	Stats  *ShardStats   // Operation statistics
	mu     sync.RWMutex  // Protects state changes
}

// ShardStats tracks operational statistics for a shard
type ShardStats struct {
	Ops     OperationStats     `json:"operations"`
	Storage storage.StoreStats `json:"storage"`
}

// OperationStats tracks operation counts
type OperationStats struct {
	Gets    uint64 `json:"gets"`
	Puts    uint64 `json:"puts"`
	Deletes uint64 `json:"deletes"`
}

// ShardInfo contains metadata about a shard
type ShardInfo struct {
	ListID   uint32     `json:"list_id"`
	State    ShardState `json:"state"`
	Stripes  int        `json:"stripes"`
	Chunks   int        `json:"chunks"`
	ByteSize int        `json:"byte_size"`
}

// NewShard creates a new shard with in-memory storage
func NewShard(listID uint32) *Shard {
	return &Shard{
		ListID: listID,
		Store:  storage.NewMemoryStore(),
		State:  ShardStateActive,
		Stats:  &ShardStats{},
	}
}

func (s *Shard) id(stripeID uint32, chunk uint8) storage.ChunkID {
	return storage.ChunkID{Stripe: stripe.New(s.ListID, stripeID), Chunk: chunk}
}

// Get retrieves a chunk from the shard
// Increments get counter for statistics
func (s *Shard) Get(stripeID uint32, chunk uint8) ([]byte, error) {
	atomic.AddUint64(&s.Stats.Ops.Gets, 1)
	return s.Store.Get(s.id(stripeID, chunk))
}

// Put stores a chunk in the shard
// Increments put counter for statistics
func (s *Shard) Put(stripeID uint32, chunk uint8, value []byte) error {
	atomic.AddUint64(&s.Stats.Ops.Puts, 1)
	return s.Store.Put(s.id(stripeID, chunk), value)
}

// Delete removes a chunk from the shard
// Increments delete counter for statistics
func (s *Shard) Delete(stripeID uint32, chunk uint8) error {
	atomic.AddUint64(&s.Stats.Ops.Deletes, 1)
	return s.Store.Delete(s.id(stripeID, chunk))
}

// Chunks returns the chunk indices held for one stripe, in order.
func (s *Shard) Chunks(stripeID uint32) []uint8 {
	ids := s.Store.Stripe(stripe.New(s.ListID, stripeID))
	chunks := make([]uint8, len(ids))
	for i, id := range ids {
		chunks[i] = id.Chunk
	}
	return chunks
}

// Stripes returns the ids of the stripes with at least one chunk in the
// shard, in ascending order.
func (s *Shard) Stripes() []uint32 {
	var stripes []uint32
	for _, id := range s.Store.List() {
		if id.Stripe.ListID != s.ListID {
			continue
		}
		if n := len(stripes); n == 0 || stripes[n-1] != id.Stripe.StripeID {
			stripes = append(stripes, id.Stripe.StripeID)
		}
	}
	return stripes
}

// DeleteStripe removes every chunk of one stripe and returns how many were
// deleted.
func (s *Shard) DeleteStripe(stripeID uint32) int {
	ids := s.Store.Stripe(stripe.New(s.ListID, stripeID))
	for _, id := range ids {
		s.Delete(id.Stripe.StripeID, id.Chunk)
	}
	return len(ids)
}

// GetStats returns current shard statistics
func (s *Shard) GetStats() ShardStats {
	return ShardStats{
		Ops: OperationStats{
			Gets:    atomic.LoadUint64(&s.Stats.Ops.Gets),
			Puts:    atomic.LoadUint64(&s.Stats.Ops.Puts),
			Deletes: atomic.LoadUint64(&s.Stats.Ops.Deletes),
		},
		Storage: s.Store.Stats(),
	}
}

// Info returns metadata about the shard
func (s *Shard) Info() ShardInfo {
	s.mu.RLock()
	state := s.State
	s.mu.RUnlock()

	storageStats := s.Store.Stats()

	return ShardInfo{
		ListID:   s.ListID,
		State:    state,
		Stripes:  len(s.Stripes()),
		Chunks:   storageStats.Chunks,
		ByteSize: storageStats.Bytes,
	}
}

// SetState updates the shard state
func (s *Shard) SetState(state ShardState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = state
}

// GetState returns the shard state
func (s *Shard) GetState() ShardState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.State
}
