package storage

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/btree"

	"github.com/dreamware/stripes/internal/stripe"
)

// ErrChunkNotFound is returned when a chunk doesn't exist in the store
var ErrChunkNotFound = errors.New("chunk not found")

// ErrInvalidChunkID is wrapped by ParseChunkID errors.
var ErrInvalidChunkID = errors.New("invalid chunk id")

// ChunkID addresses one chunk: a stripe and the chunk's index within it.
type ChunkID struct {
	Stripe stripe.Key
	Chunk  uint8
}

// Less orders chunk ids by stripe key, then chunk index.
func (c ChunkID) Less(o ChunkID) bool {
	if c.Stripe != o.Stripe {
		return c.Stripe.Less(o.Stripe)
	}
	return c.Chunk < o.Chunk
}

// String renders "<list>:<stripe>/<chunk>".
func (c ChunkID) String() string {
	return c.Stripe.String() + "/" + strconv.Itoa(int(c.Chunk))
}

// ParseChunkID is the inverse of ChunkID.String.
func ParseChunkID(s string) (ChunkID, error) {
	key, chunk, ok := strings.Cut(s, "/")
	if !ok {
		return ChunkID{}, fmt.Errorf("%w: %q", ErrInvalidChunkID, s)
	}
	k, err := stripe.Parse(key)
	if err != nil {
		return ChunkID{}, fmt.Errorf("%w: %v", ErrInvalidChunkID, err)
	}
	c, err := strconv.ParseUint(chunk, 10, 8)
	if err != nil {
		return ChunkID{}, fmt.Errorf("%w: chunk %q", ErrInvalidChunkID, chunk)
	}
	return ChunkID{Stripe: k, Chunk: uint8(c)}, nil
}

// Store defines the interface for chunk storage
// All implementations must be thread-safe for concurrent access
type Store interface {
	// Get retrieves a chunk
	// Returns ErrChunkNotFound if the chunk doesn't exist
	Get(id ChunkID) ([]byte, error)

	// Put stores a chunk, overwriting any existing content
	Put(id ChunkID, value []byte) error

	// Delete removes a chunk
	// No error if the chunk doesn't exist
	Delete(id ChunkID) error

	// List returns all chunk ids ordered by stripe key, then chunk index
	List() []ChunkID

	// Stripe returns the ids of the chunks held for one stripe, in chunk order
	Stripe(key stripe.Key) []ChunkID

	// Stats returns storage statistics
	Stats() StoreStats
}

// StoreStats contains statistics about the store
type StoreStats struct {
	Chunks int `json:"chunks"` // Number of chunks
	Bytes  int `json:"bytes"`  // Total size of all chunks in bytes
}

// MemoryStore implements Store with in-memory storage. A btree keeps the
// chunk ids ordered so listings and per-stripe scans need no sorting.
type MemoryStore struct {
	mu    sync.RWMutex
	data  map[ChunkID][]byte
	index *btree.BTreeG[ChunkID]
	bytes int
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:  make(map[ChunkID][]byte),
		index: btree.NewG(16, ChunkID.Less),
	}
}

// Get returns a copy of the stored chunk.
func (m *MemoryStore) Get(id ChunkID) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, exists := m.data[id]
	if !exists {
		return nil, ErrChunkNotFound
	}

	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

// Put stores a copy of value.
func (m *MemoryStore) Put(id ChunkID, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	if old, exists := m.data[id]; exists {
		m.bytes -= len(old)
	}
	m.data[id] = stored
	m.bytes += len(stored)
	m.index.ReplaceOrInsert(id)
	return nil
}

// Delete removes a chunk (idempotent)
func (m *MemoryStore) Delete(id ChunkID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, exists := m.data[id]; exists {
		m.bytes -= len(old)
		delete(m.data, id)
		m.index.Delete(id)
	}
	return nil
}

// List returns all chunk ids in order.
func (m *MemoryStore) List() []ChunkID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]ChunkID, 0, m.index.Len())
	m.index.Ascend(func(id ChunkID) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}

// Stripe returns the chunk ids held for key.
func (m *MemoryStore) Stripe(key stripe.Key) []ChunkID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []ChunkID
	m.index.AscendGreaterOrEqual(ChunkID{Stripe: key}, func(id ChunkID) bool {
		if id.Stripe != key {
			return false
		}
		ids = append(ids, id)
		return true
	})
	return ids
}

// Stats returns storage statistics
func (m *MemoryStore) Stats() StoreStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return StoreStats{
		Chunks: len(m.data),
		Bytes:  m.bytes,
	}
}
