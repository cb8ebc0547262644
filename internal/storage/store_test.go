package storage

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/dreamware/stripes/internal/stripe"
)

func chunk(list, s uint32, c uint8) ChunkID {
	return ChunkID{Stripe: stripe.New(list, s), Chunk: c}
}

// TestMemoryStore tests the in-memory store implementation
func TestMemoryStore(t *testing.T) {
	t.Run("new store is empty", func(t *testing.T) {
		store := NewMemoryStore()

		if ids := store.List(); len(ids) != 0 {
			t.Errorf("Expected empty store, got %d chunks", len(ids))
		}

		_, err := store.Get(chunk(0, 0, 0))
		if err != ErrChunkNotFound {
			t.Errorf("Expected ErrChunkNotFound, got %v", err)
		}
	})

	t.Run("put and get chunks", func(t *testing.T) {
		store := NewMemoryStore()

		if err := store.Put(chunk(1, 2, 0), []byte("data-0")); err != nil {
			t.Fatalf("Failed to put chunk: %v", err)
		}

		value, err := store.Get(chunk(1, 2, 0))
		if err != nil {
			t.Fatalf("Failed to get chunk: %v", err)
		}
		if !bytes.Equal(value, []byte("data-0")) {
			t.Errorf("Expected 'data-0', got %s", string(value))
		}

		if _, err := store.Get(chunk(1, 2, 1)); err != ErrChunkNotFound {
			t.Errorf("Expected ErrChunkNotFound for a sibling chunk, got %v", err)
		}
	})

	t.Run("stored values are copies", func(t *testing.T) {
		store := NewMemoryStore()
		in := []byte("parity")
		store.Put(chunk(0, 0, 2), in)
		in[0] = 'X'

		out, _ := store.Get(chunk(0, 0, 2))
		if string(out) != "parity" {
			t.Errorf("Store kept a reference to the caller's buffer: %s", out)
		}
		out[0] = 'Y'
		again, _ := store.Get(chunk(0, 0, 2))
		if string(again) != "parity" {
			t.Errorf("Get returned the stored buffer: %s", again)
		}
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		store := NewMemoryStore()
		store.Put(chunk(0, 1, 0), []byte("x"))

		if err := store.Delete(chunk(0, 1, 0)); err != nil {
			t.Fatalf("Failed to delete chunk: %v", err)
		}
		if err := store.Delete(chunk(0, 1, 0)); err != nil {
			t.Fatalf("Second delete failed: %v", err)
		}
		if len(store.List()) != 0 {
			t.Errorf("Expected empty store after delete")
		}
	})
}

// TestMemoryStoreOrdering checks listings follow stripe key then chunk order
func TestMemoryStoreOrdering(t *testing.T) {
	store := NewMemoryStore()
	for _, id := range []ChunkID{
		chunk(2, 0, 0),
		chunk(1, 6, 1),
		chunk(1, 5, 2),
		chunk(1, 6, 0),
		chunk(1, 5, 0),
	} {
		store.Put(id, []byte(id.String()))
	}

	want := []ChunkID{
		chunk(1, 5, 0),
		chunk(1, 5, 2),
		chunk(1, 6, 0),
		chunk(1, 6, 1),
		chunk(2, 0, 0),
	}
	got := store.List()
	if len(got) != len(want) {
		t.Fatalf("Expected %d chunks, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Position %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	stripeIDs := store.Stripe(stripe.New(1, 6))
	if len(stripeIDs) != 2 || stripeIDs[0] != chunk(1, 6, 0) || stripeIDs[1] != chunk(1, 6, 1) {
		t.Errorf("Unexpected chunks for stripe 1:6: %v", stripeIDs)
	}
	if ids := store.Stripe(stripe.New(1, 7)); len(ids) != 0 {
		t.Errorf("Expected no chunks for stripe 1:7, got %v", ids)
	}
}

// TestChunkID tests formatting and parsing of chunk ids
func TestChunkID(t *testing.T) {
	id := chunk(3, 17, 4)
	if id.String() != "3:17/4" {
		t.Errorf("Expected 3:17/4, got %s", id)
	}

	parsed, err := ParseChunkID("3:17/4")
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}
	if parsed != id {
		t.Errorf("Expected %v, got %v", id, parsed)
	}

	for _, bad := range []string{"", "3:17", "3/4", "3:17/256", "3:17/x", "a:1/0"} {
		if _, err := ParseChunkID(bad); !errors.Is(err, ErrInvalidChunkID) {
			t.Errorf("ParseChunkID(%q): expected ErrInvalidChunkID, got %v", bad, err)
		}
	}
}

// TestMemoryStoreConcurrency tests thread-safe concurrent access
func TestMemoryStoreConcurrency(t *testing.T) {
	store := NewMemoryStore()

	numGoroutines := 50
	numOps := 100

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < numOps; j++ {
				c := chunk(uint32(id), uint32(j), uint8(j%3))
				if err := store.Put(c, []byte(fmt.Sprintf("value-%d-%d", id, j))); err != nil {
					t.Errorf("Failed to put: %v", err)
				}
				if _, err := store.Get(c); err != nil {
					t.Errorf("Failed to get: %v", err)
				}
				store.List()
			}
		}(i)
	}
	wg.Wait()

	if got := len(store.List()); got != numGoroutines*numOps {
		t.Errorf("Expected %d chunks, got %d", numGoroutines*numOps, got)
	}
}

// TestMemoryStoreStats tests the statistics functionality
func TestMemoryStoreStats(t *testing.T) {
	var store Store = NewMemoryStore()

	stats := store.Stats()
	if stats.Chunks != 0 || stats.Bytes != 0 {
		t.Errorf("Initial stats should be zero, got chunks=%d bytes=%d", stats.Chunks, stats.Bytes)
	}

	store.Put(chunk(0, 0, 0), []byte("value1"))   // 6 bytes
	store.Put(chunk(0, 0, 1), []byte("value22"))  // 7 bytes
	store.Put(chunk(0, 1, 0), []byte("value333")) // 8 bytes
	store.Put(chunk(0, 0, 0), []byte("v"))        // overwrite: 1 byte

	stats = store.Stats()
	if stats.Chunks != 3 {
		t.Errorf("Expected 3 chunks, got %d", stats.Chunks)
	}
	if stats.Bytes != 1+7+8 {
		t.Errorf("Expected %d bytes, got %d", 1+7+8, stats.Bytes)
	}

	store.Delete(chunk(0, 0, 1))
	stats = store.Stats()
	if stats.Chunks != 2 || stats.Bytes != 1+8 {
		t.Errorf("Expected 2 chunks / 9 bytes after delete, got %d / %d", stats.Chunks, stats.Bytes)
	}
}
