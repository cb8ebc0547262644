package redirect

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrLengthMismatch is returned by Set when the two sequences differ in length.
var ErrLengthMismatch = errors.New("original and redirected chunk lists differ in length")

// ErrOutOfRange is returned by Put for an entry index beyond the table.
var ErrOutOfRange = errors.New("redirection entry out of range")

// Mode records who owns the storage behind a table.
type Mode int

const (
	// Empty tables hold no storage at all.
	Empty Mode = iota
	// Copy tables own a single buffer: originals in the first half,
	// redirected chunks in the second.
	Copy
	// Alias tables reference slices owned by the caller, who must keep them
	// unchanged while the table is in use.
	Alias
)

func (m Mode) String() string {
	switch m {
	case Empty:
		return "empty"
	case Copy:
		return "copy"
	case Alias:
		return "alias"
	}
	return "mode(" + strconv.Itoa(int(m)) + ")"
}

// Redirection is the result of a successful lookup.
type Redirection struct {
	Original   uint8 `json:"original"`
	Redirected uint8 `json:"redirected"`
	Parity     bool  `json:"parity"`
}

// Table holds the temporary chunk remappings of one stripe.
//
// A Table is not synchronized. One writer at a time may call Initialize, Set,
// Put or Release; concurrent Find calls are safe while no writer is active.
type Table struct {
	dataChunks int
	mode       Mode
	buf        []uint8
	original   []uint8
	redirected []uint8
}

// NewTable returns an empty table for a stripe with dataChunks data chunks.
// Chunk indices at or above dataChunks are parity chunks.
func NewTable(dataChunks int) *Table {
	return &Table{dataChunks: dataChunks}
}

// Initialize replaces the table content with count zeroed entries backed by
// owned storage. Entries are filled with Put.
func (t *Table) Initialize(count int) {
	t.Release()
	if count <= 0 {
		return
	}
	t.buf = make([]uint8, 2*count)
	t.original = t.buf[:count:count]
	t.redirected = t.buf[count:]
	t.mode = Copy
}

// Put sets entry i of an initialized table.
func (t *Table) Put(i int, original, redirected uint8) error {
	if t.mode != Copy || i < 0 || i >= len(t.original) {
		return fmt.Errorf("%w: entry %d of %d", ErrOutOfRange, i, len(t.original))
	}
	t.original[i] = original
	t.redirected[i] = redirected
	return nil
}

// Set replaces the table content with the pairs (originals[i], redirected[i]).
//
// With Copy the pairs are copied into storage owned by the table. With Alias
// the table keeps the slices themselves; the caller must not modify them
// until the table is released or set again. Empty input leaves an empty
// table in either mode.
func (t *Table) Set(originals, redirected []uint8, mode Mode) error {
	if len(originals) != len(redirected) {
		return fmt.Errorf("%w: %d originals, %d redirected", ErrLengthMismatch, len(originals), len(redirected))
	}
	if len(originals) == 0 {
		t.Release()
		return nil
	}
	if mode != Copy && mode != Alias {
		return fmt.Errorf("redirect: cannot set entries with mode %s", mode)
	}
	t.Release()
	switch mode {
	case Copy:
		t.Initialize(len(originals))
		copy(t.original, originals)
		copy(t.redirected, redirected)
	case Alias:
		t.original = originals
		t.redirected = redirected
		t.mode = Alias
	}
	return nil
}

// Find looks up chunk among the original indices. The second result is false
// when the table has no entry for chunk, which is distinct from an entry that
// maps chunk onto itself.
func (t *Table) Find(chunk uint8) (Redirection, bool) {
	for i, o := range t.original {
		if o == chunk {
			return Redirection{
				Original:   o,
				Redirected: t.redirected[i],
				Parity:     int(o) >= t.dataChunks,
			}, true
		}
	}
	return Redirection{}, false
}

// Release drops the table content. Owned storage is discarded; aliased
// slices are forgotten without being touched. The table is empty afterwards.
func (t *Table) Release() {
	t.buf = nil
	t.original = nil
	t.redirected = nil
	t.mode = Empty
}

// Len returns the number of entries.
func (t *Table) Len() int {
	return len(t.original)
}

// Mode returns the ownership of the current content.
func (t *Table) Mode() Mode {
	return t.mode
}

// Entries returns a copy of the pairs in entry order.
func (t *Table) Entries() []Redirection {
	out := make([]Redirection, len(t.original))
	for i, o := range t.original {
		out[i] = Redirection{Original: o, Redirected: t.redirected[i], Parity: int(o) >= t.dataChunks}
	}
	return out
}

// Render prints "o1 --> r1, o2 --> r2" followed by a newline. An empty table
// renders as the empty string.
func (t *Table) Render() string {
	if len(t.original) == 0 {
		return ""
	}
	var b strings.Builder
	for i, o := range t.original {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%d --> %d", o, t.redirected[i])
	}
	b.WriteByte('\n')
	return b.String()
}
