package placement

import (
	"strconv"
	"strings"
)

// Record is the node assignment of one stripe. Position within each slice is
// the chunk's role index: Data[2] is the node holding data chunk #2.
//
// Records are created once by the engine and never modified afterwards, so
// they may be shared and read concurrently without locking. Callers must not
// write to the slices.
//
// Chunk indices used by the lookup helpers follow the stripe layout: data
// chunks are 0..D-1 and parity chunks are D..S-1.
type Record struct {
	Parity []int `json:"parity"`
	Data   []int `json:"data"`
}

// Chunks returns the number of slots S in the stripe.
func (r Record) Chunks() int {
	return len(r.Data) + len(r.Parity)
}

// IsParity reports whether chunk index c addresses a parity slot.
func (r Record) IsParity(c int) bool {
	return c >= len(r.Data) && c < r.Chunks()
}

// Node returns the node holding chunk index c.
func (r Record) Node(c int) (int, bool) {
	switch {
	case c < 0 || c >= r.Chunks():
		return 0, false
	case c < len(r.Data):
		return r.Data[c], true
	default:
		return r.Parity[c-len(r.Data)], true
	}
}

// Nodes returns the nodes of the stripe in chunk index order.
func (r Record) Nodes() []int {
	nodes := make([]int, 0, r.Chunks())
	nodes = append(nodes, r.Data...)
	return append(nodes, r.Parity...)
}

// Contains reports whether node holds any chunk of the stripe.
func (r Record) Contains(node int) bool {
	for _, n := range r.Data {
		if n == node {
			return true
		}
	}
	for _, n := range r.Parity {
		if n == node {
			return true
		}
	}
	return false
}

// Distinct reports whether every slot of the stripe is on a different node.
func (r Record) Distinct() bool {
	seen := make(map[int]struct{}, r.Chunks())
	for _, n := range r.Nodes() {
		if _, dup := seen[n]; dup {
			return false
		}
		seen[n] = struct{}{}
	}
	return true
}

// Signature renders a record as "((d1, d2, ...), (p1, p2, ...))" with 1-based
// node numbers in slot order. Two records share a signature exactly when they
// place every role on the same nodes.
func Signature(r Record) string {
	var b strings.Builder
	b.WriteString("((")
	writeNodes(&b, r.Data)
	b.WriteString("), (")
	writeNodes(&b, r.Parity)
	b.WriteString("))")
	return b.String()
}

func writeNodes(b *strings.Builder, nodes []int) {
	for i, n := range nodes {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.Itoa(n + 1))
	}
}

// Render produces one "L<i+1>: <signature>" line per record.
func Render(records []Record) string {
	var b strings.Builder
	for i, r := range records {
		b.WriteString("L")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(": ")
		b.WriteString(Signature(r))
		b.WriteByte('\n')
	}
	return b.String()
}

// Slot locates one chunk of a node inside a group.
type Slot struct {
	Stripe uint32 `json:"stripe"`
	Chunk  int    `json:"chunk"`
	Parity bool   `json:"parity"`
}
