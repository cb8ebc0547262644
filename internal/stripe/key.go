// Package stripe defines the key that addresses a single stripe inside a
// placement group. The same key correlates a stripe's placement record with
// its optional redirection table and with any per-stripe state a coordinator
// keeps on its own side.
package stripe

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ErrInvalidKey is returned by Parse when the input is not "<list>:<stripe>".
var ErrInvalidKey = errors.New("invalid stripe key")

// Key identifies a stripe by the placement group (list) it belongs to and its
// index within that group. Keys are plain values: they compare with == and
// can be used directly as map keys.
type Key struct {
	ListID   uint32 `json:"list_id"`
	StripeID uint32 `json:"stripe_id"`
}

// New returns the key for stripe stripeID of list listID.
func New(listID, stripeID uint32) Key {
	return Key{ListID: listID, StripeID: stripeID}
}

// Compare orders keys by ListID, then StripeID. It returns -1, 0 or +1.
func Compare(a, b Key) int {
	switch {
	case a.ListID < b.ListID:
		return -1
	case a.ListID > b.ListID:
		return 1
	case a.StripeID < b.StripeID:
		return -1
	case a.StripeID > b.StripeID:
		return 1
	}
	return 0
}

// Less reports whether k sorts before o.
func (k Key) Less(o Key) bool {
	return Compare(k, o) < 0
}

// Hash combines both fields, in order, into a 64-bit hash. Keys that compare
// equal always hash equal; swapping the two fields changes the result.
func (k Key) Hash() uint64 {
	var buf [8]byte
	binary.BigEndian.PutUint32(buf[0:4], k.ListID)
	binary.BigEndian.PutUint32(buf[4:8], k.StripeID)
	return xxhash.Sum64(buf[:])
}

// Hash32 folds Hash into 32 bits for shard selection.
func (k Key) Hash32() uint32 {
	h := k.Hash()
	return uint32(h>>32) ^ uint32(h)
}

// String renders the key as "<list>:<stripe>".
func (k Key) String() string {
	return fmt.Sprintf("%d:%d", k.ListID, k.StripeID)
}

// Parse reads a key in the form produced by String.
func Parse(s string) (Key, error) {
	list, stripeID, ok := strings.Cut(s, ":")
	if !ok {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	l, err := strconv.ParseUint(list, 10, 32)
	if err != nil {
		return Key{}, fmt.Errorf("%w: list id %q", ErrInvalidKey, list)
	}
	st, err := strconv.ParseUint(stripeID, 10, 32)
	if err != nil {
		return Key{}, fmt.Errorf("%w: stripe id %q", ErrInvalidKey, stripeID)
	}
	return New(uint32(l), uint32(st)), nil
}
