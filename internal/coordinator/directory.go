// Package coordinator implements the orchestration layer of the stripes cluster.
// See doc.go for complete package documentation.
package coordinator

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/google/btree"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	cmap "github.com/orcaman/concurrent-map/v2"
	"golang.org/x/exp/slices"

	"github.com/dreamware/stripes/internal/cluster"
	"github.com/dreamware/stripes/internal/metrics"
	"github.com/dreamware/stripes/internal/placement"
	"github.com/dreamware/stripes/internal/redirect"
	"github.com/dreamware/stripes/internal/stripe"
)

var (
	// ErrUnknownList is returned for a list id outside [0, Lists()).
	ErrUnknownList = errors.New("unknown list")
	// ErrUnknownStripe is returned for a stripe id beyond the group size.
	ErrUnknownStripe = errors.New("unknown stripe")
	// ErrInvalidChunk is returned for a chunk index outside the stripe.
	ErrInvalidChunk = errors.New("invalid chunk index")
	// ErrNoRedirection is returned when a stripe has no redirection attached.
	ErrNoRedirection = errors.New("no redirection for stripe")
	// ErrTokenMismatch is returned when releasing with a token that does not
	// own the current redirection.
	ErrTokenMismatch = errors.New("redirection token does not match")
	// ErrNoSurrogate is returned when a failed chunk has no healthy slot left
	// to be redirected to.
	ErrNoSurrogate = errors.New("no healthy surrogate for chunk")
)

// attachment is the redirection currently attached to one stripe.
type attachment struct {
	table *redirect.Table
	token string
	nodes []int // failed nodes that caused it; empty for manual redirections
}

// RedirectionInfo is a read-only view of a stripe's redirection.
type RedirectionInfo struct {
	Key     stripe.Key             `json:"key"`
	Token   string                 `json:"token"`
	Nodes   []int                  `json:"failed_nodes,omitempty"`
	Entries []redirect.Redirection `json:"entries"`
	Render  string                 `json:"render"`
}

// NodeSlot is one chunk slot a node holds in one list.
type NodeSlot struct {
	List uint32 `json:"list"`
	placement.Slot
}

// Directory is the coordinator's view of where every chunk lives: the
// placement groups, one per list, and the redirections overlaid on them.
//
// Architecture:
//
//	┌──────────────────────────────────────────────┐
//	│                  Directory                   │
//	├──────────────────────────────────────────────┤
//	│  groups[list]    → *placement.Group          │
//	│  redirections    → stripe.Key → attachment   │
//	│  index (btree)   → redirected keys, ordered  │
//	│  down            → failed node indices       │
//	├──────────────────────────────────────────────┤
//	│  name → xxhash → (list, stripe)              │
//	│  (list, stripe, chunk) → record → redirect   │
//	│                 → node                       │
//	└──────────────────────────────────────────────┘
//
// Concurrency Model:
//   - Placement records are immutable and read without the directory lock
//   - Redirection writers (Redirect, Release, FailNode, RecoverNode) hold
//     the write lock, so exactly one of them mutates tables at a time
//   - Resolve and the listing methods share the read lock and may run in
//     parallel while no writer is active
//   - Groups serialize their own Extend calls
type Directory struct {
	cfg          placement.Config
	opts         placement.Options
	groups       []*placement.Group
	redirections cmap.ConcurrentMap[stripe.Key, *attachment]
	index        *btree.BTreeG[stripe.Key]
	down         map[int]bool
	metrics      *metrics.Metrics
	mu           sync.RWMutex
}

// NewDirectory generates one placement group per list and returns a
// directory without redirections.
//
// Every group is checked against the balance bound after generation. A
// violation is counted in metrics but does not fail construction, since the
// placement is still valid.
//
// Parameters:
//   - cfg: group shape shared by every list; cfg.GroupSize is the initial
//     number of stripes per list
//   - opts: selection rule of the placement engine
//   - lists: number of placement groups, at least 1
//   - m: collectors to update
//
// Returns:
//   - the directory
//   - an error wrapping placement.ErrInvalidConfig for a bad shape, or
//     ErrUnknownList when lists < 1
//
// Example:
//
//	dir, err := NewDirectory(placement.Config{Nodes: 4, Chunks: 3, DataChunks: 2, GroupSize: 16},
//	    placement.Options{}, 2, metrics.New("coordinator"))
func NewDirectory(cfg placement.Config, opts placement.Options, lists int, m *metrics.Metrics) (*Directory, error) {
	if lists < 1 {
		return nil, fmt.Errorf("%w: need at least one list, got %d", ErrUnknownList, lists)
	}
	d := &Directory{
		cfg:  cfg,
		opts: opts,
		redirections: cmap.NewWithCustomShardingFunction[stripe.Key, *attachment](func(k stripe.Key) uint32 {
			return k.Hash32()
		}),
		index:   btree.NewG(8, stripe.Key.Less),
		down:    make(map[int]bool),
		metrics: m,
	}
	for list := 0; list < lists; list++ {
		g, err := placement.Generate(cfg, opts)
		if err != nil {
			return nil, err
		}
		d.groups = append(d.groups, g)
		m.StripesGenerated.WithLabelValues(metrics.List(uint32(list))).Add(float64(g.Len()))
		d.checkBalance(uint32(list), g)
	}
	return d, nil
}

func (d *Directory) checkBalance(list uint32, g *placement.Group) {
	if err := placement.VerifyBalance(g); err != nil {
		d.metrics.BalanceViolations.WithLabelValues(metrics.List(list)).Inc()
	}
}

// Lists returns the number of placement groups.
func (d *Directory) Lists() int {
	return len(d.groups)
}

// Config returns the shape shared by all groups, with the initial group size.
func (d *Directory) Config() placement.Config {
	return d.cfg
}

// Group returns the placement group of a list.
func (d *Directory) Group(list uint32) (*placement.Group, error) {
	if int(list) >= len(d.groups) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownList, list)
	}
	return d.groups[list], nil
}

// Record returns the placement record of a stripe.
func (d *Directory) Record(key stripe.Key) (placement.Record, error) {
	g, err := d.Group(key.ListID)
	if err != nil {
		return placement.Record{}, err
	}
	rec, ok := g.Record(key.StripeID)
	if !ok {
		return placement.Record{}, fmt.Errorf("%w: %s", ErrUnknownStripe, key)
	}
	return rec, nil
}

// Extend grows a list by additional stripes, continuing its load state.
// Stripes added while a node is down are placed normally; callers that want
// them redirected call FailNode again.
func (d *Directory) Extend(list uint32, additional int) error {
	g, err := d.Group(list)
	if err != nil {
		return err
	}
	if err := g.Extend(additional); err != nil {
		return err
	}
	label := metrics.List(list)
	d.metrics.GroupExtensions.WithLabelValues(label).Inc()
	d.metrics.StripesGenerated.WithLabelValues(label).Add(float64(additional))
	d.checkBalance(list, g)
	return nil
}

// Locate maps an object name to the stripe that stores it. The 64-bit
// xxhash of the name picks the list by modulo, and its high 32 bits pick the
// stripe through the group's hash partitions.
func (d *Directory) Locate(name string) stripe.Key {
	h := xxhash.Sum64String(name)
	list := uint32(h % uint64(len(d.groups)))
	return stripe.New(list, d.groups[list].StripeForHash(uint32(h>>32)))
}

// Resolve returns where a chunk of a stripe is served from right now. When a
// redirection on the stripe covers the chunk, the location points at the
// node of the redirected slot.
//
// Parameters:
//   - key: the stripe
//   - chunk: chunk index, data chunks first (0..D-1), then parity (D..S-1)
//
// Returns:
//   - the location, with Addr left empty for the caller to fill in
//   - ErrUnknownList, ErrUnknownStripe or ErrInvalidChunk
//
// Thread Safety:
// Safe for concurrent use; runs under the read lock.
func (d *Directory) Resolve(key stripe.Key, chunk int) (cluster.Location, error) {
	rec, err := d.Record(key)
	if err != nil {
		return cluster.Location{}, err
	}
	node, ok := rec.Node(chunk)
	if !ok {
		return cluster.Location{}, fmt.Errorf("%w: %d of %d", ErrInvalidChunk, chunk, rec.Chunks())
	}
	loc := cluster.Location{
		List:   key.ListID,
		Stripe: key.StripeID,
		Chunk:  chunk,
		Parity: rec.IsParity(chunk),
		Node:   node,
		Target: chunk,
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if att, ok := d.redirections.Get(key); ok {
		if r, found := att.table.Find(uint8(chunk)); found {
			if target, ok := rec.Node(int(r.Redirected)); ok {
				loc.Redirected = true
				loc.Target = int(r.Redirected)
				loc.Node = target
				d.metrics.RedirectionLookups.WithLabelValues(metrics.LookupHit).Inc()
				return loc, nil
			}
		}
	}
	d.metrics.RedirectionLookups.WithLabelValues(metrics.LookupMiss).Inc()
	return loc, nil
}

// Redirect attaches a redirection to a stripe: chunk originals[i] is served
// by slot redirected[i] until the redirection is released. Any redirection
// already on the stripe is superseded and its table released.
//
// Parameters:
//   - key: the stripe
//   - originals, redirected: chunk indices of equal length, each below S
//
// Returns:
//   - a token that must be presented to Release
//   - ErrUnknownStripe, ErrInvalidChunk or redirect.ErrLengthMismatch
//
// Thread Safety:
// Takes the write lock; concurrent Resolve calls wait for it.
func (d *Directory) Redirect(key stripe.Key, originals, redirected []uint8) (string, error) {
	rec, err := d.Record(key)
	if err != nil {
		return "", err
	}
	for _, c := range append(slices.Clone(originals), redirected...) {
		if int(c) >= rec.Chunks() {
			return "", fmt.Errorf("%w: %d of %d", ErrInvalidChunk, c, rec.Chunks())
		}
	}
	table := redirect.NewTable(d.cfg.DataChunks)
	if err := table.Set(originals, redirected, redirect.Copy); err != nil {
		return "", err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attach(key, table, nil), nil
}

// attach installs a table on key. Callers hold the write lock.
func (d *Directory) attach(key stripe.Key, table *redirect.Table, nodes []int) string {
	att := &attachment{table: table, token: uuid.NewString(), nodes: nodes}
	d.redirections.Upsert(key, att, func(exist bool, old, fresh *attachment) *attachment {
		if exist {
			old.table.Release()
		}
		return fresh
	})
	d.index.ReplaceOrInsert(key)
	d.metrics.ActiveRedirections.Set(float64(d.redirections.Count()))
	return att.token
}

// detach removes the redirection of key if check accepts it. Callers hold
// the write lock.
func (d *Directory) detach(key stripe.Key, check func(*attachment) error) error {
	var err error
	removed := d.redirections.RemoveCb(key, func(_ stripe.Key, att *attachment, exists bool) bool {
		if !exists {
			err = fmt.Errorf("%w: %s", ErrNoRedirection, key)
			return false
		}
		if check != nil {
			if err = check(att); err != nil {
				return false
			}
		}
		att.table.Release()
		return true
	})
	if removed {
		d.index.Delete(key)
		d.metrics.ActiveRedirections.Set(float64(d.redirections.Count()))
	}
	return err
}

// Release removes the redirection of a stripe. The token must be the one
// returned when the redirection was attached; a superseded token is refused
// with ErrTokenMismatch and the current redirection stays in place.
func (d *Directory) Release(key stripe.Key, token string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.detach(key, func(att *attachment) error {
		if att.token != token {
			return fmt.Errorf("%w: %s", ErrTokenMismatch, key)
		}
		return nil
	})
}

// Redirection returns the redirection attached to a stripe, if any.
func (d *Directory) Redirection(key stripe.Key) (RedirectionInfo, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	att, ok := d.redirections.Get(key)
	if !ok {
		return RedirectionInfo{}, false
	}
	return info(key, att), true
}

func info(key stripe.Key, att *attachment) RedirectionInfo {
	return RedirectionInfo{
		Key:     key,
		Token:   att.token,
		Nodes:   slices.Clone(att.nodes),
		Entries: att.table.Entries(),
		Render:  att.table.Render(),
	}
}

// RedirectedKeys returns the keys of every redirected stripe in key order.
func (d *Directory) RedirectedKeys() []stripe.Key {
	d.mu.RLock()
	defer d.mu.RUnlock()
	keys := make([]stripe.Key, 0, d.index.Len())
	d.index.Ascend(func(k stripe.Key) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}

// Redirections returns every redirection in key order.
func (d *Directory) Redirections() []RedirectionInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]RedirectionInfo, 0, d.index.Len())
	d.index.Ascend(func(k stripe.Key) bool {
		if att, ok := d.redirections.Get(k); ok {
			out = append(out, info(k, att))
		}
		return true
	})
	return out
}

// NodeSlots lists every chunk slot a node holds across all lists.
func (d *Directory) NodeSlots(node int) []NodeSlot {
	var out []NodeSlot
	for list, g := range d.groups {
		for _, s := range g.NodeSlots(node) {
			out = append(out, NodeSlot{List: uint32(list), Slot: s})
		}
	}
	return out
}

// Down returns the indices of the nodes currently marked failed, ascending.
func (d *Directory) Down() []int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	nodes := make([]int, 0, len(d.down))
	for n := range d.down {
		nodes = append(nodes, n)
	}
	sort.Ints(nodes)
	return nodes
}

// FailNode marks a node failed and redirects every chunk it holds to a
// healthy slot of the same stripe. Stripes that already carry a redirection
// are recomputed against the full set of failed nodes; the new redirection
// supersedes the old one, manual or not.
//
// For each failed chunk c the surrogate is the first slot c+1, c+2, ...
// (mod S) whose node is healthy and that is not already serving another
// failed chunk of the stripe.
//
// Parameters:
//   - node: placement index of the failed node
//
// Returns:
//   - the number of stripes redirected
//   - ErrNoSurrogate errors, joined, for chunks that could not be placed
//     because too many nodes of their stripe are down; those chunks stay
//     unredirected
func (d *Directory) FailNode(node int) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.down[node] = true

	var result *multierror.Error
	redirected := 0
	seen := make(map[stripe.Key]bool)
	for _, s := range d.NodeSlots(node) {
		key := stripe.New(s.List, s.Stripe)
		if seen[key] {
			continue
		}
		seen[key] = true
		if err := d.redirectFailed(key); err != nil {
			result = multierror.Append(result, err)
		}
		if _, ok := d.redirections.Get(key); ok {
			redirected++
		}
	}
	return redirected, result.ErrorOrNil()
}

// RecoverNode clears the failed mark of a node. Redirections caused only by
// this node are released; those shared with nodes that are still down are
// recomputed without it. Manual redirections are left alone.
func (d *Directory) RecoverNode(node int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.down, node)

	var affected []stripe.Key
	d.index.Ascend(func(k stripe.Key) bool {
		if att, ok := d.redirections.Get(k); ok && slices.Contains(att.nodes, node) {
			affected = append(affected, k)
		}
		return true
	})
	for _, key := range affected {
		// Errors here only concern nodes still down and were already
		// reported when they failed.
		_ = d.redirectFailed(key)
	}
	return len(affected)
}

// redirectFailed rebuilds the node-driven redirection of one stripe from
// the current failed set. Callers hold the write lock.
func (d *Directory) redirectFailed(key stripe.Key) error {
	rec, err := d.Record(key)
	if err != nil {
		return err
	}
	nodes := rec.Nodes()

	var failed []int
	var causes []int
	for c, n := range nodes {
		if d.down[n] {
			failed = append(failed, c)
			if !slices.Contains(causes, n) {
				causes = append(causes, n)
			}
		}
	}
	if len(failed) == 0 {
		if att, ok := d.redirections.Get(key); ok && len(att.nodes) > 0 {
			return d.detach(key, nil)
		}
		return nil
	}

	var result *multierror.Error
	var originals, targets []uint8
	used := make(map[int]bool)
	for _, c := range failed {
		target := -1
		for step := 1; step < len(nodes); step++ {
			t := (c + step) % len(nodes)
			if d.down[nodes[t]] || used[t] {
				continue
			}
			target = t
			break
		}
		if target < 0 {
			result = multierror.Append(result, fmt.Errorf("%w: %s chunk %d", ErrNoSurrogate, key, c))
			continue
		}
		used[target] = true
		originals = append(originals, uint8(c))
		targets = append(targets, uint8(target))
	}

	if len(originals) == 0 {
		if att, ok := d.redirections.Get(key); ok && len(att.nodes) > 0 {
			_ = d.detach(key, nil)
		}
		return result.ErrorOrNil()
	}
	table := redirect.NewTable(d.cfg.DataChunks)
	if err := table.Set(originals, targets, redirect.Copy); err != nil {
		return err
	}
	sort.Ints(causes)
	d.attach(key, table, causes)
	return result.ErrorOrNil()
}
