// Package redirect overlays temporary chunk remappings on one stripe.
//
// While a node is unreachable the coordinator steers reads and writes of its
// chunk to a substitute slot without regenerating the placement group. A
// Table holds those pairs for a single stripe:
//
//	original chunk   redirected chunk
//	      1      -->       3
//	      2      -->       4
//
// Content is either copied into storage the table owns (Copy) or borrows the
// caller's slices (Alias); Mode reports which. Release empties the table in
// both cases and never writes to borrowed memory.
//
// Find distinguishes a miss from an entry that maps a chunk onto itself, and
// flags matches on parity chunks.
package redirect
