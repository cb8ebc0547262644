// Package coordinator implements the control plane of the stripes cluster:
// the directory that knows where every chunk lives, and the health monitor
// that tells it when a node stops answering.
//
// # Overview
//
// Objects are cut into stripes of S chunks, D data chunks followed by S-D
// parity chunks. Stripes belong to placement groups, one per list, and every
// stripe of a group is spread across the N nodes by the placement engine.
// The coordinator owns those groups and overlays a redirection on any stripe
// that has chunks on a failed node.
//
//	┌─────────────────────────────────────┐
//	│            COORDINATOR              │
//	├─────────────────────────────────────┤
//	│                                     │
//	│  ┌──────────────────────────────┐   │
//	│  │   Directory                  │   │
//	│  │   - one placement group/list │   │
//	│  │   - redirection tables       │   │
//	│  │   - failed node set          │   │
//	│  └──────────────────────────────┘   │
//	│                                     │
//	│  ┌──────────────────────────────┐   │
//	│  │   HealthMonitor              │   │
//	│  │   - periodic /health probes  │   │
//	│  │   - unhealthy / recovered    │   │
//	│  │     callbacks                │   │
//	│  └──────────────────────────────┘   │
//	│                                     │
//	└─────────────────────────────────────┘
//
// # Resolving a chunk
//
//	name ──xxhash──► (list, stripe)
//	(list, stripe, chunk) ──record──► node
//	                      ──redirection──► node of the surrogate slot
//
// Resolve returns a cluster.Location. When the stripe carries a redirection
// covering the chunk, Target is the slot now serving it and Node is that
// slot's node.
//
// # Failures
//
// The HealthMonitor marks a node unhealthy after three failed probes. The
// coordinator binary wires that to Directory.FailNode, which redirects each
// chunk of the node to the next healthy slot of its stripe. RecoverNode
// undoes it once probes pass again. Redirections attached by hand through
// Redirect are kept until released with their token, or until a node failure
// on the same stripe supersedes them.
//
// # Thread Safety
//
// Directory guards its redirection tables with a RWMutex: one writer at a
// time, any number of concurrent Resolve calls otherwise. The monitor calls
// its callbacks on its own check goroutine, one at a time and in the order
// the transitions happened.
package coordinator
