/*
Package shrinker coordinates memory-pressure driven eviction across every
mounted volume.

Each volume owns three in-memory caches (extent mappings, translation
entries, pre-allocated free ids). When memory runs short the host asks the
coordinator how much could be freed (EstimateReclaimable) and then asks it to
free a quota (Reclaim). The coordinator spreads that quota over the volumes in
round-robin order and, within a volume, over the caches in a fixed priority
order.

# Registry

A Registry is an ordered list of Records guarded by a single short-held lock.
The lock covers list structure and run markers only; it is never held while
a cache is being queried or drained.

	Join(rec)   append to tail
	Leave(rec)  drain extent cache, then unlink
	Reclaim(q)  visit from head, move each serviced record to tail
	EstimateReclaimable()

# Teardown guard

Every Record carries a guard that the unmount path holds for the whole of its
shutdown sequence. The coordinator only ever try-locks it: a volume that is
being torn down is skipped, never waited on.

# Run markers

Every reclaim pass takes a fresh non-zero run id. A record visited by the
pass is stamped with it and moved to the tail, so reaching a stamped record
means the pass has gone all the way round. Zero means "never visited" and is
skipped on wrap-around.

# Estimates are advisory

EstimateReclaimable reads each cache's count at the instant it is visited.
Concurrent mounts, unmounts and reclaim passes can make the sum stale before
the caller acts on it. Callers must treat it as a hint.
*/
package shrinker
