/*
Package volume models mounted volumes and the mount manager that registers
them with the shrinker.

A Volume owns an extent cache, a translation cache and a free-id cache, plus
the teardown guard the shrinker try-acquires before touching any of them.

# Unmount

Manager.Unmount runs the teardown in a fixed order:

 1. take the teardown guard, blocking until any in-flight reclaim of this
    volume has finished
 2. flush dirty translation entries through the Checkpointer
 3. leave the shrinker registry, which drains the extent cache
 4. drop the remaining translation and free-id entries
 5. release the guard

If the flush fails the guard is released and the volume stays mounted and
reclaimable; the returned error carries both UNMOUNT_FAILED and
CHECKPOINT_FAILED.
*/
package volume
