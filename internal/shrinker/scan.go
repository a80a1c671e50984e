package shrinker

import "github.com/objectfs/cachereclaim/pkg/utils"

// Reclaim asks the registered volumes to free quota cache entries and
// returns how many were freed. Volumes are visited from the head; each one
// serviced moves to the tail so the next call starts elsewhere. The pass
// stops once the quota is met or it comes back round to a volume it already
// serviced, even if a concurrent pass has re-marked that volume since. The
// last volume may push the total slightly past quota.
func (r *Registry) Reclaim(quota int64) int64 {
	if quota <= 0 {
		return 0
	}

	var freed int64

	r.mu.Lock()
	run := r.nextRun()
	pass := Pass{Run: run, Quota: quota}
	serviced := make(map[*Record]struct{})

	e := r.list.Front()
	for e != nil {
		rec := e.Value.(*Record)

		if rec.lastRun == run {
			break
		}
		// A concurrent pass may have overwritten the marker.
		if _, ok := serviced[rec]; ok {
			break
		}

		// Held by unmount: leave it unmarked for a later pass.
		if !rec.guard.TryLock() {
			pass.Skipped = append(pass.Skipped, rec.id)
			e = e.Next()
			continue
		}

		rec.lastRun = run
		serviced[rec] = struct{}{}
		r.mu.Unlock()

		visit := Visit{Run: run, ID: rec.id}
		visit.Freed = r.policy.apply(rec, quota, freed)
		freed += visit.Total()
		pass.Visited++
		r.observer.Visited(visit)

		r.mu.Lock()
		if rec.elem != nil {
			e = rec.elem.Next()
			r.list.MoveToBack(rec.elem)
		} else {
			// Serviced records sit at the tail, so the head is the
			// first record this pass has not reached yet.
			e = r.list.Front()
		}
		rec.guard.Unlock()

		if freed >= quota {
			break
		}
	}
	r.mu.Unlock()

	pass.Freed = freed
	r.observer.Completed(pass)

	if r.logger.Enabled(utils.DEBUG) {
		r.logger.Debug("reclaim pass finished", map[string]interface{}{
			"run":     run,
			"quota":   quota,
			"freed":   freed,
			"visited": pass.Visited,
			"skipped": len(pass.Skipped),
		})
	}

	return freed
}
