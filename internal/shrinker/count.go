package shrinker

// EstimateReclaimable returns how many cache entries could be freed across
// all registered volumes right now. Volumes in teardown contribute nothing.
//
// The result is advisory: mounts, unmounts and reclaim passes running
// alongside can change the real figure before the caller uses it.
func (r *Registry) EstimateReclaimable() int64 {
	var est Estimate

	r.mu.Lock()
	e := r.list.Front()
	for e != nil {
		rec := e.Value.(*Record)

		if !rec.guard.TryLock() {
			est.Skipped++
			e = e.Next()
			continue
		}
		r.mu.Unlock()

		est.Total += rec.reclaimable()
		est.Counted++

		r.mu.Lock()
		if rec.elem != nil {
			e = rec.elem.Next()
		} else {
			// Unlinked while we were counting; whatever followed it may
			// have moved, so stop rather than risk counting twice.
			e = nil
		}
		rec.guard.Unlock()
	}
	r.mu.Unlock()

	r.observer.Estimated(est)
	return est.Total
}
