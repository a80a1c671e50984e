package shrinker

// Visit describes one volume serviced by a reclaim pass.
type Visit struct {
	Run   uint32
	ID    string
	Freed [NumCacheKinds]int64
}

// Total returns the number of entries freed from the volume
func (v Visit) Total() int64 {
	var total int64
	for _, n := range v.Freed {
		total += n
	}
	return total
}

// Pass summarises one reclaim pass.
type Pass struct {
	Run     uint32
	Quota   int64
	Freed   int64
	Visited int
	Skipped []string
}

// Estimate summarises one count pass.
type Estimate struct {
	Total   int64
	Counted int
	Skipped int
}

// Observer receives reclaim events. Callbacks run on the caller's goroutine
// with no coordinator lock held and must not call back into the Registry.
type Observer interface {
	Visited(v Visit)
	Completed(p Pass)
	Estimated(e Estimate)
}

// NopObserver ignores all events. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) Visited(Visit)      {}
func (NopObserver) Completed(Pass)     {}
func (NopObserver) Estimated(Estimate) {}

// multiObserver fans events out to several observers.
type multiObserver []Observer

// Observers combines several observers into one. Nil entries are dropped.
func Observers(obs ...Observer) Observer {
	var out multiObserver
	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}
	switch len(out) {
	case 0:
		return NopObserver{}
	case 1:
		return out[0]
	}
	return out
}

func (m multiObserver) Visited(v Visit) {
	for _, o := range m {
		o.Visited(v)
	}
}

func (m multiObserver) Completed(p Pass) {
	for _, o := range m {
		o.Completed(p)
	}
}

func (m multiObserver) Estimated(e Estimate) {
	for _, o := range m {
		o.Estimated(e)
	}
}
