package shrinker

import (
	"container/list"
	"sync"

	"github.com/objectfs/cachereclaim/pkg/types"
	"github.com/objectfs/cachereclaim/pkg/utils"
)

// Config configures a Registry
type Config struct {
	// Policy decides how a visited volume's caches share the quota.
	Policy Policy

	// Observer receives per-pass events. Nil disables reporting.
	Observer Observer

	// Logger for pass summaries
	Logger *utils.StructuredLogger
}

var _ types.PressureTarget = (*Registry)(nil)

// Registry is the process-wide list of mounted volumes plus the state needed
// to reclaim from them fairly. Construct one per daemon and hand it to every
// mount, unmount and pressure caller.
type Registry struct {
	mu    sync.Mutex
	list  *list.List
	runNo uint32

	policy   Policy
	observer Observer
	logger   *utils.StructuredLogger
}

// NewRegistry creates an empty registry
func NewRegistry(config *Config) *Registry {
	if config == nil {
		config = &Config{}
	}

	policy := config.Policy
	if len(policy.Steps) == 0 {
		policy = DefaultPolicy()
	}

	observer := config.Observer
	if observer == nil {
		observer = NopObserver{}
	}

	logger := config.Logger
	if logger == nil {
		logger = utils.NopLogger()
	}

	return &Registry{
		list:     list.New(),
		policy:   policy,
		observer: observer,
		logger:   logger.WithComponent("shrinker"),
	}
}

// Join appends rec to the tail of the registry. Joining a record that is
// already joined is a caller bug.
func (r *Registry) Join(rec *Record) {
	r.mu.Lock()
	rec.elem = r.list.PushBack(rec)
	r.mu.Unlock()

	r.logger.Debug("volume joined", map[string]interface{}{"volume": rec.id})
}

// Leave drains rec's extent cache and unlinks it. It must be called by the
// holder of rec's teardown guard, which is what keeps in-flight passes away
// from the caches once Leave returns.
//
// Translation and free-id caches are left alone: they may hold state that has
// to reach stable storage first, and the volume's own shutdown handles them.
func (r *Registry) Leave(rec *Record) {
	extent := rec.caches[ExtentCache]
	drained := clamp(extent.Reclaim(clamp(extent.ReclaimableCount())))

	r.mu.Lock()
	r.unlink(rec)
	r.mu.Unlock()

	r.logger.Debug("volume left", map[string]interface{}{
		"volume":  rec.id,
		"drained": drained,
	})
}

// Len returns the number of registered volumes
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.list.Len()
}

// RecordInfo is a point-in-time view of one registry slot.
type RecordInfo struct {
	ID      string `json:"id" yaml:"id"`
	LastRun uint32 `json:"last_run" yaml:"last_run"`
}

// Snapshot returns the registry order from head to tail
func (r *Registry) Snapshot() []RecordInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]RecordInfo, 0, r.list.Len())
	for e := r.list.Front(); e != nil; e = e.Next() {
		rec := e.Value.(*Record)
		out = append(out, RecordInfo{ID: rec.id, LastRun: rec.lastRun})
	}
	return out
}

// unlink removes rec from the list. Caller holds r.mu.
func (r *Registry) unlink(rec *Record) {
	if rec.elem == nil {
		return
	}
	r.list.Remove(rec.elem)
	rec.elem = nil
}

// nextRun advances the run counter, never handing out zero. Caller holds r.mu.
func (r *Registry) nextRun() uint32 {
	r.runNo++
	if r.runNo == 0 {
		r.runNo++
	}
	return r.runNo
}
