package shrinker

import "fmt"

// BudgetFunc computes the sub-budget for one cache given the pass quota and
// what the pass has freed so far.
type BudgetFunc func(quota, freed int64) int64

// Step pairs a cache with the budget it is offered.
type Step struct {
	Kind   CacheKind
	Budget BudgetFunc
}

// Policy is the ordered list of steps run against each visited volume. Steps
// after the first only run while the pass is still short of its quota.
type Policy struct {
	Steps []Step
}

// DefaultExtentDivisor gives the extent cache half of the quota.
const DefaultExtentDivisor = 2

// DefaultPolicy drains the extent cache with quota/2, then the translation
// cache with the remaining shortfall, then the free-id cache with whatever
// is still short.
func DefaultPolicy() Policy {
	p, _ := NewPolicy(DefaultExtentDivisor)
	return p
}

// NewPolicy builds the default ordering with the extent cache offered
// quota/divisor instead of quota/2.
func NewPolicy(extentDivisor int64) (Policy, error) {
	if extentDivisor <= 0 {
		return Policy{}, fmt.Errorf("extent divisor must be positive, got %d", extentDivisor)
	}
	return Policy{
		Steps: []Step{
			{Kind: ExtentCache, Budget: QuotaShare(extentDivisor)},
			{Kind: TranslationCache, Budget: Shortfall},
			{Kind: FreeIDCache, Budget: Shortfall},
		},
	}, nil
}

// QuotaShare offers quota/divisor regardless of progress.
func QuotaShare(divisor int64) BudgetFunc {
	return func(quota, _ int64) int64 {
		return quota / divisor
	}
}

// Shortfall offers whatever the pass still needs.
func Shortfall(quota, freed int64) int64 {
	return quota - freed
}

// apply runs the policy against one record and returns per-cache frees.
// freed is the pass total before this record.
func (p Policy) apply(rec *Record, quota, freed int64) [NumCacheKinds]int64 {
	var got [NumCacheKinds]int64
	for i, step := range p.Steps {
		if i > 0 && freed >= quota {
			break
		}
		budget := step.Budget(quota, freed)
		if budget <= 0 {
			continue
		}
		n := clamp(rec.caches[step.Kind].Reclaim(budget))
		got[step.Kind] += n
		freed += n
	}
	return got
}
