package ledger

import "fmt"

// transitionRule is one row of the static, total table that is the
// single source of truth for which (from, to) bucket pairs a transition
// labels (§4.2). Only "lock" has a choice of from-bucket.
type transitionRule struct {
	from []Bucket
	to   Bucket
}

var transitionRules = map[Transition]transitionRule{
	TransitionReserve:  {from: []Bucket{BucketAvailable}, to: BucketPending},
	TransitionLock:     {from: []Bucket{BucketPending, BucketAvailable}, to: BucketEscrow},
	TransitionFinalize: {from: []Bucket{BucketEscrow}, to: BucketOutflow},
	TransitionRelease:  {from: []Bucket{BucketPending}, to: BucketAvailable},
	TransitionRevert:   {from: []Bucket{BucketEscrow}, to: BucketAvailable},
}

func bucketIn(set []Bucket, b Bucket) bool {
	for _, s := range set {
		if s == b {
			return true
		}
	}
	return false
}

// ValidateLineBuckets enforces the state-machine rule for one line
// (§4.2). A line with FromBucket == ToBucket is an explicit no-op
// balance line and is legal for any transition (spec.md §9 open
// question, decided: always legal).
func ValidateLineBuckets(l Line) error {
	if l.FromBucket == l.ToBucket {
		return nil
	}

	rule, ok := transitionRules[l.Transition]
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidTransition, l.Transition)
	}

	if l.FromBucket == "" || l.ToBucket == "" {
		return fmt.Errorf("%w: transition %q requires both fromBucket and toBucket", ErrMissingBucket, l.Transition)
	}

	if !bucketIn(rule.from, l.FromBucket) || l.ToBucket != rule.to {
		return fmt.Errorf("%w: transition %q requires fromBucket in %v and toBucket %q, got fromBucket=%q toBucket=%q",
			ErrMissingBucket, l.Transition, rule.from, rule.to, l.FromBucket, l.ToBucket)
	}

	return nil
}

// BucketDelta is one signed adjustment to one bucket on one account.
type BucketDelta struct {
	Bucket Bucket
	Delta  int64
}

// LineDeltas computes the per-bucket deltas for a line given its amount
// already converted to minor units (§4.4 step 3c). A no-op line
// (FromBucket == ToBucket) has no balance effect and returns nil.
func LineDeltas(l Line, minor int64) []BucketDelta {
	if l.FromBucket == l.ToBucket {
		return nil
	}

	var deltas []BucketDelta
	if l.FromBucket != "" {
		deltas = append(deltas, BucketDelta{Bucket: l.FromBucket, Delta: -minor})
	}
	if l.ToBucket != "" {
		deltas = append(deltas, BucketDelta{Bucket: l.ToBucket, Delta: minor})
	}
	return deltas
}
