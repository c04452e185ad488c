package engine

import "strconv"

// DefaultMaxIterations is the default number of table advances one rule or
// constant may perform.
const DefaultMaxIterations = 100000

// IterationQuota counts table advances for one evaluation and enforces a
// maximum.
//
// Every sub-table advance counts, nested scopes included, so a runaway
// cross product inside an aggregation is caught as well as one in the rule
// body.
//
// Together with the call-depth guard it guarantees that every rule
// evaluation terminates.
type IterationQuota struct {
	max     int // Maximum allowed advances
	current int // Advances so far
}

// NewIterationQuota creates a quota with the given limit. A limit of zero or
// less disables the check.
func NewIterationQuota(max int) *IterationQuota {
	return &IterationQuota{max: max}
}

// Check counts one advance and validates against the limit.
//
// Returns a ProcessingError with ErrCodeIterationLimit once the limit is
// exceeded.
func (q *IterationQuota) Check(owner string) error {
	q.current++
	if q.max > 0 && q.current > q.max {
		return &ProcessingError{
			Code:    ErrCodeIterationLimit,
			Message: "iteration limit exceeded",
			Rule:    owner,
			Details: map[string]string{
				"iterations": strconv.Itoa(q.current),
				"limit":      strconv.Itoa(q.max),
			},
		}
	}
	return nil
}

// Reset sets the counter back to 0.
func (q *IterationQuota) Reset() {
	q.current = 0
}

// Current returns the number of advances so far.
func (q *IterationQuota) Current() int {
	return q.current
}

// Max returns the limit.
func (q *IterationQuota) Max() int {
	return q.max
}
