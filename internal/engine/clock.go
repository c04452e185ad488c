package engine

import "sync/atomic"

// Clock hands out result sequence numbers. Workers finish rules in any
// order, so Seq is assigned by the collector when a message reaches the
// sink, never by the rule that produced it.
type Clock struct {
	seq atomic.Int64
}

// NewClock returns a clock whose first Next is 1.
func NewClock() *Clock {
	return NewClockAt(0)
}

// NewClockAt returns a clock whose first Next is start+1, for appending
// to results already numbered up to start.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next advances the clock and returns the new sequence number.
func (c *Clock) Next() int64 { return c.seq.Add(1) }

// Current is the last number handed out.
func (c *Clock) Current() int64 { return c.seq.Load() }
