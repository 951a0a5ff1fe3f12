package persistence

import "fmt"

// SequenceTracker holds the highest sequence number a unit has applied.
// It never moves backwards.
type SequenceTracker struct {
	current uint64
}

// NewSequenceTracker returns a tracker positioned at start.
func NewSequenceTracker(start uint64) *SequenceTracker {
	return &SequenceTracker{current: start}
}

// Current returns the last applied sequence number, 0 if none.
func (t *SequenceTracker) Current() uint64 { return t.current }

// Next returns the sequence number the next write will use.
func (t *SequenceTracker) Next() uint64 { return t.current + 1 }

// Advance moves the tracker to seq. Advancing to the current value is a no-op.
func (t *SequenceTracker) Advance(seq uint64) error {
	if seq < t.current {
		return fmt.Errorf("%w: %d after %d", ErrSequenceRegression, seq, t.current)
	}
	t.current = seq
	return nil
}
