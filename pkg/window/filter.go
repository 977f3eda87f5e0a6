// Package window gates replayed events by an inclusive slot or timestamp
// range.
package window

import (
	"cmp"
	"time"
)

// Filter is a NotStarted -> Active -> Done state machine over a monotonic
// position. Both flags are sticky: once started or done, they never reset.
//
// Filter does not stop the event source; callers keep feeding every event
// and skip the ones observed while the filter is inactive.
type Filter[P any] struct {
	start   *P
	end     *P
	compare func(a, b P) int
	started bool
	done    bool
}

func newFilter[P any](start, end *P, compare func(a, b P) int) *Filter[P] {
	return &Filter[P]{
		start:   start,
		end:     end,
		compare: compare,
		started: start == nil,
	}
}

// NewSlotFilter creates a filter over the inclusive slot range [start, end].
// A nil bound leaves that side open.
func NewSlotFilter(start, end *uint64) *Filter[uint64] {
	return newFilter(start, end, cmp.Compare[uint64])
}

// NewTimeFilter creates a filter over the inclusive timestamp range
// [start, end]. A nil bound leaves that side open.
func NewTimeFilter(start, end *time.Time) *Filter[time.Time] {
	return newFilter(start, end, time.Time.Compare)
}

// Observe advances the filter with the position of the next event and
// reports whether that event is inside the window.
func (f *Filter[P]) Observe(pos P) bool {
	if !f.started && f.compare(pos, *f.start) >= 0 {
		f.started = true
	}

	if !f.done && f.end != nil && f.compare(pos, *f.end) > 0 {
		f.done = true
	}

	return f.Active()
}

// Started reports whether an event at or past the lower bound has been seen.
func (f *Filter[P]) Started() bool {
	return f.started
}

// Done reports whether an event past the upper bound has been seen.
func (f *Filter[P]) Done() bool {
	return f.done
}

// Active reports whether events are currently inside the window.
func (f *Filter[P]) Active() bool {
	return f.started && !f.done
}
