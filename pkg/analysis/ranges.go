package analysis

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/ethpandaops/traceoor/pkg/trace"
)

// SlotRange is an inclusive run of consecutive slots.
type SlotRange struct {
	Start uint64
	End   uint64
}

// String returns the range as start-end.
func (r SlotRange) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// SlotRanges collects the runs of consecutive slot boundaries in a trace.
type SlotRanges struct {
	ranges []SlotRange
}

var _ trace.Handler = (*SlotRanges)(nil)

// NewSlotRanges creates a slot range scan.
func NewSlotRanges() *SlotRanges {
	return &SlotRanges{}
}

// HandlePacketBatch ignores packets.
func (*SlotRanges) HandlePacketBatch(time.Time, *trace.PacketBatch) error {
	return nil
}

// HandleSlotBoundary extends the current run or starts a new one.
func (s *SlotRanges) HandleSlotBoundary(_ time.Time, boundary *trace.SlotBoundary) error {
	if n := len(s.ranges); n > 0 {
		current := &s.ranges[n-1]
		if current.End != math.MaxUint64 && current.End+1 == boundary.Slot {
			current.End = boundary.Slot
			return nil
		}
	}

	s.ranges = append(s.ranges, SlotRange{Start: boundary.Slot, End: boundary.Slot})

	return nil
}

// Ranges returns the runs in trace order.
func (s *SlotRanges) Ranges() []SlotRange {
	return s.ranges
}

// Report writes one run per line.
func (s *SlotRanges) Report(w io.Writer) error {
	for _, r := range s.ranges {
		if _, err := fmt.Fprintln(w, r); err != nil {
			return err
		}
	}

	return nil
}

// TimeRange finds the earliest and latest event timestamps.
type TimeRange struct {
	min, max time.Time
	seen     bool
}

var _ trace.Handler = (*TimeRange)(nil)

// NewTimeRange creates a time range scan.
func NewTimeRange() *TimeRange {
	return &TimeRange{}
}

func (t *TimeRange) observe(ts time.Time) {
	if !t.seen {
		t.min, t.max, t.seen = ts, ts, true
		return
	}

	if ts.Before(t.min) {
		t.min = ts
	}

	if ts.After(t.max) {
		t.max = ts
	}
}

// HandlePacketBatch records the batch timestamp.
func (t *TimeRange) HandlePacketBatch(ts time.Time, _ *trace.PacketBatch) error {
	t.observe(ts)
	return nil
}

// HandleSlotBoundary records the boundary timestamp.
func (t *TimeRange) HandleSlotBoundary(ts time.Time, _ *trace.SlotBoundary) error {
	t.observe(ts)
	return nil
}

// Range returns the earliest and latest timestamps, and false when no event
// was seen.
func (t *TimeRange) Range() (time.Time, time.Time, bool) {
	return t.min, t.max, t.seen
}

// Report writes "min - max" in RFC 3339 with nanoseconds.
func (t *TimeRange) Report(w io.Writer) error {
	if !t.seen {
		_, err := fmt.Fprintln(w, "no events")
		return err
	}

	_, err := fmt.Fprintf(w, "%s - %s\n", t.min.Format(time.RFC3339Nano), t.max.Format(time.RFC3339Nano))

	return err
}
