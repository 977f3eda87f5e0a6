package trace

import (
	"fmt"
	"time"
)

// Handler consumes replayed events.
type Handler interface {
	HandlePacketBatch(ts time.Time, batch *PacketBatch) error
	HandleSlotBoundary(ts time.Time, boundary *SlotBoundary) error
}

// Dispatch routes a timed event to the matching Handler method.
func Dispatch(h Handler, ev TimedEvent) error {
	switch e := ev.Event.(type) {
	case *PacketBatch:
		return h.HandlePacketBatch(ev.Timestamp, e)
	case *SlotBoundary:
		return h.HandleSlotBoundary(ev.Timestamp, e)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownEvent, ev.Event)
	}
}
