package analysis

import (
	"time"

	"github.com/ethpandaops/traceoor/pkg/trace"
	"github.com/ethpandaops/traceoor/pkg/window"
	"github.com/sirupsen/logrus"
)

// Slicer copies every event of a time window into a new trace file, so a
// short window of a large trace can be analysed repeatedly.
type Slicer struct {
	log     logrus.FieldLogger
	filter  *window.Filter[time.Time]
	writer  *trace.Writer
	written int
}

var _ trace.Handler = (*Slicer)(nil)

// NewSlicer creates the output trace file at path. Paths ending in
// trace.SnappySuffix are compressed.
func NewSlicer(path string, start, end *time.Time, log logrus.FieldLogger) (*Slicer, error) {
	writer, err := trace.CreateFile(path)
	if err != nil {
		return nil, err
	}

	return &Slicer{
		log:    log.WithFields(logrus.Fields{"component": NameSlice, "output": path}),
		filter: window.NewTimeFilter(start, end),
		writer: writer,
	}, nil
}

func (s *Slicer) write(ts time.Time, ev trace.Event) error {
	if !s.filter.Observe(ts) {
		return nil
	}

	s.written++

	return s.writer.Write(trace.TimedEvent{Timestamp: ts, Event: ev})
}

// HandlePacketBatch copies in-window batches.
func (s *Slicer) HandlePacketBatch(ts time.Time, batch *trace.PacketBatch) error {
	return s.write(ts, batch)
}

// HandleSlotBoundary copies in-window boundaries.
func (s *Slicer) HandleSlotBoundary(ts time.Time, boundary *trace.SlotBoundary) error {
	return s.write(ts, boundary)
}

// Close flushes and closes the output file.
func (s *Slicer) Close() error {
	s.log.WithField("events", s.written).Info("Wrote trace slice")
	return s.writer.Close()
}

// Written returns the number of events copied.
func (s *Slicer) Written() int {
	return s.written
}
