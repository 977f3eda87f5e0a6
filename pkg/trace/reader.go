package trace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"code.cloudfoundry.org/bytefmt"
	"github.com/golang/snappy"
	"github.com/sirupsen/logrus"
)

const (
	// EventFilePrefix is the name prefix of rotated trace files.
	EventFilePrefix = "events"
	// SnappySuffix marks a snappy-framed trace file.
	SnappySuffix = ".sz"
)

// Reader streams events from one trace file.
type Reader struct {
	path string
	file *os.File
	dec  *decoder
}

// OpenFile opens a trace file for reading. Files ending in SnappySuffix are
// decompressed on the fly.
func OpenFile(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	var r io.Reader = file
	if strings.HasSuffix(path, SnappySuffix) {
		r = snappy.NewReader(file)
	}

	return &Reader{
		path: path,
		file: file,
		dec:  newDecoder(r),
	}, nil
}

// Next returns the next event, or io.EOF once the file is exhausted.
func (r *Reader) Next() (TimedEvent, error) {
	return r.dec.next()
}

// Path returns the file path.
func (r *Reader) Path() string {
	return r.path
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// ExpandPaths resolves trace paths into an ordered list of files. Files are
// kept as given; a directory expands to its rotated event files, oldest
// first (events.N ... events.1, events).
func ExpandPaths(paths []string) ([]string, error) {
	files := make([]string, 0, len(paths))

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat trace path: %w", err)
		}

		if !info.IsDir() {
			files = append(files, path)
			continue
		}

		dirFiles, err := rotatedFiles(path)
		if err != nil {
			return nil, err
		}

		files = append(files, dirFiles...)
	}

	return files, nil
}

func rotatedFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read trace dir: %w", err)
	}

	type rotated struct {
		name string
		gen  int
	}

	var found []rotated

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		gen, ok := rotationGeneration(entry.Name())
		if !ok {
			continue
		}

		found = append(found, rotated{name: entry.Name(), gen: gen})
	}

	slices.SortFunc(found, func(a, b rotated) int {
		if a.gen != b.gen {
			return b.gen - a.gen
		}

		return strings.Compare(a.name, b.name)
	})

	files := make([]string, len(found))
	for i, f := range found {
		files[i] = filepath.Join(dir, f.name)
	}

	return files, nil
}

// rotationGeneration parses "events", "events.N" and their snappy variants.
func rotationGeneration(name string) (int, bool) {
	name = strings.TrimSuffix(name, SnappySuffix)
	if name == EventFilePrefix {
		return 0, true
	}

	suffix, ok := strings.CutPrefix(name, EventFilePrefix+".")
	if !ok {
		return 0, false
	}

	gen, err := strconv.Atoi(suffix)
	if err != nil || gen < 0 {
		return 0, false
	}

	return gen, true
}

// Observer is notified of every replayed event.
type Observer interface {
	ObserveEvent(kind string)
	ObservePackets(channel string, n int)
	ObserveCorruptFile()
}

// Source replays an ordered list of trace files.
type Source struct {
	paths    []string
	log      logrus.FieldLogger
	observer Observer
}

// NewSource creates a source over the given files, replayed in order.
func NewSource(paths []string, log logrus.FieldLogger) *Source {
	return &Source{
		paths: paths,
		log:   log.WithField("component", "trace-source"),
	}
}

// WithObserver attaches an observer notified of every event.
func (s *Source) WithObserver(observer Observer) *Source {
	s.observer = observer
	return s
}

// Each calls fn for every event, file order first, then in-file order.
//
// An unreadable file aborts the replay. A malformed or truncated frame ends
// that file: frames carry no sync markers, so the rest of the file is
// skipped with a warning and replay continues with the next file. The
// context is checked between events.
func (s *Source) Each(ctx context.Context, fn func(TimedEvent) error) error {
	for _, path := range s.paths {
		if err := s.eachInFile(ctx, path, fn); err != nil {
			return err
		}
	}

	return nil
}

// Dispatch replays every event into h.
func (s *Source) Dispatch(ctx context.Context, h Handler) error {
	return s.Each(ctx, func(ev TimedEvent) error {
		return Dispatch(h, ev)
	})
}

func (s *Source) eachInFile(ctx context.Context, path string, fn func(TimedEvent) error) error {
	reader, err := OpenFile(path)
	if err != nil {
		return err
	}
	defer reader.Close()

	log := s.log.WithField("file", path)

	if info, err := reader.file.Stat(); err == nil {
		log = log.WithField("size", bytefmt.ByteSize(uint64(info.Size())))
	}

	log.Debug("Replaying trace file")

	count := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ev, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			log.WithError(err).WithField("events", count).Warn("Skipping rest of malformed trace file")

			if s.observer != nil {
				s.observer.ObserveCorruptFile()
			}

			break
		}

		count++

		if s.observer != nil {
			s.observer.ObserveEvent(ev.Event.Kind())

			if batch, ok := ev.Event.(*PacketBatch); ok {
				s.observer.ObservePackets(batch.Channel.String(), batch.NumPackets())
			}
		}

		if err := fn(ev); err != nil {
			return err
		}
	}

	log.WithField("events", count).Debug("Finished trace file")

	return nil
}
