package trace

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	bin "github.com/gagliardetto/binary"
	"github.com/golang/snappy"
)

// Writer encodes events into a trace file.
type Writer struct {
	file   *os.File
	buf    *bufio.Writer
	snappy *snappy.Writer
	enc    *bin.Encoder
}

// CreateFile creates (or truncates) a trace file. Files ending in
// SnappySuffix are snappy-framed.
func CreateFile(path string) (*Writer, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace file: %w", err)
	}

	w := &Writer{file: file}

	var out io.Writer = file
	if strings.HasSuffix(path, SnappySuffix) {
		w.snappy = snappy.NewBufferedWriter(file)
		out = w.snappy
	}

	w.buf = bufio.NewWriter(out)
	w.enc = bin.NewBinEncoder(w.buf)

	return w, nil
}

// Write appends one event.
func (w *Writer) Write(ev TimedEvent) error {
	return encodeEvent(w.enc, ev)
}

// Close flushes buffered frames and closes the file.
func (w *Writer) Close() error {
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return err
	}

	if w.snappy != nil {
		if err := w.snappy.Close(); err != nil {
			w.file.Close()
			return err
		}
	}

	return w.file.Close()
}
