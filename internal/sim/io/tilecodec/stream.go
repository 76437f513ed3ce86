package tilecodec

import (
	"io"

	"tileworks.dev/internal/sim/tile"
	"tileworks.dev/internal/sim/versions"
)

// Writer run-compresses a sequence of tiles onto w.
type Writer struct {
	w     io.Writer
	e     *versions.Entry
	buf   []byte
	prev  tile.Tile
	run   int
	cells int64
	err   error
}

func NewWriter(w io.Writer, e *versions.Entry) *Writer {
	return &Writer{w: w, e: e, buf: make([]byte, 0, 64)}
}

// Write queues one cell. Range violations are returned immediately and stick.
func (w *Writer) Write(t tile.Tile) error {
	if w.err != nil {
		return w.err
	}
	if err := CheckRange(t, w.e); err != nil {
		w.err = err
		return err
	}
	t = tile.Normalize(t, w.e.IsFrameImportant)
	if w.run > 0 && w.run < MaxRun && t == w.prev {
		w.run++
		return nil
	}
	if err := w.emit(); err != nil {
		return err
	}
	w.prev = t
	w.run = 1
	return nil
}

func (w *Writer) emit() error {
	if w.run == 0 {
		return nil
	}
	w.buf = Encode(w.buf[:0], w.prev, w.e, w.run)
	if _, err := w.w.Write(w.buf); err != nil {
		w.err = err
		return err
	}
	w.cells += int64(w.run)
	w.run = 0
	return nil
}

// Flush writes the pending run.
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	return w.emit()
}

// Cells is the number of cells flushed so far.
func (w *Writer) Cells() int64 { return w.cells }

// Reader decodes records one at a time.
type Reader struct {
	r io.ByteReader
	e *versions.Entry
}

func NewReader(r io.ByteReader, e *versions.Entry) *Reader {
	return &Reader{r: r, e: e}
}

// Next returns the next tile and its repeat count.
func (r *Reader) Next() (tile.Tile, int, error) {
	return Decode(r.r, r.e)
}
