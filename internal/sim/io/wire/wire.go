// Package wire has the little-endian primitives shared by the tile codec, the
// entity sections, the world file and the edit transcript. Writer and Reader keep
// the first error and turn every later call into a no-op.
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"tileworks.dev/internal/fault"
)

// MaxString bounds strings read from untrusted input.
const MaxString = 1 << 20

type Writer struct {
	w   io.Writer
	tmp [binary.MaxVarintLen64]byte
	n   int64
	err error
}

func NewWriter(w io.Writer) *Writer { return &Writer{w: w} }

func (w *Writer) Err() error { return w.err }

// N is the number of bytes written so far.
func (w *Writer) N() int64 { return w.n }

func (w *Writer) Bytes(b []byte) {
	if w.err != nil {
		return
	}
	n, err := w.w.Write(b)
	w.n += int64(n)
	w.err = err
}

// Write lets other encoders stream through w so N stays accurate.
func (w *Writer) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	w.Bytes(p)
	if w.err != nil {
		return 0, w.err
	}
	return len(p), nil
}

func (w *Writer) U8(v uint8) {
	w.tmp[0] = v
	w.Bytes(w.tmp[:1])
}

func (w *Writer) Bool(v bool) {
	if v {
		w.U8(1)
		return
	}
	w.U8(0)
}

func (w *Writer) U16(v uint16) {
	binary.LittleEndian.PutUint16(w.tmp[:2], v)
	w.Bytes(w.tmp[:2])
}

func (w *Writer) I16(v int16) { w.U16(uint16(v)) }

func (w *Writer) U32(v uint32) {
	binary.LittleEndian.PutUint32(w.tmp[:4], v)
	w.Bytes(w.tmp[:4])
}

func (w *Writer) I32(v int32) { w.U32(uint32(v)) }

func (w *Writer) I64(v int64) {
	binary.LittleEndian.PutUint64(w.tmp[:8], uint64(v))
	w.Bytes(w.tmp[:8])
}

func (w *Writer) F64(v float64) { w.I64(int64(math.Float64bits(v))) }

func (w *Writer) Uvarint(v uint64) {
	n := binary.PutUvarint(w.tmp[:], v)
	w.Bytes(w.tmp[:n])
}

// String writes a uvarint length followed by the UTF-8 bytes.
func (w *Writer) String(s string) {
	w.Uvarint(uint64(len(s)))
	w.Bytes([]byte(s))
}

// Reader reads primitives and tracks its offset.
type Reader struct {
	r   *bufio.Reader
	n   int64
	err error
}

func NewReader(r io.Reader) *Reader {
	if br, ok := r.(*bufio.Reader); ok {
		return &Reader{r: br}
	}
	return &Reader{r: bufio.NewReaderSize(r, 256*1024)}
}

func (r *Reader) Err() error { return r.err }

// Offset is the number of bytes consumed so far.
func (r *Reader) Offset() int64 { return r.n }

// Fail records err unless an earlier error is already held.
func (r *Reader) Fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) ReadByte() (byte, error) {
	if r.err != nil {
		return 0, r.err
	}
	b, err := r.r.ReadByte()
	if err != nil {
		r.err = err
		return 0, err
	}
	r.n++
	return b, nil
}

func (r *Reader) Full(b []byte) {
	if r.err != nil {
		return
	}
	n, err := io.ReadFull(r.r, b)
	r.n += int64(n)
	if err != nil {
		if errors.Is(err, io.EOF) && n > 0 {
			err = io.ErrUnexpectedEOF
		}
		r.err = err
	}
}

func (r *Reader) U8() uint8 {
	b, _ := r.ReadByte()
	return b
}

func (r *Reader) Bool() bool { return r.U8() != 0 }

func (r *Reader) U16() uint16 {
	var b [2]byte
	r.Full(b[:])
	return binary.LittleEndian.Uint16(b[:])
}

func (r *Reader) I16() int16 { return int16(r.U16()) }

func (r *Reader) U32() uint32 {
	var b [4]byte
	r.Full(b[:])
	return binary.LittleEndian.Uint32(b[:])
}

func (r *Reader) I32() int32 { return int32(r.U32()) }

func (r *Reader) I64() int64 {
	var b [8]byte
	r.Full(b[:])
	return int64(binary.LittleEndian.Uint64(b[:]))
}

func (r *Reader) F64() float64 { return math.Float64frombits(uint64(r.I64())) }

func (r *Reader) Uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, err := binary.ReadUvarint(r)
	if err != nil {
		if r.err == nil {
			// ReadUvarint only fails on its own for an overlong varint.
			err = fmt.Errorf("%w: %v", fault.ErrCorrupt, err)
		}
		r.Fail(err)
		return 0
	}
	return v
}

func (r *Reader) String() string {
	n := r.Uvarint()
	if r.err != nil {
		return ""
	}
	if n > MaxString {
		r.Fail(fmt.Errorf("%w: string length %d exceeds %d", fault.ErrCorrupt, n, MaxString))
		return ""
	}
	b := make([]byte, n)
	r.Full(b)
	if r.err != nil {
		return ""
	}
	return string(b)
}
