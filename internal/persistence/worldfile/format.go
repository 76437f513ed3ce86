// Package worldfile reads and writes whole worlds.
//
// Layout (little-endian):
//
//	magic u32 "TWLD" | version i32 | width i32 | height i32
//	title string | world id i32 | spawn x i32 | spawn y i32 | ground f64 | rock f64
//	tile stream, width*height cells in column-major order
//	section C | section S | section F (versions with fixtures)
//	magic u32 "TEND" | bytes before footer i64
package worldfile

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"tileworks.dev/internal/fault"
	"tileworks.dev/internal/sim/grid"
	"tileworks.dev/internal/sim/io/entitycodec"
	"tileworks.dev/internal/sim/io/tilecodec"
	"tileworks.dev/internal/sim/io/wire"
	"tileworks.dev/internal/sim/versions"
)

const (
	MagicWorld uint32 = 'T' | 'W'<<8 | 'L'<<16 | 'D'<<24
	MagicEnd   uint32 = 'T' | 'E'<<8 | 'N'<<16 | 'D'<<24

	// MaxCells bounds width*height read from a header.
	MaxCells = 1 << 28
)

// Progress receives coarse progress for long loads and saves.
type Progress interface {
	Report(stage string, percent int)
}

// ProgressFunc adapts a function to Progress.
type ProgressFunc func(stage string, percent int)

func (f ProgressFunc) Report(stage string, percent int) { f(stage, percent) }

type nopProgress struct{}

func (nopProgress) Report(string, int) {}

const (
	StageHeader   = "header"
	StageTiles    = "tiles"
	StageEntities = "entities"
	StageDone     = "done"
)

// percentTracker reports each whole percent once.
type percentTracker struct {
	p     Progress
	stage string
	total int
	last  int
}

func (t *percentTracker) at(done int) {
	pct := 100
	if t.total > 0 {
		pct = int(int64(done) * 100 / int64(t.total))
	}
	if pct != t.last {
		t.last = pct
		t.p.Report(t.stage, pct)
	}
}

// Counts summarizes what was written.
type Counts struct {
	Bytes      int64
	Containers int
	Signs      int
	Fixtures   int
}

// Write encodes g under version e. Values e cannot store fail with a RangeError.
// ctx is checked once per column.
func Write(ctx context.Context, dst io.Writer, g *grid.Grid, e *versions.Entry, p Progress) (Counts, error) {
	if p == nil {
		p = nopProgress{}
	}
	bw := bufio.NewWriterSize(dst, 256*1024)
	w := wire.NewWriter(bw)

	p.Report(StageHeader, 0)
	w.U32(MagicWorld)
	w.I32(e.Version)
	w.I32(int32(g.Width()))
	w.I32(int32(g.Height()))
	w.String(g.Meta.Title)
	w.I32(g.Meta.WorldID)
	w.I32(g.Meta.SpawnX)
	w.I32(g.Meta.SpawnY)
	w.F64(g.Meta.GroundLevel)
	w.F64(g.Meta.RockLevel)
	if err := w.Err(); err != nil {
		return Counts{}, err
	}

	tw := tilecodec.NewWriter(w, e)
	track := percentTracker{p: p, stage: StageTiles, total: g.Width(), last: -1}
	h := g.Height()
	for x := 0; x < g.Width(); x++ {
		if err := ctx.Err(); err != nil {
			return Counts{}, err
		}
		base := x * h
		for y := 0; y < h; y++ {
			if err := tw.Write(g.TileAt(base + y)); err != nil {
				var re *fault.RangeError
				if errors.As(err, &re) {
					return Counts{}, fmt.Errorf("cell (%d,%d): %w", x, y, err)
				}
				return Counts{}, err
			}
		}
		track.at(x + 1)
	}
	if err := tw.Flush(); err != nil {
		return Counts{}, err
	}
	if tw.Cells() != int64(g.Cells()) {
		return Counts{}, fmt.Errorf("%w: wrote %d of %d cells", fault.ErrCellCount, tw.Cells(), g.Cells())
	}

	p.Report(StageEntities, 0)
	list := entitycodec.FromGrid(g)
	if err := entitycodec.Write(w, list, e); err != nil {
		return Counts{}, err
	}
	body := w.N()
	w.U32(MagicEnd)
	w.I64(body)
	if err := w.Err(); err != nil {
		return Counts{}, err
	}
	if err := bw.Flush(); err != nil {
		return Counts{}, err
	}
	p.Report(StageDone, 100)

	c, s, f := list.Len()
	return Counts{Bytes: w.N(), Containers: c, Signs: s, Fixtures: f}, nil
}

// Header is the fixed part of a world file.
type Header struct {
	Version int32
	Width   int
	Height  int
	Meta    grid.Meta
}

func readHeader(r *wire.Reader) (Header, error) {
	var h Header
	magic := r.U32()
	if err := r.Err(); err != nil {
		return h, readFailed("header", r, err)
	}
	if magic != MagicWorld {
		return h, &fault.FormatError{Op: "header", Offset: 0, Err: fmt.Errorf("%w 0x%08x", fault.ErrBadMagic, magic)}
	}
	h.Version = r.I32()
	w, ht := r.I32(), r.I32()
	h.Meta = grid.Meta{
		Version:     h.Version,
		Title:       r.String(),
		WorldID:     r.I32(),
		SpawnX:      r.I32(),
		SpawnY:      r.I32(),
		GroundLevel: r.F64(),
		RockLevel:   r.F64(),
	}
	if err := r.Err(); err != nil {
		return h, readFailed("header", r, err)
	}
	if w <= 0 || ht <= 0 || int64(w)*int64(ht) > MaxCells {
		return h, &fault.FormatError{Op: "header", Offset: 8, Err: fmt.Errorf("bad dimensions %dx%d", w, ht)}
	}
	h.Width, h.Height = int(w), int(ht)
	return h, nil
}

// ReadHeader decodes only the header. It does not check the version.
func ReadHeader(src io.Reader) (Header, error) {
	return readHeader(wire.NewReader(src))
}

// readFailed categorizes a read error at the reader's current offset.
func readFailed(op string, r *wire.Reader, err error) error {
	return fault.Read(op, r.Offset(), err)
}

// Read decodes a world. Entities whose anchor does not bear their structure are
// dropped and returned as orphans; every other problem fails the whole read.
func Read(ctx context.Context, src io.Reader, lookup versions.Lookup, p Progress) (*grid.Grid, []error, error) {
	if p == nil {
		p = nopProgress{}
	}
	r := wire.NewReader(src)

	p.Report(StageHeader, 0)
	h, err := readHeader(r)
	if err != nil {
		return nil, nil, err
	}
	e, err := lookup.ForLoad(h.Version)
	if err != nil {
		return nil, nil, err
	}
	g, err := grid.New(h.Width, h.Height, lookup.Structures())
	if err != nil {
		return nil, nil, fault.Format("header", err)
	}
	g.Meta = h.Meta

	if err := readTiles(ctx, r, g, e, p); err != nil {
		return nil, nil, err
	}

	p.Report(StageEntities, 0)
	list, err := entitycodec.Read(r, e)
	if err != nil {
		return nil, nil, readFailed("entities", r, err)
	}
	var orphans []error
	for _, en := range list {
		if err := g.PutEntities(en.At, en.Entities); err != nil {
			if !fault.IsConsistency(err) {
				return nil, nil, err
			}
			orphans = append(orphans, err)
		}
	}

	body := r.Offset()
	magic := r.U32()
	total := r.I64()
	if err := r.Err(); err != nil {
		return nil, nil, readFailed("footer", r, err)
	}
	if magic != MagicEnd {
		return nil, nil, &fault.FormatError{Op: "footer", Offset: body, Err: fmt.Errorf("%w 0x%08x", fault.ErrBadMagic, magic)}
	}
	if total != body {
		return nil, nil, &fault.FormatError{Op: "footer", Offset: body, Err: fmt.Errorf("footer says %d bytes, read %d", total, body)}
	}
	if _, err := r.ReadByte(); err == nil {
		return nil, nil, &fault.FormatError{Op: "footer", Offset: r.Offset(), Err: errors.New("trailing data after footer")}
	} else if err != io.EOF {
		return nil, nil, readFailed("footer", r, err)
	}
	p.Report(StageDone, 100)
	return g, orphans, nil
}

func readTiles(ctx context.Context, r *wire.Reader, g *grid.Grid, e *versions.Entry, p Progress) error {
	tr := tilecodec.NewReader(r, e)
	total := g.Cells()
	h := g.Height()
	track := percentTracker{p: p, stage: StageTiles, total: total, last: -1}
	nextCheck := 0
	for i := 0; i < total; {
		if i >= nextCheck {
			if err := ctx.Err(); err != nil {
				return err
			}
			track.at(i)
			nextCheck = (i/h + 1) * h
		}
		off := r.Offset()
		t, repeat, err := tr.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return &fault.FormatError{Op: "tiles", Offset: off, Err: fmt.Errorf("%w: stream ended after %d of %d cells", fault.ErrCellCount, i, total)}
			}
			return readFailed("tiles", r, err)
		}
		if i+repeat > total {
			return &fault.FormatError{Op: "tiles", Offset: off, Err: fmt.Errorf("%w: run of %d at cell %d overflows %d cells", fault.ErrCellCount, repeat, i, total)}
		}
		for k := 0; k < repeat; k++ {
			g.SetTileAt(i+k, t)
		}
		i += repeat
	}
	track.at(total)
	return nil
}
