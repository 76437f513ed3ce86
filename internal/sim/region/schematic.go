package region

import (
	"bufio"
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

// MagicSchematic starts a schematic file:
//
//	magic u32 "TSCH" | version i32 | name string | width i32 | height i32
//	tile stream, width*height cells in column-major order
//	section C | section S | section F (versions with fixtures)
const MagicSchematic uint32 = 'T' | 'S'<<8 | 'C'<<16 | 'H'<<24

// MaxSchematicCells bounds the size read from a schematic header.
const MaxSchematicCells = 1 << 24

// WriteSchematic encodes b under version e.
func WriteSchematic(dst io.Writer, name string, b *Buffer, e *versions.Entry) error {
	bw := bufio.NewWriter(dst)
	w := wire.NewWriter(bw)
	w.U32(MagicSchematic)
	w.I32(e.Version)
	w.String(name)
	w.I32(int32(b.Width()))
	w.I32(int32(b.Height()))

	tw := tilecodec.NewWriter(w, e)
	h := b.Height()
	for i := 0; i < b.g.Cells(); i++ {
		if err := tw.Write(b.g.TileAt(i)); err != nil {
			var re *fault.RangeError
			if errors.As(err, &re) {
				return fmt.Errorf("schematic cell (%d,%d): %w", i/h, i%h, err)
			}
			return err
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if err := entitycodec.Write(w, entitycodec.FromGrid(b.g), e); err != nil {
		return err
	}
	if err := w.Err(); err != nil {
		return err
	}
	return bw.Flush()
}

// ReadSchematic decodes a schematic. The returned buffer's Origin is zero.
func ReadSchematic(src io.Reader, lookup versions.Lookup) (*Buffer, string, error) {
	const op = "schematic"
	r := wire.NewReader(bufio.NewReader(src))
	magic := r.U32()
	if r.Err() == nil && magic != MagicSchematic {
		return nil, "", &fault.FormatError{Op: op, Offset: 0, Err: fmt.Errorf("%w 0x%08x", fault.ErrBadMagic, magic)}
	}
	version := r.I32()
	name := r.String()
	w, h := r.I32(), r.I32()
	if err := r.Err(); err != nil {
		return nil, "", fault.Read(op, r.Offset(), err)
	}
	if w <= 0 || h <= 0 || int64(w)*int64(h) > MaxSchematicCells {
		return nil, "", fault.Formatf(op, "bad dimensions %dx%d", w, h)
	}
	e, err := lookup.ForLoad(version)
	if err != nil {
		return nil, "", err
	}
	g, err := grid.New(int(w), int(h), lookup.Structures())
	if err != nil {
		return nil, "", fault.Format(op, err)
	}

	tiles := tilecodec.NewReader(r, e)
	total := g.Cells()
	for i := 0; i < total; {
		off := r.Offset()
		t, repeat, err := tiles.Next()
		if err != nil {
			return nil, "", fault.Read(op, off, fmt.Errorf("after %d of %d cells: %w", i, total, err))
		}
		if i+repeat > total {
			return nil, "", &fault.FormatError{Op: op, Offset: off, Err: fmt.Errorf("%w: run of %d overflows %d cells", fault.ErrCellCount, repeat, total)}
		}
		for k := 0; k < repeat; k++ {
			g.SetTileAt(i+k, t)
		}
		i += repeat
	}

	list, err := entitycodec.Read(r, e)
	if err != nil {
		return nil, "", fault.Read(op, r.Offset(), err)
	}
	for _, en := range list {
		// Capture only keeps whole structures, so a mismatch means a corrupt file.
		if err := g.PutEntities(en.At, en.Entities); err != nil {
			return nil, "", fault.Format(op, err)
		}
	}
	if _, err := r.ReadByte(); err == nil {
		return nil, "", &fault.FormatError{Op: op, Offset: r.Offset(), Err: errors.New("trailing data")}
	} else if !errors.Is(err, io.EOF) {
		return nil, "", fault.Read(op, r.Offset(), err)
	}
	return &Buffer{g: g}, name, nil
}
