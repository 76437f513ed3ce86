package editlog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"tileworks.dev/internal/fault"
	"tileworks.dev/internal/sim/grid"
	"tileworks.dev/internal/sim/io/entitycodec"
	"tileworks.dev/internal/sim/io/tilecodec"
	"tileworks.dev/internal/sim/io/wire"
	"tileworks.dev/internal/sim/tile"
	"tileworks.dev/internal/sim/versions"
)

// Entry is one run of cells in a transcript.
type Entry struct {
	X, Y   int
	Tile   tile.Tile
	Repeat int
}

// Transcript is a decoded undo file.
type Transcript struct {
	Version  int32
	Cells    int
	Entries  []Entry
	Entities entitycodec.List
}

// ReadTranscript decodes the file at path. The file must have been written for e.
func ReadTranscript(path string, e *versions.Entry) (*Transcript, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fault.IO("open", path, err)
	}
	defer f.Close()
	tr, err := decodeTranscript(wire.NewReader(f), e)
	if err != nil {
		return nil, fault.IO("read", path, err)
	}
	return tr, nil
}

func decodeTranscript(r *wire.Reader, e *versions.Entry) (*Transcript, error) {
	const op = "transcript"
	count := r.U32()
	version := r.I32()
	if err := r.Err(); err != nil {
		return nil, fault.Read(op, r.Offset(), err)
	}
	if version != e.Version {
		return nil, &fault.FormatError{Op: op, Offset: 4, Err: fmt.Errorf("%w: written for %d, reading as %d", fault.ErrUnsupportedVersion, version, e.Version)}
	}
	tr := &Transcript{Version: version, Cells: int(count)}
	tiles := tilecodec.NewReader(r, e)
	for total := 0; total < tr.Cells; {
		off := r.Offset()
		x, y := int(r.I32()), int(r.I32())
		t, repeat, err := tiles.Next()
		if err == nil {
			err = r.Err()
		}
		if err != nil {
			return nil, fault.Read(op, off, fmt.Errorf("after %d of %d cells: %w", total, tr.Cells, err))
		}
		if total+repeat > tr.Cells {
			return nil, &fault.FormatError{Op: op, Offset: off, Err: fmt.Errorf("%w: run of %d overflows %d cells", fault.ErrCellCount, repeat, tr.Cells)}
		}
		tr.Entries = append(tr.Entries, Entry{X: x, Y: y, Tile: t, Repeat: repeat})
		total += repeat
	}
	list, err := entitycodec.Read(r, e)
	if err != nil {
		return nil, fault.Read(op, r.Offset(), err)
	}
	tr.Entities = list
	if _, err := r.ReadByte(); err == nil {
		return nil, &fault.FormatError{Op: op, Offset: r.Offset(), Err: errors.New("trailing data")}
	} else if !errors.Is(err, io.EOF) {
		return nil, fault.Read(op, r.Offset(), err)
	}
	return tr, nil
}

// Apply writes the transcript into g. When rec is non-nil it is told each cell's
// current content first, which is how undo records the matching redo. Entities
// that no longer fit their anchor are skipped and returned.
func (tr *Transcript) Apply(ctx context.Context, g *grid.Grid, rec grid.CellRecorder) ([]error, error) {
	for i, en := range tr.Entries {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for k := 0; k < en.Repeat; k++ {
			x, y := en.X, en.Y+k
			if rec != nil {
				if err := rec.RecordCell(x, y, g.Tile(x, y)); err != nil {
					return nil, err
				}
			}
			g.SetTile(x, y, en.Tile)
			// Anything anchored here now was not here before; recorded entities
			// are put back below.
			g.RemoveEntities(grid.Point{X: x, Y: y})
		}
	}
	var skipped []error
	for _, en := range tr.Entities {
		g.RemoveEntities(en.At)
		if err := g.PutEntities(en.At, en.Entities); err != nil {
			if !fault.IsConsistency(err) {
				return skipped, err
			}
			skipped = append(skipped, err)
		}
	}
	return skipped, nil
}

func sortEntries(l entitycodec.List) entitycodec.List {
	sort.Slice(l, func(i, j int) bool {
		if l[i].At.X != l[j].At.X {
			return l[i].At.X < l[j].At.X
		}
		return l[i].At.Y < l[j].At.Y
	})
	return l
}
