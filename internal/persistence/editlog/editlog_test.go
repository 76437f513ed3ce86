package editlog

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"testing/iotest"

	"tileworks.dev/internal/fault"
	"tileworks.dev/internal/sim/grid"
	"tileworks.dev/internal/sim/grid/gridtest"
	"tileworks.dev/internal/sim/io/wire"
	"tileworks.dev/internal/sim/region"
	"tileworks.dev/internal/sim/tile"
)

func newHistory(t *testing.T, opts Options) *History {
	t.Helper()
	if opts.Dir == "" {
		opts.Dir = t.TempDir()
	}
	h, err := NewHistory(gridtest.Table(t).Current(), opts)
	if err != nil {
		t.Fatalf("NewHistory: %v", err)
	}
	return h
}

// edit runs fn inside one committed transaction, recording every cell it sets.
func edit(t *testing.T, h *History, g *grid.Grid, fn func(set func(x, y int, c tile.Tile))) bool {
	t.Helper()
	tx, err := h.Begin(g, "test")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	fn(func(x, y int, c tile.Tile) {
		if err := tx.RecordCell(x, y, g.Tile(x, y)); err != nil {
			t.Fatalf("RecordCell(%d,%d): %v", x, y, err)
		}
		g.SetTile(x, y, c)
	})
	ok, err := h.Commit(tx)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return ok
}

func scribble(set func(x, y int, c tile.Tile)) {
	for x := 0; x < 16; x++ {
		for y := 0; y < 12; y++ {
			if (x*y)%3 == 0 || x == y {
				set(x, y, tile.Tile{Active: true, Type: gridtest.Stone, Wall: 7})
			}
		}
	}
}

func transcriptFiles(t *testing.T, dir string) []string {
	t.Helper()
	m, err := filepath.Glob(filepath.Join(dir, "*"+fileExt))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	return m
}

func TestUndoRedoSymmetry(t *testing.T) {
	ctx := context.Background()
	fi := gridtest.Table(t).Current().IsFrameImportant
	h := newHistory(t, Options{})
	g := gridtest.Sample(t, 20, 14)
	edited := gridtest.Sample(t, 20, 14)
	scribble(func(x, y int, c tile.Tile) { edited.SetTile(x, y, c) })

	if !edit(t, h, g, scribble) {
		t.Fatalf("commit reported nothing recorded")
	}
	gridtest.Equal(t, g, edited, fi)
	if g.ContainerCount() != 0 {
		t.Fatalf("overwriting the chest anchor kept its container")
	}

	ok, err := h.Undo(ctx, g)
	if err != nil || !ok {
		t.Fatalf("Undo: %v %v", ok, err)
	}
	gridtest.Equal(t, g, gridtest.Sample(t, 20, 14), fi)

	ok, err = h.Redo(ctx, g)
	if err != nil || !ok {
		t.Fatalf("Redo: %v %v", ok, err)
	}
	gridtest.Equal(t, g, edited, fi)

	if _, err := h.Undo(ctx, g); err != nil {
		t.Fatalf("second Undo: %v", err)
	}
	gridtest.Equal(t, g, gridtest.Sample(t, 20, 14), fi)
	if n := len(transcriptFiles(t, h.dir)); n != 1 {
		t.Fatalf("transcripts on disk=%d want 1", n)
	}
}

func TestEmptyStacksAreNoops(t *testing.T) {
	ctx := context.Background()
	h := newHistory(t, Options{})
	g := gridtest.New(t, 4, 4)
	if ok, err := h.Undo(ctx, g); ok || err != nil {
		t.Fatalf("Undo on empty history: %v %v", ok, err)
	}
	if ok, err := h.Redo(ctx, g); ok || err != nil {
		t.Fatalf("Redo on empty history: %v %v", ok, err)
	}
}

func TestEmptyTransactionIsDiscarded(t *testing.T) {
	h := newHistory(t, Options{})
	g := gridtest.New(t, 4, 4)
	if edit(t, h, g, func(func(int, int, tile.Tile)) {}) {
		t.Fatalf("empty transaction was committed")
	}
	if h.CanUndo() || len(transcriptFiles(t, h.dir)) != 0 {
		t.Fatalf("empty transaction left state behind")
	}
}

func TestUndoLogCompression(t *testing.T) {
	e := gridtest.Table(t).Current()
	g := gridtest.New(t, 2, 3000)
	g.Fill(0, 0, 2, 3000, tile.Tile{Active: true, Type: gridtest.Stone})
	tx, err := Begin(t.TempDir(), g, e, 0)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	for y := 0; y < 3000; y++ {
		if err := tx.RecordCell(1, y, g.Tile(1, y)); err != nil {
			t.Fatalf("RecordCell: %v", err)
		}
	}
	s, err := tx.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	st, err := os.Stat(s.Path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if st.Size() > 64 {
		t.Fatalf("3000 equal cells took %d bytes", st.Size())
	}
	tr, err := ReadTranscript(s.Path, e)
	if err != nil {
		t.Fatalf("ReadTranscript: %v", err)
	}
	if tr.Cells != 3000 || len(tr.Entries) != 1 || tr.Entries[0].Repeat != 3000 || tr.Entries[0].X != 1 {
		t.Fatalf("transcript=%+v", tr.Entries)
	}
}

func TestFirstRecordWinsAndFlushThreshold(t *testing.T) {
	e := gridtest.Table(t).Current()
	g := gridtest.New(t, 30, 2)
	tx, err := Begin(t.TempDir(), g, e, 10)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	first := tile.Tile{Active: true, Type: gridtest.Stone}
	if err := tx.RecordCell(0, 0, first); err != nil {
		t.Fatalf("RecordCell: %v", err)
	}
	if err := tx.RecordCell(0, 0, tile.Tile{Wall: 3}); err != nil {
		t.Fatalf("RecordCell: %v", err)
	}
	for x := 1; x <= 10; x++ {
		if err := tx.RecordCell(x, 0, tile.Tile{}); err != nil {
			t.Fatalf("RecordCell: %v", err)
		}
	}
	if n := tx.Pending(); n != 0 {
		t.Fatalf("pending=%d after crossing the threshold", n)
	}
	if err := tx.RecordCell(11, 1, tile.Tile{}); err != nil {
		t.Fatalf("RecordCell: %v", err)
	}
	if n := tx.Pending(); n != 1 {
		t.Fatalf("pending=%d want 1", n)
	}
	if err := tx.RecordCell(-1, 0, tile.Tile{}); err != nil {
		t.Fatalf("out-of-range cell: %v", err)
	}
	s, err := tx.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if s.Cells != 12 {
		t.Fatalf("cells=%d want 12", s.Cells)
	}
	tr, err := ReadTranscript(s.Path, e)
	if err != nil {
		t.Fatalf("ReadTranscript: %v", err)
	}
	if tr.Entries[0].Tile != first {
		t.Fatalf("first entry %+v want %+v", tr.Entries[0].Tile, first)
	}
	if err := tx.RecordCell(5, 1, tile.Tile{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("record after commit: err=%v", err)
	}
}

func TestTranscriptCountMismatch(t *testing.T) {
	e := gridtest.Table(t).Current()
	g := gridtest.New(t, 4, 4)
	tx, err := Begin(t.TempDir(), g, e, 0)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	for y := 0; y < 4; y++ {
		_ = tx.RecordCell(2, y, tile.Tile{})
	}
	s, err := tx.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := binary.LittleEndian.Uint32(raw); got != 4 {
		t.Fatalf("count=%d want 4", got)
	}
	binary.LittleEndian.PutUint32(raw, 3)
	if err := os.WriteFile(s.Path, raw, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err = ReadTranscript(s.Path, e)
	if !fault.IsFormat(err) || !errors.Is(err, fault.ErrCellCount) {
		t.Fatalf("err=%v want cell count format error", err)
	}
}

func TestAbortRemovesTranscript(t *testing.T) {
	h := newHistory(t, Options{})
	g := gridtest.New(t, 4, 4)
	tx, err := h.Begin(g, "pencil")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	_ = tx.RecordCell(0, 0, tile.Tile{})
	if err := h.Abort(tx); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if _, err := os.Stat(tx.Path()); !os.IsNotExist(err) {
		t.Fatalf("transcript survived abort: %v", err)
	}
}

func TestCapAndRedoClearing(t *testing.T) {
	ctx := context.Background()
	h := newHistory(t, Options{MaxEntries: 3})
	g := gridtest.New(t, 8, 8)
	for i := 0; i < 5; i++ {
		edit(t, h, g, func(set func(int, int, tile.Tile)) {
			set(i, 0, tile.Tile{Active: true, Type: gridtest.Stone})
		})
	}
	if h.UndoCount() != 3 || len(transcriptFiles(t, h.dir)) != 3 {
		t.Fatalf("undo=%d files=%d want 3", h.UndoCount(), len(transcriptFiles(t, h.dir)))
	}
	for i := 0; i < 3; i++ {
		if ok, err := h.Undo(ctx, g); !ok || err != nil {
			t.Fatalf("Undo %d: %v %v", i, ok, err)
		}
	}
	if ok, _ := h.Undo(ctx, g); ok {
		t.Fatalf("undo past the cap")
	}
	if !g.Tile(0, 0).Active || !g.Tile(1, 0).Active || g.Tile(2, 0).Active {
		t.Fatalf("only the last three edits should have been undone")
	}
	if h.RedoCount() != 3 {
		t.Fatalf("redo=%d want 3", h.RedoCount())
	}
	edit(t, h, g, func(set func(int, int, tile.Tile)) { set(7, 7, tile.Tile{Wall: 1}) })
	if h.CanRedo() {
		t.Fatalf("a new commit must clear the redo stack")
	}
	if n := len(transcriptFiles(t, h.dir)); n != 1 {
		t.Fatalf("files=%d want 1", n)
	}
	h.Clear()
	if h.CanUndo() || len(transcriptFiles(t, h.dir)) != 0 {
		t.Fatalf("Clear left state behind")
	}
}

func TestUndoRestoresContainerContents(t *testing.T) {
	ctx := context.Background()
	h := newHistory(t, Options{})
	g := gridtest.Sample(t, 16, 12)
	edit(t, h, g, func(set func(int, int, tile.Tile)) {
		for x := 2; x < 4; x++ {
			for y := 2; y < 4; y++ {
				set(x, y, tile.Tile{})
			}
		}
	})
	if g.ContainerCount() != 0 {
		t.Fatalf("erasing the chest kept its container")
	}
	if _, err := h.Undo(ctx, g); err != nil {
		t.Fatalf("Undo: %v", err)
	}
	_, c, ok := g.Container(3, 3)
	if !ok || c.Name != "loot" || c.Slots[0] != (grid.ItemStack{NetID: 1, Stack: 99}) {
		t.Fatalf("container after undo: %+v %v", c, ok)
	}
	if _, err := h.Redo(ctx, g); err != nil {
		t.Fatalf("Redo: %v", err)
	}
	if g.ContainerCount() != 0 {
		t.Fatalf("redo left the container in place")
	}
}

type discard struct{}

func (discard) RecordCell(int, int, tile.Tile) error { return nil }

func TestOverlappingEditsUndoAndRedoInOrder(t *testing.T) {
	ctx := context.Background()
	fi := gridtest.Table(t).Current().IsFrameImportant
	buf, err := region.Capture(gridtest.Sample(t, 40, 14), region.Rect{X: 0, Y: 0, W: 16, H: 8})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	paste := func(at grid.Point) func(*grid.Grid, grid.CellRecorder) {
		return func(g *grid.Grid, rec grid.CellRecorder) {
			if _, err := buf.Paste(g, at, region.PasteOptions{}, rec); err != nil {
				t.Fatalf("Paste at %s: %v", at, err)
			}
		}
	}
	erase := func(g *grid.Grid, rec grid.CellRecorder) {
		for x := 14; x < 27; x++ {
			for y := 0; y < 11; y++ {
				if err := rec.RecordCell(x, y, g.Tile(x, y)); err != nil {
					t.Fatalf("RecordCell: %v", err)
				}
				g.SetTile(x, y, tile.Tile{})
			}
		}
	}
	steps := []func(*grid.Grid, grid.CellRecorder){paste(grid.Point{X: 10, Y: 3}), erase, paste(grid.Point{X: 18, Y: 5})}

	// states[k] is the world after the first k steps.
	states := make([]*grid.Grid, len(steps)+1)
	for k := range states {
		states[k] = gridtest.Sample(t, 40, 14)
		for _, step := range steps[:k] {
			step(states[k], discard{})
		}
	}

	h := newHistory(t, Options{})
	g := gridtest.Sample(t, 40, 14)
	for i, step := range steps {
		tx, err := h.Begin(g, "step")
		if err != nil {
			t.Fatalf("Begin: %v", err)
		}
		step(g, tx)
		if ok, err := h.Commit(tx); !ok || err != nil {
			t.Fatalf("Commit step %d: %v %v", i, ok, err)
		}
	}
	gridtest.Equal(t, g, states[len(steps)], fi)

	for k := len(steps) - 1; k >= 0; k-- {
		if ok, err := h.Undo(ctx, g); !ok || err != nil {
			t.Fatalf("Undo to %d: %v %v", k, ok, err)
		}
		gridtest.Equal(t, g, states[k], fi)
	}
	for k := 1; k <= len(steps); k++ {
		if ok, err := h.Redo(ctx, g); !ok || err != nil {
			t.Fatalf("Redo to %d: %v %v", k, ok, err)
		}
		gridtest.Equal(t, g, states[k], fi)
	}
}

func TestConcurrentRecordCell(t *testing.T) {
	e := gridtest.Table(t).Current()
	orig := gridtest.Sample(t, 16, 64)
	g := gridtest.Sample(t, 16, 64)
	tx, err := Begin(t.TempDir(), g, e, 7)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(cols ...int) {
			defer wg.Done()
			for _, x := range cols {
				for y := 0; y < 64; y++ {
					if err := tx.RecordCell(x, y, g.Tile(x, y)); err != nil {
						errs <- err
						return
					}
				}
			}
		}(2*i, 2*i+1, 15)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("RecordCell: %v", err)
	}
	s, err := tx.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if s.Cells != 16*64 {
		t.Fatalf("cells=%d want %d", s.Cells, 16*64)
	}

	g.Fill(0, 0, 16, 64, tile.Tile{Active: true, Type: gridtest.Stone})
	tr, err := ReadTranscript(s.Path, e)
	if err != nil {
		t.Fatalf("ReadTranscript: %v", err)
	}
	if tr.Cells != 16*64 {
		t.Fatalf("transcript cells=%d", tr.Cells)
	}
	if _, err := tr.Apply(context.Background(), g, nil); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	gridtest.Equal(t, g, orig, e.IsFrameImportant)
}

func TestRepeatedTilesCompressAcrossCells(t *testing.T) {
	e := gridtest.Table(t).Current()
	g := gridtest.New(t, 1, 1000)
	size := func(prior func(y int) tile.Tile) int64 {
		t.Helper()
		tx, err := Begin(t.TempDir(), g, e, 0)
		if err != nil {
			t.Fatalf("Begin: %v", err)
		}
		for y := 0; y < 1000; y++ {
			if err := tx.RecordCell(0, y, prior(y)); err != nil {
				t.Fatalf("RecordCell: %v", err)
			}
		}
		s, err := tx.Commit()
		if err != nil {
			t.Fatalf("Commit: %v", err)
		}
		st, err := os.Stat(s.Path)
		if err != nil {
			t.Fatalf("stat: %v", err)
		}
		return st.Size()
	}
	same := size(func(int) tile.Tile { return tile.Tile{Active: true, Type: gridtest.Stone} })
	distinct := size(func(y int) tile.Tile {
		return tile.Tile{Wall: uint16(y/250 + 1), LiquidKind: tile.LiquidWater, LiquidAmount: uint8(y%250 + 1)}
	})
	if same*10 >= distinct {
		t.Fatalf("1000 equal tiles took %d bytes, 1000 distinct took %d", same, distinct)
	}
}

func TestTranscriptCarriesFormatVersion(t *testing.T) {
	tbl := gridtest.Table(t)
	e := tbl.Current()
	g := gridtest.New(t, 4, 4)
	tx, err := Begin(t.TempDir(), g, e, 0)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	_ = tx.RecordCell(1, 1, tile.Tile{Wall: 2})
	s, err := tx.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := int32(binary.LittleEndian.Uint32(raw[4:])); got != e.Version {
		t.Fatalf("version field=%d want %d", got, e.Version)
	}
	old, err := tbl.Exact(102)
	if err != nil {
		t.Fatalf("Exact: %v", err)
	}
	if _, err := ReadTranscript(s.Path, old); !fault.IsFormat(err) || !errors.Is(err, fault.ErrUnsupportedVersion) {
		t.Fatalf("read as %d: err=%v", old.Version, err)
	}
}

func TestTranscriptDeviceErrorIsIOError(t *testing.T) {
	e := gridtest.Table(t).Current()
	g := gridtest.Sample(t, 16, 12)
	tx, err := Begin(t.TempDir(), g, e, 0)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	for x := 0; x < 16; x++ {
		for y := 0; y < 12; y++ {
			_ = tx.RecordCell(x, y, g.Tile(x, y))
		}
	}
	s, err := tx.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for _, n := range []int{0, 6, 40, len(raw) / 2, len(raw) - 2, len(raw)} {
		src := io.MultiReader(bytes.NewReader(raw[:n]), iotest.ErrReader(syscall.EIO))
		_, err := decodeTranscript(wire.NewReader(src), e)
		if !fault.IsIO(err) || fault.IsFormat(err) || !errors.Is(err, syscall.EIO) {
			t.Fatalf("device error after %d bytes: err=%v", n, err)
		}
		if n == len(raw) {
			continue
		}
		_, err = decodeTranscript(wire.NewReader(bytes.NewReader(raw[:n])), e)
		if !fault.IsFormat(err) || !errors.Is(err, fault.ErrTruncated) {
			t.Fatalf("cut after %d bytes: err=%v", n, err)
		}
	}
}

func TestUndoKeepsStepOnDeviceError(t *testing.T) {
	ctx := context.Background()
	h := newHistory(t, Options{})
	g := gridtest.New(t, 4, 4)
	edit(t, h, g, func(set func(int, int, tile.Tile)) { set(1, 1, tile.Tile{Wall: 3}) })
	path := transcriptFiles(t, h.dir)[0]

	// A directory opens fine but fails every read.
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(path, 0o755); err != nil {
		t.Fatal(err)
	}
	if ok, err := h.Undo(ctx, g); ok || !fault.IsIO(err) {
		t.Fatalf("Undo over unreadable transcript: %v %v", ok, err)
	}
	if !h.CanUndo() || g.Tile(1, 1).Wall != 3 {
		t.Fatalf("device error dropped the step or touched the grid")
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if ok, err := h.Undo(ctx, g); ok || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Undo over missing transcript: %v %v", ok, err)
	}
	if h.CanUndo() {
		t.Fatalf("missing transcript kept its step")
	}
}
