// Package editlog records the prior content of edited cells to disk so edits can
// be undone and redone.
//
// A transcript file is
//
//	cells u32 | version i32 | (x i32, y i32, tile record)* | section C | section S | section F
//
// where each tile record carries a repeat count covering (x, y) .. (x, y+repeat-1),
// and cells is the total number of cells those records cover.
package editlog

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/google/uuid"

	"tileworks.dev/internal/fault"
	"tileworks.dev/internal/sim/grid"
	"tileworks.dev/internal/sim/io/entitycodec"
	"tileworks.dev/internal/sim/io/tilecodec"
	"tileworks.dev/internal/sim/io/wire"
	"tileworks.dev/internal/sim/tile"
	"tileworks.dev/internal/sim/versions"
)

// FlushThreshold is the default number of pending records that triggers a write.
const FlushThreshold = 10000

const fileExt = ".undo"

var ErrClosed = errors.New("transaction already committed or aborted")

type record struct {
	x, y   int
	t      tile.Tile
	repeat int
}

// Summary describes a committed transcript.
type Summary struct {
	ID       string
	Path     string
	Cells    int
	Entities int
}

// Transaction collects prior cell contents for one edit. It is safe for
// concurrent use; each transaction has its own lock.
type Transaction struct {
	mu sync.Mutex

	id        string
	path      string
	g         *grid.Grid
	e         *versions.Entry
	threshold int

	f       *os.File
	bw      *bufio.Writer
	w       *wire.Writer
	started bool
	done    bool

	seen     *bitset.BitSet
	batch    []record
	buf      []byte
	cells    int
	entities entitycodec.List
}

var _ grid.CellRecorder = (*Transaction)(nil)

// Begin opens a new transcript in dir for edits to g.
func Begin(dir string, g *grid.Grid, e *versions.Entry, threshold int) (*Transaction, error) {
	if threshold <= 0 {
		threshold = FlushThreshold
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fault.IO("mkdir", dir, err)
	}
	id := uuid.New().String()
	path := filepath.Join(dir, id+fileExt)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fault.IO("create", path, err)
	}
	bw := bufio.NewWriterSize(f, 64*1024)
	return &Transaction{
		id:        id,
		path:      path,
		g:         g,
		e:         e,
		threshold: threshold,
		f:         f,
		bw:        bw,
		w:         wire.NewWriter(bw),
		seen:      bitset.New(uint(g.Cells())),
	}, nil
}

func (tx *Transaction) ID() string   { return tx.id }
func (tx *Transaction) Path() string { return tx.path }

// Cells is the number of distinct cells recorded so far.
func (tx *Transaction) Cells() int {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.cells
}

// RecordCell stores the content of (x, y) before its first change in this
// transaction. Later calls for the same cell are ignored, as are cells outside
// the grid. Whatever is anchored at the cell is captured along with it.
func (tx *Transaction) RecordCell(x, y int, prior tile.Tile) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return ErrClosed
	}
	if !tx.g.InBounds(x, y) {
		return nil
	}
	tx.startLocked()
	idx := uint(x*tx.g.Height() + y)
	if tx.seen.Test(idx) {
		return nil
	}
	if err := tilecodec.CheckRange(prior, tx.e); err != nil {
		return fmt.Errorf("record cell (%d,%d): %w", x, y, err)
	}
	tx.seen.Set(idx)
	tx.cells++

	at := grid.Point{X: x, Y: y}
	if ents := tx.g.EntitiesAt(at); !ents.IsEmpty() {
		tx.entities = append(tx.entities, entitycodec.Entry{At: at, Entities: ents})
	}

	if n := len(tx.batch); n > 0 {
		last := &tx.batch[n-1]
		if last.x == x && last.y+last.repeat == y && last.repeat < tilecodec.MaxRun && tile.Equal(last.t, prior, tx.e.IsFrameImportant) {
			last.repeat++
			return nil
		}
	}
	tx.batch = append(tx.batch, record{x: x, y: y, t: prior, repeat: 1})
	if len(tx.batch) > tx.threshold {
		return tx.flushLocked()
	}
	return nil
}

func (tx *Transaction) startLocked() {
	if tx.started {
		return
	}
	tx.started = true
	tx.w.U32(0) // patched on commit
	tx.w.I32(tx.e.Version)
}

func (tx *Transaction) flushLocked() error {
	tx.startLocked()
	for _, r := range tx.batch {
		tx.w.I32(int32(r.x))
		tx.w.I32(int32(r.y))
		tx.buf = tilecodec.Encode(tx.buf[:0], r.t, tx.e, r.repeat)
		tx.w.Bytes(tx.buf)
	}
	tx.batch = tx.batch[:0]
	if err := tx.w.Err(); err != nil {
		return fault.IO("write", tx.path, err)
	}
	return nil
}

// Pending is the number of records not yet written to disk.
func (tx *Transaction) Pending() int {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return len(tx.batch)
}

// Commit writes everything still pending, patches the cell count and closes
// the file.
func (tx *Transaction) Commit() (Summary, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return Summary{}, ErrClosed
	}
	tx.done = true

	fail := func(err error) (Summary, error) {
		_ = tx.f.Close()
		_ = os.Remove(tx.path)
		return Summary{}, err
	}
	if err := tx.flushLocked(); err != nil {
		return fail(err)
	}
	if err := entitycodec.Write(tx.w, sortEntries(tx.entities), tx.e); err != nil {
		return fail(err)
	}
	if err := tx.bw.Flush(); err != nil {
		return fail(fault.IO("write", tx.path, err))
	}
	var count [4]byte
	binary.LittleEndian.PutUint32(count[:], uint32(tx.cells))
	if _, err := tx.f.WriteAt(count[:], 0); err != nil {
		return fail(fault.IO("write", tx.path, err))
	}
	if err := tx.f.Close(); err != nil {
		_ = os.Remove(tx.path)
		return Summary{}, fault.IO("close", tx.path, err)
	}
	return Summary{ID: tx.id, Path: tx.path, Cells: tx.cells, Entities: len(tx.entities)}, nil
}

// Abort closes and deletes the transcript.
func (tx *Transaction) Abort() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return nil
	}
	tx.done = true
	_ = tx.f.Close()
	if err := os.Remove(tx.path); err != nil && !os.IsNotExist(err) {
		return fault.IO("remove", tx.path, err)
	}
	return nil
}
