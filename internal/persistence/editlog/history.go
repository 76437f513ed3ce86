package editlog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"tileworks.dev/internal/fault"
	"tileworks.dev/internal/persistence/indexdb"
	"tileworks.dev/internal/persistence/journal"
	"tileworks.dev/internal/sim/grid"
	"tileworks.dev/internal/sim/versions"
)

// DefaultMaxEntries bounds each of the undo and redo stacks.
const DefaultMaxEntries = 100

// Transaction states reported to the index.
const (
	StateCommitted = "committed"
	StateUndone    = "undone"
	StateRedone    = "redone"
	StateTrimmed   = "trimmed"
	StateDiscarded = "discarded"
)

type TransactionRecorder interface {
	RecordTransaction(indexdb.TransactionRow)
}

type EventRecorder interface {
	Record(journal.Entry) error
}

type Options struct {
	Dir            string
	MaxEntries     int
	FlushThreshold int
	Log            logrus.FieldLogger
	Index          TransactionRecorder
	Journal        EventRecorder
}

// item is one undoable (or redoable) step. ID stays the same as the step moves
// between stacks; Path changes because every move writes a new transcript.
type item struct {
	ID       string
	Tool     string
	Path     string
	Cells    int
	Entities int
	At       time.Time
}

// History owns the undo and redo stacks of one grid.
type History struct {
	mu sync.Mutex

	e         *versions.Entry
	dir       string
	max       int
	threshold int
	log       logrus.FieldLogger
	index     TransactionRecorder
	journal   EventRecorder

	undoStack []*item
	redoStack []*item
	tools     map[*Transaction]string
}

func NewHistory(e *versions.Entry, opts Options) (*History, error) {
	if e == nil {
		return nil, fmt.Errorf("editlog: nil version entry")
	}
	if opts.Dir == "" {
		return nil, fmt.Errorf("editlog: empty transcript dir")
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fault.IO("mkdir", opts.Dir, err)
	}
	return &History{
		e:         e,
		dir:       opts.Dir,
		max:       opts.MaxEntries,
		threshold: opts.FlushThreshold,
		log:       opts.Log.WithField("component", "editlog"),
		index:     opts.Index,
		journal:   opts.Journal,
		tools:     map[*Transaction]string{},
	}, nil
}

// Begin opens a transaction for an edit made by tool.
func (h *History) Begin(g *grid.Grid, tool string) (*Transaction, error) {
	tx, err := Begin(h.dir, g, h.e, h.threshold)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.tools[tx] = tool
	h.mu.Unlock()
	return tx, nil
}

// Commit closes tx and pushes it on the undo stack, clearing the redo stack.
// A transaction that recorded nothing is discarded and reports false.
func (h *History) Commit(tx *Transaction) (bool, error) {
	h.mu.Lock()
	tool := h.tools[tx]
	delete(h.tools, tx)
	h.mu.Unlock()

	if tx.Cells() == 0 {
		return false, tx.Abort()
	}
	s, err := tx.Commit()
	if err != nil {
		return false, err
	}
	it := &item{ID: s.ID, Tool: tool, Path: s.Path, Cells: s.Cells, Entities: s.Entities, At: time.Now()}

	h.mu.Lock()
	dropped := h.redoStack
	h.redoStack = nil
	h.undoStack = append(h.undoStack, it)
	trimmed := h.trimLocked(&h.undoStack)
	h.mu.Unlock()

	for _, d := range dropped {
		h.remove(d, StateDiscarded)
	}
	for _, d := range trimmed {
		h.remove(d, StateTrimmed)
	}
	h.report(it, StateCommitted, journal.ActionCommit)
	return true, nil
}

// Abort discards tx.
func (h *History) Abort(tx *Transaction) error {
	h.mu.Lock()
	tool := h.tools[tx]
	delete(h.tools, tx)
	h.mu.Unlock()
	if h.journal != nil {
		if err := h.journal.Record(journal.Entry{Action: journal.ActionAbort, Transaction: tx.ID(), Tool: tool}); err != nil {
			h.log.WithError(err).Warn("journal write failed")
		}
	}
	return tx.Abort()
}

// Undo reverts the most recent step. It reports false when there is nothing to undo.
func (h *History) Undo(ctx context.Context, g *grid.Grid) (bool, error) {
	return h.step(ctx, g, &h.undoStack, &h.redoStack, StateUndone, journal.ActionUndo)
}

// Redo reapplies the most recently undone step.
func (h *History) Redo(ctx context.Context, g *grid.Grid) (bool, error) {
	return h.step(ctx, g, &h.redoStack, &h.undoStack, StateRedone, journal.ActionRedo)
}

func (h *History) step(ctx context.Context, g *grid.Grid, from, to *[]*item, state string, action journal.Action) (bool, error) {
	h.mu.Lock()
	if len(*from) == 0 {
		h.mu.Unlock()
		return false, nil
	}
	it := (*from)[len(*from)-1]
	*from = (*from)[:len(*from)-1]
	h.mu.Unlock()

	restore := func() {
		h.mu.Lock()
		*from = append(*from, it)
		h.mu.Unlock()
	}

	tr, err := ReadTranscript(it.Path, h.e)
	if err != nil {
		if fault.IsIO(err) && !errors.Is(err, fs.ErrNotExist) {
			restore()
			return false, err
		}
		// A corrupt or missing transcript can never be applied; drop it.
		h.remove(it, StateDiscarded)
		return false, err
	}
	inv, err := Begin(h.dir, g, h.e, h.threshold)
	if err != nil {
		restore()
		return false, err
	}
	skipped, err := tr.Apply(ctx, g, inv)
	if err != nil {
		h.rollback(g, inv)
		restore()
		return false, err
	}
	for _, s := range skipped {
		h.log.WithError(s).WithField("transaction", it.ID).Warn("entity could not be restored")
	}
	sum, err := inv.Commit()
	if err != nil {
		// The grid already holds the applied state; without an inverse the
		// step cannot be reversed again.
		h.remove(it, StateDiscarded)
		return false, err
	}

	old := it.Path
	moved := &item{ID: it.ID, Tool: it.Tool, Path: sum.Path, Cells: sum.Cells, Entities: sum.Entities, At: time.Now()}
	h.mu.Lock()
	*to = append(*to, moved)
	trimmed := h.trimLocked(to)
	h.mu.Unlock()

	if err := os.Remove(old); err != nil && !os.IsNotExist(err) {
		h.log.WithError(err).WithField("path", old).Warn("remove transcript failed")
	}
	for _, d := range trimmed {
		h.remove(d, StateTrimmed)
	}
	h.report(moved, state, action)
	return true, nil
}

// rollback puts back the cells inv has recorded so far.
func (h *History) rollback(g *grid.Grid, inv *Transaction) {
	sum, err := inv.Commit()
	if err != nil {
		h.log.WithError(err).Error("rollback: commit of partial inverse failed")
		return
	}
	defer os.Remove(sum.Path)
	tr, err := ReadTranscript(sum.Path, h.e)
	if err != nil {
		h.log.WithError(err).Error("rollback: read of partial inverse failed")
		return
	}
	if _, err := tr.Apply(context.Background(), g, nil); err != nil {
		h.log.WithError(err).Error("rollback: apply failed")
	}
}

// trimLocked drops the oldest entries above the cap and returns them.
func (h *History) trimLocked(stack *[]*item) []*item {
	excess := len(*stack) - h.max
	if excess <= 0 {
		return nil
	}
	out := append([]*item(nil), (*stack)[:excess]...)
	*stack = append([]*item(nil), (*stack)[excess:]...)
	return out
}

func (h *History) remove(it *item, state string) {
	if err := os.Remove(it.Path); err != nil && !os.IsNotExist(err) {
		h.log.WithError(err).WithField("path", it.Path).Warn("remove transcript failed")
	}
	if h.index != nil {
		h.index.RecordTransaction(indexdb.TransactionRow{ID: it.ID, Tool: it.Tool, State: state, Cells: it.Cells, Entities: it.Entities, Path: it.Path})
	}
}

func (h *History) report(it *item, state string, action journal.Action) {
	h.log.WithFields(logrus.Fields{
		"transaction": it.ID,
		"tool":        it.Tool,
		"cells":       it.Cells,
		"state":       state,
	}).Debug("edit history step")
	if h.index != nil {
		h.index.RecordTransaction(indexdb.TransactionRow{ID: it.ID, Tool: it.Tool, State: state, Cells: it.Cells, Entities: it.Entities, Path: it.Path})
	}
	if h.journal != nil {
		if err := h.journal.Record(journal.Entry{Action: action, Transaction: it.ID, Tool: it.Tool, Cells: it.Cells, Entities: it.Entities}); err != nil {
			h.log.WithError(err).Warn("journal write failed")
		}
	}
}

func (h *History) CanUndo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.undoStack) > 0
}

func (h *History) CanRedo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.redoStack) > 0
}

func (h *History) UndoCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.undoStack)
}

func (h *History) RedoCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.redoStack)
}

// Clear empties both stacks and deletes their transcripts.
func (h *History) Clear() {
	h.mu.Lock()
	all := append(h.undoStack, h.redoStack...)
	h.undoStack, h.redoStack = nil, nil
	h.mu.Unlock()
	for _, it := range all {
		h.remove(it, StateDiscarded)
	}
}
