// Package editor puts one grid, its edit history and a clipboard behind a
// single lock so tools can edit while readers observe the grid between edits.
package editor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"tileworks.dev/internal/persistence/editlog"
	"tileworks.dev/internal/sim/grid"
	"tileworks.dev/internal/sim/region"
	"tileworks.dev/internal/sim/tile"
)

var (
	ErrTransactionOpen = errors.New("an edit transaction is already open")
	ErrNoTransaction   = errors.New("no edit transaction is open")
	ErrEmptyClipboard  = errors.New("clipboard is empty")
)

// TileSource is the cell access tools work through.
type TileSource interface {
	Width() int
	Height() int
	Tile(x, y int) tile.Tile
	SetTile(x, y int, t tile.Tile) error
}

// EditLog groups cell changes into undoable transactions.
type EditLog interface {
	Begin(tool string) error
	RecordCell(x, y int, prior tile.Tile) error
	Commit() (bool, error)
	Abort() error
	Undo(ctx context.Context) (bool, error)
	Redo(ctx context.Context) (bool, error)
}

// RegionTransfer is the copy/paste surface.
type RegionTransfer interface {
	Capture(r region.Rect) (*region.Buffer, error)
	Paste(at grid.Point, opts region.PasteOptions) (region.PasteResult, error)
}

var (
	_ TileSource     = (*Session)(nil)
	_ EditLog        = (*Session)(nil)
	_ RegionTransfer = (*Session)(nil)
)

// Session owns the grid while it is being edited. At most one transaction is
// open at a time; every mutation goes through it.
type Session struct {
	mu sync.RWMutex

	g    *grid.Grid
	hist *editlog.History
	log  logrus.FieldLogger

	tx   *editlog.Transaction
	tool string
	clip *region.Buffer
}

func NewSession(g *grid.Grid, hist *editlog.History, log logrus.FieldLogger) *Session {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Session{g: g, hist: hist, log: log.WithField("component", "editor")}
}

// View runs fn with the grid under the read lock. fn must not keep g.
func (s *Session) View(fn func(g *grid.Grid)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.g)
}

func (s *Session) Width() int  { return s.g.Width() }
func (s *Session) Height() int { return s.g.Height() }

func (s *Session) Tile(x, y int) tile.Tile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.g.Tile(x, y)
}

// SetTile records the cell's prior content in the open transaction and writes t.
func (s *Session) SetTile(x, y int, t tile.Tile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return ErrNoTransaction
	}
	if err := s.tx.RecordCell(x, y, s.g.Tile(x, y)); err != nil {
		return err
	}
	s.g.SetTile(x, y, t)
	return nil
}

func (s *Session) Begin(tool string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.beginLocked(tool)
}

func (s *Session) beginLocked(tool string) error {
	if s.tx != nil {
		return ErrTransactionOpen
	}
	tx, err := s.hist.Begin(s.g, tool)
	if err != nil {
		return err
	}
	s.tx, s.tool = tx, tool
	return nil
}

func (s *Session) RecordCell(x, y int, prior tile.Tile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return ErrNoTransaction
	}
	return s.tx.RecordCell(x, y, prior)
}

// Commit closes the open transaction. It reports false when nothing changed.
func (s *Session) Commit() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked()
}

func (s *Session) commitLocked() (bool, error) {
	if s.tx == nil {
		return false, ErrNoTransaction
	}
	tx := s.tx
	s.tx, s.tool = nil, ""
	return s.hist.Commit(tx)
}

// Abort discards the open transaction. Changes already written to the grid stay;
// callers that need them gone commit and undo instead.
func (s *Session) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx, s.tool = nil, ""
	return s.hist.Abort(tx)
}

func (s *Session) Undo(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		return false, ErrTransactionOpen
	}
	return s.hist.Undo(ctx, s.g)
}

func (s *Session) Redo(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		return false, ErrTransactionOpen
	}
	return s.hist.Redo(ctx, s.g)
}

func (s *Session) CanUndo() bool { return s.hist.CanUndo() }
func (s *Session) CanRedo() bool { return s.hist.CanRedo() }

// Capture copies r into the clipboard and returns it.
func (s *Session) Capture(r region.Rect) (*region.Buffer, error) {
	s.mu.RLock()
	b, err := region.Capture(s.g, r)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if len(b.Partial) > 0 {
		s.log.WithFields(logrus.Fields{"rect": r.String(), "partial": len(b.Partial)}).
			Warn("structures crossing the selection edge were not copied")
	}
	s.mu.Lock()
	s.clip = b
	s.mu.Unlock()
	return b, nil
}

// SetClipboard replaces the clipboard, e.g. with a loaded schematic.
func (s *Session) SetClipboard(b *region.Buffer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clip = b
}

func (s *Session) Clipboard() *region.Buffer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clip
}

// Paste writes the clipboard at at. Inside an open transaction the paste joins
// it; otherwise it runs as a transaction of its own.
func (s *Session) Paste(at grid.Point, opts region.PasteOptions) (region.PasteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clip == nil {
		return region.PasteResult{}, ErrEmptyClipboard
	}
	own := s.tx == nil
	if own {
		if err := s.beginLocked("paste"); err != nil {
			return region.PasteResult{}, err
		}
	}
	res, err := s.clip.Paste(s.g, at, opts, s.tx)
	if err != nil {
		if own {
			// Keep what was written undoable.
			if _, cerr := s.commitLocked(); cerr != nil {
				s.log.WithError(cerr).Error("commit of failed paste")
			}
		}
		return res, fmt.Errorf("paste at %s: %w", at, err)
	}
	for _, sk := range res.Skipped {
		s.log.WithError(sk).Warn("pasted entity skipped")
	}
	if own {
		if _, err := s.commitLocked(); err != nil {
			return res, err
		}
	}
	return res, nil
}

// Apply runs tool at each point inside one transaction tagged with the tool's name.
func (s *Session) Apply(tool Tool, points ...grid.Point) (bool, error) {
	if err := s.Begin(tool.Name()); err != nil {
		return false, err
	}
	for _, p := range points {
		if err := tool.Apply(s, p); err != nil {
			if _, cerr := s.Commit(); cerr != nil {
				s.log.WithError(cerr).Error("commit after failed tool")
			}
			return false, fmt.Errorf("%s at %s: %w", tool.Name(), p, err)
		}
	}
	return s.Commit()
}
