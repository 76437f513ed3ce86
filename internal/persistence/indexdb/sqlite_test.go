package indexdb

import (
	"context"
	"path/filepath"
	"testing"
)

func TestSQLiteIndex_RecordsAndQueries(t *testing.T) {
	ctx := context.Background()
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "index.sqlite"), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer idx.Close()

	idx.RecordSave(SaveRow{Path: "/w/a.twld", Version: 279, Title: "a", Width: 10, Height: 5, Bytes: 123, Containers: 1})
	idx.RecordSave(SaveRow{Path: "/w/b.twld", Version: 248, Title: "b", Width: 1, Height: 1, Bytes: 40})
	idx.RecordTransaction(TransactionRow{ID: "t1", Tool: "pencil", State: "committed", Cells: 4, Path: "/u/t1.undo"})
	idx.RecordTransaction(TransactionRow{ID: "t1", Tool: "pencil", State: "undone", Cells: 4, Path: "/u/t1.undo"})
	if err := idx.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	saves, err := idx.Saves(ctx, "", 10)
	if err != nil {
		t.Fatalf("saves: %v", err)
	}
	if len(saves) != 2 || saves[0].Path != "/w/b.twld" || saves[1].Containers != 1 {
		t.Fatalf("saves=%+v", saves)
	}
	only, err := idx.Saves(ctx, "/w/a.twld", 10)
	if err != nil || len(only) != 1 || only[0].Version != 279 {
		t.Fatalf("filtered saves=%+v err=%v", only, err)
	}

	tr, ok, err := idx.Transaction(ctx, "t1")
	if err != nil || !ok {
		t.Fatalf("transaction: ok=%v err=%v", ok, err)
	}
	if tr.State != "undone" || tr.Cells != 4 {
		t.Fatalf("transaction=%+v", tr)
	}
	if _, ok, _ := idx.Transaction(ctx, "missing"); ok {
		t.Fatalf("found a missing transaction")
	}
	undone, err := idx.Transactions(ctx, "undone", 0)
	if err != nil || len(undone) != 1 {
		t.Fatalf("undone=%+v err=%v", undone, err)
	}
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqSave}

	s.RecordSave(SaveRow{Path: "x"})
	s.RecordTransaction(TransactionRow{ID: "y"})

	st := s.Stats()
	if st.DropSaveTotal != 1 {
		t.Fatalf("DropSaveTotal=%d want=1", st.DropSaveTotal)
	}
	if st.DropTransactionTotal != 1 {
		t.Fatalf("DropTransactionTotal=%d want=1", st.DropTransactionTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_NilIsNoop(t *testing.T) {
	var s *SQLiteIndex
	s.RecordSave(SaveRow{})
	s.RecordTransaction(TransactionRow{})
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("flush on nil: %v", err)
	}
}
