package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// SQLiteIndex is a queryable read model of saves and edit transactions. Writes
// are queued and applied by one goroutine; a full queue drops the write since the
// world files and the journal remain the source of truth.
type SQLiteIndex struct {
	db  *sql.DB
	log logrus.FieldLogger

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropSave atomic.Uint64
	dropTx   atomic.Uint64
}

type reqKind int

const (
	reqSave reqKind = iota + 1
	reqTransaction
	reqFlush
)

type req struct {
	kind reqKind

	save  SaveRow
	tx    TransactionRow
	flush chan struct{}
}

// SaveRow is one completed world file write.
type SaveRow struct {
	Path       string
	Version    int32
	Title      string
	Width      int
	Height     int
	Bytes      int64
	Containers int
	Signs      int
	Fixtures   int
	Backup     string
	SavedAt    string
}

// TransactionRow tracks one edit transaction through its lifetime.
type TransactionRow struct {
	ID        string
	Tool      string
	State     string
	Cells     int
	Entities  int
	Path      string
	UpdatedAt string
}

type Stats struct {
	DropSaveTotal        uint64
	DropTransactionTotal uint64
	QueueDepth           int
	QueueCapacity        int
}

func OpenSQLite(path string, log logrus.FieldLogger) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db:  db,
		log: log,
		ch:  make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS saves (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			path TEXT NOT NULL,
			version INTEGER NOT NULL,
			title TEXT NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			bytes INTEGER NOT NULL,
			containers INTEGER NOT NULL,
			signs INTEGER NOT NULL,
			fixtures INTEGER NOT NULL,
			backup TEXT,
			saved_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_saves_path ON saves(path, id);`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			tool TEXT NOT NULL,
			state TEXT NOT NULL,
			cells INTEGER NOT NULL,
			entities INTEGER NOT NULL,
			path TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_updated ON transactions(updated_at);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func now() string { return time.Now().UTC().Format(time.RFC3339Nano) }

// RecordSave queues a save row.
func (s *SQLiteIndex) RecordSave(r SaveRow) {
	if s == nil || s.closed.Load() {
		return
	}
	if r.SavedAt == "" {
		r.SavedAt = now()
	}
	select {
	case s.ch <- req{kind: reqSave, save: r}:
	default:
		s.dropSave.Add(1)
	}
}

// RecordTransaction queues an upsert of a transaction's state.
func (s *SQLiteIndex) RecordTransaction(r TransactionRow) {
	if s == nil || s.closed.Load() {
		return
	}
	if r.UpdatedAt == "" {
		r.UpdatedAt = now()
	}
	select {
	case s.ch <- req{kind: reqTransaction, tx: r}:
	default:
		s.dropTx.Add(1)
	}
}

// Flush blocks until every write queued before it is committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, flush: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		DropSaveTotal:        s.dropSave.Load(),
		DropTransactionTotal: s.dropTx.Load(),
		QueueDepth:           len(s.ch),
		QueueCapacity:        cap(s.ch),
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertSave, _ := s.db.Prepare(`INSERT INTO saves(path,version,title,width,height,bytes,containers,signs,fixtures,backup,saved_at) VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
	upsertTx, _ := s.db.Prepare(`INSERT INTO transactions(id,tool,state,cells,entities,path,updated_at) VALUES(?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET state=excluded.state, cells=excluded.cells, entities=excluded.entities, updated_at=excluded.updated_at`)
	defer func() {
		if insertSave != nil {
			_ = insertSave.Close()
		}
		if upsertTx != nil {
			_ = upsertTx.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 256
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.log.WithError(err).Warn("indexdb: begin failed")
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.log.WithError(err).Warn("indexdb: commit failed")
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func(err error) {
		s.log.WithError(err).Warn("indexdb: write failed, rolling back batch")
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		if r.kind == reqFlush {
			commit()
			close(r.flush)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqSave:
			sv := r.save
			if insertSave != nil {
				if _, err := tx.Stmt(insertSave).Exec(
					sv.Path, sv.Version, sv.Title, sv.Width, sv.Height, sv.Bytes,
					sv.Containers, sv.Signs, sv.Fixtures, sv.Backup, sv.SavedAt,
				); err != nil {
					rollback(err)
					continue
				}
				opCount++
			}
		case reqTransaction:
			t := r.tx
			if upsertTx != nil {
				if _, err := tx.Stmt(upsertTx).Exec(t.ID, t.Tool, t.State, t.Cells, t.Entities, t.Path, t.UpdatedAt); err != nil {
					rollback(err)
					continue
				}
				opCount++
			}
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	commit()
}
