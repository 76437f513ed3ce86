// Package journal keeps a compressed, append-only record of edit history events.
// The undo transcripts are the source of truth for content; the journal answers
// "what happened when" after the transcripts have been trimmed away.
package journal

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"tileworks.dev/internal/fault"
)

type Action string

const (
	ActionCommit Action = "commit"
	ActionAbort  Action = "abort"
	ActionUndo   Action = "undo"
	ActionRedo   Action = "redo"
	ActionSave   Action = "save"
	ActionLoad   Action = "load"
)

type Entry struct {
	Time        string `json:"time"`
	Action      Action `json:"action"`
	Transaction string `json:"transaction,omitempty"`
	Tool        string `json:"tool,omitempty"`
	Cells       int    `json:"cells,omitempty"`
	Entities    int    `json:"entities,omitempty"`
	Path        string `json:"path,omitempty"`
	Version     int32  `json:"version,omitempty"`
}

// EditLogger appends edit events as JSON lines to dir/journal, one
// zstd-compressed file per UTC hour. It is safe for concurrent use. A nil
// EditLogger drops everything.
type EditLogger struct {
	dir string
	now func() time.Time

	mu   sync.Mutex
	hour string
	f    *os.File
	zw   *zstd.Encoder
	enc  *json.Encoder
}

func NewEditLogger(dir string) *EditLogger {
	return &EditLogger{dir: filepath.Join(dir, "journal"), now: time.Now}
}

// Record stamps e with the current time when it has none and appends it to
// the file for the current hour. Each entry is flushed as its own zstd block.
func (l *EditLogger) Record(e Entry) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	if e.Time == "" {
		e.Time = now.Format(time.RFC3339Nano)
	}
	if hour := now.Format(hourLayout); hour != l.hour {
		if err := l.openLocked(hour); err != nil {
			return err
		}
	}
	if err := l.enc.Encode(e); err != nil {
		return fault.IO("write", l.f.Name(), err)
	}
	if err := l.zw.Flush(); err != nil {
		return fault.IO("write", l.f.Name(), err)
	}
	return nil
}

func (l *EditLogger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked()
}

const hourLayout = "20060102-15"

// openLocked closes the current file and appends a new zstd frame to the
// file for hour.
func (l *EditLogger) openLocked(hour string) error {
	if err := l.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fault.IO("mkdir", l.dir, err)
	}
	path := filepath.Join(l.dir, "edits-"+hour+".jsonl.zst")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fault.IO("open", path, err)
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	l.f, l.zw, l.enc, l.hour = f, zw, json.NewEncoder(zw), hour
	return nil
}

func (l *EditLogger) closeLocked() error {
	if l.f == nil {
		return nil
	}
	path := l.f.Name()
	err := l.zw.Close()
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f, l.zw, l.enc, l.hour = nil, nil, nil, ""
	if err != nil {
		return fault.IO("close", path, err)
	}
	return nil
}

// ReadDir decodes every journal file under dir/journal in file name order.
func ReadDir(dir string, fn func(Entry) error) error {
	files, err := filepath.Glob(filepath.Join(dir, "journal", "edits-*.jsonl.zst"))
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, p := range files {
		if err := readFile(p, fn); err != nil {
			return err
		}
	}
	return nil
}

func readFile(path string, fn func(Entry) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return sc.Err()
}
