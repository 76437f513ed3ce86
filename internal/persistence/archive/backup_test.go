package archive

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestBackupRestore(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "w1.twld")
	want := []byte("TWLD world bytes")
	if err := os.WriteFile(src, want, 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}

	dst, ok, err := Backup(filepath.Join(dir, "backups"), src, BackupMeta{Version: 279, Title: "w1", Width: 4, Height: 4})
	if err != nil || !ok {
		t.Fatalf("backup: ok=%v err=%v", ok, err)
	}
	if !IsBackup(dst) {
		t.Fatalf("unexpected backup name %q", dst)
	}
	meta, err := ReadMeta(dst)
	if err != nil {
		t.Fatalf("read meta: %v", err)
	}
	if meta.Bytes != int64(len(want)) || meta.Version != 279 || meta.Source != src {
		t.Fatalf("meta mismatch: %+v", meta)
	}

	out := filepath.Join(dir, "restored.twld")
	if err := Restore(dst, out); err != nil {
		t.Fatalf("restore: %v", err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read restored: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("restored content mismatch: got=%q want=%q", got, want)
	}
}

func TestBackupMissingSource(t *testing.T) {
	dir := t.TempDir()
	_, ok, err := Backup(dir, filepath.Join(dir, "nope.twld"), BackupMeta{})
	if err != nil || ok {
		t.Fatalf("ok=%v err=%v want false,nil", ok, err)
	}
}

func TestPruneKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "w.twld")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}
	bdir := filepath.Join(dir, "b")
	var made []string
	for i := 0; i < 4; i++ {
		p, _, err := Backup(bdir, src, BackupMeta{})
		if err != nil {
			t.Fatalf("backup %d: %v", i, err)
		}
		made = append(made, p)
		time.Sleep(2 * time.Millisecond)
	}
	removed, err := Prune(bdir, "w.twld", 2)
	if err != nil || removed != 2 {
		t.Fatalf("removed=%d err=%v", removed, err)
	}
	left, _ := List(bdir, "w.twld")
	if len(left) != 2 || left[0] != made[3] || left[1] != made[2] {
		t.Fatalf("left=%v", left)
	}
}
