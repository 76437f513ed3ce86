package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

const metaSuffix = ".meta.json"

// BackupMeta describes a world file copied aside before it was overwritten.
type BackupMeta struct {
	Source    string `json:"source"`
	Backup    string `json:"backup"`
	Version   int32  `json:"version"`
	Title     string `json:"title"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Bytes     int64  `json:"bytes"`
	CreatedAt string `json:"created_at"`
}

// Backup compresses src into `dir/<name>.<stamp>.bak.zst` and writes a sidecar
// meta file. A missing src is not an error: there is nothing to back up yet.
func Backup(dir, src string, meta BackupMeta) (string, bool, error) {
	in, err := os.Open(src)
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	defer in.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, err
	}
	now := time.Now().UTC()
	dst := filepath.Join(dir, fmt.Sprintf("%s.%s.bak.zst", filepath.Base(src), now.Format("20060102T150405.000000000")))
	n, err := compressFile(in, dst)
	if err != nil {
		_ = os.Remove(dst)
		return "", false, err
	}

	meta.Source = src
	meta.Backup = filepath.Base(dst)
	meta.Bytes = n
	meta.CreatedAt = now.Format(time.RFC3339Nano)
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(dst+metaSuffix, b, 0o644)
	}
	return dst, true, nil
}

func compressFile(in io.Reader, dst string) (int64, error) {
	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	defer func() { _ = out.Close() }()

	enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(enc, in)
	if err != nil {
		_ = enc.Close()
		return 0, err
	}
	if err := enc.Close(); err != nil {
		return 0, err
	}
	return n, out.Close()
}

// Restore decompresses a backup into dst.
func Restore(backup, dst string) error {
	in, err := os.Open(backup)
	if err != nil {
		return err
	}
	defer in.Close()
	dec, err := zstd.NewReader(in)
	if err != nil {
		return err
	}
	defer dec.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()
	if _, err := io.Copy(out, dec); err != nil {
		return err
	}
	return out.Close()
}

// List returns the backups of the world file named name, newest first.
func List(dir, name string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, name+".*.bak.zst"))
	if err != nil {
		return nil, err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	return matches, nil
}

// ReadMeta loads the sidecar written next to a backup.
func ReadMeta(backup string) (BackupMeta, error) {
	var m BackupMeta
	b, err := os.ReadFile(backup + metaSuffix)
	if err != nil {
		return m, err
	}
	return m, json.Unmarshal(b, &m)
}

// Prune keeps the newest keep backups of name and removes the rest.
func Prune(dir, name string, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	all, err := List(dir, name)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, p := range all[min(keep, len(all)):] {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		_ = os.Remove(p + metaSuffix)
		removed++
	}
	return removed, nil
}

// IsBackup reports whether path names a backup file.
func IsBackup(path string) bool { return strings.HasSuffix(path, ".bak.zst") }
