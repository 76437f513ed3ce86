package offsite

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
)

func TestPutFileSignsRequest(t *testing.T) {
	var (
		gotPath, gotAuth, gotHash string
		gotBody                   []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotAuth = r.Header.Get("Authorization")
		gotHash = r.Header.Get("x-amz-content-sha256")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewClient(Credentials{Endpoint: srv.URL, Bucket: "worlds", AccessKeyID: "AK", SecretAccessKey: "SK"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	c.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	src := filepath.Join(t.TempDir(), "a world.twld")
	if err := os.WriteFile(src, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := c.PutFile(context.Background(), "/backups/a world.twld", src); err != nil {
		t.Fatalf("PutFile: %v", err)
	}
	if gotPath != "/worlds/backups/a%20world.twld" {
		t.Fatalf("path=%q", gotPath)
	}
	if string(gotBody) != "hello" {
		t.Fatalf("body=%q", gotBody)
	}
	if gotHash != "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824" {
		t.Fatalf("payload hash=%q", gotHash)
	}
	if !strings.HasPrefix(gotAuth, "AWS4-HMAC-SHA256 Credential=AK/20240501/auto/s3/aws4_request, SignedHeaders=host;x-amz-content-sha256;x-amz-date, Signature=") {
		t.Fatalf("auth=%q", gotAuth)
	}
}

func TestPutFileReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "AccessDenied", http.StatusForbidden)
	}))
	defer srv.Close()
	c, err := NewClient(Credentials{Endpoint: srv.URL, Bucket: "b", AccessKeyID: "a", SecretAccessKey: "s"})
	if err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(t.TempDir(), "f")
	_ = os.WriteFile(src, []byte("x"), 0o644)
	err = c.PutFile(context.Background(), "f", src)
	if err == nil || !strings.Contains(err.Error(), "403") || !strings.Contains(err.Error(), "AccessDenied") {
		t.Fatalf("err=%v", err)
	}
	if err := c.PutFile(context.Background(), "../..", src); err == nil {
		t.Fatalf("escaping key accepted")
	}
}

func TestNewClientValidates(t *testing.T) {
	if _, err := NewClient(Credentials{Endpoint: "r2.example.com", Bucket: "b"}); err == nil {
		t.Fatalf("missing keys accepted")
	}
	c, err := NewClient(Credentials{Endpoint: "r2.example.com/", Bucket: "b", AccessKeyID: "a", SecretAccessKey: "s"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.endpoint != "https://r2.example.com" || c.cred.Region != "auto" {
		t.Fatalf("endpoint=%q region=%q", c.endpoint, c.cred.Region)
	}
}

type flakyUploader struct {
	mu       sync.Mutex
	failures int
	calls    map[string]int
}

func (f *flakyUploader) PutFile(_ context.Context, key, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[key]++
	if f.calls[key] <= f.failures {
		return errors.New("503")
	}
	return nil
}

func TestMirrorRetriesAndMapsKeys(t *testing.T) {
	base := t.TempDir()
	inside := filepath.Join(base, "backups", "w.twld.bak.zst")
	_ = os.MkdirAll(filepath.Dir(inside), 0o755)
	_ = os.WriteFile(inside, []byte("b"), 0o644)
	outside := filepath.Join(t.TempDir(), "w.twld")
	_ = os.WriteFile(outside, []byte("w"), 0o644)

	up := &flakyUploader{failures: 2, calls: map[string]int{}}
	log, _ := test.NewNullLogger()
	m := NewMirror(up, MirrorOptions{Base: base, Prefix: "/site/", Attempts: 3, Backoff: time.Millisecond, Log: log})
	m.Enqueue(inside)
	m.Enqueue(outside)
	m.Enqueue(filepath.Join(base, "missing"))
	m.Close()
	m.Close()

	if up.calls["site/backups/w.twld.bak.zst"] != 3 || up.calls["site/files/w.twld"] != 3 {
		t.Fatalf("calls=%v", up.calls)
	}
	st := m.Stats()
	if st.Enqueued != 3 || st.Uploaded != 2 || st.Failed != 1 || st.Dropped != 0 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestNilMirrorIsInert(t *testing.T) {
	var m *Mirror
	m.Enqueue("x")
	m.Close()
	if m.Stats() != (Stats{}) {
		t.Fatalf("nil mirror has stats")
	}
}
