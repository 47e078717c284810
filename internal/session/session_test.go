package session

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"handoff/internal/apperr"
	"handoff/internal/logging"
	"handoff/internal/reaper"
	"handoff/internal/state"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func newManager(t *testing.T) (*Manager, *state.Store, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)}
	st, err := state.Open(t.TempDir(), logging.Discard(), state.WithClock(c.Now))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	rp := reaper.New(st, nil, logging.Discard())
	return NewManager(st, 0, rp.SweepTx, logging.Discard()), st, c
}

func readAll(t *testing.T, m *Manager, id, name string) []byte {
	t.Helper()
	f, _, err := m.Open(id, name)
	if err != nil {
		t.Fatalf("open %s/%s: %v", id, name, err)
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestCreateAddOpen(t *testing.T) {
	m, _, c := newManager(t)
	s, err := m.Create("demo")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !s.Expires.Equal(c.Now().Add(24 * time.Hour)) {
		t.Fatalf("expires = %v", s.Expires)
	}

	payload := bytes.Repeat([]byte("r"), 100)
	fi, err := m.AddFile(s.ID, "report.pdf", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if fi.Name != "report.pdf" || fi.Size != 100 {
		t.Fatalf("file info = %+v", fi)
	}
	// Same name twice is listed once.
	if _, err := m.AddFile(s.ID, "report.pdf", bytes.NewReader(payload)); err != nil {
		t.Fatalf("re-add: %v", err)
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Files) != 1 || got.Files[0] != "report.pdf" {
		t.Fatalf("files = %v", got.Files)
	}
	if b := readAll(t, m, s.ID, "report.pdf"); !bytes.Equal(b, payload) {
		t.Fatalf("content mismatch")
	}
}

func TestAddFile_StripsDirectories(t *testing.T) {
	m, st, _ := newManager(t)
	s, _ := m.Create("")
	fi, err := m.AddFile(s.ID, `..\..\evil.txt`, strings.NewReader("x"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if fi.Name != "evil.txt" {
		t.Fatalf("name = %q", fi.Name)
	}
	dir, _ := st.SessionDir(s.ID)
	if _, err := os.Stat(filepath.Join(dir, "evil.txt")); err != nil {
		t.Fatalf("file not inside session dir: %v", err)
	}
}

func TestAddFile_UnknownOrExpiredSession(t *testing.T) {
	m, _, c := newManager(t)
	if _, err := m.AddFile("missing", "a.txt", strings.NewReader("x")); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("unknown: %v", err)
	}
	s, _ := m.Create("")
	c.t = c.t.Add(25 * time.Hour)
	if _, err := m.AddFile(s.ID, "a.txt", strings.NewReader("x")); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expired: %v", err)
	}
}

func TestOpen_ExpiredIsNotFoundEvenBeforeSweep(t *testing.T) {
	m, st, c := newManager(t)
	s, _ := m.Create("")
	if _, err := m.AddFile(s.ID, "a.txt", strings.NewReader("x")); err != nil {
		t.Fatal(err)
	}
	c.t = c.t.Add(24*time.Hour + time.Second)
	if _, _, err := m.Open(s.ID, "a.txt"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	// Open does not sweep; the directory is still there until the next transaction.
	dir, _ := st.SessionDir(s.ID)
	if _, err := m.List(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("dir survived sweep: %v", err)
	}
}

func TestOpen_RejectsTraversal(t *testing.T) {
	m, _, _ := newManager(t)
	s, _ := m.Create("")
	for _, name := range []string{"../sessions.json", "..", "", "a/../../x"} {
		if _, _, err := m.Open(s.ID, name); !errors.Is(err, apperr.ErrNotFound) {
			t.Fatalf("%q: err = %v", name, err)
		}
	}
}

func TestShareDirectory(t *testing.T) {
	m, _, _ := newManager(t)
	src := t.TempDir()
	for name, body := range map[string]string{"a.txt": "A", "b.txt": "BB", "c.log": "C"} {
		if err := os.WriteFile(filepath.Join(src, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(src, "sub.txt"), 0o755); err != nil {
		t.Fatal(err)
	}

	s, files, err := m.ShareDirectory(src, "*.txt", "")
	if err != nil {
		t.Fatalf("share: %v", err)
	}
	if len(files) != 2 || files[0].Name != "a.txt" || files[1].Size != 2 {
		t.Fatalf("files = %+v", files)
	}
	if !strings.HasPrefix(s.Description, "Shared directory: ") {
		t.Fatalf("description = %q", s.Description)
	}
	if got := readAll(t, m, s.ID, "b.txt"); string(got) != "BB" {
		t.Fatalf("b.txt = %q", got)
	}
}

func TestShareDirectory_CollidingBaseNames(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("backslash is a separator on windows")
	}
	m, _, _ := newManager(t)
	src := t.TempDir()
	bodies := map[string]string{"x.txt": "plain", `a\x.txt`: "backslash", " x.txt": "space"}
	for name, body := range bodies {
		if err := os.WriteFile(filepath.Join(src, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	s, files, err := m.ShareDirectory(src, "*", "")
	if err != nil {
		t.Fatalf("share: %v", err)
	}
	if len(files) != 3 || len(s.Files) != 3 {
		t.Fatalf("files = %+v, session files = %v", files, s.Files)
	}
	seen := map[string]bool{}
	var total int64
	for i, f := range files {
		if seen[f.Name] {
			t.Fatalf("duplicate name %q in %+v", f.Name, files)
		}
		seen[f.Name] = true
		if s.Files[i] != f.Name {
			t.Fatalf("session files %v do not match %+v", s.Files, files)
		}
		got := readAll(t, m, s.ID, f.Name)
		if int64(len(got)) != f.Size {
			t.Fatalf("%s: size %d on disk, reported %d", f.Name, len(got), f.Size)
		}
		total += f.Size
	}
	if total != int64(len("plain")+len("backslash")+len("space")) {
		t.Fatalf("total size = %d, some copy was overwritten", total)
	}
	if !seen["x.txt"] || !seen["x_1.txt"] || !seen["x_2.txt"] {
		t.Fatalf("names = %v", seen)
	}
}

func TestShareDirectory_Errors(t *testing.T) {
	m, _, _ := newManager(t)
	if _, _, err := m.ShareDirectory(filepath.Join(t.TempDir(), "nope"), "", ""); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("missing dir: %v", err)
	}
	if _, _, err := m.ShareDirectory(t.TempDir(), "*.pdf", ""); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("no match: %v", err)
	}
	if _, _, err := m.ShareDirectory(t.TempDir(), "[", ""); !errors.Is(err, apperr.ErrMalformed) {
		t.Fatalf("bad pattern: %v", err)
	}
}

func TestShare_LookupOrder(t *testing.T) {
	m, st, _ := newManager(t)

	if err := os.WriteFile(filepath.Join(st.UploadsDir(), "doc.txt"), []byte("upload"), 0o644); err != nil {
		t.Fatal(err)
	}
	src, _ := m.Create("src")
	if _, err := m.AddFile(src.ID, "doc.txt", strings.NewReader("session")); err != nil {
		t.Fatal(err)
	}
	if _, err := m.AddFile(src.ID, "only.txt", strings.NewReader("only")); err != nil {
		t.Fatal(err)
	}

	fromSource, err := m.Share("doc.txt", src.ID, "")
	if err != nil {
		t.Fatalf("share from source: %v", err)
	}
	if got := readAll(t, m, fromSource.ID, "doc.txt"); string(got) != "session" {
		t.Fatalf("source lookup read %q", got)
	}

	fromUploads, err := m.Share("doc.txt", "", "")
	if err != nil {
		t.Fatalf("share from uploads: %v", err)
	}
	if got := readAll(t, m, fromUploads.ID, "doc.txt"); string(got) != "upload" {
		t.Fatalf("uploads lookup read %q", got)
	}

	fromAny, err := m.Share("only.txt", "", "")
	if err != nil {
		t.Fatalf("share from any session: %v", err)
	}
	if fromAny.Files[0] != "only.txt" {
		t.Fatalf("files = %v", fromAny.Files)
	}
}

func TestShare_NotFound(t *testing.T) {
	m, _, _ := newManager(t)
	if _, err := m.Share("ghost.txt", "", ""); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	if _, err := m.Share("ghost.txt", "no-such-session", ""); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	src, _ := m.Create("")
	if _, err := m.Share("ghost.txt", src.ID, ""); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	if _, err := m.Share("", "", ""); !errors.Is(err, apperr.ErrMalformed) {
		t.Fatalf("err = %v", err)
	}
}

func TestList_NewestFirstAndLiveOnly(t *testing.T) {
	m, _, c := newManager(t)
	old, _ := m.Create("old")
	c.t = c.t.Add(time.Hour)
	young, _ := m.Create("young")

	got, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != young.ID || got[1].ID != old.ID {
		t.Fatalf("order = %+v", got)
	}

	c.t = c.t.Add(23*time.Hour + time.Second)
	got, _ = m.List()
	if len(got) != 1 || got[0].ID != young.ID {
		t.Fatalf("after expiry = %+v", got)
	}
}
