package fsutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBaseName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"report.pdf", "report.pdf"},
		{"../../etc/passwd", "passwd"},
		{"..\\..\\windows\\win.ini", "win.ini"},
		{"/abs/path/file.txt", "file.txt"},
		{"  spaced.txt ", "spaced.txt"},
		{"..", ""},
		{"", ""},
		{"/", ""},
		{"dir/", "dir"},
	}
	for _, tc := range cases {
		if got := BaseName(tc.in); got != tc.want {
			t.Fatalf("BaseName(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func TestJoinWithinRoot(t *testing.T) {
	root := t.TempDir()
	p, err := JoinWithinRoot(root, "a.txt")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if p != filepath.Join(root, "a.txt") {
		t.Fatalf("unexpected path %q", p)
	}
	for _, bad := range []string{"", "..", "../x", "a/b", "."} {
		if _, err := JoinWithinRoot(root, bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestWriteFileAtomic_ReplacesAndLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "doc.json")
	if err := WriteFileAtomic(dst, []byte("one"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := WriteFileAtomic(dst, []byte("two"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	b, err := os.ReadFile(dst)
	if err != nil || string(b) != "two" {
		t.Fatalf("content=%q err=%v", b, err)
	}
	ents, _ := os.ReadDir(dir)
	for _, e := range ents {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	if err := os.WriteFile(src, []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}
	n, err := CopyFile(src, filepath.Join(dir, "dst.bin"))
	if err != nil || n != 10 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if !IsRegular(filepath.Join(dir, "dst.bin")) {
		t.Fatalf("dst missing")
	}
}
