package dedup

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestDigestMatchesSum(t *testing.T) {
	data := []byte("hello world")
	d := NewDigest()
	_, _ = d.Write(data[:5])
	_, _ = d.Write(data[5:])
	if d.Hex() != Sum(data) {
		t.Fatalf("streamed %s != one-shot %s", d.Hex(), Sum(data))
	}
	if d.Size() != int64(len(data)) {
		t.Fatalf("size = %d", d.Size())
	}
	if len(d.Hex()) != 64 {
		t.Fatalf("want 256-bit hex, got %q", d.Hex())
	}
}

func TestSumFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "a")
	if err := os.WriteFile(p, []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}
	sum, n, err := SumFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 || sum != Sum([]byte("abc")) {
		t.Fatalf("sum=%s n=%d", sum, n)
	}
}

func TestLinkOrCopy(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "nested", "dst.bin")
	want := bytes.Repeat([]byte{7}, 1000)
	if err := os.WriteFile(src, want, 0o644); err != nil {
		t.Fatal(err)
	}
	n, err := LinkOrCopy(src, dst)
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if n != int64(len(want)) {
		t.Fatalf("n = %d", n)
	}
	got, err := os.ReadFile(dst)
	if err != nil || !bytes.Equal(got, want) {
		t.Fatalf("dst content mismatch: %v", err)
	}
	if _, err := os.Stat(src); err != nil {
		t.Fatalf("source removed: %v", err)
	}
}

func TestLinkOrCopy_MissingSource(t *testing.T) {
	dir := t.TempDir()
	if _, err := LinkOrCopy(filepath.Join(dir, "nope"), filepath.Join(dir, "x")); err == nil {
		t.Fatalf("expected error")
	}
}
