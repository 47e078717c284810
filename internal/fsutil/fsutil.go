package fsutil

import (
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// BaseName reduces a client-supplied name to its last path element. Both
// slash styles count as separators, so "..\\..\\x" and "a/b/../c" both end up
// as a bare file name. Returns "" for names that have no usable element.
func BaseName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.ReplaceAll(name, "\x00", "")
	name = path.Base(path.Clean("/" + name))
	switch name {
	case "/", ".", "..":
		return ""
	}
	return name
}

// JoinWithinRoot returns root/name for a single path element. It rejects
// anything that is not already a bare name, so the result can never escape root.
func JoinWithinRoot(rootAbs string, name string) (string, error) {
	if name == "" || BaseName(name) != name {
		return "", errors.New("invalid name")
	}
	abs := filepath.Clean(filepath.Join(rootAbs, name))
	rootClean := filepath.Clean(rootAbs)
	if !strings.HasPrefix(abs, rootClean+string(filepath.Separator)) {
		return "", errors.New("path escape")
	}
	return abs, nil
}

// WriteFileAtomic writes b to a temp file next to dst and renames it into
// place, so readers never observe a partial document.
func WriteFileAtomic(dst string, b []byte, mode os.FileMode) error {
	f, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()

	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Chmod(mode); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}

// CopyFile copies src to dst through a temp file and returns the byte count.
func CopyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	return WriteReaderAtomic(dst, in, 0o644)
}

// WriteReaderAtomic streams r into dst via temp file + rename.
func WriteReaderAtomic(dst string, r io.Reader, mode os.FileMode) (int64, error) {
	out, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".tmp-*")
	if err != nil {
		return 0, err
	}
	tmp := out.Name()
	defer func() { _ = os.Remove(tmp) }()

	n, err := io.Copy(out, r)
	if err != nil {
		_ = out.Close()
		return 0, err
	}
	if err := out.Chmod(mode); err != nil {
		_ = out.Close()
		return 0, err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return 0, err
	}
	if err := out.Close(); err != nil {
		return 0, err
	}
	return n, os.Rename(tmp, dst)
}

// IsRegular reports whether p exists and is a regular file.
func IsRegular(p string) bool {
	st, err := os.Stat(p)
	return err == nil && st.Mode().IsRegular()
}
