// Package session manages TTL-bounded bundles of shared files.
package session

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"handoff/internal/apperr"
	"handoff/internal/dedup"
	"handoff/internal/fsutil"
	"handoff/internal/ids"
	"handoff/internal/state"
)

const DefaultTTL = 24 * time.Hour

// ErrNoMatch is returned by ShareDirectory when the pattern matched no
// regular file. It is an empty result, not a failure.
var ErrNoMatch = errors.New("no files matched")

// Info is a snapshot of one session.
type Info struct {
	ID          string    `json:"id"`
	Created     time.Time `json:"created"`
	Expires     time.Time `json:"expires"`
	Description string    `json:"description"`
	Files       []string  `json:"files"`
}

// FileInfo describes one file placed into a session.
type FileInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

type Manager struct {
	store *state.Store
	ttl   time.Duration
	sweep state.SweepFunc
	log   logrus.FieldLogger
}

// NewManager returns a Manager. sweep runs inside every transaction, like
// token.NewIssuer.
func NewManager(store *state.Store, ttl time.Duration, sweep state.SweepFunc, log logrus.FieldLogger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if sweep == nil {
		sweep = state.NoSweep
	}
	return &Manager{store: store, ttl: ttl, sweep: sweep, log: log}
}

func (m *Manager) TTL() time.Duration { return m.ttl }

func snapshot(id string, s *state.Session) Info {
	files := make([]string, len(s.Files))
	copy(files, s.Files)
	return Info{ID: id, Created: s.Created, Expires: s.Expires, Description: s.Description, Files: files}
}

// create registers a new session and its directory. Caller holds tx.
func (m *Manager) create(tx *state.Tx, now time.Time, description string) (string, *state.Session, string, error) {
	id := ids.New()
	dir, err := m.store.SessionDir(id)
	if err != nil {
		return "", nil, "", apperr.Wrap("session.create", apperr.ErrIO, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, "", apperr.Wrap("session.create", apperr.ErrIO, err)
	}
	s := &state.Session{
		Created:     now,
		Expires:     now.Add(m.ttl),
		Description: strings.TrimSpace(description),
		Files:       []string{},
	}
	tx.Sessions[id] = s
	tx.MarkSessions()
	return id, s, dir, nil
}

// live returns session id if it exists and has not expired.
func live(tx *state.Tx, id string, now time.Time) (*state.Session, bool) {
	s, ok := tx.Sessions[id]
	if !ok || s.Expired(now) {
		return nil, false
	}
	return s, true
}

// Create starts an empty session.
func (m *Manager) Create(description string) (Info, error) {
	var out Info
	err := m.store.Update(func(tx *state.Tx) error {
		now := m.store.Now()
		m.sweep(tx, now)
		id, s, _, err := m.create(tx, now, description)
		if err != nil {
			return err
		}
		out = snapshot(id, s)
		return nil
	})
	if err != nil {
		return Info{}, err
	}
	m.log.WithFields(logrus.Fields{"session": out.ID, "expires": out.Expires.Format(time.RFC3339)}).Info("session created")
	return out, nil
}

// AddFile copies r into session id under filename's base name.
func (m *Manager) AddFile(id, filename string, r io.Reader) (FileInfo, error) {
	const op = "session.AddFile"
	name := fsutil.BaseName(filename)
	if name == "" {
		return FileInfo{}, apperr.E(op, apperr.ErrMalformed, "missing filename")
	}
	return m.add(op, id, name, func(dst string) (int64, error) {
		return fsutil.WriteReaderAtomic(dst, r, 0o644)
	})
}

// AddFileFromPath copies the local file at src into session id.
func (m *Manager) AddFileFromPath(id, src string) (FileInfo, error) {
	const op = "session.AddFileFromPath"
	if !fsutil.IsRegular(src) {
		return FileInfo{}, apperr.E(op, apperr.ErrNotFound, "file not found")
	}
	name := fsutil.BaseName(filepath.Base(src))
	if name == "" {
		return FileInfo{}, apperr.E(op, apperr.ErrMalformed, "bad source path")
	}
	return m.add(op, id, name, func(dst string) (int64, error) {
		return fsutil.CopyFile(src, dst)
	})
}

func (m *Manager) add(op, id, name string, write func(dst string) (int64, error)) (FileInfo, error) {
	var fi FileInfo
	err := m.store.Update(func(tx *state.Tx) error {
		now := m.store.Now()
		m.sweep(tx, now)
		s, ok := live(tx, id, now)
		if !ok {
			return apperr.E(op, apperr.ErrNotFound, "session not found")
		}
		dir, err := m.store.SessionDir(id)
		if err != nil {
			return apperr.E(op, apperr.ErrNotFound, "session not found")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return apperr.Wrap(op, apperr.ErrIO, err)
		}
		dst, err := fsutil.JoinWithinRoot(dir, name)
		if err != nil {
			return apperr.E(op, apperr.ErrMalformed, "bad filename")
		}
		n, err := write(dst)
		if err != nil {
			return apperr.Wrap(op, apperr.ErrIO, err)
		}
		if !s.HasFile(name) {
			s.Files = append(s.Files, name)
		}
		tx.MarkSessions()
		fi = FileInfo{Name: name, Size: n}
		return nil
	})
	if err != nil {
		return FileInfo{}, err
	}
	m.log.WithFields(logrus.Fields{"session": id, "file": fi.Name, "size": fi.Size}).Info("file added")
	return fi, nil
}

// ShareDirectory creates a session holding copies of the regular files in dir
// that match pattern ("*" when empty). Subdirectories are skipped.
func (m *Manager) ShareDirectory(dir, pattern, description string) (Info, []FileInfo, error) {
	const op = "session.ShareDirectory"
	st, err := os.Stat(dir)
	if err != nil || !st.IsDir() {
		return Info{}, nil, apperr.E(op, apperr.ErrNotFound, "directory not found")
	}
	if pattern == "" {
		pattern = "*"
	}
	if strings.ContainsAny(pattern, `/\`) {
		return Info{}, nil, apperr.E(op, apperr.ErrMalformed, "pattern must not contain a path separator")
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return Info{}, nil, apperr.E(op, apperr.ErrMalformed, "bad pattern")
	}
	var srcs []string
	for _, p := range matches {
		if fsutil.IsRegular(p) {
			srcs = append(srcs, p)
		}
	}
	if len(srcs) == 0 {
		return Info{}, nil, ErrNoMatch
	}
	sort.Strings(srcs)
	if strings.TrimSpace(description) == "" {
		description = "Shared directory: " + dir
	}

	var (
		out   Info
		files []FileInfo
	)
	err = m.store.Update(func(tx *state.Tx) error {
		now := m.store.Now()
		m.sweep(tx, now)
		id, s, sdir, err := m.create(tx, now, description)
		if err != nil {
			return err
		}
		for _, src := range srcs {
			name := freeName(s, fsutil.BaseName(filepath.Base(src)))
			dst, err := fsutil.JoinWithinRoot(sdir, name)
			if err != nil {
				continue
			}
			n, err := fsutil.CopyFile(src, dst)
			if err != nil {
				_ = os.RemoveAll(sdir)
				return apperr.Wrap(op, apperr.ErrIO, err)
			}
			s.Files = append(s.Files, name)
			files = append(files, FileInfo{Name: name, Size: n})
		}
		out = snapshot(id, s)
		return nil
	})
	if err != nil {
		return Info{}, nil, err
	}
	m.log.WithFields(logrus.Fields{"session": out.ID, "dir": dir, "files": len(files)}).Info("directory shared")
	return out, files, nil
}

// freeName returns name, or name with a _<n> suffix before the extension when
// s already holds a file called name. Distinct sources can reduce to the same
// base name.
func freeName(s *state.Session, name string) string {
	if name == "" || !s.HasFile(name) {
		return name
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if stem == "" {
		stem, ext = name, ""
	}
	for n := 1; ; n++ {
		c := fmt.Sprintf("%s_%d%s", stem, n, ext)
		if !s.HasFile(c) {
			return c
		}
	}
}

// Share copies filename into a fresh session. With a source session the file
// must be in that session; otherwise the uploads dir is tried first and then
// every live session in id order.
func (m *Manager) Share(filename, sourceID, description string) (Info, error) {
	const op = "session.Share"
	name := fsutil.BaseName(filename)
	if name == "" {
		return Info{}, apperr.E(op, apperr.ErrMalformed, "filename required")
	}
	var out Info
	err := m.store.Update(func(tx *state.Tx) error {
		now := m.store.Now()
		m.sweep(tx, now)
		src, err := m.locate(tx, now, name, sourceID)
		if err != nil {
			return err
		}
		id, s, sdir, err := m.create(tx, now, description)
		if err != nil {
			return err
		}
		dst, err := fsutil.JoinWithinRoot(sdir, name)
		if err != nil {
			return apperr.E(op, apperr.ErrMalformed, "bad filename")
		}
		if _, err := dedup.LinkOrCopy(src, dst); err != nil {
			_ = os.RemoveAll(sdir)
			return apperr.Wrap(op, apperr.ErrIO, err)
		}
		s.Files = append(s.Files, name)
		out = snapshot(id, s)
		return nil
	})
	if err != nil {
		return Info{}, err
	}
	m.log.WithFields(logrus.Fields{"session": out.ID, "file": name, "source": sourceID}).Info("file shared")
	return out, nil
}

func (m *Manager) locate(tx *state.Tx, now time.Time, name, sourceID string) (string, error) {
	const op = "session.Share"
	inSession := func(id string) (string, bool) {
		if _, ok := live(tx, id, now); !ok {
			return "", false
		}
		dir, err := m.store.SessionDir(id)
		if err != nil {
			return "", false
		}
		p, err := fsutil.JoinWithinRoot(dir, name)
		if err != nil || !fsutil.IsRegular(p) {
			return "", false
		}
		return p, true
	}

	if sourceID != "" {
		if _, ok := live(tx, sourceID, now); !ok {
			return "", apperr.E(op, apperr.ErrNotFound, "source session not found")
		}
		if p, ok := inSession(sourceID); ok {
			return p, nil
		}
		return "", apperr.E(op, apperr.ErrNotFound, "file not found in source session")
	}
	if p, err := fsutil.JoinWithinRoot(m.store.UploadsDir(), name); err == nil && fsutil.IsRegular(p) {
		return p, nil
	}
	idsSorted := make([]string, 0, len(tx.Sessions))
	for id := range tx.Sessions {
		idsSorted = append(idsSorted, id)
	}
	sort.Strings(idsSorted)
	for _, id := range idsSorted {
		if p, ok := inSession(id); ok {
			return p, nil
		}
	}
	return "", apperr.E(op, apperr.ErrNotFound, "file not found")
}

// Get returns session id, or NotFound when it is unknown or expired.
func (m *Manager) Get(id string) (Info, error) {
	var out Info
	err := m.store.Update(func(tx *state.Tx) error {
		now := m.store.Now()
		m.sweep(tx, now)
		s, ok := live(tx, id, now)
		if !ok {
			return apperr.E("session.Get", apperr.ErrNotFound, "session not found")
		}
		out = snapshot(id, s)
		return nil
	})
	return out, err
}

// List returns every live session, newest first.
func (m *Manager) List() ([]Info, error) {
	var out []Info
	err := m.store.Update(func(tx *state.Tx) error {
		now := m.store.Now()
		m.sweep(tx, now)
		for id, s := range tx.Sessions {
			if !s.Expired(now) {
				out = append(out, snapshot(id, s))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Created.Equal(out[j].Created) {
			return out[i].ID < out[j].ID
		}
		return out[i].Created.After(out[j].Created)
	})
	return out, err
}

// Open opens filename inside live session id for reading. The caller closes
// the file.
func (m *Manager) Open(id, filename string) (*os.File, os.FileInfo, error) {
	const op = "session.Open"
	var p string
	err := m.store.View(func(tx *state.Tx) error {
		if _, ok := live(tx, id, m.store.Now()); !ok {
			return apperr.E(op, apperr.ErrNotFound, "session not found")
		}
		dir, err := m.store.SessionDir(id)
		if err != nil {
			return apperr.E(op, apperr.ErrNotFound, "session not found")
		}
		name := fsutil.BaseName(filename)
		if name == "" || name != filename {
			return apperr.E(op, apperr.ErrNotFound, "file not found")
		}
		p, err = fsutil.JoinWithinRoot(dir, name)
		if err != nil || !fsutil.IsRegular(p) {
			return apperr.E(op, apperr.ErrNotFound, "file not found")
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, apperr.E(op, apperr.ErrNotFound, "file not found")
		}
		return nil, nil, apperr.Wrap(op, apperr.ErrIO, err)
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, apperr.Wrap(op, apperr.ErrIO, err)
	}
	return f, fi, nil
}

// Path returns the on-disk directory of live session id.
func (m *Manager) Path(id string) (string, error) {
	var dir string
	err := m.store.View(func(tx *state.Tx) error {
		if _, ok := live(tx, id, m.store.Now()); !ok {
			return apperr.E("session.Path", apperr.ErrNotFound, "session not found")
		}
		var err error
		dir, err = m.store.SessionDir(id)
		if err != nil {
			return apperr.E("session.Path", apperr.ErrNotFound, "session not found")
		}
		return nil
	})
	return dir, err
}
