// Package state persists the two handoff registries (sessions and tokens) as
// JSON documents and serialises every mutation through one mutex.
//
// Layout under the state dir:
//
//	sessions.json        id -> Session
//	tokens.json          id -> Token
//	sessions/<id>/       copies of the files shared in a session
//	uploads/             files received through one-time tokens
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"handoff/internal/fsutil"
)

const (
	SessionsRegistry = "sessions"
	TokensRegistry   = "tokens"
)

// Session is a TTL-bounded bundle of shared files.
type Session struct {
	Created     time.Time `json:"created"`
	Expires     time.Time `json:"expires"`
	Description string    `json:"description"`
	Files       []string  `json:"files"`
}

// Expired reports whether the session is past its TTL at now.
func (s *Session) Expired(now time.Time) bool { return now.After(s.Expires) }

// HasFile reports whether name is already listed.
func (s *Session) HasFile(name string) bool {
	for _, f := range s.Files {
		if f == name {
			return true
		}
	}
	return false
}

// Token authorises exactly one upload. Filename, Size, UploadedAt and
// Checksum are set if and only if Used is true.
type Token struct {
	Created     time.Time  `json:"created"`
	Expires     time.Time  `json:"expires"`
	Description string     `json:"description"`
	Used        bool       `json:"used"`
	Filename    string     `json:"filename,omitempty"`
	Size        *int64     `json:"size,omitempty"`
	UploadedAt  *time.Time `json:"uploaded_at,omitempty"`
	Checksum    string     `json:"checksum,omitempty"`
}

// Expired reports whether the token is past its TTL at now.
func (t *Token) Expired(now time.Time) bool { return now.After(t.Expires) }

type (
	Sessions map[string]*Session
	Tokens   map[string]*Token
)

// Tx is the view handed to Update/View callbacks. Callbacks mutate the maps
// in place and call MarkSessions/MarkTokens so Update knows what to persist.
type Tx struct {
	Sessions Sessions
	Tokens   Tokens

	dirtySessions bool
	dirtyTokens   bool
}

func (tx *Tx) MarkSessions() { tx.dirtySessions = true }
func (tx *Tx) MarkTokens()   { tx.dirtyTokens = true }

// SweepFunc removes expired entries from tx. It runs inside Update, under
// the store lock, at the start of every state-reading operation.
type SweepFunc func(tx *Tx, now time.Time)

// NoSweep is a SweepFunc that does nothing.
func NoSweep(*Tx, time.Time) {}

// Store owns the registries. The zero value is not usable; call Open.
type Store struct {
	dir string
	log logrus.FieldLogger
	now func() time.Time

	mu sync.Mutex
}

// Option customises a Store.
type Option func(*Store)

// WithClock replaces time.Now; tests use it to move past TTLs without sleeping.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open prepares dir (and its sessions/ and uploads/ subdirectories).
func Open(dir string, log logrus.FieldLogger, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, errors.New("state: empty dir")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	s := &Store{dir: abs, log: log, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	for _, d := range []string{abs, s.SessionsDir(), s.UploadsDir()} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("state: mkdir %s: %w", d, err)
		}
	}
	return s, nil
}

// Now is the store clock, shared by every component built on the store.
func (s *Store) Now() time.Time { return s.now().UTC() }

func (s *Store) Dir() string         { return s.dir }
func (s *Store) SessionsDir() string { return filepath.Join(s.dir, "sessions") }
func (s *Store) UploadsDir() string  { return filepath.Join(s.dir, "uploads") }

// SessionDir returns the backing directory for session id.
func (s *Store) SessionDir(id string) (string, error) {
	return fsutil.JoinWithinRoot(s.SessionsDir(), id)
}

func (s *Store) registryPath(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// Load reads registry name into out. A missing or unparsable document leaves
// out empty: losing the registry is preferred over refusing to start. A
// corrupt document is moved aside to <name>.json.corrupt before that.
func (s *Store) Load(name string, out any) {
	p := s.registryPath(name)
	b, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		s.log.WithError(err).WithField("registry", name).Warn("registry unreadable, treating as empty")
		return
	}
	if len(b) == 0 {
		return
	}
	if err := json.Unmarshal(b, out); err != nil {
		s.log.WithError(err).WithField("registry", name).Warn("registry corrupt, treating as empty")
		_ = os.Rename(p, p+".corrupt")
	}
}

// Save persists a whole registry by atomic replace.
func (s *Store) Save(name string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(s.registryPath(name), b, 0o644); err != nil {
		return fmt.Errorf("state: save %s: %w", name, err)
	}
	return nil
}

func (s *Store) load() *Tx {
	tx := &Tx{Sessions: Sessions{}, Tokens: Tokens{}}
	s.Load(SessionsRegistry, &tx.Sessions)
	s.Load(TokensRegistry, &tx.Tokens)
	if tx.Sessions == nil {
		tx.Sessions = Sessions{}
	}
	if tx.Tokens == nil {
		tx.Tokens = Tokens{}
	}
	// "id": null entries would otherwise surface as nil pointers.
	for id, v := range tx.Sessions {
		if v == nil {
			delete(tx.Sessions, id)
		}
	}
	for id, v := range tx.Tokens {
		if v == nil {
			delete(tx.Tokens, id)
		}
	}
	return tx
}

// Update runs fn with exclusive access to both registries and saves the ones
// fn marked dirty. Nothing is saved when fn returns an error.
func (s *Store) Update(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := s.load()
	if err := fn(tx); err != nil {
		return err
	}
	if tx.dirtySessions {
		if err := s.Save(SessionsRegistry, tx.Sessions); err != nil {
			return err
		}
	}
	if tx.dirtyTokens {
		if err := s.Save(TokensRegistry, tx.Tokens); err != nil {
			return err
		}
	}
	return nil
}

// View runs fn under the same lock without persisting anything.
func (s *Store) View(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.load())
}
