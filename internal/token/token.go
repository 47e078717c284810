// Package token issues and validates one-time upload tokens.
package token

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"handoff/internal/apperr"
	"handoff/internal/ids"
	"handoff/internal/state"
)

const DefaultTTL = 30 * time.Minute

// State is the lifecycle position reported by Check.
type State int

const (
	NotFound State = iota
	Expired
	Pending
	Used
)

func (s State) String() string {
	switch s {
	case Expired:
		return "expired"
	case Pending:
		return "pending"
	case Used:
		return "used"
	default:
		return "not_found"
	}
}

// Status is the answer to Check. Token is a copy of the record and is nil
// for NotFound.
type Status struct {
	State State
	Token *state.Token
}

// Issued is returned by Issue.
type Issued struct {
	ID      string
	Expires time.Time
}

// Issuer creates and validates tokens on top of a state.Store.
type Issuer struct {
	store *state.Store
	ttl   time.Duration
	log   logrus.FieldLogger
	sweep state.SweepFunc
}

// NewIssuer returns an Issuer. sweep is invoked inside every state
// transaction that reads the registries; pass the reaper's SweepTx.
func NewIssuer(store *state.Store, ttl time.Duration, sweep state.SweepFunc, log logrus.FieldLogger) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if sweep == nil {
		sweep = state.NoSweep
	}
	return &Issuer{store: store, ttl: ttl, sweep: sweep, log: log}
}

// TTL returns the configured token lifetime.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue registers a fresh pending token.
func (i *Issuer) Issue(description string) (Issued, error) {
	now := i.store.Now()
	id := ids.New()
	tok := &state.Token{
		Created:     now,
		Expires:     now.Add(i.ttl),
		Description: strings.TrimSpace(description),
	}
	err := i.store.Update(func(tx *state.Tx) error {
		i.sweep(tx, now)
		tx.Tokens[id] = tok
		tx.MarkTokens()
		return nil
	})
	if err != nil {
		return Issued{}, apperr.Wrap("token.Issue", apperr.ErrIO, err)
	}
	i.log.WithFields(logrus.Fields{"token": id, "expires": tok.Expires.Format(time.RFC3339)}).Info("token issued")
	return Issued{ID: id, Expires: tok.Expires}, nil
}

// Check reports where token id is in its lifecycle. An expired token reads as
// Expired even when the reaper has not removed it yet.
func (i *Issuer) Check(id string) (Status, error) {
	var st Status
	err := i.store.Update(func(tx *state.Tx) error {
		now := i.store.Now()
		t, ok := tx.Tokens[id]
		if !ok {
			i.sweep(tx, now)
			return nil
		}
		cp := *t
		st.Token = &cp
		switch {
		case t.Expired(now):
			st.State = Expired
		case t.Used:
			st.State = Used
		default:
			st.State = Pending
		}
		i.sweep(tx, now)
		return nil
	})
	if err != nil {
		return Status{}, apperr.Wrap("token.Check", apperr.ErrIO, err)
	}
	return st, nil
}

// Validate returns nil when id names a pending token, otherwise an error of
// kind NotFound, Expired or AlreadyUsed.
func Validate(tx *state.Tx, id string, now time.Time) error {
	const op = "token.Validate"
	t, ok := tx.Tokens[id]
	switch {
	case !ok:
		return apperr.E(op, apperr.ErrNotFound, "invalid token")
	case t.Expired(now):
		return apperr.E(op, apperr.ErrExpired, "token expired")
	case t.Used:
		return apperr.E(op, apperr.ErrAlreadyUsed, "token already used")
	}
	return nil
}

// Receipt describes what was stored under a consumed token.
type Receipt struct {
	Filename string
	Size     int64
	Checksum string
}

// Consume validates id and, while still holding the store lock, runs store to
// persist the upload. The token is marked used only if store succeeds, so a
// concurrent second upload always observes either Pending-and-blocked or Used.
func (i *Issuer) Consume(id string, store func() (Receipt, error)) (Receipt, error) {
	var rc Receipt
	err := i.store.Update(func(tx *state.Tx) error {
		now := i.store.Now()
		if err := Validate(tx, id, now); err != nil {
			return err
		}
		r, err := store()
		if err != nil {
			return err
		}
		size := r.Size
		at := now
		t := tx.Tokens[id]
		t.Used = true
		t.Filename = r.Filename
		t.Size = &size
		t.UploadedAt = &at
		t.Checksum = r.Checksum
		tx.MarkTokens()
		rc = r
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}
	i.log.WithFields(logrus.Fields{"token": id, "filename": rc.Filename, "size": rc.Size}).Info("token consumed")
	return rc, nil
}

// Precheck validates id without consuming it. Used to reject uploads before
// reading a request body.
func (i *Issuer) Precheck(id string) error {
	return i.store.View(func(tx *state.Tx) error {
		return Validate(tx, id, i.store.Now())
	})
}
