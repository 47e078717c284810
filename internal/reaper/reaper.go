// Package reaper deletes sessions and tokens whose TTL has elapsed.
package reaper

import (
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"handoff/internal/state"
)

// Result counts what one sweep removed.
type Result struct {
	Sessions int `json:"sessions"`
	Tokens   int `json:"tokens"`
}

// Observer is notified after every sweep that removed something.
type Observer interface {
	Reaped(r Result)
}

// Reaper removes expired registry entries and session directories.
type Reaper struct {
	store *state.Store
	log   logrus.FieldLogger
	obs   Observer
}

// New returns a Reaper bound to store. obs may be nil.
func New(store *state.Store, obs Observer, log logrus.FieldLogger) *Reaper {
	return &Reaper{store: store, obs: obs, log: log}
}

// SweepTx removes expired entries from tx. It must run inside store.Update;
// it satisfies state.SweepFunc so other components can sweep lazily inside
// their own transactions.
func (r *Reaper) SweepTx(tx *state.Tx, now time.Time) {
	r.sweep(tx, now)
}

func (r *Reaper) sweep(tx *state.Tx, now time.Time) Result {
	var res Result
	for id, s := range tx.Sessions {
		if !s.Expired(now) {
			continue
		}
		if dir, err := r.store.SessionDir(id); err == nil {
			if err := os.RemoveAll(dir); err != nil {
				// Keep the entry so the next sweep retries the directory.
				r.log.WithError(err).WithField("session", id).Warn("session dir removal failed")
				continue
			}
		}
		delete(tx.Sessions, id)
		res.Sessions++
		r.log.WithField("session", id).Info("session expired")
	}
	for id, t := range tx.Tokens {
		if t.Expired(now) {
			delete(tx.Tokens, id)
			res.Tokens++
		}
	}
	if res.Sessions > 0 {
		tx.MarkSessions()
	}
	if res.Tokens > 0 {
		tx.MarkTokens()
	}
	if (res.Sessions > 0 || res.Tokens > 0) && r.obs != nil {
		r.obs.Reaped(res)
	}
	return res
}

// Sweep runs one full pass in its own transaction.
func (r *Reaper) Sweep() (Result, error) {
	var res Result
	err := r.store.Update(func(tx *state.Tx) error {
		res = r.sweep(tx, r.store.Now())
		return nil
	})
	return res, err
}

// Run sweeps immediately and then every interval until ctx is done.
func (r *Reaper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		r.log.Info("reaper disabled")
		return
	}
	r.log.WithField("interval", interval.String()).Info("reaper starting")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.runOnce()
	for {
		select {
		case <-ctx.Done():
			r.log.Info("reaper stopping")
			return
		case <-ticker.C:
			r.runOnce()
		}
	}
}

func (r *Reaper) runOnce() {
	start := time.Now()
	res, err := r.Sweep()
	if err != nil {
		r.log.WithError(err).Error("sweep failed")
		return
	}
	r.log.WithFields(logrus.Fields{
		"sessions":    res.Sessions,
		"tokens":      res.Tokens,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("sweep complete")
}
