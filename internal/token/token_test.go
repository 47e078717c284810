package token

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"handoff/internal/apperr"
	"handoff/internal/logging"
	"handoff/internal/state"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newIssuer(t *testing.T) (*Issuer, *fakeClock) {
	t.Helper()
	c := &fakeClock{t: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	st, err := state.Open(t.TempDir(), logging.Discard(), state.WithClock(c.Now))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return NewIssuer(st, 0, nil, logging.Discard()), c
}

func TestIssue_DefaultTTL(t *testing.T) {
	iss, c := newIssuer(t)
	got, err := iss.Issue("  t ")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if want := c.Now().Add(30 * time.Minute); !got.Expires.Equal(want) {
		t.Fatalf("expires = %v, want %v", got.Expires, want)
	}
	st, err := iss.Check(got.ID)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if st.State != Pending {
		t.Fatalf("state = %v, want pending", st.State)
	}
	if st.Token.Description != "t" {
		t.Fatalf("description not trimmed: %q", st.Token.Description)
	}
}

func TestCheck_UnknownToken(t *testing.T) {
	iss, _ := newIssuer(t)
	st, err := iss.Check("nope")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if st.State != NotFound || st.Token != nil {
		t.Fatalf("got %+v, want NotFound", st)
	}
}

func TestCheck_ExpiredBeforeReap(t *testing.T) {
	iss, c := newIssuer(t)
	got, _ := iss.Issue("")
	c.Advance(31 * time.Minute)
	st, err := iss.Check(got.ID)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if st.State != Expired {
		t.Fatalf("state = %v, want expired", st.State)
	}
}

func TestConsume_MarksUsedOnce(t *testing.T) {
	iss, c := newIssuer(t)
	got, _ := iss.Issue("t")

	rc, err := iss.Consume(got.ID, func() (Receipt, error) {
		return Receipt{Filename: "hello_1.txt", Size: 10, Checksum: "abc"}, nil
	})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if rc.Filename != "hello_1.txt" {
		t.Fatalf("receipt = %+v", rc)
	}

	st, _ := iss.Check(got.ID)
	if st.State != Used {
		t.Fatalf("state = %v, want used", st.State)
	}
	if st.Token.Filename != "hello_1.txt" || st.Token.Size == nil || *st.Token.Size != 10 {
		t.Fatalf("token = %+v", st.Token)
	}
	if st.Token.UploadedAt == nil || !st.Token.UploadedAt.Equal(c.Now()) {
		t.Fatalf("uploaded_at = %v", st.Token.UploadedAt)
	}

	called := false
	_, err = iss.Consume(got.ID, func() (Receipt, error) {
		called = true
		return Receipt{}, nil
	})
	if !errors.Is(err, apperr.ErrAlreadyUsed) {
		t.Fatalf("second consume err = %v, want already used", err)
	}
	if called {
		t.Fatalf("store ran for a used token")
	}
}

func TestConsume_FailedStoreLeavesPending(t *testing.T) {
	iss, _ := newIssuer(t)
	got, _ := iss.Issue("")
	boom := errors.New("disk full")
	if _, err := iss.Consume(got.ID, func() (Receipt, error) { return Receipt{}, boom }); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	st, _ := iss.Check(got.ID)
	if st.State != Pending {
		t.Fatalf("state = %v, want pending", st.State)
	}
}

func TestConsume_Concurrent(t *testing.T) {
	iss, _ := newIssuer(t)
	got, _ := iss.Issue("")

	var ok, used atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := iss.Consume(got.ID, func() (Receipt, error) {
				return Receipt{Filename: "f", Size: 1}, nil
			})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, apperr.ErrAlreadyUsed):
				used.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if ok.Load() != 1 || used.Load() != 19 {
		t.Fatalf("ok=%d used=%d", ok.Load(), used.Load())
	}
}

func TestPrecheck(t *testing.T) {
	iss, c := newIssuer(t)
	got, _ := iss.Issue("")

	if err := iss.Precheck(got.ID); err != nil {
		t.Fatalf("fresh token: %v", err)
	}
	if err := iss.Precheck("missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("missing: %v", err)
	}
	c.Advance(time.Hour)
	if err := iss.Precheck(got.ID); !errors.Is(err, apperr.ErrExpired) {
		t.Fatalf("expired: %v", err)
	}
}

func TestIssue_SweepsInsideTransaction(t *testing.T) {
	c := &fakeClock{t: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	st, err := state.Open(t.TempDir(), logging.Discard(), state.WithClock(c.Now))
	if err != nil {
		t.Fatal(err)
	}
	var sweeps int
	iss := NewIssuer(st, time.Minute, func(tx *state.Tx, now time.Time) { sweeps++ }, logging.Discard())
	if _, err := iss.Issue(""); err != nil {
		t.Fatal(err)
	}
	if sweeps != 1 {
		t.Fatalf("sweeps = %d, want 1", sweeps)
	}
}
