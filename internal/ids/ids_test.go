package ids

import (
	"testing"
	"time"
)

func TestNew_UniqueAndValid(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		id := New()
		if !Valid(id) {
			t.Fatalf("invalid id %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestValid_RejectsJunk(t *testing.T) {
	for _, s := range []string{"", "health", "../x", "123"} {
		if Valid(s) {
			t.Fatalf("Valid(%q) = true", s)
		}
	}
}

func TestNewRequestID(t *testing.T) {
	id := NewRequestID(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	if len(id) != 26 {
		t.Fatalf("expected 26-char ULID, got %q", id)
	}
}
