package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"handoff/internal/reaper"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func TestReapedCounts(t *testing.T) {
	m := New()
	m.Reaped(reaper.Result{Sessions: 2, Tokens: 5})
	m.Reaped(reaper.Result{Sessions: 1})

	out := scrape(t, m)
	for _, want := range []string{
		`handoff_reaped_total{kind="session"} 3`,
		`handoff_reaped_total{kind="token"} 5`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q", want)
		}
	}
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.TokensIssued.Inc()
	m.Observe("upload", 200, 0.01)

	out := scrape(t, m)
	for _, want := range []string{
		"handoff_tokens_issued_total 1",
		`handoff_http_requests_total{code="200",route="upload"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in exposition", want)
		}
	}
}

func TestIndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.SessionsCreated.Inc()
	if out := scrape(t, b); !strings.Contains(out, "handoff_sessions_created_total 0") {
		t.Fatalf("registries share state")
	}
}
