package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"handoff/internal/config"
	"handoff/internal/httpserver"
	"handoff/internal/logging"
	"handoff/internal/reaper"
	"handoff/internal/session"
	"handoff/internal/state"
	"handoff/internal/token"
	"handoff/internal/upload"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	cfg.AdminAPI = true
	log := logging.Discard()
	st, err := state.Open(t.TempDir(), log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	rp := reaper.New(st, nil, log)
	iss := token.NewIssuer(st, cfg.TokenTTL.Std(), rp.SweepTx, log)
	srv, err := httpserver.New(httpserver.Options{
		Config:   cfg,
		Store:    st,
		Tokens:   iss,
		Sessions: session.NewManager(st, cfg.SessionTTL.Std(), rp.SweepTx, log),
		Uploads:  upload.New(st, iss, cfg.MaxUploadBytes, log),
		Reaper:   rp,
		Log:      log,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestTokenRoundTrip(t *testing.T) {
	ts := newServer(t)
	c := New(ts.URL)
	ctx := context.Background()

	tok, err := c.CreateToken(ctx, "invoice")
	if err != nil {
		t.Fatalf("CreateToken() error: %v", err)
	}
	if !strings.HasSuffix(tok.URL, "/upload/"+tok.Token) {
		t.Errorf("URL = %q", tok.URL)
	}

	st, err := c.CheckToken(ctx, tok.Token)
	if err != nil {
		t.Fatalf("CheckToken() error: %v", err)
	}
	if st.State != "pending" {
		t.Errorf("State = %q, want pending", st.State)
	}

	res, err := c.Upload(ctx, tok.Token, "invoice.pdf", strings.NewReader("%PDF-1.4"))
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}
	if !res.Success || res.Size != 8 || !strings.HasPrefix(res.Filename, "invoice_") {
		t.Errorf("Upload() = %+v", res)
	}

	_, err = c.Upload(ctx, tok.Token, "again.pdf", strings.NewReader("x"))
	if !IsStatus(err, http.StatusConflict) {
		t.Fatalf("second Upload() error = %v, want 409", err)
	}

	shared, err := c.Share(ctx, ShareRequest{Filename: res.Filename})
	if err != nil {
		t.Fatalf("Share() error: %v", err)
	}
	got, err := c.GetSession(ctx, shared.SessionID)
	if err != nil {
		t.Fatalf("GetSession() error: %v", err)
	}
	if len(got.Files) != 1 || got.Files[0].Name != res.Filename {
		t.Errorf("Files = %+v", got.Files)
	}
}

func TestAdminCalls(t *testing.T) {
	ts := newServer(t)
	c := New(ts.URL + "/")
	ctx := context.Background()

	s, err := c.CreateSession(ctx, "handover")
	if err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}
	text := "meeting notes"
	f, err := c.AddFile(ctx, s.ID, AddFileRequest{Filename: "notes.md", Content: &text})
	if err != nil {
		t.Fatalf("AddFile() error: %v", err)
	}
	if f.Name != "notes.md" || f.Size != int64(len(text)) {
		t.Errorf("AddFile() = %+v", f)
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.csv"), []byte("1,2"), 0o644); err != nil {
		t.Fatal(err)
	}
	d, err := c.ShareDirectory(ctx, dir, "*.csv", "")
	if err != nil {
		t.Fatalf("ShareDirectory() error: %v", err)
	}
	if d.SessionID == "" || len(d.Files) != 1 || d.Files[0].Size != 3 {
		t.Errorf("ShareDirectory() = %+v", d)
	}

	list, err := c.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions() error: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("len(ListSessions()) = %d, want 2", len(list))
	}

	r, err := c.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error: %v", err)
	}
	if r.Sessions != 0 || r.Tokens != 0 {
		t.Errorf("Sweep() = %+v, want nothing removed", r)
	}
}

func TestUploadsAdmin(t *testing.T) {
	ts := newServer(t)
	c := New(ts.URL)
	ctx := context.Background()

	tok, err := c.CreateToken(ctx, "")
	if err != nil {
		t.Fatalf("CreateToken() error: %v", err)
	}
	res, err := c.Upload(ctx, tok.Token, "scan.png", strings.NewReader("png"))
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}

	list, err := c.ListUploads(ctx)
	if err != nil {
		t.Fatalf("ListUploads() error: %v", err)
	}
	if len(list) != 1 || list[0].Name != res.Filename || list[0].Size != 3 || list[0].Modified.IsZero() {
		t.Fatalf("ListUploads() = %+v", list)
	}

	if err := c.DeleteUpload(ctx, res.Filename); err != nil {
		t.Fatalf("DeleteUpload() error: %v", err)
	}
	err = c.DeleteUpload(ctx, res.Filename)
	if !IsStatus(err, http.StatusNotFound) || IsAdminDisabled(err) {
		t.Fatalf("second DeleteUpload() error = %v, want plain 404", err)
	}
	if list, _ := c.ListUploads(ctx); len(list) != 0 {
		t.Errorf("ListUploads() after delete = %+v", list)
	}
}

func TestAdminDisabled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Allow", "GET, HEAD")
		w.WriteHeader(http.StatusMethodNotAllowed)
		json.NewEncoder(w).Encode(map[string]string{"error": "method not allowed", "code": "method_not_allowed"}) //nolint:errcheck
	}))
	defer srv.Close()
	c := New(srv.URL)
	ctx := context.Background()

	_, err := c.Sweep(ctx)
	if !IsAdminDisabled(err) || !IsStatus(err, http.StatusMethodNotAllowed) {
		t.Fatalf("Sweep() error = %v", err)
	}
	if !strings.Contains(err.Error(), "server started without --admin-api") {
		t.Errorf("Sweep() error = %q", err)
	}
	if _, err := c.ListUploads(ctx); !IsAdminDisabled(err) {
		t.Fatalf("ListUploads() error = %v", err)
	}
	if err := c.DeleteUpload(ctx, "a.txt"); !IsAdminDisabled(err) {
		t.Fatalf("DeleteUpload() error = %v", err)
	}

	// Public routes keep their own errors.
	_, err = c.GetSession(ctx, "nope")
	if !IsStatus(err, http.StatusNotFound) || IsAdminDisabled(err) {
		t.Fatalf("GetSession() error = %v", err)
	}
}

func TestErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGone)
		json.NewEncoder(w).Encode(map[string]string{"error": "token expired", "code": "expired"}) //nolint:errcheck
	}))
	defer srv.Close()

	_, err := New(srv.URL).CheckToken(context.Background(), "abc")
	if !IsStatus(err, http.StatusGone) {
		t.Fatalf("error = %v, want 410", err)
	}
	if got := err.Error(); !strings.Contains(got, "(expired): token expired") {
		t.Errorf("error = %q", got)
	}
}

func TestPlainErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "read-only", http.StatusMethodNotAllowed)
	}))
	defer srv.Close()

	_, err := New(srv.URL).ListSessions(context.Background())
	if err == nil || !strings.Contains(err.Error(), "HTTP 405: read-only") {
		t.Fatalf("error = %v", err)
	}
}
