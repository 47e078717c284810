package httpserver

import (
	"bytes"
	"net/http"
	"path/filepath"
	"strings"

	"golang.org/x/net/webdav"

	"handoff/internal/apperr"
	"handoff/internal/dlkey"
)

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	var buf bytes.Buffer
	if err := s.pages.ExecuteTemplate(&buf, name, data); err != nil {
		s.log.WithError(err).WithField("template", name).Error("render failed")
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(buf.Bytes())
	}
}

// renderError is the HTML counterpart of writeError for browser routes.
func (s *Server) renderError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.Status(err)
	if status >= 500 {
		s.log.WithError(err).WithField("rid", RequestIDFromContext(r.Context())).Error("request failed")
	}
	title := "Not found"
	switch apperr.Code(err) {
	case "expired":
		title = "Link expired"
	case "already_used":
		title = "Link already used"
	case "malformed":
		title = "Invalid link"
	case "too_large":
		title = "Too large"
	case "io_failure":
		title = "Server error"
	}
	s.render(w, r, status, "error.html", map[string]any{
		"Status":  status,
		"Title":   title,
		"Message": apperr.Message(err),
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	list, err := s.sessions.List()
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	views := make([]sessionView, 0, len(list))
	for _, info := range list {
		views = append(views, s.view(r, info))
	}
	s.render(w, r, http.StatusOK, "index.html", map[string]any{"Sessions": views})
}

func (s *Server) handleSessionPage(w http.ResponseWriter, r *http.Request, sid string) {
	info, err := s.sessions.Get(sid)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "session.html", map[string]any{
		"Session": s.view(r, info),
		"WebDAV":  s.cfg.WebDAV,
	})
}

// serveFile streams one session file as an attachment, or its thumbnail.
func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, sid, name string) {
	if s.cfg.Thumbnails && r.URL.Query().Get("thumb") == "1" {
		s.serveThumb(w, r, sid, name)
		return
	}
	f, st, err := s.sessions.Open(sid, name)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	defer f.Close()

	if s.metrics != nil {
		s.metrics.Downloads.Inc()
	}
	w.Header().Set("Content-Type", contentTypeForName(st.Name()))
	w.Header().Set("Content-Disposition", contentDisposition(st.Name()))
	http.ServeContent(w, r, st.Name(), st.ModTime(), f)
}

func (s *Server) serveThumb(w http.ResponseWriter, r *http.Request, sid, name string) {
	if !isImageExt(strings.ToLower(filepath.Ext(name))) {
		s.renderError(w, r, apperr.E("httpserver.thumb", apperr.ErrNotFound, "no thumbnail"))
		return
	}
	f, st, err := s.sessions.Open(sid, name)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	defer f.Close()

	key := thumbKey(sid, name, st.ModTime().UnixNano(), st.Size())
	b, ok := s.thumbs.Get(key)
	if !ok {
		tb, err := makeThumb(f, 256)
		if err != nil {
			s.renderError(w, r, apperr.E("httpserver.thumb", apperr.ErrNotFound, "no thumbnail"))
			return
		}
		s.thumbs.SetDefault(key, tb)
		b = tb
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "private, max-age=600")
	_, _ = w.Write(b.([]byte))
}

func (s *Server) handleDownloadKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		s.methodNotAllowed(w, r, "GET, HEAD")
		return
	}
	key, _, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/d/"), "/")
	s.redirectKey(w, r, key)
}

// redirectKey decodes an obfuscated key and redirects to the direct link.
// The key is not a secret; the session id is what gates access.
func (s *Server) redirectKey(w http.ResponseWriter, r *http.Request, key string) {
	sid, name, err := dlkey.Decode(key)
	if err != nil {
		s.renderError(w, r, apperr.E("httpserver.redirectKey", apperr.ErrMalformed, "Invalid download link."))
		return
	}
	http.Redirect(w, r, filePath(sid, name), http.StatusFound)
}

// handleDAV serves one live session read-only over WebDAV at /dav/<id>/.
func (s *Server) handleDAV(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET", "HEAD", "OPTIONS", "PROPFIND":
	default:
		w.Header().Set("Allow", "GET, HEAD, OPTIONS, PROPFIND")
		http.Error(w, "read-only", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/dav/")
	sid, _, _ := strings.Cut(rest, "/")
	dir, err := s.sessions.Path(sid)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if rest == sid {
		http.Redirect(w, r, "/dav/"+sid+"/", http.StatusMovedPermanently)
		return
	}
	dav := &webdav.Handler{
		Prefix:     "/dav/" + sid,
		FileSystem: webdav.Dir(dir),
		LockSystem: s.davLocks,
		Logger: func(r *http.Request, err error) {
			if err != nil {
				s.log.WithError(err).WithField("path", r.URL.Path).Debug("webdav")
			}
		},
	}
	dav.ServeHTTP(w, r)
}
