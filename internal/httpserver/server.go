package httpserver

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/webdav"

	"handoff/internal/apperr"
	"handoff/internal/config"
	"handoff/internal/dlkey"
	"handoff/internal/metrics"
	"handoff/internal/reaper"
	"handoff/internal/session"
	"handoff/internal/state"
	"handoff/internal/token"
	"handoff/internal/upload"
)

type Options struct {
	Config   config.Config
	Store    *state.Store
	Tokens   *token.Issuer
	Sessions *session.Manager
	Uploads  *upload.Handler
	Reaper   *reaper.Reaper
	Metrics  *metrics.Metrics // optional
	Log      logrus.FieldLogger
}

type Server struct {
	cfg      config.Config
	store    *state.Store
	tokens   *token.Issuer
	sessions *session.Manager
	uploads  *upload.Handler
	reaper   *reaper.Reaper
	metrics  *metrics.Metrics
	log      logrus.FieldLogger

	pages    *template.Template
	thumbs   *cache.Cache
	davLocks webdav.LockSystem
}

//go:embed web/*.html
var embeddedWeb embed.FS

func New(opts Options) (*Server, error) {
	if opts.Store == nil || opts.Tokens == nil || opts.Sessions == nil || opts.Uploads == nil || opts.Reaper == nil {
		return nil, errors.New("httpserver: missing component")
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	pages, err := template.New("").Funcs(template.FuncMap{
		"short": shortID,
	}).ParseFS(embeddedWeb, "web/*.html")
	if err != nil {
		return nil, fmt.Errorf("httpserver: parse templates: %w", err)
	}
	return &Server{
		cfg:      opts.Config,
		store:    opts.Store,
		tokens:   opts.Tokens,
		sessions: opts.Sessions,
		uploads:  opts.Uploads,
		reaper:   opts.Reaper,
		metrics:  opts.Metrics,
		log:      opts.Log,
		pages:    pages,
		thumbs:   cache.New(10*time.Minute, 20*time.Minute),
		davLocks: webdav.NewMemLS(),
	}, nil
}

// Handler returns the routed handler with the middleware stack applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)

	// tokens + uploads
	mux.HandleFunc("/api/create_token", s.handleCreateToken)
	mux.HandleFunc("/api/token", s.handleCreateToken)
	mux.HandleFunc("/api/check/", s.handleCheck)
	mux.HandleFunc("/upload", s.handleQuickUpload)
	mux.HandleFunc("/upload/", s.handleUpload)

	// sessions
	mux.HandleFunc("/api/share", s.handleShare)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/", s.handleSessionDetail)
	mux.HandleFunc("/d/", s.handleDownloadKey)

	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	if s.cfg.WebDAV {
		mux.HandleFunc("/dav/", s.handleDAV)
	}
	if s.cfg.AdminAPI {
		mux.Handle("/api/admin/", loopbackOnly(http.HandlerFunc(s.handleAdmin)))
	}

	// index, short query links, /{session} and /{session}/{file}
	mux.HandleFunc("/", s.handleRoot)

	return withRequestID(s.withLogging(withHeaders(mux)))
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// Short forms used in chat-friendly links.
	if u := strings.TrimSpace(q.Get("u")); u != "" {
		s.serveUploadToken(w, r, u)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		s.methodNotAllowed(w, r, "GET, HEAD")
		return
	}
	if d := strings.TrimSpace(q.Get("d")); d != "" {
		s.redirectKey(w, r, d)
		return
	}
	if sid, f := strings.TrimSpace(q.Get("s")), q.Get("f"); sid != "" && f != "" {
		s.serveFile(w, r, sid, f)
		return
	}

	p := strings.Trim(r.URL.Path, "/")
	switch p {
	case "", "files":
		s.handleIndex(w, r)
		return
	case "Загрузи":
		s.handleQuickUpload(w, r)
		return
	}
	sid, name, hasFile := strings.Cut(p, "/")
	if !hasFile {
		s.handleSessionPage(w, r, sid)
		return
	}
	s.serveFile(w, r, sid, name)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"status": "ok", "time": s.store.Now().Format(time.RFC3339)})
}

// --- links ---

// baseURL is the configured public prefix or one derived from the request.
func (s *Server) baseURL(r *http.Request) string {
	if s.cfg.BaseURL != "" {
		return strings.TrimRight(s.cfg.BaseURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p == "http" || p == "https" {
		scheme = p
	}
	return scheme + "://" + r.Host
}

func filePath(sid, name string) string {
	return "/" + url.PathEscape(sid) + "/" + url.PathEscape(name)
}

type fileLink struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	ShortURL string `json:"short_url"`
	Thumb    string `json:"-"`
}

func (s *Server) fileLinks(r *http.Request, sid string, files []string) []fileLink {
	base := s.baseURL(r)
	out := make([]fileLink, 0, len(files))
	for _, f := range files {
		l := fileLink{
			Name:     f,
			URL:      base + filePath(sid, f),
			ShortURL: base + "/d/" + dlkey.Encode(sid, f),
		}
		if s.cfg.Thumbnails && isImageExt(strings.ToLower(filepath.Ext(f))) {
			l.Thumb = filePath(sid, f) + "?thumb=1"
		}
		out = append(out, l)
	}
	return out
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// --- responses ---

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// writeError maps err onto a status code and the {error, code} body. Causes
// are logged, never sent.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.Status(err)
	if status >= 500 {
		s.log.WithError(err).WithField("rid", RequestIDFromContext(r.Context())).Error("request failed")
	}
	writeJSONStatus(w, status, errorBody{Error: apperr.Message(err), Code: apperr.Code(err)})
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, r *http.Request, allow string) {
	w.Header().Set("Allow", allow)
	writeJSONStatus(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed", Code: "method_not_allowed"})
}

// decodeJSON reads an optional JSON object body into v. An empty body leaves
// v untouched.
func decodeJSON(r *http.Request, v any) error {
	const op = "httpserver.decodeJSON"
	b, err := io.ReadAll(io.LimitReader(r.Body, 1<<20+1))
	if err != nil {
		return apperr.Wrap(op, apperr.ErrMalformed, err)
	}
	if len(b) > 1<<20 {
		return apperr.E(op, apperr.ErrTooLarge, "request body too large")
	}
	if strings.TrimSpace(string(b)) == "" {
		return nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return apperr.E(op, apperr.ErrMalformed, "invalid JSON body")
	}
	return nil
}

// contentDisposition builds an attachment header that survives non-ASCII
// names: a sanitized ASCII filename plus an RFC 5987 filename*.
func contentDisposition(name string) string {
	ascii := make([]rune, 0, len(name))
	for _, c := range name {
		switch {
		case c == '"' || c == '\\' || c < 0x20 || c == 0x7f:
			ascii = append(ascii, '_')
		case c > 0x7e:
			ascii = append(ascii, '_')
		default:
			ascii = append(ascii, c)
		}
	}
	return fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`, string(ascii), url.PathEscape(name))
}

func isImageExt(ext string) bool {
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return true
	default:
		return false
	}
}

func contentTypeForName(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return "application/octet-stream"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	// Fallbacks for systems with sparse mime tables.
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".csv":
		return "text/csv; charset=utf-8"
	case ".txt", ".log", ".md", ".json", ".yaml", ".yml":
		return "text/plain; charset=utf-8"
	case ".zip":
		return "application/zip"
	default:
		return "application/octet-stream"
	}
}
