package httpserver

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"handoff/internal/apperr"
	"handoff/internal/dlkey"
	"handoff/internal/session"
	"handoff/internal/token"
)

type tokenResponse struct {
	Token    string `json:"token"`
	URL      string `json:"url"`
	ShortURL string `json:"short_url"`
	Expires  string `json:"expires"`
	QR       string `json:"qr,omitempty"`
}

func (s *Server) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, r, "POST")
		return
	}
	var req struct {
		Description string `json:"description"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	iss, err := s.tokens.Issue(req.Description)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.metrics != nil {
		s.metrics.TokensIssued.Inc()
	}
	base := s.baseURL(r)
	link := base + "/upload/" + url.PathEscape(iss.ID)
	writeJSON(w, tokenResponse{
		Token:    iss.ID,
		URL:      link,
		ShortURL: base + "/?u=" + url.QueryEscape(iss.ID),
		Expires:  iss.Expires.Format(time.RFC3339),
		QR:       qrDataURI(link),
	})
}

type checkResponse struct {
	Exists     bool    `json:"exists"`
	Used       bool    `json:"used"`
	Filename   *string `json:"filename"`
	Size       *int64  `json:"size,omitempty"`
	UploadedAt string  `json:"uploaded_at,omitempty"`
	Checksum   string  `json:"checksum,omitempty"`
	Expires    string  `json:"expires,omitempty"`
	Expired    bool    `json:"expired"`
	State      string  `json:"state"`
	Error      string  `json:"error,omitempty"`
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		s.methodNotAllowed(w, r, "GET, POST")
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/check/"), "/")
	st, err := s.tokens.Check(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := checkResponse{State: st.State.String()}
	if st.State == token.NotFound {
		resp.Error = "invalid token"
		writeJSON(w, resp)
		return
	}
	t := st.Token
	resp.Exists = true
	resp.Used = t.Used
	resp.Expired = st.State == token.Expired
	resp.Expires = t.Expires.Format(time.RFC3339)
	if t.Used {
		name := t.Filename
		resp.Filename = &name
		resp.Size = t.Size
		resp.Checksum = t.Checksum
		if t.UploadedAt != nil {
			resp.UploadedAt = t.UploadedAt.Format(time.RFC3339)
		}
	}
	writeJSON(w, resp)
}

// handleQuickUpload issues a token and sends the browser to its form.
func (s *Server) handleQuickUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r, "GET")
		return
	}
	iss, err := s.tokens.Issue("quick upload")
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	if s.metrics != nil {
		s.metrics.TokensIssued.Inc()
	}
	http.Redirect(w, r, "/upload/"+url.PathEscape(iss.ID), http.StatusFound)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/upload/"), "/")
	s.serveUploadToken(w, r, id)
}

// serveUploadToken renders the form on GET and accepts the file on POST.
func (s *Server) serveUploadToken(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		st, err := s.tokens.Check(id)
		if err != nil {
			s.renderError(w, r, err)
			return
		}
		if err := statusErr(st); err != nil {
			s.renderError(w, r, err)
			return
		}
		s.render(w, r, http.StatusOK, "upload.html", map[string]any{
			"Token":     id,
			"PostURL":   "/upload/" + url.PathEscape(id),
			"ExpiresTS": st.Token.Expires.Unix(),
			"MaxMB":     s.uploads.MaxBytes() >> 20,
		})
	case http.MethodPost:
		res, err := s.uploads.Receive(id, r.Header.Get("Content-Type"), r.ContentLength, r.Body)
		if s.metrics != nil {
			s.metrics.Uploads.WithLabelValues(resultCode(err)).Inc()
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if s.metrics != nil {
			s.metrics.UploadBytes.Add(float64(res.Size))
		}
		writeJSON(w, map[string]any{"success": true, "filename": res.Filename, "size": res.Size})
	default:
		s.methodNotAllowed(w, r, "GET, POST")
	}
}

func resultCode(err error) string {
	if err == nil {
		return "ok"
	}
	return apperr.Code(err)
}

// statusErr turns a non-pending token status into the matching error.
func statusErr(st token.Status) error {
	const op = "httpserver.upload"
	switch st.State {
	case token.Pending:
		return nil
	case token.Expired:
		return apperr.E(op, apperr.ErrExpired, "This upload link has expired.")
	case token.Used:
		return apperr.E(op, apperr.ErrAlreadyUsed, "This upload link has already been used.")
	default:
		return apperr.E(op, apperr.ErrNotFound, "This upload link is invalid.")
	}
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
	ShortURL  string `json:"short_url"`
	Expires   string `json:"expires"`
	QR        string `json:"qr,omitempty"`
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, r, "POST")
		return
	}
	var req struct {
		Filename        string `json:"filename"`
		SourceSessionID string `json:"source_session_id"`
		Description     string `json:"description"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	info, err := s.sessions.Share(req.Filename, strings.TrimSpace(req.SourceSessionID), req.Description)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.metrics != nil {
		s.metrics.SessionsCreated.Inc()
	}
	name := info.Files[0]
	base := s.baseURL(r)
	short := base + "/d/" + dlkey.Encode(info.ID, name)
	writeJSON(w, sessionResponse{
		SessionID: info.ID,
		URL:       base + filePath(info.ID, name),
		ShortURL:  short,
		Expires:   info.Expires.Format(time.RFC3339),
		QR:        qrDataURI(short),
	})
}

type sessionView struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Created     string     `json:"created"`
	Expires     string     `json:"expires"`
	URL         string     `json:"url"`
	Files       []fileLink `json:"files"`
}

func (s *Server) view(r *http.Request, info session.Info) sessionView {
	return sessionView{
		ID:          info.ID,
		Description: info.Description,
		Created:     info.Created.Format(time.RFC3339),
		Expires:     info.Expires.Format(time.RFC3339),
		URL:         s.baseURL(r) + "/" + url.PathEscape(info.ID),
		Files:       s.fileLinks(r, info.ID, info.Files),
	}
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r, "GET")
		return
	}
	list, err := s.sessions.List()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]sessionView, 0, len(list))
	for _, info := range list {
		out = append(out, s.view(r, info))
	}
	writeJSON(w, map[string]any{"sessions": out})
}

func (s *Server) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r, "GET")
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/sessions/"), "/")
	info, err := s.sessions.Get(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, s.view(r, info))
}
