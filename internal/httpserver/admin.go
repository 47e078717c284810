package httpserver

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"handoff/internal/apperr"
	"handoff/internal/session"
	"handoff/internal/upload"
)

// adminHeader marks every response from the mounted admin surface, letting
// clients tell a disabled admin API from a missing resource.
const adminHeader = "X-Handoff-Admin"

// handleAdmin serves the local management surface used by the CLI:
//
//	POST   /api/admin/sessions                 {description}
//	POST   /api/admin/sessions/<id>/files      {filename, content} | {path}
//	POST   /api/admin/share_directory          {path, pattern, description}
//	POST   /api/admin/sweep
//	GET    /api/admin/uploads
//	DELETE /api/admin/uploads/<name>
func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/admin/"), "/")
	if rest == "uploads" {
		if r.Method != http.MethodGet {
			s.methodNotAllowed(w, r, "GET")
			return
		}
		s.adminListUploads(w, r)
		return
	}
	if name, ok := strings.CutPrefix(rest, "uploads/"); ok {
		if r.Method != http.MethodDelete {
			s.methodNotAllowed(w, r, "DELETE")
			return
		}
		s.adminRemoveUpload(w, r, name)
		return
	}
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, r, "POST")
		return
	}
	switch {
	case rest == "sessions":
		s.adminCreateSession(w, r)
	case strings.HasPrefix(rest, "sessions/") && strings.HasSuffix(rest, "/files"):
		id := strings.TrimSuffix(strings.TrimPrefix(rest, "sessions/"), "/files")
		s.adminAddFile(w, r, id)
	case rest == "share_directory":
		s.adminShareDirectory(w, r)
	case rest == "sweep":
		s.adminSweep(w, r)
	default:
		writeJSONStatus(w, http.StatusNotFound, errorBody{Error: "unknown admin route", Code: "not_found"})
	}
}

func (s *Server) adminCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Description string `json:"description"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	info, err := s.sessions.Create(req.Description)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.metrics != nil {
		s.metrics.SessionsCreated.Inc()
	}
	writeJSONStatus(w, http.StatusCreated, s.view(r, info))
}

func (s *Server) adminAddFile(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		Filename string  `json:"filename"`
		Content  *string `json:"content"`
		Path     string  `json:"path"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	var (
		fi  session.FileInfo
		err error
	)
	switch {
	case req.Path != "" && req.Content == nil:
		fi, err = s.sessions.AddFileFromPath(id, req.Path)
	case req.Content != nil && req.Path == "":
		fi, err = s.sessions.AddFile(id, req.Filename, strings.NewReader(*req.Content))
	default:
		err = apperr.E("httpserver.adminAddFile", apperr.ErrMalformed, "exactly one of content or path is required")
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	links := s.fileLinks(r, id, []string{fi.Name})
	writeJSON(w, map[string]any{
		"session_id": id,
		"name":       fi.Name,
		"size":       fi.Size,
		"url":        links[0].URL,
		"short_url":  links[0].ShortURL,
	})
}

func (s *Server) adminShareDirectory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path        string `json:"path"`
		Pattern     string `json:"pattern"`
		Description string `json:"description"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	info, files, err := s.sessions.ShareDirectory(req.Path, req.Pattern, req.Description)
	if errors.Is(err, session.ErrNoMatch) {
		writeJSON(w, map[string]any{"session_id": "", "files": []any{}, "message": "no files matched " + patternOrStar(req.Pattern)})
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.metrics != nil {
		s.metrics.SessionsCreated.Inc()
	}
	v := s.view(r, info)
	sizes := make(map[string]int64, len(files))
	for _, f := range files {
		sizes[f.Name] = f.Size
	}
	type sharedFile struct {
		fileLink
		Size int64 `json:"size"`
	}
	out := make([]sharedFile, 0, len(v.Files))
	for _, l := range v.Files {
		out = append(out, sharedFile{fileLink: l, Size: sizes[l.Name]})
	}
	writeJSON(w, map[string]any{
		"session_id": info.ID,
		"url":        v.URL,
		"expires":    info.Expires.Format(time.RFC3339),
		"files":      out,
	})
}

func patternOrStar(p string) string {
	if p == "" {
		return "*"
	}
	return p
}

func (s *Server) adminSweep(w http.ResponseWriter, r *http.Request) {
	res, err := s.reaper.Sweep()
	if err != nil {
		s.writeError(w, r, apperr.Wrap("httpserver.adminSweep", apperr.ErrIO, err))
		return
	}
	writeJSON(w, res)
}

func (s *Server) adminListUploads(w http.ResponseWriter, r *http.Request) {
	list, err := s.uploads.List()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []upload.Stored{}
	}
	writeJSON(w, map[string]any{"uploads": list})
}

func (s *Server) adminRemoveUpload(w http.ResponseWriter, r *http.Request, name string) {
	if err := s.uploads.Remove(name); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"deleted": name})
}
