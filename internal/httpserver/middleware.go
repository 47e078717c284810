package httpserver

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"handoff/internal/ids"
)

type ctxKey string

const requestIDKey ctxKey = "request_id"

// RequestIDFromContext returns the request id if present.
func RequestIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(requestIDKey).(string)
	return s
}

// withRequestID keeps a client supplied X-Request-Id or mints a ULID.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if rid == "" || len(rid) > 128 {
			rid = ids.NewRequestID(time.Now())
		}
		w.Header().Set("X-Request-Id", rid)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, rid)))
	})
}

// withHeaders applies the response hardening every route shares.
func withHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// withLogging logs one entry per request and feeds the request metrics.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(lrw, r)

		d := time.Since(start)
		route := routeOf(r.URL.Path)
		if s.metrics != nil {
			s.metrics.Observe(route, lrw.status, d.Seconds())
		}
		entry := s.log.WithFields(logrus.Fields{
			"rid":    RequestIDFromContext(r.Context()),
			"method": r.Method,
			"path":   r.URL.Path,
			"route":  route,
			"status": lrw.status,
			"ms":     d.Milliseconds(),
			"bytes":  lrw.bytes,
			"ip":     clientIP(r),
		})
		switch {
		case lrw.status >= 500:
			entry.Error("request")
		case lrw.status >= 400:
			entry.Warn("request")
		default:
			entry.Info("request")
		}
	})
}

// routeOf buckets a path into a fixed label set for metrics.
func routeOf(p string) string {
	switch {
	case p == "/":
		return "index"
	case p == "/health":
		return "health"
	case p == "/metrics":
		return "metrics"
	case p == "/api/create_token", p == "/api/token":
		return "create_token"
	case strings.HasPrefix(p, "/api/check/"):
		return "check"
	case p == "/api/share":
		return "share"
	case strings.HasPrefix(p, "/api/admin/"):
		return "admin"
	case strings.HasPrefix(p, "/api/sessions"):
		return "sessions"
	case strings.HasPrefix(p, "/upload"):
		return "upload"
	case strings.HasPrefix(p, "/d/"):
		return "download_key"
	case strings.HasPrefix(p, "/dav/"):
		return "dav"
	case strings.Count(strings.Trim(p, "/"), "/") == 0:
		return "session"
	default:
		return "file"
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// loopbackOnly rejects requests whose TCP peer is not a loopback address.
// Forwarding headers are not consulted.
func loopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(adminHeader, "on")
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			writeJSONStatus(w, http.StatusForbidden, errorBody{Error: "admin API is loopback only", Code: "forbidden"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *loggingResponseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *loggingResponseWriter) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}

func (w *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("underlying ResponseWriter does not support hijacking")
	}
	return hj.Hijack()
}

func (w *loggingResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *loggingResponseWriter) ReadFrom(r io.Reader) (int64, error) {
	if rf, ok := w.ResponseWriter.(io.ReaderFrom); ok {
		n, err := rf.ReadFrom(r)
		w.bytes += n
		return n, err
	}
	n, err := io.Copy(w.ResponseWriter, r)
	w.bytes += n
	return n, err
}

func (w *loggingResponseWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
