// Package dlkey turns a (session, filename) pair into the opaque path segment
// used by /d/ short links and back.
//
// The key is plain unpadded base64url of "session/filename". It hides nothing
// from anyone who decodes it; whoever holds a key can reach the file exactly
// as if they held the session id. Do not treat it as a capability.
package dlkey

import (
	"encoding/base64"
	"path"
	"strings"
	"unicode/utf8"

	"handoff/internal/apperr"
)

const op = "dlkey.Decode"

// Encode returns base64url(sessionID + "/" + filename) without padding.
func Encode(sessionID, filename string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(sessionID + "/" + filename))
}

// Decode reverses Encode. A "/"-separated path in either half is reduced to
// its last element; ".", ".." and NUL are rejected, never rewritten.
func Decode(key string) (sessionID, filename string, err error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", apperr.E(op, apperr.ErrMalformed, "empty key")
	}
	// Padding is stripped on encode; tolerate keys that still carry it.
	key = strings.TrimRight(key, "=")
	if len(key)%4 == 1 {
		return "", "", apperr.E(op, apperr.ErrMalformed, "bad key length")
	}
	raw, err := base64.RawURLEncoding.DecodeString(key)
	if err != nil {
		return "", "", &apperr.Error{Op: op, Kind: apperr.ErrMalformed, Msg: "bad key encoding", Err: err}
	}
	if !utf8.Valid(raw) {
		return "", "", apperr.E(op, apperr.ErrMalformed, "key is not utf-8")
	}
	sid, name, ok := strings.Cut(string(raw), "/")
	if !ok {
		return "", "", apperr.E(op, apperr.ErrMalformed, "missing separator")
	}
	if sid, err = component(sid); err != nil {
		return "", "", err
	}
	if name, err = component(name); err != nil {
		return "", "", err
	}
	return sid, name, nil
}

func component(s string) (string, error) {
	if s == "" {
		return "", apperr.E(op, apperr.ErrMalformed, "empty component")
	}
	if strings.IndexByte(s, 0) >= 0 {
		return "", apperr.E(op, apperr.ErrMalformed, "NUL in key")
	}
	b := path.Base(s)
	if b == "." || b == ".." || b == "/" {
		return "", apperr.E(op, apperr.ErrMalformed, "empty component")
	}
	return b, nil
}
