package upload

import (
	"bytes"
	"mime"
	"net/url"
	"strings"

	"handoff/internal/apperr"
)

// Part is one decoded multipart section.
type Part struct {
	Header   map[string]string // keys lowercased
	Name     string
	Filename string
	HasFile  bool // a filename attribute was present, even if empty
	Data     []byte
}

type parseState int

const (
	statePreamble parseState = iota
	stateHeaders
	stateBody
	stateTrailer
	stateDone
)

var (
	crlf     = []byte("\r\n")
	crlfcrlf = []byte("\r\n\r\n")
	dashes   = []byte("--")
)

// Boundary extracts the boundary parameter from a multipart/form-data
// Content-Type header value.
func Boundary(contentType string) (string, error) {
	const op = "upload.Boundary"
	if !strings.Contains(strings.ToLower(contentType), "multipart/form-data") {
		return "", apperr.E(op, apperr.ErrMalformed, "expected multipart/form-data")
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err == nil && params["boundary"] != "" {
		return params["boundary"], nil
	}
	// Lenient fallback for headers mime rejects, e.g. a trailing ';'.
	for _, p := range strings.Split(contentType, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if ok && strings.EqualFold(strings.TrimSpace(k), "boundary") {
			v = strings.Trim(strings.TrimSpace(v), `"`)
			if v != "" {
				return v, nil
			}
		}
	}
	return "", apperr.E(op, apperr.ErrMalformed, "missing boundary")
}

// Parser walks a buffered multipart body one state at a time.
type Parser struct {
	buf   []byte
	delim []byte // "--" + boundary
	pos   int
	state parseState
	cur   *Part
}

func NewParser(body []byte, boundary string) *Parser {
	return &Parser{buf: body, delim: []byte("--" + boundary)}
}

// Next returns the next part, or (nil, nil) once the closing boundary or the
// end of input is reached.
func (p *Parser) Next() (*Part, error) {
	const op = "upload.Parser"
	for {
		switch p.state {
		case statePreamble:
			i := p.indexDelim(0)
			if i < 0 {
				return nil, apperr.E(op, apperr.ErrMalformed, "boundary not found")
			}
			p.pos = i + len(p.delim)
			p.state = stateTrailer

		case stateTrailer:
			rest := p.buf[p.pos:]
			if bytes.HasPrefix(rest, dashes) {
				p.state = stateDone
				continue
			}
			rest = bytes.TrimLeft(rest, " \t")
			switch {
			case bytes.HasPrefix(rest, crlf):
				p.pos = len(p.buf) - len(rest) + 2
			case bytes.HasPrefix(rest, []byte("\n")):
				p.pos = len(p.buf) - len(rest) + 1
			case len(rest) == 0:
				p.state = stateDone
				continue
			default:
				return nil, apperr.E(op, apperr.ErrMalformed, "garbage after boundary")
			}
			p.state = stateHeaders

		case stateHeaders:
			rest := p.buf[p.pos:]
			end, sep := bytes.Index(rest, crlfcrlf), 4
			if lf := bytes.Index(rest, []byte("\n\n")); lf >= 0 && (end < 0 || lf < end) {
				end, sep = lf, 2
			}
			if end < 0 {
				return nil, apperr.E(op, apperr.ErrMalformed, "unterminated part headers")
			}
			p.cur = newPart(rest[:end])
			p.pos += end + sep
			p.state = stateBody

		case stateBody:
			part := p.cur
			p.cur = nil
			i := p.indexDelim(p.pos)
			if i < 0 {
				// No closing boundary: keep what arrived.
				part.Data = trimArtifacts(p.buf[p.pos:], false)
				p.pos = len(p.buf)
				p.state = stateDone
				return part, nil
			}
			part.Data = trimArtifacts(p.buf[p.pos:i], true)
			p.pos = i + len(p.delim)
			p.state = stateTrailer
			return part, nil

		case stateDone:
			return nil, nil
		}
	}
}

// indexDelim finds the next delimiter at or after from that starts a line.
func (p *Parser) indexDelim(from int) int {
	for from <= len(p.buf) {
		i := bytes.Index(p.buf[from:], p.delim)
		if i < 0 {
			return -1
		}
		at := from + i
		if at == 0 || p.buf[at-1] == '\n' {
			return at
		}
		from = at + 1
	}
	return -1
}

// trimArtifacts drops the line break that belongs to the following
// delimiter. An unterminated body may also end in a dangling "\r\n--" left by
// a truncated closer.
func trimArtifacts(b []byte, terminated bool) []byte {
	if !terminated && bytes.HasSuffix(b, []byte("\r\n--")) {
		return b[:len(b)-4]
	}
	switch {
	case bytes.HasSuffix(b, crlf):
		return b[:len(b)-2]
	case bytes.HasSuffix(b, []byte("\n")):
		return b[:len(b)-1]
	}
	return b
}

func newPart(block []byte) *Part {
	part := &Part{Header: map[string]string{}}
	for _, line := range strings.Split(string(block), "\n") {
		k, v, ok := strings.Cut(strings.TrimRight(line, "\r"), ":")
		if !ok {
			continue
		}
		part.Header[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	params := dispositionParams(part.Header["content-disposition"])
	part.Name = params["name"]
	if fn, ok := params["filename*"]; ok {
		part.HasFile = true
		part.Filename = decodeExtValue(fn)
	}
	if fn, ok := params["filename"]; ok {
		part.HasFile = true
		if part.Filename == "" {
			part.Filename = fn
		}
	}
	part.Filename = strings.ToValidUTF8(part.Filename, "�")
	return part
}

// dispositionParams parses `form-data; name="a"; filename="b"`. Quoted values
// may contain ';'. A backslash only escapes '"' or '\\', so Windows paths
// survive intact.
func dispositionParams(v string) map[string]string {
	out := map[string]string{}
	i := strings.IndexByte(v, ';')
	if i < 0 {
		return out
	}
	s := v[i+1:]
	for len(s) > 0 {
		s = strings.TrimLeft(s, " \t;")
		eq := strings.IndexByte(s, '=')
		if eq < 0 {
			break
		}
		key := strings.ToLower(strings.TrimSpace(s[:eq]))
		s = strings.TrimLeft(s[eq+1:], " \t")
		var val string
		if strings.HasPrefix(s, `"`) {
			var b strings.Builder
			j := 1
			for ; j < len(s); j++ {
				c := s[j]
				if c == '\\' && j+1 < len(s) && (s[j+1] == '"' || s[j+1] == '\\') {
					j++
					b.WriteByte(s[j])
					continue
				}
				if c == '"' {
					break
				}
				b.WriteByte(c)
			}
			val = b.String()
			if j < len(s) {
				j++
			}
			s = s[j:]
		} else {
			end := strings.IndexByte(s, ';')
			if end < 0 {
				end = len(s)
			}
			val = strings.TrimSpace(s[:end])
			s = s[end:]
		}
		if key != "" {
			out[key] = val
		}
	}
	return out
}

// decodeExtValue decodes an RFC 5987 extended value such as
//
//	UTF-8''na%C3%AFve.txt
func decodeExtValue(v string) string {
	parts := strings.SplitN(v, "'", 3)
	if len(parts) != 3 {
		return v
	}
	s, err := url.PathUnescape(parts[2])
	if err != nil {
		return parts[2]
	}
	return s
}

// FirstFile returns the first part that carries a filename attribute.
func FirstFile(body []byte, boundary string) (*Part, error) {
	p := NewParser(body, boundary)
	for {
		part, err := p.Next()
		if err != nil {
			return nil, err
		}
		if part == nil {
			return nil, apperr.E("upload.FirstFile", apperr.ErrMalformed, "no file in request")
		}
		if part.HasFile {
			return part, nil
		}
	}
}
