// Package upload accepts one file per token.
//
// A request is checked in a fixed order: token, declared size, content type.
// The body is then buffered (capped at the limit plus one byte, whatever the
// declared length said), parsed, and written into the uploads dir while the
// token is consumed under the store lock.
package upload

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"handoff/internal/apperr"
	"handoff/internal/dedup"
	"handoff/internal/fsutil"
	"handoff/internal/state"
	"handoff/internal/token"
)

const DefaultMaxBytes int64 = 50 << 20

// Result is what a successful upload stored.
type Result struct {
	Filename string
	Size     int64
	Checksum string
}

type Handler struct {
	store  *state.Store
	issuer *token.Issuer
	dir    string
	max    int64
	now    func() time.Time
	log    logrus.FieldLogger
}

// New returns a Handler writing into store's uploads dir.
func New(store *state.Store, issuer *token.Issuer, maxBytes int64, log logrus.FieldLogger) *Handler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Handler{
		store:  store,
		issuer: issuer,
		dir:    store.UploadsDir(),
		max:    maxBytes,
		now:    store.Now,
		log:    log,
	}
}

func (h *Handler) MaxBytes() int64 { return h.max }

// Receive handles one upload for tokenID. contentLength is the declared body
// length, -1 when unknown.
func (h *Handler) Receive(tokenID, contentType string, contentLength int64, body io.Reader) (Result, error) {
	const op = "upload.Receive"

	if err := h.issuer.Precheck(tokenID); err != nil {
		return Result{}, err
	}
	if contentLength > h.max {
		return Result{}, apperr.E(op, apperr.ErrTooLarge, tooLargeMsg(h.max))
	}
	boundary, err := Boundary(contentType)
	if err != nil {
		return Result{}, err
	}

	buf, err := io.ReadAll(io.LimitReader(body, h.max+1))
	if err != nil {
		return Result{}, apperr.Wrap(op, apperr.ErrMalformed, err)
	}
	if int64(len(buf)) > h.max {
		return Result{}, apperr.E(op, apperr.ErrTooLarge, tooLargeMsg(h.max))
	}

	part, err := FirstFile(buf, boundary)
	if err != nil {
		return Result{}, err
	}

	var written string
	rc, err := h.issuer.Consume(tokenID, func() (token.Receipt, error) {
		name, dst, err := h.target(part.Filename)
		if err != nil {
			return token.Receipt{}, err
		}
		if err := fsutil.WriteFileAtomic(dst, part.Data, 0o644); err != nil {
			return token.Receipt{}, apperr.Wrap(op, apperr.ErrIO, err)
		}
		written = dst
		return token.Receipt{
			Filename: name,
			Size:     int64(len(part.Data)),
			Checksum: dedup.Sum(part.Data),
		}, nil
	})
	if err != nil {
		// The token stays pending, so the file must not outlive the failure.
		if written != "" {
			_ = os.Remove(written)
		}
		return Result{}, err
	}
	h.log.WithFields(logrus.Fields{"filename": rc.Filename, "size": rc.Size}).Info("upload stored")
	return Result{Filename: rc.Filename, Size: rc.Size, Checksum: rc.Checksum}, nil
}

func tooLargeMsg(limit int64) string {
	return fmt.Sprintf("file too large (max %d MB)", limit>>20)
}

// StoredName turns a client filename into name_<unix>.ext.
func StoredName(filename string, now time.Time) string {
	stem, ext := splitName(filename)
	return fmt.Sprintf("%s_%d%s", stem, now.Unix(), ext)
}

func splitName(filename string) (string, string) {
	base := fsutil.BaseName(filename)
	if base == "" {
		base = "upload"
	}
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" {
		// ".env" has no extension to preserve.
		return base, ""
	}
	return stem, ext
}

// target picks a free name in the uploads dir. Runs under the store lock, so
// two uploads in the same second cannot pick the same name.
func (h *Handler) target(filename string) (string, string, error) {
	now := h.now()
	stem, ext := splitName(filename)
	ts := now.Unix()
	for n := 0; n < 10000; n++ {
		name := StoredName(filename, now)
		if n > 0 {
			name = fmt.Sprintf("%s_%d_%d%s", stem, ts, n, ext)
		}
		dst, err := fsutil.JoinWithinRoot(h.dir, name)
		if err != nil {
			return "", "", apperr.E("upload.target", apperr.ErrMalformed, "bad filename")
		}
		if _, err := os.Lstat(dst); os.IsNotExist(err) {
			return name, dst, nil
		}
	}
	return "", "", apperr.IOf("upload.target", "no free name for %q", stem+ext)
}

// Stored describes one file in the uploads dir.
type Stored struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// List returns the regular files in the uploads dir, newest first.
func (h *Handler) List() ([]Stored, error) {
	const op = "upload.List"
	var out []Stored
	err := h.store.View(func(*state.Tx) error {
		entries, err := os.ReadDir(h.dir)
		if err != nil {
			return apperr.Wrap(op, apperr.ErrIO, err)
		}
		for _, e := range entries {
			if !e.Type().IsRegular() {
				continue
			}
			fi, err := e.Info()
			if err != nil {
				continue
			}
			out = append(out, Stored{Name: e.Name(), Size: fi.Size(), Modified: fi.ModTime().UTC()})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Modified.Equal(out[j].Modified) {
			return out[i].Modified.After(out[j].Modified)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// Remove deletes name from the uploads dir. Token receipts that mention the
// file are left as they are.
func (h *Handler) Remove(name string) error {
	const op = "upload.Remove"
	err := h.store.Update(func(*state.Tx) error {
		p, err := fsutil.JoinWithinRoot(h.dir, name)
		if err != nil {
			return apperr.E(op, apperr.ErrMalformed, "invalid filename")
		}
		if !fsutil.IsRegular(p) {
			return apperr.E(op, apperr.ErrNotFound, "file not found")
		}
		if err := os.Remove(p); err != nil {
			return apperr.Wrap(op, apperr.ErrIO, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	h.log.WithField("filename", name).Info("upload removed")
	return nil
}
