package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Token is an issued upload link.
type Token struct {
	Token    string `json:"token"`
	URL      string `json:"url"`
	ShortURL string `json:"short_url"`
	Expires  string `json:"expires"`
	QR       string `json:"qr,omitempty"`
}

// TokenStatus is the answer to a token check.
type TokenStatus struct {
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

// FileLink is one file in a session with its direct and short links.
type FileLink struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	ShortURL string `json:"short_url"`
	Size     int64  `json:"size,omitempty"`
}

// Session is a download session as listed by the server.
type Session struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Created     string     `json:"created"`
	Expires     string     `json:"expires"`
	URL         string     `json:"url"`
	Files       []FileLink `json:"files"`
}

// ShareRequest is the payload for sharing one previously stored file.
type ShareRequest struct {
	Filename        string `json:"filename"`
	SourceSessionID string `json:"source_session_id,omitempty"`
	Description     string `json:"description,omitempty"`
}

// Shared is the single-file session created by Share.
type Shared struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
	ShortURL  string `json:"short_url"`
	Expires   string `json:"expires"`
	QR        string `json:"qr,omitempty"`
}

// AddFileRequest adds either inline content or a server-local path.
type AddFileRequest struct {
	Filename string  `json:"filename,omitempty"`
	Content  *string `json:"content,omitempty"`
	Path     string  `json:"path,omitempty"`
}

// AddedFile describes a file placed into a session.
type AddedFile struct {
	SessionID string `json:"session_id"`
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	URL       string `json:"url"`
	ShortURL  string `json:"short_url"`
}

// SharedDirectory is the result of sharing a directory. SessionID is empty
// and Message set when nothing matched.
type SharedDirectory struct {
	SessionID string     `json:"session_id"`
	URL       string     `json:"url"`
	Expires   string     `json:"expires"`
	Files     []FileLink `json:"files"`
	Message   string     `json:"message,omitempty"`
}

// StoredUpload is one file in the server's uploads dir.
type StoredUpload struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// SweepResult counts what one reaper pass removed.
type SweepResult struct {
	Sessions int `json:"sessions"`
	Tokens   int `json:"tokens"`
}

// UploadResult is the server's answer to a successful upload.
type UploadResult struct {
	Success  bool   `json:"success"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

const adminHeader = "X-Handoff-Admin"

// Client talks to a running handoff server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new API client.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CreateToken issues a single-use upload link.
func (c *Client) CreateToken(ctx context.Context, description string) (*Token, error) {
	var t Token
	if err := c.post(ctx, "/api/create_token", map[string]string{"description": description}, &t); err != nil {
		return nil, fmt.Errorf("client.CreateToken: %w", err)
	}
	return &t, nil
}

// CheckToken reports the lifecycle state of an upload token.
func (c *Client) CheckToken(ctx context.Context, token string) (*TokenStatus, error) {
	var st TokenStatus
	if err := c.get(ctx, "/api/check/"+url.PathEscape(token), &st); err != nil {
		return nil, fmt.Errorf("client.CheckToken: %w", err)
	}
	return &st, nil
}

// Upload sends r as the file for token.
func (c *Client) Upload(ctx context.Context, token, filename string, r io.Reader) (*UploadResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("client.Upload: %w", err)
	}
	if _, err := io.Copy(fw, r); err != nil {
		return nil, fmt.Errorf("client.Upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("client.Upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload/"+url.PathEscape(token), &buf)
	if err != nil {
		return nil, fmt.Errorf("client.Upload: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var res UploadResult
	if err := c.send(req, &res); err != nil {
		return nil, fmt.Errorf("client.Upload: %w", err)
	}
	return &res, nil
}

// Share places a stored file into a fresh single-file session.
func (c *Client) Share(ctx context.Context, req ShareRequest) (*Shared, error) {
	var s Shared
	if err := c.post(ctx, "/api/share", req, &s); err != nil {
		return nil, fmt.Errorf("client.Share: %w", err)
	}
	return &s, nil
}

// ListSessions returns live sessions, newest first.
func (c *Client) ListSessions(ctx context.Context) ([]Session, error) {
	var out struct {
		Sessions []Session `json:"sessions"`
	}
	if err := c.get(ctx, "/api/sessions", &out); err != nil {
		return nil, fmt.Errorf("client.ListSessions: %w", err)
	}
	return out.Sessions, nil
}

// GetSession fetches one live session with its file links.
func (c *Client) GetSession(ctx context.Context, id string) (*Session, error) {
	var s Session
	if err := c.get(ctx, "/api/sessions/"+url.PathEscape(id), &s); err != nil {
		return nil, fmt.Errorf("client.GetSession: %w", err)
	}
	return &s, nil
}

// --- admin methods (loopback only) ---

// CreateSession creates an empty download session.
func (c *Client) CreateSession(ctx context.Context, description string) (*Session, error) {
	var s Session
	if err := c.post(ctx, "/api/admin/sessions", map[string]string{"description": description}, &s); err != nil {
		return nil, fmt.Errorf("client.CreateSession: %w", err)
	}
	return &s, nil
}

// AddFile adds a file to session id.
func (c *Client) AddFile(ctx context.Context, id string, req AddFileRequest) (*AddedFile, error) {
	var f AddedFile
	if err := c.post(ctx, "/api/admin/sessions/"+url.PathEscape(id)+"/files", req, &f); err != nil {
		return nil, fmt.Errorf("client.AddFile: %w", err)
	}
	return &f, nil
}

// ShareDirectory shares the files of a server-local directory matching pattern.
func (c *Client) ShareDirectory(ctx context.Context, path, pattern, description string) (*SharedDirectory, error) {
	body := map[string]string{"path": path, "pattern": pattern, "description": description}
	var d SharedDirectory
	if err := c.post(ctx, "/api/admin/share_directory", body, &d); err != nil {
		return nil, fmt.Errorf("client.ShareDirectory: %w", err)
	}
	return &d, nil
}

// Sweep runs one reaper pass on the server.
func (c *Client) Sweep(ctx context.Context) (*SweepResult, error) {
	var r SweepResult
	if err := c.post(ctx, "/api/admin/sweep", nil, &r); err != nil {
		return nil, fmt.Errorf("client.Sweep: %w", err)
	}
	return &r, nil
}

// ListUploads returns the files in the uploads dir, newest first.
func (c *Client) ListUploads(ctx context.Context) ([]StoredUpload, error) {
	var out struct {
		Uploads []StoredUpload `json:"uploads"`
	}
	if err := c.get(ctx, "/api/admin/uploads", &out); err != nil {
		return nil, fmt.Errorf("client.ListUploads: %w", err)
	}
	return out.Uploads, nil
}

// DeleteUpload removes one file from the uploads dir.
func (c *Client) DeleteUpload(ctx context.Context, name string) error {
	if err := c.doRequest(ctx, http.MethodDelete, "/api/admin/uploads/"+url.PathEscape(name), nil, nil); err != nil {
		return fmt.Errorf("client.DeleteUpload: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.doRequest(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	return c.doRequest(ctx, http.MethodPost, path, body, out)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	if adminDisabled(req, resp) {
		return &HTTPError{StatusCode: resp.StatusCode, Message: "server started without --admin-api", Code: CodeAdminDisabled}
	}
	if resp.StatusCode >= 400 {
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if readErr != nil {
			return &HTTPError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to read body: %v", readErr)}
		}
		var apiErr struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			return &HTTPError{StatusCode: resp.StatusCode, Message: apiErr.Error, Code: apiErr.Code}
		}
		return &HTTPError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// adminDisabled reports whether an admin call fell through to the public
// routes. Mounted admin handlers always answer with adminHeader set.
func adminDisabled(req *http.Request, resp *http.Response) bool {
	if resp.StatusCode != http.StatusNotFound && resp.StatusCode != http.StatusMethodNotAllowed {
		return false
	}
	return strings.Contains(req.URL.Path, "/api/admin/") && resp.Header.Get(adminHeader) == ""
}
