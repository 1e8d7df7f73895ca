package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/objectfs/cloudfile/internal/remote"
	"github.com/objectfs/cloudfile/pkg/errors"
	"github.com/objectfs/cloudfile/pkg/utils"
)

const (
	defaultTimeout = 100 * time.Second

	// maxErrorBody bounds how much of a failed response ends up in the error.
	maxErrorBody = 512
)

// Config represents HTTP document service configuration
type Config struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Timeout      time.Duration
}

// Client talks to the document service's JSON API.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	logger  utils.Logger
}

type moveRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type folderRequest struct {
	Path string `json:"path"`
}

type listResponse struct {
	Entries []remote.Entry `json:"entries"`
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(l utils.Logger) Option {
	return func(c *Client) { c.logger = utils.OrNop(l).WithComponent("httpapi") }
}

// WithHTTPClient replaces the HTTP client, bypassing token acquisition.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client. When TokenURL is set, requests carry a bearer token
// obtained with the OAuth2 client-credentials grant and refreshed on expiry.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "base URL is required").
			WithComponent("httpapi")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, "invalid base URL", err).
			WithComponent("httpapi")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	c := &Client{
		baseURL: base,
		logger:  utils.NopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http != nil {
		return c, nil
	}

	transport := &http.Client{Timeout: cfg.Timeout}
	if cfg.TokenURL == "" {
		c.http = transport
		return c, nil
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.NewError(errors.ErrCodeCredentialsMissing, "client_id and client_secret are required with token_url").
			WithComponent("httpapi")
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, transport)
	c.http = cc.Client(ctx)
	c.http.Timeout = cfg.Timeout
	return c, nil
}

func (c *Client) Upload(ctx context.Context, site, path string, data []byte) error {
	resp, err := c.do(ctx, "upload", site, path, http.MethodPut, c.fileURL(site, path), "application/octet-stream", bytes.NewReader(data))
	if err != nil {
		return err
	}
	return drain(resp)
}

func (c *Client) Download(ctx context.Context, site, path string) ([]byte, error) {
	resp, err := c.do(ctx, "download", site, path, http.MethodGet, c.fileURL(site, path), "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeNetworkError, "failed to read response body", err).
			WithComponent("httpapi").
			WithOperation("download").
			WithContext("path", path).
			WithRetryable(true)
	}
	return data, nil
}

func (c *Client) Exists(ctx context.Context, site, path string) (bool, error) {
	resp, err := c.do(ctx, "exists", site, path, http.MethodHead, c.fileURL(site, path), "", nil)
	if errors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, drain(resp)
}

func (c *Client) Delete(ctx context.Context, site, path string) error {
	resp, err := c.do(ctx, "delete", site, path, http.MethodDelete, c.fileURL(site, path), "", nil)
	if err != nil {
		return err
	}
	return drain(resp)
}

func (c *Client) Move(ctx context.Context, site, from, to string) error {
	body, err := json.Marshal(moveRequest{From: from, To: to})
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternalError, "failed to encode move request", err).WithComponent("httpapi")
	}
	resp, err := c.do(ctx, "move", site, from, http.MethodPost, c.siteURL(site, "move"), "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	return drain(resp)
}

func (c *Client) List(ctx context.Context, site, dir string) ([]remote.Entry, error) {
	resp, err := c.do(ctx, "list", site, dir, http.MethodGet, c.siteURL(site, "children", dir), "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out listResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(errors.ErrCodeRemoteDecode, "failed to decode listing", err).
			WithComponent("httpapi").
			WithOperation("list").
			WithContext("path", dir)
	}
	if out.Entries == nil {
		out.Entries = []remote.Entry{}
	}
	return out.Entries, nil
}

func (c *Client) CreateDirectory(ctx context.Context, site, dir string) error {
	if dir == "" {
		return nil
	}
	body, err := json.Marshal(folderRequest{Path: dir})
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternalError, "failed to encode folder request", err).WithComponent("httpapi")
	}
	resp, err := c.do(ctx, "create_directory", site, dir, http.MethodPost, c.siteURL(site, "folders"), "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	return drain(resp)
}

// do sends one request and turns transport failures and non-2xx responses
// into CloudFileError. The caller owns the body of a successful response.
func (c *Client) do(ctx context.Context, operation, site, path, method, target, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodePathInvalid, "failed to build request", err).
			WithComponent("httpapi").
			WithOperation(operation).
			WithContext("path", path)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(ctx, err, operation, site, path)
	}

	c.logger.Debug("Remote call", map[string]interface{}{
		"operation":   operation,
		"site":        site,
		"path":        path,
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, statusError(resp, operation, site, path)
}

func (c *Client) fileURL(site, path string) string {
	return c.siteURL(site, "files", path)
}

func (c *Client) siteURL(site string, parts ...string) string {
	u := *c.baseURL
	segments := []string{u.Path, "sites", url.PathEscape(site)}
	for _, p := range parts {
		for _, seg := range strings.Split(p, "/") {
			if seg != "" {
				segments = append(segments, url.PathEscape(seg))
			}
		}
	}
	u.RawPath = strings.Join(segments, "/")
	u.Path, _ = url.PathUnescape(u.RawPath)
	return u.String()
}

func statusError(resp *http.Response, operation, site, path string) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := fmt.Sprintf("remote returned %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	if s := strings.TrimSpace(string(snippet)); s != "" {
		msg += ": " + s
	}

	if resp.StatusCode == http.StatusNotFound {
		return remote.NotFound("httpapi", operation, site, path)
	}

	code := errors.ErrCodeRemoteStatus
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		code = errors.ErrCodeAuthenticationFailed
	case resp.StatusCode == http.StatusForbidden:
		code = errors.ErrCodeAccessDenied
	case resp.StatusCode == http.StatusTooManyRequests:
		code = errors.ErrCodeThrottled
	case resp.StatusCode == http.StatusConflict:
		code = errors.ErrCodeObjectExists
	}

	cfErr := errors.NewError(code, msg).
		WithComponent("httpapi").
		WithOperation(operation).
		WithContext("site", site).
		WithContext("path", path).
		WithStatus(resp.StatusCode)
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		cfErr = cfErr.WithDetail("retry_after", ra)
	}
	return cfErr
}

func transportError(ctx context.Context, err error, operation, site, path string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var tokenErr *oauth2.RetrieveError
	if stderrors.As(err, &tokenErr) {
		status := 0
		if tokenErr.Response != nil {
			status = tokenErr.Response.StatusCode
		}
		return errors.Wrap(errors.ErrCodeAuthenticationFailed,
			fmt.Sprintf("token endpoint returned %d", status), tokenErr).
			WithComponent("httpapi").
			WithOperation(operation).
			WithContext("site", site).
			WithStatus(status)
	}

	return errors.Wrap(errors.ErrCodeNetworkError, "remote request failed", err).
		WithComponent("httpapi").
		WithOperation(operation).
		WithContext("site", site).
		WithContext("path", path)
}

func drain(resp *http.Response) error {
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}
