// Package backend is the HTTP adapter for the marketplace REST API.
//
// Every Client owns a cookie jar: the backend authenticates with HttpOnly
// cookies set by login/register, so one Client corresponds to one signed-in
// browser. Requests are single attempts; nothing is retried here.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"questboard/internal/metrics"
)

// Client calls the marketplace backend.
type Client struct {
	BaseURL string
	HTTP    *http.Client

	base           *url.URL
	jar            *jar
	logger         *slog.Logger
	onUnauthorized func(endpoint string)
}

// Option configures the client.
type Option func(*Client)

// WithTimeout sets the transport timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.HTTP.Timeout = d }
}

// WithTransport swaps the round tripper, keeping the cookie jar.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.HTTP.Transport = rt }
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// OnUnauthorized registers a hook invoked for every 401 response. The
// response is still returned to the caller as an error.
func OnUnauthorized(fn func(endpoint string)) Option {
	return func(c *Client) { c.onUnauthorized = fn }
}

// New creates a client for baseURL with an empty cookie jar.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("backend: parse base url: %w", err)
	}
	j, err := newJar()
	if err != nil {
		return nil, fmt.Errorf("backend: cookie jar: %w", err)
	}
	c := &Client{
		BaseURL: baseURL,
		base:    base,
		jar:     j,
		logger:  slog.Default(),
		HTTP: &http.Client{
			Jar:     j,
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Cookies returns the credentials currently held for the backend.
func (c *Client) Cookies() []*http.Cookie {
	return c.jar.Cookies(c.base)
}

// SetCookies restores previously saved credentials.
func (c *Client) SetCookies(cookies []*http.Cookie) {
	if len(cookies) == 0 {
		return
	}
	c.jar.SetCookies(c.base, cookies)
}

// ClearCookies drops every credential held for the backend.
func (c *Client) ClearCookies() {
	c.jar.reset()
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("backend: encode %s: %w", path, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

// doMultipart posts fields and one optional file as multipart/form-data.
func (c *Client) doMultipart(ctx context.Context, path string, fields map[string]string, file *File, out any) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return fmt.Errorf("backend: write field %s: %w", k, err)
		}
	}
	if file != nil {
		part, err := w.CreateFormFile(file.Field, file.Name)
		if err != nil {
			return fmt.Errorf("backend: create form file: %w", err)
		}
		if _, err := io.Copy(part, file.Content); err != nil {
			return fmt.Errorf("backend: write file: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	endpoint := endpointLabel(req.Method, req.URL.Path, c.base.Path)
	start := time.Now()

	resp, err := c.HTTP.Do(req)
	if err != nil {
		metrics.ObserveBackend(endpoint, 0, time.Since(start))
		return fmt.Errorf("backend request %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()
	metrics.ObserveBackend(endpoint, resp.StatusCode, time.Since(start))

	if resp.StatusCode == http.StatusUnauthorized {
		metrics.ObserveUnauthorized()
		if c.onUnauthorized != nil {
			c.onUnauthorized(endpoint)
		}
	}

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		apiErr := parseError(resp.StatusCode, bodyBytes)
		c.logger.Debug("backend error", "endpoint", endpoint, "status", resp.StatusCode, "message", apiErr.Message)
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("backend: decode %s: %w", endpoint, err)
	}
	return nil
}

// endpointLabel collapses numeric path segments so metric labels stay bounded.
func endpointLabel(method, path, basePath string) string {
	path = strings.TrimPrefix(path, basePath)
	segs := strings.Split(strings.Trim(path, "/"), "/")
	for i, s := range segs {
		if s != "" && strings.Trim(s, "0123456789") == "" {
			segs[i] = ":id"
		}
	}
	return method + " /" + strings.Join(segs, "/")
}

// File is an upload attached to a multipart request.
type File struct {
	Field   string
	Name    string
	Content io.Reader
}

// jar is a cookie jar that can be emptied while requests are in flight.
type jar struct {
	mu    sync.RWMutex
	inner *cookiejar.Jar
}

func newJar() (*jar, error) {
	inner, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &jar{inner: inner}, nil
}

func (j *jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	j.inner.SetCookies(u, cookies)
}

func (j *jar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.inner.Cookies(u)
}

func (j *jar) reset() {
	inner, _ := cookiejar.New(nil)
	j.mu.Lock()
	j.inner = inner
	j.mu.Unlock()
}
