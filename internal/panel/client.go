package panel

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// restClient is the HTTP plumbing shared by all adapters: JSON and form
// requests against a base URL with per-adapter auth headers or cookies.
type restClient struct {
	baseURL string
	client  *http.Client
	headers map[string]string
}

func newRESTClient(baseURL string, timeout time.Duration, insecure bool) *restClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := http.DefaultTransport
	if insecure {
		transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	}
	jar, _ := cookiejar.New(nil)
	return &restClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
			Jar:       jar,
		},
		headers: map[string]string{},
	}
}

func (c *restClient) setHeader(key, value string) {
	c.headers[key] = value
}

func (c *restClient) clearHeader(key string) {
	delete(c.headers, key)
}

// do issues the request and returns status plus body. Non-2xx responses are
// returned to the caller for interpretation, not swallowed here.
func (c *restClient) do(ctx context.Context, method, path string, body io.Reader, contentType string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrRemote, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

func (c *restClient) getJSON(ctx context.Context, path string, result any) (int, error) {
	status, data, err := c.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return status, err
	}
	return status, decodeJSON(status, data, result)
}

func (c *restClient) postJSON(ctx context.Context, path string, body, result any) (int, error) {
	return c.sendJSON(ctx, http.MethodPost, path, body, result)
}

func (c *restClient) putJSON(ctx context.Context, path string, body, result any) (int, error) {
	return c.sendJSON(ctx, http.MethodPut, path, body, result)
}

func (c *restClient) deleteReq(ctx context.Context, path string) (int, error) {
	status, _, err := c.do(ctx, http.MethodDelete, path, nil, "")
	return status, err
}

func (c *restClient) sendJSON(ctx context.Context, method, path string, body, result any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	status, data, err := c.do(ctx, method, path, reader, "application/json")
	if err != nil {
		return status, err
	}
	return status, decodeJSON(status, data, result)
}

// postForm submits form-encoded credentials, the shape every panel login
// endpoint in this family expects.
func (c *restClient) postForm(ctx context.Context, path string, form url.Values, result any) (int, error) {
	status, data, err := c.do(ctx, http.MethodPost, path, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return status, err
	}
	return status, decodeJSON(status, data, result)
}

// getRaw returns the raw body for callers that parse tolerant shapes.
func (c *restClient) getRaw(ctx context.Context, path string) (int, []byte, error) {
	return c.do(ctx, http.MethodGet, path, nil, "")
}

func decodeJSON(status int, data []byte, result any) error {
	if result == nil {
		return nil
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("parse response (status %d): %w", status, err)
	}
	return nil
}

func statusOK(status int) bool {
	return status >= 200 && status < 300
}
