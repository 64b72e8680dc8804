// Package pypnm is the HTTP client for the external PyPNM FastAPI service.
// It builds the cable-modem request envelope PyPNM expects and turns
// transport failures into the dashboard's error taxonomy.
package pypnm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"
)

var (
	// ErrUnavailable means PyPNM could not be reached at all.
	ErrUnavailable = errors.New("pypnm unavailable")
	// ErrTimeout means PyPNM accepted the connection but did not answer in time.
	ErrTimeout = errors.New("pypnm request timed out")
	// ErrHTTP means PyPNM answered with a non-2xx status.
	ErrHTTP = errors.New("pypnm http error")
)

// Error carries the user-facing message alongside the error class.
type Error struct {
	Kind       error
	Message    string
	StatusCode int
	Detail     interface{}
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.Kind }

// Result is a decoded PyPNM JSON response.
type Result map[string]interface{}

// Status returns the numeric "status" field PyPNM uses (0 = success).
// A missing or non-numeric status is reported as ok=false.
func (r Result) Status() (int, bool) {
	switch v := r["status"].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	}
	return 0, false
}

const archiveKey = "archive_data"

// Archive returns the ZIP payload of an archive-mode capture. PyPNM either
// streams the ZIP directly or embeds it base64-encoded in JSON.
func (r Result) Archive() ([]byte, bool) {
	switch v := r[archiveKey].(type) {
	case []byte:
		return v, len(v) > 0
	case string:
		data, err := base64.StdEncoding.DecodeString(v)
		return data, err == nil && len(data) > 0
	}
	return nil, false
}

// ErrorResult renders err as the {"status":"error","message":...} body
// returned to the browser.
func ErrorResult(err error) Result {
	r := Result{"status": "error", "message": err.Error()}
	var pe *Error
	if errors.As(err, &pe) && pe.Detail != nil {
		r["detail"] = pe.Detail
	}
	return r
}

// Observer receives one call per request for metrics.
type Observer func(endpoint, outcome string, elapsed time.Duration)

// Options configures a Client.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	TFTPIPv4   string
	TFTPIPv6   string
	HTTPClient *http.Client
	Observer   Observer
}

// Client talks to one PyPNM instance.
type Client struct {
	baseURL  string
	tftpV4   string
	tftpV6   string
	http     *http.Client
	observer Observer
}

// NewClient returns a client for opts.BaseURL (default http://127.0.0.1:8000).
func NewClient(opts Options) *Client {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "http://127.0.0.1:8000"
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{baseURL: base, tftpV4: opts.TFTPIPv4, tftpV6: opts.TFTPIPv6, http: hc, observer: opts.Observer}
}

// BaseURL returns the configured PyPNM root.
func (c *Client) BaseURL() string { return c.baseURL }

// TFTP returns the default TFTP addresses used for captures.
func (c *Client) TFTP() (string, string) { return c.tftpV4, c.tftpV6 }

func (c *Client) do(ctx context.Context, method, path string, payload interface{}) (Result, error) {
	start := time.Now()
	res, err := c.doRequest(ctx, method, path, payload)
	if c.observer != nil {
		outcome := "ok"
		switch {
		case errors.Is(err, ErrUnavailable):
			outcome = "unavailable"
		case errors.Is(err, ErrTimeout):
			outcome = "timeout"
		case err != nil:
			outcome = "error"
		}
		c.observer(path, outcome, time.Since(start))
	}
	return res, err
}

func (c *Client) doRequest(ctx context.Context, method, path string, payload interface{}) (Result, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", path, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.classify(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.classify(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		pe := &Error{Kind: ErrHTTP, StatusCode: resp.StatusCode, Message: fmt.Sprintf("PyPNM returned error: %d", resp.StatusCode)}
		var detail map[string]interface{}
		if json.Unmarshal(raw, &detail) == nil {
			if d, ok := detail["detail"]; ok {
				pe.Detail = d
			}
		} else if len(raw) > 0 {
			pe.Detail = truncate(string(raw), 500)
		}
		return nil, pe
	}

	switch ct := resp.Header.Get("Content-Type"); {
	case strings.HasPrefix(ct, "application/zip"), strings.HasPrefix(ct, "application/octet-stream"):
		return Result{"status": 0, archiveKey: raw}, nil
	}

	result := Result{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return result, nil
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode PyPNM response from %s: %w", path, err)
	}
	return result, nil
}

func (c *Client) classify(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return &Error{Kind: ErrTimeout, Message: "Request to PyPNM timed out"}
	case errors.Is(err, syscall.ECONNREFUSED), isDialError(err):
		return &Error{Kind: ErrUnavailable, Message: fmt.Sprintf("PyPNM server not reachable at %s. Please ensure PyPNM is installed and running.", c.baseURL)}
	}
	return fmt.Errorf("PyPNM request failed: %w", err)
}

func isDialError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr) && strings.Contains(urlErr.Err.Error(), "connection refused")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Health reports whether PyPNM serves its docs page.
func (c *Client) Health(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/docs", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
