// 文件路径: internal/controller/client.go
// 模块说明: mihomo external-controller 的 HTTP 客户端，只用到 /version 与 /proxies/{name}/delay 两个接口。
package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	defaultReadyTimeout  = 10 * time.Second
	defaultReadyInterval = 200 * time.Millisecond
	defaultProbeTimeout  = 5 * time.Second
	versionCallTimeout   = 1200 * time.Millisecond
	// delay 接口自己会等满 timeout，HTTP 层多留一点余量
	probeSlack   = time.Second
	maxBodyBytes = 64 << 10
)

// ErrEngineExited is returned by WaitReady when the engine dies before its
// control API answers.
var ErrEngineExited = errors.New("engine exited before becoming ready")

// TimeoutError reports that the control API never became ready.
type TimeoutError struct {
	Addr   string
	Waited time.Duration
	Err    error
}

func (e *TimeoutError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("control api %s not ready after %s", e.Addr, e.Waited)
	}
	return fmt.Sprintf("control api %s not ready after %s: %v", e.Addr, e.Waited, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// ProbeError reports a failed delay measurement for one probe URL.
type ProbeError struct {
	Proxy   string
	URL     string
	Status  int
	Message string
	Err     error
}

func (e *ProbeError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "probe %s via %s", e.URL, e.Proxy)
	if e.Status != 0 {
		fmt.Fprintf(&b, ": status %d", e.Status)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ProbeError) Unwrap() error { return e.Err }

// Client talks to one engine's control API.
type Client struct {
	baseURL string
	secret  string
	http    *http.Client
}

// NewClient builds a client for addr, which is either host:port or a full URL.
func NewClient(addr, secret string, httpClient *http.Client) *Client {
	base := strings.TrimRight(strings.TrimSpace(addr), "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{baseURL: base, secret: secret, http: httpClient}
}

// BaseURL returns the control API root.
func (c *Client) BaseURL() string { return c.baseURL }

// Version returns the engine version reported by GET /version.
func (c *Client) Version(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, versionCallTimeout)
	defer cancel()

	status, body, err := c.get(ctx, "/version")
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("version: status %d", status)
	}
	return gjson.GetBytes(body, "version").String(), nil
}

// WaitReady polls GET /version until it succeeds, timeout elapses, ctx is
// done or exited is closed.
func (c *Client) WaitReady(ctx context.Context, timeout, interval time.Duration, exited <-chan struct{}) error {
	if timeout <= 0 {
		timeout = defaultReadyTimeout
	}
	if interval <= 0 {
		interval = defaultReadyInterval
	}
	start := time.Now()
	deadline := start.Add(timeout)

	var lastErr error
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-exited:
			return ErrEngineExited
		default:
		}

		_, err := c.Version(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !time.Now().Before(deadline) {
			return &TimeoutError{Addr: c.baseURL, Waited: time.Since(start), Err: lastErr}
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-exited:
			timer.Stop()
			return ErrEngineExited
		case <-timer.C:
		}
	}
}

// Delay asks the engine to measure proxy against testURL and returns the
// delay in milliseconds. A zero or missing delay is reported as a ProbeError.
func (c *Client) Delay(ctx context.Context, proxy, testURL string, timeout time.Duration) (int, error) {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout+probeSlack)
	defer cancel()

	query := url.Values{}
	query.Set("timeout", strconv.FormatInt(timeout.Milliseconds(), 10))
	query.Set("url", testURL)
	path := "/proxies/" + url.PathEscape(proxy) + "/delay?" + query.Encode()

	status, body, err := c.get(ctx, path)
	if err != nil {
		return 0, &ProbeError{Proxy: proxy, URL: testURL, Err: err}
	}
	message := strings.TrimSpace(gjson.GetBytes(body, "message").String())
	if status < 200 || status >= 300 {
		if message == "" {
			message = strings.TrimSpace(string(body))
		}
		return 0, &ProbeError{Proxy: proxy, URL: testURL, Status: status, Message: message}
	}
	delay := gjson.GetBytes(body, "delay").Int()
	if delay <= 0 {
		if message == "" {
			message = "no delay reported"
		}
		return 0, &ProbeError{Proxy: proxy, URL: testURL, Status: status, Message: message}
	}
	return int(delay), nil
}

func (c *Client) get(ctx context.Context, path string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, nil, err
	}
	if c.secret != "" {
		req.Header.Set("Authorization", "Bearer "+c.secret)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}
