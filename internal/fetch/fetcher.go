// 文件路径: internal/fetch/fetcher.go
// 模块说明: 订阅源下载。带 Clash 兼容的 User-Agent、大小上限、单次超时与指数退避重试。
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultUserAgent = "Clash Verge/1.7.7"
	defaultTimeout   = 20 * time.Second
	defaultMaxBytes  = 16 << 20
)

// ErrTooLarge is wrapped by SourceFetchError when a body exceeds the cap.
var ErrTooLarge = errors.New("response body exceeds size limit")

// SourceFetchError reports a source that could not be downloaded.
type SourceFetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *SourceFetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *SourceFetchError) Unwrap() error { return e.Err }

// Options configures a Fetcher.
type Options struct {
	UserAgent string
	Timeout   time.Duration
	MaxBytes  int64
	// Retries is the number of additional attempts after the first.
	Retries      int
	RetryBackoff time.Duration
	Client       *http.Client
	Logger       *slog.Logger
}

// Fetcher downloads subscription sources.
type Fetcher struct {
	userAgent    string
	timeout      time.Duration
	maxBytes     int64
	retries      int
	retryBackoff time.Duration
	client       *http.Client
	logger       *slog.Logger
}

func New(opts Options) *Fetcher {
	f := &Fetcher{
		userAgent:    strings.TrimSpace(opts.UserAgent),
		timeout:      opts.Timeout,
		maxBytes:     opts.MaxBytes,
		retries:      opts.Retries,
		retryBackoff: opts.RetryBackoff,
		client:       opts.Client,
		logger:       opts.Logger,
	}
	if f.userAgent == "" {
		f.userAgent = DefaultUserAgent
	}
	if f.timeout <= 0 {
		f.timeout = defaultTimeout
	}
	if f.maxBytes <= 0 {
		f.maxBytes = defaultMaxBytes
	}
	if f.retries < 0 {
		f.retries = 0
	}
	if f.retryBackoff <= 0 {
		f.retryBackoff = time.Second
	}
	if f.client == nil {
		f.client = &http.Client{}
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	return f
}

// Fetch downloads url, retrying transport failures and 5xx/429 responses.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = f.retryBackoff
	policy.MaxElapsedTime = 0
	schedule := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(f.retries)), ctx)

	var body []byte
	operation := func() error {
		data, err := f.fetchOnce(ctx, url)
		if err != nil {
			return err
		}
		body = data
		return nil
	}
	notify := func(err error, wait time.Duration) {
		f.logger.Debug("source fetch failed, retrying", "url", url, "retry_in", wait, "error", err)
	}
	if err := backoff.RetryNotify(operation, schedule, notify); err != nil {
		var fetchErr *SourceFetchError
		if errors.As(err, &fetchErr) {
			return nil, fetchErr
		}
		return nil, &SourceFetchError{URL: url, Err: err}
	}
	return body, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(&SourceFetchError{URL: url, Err: err})
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &SourceFetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		fetchErr := &SourceFetchError{URL: url, Status: resp.StatusCode, Err: errors.New(resp.Status)}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, fetchErr
		}
		return nil, backoff.Permanent(fetchErr)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, &SourceFetchError{URL: url, Err: err}
	}
	if int64(len(data)) > f.maxBytes {
		return nil, backoff.Permanent(&SourceFetchError{URL: url, Err: ErrTooLarge})
	}
	return data, nil
}

// ReadFile loads a local source, enforcing the same size cap as downloads.
func (f *Fetcher) ReadFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &SourceFetchError{URL: path, Err: err}
	}
	if info.Size() > f.maxBytes {
		return nil, &SourceFetchError{URL: path, Err: ErrTooLarge}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &SourceFetchError{URL: path, Err: err}
	}
	return data, nil
}
