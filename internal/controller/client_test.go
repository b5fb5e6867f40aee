package controller

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientBaseURL(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:9090", NewClient("127.0.0.1:9090", "", nil).BaseURL())
	assert.Equal(t, "https://ctl.example", NewClient(" https://ctl.example/ ", "", nil).BaseURL())
}

func TestVersionSendsBearer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"meta":true,"version":"v1.18.1"}`))
	}))
	defer srv.Close()

	version, err := NewClient(srv.URL, "s3cret", nil).Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v1.18.1", version)

	_, err = NewClient(srv.URL, "wrong", nil).Version(context.Background())
	assert.Error(t, err)
}

func TestWaitReadyEventuallySucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"version":"v1"}`))
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "", nil).WaitReady(context.Background(), 2*time.Second, 10*time.Millisecond, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWaitReadyTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	start := time.Now()
	err := NewClient(srv.URL, "", nil).WaitReady(context.Background(), 150*time.Millisecond, 20*time.Millisecond, nil)
	var timeoutErr *TimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	assert.GreaterOrEqual(t, timeoutErr.Waited, 150*time.Millisecond)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Contains(t, err.Error(), "not ready after")
}

func TestWaitReadyEngineExited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	exited := make(chan struct{})
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(exited)
	}()
	err := NewClient(srv.URL, "", nil).WaitReady(context.Background(), 5*time.Second, 10*time.Millisecond, exited)
	assert.ErrorIs(t, err, ErrEngineExited)
}

func TestWaitReadyContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewClient("127.0.0.1:1", "", nil).WaitReady(ctx, time.Second, 10*time.Millisecond, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDelay(t *testing.T) {
	var gotPath, gotTimeout, gotURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotTimeout = r.URL.Query().Get("timeout")
		gotURL = r.URL.Query().Get("url")
		switch {
		case strings.Contains(gotURL, "ok"):
			_, _ = w.Write([]byte(`{"delay":120}`))
		case strings.Contains(gotURL, "zero"):
			_, _ = w.Write([]byte(`{"delay":0}`))
		case strings.Contains(gotURL, "timeout"):
			w.WriteHeader(http.StatusGatewayTimeout)
			_, _ = w.Write([]byte(`{"message":"Timeout"}`))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`An error occurred in the delay test`))
		}
	}))
	defer srv.Close()
	client := NewClient(srv.URL, "", nil)

	delay, err := client.Delay(context.Background(), "香港 01", "http://ok.example/generate_204", 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 120, delay)
	assert.Equal(t, "/proxies/%E9%A6%99%E6%B8%AF%2001/delay", gotPath)
	assert.Equal(t, "3000", gotTimeout)
	assert.Equal(t, "http://ok.example/generate_204", gotURL)

	tests := []struct {
		url     string
		status  int
		message string
	}{
		{url: "http://zero.example", status: http.StatusOK, message: "no delay reported"},
		{url: "http://timeout.example", status: http.StatusGatewayTimeout, message: "Timeout"},
		{url: "http://broken.example", status: http.StatusServiceUnavailable, message: "An error occurred in the delay test"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			_, err := client.Delay(context.Background(), "node", tt.url, time.Second)
			var probeErr *ProbeError
			require.True(t, errors.As(err, &probeErr))
			assert.Equal(t, tt.status, probeErr.Status)
			assert.Equal(t, tt.message, probeErr.Message)
			assert.Equal(t, tt.url, probeErr.URL)
		})
	}
}

func TestDelayTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := srv.URL
	srv.Close()

	_, err := NewClient(addr, "", nil).Delay(context.Background(), "node", "http://x.example", 200*time.Millisecond)
	var probeErr *ProbeError
	require.True(t, errors.As(err, &probeErr))
	assert.Zero(t, probeErr.Status)
	assert.Error(t, probeErr.Unwrap())
}
