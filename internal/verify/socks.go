package verify

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/net/proxy"
)

// confirmDataPort fetches target through the SOCKS5 listener on port. Any
// HTTP response below 500 counts as carried traffic.
func confirmDataPort(ctx context.Context, port int, target string, timeout time.Duration) error {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	dialer, err := proxy.SOCKS5("tcp", addr, nil, &net.Dialer{Timeout: timeout})
	if err != nil {
		return &DataPortError{Port: port, URL: target, Err: err}
	}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, address string) (net.Conn, error) {
			if cd, ok := dialer.(proxy.ContextDialer); ok {
				return cd.DialContext(ctx, network, address)
			}
			return dialer.Dial(network, address)
		},
		DisableKeepAlives: true,
	}
	defer transport.CloseIdleConnections()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return &DataPortError{Port: port, URL: target, Err: err}
	}
	resp, err := (&http.Client{Transport: transport}).Do(req)
	if err != nil {
		return &DataPortError{Port: port, URL: target, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode >= http.StatusInternalServerError {
		return &DataPortError{Port: port, URL: target, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	return nil
}
