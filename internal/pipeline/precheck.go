package pipeline

import (
	"context"
	"log/slog"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/creamcroissant/clashforge/internal/proxy"
)

const (
	defaultPrecheckTimeout     = time.Second
	defaultPrecheckConcurrency = 30
	defaultPrecheckRetryDelay  = 500 * time.Millisecond
)

// DialFunc opens a connection; net.Dialer.DialContext satisfies it.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// PrecheckOptions configures a Prechecker. Zero values fall back to defaults.
type PrecheckOptions struct {
	Timeout     time.Duration
	Concurrency int
	// Retries is the number of extra dials after the first failure.
	Retries    int
	RetryDelay time.Duration
	Dial       DialFunc
	Logger     *slog.Logger
}

// Prechecker drops descriptors whose server does not accept a TCP
// connection. It is a cheap filter in front of the engine verification.
type Prechecker struct {
	timeout     time.Duration
	concurrency int
	retries     int
	retryDelay  time.Duration
	dial        DialFunc
	logger      *slog.Logger
}

func NewPrechecker(opts PrecheckOptions) *Prechecker {
	p := &Prechecker{
		timeout:     opts.Timeout,
		concurrency: opts.Concurrency,
		retries:     opts.Retries,
		retryDelay:  opts.RetryDelay,
		dial:        opts.Dial,
		logger:      opts.Logger,
	}
	if p.timeout <= 0 {
		p.timeout = defaultPrecheckTimeout
	}
	if p.concurrency <= 0 {
		p.concurrency = defaultPrecheckConcurrency
	}
	if p.retries < 0 {
		p.retries = 0
	}
	if p.retryDelay <= 0 {
		p.retryDelay = defaultPrecheckRetryDelay
	}
	if p.dial == nil {
		p.dial = (&net.Dialer{}).DialContext
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Filter returns the reachable descriptors in input order. hysteria2 runs
// over QUIC, so a TCP dial says nothing about it and it is always kept.
func (p *Prechecker) Filter(ctx context.Context, ds []proxy.Descriptor) ([]proxy.Descriptor, error) {
	reachable := make([]bool, len(ds))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, d := range ds {
		if d.Kind == proxy.KindHysteria2 {
			reachable[i] = true
			continue
		}
		g.Go(func() error {
			reachable[i] = p.reachable(gctx, d)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	kept := make([]proxy.Descriptor, 0, len(ds))
	for i, d := range ds {
		if reachable[i] {
			kept = append(kept, d)
		}
	}
	p.logger.Info("tcp precheck finished", "candidates", len(ds), "reachable", len(kept))
	return kept, nil
}

func (p *Prechecker) reachable(ctx context.Context, d proxy.Descriptor) bool {
	addr := d.Address()
	for attempt := 0; attempt <= p.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(p.retryDelay):
			}
		}
		dialCtx, cancel := context.WithTimeout(ctx, p.timeout)
		conn, err := p.dial(dialCtx, "tcp", addr)
		cancel()
		if err == nil {
			_ = conn.Close()
			return true
		}
		p.logger.Debug("tcp precheck failed", "name", d.Name, "addr", addr, "attempt", attempt+1, "error", err)
	}
	return false
}
