package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/creamcroissant/clashforge/internal/dedup"
	"github.com/creamcroissant/clashforge/internal/fetch"
	"github.com/creamcroissant/clashforge/internal/proxy"
	"github.com/creamcroissant/clashforge/internal/subscribe"
)

const defaultFetchConcurrency = 4

// ErrAllSourcesFailed is returned when no source could be read.
var ErrAllSourcesFailed = errors.New("all subscription sources failed")

// Stats counts what happened while collecting.
type Stats struct {
	Sources       int `json:"sources"`
	FailedSources int `json:"failed_sources"`
	Parsed        int `json:"parsed"`
	Rejected      int `json:"rejected"`
	Filtered      int `json:"filtered"`
	Duplicates    int `json:"duplicates"`
	Unique        int `json:"unique"`
}

// CollectorOptions configures a Collector.
type CollectorOptions struct {
	URLs        []string
	Files       []string
	Fetcher     *fetch.Fetcher
	Concurrency int
	Filter      subscribe.Filter
	Logger      *slog.Logger
}

// Collector turns the configured sources into a deduplicated descriptor list.
type Collector struct {
	urls        []string
	files       []string
	fetcher     *fetch.Fetcher
	concurrency int
	filter      subscribe.Filter
	logger      *slog.Logger
}

func NewCollector(opts CollectorOptions) *Collector {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = fetch.New(fetch.Options{Logger: logger})
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultFetchConcurrency
	}
	return &Collector{
		urls:        trimmed(opts.URLs),
		files:       trimmed(opts.Files),
		fetcher:     fetcher,
		concurrency: concurrency,
		filter:      opts.Filter,
		logger:      logger,
	}
}

type sourceResult struct {
	descriptors []proxy.Descriptor
	rejected    int
	failed      bool
}

// Collect reads every source, decodes it, filters and deduplicates. Source
// order is kept: descriptors appear in the order of URLs, then files. A
// source that fails is skipped; only when every source fails is an error
// returned.
func (c *Collector) Collect(ctx context.Context) ([]proxy.Descriptor, Stats, error) {
	var stats Stats
	total := len(c.urls) + len(c.files)
	if total == 0 {
		return nil, stats, ErrNoSources
	}
	stats.Sources = total

	slots := make([]sourceResult, total)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, url := range c.urls {
		g.Go(func() error {
			content, err := c.fetcher.Fetch(gctx, url)
			slots[i] = c.decode(url, content, err)
			return nil
		})
	}
	for j, path := range c.files {
		g.Go(func() error {
			content, err := c.fetcher.ReadFile(path)
			slots[len(c.urls)+j] = c.decode(path, content, err)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, stats, err
	}

	var all []proxy.Descriptor
	for _, slot := range slots {
		if slot.failed {
			stats.FailedSources++
			continue
		}
		stats.Rejected += slot.rejected
		all = append(all, slot.descriptors...)
	}
	if stats.FailedSources == total {
		return nil, stats, ErrAllSourcesFailed
	}
	stats.Parsed = len(all)

	kept := c.filter.Apply(all)
	stats.Filtered = len(all) - len(kept)

	unique := dedup.Dedupe(kept)
	stats.Duplicates = len(kept) - len(unique)
	stats.Unique = len(unique)

	c.logger.Info("sources collected",
		"sources", stats.Sources,
		"failed_sources", stats.FailedSources,
		"parsed", stats.Parsed,
		"rejected", stats.Rejected,
		"filtered", stats.Filtered,
		"duplicates", stats.Duplicates,
		"unique", stats.Unique,
	)
	return unique, stats, nil
}

func (c *Collector) decode(source string, content []byte, err error) sourceResult {
	if err != nil {
		c.logger.Warn("source skipped", "source", source, "error", err)
		return sourceResult{failed: true}
	}
	ds, errs := subscribe.DecodeSource(content)
	for _, perr := range errs {
		var parseErr *subscribe.ParseError
		if errors.As(perr, &parseErr) {
			c.logger.Debug("link rejected", "source", source, "kind", string(parseErr.Kind), "link", parseErr.Link, "reason", parseErr.Reason, "error", parseErr.Err)
			continue
		}
		c.logger.Debug("link rejected", "source", source, "error", perr)
	}
	c.logger.Debug("source decoded", "source", source, "descriptors", len(ds), "rejected", len(errs))
	return sourceResult{descriptors: ds, rejected: len(errs)}
}

func trimmed(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
