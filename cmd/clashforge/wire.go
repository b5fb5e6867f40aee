package main

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/creamcroissant/clashforge/internal/cache"
	"github.com/creamcroissant/clashforge/internal/config"
	"github.com/creamcroissant/clashforge/internal/core"
	"github.com/creamcroissant/clashforge/internal/fetch"
	"github.com/creamcroissant/clashforge/internal/pipeline"
	"github.com/creamcroissant/clashforge/internal/protocol"
	"github.com/creamcroissant/clashforge/internal/report"
	"github.com/creamcroissant/clashforge/internal/subscribe"
	"github.com/creamcroissant/clashforge/internal/verify"
)

// wiring carries the long-lived pieces shared across runs in watch mode.
type wiring struct {
	registry  prometheus.Registerer
	artifacts cache.Store
	results   *verify.ResultCache
	onResult  func(done, total int, r verify.Result)
}

func buildPipeline(cfg *config.Config, logger *slog.Logger, w wiring) (*pipeline.Pipeline, error) {
	fetcher := fetch.New(fetch.Options{
		UserAgent:    cfg.Sources.Fetch.UserAgent,
		Timeout:      cfg.Sources.Fetch.Timeout,
		MaxBytes:     cfg.Sources.Fetch.MaxBytes,
		Retries:      cfg.Sources.Fetch.Retries,
		RetryBackoff: cfg.Sources.Fetch.RetryBackoff,
		Logger:       logger,
	})
	collector := pipeline.NewCollector(pipeline.CollectorOptions{
		URLs:        cfg.Sources.URLs,
		Files:       cfg.Sources.Files,
		Fetcher:     fetcher,
		Concurrency: cfg.Sources.Fetch.Concurrency,
		Filter: subscribe.Filter{
			BannedKeywords: cfg.Filter.BannedKeywords,
			AllowedKinds:   cfg.AllowedKinds(),
		},
		Logger: logger,
	})
	synth := protocol.NewSynthesizer(protocol.Options{
		Groups: protocol.GroupNames{
			Select:   cfg.Synth.SelectGroup,
			Auto:     cfg.Synth.AutoGroup,
			Fallback: cfg.Synth.FallbackGroup,
		},
		TestURL:      cfg.Synth.TestURL,
		Interval:     cfg.Synth.Interval,
		TemplatePath: cfg.Synth.TemplatePath,
		Logger:       logger,
	})

	var precheck *pipeline.Prechecker
	if cfg.Precheck.Enabled {
		precheck = pipeline.NewPrechecker(pipeline.PrecheckOptions{
			Timeout:     cfg.Precheck.Timeout,
			Concurrency: cfg.Precheck.Concurrency,
			Retries:     cfg.Precheck.Retries,
			Logger:      logger,
		})
	}

	var verifier *verify.Verifier
	if cfg.Verify.Enabled {
		verifier = buildVerifier(cfg, logger, w)
	}

	reports, err := report.NewWriter(report.WriterOptions{
		Dir:      cfg.Report.Dir,
		Filename: cfg.Report.Filename,
		Dated:    cfg.Report.Dated,
		Timezone: cfg.Report.Timezone,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("report writer: %w", err)
	}

	return pipeline.New(pipeline.Options{
		Collector:   collector,
		Synthesizer: synth,
		Output: pipeline.OutputOptions{
			ConfigPath:   cfg.Output.ConfigPath,
			JSON:         cfg.Output.JSON,
			Base64:       cfg.Output.Base64,
			VerifiedOnly: cfg.Output.VerifiedOnly,
		},
		Precheck:  precheck,
		Verifier:  verifier,
		Reports:   reports,
		Artifacts: w.artifacts,
		Logger:    logger,
	}), nil
}

func buildVerifier(cfg *config.Config, logger *slog.Logger, w wiring) *verify.Verifier {
	engine := core.NewMihomo(core.MihomoOptions{
		Binary:      cfg.Engine.Binary,
		ExtraArgs:   cfg.Engine.ExtraArgs,
		StopTimeout: cfg.Engine.StopTimeout,
		Logger:      logger,
	})
	ports := core.NewPortAllocator(cfg.Engine.PortRangeStart, cfg.Engine.PortRangeEnd)

	var metrics *verify.Metrics
	if cfg.Metrics.Enabled && w.registry != nil {
		metrics = verify.NewMetrics(w.registry, cfg.Metrics.Namespace)
	}

	return verify.New(engine, ports, verify.Options{
		Concurrency:     cfg.Verify.Concurrency,
		ProbeTimeout:    cfg.Verify.ProbeTimeout,
		MaxRetries:      cfg.Verify.MaxRetries,
		ReadyTimeout:    cfg.Verify.ReadyTimeout,
		ReadyInterval:   cfg.Verify.ReadyInterval,
		SettleDelay:     cfg.Verify.SettleDelay,
		ProbeURLs:       cfg.Verify.ProbeURLs,
		Secret:          cfg.Verify.Secret,
		WorkDir:         cfg.Verify.WorkDir,
		RetryBackoff:    cfg.Verify.RetryBackoff,
		ConfirmDataPort: cfg.Verify.ConfirmDataPort,
		CleanupOrphans:  cfg.Verify.CleanupOrphans,
		OnResult:        w.onResult,
		Logger:          logger,
		Metrics:         metrics,
		Cache:           w.results,
	})
}
