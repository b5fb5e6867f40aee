// 文件路径: internal/pipeline/pipeline.go
// 模块说明: 串起整条流水线：拉取订阅 → 解析 → 过滤 → 去重 → 命名 → 合成配置 / 并行验证 → 汇总报告。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/creamcroissant/clashforge/internal/cache"
	"github.com/creamcroissant/clashforge/internal/dedup"
	"github.com/creamcroissant/clashforge/internal/protocol"
	"github.com/creamcroissant/clashforge/internal/proxy"
	"github.com/creamcroissant/clashforge/internal/report"
	"github.com/creamcroissant/clashforge/internal/verify"
)

// Artifact keys under which the latest outputs are published.
const (
	ArtifactConfig  = "config.yaml"
	ArtifactReport  = "report.txt"
	ArtifactSummary = "summary"
)

// ErrNoSources is returned when neither URLs nor files are configured.
var ErrNoSources = errors.New("no subscription sources configured")

// OutputOptions controls where the routing configuration is written.
type OutputOptions struct {
	ConfigPath string
	JSON       bool
	Base64     bool
	// VerifiedOnly keeps only proxies that passed verification in the config.
	VerifiedOnly bool
}

// Options wires a Pipeline. Verifier, Reports and Artifacts are optional.
type Options struct {
	Collector   *Collector
	Synthesizer *protocol.Synthesizer
	Output      OutputOptions
	// Precheck, when set, drops descriptors whose server refuses TCP before
	// verification and synthesis.
	Precheck *Prechecker
	Verifier *verify.Verifier
	Reports  *report.Writer
	// Artifacts receives the latest config, report and summary for the HTTP API.
	Artifacts cache.Store
	Logger    *slog.Logger
	Now       func() time.Time
}

// Pipeline runs the stages in order. Each Run call is independent.
type Pipeline struct {
	collector *Collector
	synth     *protocol.Synthesizer
	output    OutputOptions
	precheck  *Prechecker
	verifier  *verify.Verifier
	reports   *report.Writer
	artifacts cache.Store
	logger    *slog.Logger
	now       func() time.Time
}

// Stages selects what a run does after collecting.
type Stages struct {
	Synthesize bool
	Verify     bool
}

var (
	StagesAll     = Stages{Synthesize: true, Verify: true}
	StagesConvert = Stages{Synthesize: true}
	StagesVerify  = Stages{Verify: true}
)

// Summary describes one finished run.
type Summary struct {
	RunAt      time.Time     `json:"run_at"`
	Elapsed    time.Duration `json:"elapsed"`
	Collection Stats         `json:"collection"`
	// Unreachable counts descriptors dropped by the TCP precheck.
	Unreachable int            `json:"unreachable,omitempty"`
	Written     int            `json:"written"`
	ConfigPath  string         `json:"config_path,omitempty"`
	Report      *report.Report `json:"report,omitempty"`
	ReportPath  string         `json:"report_path,omitempty"`
}

func New(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	synth := opts.Synthesizer
	if synth == nil {
		synth = protocol.NewSynthesizer(protocol.Options{Logger: logger})
	}
	return &Pipeline{
		collector: opts.Collector,
		synth:     synth,
		output:    opts.Output,
		precheck:  opts.Precheck,
		verifier:  opts.Verifier,
		reports:   opts.Reports,
		artifacts: opts.Artifacts,
		logger:    logger,
		now:       now,
	}
}

// Run collects descriptors and then performs the selected stages.
func (p *Pipeline) Run(ctx context.Context, stages Stages) (Summary, error) {
	started := p.now()
	summary := Summary{RunAt: started}
	if p.collector == nil {
		return summary, ErrNoSources
	}

	ds, stats, err := p.collector.Collect(ctx)
	summary.Collection = stats
	if err != nil {
		return summary, err
	}
	// 组名也要参与去重，避免节点与代理组同名
	ds = dedup.UniqueNames(ds, dedup.WithReserved(p.synth.ReservedNames()...))

	if p.precheck != nil {
		reachable, err := p.precheck.Filter(ctx, ds)
		if err != nil {
			return summary, fmt.Errorf("precheck: %w", err)
		}
		summary.Unreachable = len(ds) - len(reachable)
		ds = reachable
	}

	accepted := ds
	if stages.Verify && p.verifier != nil {
		results, err := p.verifier.Verify(ctx, ds)
		if err != nil {
			return summary, fmt.Errorf("verify: %w", err)
		}
		r := report.Aggregate(results, p.now())
		summary.Report = &r
		if p.output.VerifiedOnly {
			accepted = succeeded(results)
		}
		if err := p.writeReport(ctx, &summary, r); err != nil {
			return summary, err
		}
	}

	if stages.Synthesize {
		if err := p.writeConfig(ctx, &summary, accepted); err != nil {
			return summary, err
		}
	}

	summary.Elapsed = p.now().Sub(started)
	p.publishSummary(ctx, summary)
	p.logger.Info("pipeline finished",
		"candidates", len(ds),
		"written", summary.Written,
		"config", summary.ConfigPath,
		"report", summary.ReportPath,
		"elapsed", summary.Elapsed.Round(time.Millisecond),
	)
	return summary, nil
}

func (p *Pipeline) writeConfig(ctx context.Context, summary *Summary, ds []proxy.Descriptor) error {
	path := strings.TrimSpace(p.output.ConfigPath)
	if path == "" {
		return &protocol.ConfigWriteError{Path: path, Err: errors.New("empty output path")}
	}
	doc := p.synth.Synthesize(ds)
	payload, err := protocol.WriteYAML(path, doc)
	if err != nil {
		return err
	}
	if p.output.JSON {
		if err := protocol.WriteJSON(swapExt(path, ".json"), doc); err != nil {
			return err
		}
	}
	if p.output.Base64 {
		if err := protocol.WriteBase64(path+".b64", payload); err != nil {
			return err
		}
	}
	summary.ConfigPath = path
	summary.Written = len(ds)
	p.publish(ctx, ArtifactConfig, payload)
	p.logger.Info("clash config written", "path", path, "proxies", len(ds))
	return nil
}

func (p *Pipeline) writeReport(ctx context.Context, summary *Summary, r report.Report) error {
	if p.reports == nil {
		return nil
	}
	path, err := p.reports.Write(r)
	if err != nil {
		return err
	}
	summary.ReportPath = path
	if rendered, err := p.reports.Render(r); err == nil {
		p.publish(ctx, ArtifactReport, rendered)
	}
	return nil
}

func (p *Pipeline) publish(ctx context.Context, key string, payload []byte) {
	if p.artifacts == nil {
		return
	}
	if err := p.artifacts.SetBytes(ctx, key, payload, cache.NoExpiration); err != nil {
		p.logger.Warn("publish artifact failed", "key", key, "error", err)
	}
}

func (p *Pipeline) publishSummary(ctx context.Context, summary Summary) {
	if p.artifacts == nil {
		return
	}
	if err := p.artifacts.SetJSON(ctx, ArtifactSummary, summary, cache.NoExpiration); err != nil {
		p.logger.Warn("publish summary failed", "error", err)
	}
}

// succeeded returns the descriptors of successful results in input order.
func succeeded(results []verify.Result) []proxy.Descriptor {
	ok := make([]verify.Result, 0, len(results))
	for _, r := range results {
		if r.Succeeded {
			ok = append(ok, r)
		}
	}
	sort.Slice(ok, func(i, j int) bool { return ok[i].Index < ok[j].Index })
	ds := make([]proxy.Descriptor, 0, len(ok))
	for _, r := range ok {
		ds = append(ds, r.Descriptor)
	}
	return ds
}

func swapExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}
