package main

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/creamcroissant/clashforge/internal/pipeline"
	"github.com/creamcroissant/clashforge/internal/proxy"
	"github.com/creamcroissant/clashforge/internal/report"
	"github.com/creamcroissant/clashforge/internal/verify"
)

func TestFormatFailures(t *testing.T) {
	assert.Equal(t, "launch=1 probe=3 timeout=2", formatFailures(map[string]int{"timeout": 2, "probe": 3, "launch": 1}))
}

func TestRenderSummary(t *testing.T) {
	var buf bytes.Buffer
	renderSummary(&buf, pipeline.Summary{
		Elapsed:     1500 * time.Millisecond,
		Collection:  pipeline.Stats{Sources: 2, FailedSources: 1, Parsed: 10, Unique: 8},
		Unreachable: 2,
		Written:     3,
		ConfigPath:  "out/clash.yaml",
		Report: &report.Report{
			Total:       8,
			Succeeded:   3,
			SuccessRate: 37.5,
			Failures:    map[string]int{"timeout": 5},
		},
		ReportPath: "2026/05/success-nodes-clash.txt",
	})
	out := buf.String()
	assert.Contains(t, out, "2 (1 failed)")
	assert.Contains(t, out, "3/8 (37.50%)")
	assert.Contains(t, out, "timeout=5")
	assert.Contains(t, out, "out/clash.yaml (3 proxies)")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "unreachable")
}

func TestProgressPrinter(t *testing.T) {
	var buf bytes.Buffer
	printer := progressPrinter(&buf)
	printer(1, 2, verify.Result{Descriptor: proxy.Descriptor{Name: "node-a"}, Succeeded: true, Delay: 88})
	printer(2, 2, verify.Result{Descriptor: proxy.Descriptor{Name: "node-b"}, Err: errors.New("x"), Cached: true})

	out := buf.String()
	assert.Contains(t, out, "[1/2]")
	assert.Contains(t, out, "node-a")
	assert.Contains(t, out, "88ms")
	assert.Contains(t, out, "other (cached)")
}
