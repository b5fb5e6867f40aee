package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/creamcroissant/clashforge/internal/pipeline"
	"github.com/creamcroissant/clashforge/internal/verify"
)

var (
	colorPrimary = lipgloss.Color("#7C3AED")
	colorSuccess = lipgloss.Color("#22C55E")
	colorWarning = lipgloss.Color("#F59E0B")
	colorDanger  = lipgloss.Color("#EF4444")
	colorMuted   = lipgloss.Color("#6B7280")
	colorBorder  = lipgloss.Color("#374151")

	styleTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary)

	styleLabel = lipgloss.NewStyle().
			Foreground(colorMuted).
			Width(16)

	styleGood = lipgloss.NewStyle().
			Foreground(colorSuccess).
			Bold(true)

	styleWarn = lipgloss.NewStyle().
			Foreground(colorWarning).
			Bold(true)

	styleError = lipgloss.NewStyle().
			Foreground(colorDanger).
			Bold(true)

	styleBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)
)

// renderSummary prints a boxed overview of a finished run.
func renderSummary(w io.Writer, s pipeline.Summary) {
	var rows []string
	row := func(label, value string) {
		rows = append(rows, styleLabel.Render(label)+value)
	}

	c := s.Collection
	row("sources", fmt.Sprintf("%d (%d failed)", c.Sources, c.FailedSources))
	row("parsed", strconv.Itoa(c.Parsed))
	row("rejected", strconv.Itoa(c.Rejected))
	row("filtered", strconv.Itoa(c.Filtered))
	row("duplicates", strconv.Itoa(c.Duplicates))
	row("unique", strconv.Itoa(c.Unique))
	if s.Unreachable > 0 {
		row("unreachable", strconv.Itoa(s.Unreachable))
	}

	if r := s.Report; r != nil {
		rate := fmt.Sprintf("%d/%d (%.2f%%)", r.Succeeded, r.Total, r.SuccessRate)
		switch {
		case r.Succeeded == 0:
			rate = styleError.Render(rate)
		case r.SuccessRate < 50:
			rate = styleWarn.Render(rate)
		default:
			rate = styleGood.Render(rate)
		}
		row("reachable", rate)
		if len(r.Failures) > 0 {
			row("failures", formatFailures(r.Failures))
		}
	}
	if s.ConfigPath != "" {
		row("config", fmt.Sprintf("%s (%d proxies)", s.ConfigPath, s.Written))
	}
	if s.ReportPath != "" {
		row("report", s.ReportPath)
	}
	row("elapsed", s.Elapsed.Round(time.Millisecond).String())

	body := styleTitle.Render("clashforge") + "\n" + strings.Join(rows, "\n")
	fmt.Fprintln(w, styleBox.Render(body))
}

func formatFailures(failures map[string]int) string {
	reasons := make([]string, 0, len(failures))
	for reason := range failures {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	parts := make([]string, 0, len(reasons))
	for _, reason := range reasons {
		parts = append(parts, fmt.Sprintf("%s=%d", reason, failures[reason]))
	}
	return strings.Join(parts, " ")
}

// progressPrinter returns an OnResult callback that prints one line per node.
func progressPrinter(w io.Writer) func(done, total int, r verify.Result) {
	return func(done, total int, r verify.Result) {
		status := styleGood.Render("ok")
		detail := fmt.Sprintf("%dms", r.Delay)
		if !r.Succeeded {
			status = styleError.Render("fail")
			detail = r.Reason()
		}
		if r.Cached {
			detail += " (cached)"
		}
		fmt.Fprintf(w, "[%d/%d] %-4s %s %s\n", done, total, status, r.Descriptor.Name, lipgloss.NewStyle().Foreground(colorMuted).Render(detail))
	}
}
