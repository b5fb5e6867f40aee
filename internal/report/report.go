// 文件路径: internal/report/report.go
// 模块说明: 汇总验证结果，生成按输入顺序排列的可用节点报告。
package report

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/creamcroissant/clashforge/internal/proxy"
	"github.com/creamcroissant/clashforge/internal/subscribe"
	"github.com/creamcroissant/clashforge/internal/verify"
)

// Entry is one reachable proxy.
type Entry struct {
	Index    int        `json:"index"`
	Name     string     `json:"name"`
	Kind     proxy.Kind `json:"kind"`
	Link     string     `json:"link"`
	Delay    int        `json:"delay_ms"`
	ProbeURL string     `json:"probe_url,omitempty"`
	Cached   bool       `json:"cached,omitempty"`
}

// Report summarizes one verification run.
type Report struct {
	GeneratedAt time.Time `json:"generated_at"`
	Total       int       `json:"total"`
	Succeeded   int       `json:"succeeded"`
	// SuccessRate is a percentage in [0, 100].
	SuccessRate float64 `json:"success_rate"`
	// Entries lists reachable proxies ordered by input index.
	Entries []Entry `json:"entries"`
	// Failures counts failed proxies by reason.
	Failures map[string]int `json:"failures,omitempty"`
}

// Aggregate builds a report from results delivered in any order.
func Aggregate(results []verify.Result, now time.Time) Report {
	r := Report{
		GeneratedAt: now,
		Total:       len(results),
		Entries:     make([]Entry, 0, len(results)),
	}
	for _, res := range results {
		if !res.Succeeded {
			if r.Failures == nil {
				r.Failures = make(map[string]int)
			}
			r.Failures[res.Reason()]++
			continue
		}
		r.Entries = append(r.Entries, Entry{
			Index:    res.Index,
			Name:     res.Descriptor.Name,
			Kind:     res.Descriptor.Kind,
			Link:     subscribe.LinkOf(res.Descriptor),
			Delay:    res.Delay,
			ProbeURL: res.ProbeURL,
			Cached:   res.Cached,
		})
	}
	sort.SliceStable(r.Entries, func(i, j int) bool {
		return r.Entries[i].Index < r.Entries[j].Index
	})
	r.Succeeded = len(r.Entries)
	if r.Total > 0 {
		r.SuccessRate = float64(r.Succeeded) * 100 / float64(r.Total)
	}
	return r
}

// Links returns the entry links in report order.
func (r Report) Links() []string {
	links := make([]string, 0, len(r.Entries))
	for _, e := range r.Entries {
		links = append(links, e.Link)
	}
	return links
}

// WriteText renders the report as a header block, a separator and one link per line.
func WriteText(w io.Writer, r Report) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# generated: %s\n", r.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(bw, "# total: %d\n", r.Total)
	fmt.Fprintf(bw, "# success: %d\n", r.Succeeded)
	fmt.Fprintf(bw, "# rate: %.2f%%\n", r.SuccessRate)
	fmt.Fprintln(bw, "---")
	for _, link := range r.Links() {
		fmt.Fprintln(bw, link)
	}
	return bw.Flush()
}
