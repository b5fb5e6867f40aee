package report

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creamcroissant/clashforge/internal/controller"
	"github.com/creamcroissant/clashforge/internal/protocol"
	"github.com/creamcroissant/clashforge/internal/proxy"
	"github.com/creamcroissant/clashforge/internal/verify"
)

func trojan(name, link string) proxy.Descriptor {
	return proxy.Descriptor{
		Name:       name,
		Kind:       proxy.KindTrojan,
		Server:     name + ".example",
		Port:       443,
		Credential: proxy.PasswordCredential{Password: "pw"},
		Security:   &proxy.Security{Mode: proxy.SecurityTLS},
		Link:       link,
	}
}

func sampleResults() []verify.Result {
	// 完成顺序与输入顺序不同
	return []verify.Result{
		{Index: 2, Descriptor: trojan("c", "trojan://pw@c.example:443#c"), Succeeded: true, Delay: 300, Attempts: 1},
		{Index: 1, Descriptor: trojan("b", ""), Err: &controller.TimeoutError{}, Attempts: 2},
		{Index: 0, Descriptor: trojan("a", "trojan://pw@a.example:443#a"), Succeeded: true, Delay: 90, Attempts: 1},
		{Index: 3, Descriptor: trojan("d", ""), Succeeded: true, Delay: 150, Attempts: 2},
	}
}

func TestAggregateOrdersByIndex(t *testing.T) {
	now := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	r := Aggregate(sampleResults(), now)

	assert.Equal(t, now, r.GeneratedAt)
	assert.Equal(t, 4, r.Total)
	assert.Equal(t, 3, r.Succeeded)
	assert.InDelta(t, 75.0, r.SuccessRate, 1e-9)
	require.Len(t, r.Entries, 3)
	assert.Equal(t, []int{0, 2, 3}, []int{r.Entries[0].Index, r.Entries[1].Index, r.Entries[2].Index})
	assert.Equal(t, map[string]int{verify.ReasonTimeout: 1}, r.Failures)

	assert.Equal(t, "trojan://pw@a.example:443#a", r.Entries[0].Link)
	// 没有原始链接时使用规范编码
	assert.True(t, strings.HasPrefix(r.Entries[2].Link, "trojan://pw@d.example:443"), r.Entries[2].Link)
	assert.Equal(t, 150, r.Entries[2].Delay)
}

func TestAggregateEmpty(t *testing.T) {
	r := Aggregate(nil, time.Now())
	assert.Zero(t, r.Total)
	assert.Zero(t, r.SuccessRate)
	assert.Empty(t, r.Entries)
	assert.Nil(t, r.Failures)
}

func TestWriteText(t *testing.T) {
	now := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	r := Aggregate(sampleResults()[:3], now)

	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, r))
	want := strings.Join([]string{
		"# generated: 2026-03-09T12:00:00Z",
		"# total: 3",
		"# success: 2",
		"# rate: 66.67%",
		"---",
		"trojan://pw@a.example:443#a",
		"trojan://pw@c.example:443#c",
		"",
	}, "\n")
	assert.Equal(t, want, buf.String())
}

func TestWriterDatedLayout(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(WriterOptions{Dir: dir, Dated: true})
	require.NoError(t, err)

	// UTC 2026-03-31 20:00 is already April 1st in Shanghai
	now := time.Date(2026, 3, 31, 20, 0, 0, 0, time.UTC)
	path, err := w.Write(Aggregate(sampleResults(), now))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "2026", "04", "success-nodes-clash.txt"), path)

	payload, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(payload), "# generated: 2026-04-01T04:00:00+08:00")
	assert.Contains(t, string(payload), "# success: 3")
}

func TestWriterSkipsEmptyReport(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(WriterOptions{Dir: dir, Filename: "ok.txt", Timezone: "UTC"})
	require.NoError(t, err)

	results := []verify.Result{{Index: 0, Descriptor: trojan("a", ""), Err: controller.ErrEngineExited}}
	path, err := w.Write(Aggregate(results, time.Now()))
	require.NoError(t, err)
	assert.Empty(t, path)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWriterErrors(t *testing.T) {
	_, err := NewWriter(WriterOptions{Timezone: "Mars/Olympus"})
	assert.Error(t, err)

	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	w, err := NewWriter(WriterOptions{Dir: blocker, Timezone: "UTC"})
	require.NoError(t, err)

	_, err = w.Write(Aggregate(sampleResults(), time.Now()))
	var writeErr *protocol.ConfigWriteError
	require.True(t, errors.As(err, &writeErr))
	assert.Equal(t, filepath.Join(blocker, "success-nodes-clash.txt"), writeErr.Path)
}
