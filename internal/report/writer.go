package report

import (
	"bytes"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/creamcroissant/clashforge/internal/protocol"
)

const (
	defaultFilename = "success-nodes-clash.txt"
	defaultTimezone = "Asia/Shanghai"
)

// WriterOptions configures where reports land.
type WriterOptions struct {
	Dir      string
	Filename string
	// Dated places reports under YYYY/MM subdirectories.
	Dated bool
	// Timezone names the IANA zone used for the dated layout and header.
	Timezone string
	Logger   *slog.Logger
}

// Writer persists reports as text files.
type Writer struct {
	dir      string
	filename string
	dated    bool
	location *time.Location
	logger   *slog.Logger
}

func NewWriter(opts WriterOptions) (*Writer, error) {
	filename := strings.TrimSpace(opts.Filename)
	if filename == "" {
		filename = defaultFilename
	}
	zone := strings.TrimSpace(opts.Timezone)
	if zone == "" {
		zone = defaultTimezone
	}
	location, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", zone, err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		dir:      opts.Dir,
		filename: filename,
		dated:    opts.Dated,
		location: location,
		logger:   logger,
	}, nil
}

// Path returns where a report generated at t is written.
func (w *Writer) Path(t time.Time) string {
	local := t.In(w.location)
	if w.dated {
		return filepath.Join(w.dir, local.Format("2006"), local.Format("01"), w.filename)
	}
	return filepath.Join(w.dir, w.filename)
}

// Render returns the text form of r in the writer's timezone.
func (w *Writer) Render(r Report) ([]byte, error) {
	r.GeneratedAt = r.GeneratedAt.In(w.location)
	var buf bytes.Buffer
	if err := WriteText(&buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write persists r and returns the path. A report without reachable proxies
// is not written and yields an empty path.
func (w *Writer) Write(r Report) (string, error) {
	if r.Succeeded == 0 {
		w.logger.Warn("no reachable proxies, report skipped", "total", r.Total)
		return "", nil
	}
	path := w.Path(r.GeneratedAt)
	payload, err := w.Render(r)
	if err != nil {
		return "", &protocol.ConfigWriteError{Path: path, Err: err}
	}
	if err := protocol.WriteFile(path, payload); err != nil {
		return "", err
	}
	w.logger.Info("report written", "path", path, "succeeded", r.Succeeded, "total", r.Total)
	return path, nil
}
