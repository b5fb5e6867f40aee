// 文件路径: internal/core/mihomo.go
// 模块说明: mihomo 核心的进程启动与回收。
package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultMihomoBinary = "mihomo"
	defaultStopTimeout  = 2 * time.Second
)

// Mihomo launches the mihomo (Clash Meta) binary.
type Mihomo struct {
	binary      string
	extraArgs   []string
	stopTimeout time.Duration
	logger      *slog.Logger
}

// MihomoOptions configures the mihomo launcher.
type MihomoOptions struct {
	Binary      string
	ExtraArgs   []string
	StopTimeout time.Duration
	Logger      *slog.Logger
}

func NewMihomo(opts MihomoOptions) *Mihomo {
	binary := strings.TrimSpace(opts.Binary)
	if binary == "" {
		binary = defaultMihomoBinary
	}
	stopTimeout := opts.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = defaultStopTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Mihomo{
		binary:      binary,
		extraArgs:   append([]string(nil), opts.ExtraArgs...),
		stopTimeout: stopTimeout,
		logger:      logger,
	}
}

func (m *Mihomo) Name() string { return "mihomo" }

// Launch validates the config file and starts mihomo with its output
// redirected to spec.LogPath.
func (m *Mihomo) Launch(ctx context.Context, spec LaunchSpec) (Process, error) {
	if err := ValidateConfig(spec.ConfigPath); err != nil {
		return nil, &LaunchError{Engine: m.Name(), Reason: "invalid config", Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, &LaunchError{Engine: m.Name(), Reason: "canceled", Err: err}
	}

	logFile, err := os.OpenFile(spec.LogPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, &LaunchError{Engine: m.Name(), Reason: "open log", Err: err}
	}

	args := []string{"-f", spec.ConfigPath, "-d", spec.WorkDir}
	args = append(args, m.extraArgs...)
	// 进程生命周期由 Process.Stop 管理，不绑定调用方的 ctx
	cmd := exec.Command(m.binary, args...)
	cmd.Dir = spec.WorkDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, &LaunchError{Engine: m.Name(), Reason: "start", Err: err}
	}

	p := &execProcess{
		cmd:         cmd,
		logFile:     logFile,
		done:        make(chan struct{}),
		stopTimeout: m.stopTimeout,
	}
	go p.wait()

	m.logger.Debug("engine started",
		"engine", m.Name(),
		"job", spec.ID,
		"pid", p.PID(),
		"control_port", spec.ControlPort,
		"data_port", spec.DataPort,
	)
	return p, nil
}

type execProcess struct {
	cmd         *exec.Cmd
	logFile     *os.File
	done        chan struct{}
	stopTimeout time.Duration

	stopOnce sync.Once
	stopErr  error
}

func (p *execProcess) wait() {
	// 退出码对验证没有意义，只关心进程已回收
	_ = p.cmd.Wait()
	p.logFile.Close()
	close(p.done)
}

func (p *execProcess) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *execProcess) Exited() <-chan struct{} { return p.done }

// Stop kills the process and waits a bounded time for it to be reaped.
func (p *execProcess) Stop() error {
	p.stopOnce.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.stopErr = fmt.Errorf("kill pid %d: %w", p.PID(), err)
		}
		timer := time.NewTimer(p.stopTimeout)
		defer timer.Stop()
		select {
		case <-p.done:
		case <-timer.C:
			p.stopErr = fmt.Errorf("pid %d did not exit within %s", p.PID(), p.stopTimeout)
		}
	})
	return p.stopErr
}

// ValidateConfig checks that path holds a YAML mapping with at least one proxy.
func ValidateConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var doc struct {
		Proxies []map[string]any `yaml:"proxies"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if len(doc.Proxies) == 0 {
		return fmt.Errorf("%s: no proxies", path)
	}
	return nil
}

// ReadLogTail returns at most the last n lines of an engine log.
func ReadLogTail(path string, n int) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	const maxTail = 16 << 10
	info, err := f.Stat()
	if err != nil {
		return ""
	}
	offset := info.Size() - maxTail
	if offset < 0 {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return ""
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return ""
	}
	lines := bytes.Split(bytes.TrimRight(data, "\n"), []byte("\n"))
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return string(bytes.Join(lines, []byte("\n")))
}
