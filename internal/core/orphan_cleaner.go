package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

const (
	pidFileName        = "engine.pid"
	ownerFileName      = "owner.pid"
	pidFilePermissions = 0o644
	defaultGracePeriod = 3 * time.Second
)

// RunOwner identifies the process that owns a run root.
type RunOwner struct {
	PID       int       `json:"pid"`
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
}

// PIDFile describes an engine process persisted inside its job directory.
type PIDFile struct {
	PID       int       `json:"pid"`
	JobID     string    `json:"job_id"`
	Engine    string    `json:"engine"`
	CreatedAt time.Time `json:"created_at"`
	Ports     []int     `json:"ports"`
}

// OrphanCleaner sweeps the run roots under a base directory. A run root is
// removed only when its owner file names a process that is no longer alive;
// roots without an owner file, or whose owner still runs, are left alone.
type OrphanCleaner struct {
	root   string
	grace  time.Duration
	logger *slog.Logger
}

func NewOrphanCleaner(root string, grace time.Duration, logger *slog.Logger) *OrphanCleaner {
	if grace <= 0 {
		grace = defaultGracePeriod
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OrphanCleaner{root: root, grace: grace, logger: logger}
}

// WritePIDFile records the engine started for a job directory.
func WritePIDFile(jobDir string, payload PIDFile) error {
	if payload.PID <= 0 {
		return fmt.Errorf("invalid pid metadata")
	}
	if payload.CreatedAt.IsZero() {
		payload.CreatedAt = time.Now()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal pid file: %w", err)
	}
	if err := os.WriteFile(filepath.Join(jobDir, pidFileName), data, pidFilePermissions); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// CreateRunRoot makes a private directory for one verification run under
// base and records the calling process as its owner.
func CreateRunRoot(base, runID string) (string, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", fmt.Errorf("create work root %s: %w", base, err)
	}
	short := runID
	if len(short) > 8 {
		short = short[:8]
	}
	root, err := os.MkdirTemp(base, fmt.Sprintf("%d-%s-", os.Getpid(), short))
	if err != nil {
		return "", fmt.Errorf("create run root: %w", err)
	}
	data, err := json.Marshal(RunOwner{PID: os.Getpid(), RunID: runID, CreatedAt: time.Now()})
	if err != nil {
		return "", fmt.Errorf("marshal owner file: %w", err)
	}
	if err := os.WriteFile(filepath.Join(root, ownerFileName), data, pidFilePermissions); err != nil {
		_ = os.RemoveAll(root)
		return "", fmt.Errorf("write owner file: %w", err)
	}
	return root, nil
}

// Cleanup terminates the engines of dead runs and removes their run roots.
// It returns the number of processes terminated.
func (c *OrphanCleaner) Cleanup(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read work root: %w", err)
	}

	killed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		runRoot := filepath.Join(c.root, entry.Name())
		owner, err := loadOwner(runRoot)
		if err != nil {
			c.logger.Debug("run root without owner skipped", "dir", runRoot, "error", err)
			continue
		}
		if c.ownerAlive(ctx, owner.PID) {
			continue
		}
		killed += c.sweepRun(ctx, runRoot)
		if err := os.RemoveAll(runRoot); err != nil {
			c.logger.Warn("remove orphan run root failed", "dir", runRoot, "error", err)
			continue
		}
		c.logger.Info("orphan run removed", "run", owner.RunID, "owner_pid", owner.PID)
	}
	return killed, nil
}

// sweepRun terminates the engines recorded in the job directories of a dead run.
func (c *OrphanCleaner) sweepRun(ctx context.Context, runRoot string) int {
	jobs, err := os.ReadDir(runRoot)
	if err != nil {
		return 0
	}
	killed := 0
	for _, job := range jobs {
		if !job.IsDir() {
			continue
		}
		dir := filepath.Join(runRoot, job.Name())
		payload, err := loadPIDFile(dir)
		if err != nil || payload.PID <= 0 {
			continue
		}
		terminated, err := c.terminate(ctx, payload.PID, dir)
		if err != nil {
			c.logger.Error("terminate orphan engine failed", "pid", payload.PID, "dir", dir, "error", err)
			continue
		}
		if terminated {
			killed++
			c.logger.Info("orphan engine terminated", "pid", payload.PID, "job", payload.JobID)
		}
	}
	return killed
}

// ownerAlive reports whether pid still exists. Invalid pids and lookup
// errors count as alive so nothing is removed without evidence.
func (c *OrphanCleaner) ownerAlive(ctx context.Context, pid int) bool {
	if pid <= 0 || pid == os.Getpid() {
		return true
	}
	exists, err := process.PidExistsWithContext(ctx, int32(pid))
	if err != nil {
		return true
	}
	return exists
}

// terminate stops pid only when its command line still references dir, so a
// recycled pid belonging to an unrelated process is left alone.
func (c *OrphanCleaner) terminate(ctx context.Context, pid int, dir string) (bool, error) {
	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return false, nil
	}
	cmdline, err := proc.CmdlineWithContext(ctx)
	if err != nil || !strings.Contains(cmdline, dir) {
		return false, nil
	}

	if err := proc.TerminateWithContext(ctx); err != nil {
		return false, err
	}

	deadline := time.Now().Add(c.grace)
	for time.Now().Before(deadline) {
		running, err := proc.IsRunningWithContext(ctx)
		if err != nil || !running {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	if err := proc.KillWithContext(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func loadPIDFile(dir string) (PIDFile, error) {
	data, err := os.ReadFile(filepath.Join(dir, pidFileName))
	if err != nil {
		return PIDFile{}, fmt.Errorf("read pid file: %w", err)
	}
	var payload PIDFile
	if err := json.Unmarshal(data, &payload); err != nil {
		return PIDFile{}, fmt.Errorf("unmarshal pid file: %w", err)
	}
	return payload, nil
}

func loadOwner(runRoot string) (RunOwner, error) {
	data, err := os.ReadFile(filepath.Join(runRoot, ownerFileName))
	if err != nil {
		return RunOwner{}, fmt.Errorf("read owner file: %w", err)
	}
	var owner RunOwner
	if err := json.Unmarshal(data, &owner); err != nil {
		return RunOwner{}, fmt.Errorf("unmarshal owner file: %w", err)
	}
	return owner, nil
}
