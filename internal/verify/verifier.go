// 文件路径: internal/verify/verifier.go
// 模块说明: 并行验证调度。每个节点每次尝试都拉起一个独立的核心进程，通过控制 API 测延迟，结束后回收进程、目录和端口。
package verify

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"
	"golang.org/x/sync/errgroup"

	"github.com/creamcroissant/clashforge/internal/controller"
	"github.com/creamcroissant/clashforge/internal/core"
	"github.com/creamcroissant/clashforge/internal/dedup"
	"github.com/creamcroissant/clashforge/internal/protocol"
	"github.com/creamcroissant/clashforge/internal/proxy"
)

// Verifier checks descriptors by running each through its own engine process.
type Verifier struct {
	engine core.Engine
	ports  *core.PortAllocator
	opts   Options
	http   *http.Client
}

func New(engine core.Engine, ports *core.PortAllocator, opts Options) *Verifier {
	if ports == nil {
		ports = core.NewPortAllocator(0, 0)
	}
	return &Verifier{
		engine: engine,
		ports:  ports,
		opts:   opts.withDefaults(),
		http:   &http.Client{Transport: &http.Transport{DisableKeepAlives: true}},
	}
}

// WorkRoot is the shared base directory. Every Verify call works inside its
// own run root below it and removes that root when it returns.
func (v *Verifier) WorkRoot() string {
	return filepath.Join(v.opts.WorkDir, workRootName)
}

type task struct {
	index int
	d     proxy.Descriptor
}

// Verify checks every descriptor and returns one result per descriptor in
// completion order. The error is non-nil only when the work root cannot be
// created or ctx ends; results gathered so far are still returned then.
func (v *Verifier) Verify(ctx context.Context, ds []proxy.Descriptor) ([]Result, error) {
	if len(ds) == 0 {
		return nil, nil
	}
	base := v.WorkRoot()
	if v.opts.CleanupOrphans {
		cleaner := core.NewOrphanCleaner(base, 0, v.opts.Logger)
		if killed, err := cleaner.Cleanup(ctx); err != nil {
			v.opts.Logger.Warn("orphan cleanup failed", "error", err)
		} else if killed > 0 {
			v.opts.Logger.Info("orphan engines terminated", "count", killed)
		}
	}
	runID := uuid.NewString()
	root, err := core.CreateRunRoot(base, runID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := os.RemoveAll(root); err != nil {
			v.opts.Logger.Warn("remove run root failed", "dir", root, "error", err)
		}
	}()

	logger := v.opts.Logger.With("run", runID, "engine", v.engine.Name())
	workers := min(v.opts.Concurrency, len(ds))
	logger.Info("verification started", "candidates", len(ds), "workers", workers)
	started := time.Now()

	var (
		mu      sync.Mutex
		results = make([]Result, 0, len(ds))
	)
	collect := func(r Result) {
		mu.Lock()
		results = append(results, r)
		done := len(results)
		mu.Unlock()
		v.opts.Metrics.observeResult(r)
		if v.opts.OnResult != nil {
			v.opts.OnResult(done, len(ds), r)
		}
	}

	tasks := make(chan task)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(tasks)
		for i, d := range ds {
			select {
			case tasks <- task{index: i, d: d}:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	for w := 0; w < workers; w++ {
		worker := w
		g.Go(func() error {
			for t := range tasks {
				collect(v.runTask(gctx, root, worker, t))
			}
			return nil
		})
	}
	_ = g.Wait()

	succeeded := 0
	for _, r := range results {
		if r.Succeeded {
			succeeded++
		}
	}
	logger.Info("verification finished",
		"candidates", len(ds),
		"verified", len(results),
		"succeeded", succeeded,
		"elapsed", time.Since(started).Round(time.Millisecond),
	)
	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

// runTask verifies one descriptor. A panic is turned into a failed result so
// sibling workers keep running.
func (v *Verifier) runTask(ctx context.Context, root string, worker int, t task) Result {
	var (
		result Result
		pc     panics.Catcher
	)
	pc.Try(func() {
		result = v.verifyOne(ctx, root, worker, t)
	})
	if rec := pc.Recovered(); rec != nil {
		v.opts.Logger.Error("verification panicked",
			"name", t.d.Name,
			"worker", worker,
			"panic", rec.Value,
			"stack", string(rec.Stack),
		)
		result = Result{
			Index:      t.index,
			Descriptor: t.d,
			Err:        &PanicError{Err: rec.AsError()},
		}
	}
	return result
}

func (v *Verifier) verifyOne(ctx context.Context, root string, worker int, t task) Result {
	fingerprint := dedup.Fingerprint(t.d)
	result := Result{Index: t.index, Descriptor: t.d}
	logger := v.opts.Logger.With("name", t.d.Name, "kind", t.d.Kind.String(), "worker", worker)

	if cached, ok := v.opts.Cache.lookup(ctx, fingerprint); ok {
		logger.Debug("verification result reused", "succeeded", cached.Succeeded, "verified_at", cached.VerifiedAt)
		return cached.result(t.index, result)
	}

	v.opts.Metrics.jobStarted()
	defer v.opts.Metrics.jobFinished()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = v.opts.RetryBackoff
	policy.RandomizationFactor = 0
	policy.Multiplier = 2
	policy.MaxInterval = 8 * v.opts.RetryBackoff
	policy.MaxElapsedTime = 0
	var schedule backoff.BackOff = policy
	if v.opts.RetryBackoff <= 0 {
		schedule = &backoff.ZeroBackOff{}
	}
	schedule = backoff.WithContext(backoff.WithMaxRetries(schedule, uint64(v.opts.MaxRetries-1)), ctx)

	var lastErr error
	operation := func() error {
		result.Attempts++
		delay, probeURL, err := v.attempt(ctx, root, worker, result.Attempts, t.d, fingerprint, logger)
		v.opts.Metrics.observeAttempt(err)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		result.Delay = delay
		result.ProbeURL = probeURL
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logger.Debug("verification attempt failed",
			"attempt", result.Attempts,
			"reason", classify(err),
			"retry_in", wait,
			"error", err,
		)
	}

	if err := backoff.RetryNotify(operation, schedule, notify); err != nil {
		if lastErr == nil {
			lastErr = err
		}
		result.Err = lastErr
		logger.Info("proxy unreachable", "attempts", result.Attempts, "reason", classify(lastErr), "error", lastErr)
	} else {
		result.Succeeded = true
		logger.Info("proxy reachable", "attempts", result.Attempts, "delay_ms", result.Delay, "url", result.ProbeURL)
	}
	if ctx.Err() == nil {
		v.opts.Cache.remember(ctx, fingerprint, result)
	}
	return result
}

// attempt runs one engine for d and returns the first positive delay.
func (v *Verifier) attempt(ctx context.Context, root string, worker, attempt int, d proxy.Descriptor, fingerprint string, logger *slog.Logger) (int, string, error) {
	j, err := openJob(root, v.ports, core.PortSeed(fingerprint, worker, attempt), v.opts.Logger)
	if err != nil {
		return 0, "", err
	}
	defer j.Close()

	doc := protocol.RenderEngineConfig(d, protocol.EnginePorts{Control: j.controlPort, Data: j.dataPort}, v.opts.Secret)
	if _, err := protocol.WriteYAML(j.configPath, doc); err != nil {
		return 0, "", err
	}

	proc, err := v.engine.Launch(ctx, j.launchSpec())
	if err != nil {
		return 0, "", err
	}
	j.process = proc
	if pid := proc.PID(); pid > 0 {
		if err := core.WritePIDFile(j.dir, core.PIDFile{
			PID:    pid,
			JobID:  j.id,
			Engine: v.engine.Name(),
			Ports:  []int{j.controlPort, j.dataPort},
		}); err != nil {
			logger.Debug("write pid file failed", "error", err)
		}
	}

	client := controller.NewClient("127.0.0.1:"+strconv.Itoa(j.controlPort), v.opts.Secret, v.http)
	if err := client.WaitReady(ctx, v.opts.ReadyTimeout, v.opts.ReadyInterval, proc.Exited()); err != nil {
		if tail := core.ReadLogTail(j.logPath, 5); tail != "" {
			logger.Debug("engine log", "attempt", attempt, "tail", tail)
		}
		return 0, "", err
	}

	if err := sleepContext(ctx, v.opts.SettleDelay); err != nil {
		return 0, "", err
	}

	var probeErr error
	for _, target := range v.opts.ProbeURLs {
		delay, err := client.Delay(ctx, d.Name, target, v.opts.ProbeTimeout)
		if err != nil {
			probeErr = err
			logger.Debug("probe failed", "attempt", attempt, "url", target, "error", err)
			if ctx.Err() != nil {
				return 0, "", ctx.Err()
			}
			continue
		}
		if v.opts.ConfirmDataPort {
			if err := confirmDataPort(ctx, j.dataPort, target, v.opts.ProbeTimeout); err != nil {
				probeErr = err
				logger.Debug("data port check failed", "attempt", attempt, "url", target, "error", err)
				if ctx.Err() != nil {
					return 0, "", ctx.Err()
				}
				continue
			}
		}
		return delay, target, nil
	}
	if probeErr == nil {
		probeErr = errors.New("no probe urls")
	}
	return 0, "", probeErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
