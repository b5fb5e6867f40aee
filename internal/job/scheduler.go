// 文件路径: internal/job/scheduler.go
// 模块说明: cron 调度器。常驻模式下按计划重复执行流水线，上一轮没跑完时跳过本轮。
package job

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Runnable 表示由调度器触发的后台任务。
type Runnable interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler 封装 cron，并提供日志与优雅停机。
type Scheduler struct {
	cron    *cron.Cron
	logger  *slog.Logger
	timeout time.Duration

	mu       sync.Mutex
	started  bool
	ctx      context.Context
	cancel   context.CancelFunc
	triggers sync.WaitGroup
}

const defaultJobTimeout = 30 * time.Minute

var specParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewScheduler 构建支持秒与自然描述的调度器。timeout bounds a single run.
func NewScheduler(logger *slog.Logger, timeout time.Duration) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	c := cron.New(
		cron.WithParser(specParser),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger: logger})),
	)
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{cron: c, logger: logger, timeout: timeout, ctx: ctx, cancel: cancel}
}

// ValidateSpec reports whether spec parses with the scheduler's grammar.
func ValidateSpec(spec string) error {
	if _, err := specParser.Parse(spec); err != nil {
		return fmt.Errorf("scheduler: invalid spec %q: %w", spec, err)
	}
	return nil
}

// Register 绑定 cron 表达式与任务。
func (s *Scheduler) Register(spec string, runnable Runnable) (cron.EntryID, error) {
	if runnable == nil {
		return 0, fmt.Errorf("scheduler: runnable is required / runnable 不能为空")
	}
	if spec == "" {
		return 0, fmt.Errorf("scheduler: spec is required / spec 不能为空")
	}
	schedule, err := specParser.Parse(spec)
	if err != nil {
		return 0, fmt.Errorf("scheduler: invalid spec %q: %w", spec, err)
	}
	entryID := s.cron.Schedule(schedule, cron.FuncJob(s.wrap(runnable)))
	s.logger.Info("job registered", "job", runnable.Name(), "spec", spec)
	return entryID, nil
}

// Next returns the next activation time of entry, or zero before Start.
func (s *Scheduler) Next(id cron.EntryID) time.Time {
	return s.cron.Entry(id).Next
}

// Trigger runs entry once, outside the schedule, through the same chain so
// it never overlaps a scheduled run.
func (s *Scheduler) Trigger(id cron.EntryID) bool {
	entry := s.cron.Entry(id)
	if !entry.Valid() {
		return false
	}
	s.triggers.Add(1)
	go func() {
		defer s.triggers.Done()
		entry.WrappedJob.Run()
	}()
	return true
}

// Start 启动调度器并执行任务。
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.cron.Start()
	s.started = true
	s.mu.Unlock()
}

// Stop 停止调度器，取消执行中的任务；返回的 context 在所有任务（含手动触发）结束后完成。
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel()

	cronDone := context.Background()
	if s.started {
		s.started = false
		cronDone = s.cron.Stop()
	}
	ctx, done := context.WithCancel(context.Background())
	go func() {
		<-cronDone.Done()
		s.triggers.Wait()
		done()
	}()
	return ctx
}

// wrap 包装任务，提供超时与统一日志。
func (s *Scheduler) wrap(runnable Runnable) func() {
	return func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
		defer cancel()
		start := time.Now()
		s.logger.Info("job started", "job", runnable.Name())
		if err := runnable.Run(ctx); err != nil {
			s.logger.Error("job failed", "job", runnable.Name(), "error", err, "elapsed", time.Since(start))
			return
		}
		s.logger.Info("job completed", "job", runnable.Name(), "elapsed", time.Since(start))
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
