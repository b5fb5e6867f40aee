package job

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creamcroissant/clashforge/internal/pipeline"
)

// Runner is the part of pipeline.Pipeline the job needs.
type Runner interface {
	Run(ctx context.Context, stages pipeline.Stages) (pipeline.Summary, error)
}

// PipelineJob reruns the pipeline and remembers the outcome of the last run.
type PipelineJob struct {
	runner Runner
	stages pipeline.Stages

	runs     atomic.Int64
	failures atomic.Int64

	mu      sync.RWMutex
	last    pipeline.Summary
	lastErr error
	lastAt  time.Time
}

// NewPipelineJob 构造流水线任务。
func NewPipelineJob(runner Runner, stages pipeline.Stages) *PipelineJob {
	return &PipelineJob{runner: runner, stages: stages}
}

// Name 返回任务标识。
func (j *PipelineJob) Name() string {
	return "pipeline"
}

// Run 执行一轮完整流水线。
func (j *PipelineJob) Run(ctx context.Context) error {
	summary, err := j.runner.Run(ctx, j.stages)
	j.runs.Add(1)
	if err != nil {
		j.failures.Add(1)
	}

	j.mu.Lock()
	j.last = summary
	j.lastErr = err
	j.lastAt = time.Now()
	j.mu.Unlock()
	return err
}

// Status is a snapshot of the job's history.
type Status struct {
	Runs      int64            `json:"runs"`
	Failures  int64            `json:"failures"`
	LastRunAt time.Time        `json:"last_run_at,omitempty"`
	LastError string           `json:"last_error,omitempty"`
	Last      pipeline.Summary `json:"last"`
}

// Status 返回最近一次运行的结果。
func (j *PipelineJob) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	st := Status{
		Runs:      j.runs.Load(),
		Failures:  j.failures.Load(),
		LastRunAt: j.lastAt,
		Last:      j.last,
	}
	if j.lastErr != nil {
		st.LastError = j.lastErr.Error()
	}
	return st
}
