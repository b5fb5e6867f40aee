// 文件路径: internal/core/core.go
// 模块说明: 代理核心进程的抽象。验证器只依赖 Engine/Process 接口，mihomo 是默认实现，测试里可换成假引擎。
package core

import (
	"context"
	"fmt"
)

// LaunchSpec describes one engine instance started for a single verification attempt.
type LaunchSpec struct {
	ID          string
	WorkDir     string
	ConfigPath  string
	LogPath     string
	ControlPort int
	DataPort    int
}

// Process is a running engine. Stop is idempotent and safe to call after the
// process has already exited.
type Process interface {
	PID() int
	// Exited is closed once the process has been reaped.
	Exited() <-chan struct{}
	Stop() error
}

// Engine starts proxy core processes.
type Engine interface {
	Name() string
	Launch(ctx context.Context, spec LaunchSpec) (Process, error)
}

// LaunchError reports that an engine could not be started.
type LaunchError struct {
	Engine string
	Reason string
	Err    error
}

func (e *LaunchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("launch %s: %s", e.Engine, e.Reason)
	}
	return fmt.Sprintf("launch %s: %s: %v", e.Engine, e.Reason, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }
