package verify

import (
	"context"
	"errors"
	"fmt"

	"github.com/creamcroissant/clashforge/internal/controller"
	"github.com/creamcroissant/clashforge/internal/core"
	"github.com/creamcroissant/clashforge/internal/protocol"
	"github.com/creamcroissant/clashforge/internal/proxy"
)

// Result is the outcome of verifying one descriptor.
type Result struct {
	// Index is the descriptor's position in the input slice.
	Index      int
	Descriptor proxy.Descriptor
	Succeeded  bool
	// Delay is in milliseconds. Zero means unknown.
	Delay    int
	Attempts int
	ProbeURL string
	Cached   bool
	// Err holds the last failure. It is nil on success.
	Err error
}

// Failure categories reported by Reason.
const (
	ReasonNone     = ""
	ReasonLaunch   = "launch"
	ReasonConfig   = "config"
	ReasonTimeout  = "timeout"
	ReasonExited   = "exited"
	ReasonProbe    = "probe"
	ReasonDataPort = "data_port"
	ReasonPorts    = "ports"
	ReasonPanic    = "panic"
	ReasonCanceled = "canceled"
	ReasonCached   = "cached"
	ReasonOther    = "other"
)

// Reason classifies r.Err into one of the failure categories.
func (r Result) Reason() string {
	return classify(r.Err)
}

// DataPortError reports that the engine's data listener did not carry the
// probe request.
type DataPortError struct {
	Port int
	URL  string
	Err  error
}

func (e *DataPortError) Error() string {
	return fmt.Sprintf("data port %d: fetch %s: %v", e.Port, e.URL, e.Err)
}

func (e *DataPortError) Unwrap() error { return e.Err }

// PanicError wraps a panic recovered while verifying one descriptor.
type PanicError struct {
	Err error
}

func (e *PanicError) Error() string { return "verification panicked: " + e.Err.Error() }

func (e *PanicError) Unwrap() error { return e.Err }

func classify(err error) string {
	if err == nil {
		return ReasonNone
	}
	var (
		launchErr  *core.LaunchError
		writeErr   *protocol.ConfigWriteError
		timeoutErr *controller.TimeoutError
		probeErr   *controller.ProbeError
		dataErr    *DataPortError
		panicErr   *PanicError
	)
	switch {
	case errors.As(err, &panicErr):
		return ReasonPanic
	case errors.As(err, &writeErr):
		return ReasonConfig
	case errors.As(err, &launchErr):
		if launchErr.Reason == "invalid config" {
			return ReasonConfig
		}
		return ReasonLaunch
	case errors.As(err, &timeoutErr):
		return ReasonTimeout
	case errors.Is(err, controller.ErrEngineExited):
		return ReasonExited
	case errors.As(err, &dataErr):
		return ReasonDataPort
	case errors.As(err, &probeErr):
		return ReasonProbe
	case errors.Is(err, core.ErrPortsExhausted):
		return ReasonPorts
	case errors.Is(err, ErrCachedFailure):
		return ReasonCached
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ReasonCanceled
	default:
		return ReasonOther
	}
}
