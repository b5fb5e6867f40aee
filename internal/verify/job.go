package verify

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/creamcroissant/clashforge/internal/core"
)

// job owns everything one verification attempt acquires: two loopback ports,
// a private directory and, once launched, the engine process. Close releases
// all of it and is safe to call more than once.
type job struct {
	id          string
	dir         string
	configPath  string
	logPath     string
	controlPort int
	dataPort    int

	ports   *core.PortAllocator
	logger  *slog.Logger
	process core.Process

	closeOnce sync.Once
	closeErr  error
}

func openJob(root string, ports *core.PortAllocator, seed uint64, logger *slog.Logger) (*job, error) {
	claimed, err := ports.Claim(seed, 2)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	dir, err := os.MkdirTemp(root, "job-"+id[:8]+"-")
	if err != nil {
		ports.Release(claimed...)
		return nil, fmt.Errorf("create job dir: %w", err)
	}
	return &job{
		id:          id,
		dir:         dir,
		configPath:  filepath.Join(dir, "config.yaml"),
		logPath:     filepath.Join(dir, "engine.log"),
		controlPort: claimed[0],
		dataPort:    claimed[1],
		ports:       ports,
		logger:      logger.With("job", id),
	}, nil
}

func (j *job) launchSpec() core.LaunchSpec {
	return core.LaunchSpec{
		ID:          j.id,
		WorkDir:     j.dir,
		ConfigPath:  j.configPath,
		LogPath:     j.logPath,
		ControlPort: j.controlPort,
		DataPort:    j.dataPort,
	}
}

// Close stops the engine, then removes the directory, then releases the
// ports. The ports go back to the pool only after the process is gone.
func (j *job) Close() error {
	j.closeOnce.Do(func() {
		var errs []error
		if j.process != nil {
			if err := j.process.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("stop engine: %w", err))
			}
		}
		if err := os.RemoveAll(j.dir); err != nil {
			errs = append(errs, fmt.Errorf("remove job dir: %w", err))
		}
		j.ports.Release(j.controlPort, j.dataPort)
		j.closeErr = errors.Join(errs...)
		if j.closeErr != nil {
			j.logger.Warn("job cleanup incomplete", "error", j.closeErr)
		}
	})
	return j.closeErr
}
