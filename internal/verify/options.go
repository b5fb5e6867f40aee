package verify

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultConcurrency   = 8
	defaultProbeTimeout  = 5 * time.Second
	defaultMaxRetries    = 2
	defaultReadyTimeout  = 10 * time.Second
	defaultReadyInterval = 200 * time.Millisecond
	defaultSettleDelay   = 300 * time.Millisecond
	defaultRetryBackoff  = 500 * time.Millisecond
	defaultProbeURL      = "http://www.gstatic.com/generate_204"

	workRootName = "clashforge-verify"
)

// Options tunes a Verifier. Zero values fall back to defaults.
type Options struct {
	Concurrency  int
	ProbeTimeout time.Duration
	// MaxRetries is the total number of attempts per descriptor.
	MaxRetries    int
	ReadyTimeout  time.Duration
	ReadyInterval time.Duration
	SettleDelay   time.Duration
	ProbeURLs     []string
	// Secret guards the engine control API. Empty means a random secret per Verifier.
	Secret string
	// WorkDir holds the per-attempt job directories. Defaults to the OS temp dir.
	WorkDir      string
	RetryBackoff time.Duration
	// ConfirmDataPort additionally fetches the winning URL through the
	// engine's SOCKS5 listener.
	ConfirmDataPort bool
	// CleanupOrphans terminates engines left behind by an earlier crashed run
	// before verification starts.
	CleanupOrphans bool
	// OnResult is called once per finished descriptor, from worker goroutines.
	OnResult func(done, total int, r Result)

	Logger  *slog.Logger
	Metrics *Metrics
	Cache   *ResultCache
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = defaultConcurrency
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = defaultProbeTimeout
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = defaultReadyTimeout
	}
	if o.ReadyInterval <= 0 {
		o.ReadyInterval = defaultReadyInterval
	}
	if o.SettleDelay < 0 {
		o.SettleDelay = 0
	}
	if o.RetryBackoff < 0 {
		o.RetryBackoff = 0
	}
	urls := make([]string, 0, len(o.ProbeURLs))
	for _, u := range o.ProbeURLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		urls = []string{defaultProbeURL}
	}
	o.ProbeURLs = urls
	if strings.TrimSpace(o.Secret) == "" {
		o.Secret = uuid.NewString()
	}
	if strings.TrimSpace(o.WorkDir) == "" {
		o.WorkDir = os.TempDir()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		SettleDelay:  defaultSettleDelay,
		RetryBackoff: defaultRetryBackoff,
	}.withDefaults()
}
