package verify

import (
	"context"
	"errors"
	"time"

	"github.com/creamcroissant/clashforge/internal/cache"
)

// ErrCachedFailure marks a result replayed from a cached failed verification.
var ErrCachedFailure = errors.New("recently failed verification")

// ResultCache remembers outcomes by descriptor fingerprint so repeated runs
// skip descriptors that were verified recently.
type ResultCache struct {
	store cache.Store
	ttl   time.Duration
}

type cachedOutcome struct {
	Succeeded  bool      `json:"succeeded"`
	Delay      int       `json:"delay"`
	ProbeURL   string    `json:"probe_url,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	VerifiedAt time.Time `json:"verified_at"`
}

func NewResultCache(store cache.Store, ttl time.Duration) *ResultCache {
	return &ResultCache{store: store.Namespace("results"), ttl: ttl}
}

// Len reports the number of remembered outcomes.
func (c *ResultCache) Len() int {
	if c == nil {
		return 0
	}
	return c.store.Len()
}

func (c *ResultCache) lookup(ctx context.Context, fingerprint string) (cachedOutcome, bool) {
	if c == nil {
		return cachedOutcome{}, false
	}
	var out cachedOutcome
	ok, err := c.store.GetJSON(ctx, fingerprint, &out)
	if err != nil || !ok {
		return cachedOutcome{}, false
	}
	return out, true
}

func (c *ResultCache) remember(ctx context.Context, fingerprint string, r Result) {
	if c == nil {
		return
	}
	// 取消导致的失败不代表节点不可用
	if r.Reason() == ReasonCanceled {
		return
	}
	_ = c.store.SetJSON(ctx, fingerprint, cachedOutcome{
		Succeeded:  r.Succeeded,
		Delay:      r.Delay,
		ProbeURL:   r.ProbeURL,
		Reason:     r.Reason(),
		VerifiedAt: time.Now(),
	}, c.ttl)
}

func (o cachedOutcome) result(index int, r Result) Result {
	r.Index = index
	r.Succeeded = o.Succeeded
	r.Delay = o.Delay
	r.ProbeURL = o.ProbeURL
	r.Cached = true
	if !o.Succeeded {
		r.Err = ErrCachedFailure
	}
	return r
}
