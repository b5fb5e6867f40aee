package subscribe

import (
	"strings"

	"github.com/creamcroissant/clashforge/internal/proxy"
)

// Filter drops descriptors by name keyword or kind. A zero Filter keeps everything.
type Filter struct {
	BannedKeywords []string
	AllowedKinds   []proxy.Kind
}

// Allow reports whether d passes the filter.
func (f Filter) Allow(d proxy.Descriptor) bool {
	if len(f.AllowedKinds) > 0 {
		allowed := false
		for _, k := range f.AllowedKinds {
			if k == d.Kind {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}
	name := strings.ToLower(d.Name)
	for _, kw := range f.BannedKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(name, kw) {
			return false
		}
	}
	return true
}

// Apply returns the descriptors that pass, keeping their order.
func (f Filter) Apply(ds []proxy.Descriptor) []proxy.Descriptor {
	out := make([]proxy.Descriptor, 0, len(ds))
	for _, d := range ds {
		if f.Allow(d) {
			out = append(out, d)
		}
	}
	return out
}
