// Package dedup collapses descriptors that point at the same logical proxy
// and makes display names unique.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/creamcroissant/clashforge/internal/proxy"
)

// Fingerprint hashes (kind, server, port, primary credential). Name and
// transport details do not take part in identity.
func Fingerprint(d proxy.Descriptor) string {
	primary := ""
	if d.Credential != nil {
		primary = d.Credential.Primary()
	}
	h := sha256.New()
	for _, part := range []string{
		string(d.Kind),
		strings.ToLower(strings.TrimSpace(d.Server)),
		strconv.Itoa(d.Port),
		primary,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Dedupe keeps the first descriptor seen for every fingerprint, in input order.
func Dedupe(ds []proxy.Descriptor) []proxy.Descriptor {
	seen := make(map[string]struct{}, len(ds))
	out := make([]proxy.Descriptor, 0, len(ds))
	for _, d := range ds {
		fp := Fingerprint(d)
		if _, ok := seen[fp]; ok {
			continue
		}
		seen[fp] = struct{}{}
		out = append(out, d)
	}
	return out
}

const (
	suffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	suffixLength   = 4
)

// SuffixFunc returns a random suffix of n characters.
type SuffixFunc func(n int) string

type nameOptions struct {
	reserved []string
	suffix   SuffixFunc
}

// NameOption customizes UniqueNames.
type NameOption func(*nameOptions)

// WithReserved marks names that descriptors may not take, such as group names.
func WithReserved(names ...string) NameOption {
	return func(o *nameOptions) {
		o.reserved = append(o.reserved, names...)
	}
}

// WithSuffixFunc replaces the random suffix source.
func WithSuffixFunc(fn SuffixFunc) NameOption {
	return func(o *nameOptions) {
		if fn != nil {
			o.suffix = fn
		}
	}
}

// UniqueNames returns a copy of ds whose names are pairwise distinct. A taken
// name becomes "<name>_<suffix>", retried until free.
func UniqueNames(ds []proxy.Descriptor, opts ...NameOption) []proxy.Descriptor {
	o := nameOptions{suffix: randomSuffix}
	for _, opt := range opts {
		opt(&o)
	}

	taken := make(map[string]struct{}, len(ds)+len(o.reserved))
	for _, name := range o.reserved {
		taken[name] = struct{}{}
	}

	out := make([]proxy.Descriptor, len(ds))
	for i, d := range ds {
		name := d.Name
		for {
			if _, exists := taken[name]; !exists {
				break
			}
			name = d.Name + "_" + o.suffix(suffixLength)
		}
		taken[name] = struct{}{}
		d.Name = name
		out[i] = d
	}
	return out
}

func randomSuffix(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = suffixAlphabet[rand.IntN(len(suffixAlphabet))]
	}
	return string(b)
}
