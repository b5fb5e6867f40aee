package subscribe

import (
	"errors"
	"fmt"

	"github.com/creamcroissant/clashforge/internal/proxy"
)

var (
	ErrUnsupportedScheme = errors.New("unsupported scheme")
	ErrSchemeMismatch    = errors.New("scheme does not match kind")
	ErrDecode            = errors.New("decode failed")
	ErrMissingSeparator  = errors.New("missing '@' separator")
	ErrRealityKey        = errors.New("reality requires a public key")

	ErrMissingServer     = proxy.ErrMissingServer
	ErrInvalidPort       = proxy.ErrInvalidPort
	ErrMissingCredential = proxy.ErrMissingCredential
)

// linkPrefixLen bounds how much of a raw link ends up in errors and logs.
const linkPrefixLen = 48

// ParseError reports why a single link could not be turned into a descriptor.
type ParseError struct {
	Kind   proxy.Kind
	Link   string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	kind := string(e.Kind)
	if kind == "" {
		kind = "link"
	}
	msg := fmt.Sprintf("parse %s %q", kind, e.Link)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

func newParseError(kind proxy.Kind, raw, reason string, err error) *ParseError {
	return &ParseError{Kind: kind, Link: LinkPrefix(raw), Reason: reason, Err: err}
}

// LinkPrefix shortens a link to a loggable prefix.
func LinkPrefix(raw string) string {
	r := []rune(raw)
	if len(r) <= linkPrefixLen {
		return raw
	}
	return string(r[:linkPrefixLen]) + "..."
}
