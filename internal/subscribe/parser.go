// Package subscribe turns proxy share links and subscription documents into
// canonical proxy descriptors.
package subscribe

import (
	"errors"
	"net/url"
	"strings"

	"github.com/creamcroissant/clashforge/internal/proxy"
)

type parseFunc func(body string) (proxy.Descriptor, error)

var parsers = map[proxy.Kind]parseFunc{
	proxy.KindShadowsocks: parseShadowsocks,
	proxy.KindVMess:       parseVMess,
	proxy.KindVLess:       parseVLess,
	proxy.KindTrojan:      parseTrojan,
	proxy.KindHysteria2:   parseHysteria2,
}

// Parse converts a share link of the given kind into a descriptor.
// Every failure is returned as *ParseError.
func Parse(kind proxy.Kind, raw string) (proxy.Descriptor, error) {
	raw = strings.TrimSpace(raw)
	fn, ok := parsers[kind]
	if !ok {
		return proxy.Descriptor{}, newParseError(kind, raw, "", ErrUnsupportedScheme)
	}
	body, ok := stripScheme(kind, raw)
	if !ok {
		return proxy.Descriptor{}, newParseError(kind, raw, "", ErrSchemeMismatch)
	}

	d, err := fn(body)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			return proxy.Descriptor{}, pe
		}
		return proxy.Descriptor{}, newParseError(kind, raw, "", err)
	}
	d.Kind = kind
	d.Link = raw
	if err := d.Validate(); err != nil {
		return proxy.Descriptor{}, newParseError(kind, raw, "invalid descriptor", err)
	}
	return d, nil
}

// ParseLink detects the kind from the scheme and parses the link.
func ParseLink(raw string) (proxy.Descriptor, error) {
	raw = strings.TrimSpace(raw)
	scheme, _, found := strings.Cut(raw, "://")
	if !found {
		return proxy.Descriptor{}, newParseError("", raw, "no scheme", ErrUnsupportedScheme)
	}
	kind, ok := proxy.ParseKind(scheme)
	if !ok {
		return proxy.Descriptor{}, newParseError("", raw, scheme, ErrUnsupportedScheme)
	}
	return Parse(kind, raw)
}

// parseAuthority parses "user@host:port?query" bodies shared by the
// URL-shaped schemes. The fragment is split off before url.Parse so a
// badly escaped name never fails the whole link.
func parseAuthority(body string) (*url.URL, string, error) {
	body, name := splitFragment(body)
	u, err := url.Parse("//" + body)
	if err != nil {
		return nil, "", errors.Join(ErrDecode, err)
	}
	if u.Host == "" {
		return nil, "", ErrMissingServer
	}
	return u, name, nil
}

// userSecret returns the user-info as one secret, keeping "user:pass" intact.
func userSecret(u *url.URL) string {
	if u.User == nil {
		return ""
	}
	user := u.User.Username()
	if pass, ok := u.User.Password(); ok {
		return user + ":" + pass
	}
	return user
}
