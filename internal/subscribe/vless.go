package subscribe

import (
	"strings"

	"github.com/creamcroissant/clashforge/internal/proxy"
)

// vless://uuid@server:port?security=reality&pbk=...#name
func parseVLess(body string) (proxy.Descriptor, error) {
	u, name, err := parseAuthority(body)
	if err != nil {
		return proxy.Descriptor{}, err
	}
	server, port, err := splitHostPort(u.Host)
	if err != nil {
		return proxy.Descriptor{}, err
	}
	uuid := strings.TrimSpace(userSecret(u))
	if uuid == "" {
		return proxy.Descriptor{}, ErrMissingCredential
	}

	q := u.Query()
	security, err := securityFromQuery(q, false)
	if err != nil {
		return proxy.Descriptor{}, err
	}
	d := proxy.Descriptor{
		Name:       displayName(name, proxy.KindVLess, server, port),
		Server:     server,
		Port:       port,
		Credential: proxy.UUIDCredential{UUID: uuid},
		Transport:  transportFromQuery(q),
		Security:   security,
	}
	opts := proxy.VLessOptions{
		Flow:       firstParam(q, "flow"),
		Encryption: firstParam(q, "encryption"),
	}
	if opts.Flow != "" || opts.Encryption != "" {
		d.Options = opts
	}
	return d, nil
}

// trojan://password@server:port?sni=...#name
func parseTrojan(body string) (proxy.Descriptor, error) {
	u, name, err := parseAuthority(body)
	if err != nil {
		return proxy.Descriptor{}, err
	}
	server, port, err := splitHostPort(u.Host)
	if err != nil {
		return proxy.Descriptor{}, err
	}
	password := userSecret(u)
	if password == "" {
		return proxy.Descriptor{}, ErrMissingCredential
	}

	q := u.Query()
	// trojan is TLS unless the link says otherwise
	security, err := securityFromQuery(q, true)
	if err != nil {
		return proxy.Descriptor{}, err
	}
	return proxy.Descriptor{
		Name:       displayName(name, proxy.KindTrojan, server, port),
		Server:     server,
		Port:       port,
		Credential: proxy.PasswordCredential{Password: password},
		Transport:  transportFromQuery(q),
		Security:   security,
	}, nil
}
