package subscribe

import (
	"net"
	"strings"

	"github.com/creamcroissant/clashforge/internal/proxy"
)

// hysteria2://[password@]server:port?sni=...&obfs=salamander#name
// hy2:// is accepted as an alias.
func parseHysteria2(body string) (proxy.Descriptor, error) {
	u, name, err := parseAuthority(normalizeHopAuthority(body))
	if err != nil {
		return proxy.Descriptor{}, err
	}
	server, port, err := splitHostPort(u.Host)
	if err != nil {
		return proxy.Descriptor{}, err
	}

	q := u.Query()
	d := proxy.Descriptor{
		Name:       displayName(name, proxy.KindHysteria2, server, port),
		Server:     server,
		Port:       port,
		Credential: proxy.PasswordCredential{Password: userSecret(u)},
		Security: &proxy.Security{
			Mode:           proxy.SecurityTLS,
			SNI:            firstParam(q, aliasSNI...),
			ALPN:           splitList(firstParam(q, "alpn")),
			SkipCertVerify: parseBool(firstParam(q, aliasInsecure...)),
			Fingerprint:    firstParam(q, aliasFingerprint...),
		},
	}
	opts := proxy.Hysteria2Options{
		Up:           firstParam(q, "up", "upmbps"),
		Down:         firstParam(q, "down", "downmbps"),
		Obfs:         firstParam(q, "obfs"),
		ObfsPassword: firstParam(q, aliasObfsPassword...),
	}
	if opts != (proxy.Hysteria2Options{}) {
		d.Options = opts
	}
	return d, nil
}

// normalizeHopAuthority rewrites the authority of a link body so url.Parse
// accepts port-hopping lists.
func normalizeHopAuthority(body string) string {
	end := len(body)
	if i := strings.IndexAny(body, "/?#"); i >= 0 {
		end = i
	}
	authority := body[:end]
	at := strings.LastIndex(authority, "@")
	hostport := authority[at+1:]
	if !strings.ContainsAny(hostport, ",-") {
		return body
	}
	return authority[:at+1] + firstHopPort(hostport) + body[end:]
}

// firstHopPort reduces a port-hopping authority ("host:443,8443-8450") to its first port.
func firstHopPort(hostport string) string {
	host, ports, err := net.SplitHostPort(hostport)
	if err != nil {
		idx := strings.LastIndex(hostport, ":")
		if idx < 0 {
			return hostport
		}
		host, ports = strings.Trim(hostport[:idx], "[]"), hostport[idx+1:]
	}
	ports, _, _ = strings.Cut(ports, ",")
	ports, _, _ = strings.Cut(ports, "-")
	return net.JoinHostPort(host, ports)
}
