package subscribe

import (
	"encoding/base64"
	"net"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/creamcroissant/clashforge/internal/proxy"
)

// Alias tables, first non-empty match wins.
var (
	aliasSNI          = []string{"sni", "peer", "servername"}
	aliasInsecure     = []string{"allowInsecure", "allowinsecure", "insecure", "skip-cert-verify"}
	aliasNetwork      = []string{"type", "network"}
	aliasServiceName  = []string{"serviceName", "service-name"}
	aliasFingerprint  = []string{"fp", "fingerprint"}
	aliasPublicKey    = []string{"pbk", "public-key", "publicKey"}
	aliasShortID      = []string{"sid", "short-id", "shortId"}
	aliasObfsPassword = []string{"obfs-password", "obfs_password"}
)

// firstParam returns the first non-empty value among aliases. Only the first
// occurrence of a repeated key is considered.
func firstParam(q url.Values, aliases ...string) string {
	for _, key := range aliases {
		vals, ok := q[key]
		if !ok || len(vals) == 0 {
			continue
		}
		if v := strings.TrimSpace(vals[0]); v != "" {
			return v
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// parseBool accepts "1" and "true" in any case.
func parseBool(value string) bool {
	value = strings.TrimSpace(value)
	return value == "1" || strings.EqualFold(value, "true")
}

func splitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// splitFragment separates "#name" from the body and decodes the name.
func splitFragment(raw string) (body, name string) {
	body, frag, found := strings.Cut(raw, "#")
	if !found {
		return body, ""
	}
	if decoded, err := url.PathUnescape(frag); err == nil {
		frag = decoded
	}
	return body, strings.TrimSpace(frag)
}

func displayName(name string, kind proxy.Kind, server string, port int) string {
	if name != "" {
		return name
	}
	return proxy.DefaultName(kind, server, port)
}

// stripScheme removes "<scheme>://" for any scheme accepted by kind.
func stripScheme(kind proxy.Kind, raw string) (string, bool) {
	lower := strings.ToLower(raw)
	for _, scheme := range kind.Schemes() {
		prefix := scheme + "://"
		if strings.HasPrefix(lower, prefix) {
			return raw[len(prefix):], true
		}
	}
	return "", false
}

// splitHostPort validates the authority part of a link.
func splitHostPort(hostport string) (string, int, error) {
	hostport = strings.TrimSuffix(strings.TrimSpace(hostport), "/")
	host, portText, err := net.SplitHostPort(hostport)
	if err != nil {
		if hostport == "" || !strings.Contains(hostport, ":") {
			return "", 0, ErrInvalidPort
		}
		return "", 0, err
	}
	host = strings.Trim(host, "[]")
	if host == "" {
		return "", 0, ErrMissingServer
	}
	port, err := parsePort(portText)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}

func parsePort(text string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || port < 1 || port > 65535 {
		return 0, ErrInvalidPort
	}
	return port, nil
}

// decodeFlexibleBase64 normalizes padding and tries every common alphabet.
func decodeFlexibleBase64(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	value = strings.NewReplacer("\n", "", "\r", "", " ", "").Replace(value)
	if value == "" {
		return nil, ErrDecode
	}
	unpadded := strings.TrimRight(value, "=")
	padded := unpadded
	if m := len(padded) % 4; m != 0 {
		padded += strings.Repeat("=", 4-m)
	}
	attempts := []struct {
		enc  *base64.Encoding
		text string
	}{
		{base64.StdEncoding, padded},
		{base64.URLEncoding, padded},
		{base64.RawStdEncoding, unpadded},
		{base64.RawURLEncoding, unpadded},
	}
	for _, a := range attempts {
		if decoded, err := a.enc.DecodeString(a.text); err == nil {
			return decoded, nil
		}
	}
	return nil, ErrDecode
}

// decodeText turns decoded bytes into a string, reading non UTF-8 input as latin-1.
func decodeText(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(out)
}

// transportFromQuery builds the transport record shared by vless and trojan links.
func transportFromQuery(q url.Values) *proxy.Transport {
	network := strings.ToLower(firstParam(q, aliasNetwork...))
	switch network {
	case "ws", "websocket":
		return &proxy.Transport{
			Network: proxy.NetworkWebSocket,
			Path:    firstParam(q, "path"),
			Host:    firstParam(q, "host"),
		}
	case "grpc":
		return &proxy.Transport{
			Network:     proxy.NetworkGRPC,
			ServiceName: firstParam(q, aliasServiceName...),
		}
	case "http", "h2":
		t := &proxy.Transport{Network: proxy.NetworkHTTP, Host: firstParam(q, "host")}
		if p := firstParam(q, "path"); p != "" {
			t.Paths = []string{p}
		}
		return t
	default:
		return nil
	}
}

// securityFromQuery reads the tls/reality hints. defaultTLS is used when the
// link carries no explicit security parameter.
func securityFromQuery(q url.Values, defaultTLS bool) (*proxy.Security, error) {
	mode := strings.ToLower(firstParam(q, "security"))
	if mode == "" && defaultTLS {
		mode = "tls"
	}
	switch mode {
	case "tls", "xtls":
		return &proxy.Security{
			Mode:           proxy.SecurityTLS,
			SNI:            firstParam(q, aliasSNI...),
			ALPN:           splitList(firstParam(q, "alpn")),
			SkipCertVerify: parseBool(firstParam(q, aliasInsecure...)),
			Fingerprint:    firstParam(q, aliasFingerprint...),
		}, nil
	case "reality":
		pbk := firstParam(q, aliasPublicKey...)
		if pbk == "" {
			return nil, ErrRealityKey
		}
		return &proxy.Security{
			Mode:           proxy.SecurityReality,
			SNI:            firstParam(q, aliasSNI...),
			SkipCertVerify: parseBool(firstParam(q, aliasInsecure...)),
			Fingerprint:    firstParam(q, aliasFingerprint...),
			PublicKey:      pbk,
			ShortID:        firstParam(q, aliasShortID...),
		}, nil
	default:
		return nil, nil
	}
}
