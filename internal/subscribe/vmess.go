package subscribe

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/creamcroissant/clashforge/internal/proxy"
)

// parseVMess decodes the base64 JSON envelope of a vmess:// link.
func parseVMess(body string) (proxy.Descriptor, error) {
	body, name := splitFragment(body)
	decoded, err := decodeFlexibleBase64(body)
	if err != nil {
		return proxy.Descriptor{}, fmt.Errorf("%w: base64 envelope", ErrDecode)
	}
	payload := decodeText(decoded)
	if !gjson.Valid(payload) {
		return proxy.Descriptor{}, fmt.Errorf("%w: invalid json envelope", ErrDecode)
	}
	root := gjson.Parse(payload)
	if !root.IsObject() {
		return proxy.Descriptor{}, fmt.Errorf("%w: json envelope is not an object", ErrDecode)
	}
	return vmessFromJSON(root, name)
}

// vmessFromJSON maps V2RayN-style keys onto a descriptor. It is shared with
// the JSON subscription decoder.
func vmessFromJSON(root gjson.Result, fallbackName string) (proxy.Descriptor, error) {
	server := strings.Trim(strings.TrimSpace(root.Get("add").String()), "[]")
	if server == "" {
		return proxy.Descriptor{}, ErrMissingServer
	}
	port, err := parsePort(root.Get("port").String())
	if err != nil {
		return proxy.Descriptor{}, err
	}
	id := strings.TrimSpace(root.Get("id").String())
	if id == "" {
		return proxy.Descriptor{}, ErrMissingCredential
	}

	d := proxy.Descriptor{
		Kind:       proxy.KindVMess,
		Server:     server,
		Port:       port,
		Credential: proxy.UUIDCredential{UUID: id},
	}
	d.Name = displayName(firstNonEmpty(root.Get("ps").String(), fallbackName), proxy.KindVMess, server, port)

	opts := proxy.VMessOptions{Cipher: strings.TrimSpace(root.Get("scy").String())}
	if aid := strings.TrimSpace(root.Get("aid").String()); aid != "" {
		if n, err := strconv.Atoi(aid); err == nil {
			opts.AlterID = &n
		}
	}
	if opts.AlterID != nil || opts.Cipher != "" {
		d.Options = opts
	}

	network := strings.ToLower(strings.TrimSpace(root.Get("net").String()))
	host := strings.TrimSpace(root.Get("host").String())
	path := strings.TrimSpace(root.Get("path").String())
	headerType := strings.ToLower(strings.TrimSpace(root.Get("type").String()))
	switch {
	case network == "ws":
		d.Transport = &proxy.Transport{Network: proxy.NetworkWebSocket, Path: path, Host: host}
	case network == "grpc":
		d.Transport = &proxy.Transport{Network: proxy.NetworkGRPC, ServiceName: path}
	case network == "h2" || network == "http" || (network == "tcp" && headerType == "http"):
		d.Transport = &proxy.Transport{Network: proxy.NetworkHTTP, Host: host}
		if path != "" {
			d.Transport.Paths = []string{path}
		}
	}

	switch strings.ToLower(strings.TrimSpace(root.Get("tls").String())) {
	case "tls", "xtls", "1", "true":
		sni := jsonFirst(root, "sni", "servername")
		if sni == "" && network == "ws" {
			sni = host
		}
		d.Security = &proxy.Security{
			Mode:           proxy.SecurityTLS,
			SNI:            sni,
			ALPN:           splitList(root.Get("alpn").String()),
			SkipCertVerify: parseBool(jsonFirst(root, aliasInsecure...)),
			Fingerprint:    jsonFirst(root, aliasFingerprint...),
		}
	}
	return d, nil
}

func jsonFirst(root gjson.Result, keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(root.Get(gjsonKey(key)).String()); v != "" {
			return v
		}
	}
	return ""
}

// gjsonKey escapes path metacharacters so keys like "skip-cert-verify" are literal.
func gjsonKey(key string) string {
	r := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`)
	return r.Replace(key)
}
