package subscribe

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/creamcroissant/clashforge/internal/proxy"
)

// parseShadowsocks handles SIP002 (ss://base64(method:pass)@host:port),
// plain user-info and the legacy fully encoded form (ss://base64(method:pass@host:port)).
func parseShadowsocks(body string) (proxy.Descriptor, error) {
	body, name := splitFragment(body)
	body, rawQuery, _ := strings.Cut(body, "?")
	body = strings.TrimSuffix(strings.TrimSpace(body), "/")

	var userinfo, hostport string
	if at := strings.LastIndex(body, "@"); at >= 0 {
		userinfo, hostport = body[:at], body[at+1:]
	} else {
		decoded, err := decodeFlexibleBase64(body)
		if err != nil {
			return proxy.Descriptor{}, fmt.Errorf("%w: base64 body", ErrDecode)
		}
		text := strings.TrimSpace(decodeText(decoded))
		at := strings.LastIndex(text, "@")
		if at < 0 {
			return proxy.Descriptor{}, ErrMissingSeparator
		}
		userinfo, hostport = text[:at], text[at+1:]
	}

	cipher, password, err := decodeSSUserInfo(userinfo)
	if err != nil {
		return proxy.Descriptor{}, err
	}
	server, port, err := splitHostPort(hostport)
	if err != nil {
		return proxy.Descriptor{}, err
	}

	d := proxy.Descriptor{
		Name:       displayName(name, proxy.KindShadowsocks, server, port),
		Server:     server,
		Port:       port,
		Credential: proxy.ShadowsocksCredential{Cipher: cipher, Password: password},
	}
	if q, err := url.ParseQuery(rawQuery); err == nil {
		if plugin := firstParam(q, "plugin"); plugin != "" {
			pluginName, pluginOpts, _ := strings.Cut(plugin, ";")
			d.Options = proxy.ShadowsocksOptions{Plugin: pluginName, PluginOpts: pluginOpts}
		}
	}
	return d, nil
}

func decodeSSUserInfo(userinfo string) (string, string, error) {
	if unescaped, err := url.PathUnescape(userinfo); err == nil {
		userinfo = unescaped
	}
	// base64 never contains ':', so a colon means plain method:password
	if !strings.Contains(userinfo, ":") {
		decoded, err := decodeFlexibleBase64(userinfo)
		if err != nil {
			return "", "", fmt.Errorf("%w: user-info", ErrDecode)
		}
		userinfo = decodeText(decoded)
	}
	cipher, password, ok := strings.Cut(userinfo, ":")
	if !ok || strings.TrimSpace(cipher) == "" || password == "" {
		return "", "", ErrMissingCredential
	}
	return strings.TrimSpace(cipher), password, nil
}
