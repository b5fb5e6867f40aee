package subscribe

import (
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/creamcroissant/clashforge/internal/proxy"
)

// Encode renders a descriptor back into its canonical share link.
func Encode(d proxy.Descriptor) string {
	switch d.Kind {
	case proxy.KindShadowsocks:
		return encodeShadowsocks(d)
	case proxy.KindVMess:
		return encodeVMess(d)
	case proxy.KindVLess:
		return encodeVLess(d)
	case proxy.KindTrojan:
		return encodeTrojan(d)
	case proxy.KindHysteria2:
		return encodeHysteria2(d)
	default:
		return ""
	}
}

// LinkOf returns the originating link, falling back to the canonical form.
func LinkOf(d proxy.Descriptor) string {
	if d.Link != "" {
		return d.Link
	}
	return Encode(d)
}

func encodeShadowsocks(d proxy.Descriptor) string {
	cred, _ := d.Credential.(proxy.ShadowsocksCredential)
	userinfo := base64.URLEncoding.EncodeToString([]byte(cred.Cipher + ":" + cred.Password))
	link := "ss://" + userinfo + "@" + d.Address()
	if opts, ok := d.Options.(proxy.ShadowsocksOptions); ok && opts.Plugin != "" {
		plugin := opts.Plugin
		if opts.PluginOpts != "" {
			plugin += ";" + opts.PluginOpts
		}
		link += "/?plugin=" + url.QueryEscape(plugin)
	}
	return link + fragment(d.Name)
}

// vmessEnvelope keeps the V2RayN key order.
type vmessEnvelope struct {
	Add           string `json:"add"`
	Port          string `json:"port"`
	ID            string `json:"id"`
	Aid           string `json:"aid,omitempty"`
	Scy           string `json:"scy,omitempty"`
	Net           string `json:"net"`
	Type          string `json:"type,omitempty"`
	Host          string `json:"host,omitempty"`
	Path          string `json:"path,omitempty"`
	TLS           string `json:"tls,omitempty"`
	SNI           string `json:"sni,omitempty"`
	ALPN          string `json:"alpn,omitempty"`
	PS            string `json:"ps"`
	AllowInsecure string `json:"allowInsecure,omitempty"`
}

func encodeVMess(d proxy.Descriptor) string {
	env := vmessEnvelope{
		Add:  d.Server,
		Port: strconv.Itoa(d.Port),
		ID:   d.UUID(),
		Net:  string(d.NetworkOrDefault()),
		PS:   d.Name,
	}
	if opts, ok := d.Options.(proxy.VMessOptions); ok {
		if opts.AlterID != nil {
			env.Aid = strconv.Itoa(*opts.AlterID)
		}
		env.Scy = opts.Cipher
	}
	if t := d.Transport; t != nil {
		switch t.Network {
		case proxy.NetworkWebSocket:
			env.Host, env.Path = t.Host, t.Path
		case proxy.NetworkGRPC:
			env.Path = t.ServiceName
		case proxy.NetworkHTTP:
			env.Net = "h2"
			env.Host = t.Host
			if len(t.Paths) > 0 {
				env.Path = t.Paths[0]
			}
		}
	}
	if s := d.Security; s != nil {
		env.TLS = "tls"
		env.SNI = s.SNI
		env.ALPN = strings.Join(s.ALPN, ",")
		if s.SkipCertVerify {
			env.AllowInsecure = "1"
		}
	}
	payload, _ := json.Marshal(env)
	return "vmess://" + base64.StdEncoding.EncodeToString(payload)
}

func encodeVLess(d proxy.Descriptor) string {
	var q orderedQuery
	q.securityParams(d.Security)
	if opts, ok := d.Options.(proxy.VLessOptions); ok {
		q.add("flow", opts.Flow)
		q.add("encryption", opts.Encryption)
	}
	q.transportParams(d.Transport)
	q.realityParams(d.Security)
	q.add("allowInsecure", boolParam(d.Security != nil && d.Security.SkipCertVerify))
	q.tlsExtras(d.Security)
	return "vless://" + userinfo(d.UUID()) + "@" + d.Address() + q.String() + fragment(d.Name)
}

func encodeTrojan(d proxy.Descriptor) string {
	var q orderedQuery
	if d.Security != nil && d.Security.Mode == proxy.SecurityReality {
		q.add("security", string(proxy.SecurityReality))
	}
	if d.Security != nil {
		q.add("sni", d.Security.SNI)
	}
	q.transportParams(d.Transport)
	q.realityParams(d.Security)
	q.add("allowInsecure", boolParam(d.Security != nil && d.Security.SkipCertVerify))
	q.tlsExtras(d.Security)
	return "trojan://" + userinfo(d.Password()) + "@" + d.Address() + q.String() + fragment(d.Name)
}

func encodeHysteria2(d proxy.Descriptor) string {
	var q orderedQuery
	if s := d.Security; s != nil {
		q.add("sni", s.SNI)
		q.add("insecure", boolParam(s.SkipCertVerify))
	}
	if opts, ok := d.Options.(proxy.Hysteria2Options); ok {
		q.add("up", opts.Up)
		q.add("down", opts.Down)
		q.add("obfs", opts.Obfs)
		q.add("obfs-password", opts.ObfsPassword)
	}
	q.tlsExtras(d.Security)
	link := "hysteria2://"
	if pw := d.Password(); pw != "" {
		link += userinfo(pw) + "@"
	}
	return link + d.Address() + q.String() + fragment(d.Name)
}

// orderedQuery preserves parameter order, unlike url.Values.Encode.
type orderedQuery []string

func (q *orderedQuery) add(key, value string) {
	if value == "" {
		return
	}
	*q = append(*q, url.QueryEscape(key)+"="+url.QueryEscape(value))
}

func (q *orderedQuery) securityParams(s *proxy.Security) {
	if s == nil {
		return
	}
	q.add("security", string(s.Mode))
	q.add("sni", s.SNI)
}

func (q *orderedQuery) transportParams(t *proxy.Transport) {
	if t == nil {
		return
	}
	switch t.Network {
	case proxy.NetworkWebSocket:
		q.add("type", "ws")
		q.add("path", t.Path)
		q.add("host", t.Host)
	case proxy.NetworkGRPC:
		q.add("type", "grpc")
		q.add("serviceName", t.ServiceName)
	case proxy.NetworkHTTP:
		q.add("type", "http")
		if len(t.Paths) > 0 {
			q.add("path", t.Paths[0])
		}
		q.add("host", t.Host)
	}
}

func (q *orderedQuery) realityParams(s *proxy.Security) {
	if s == nil || s.Mode != proxy.SecurityReality {
		return
	}
	q.add("pbk", s.PublicKey)
	q.add("sid", s.ShortID)
}

func (q *orderedQuery) tlsExtras(s *proxy.Security) {
	if s == nil {
		return
	}
	q.add("fp", s.Fingerprint)
	q.add("alpn", strings.Join(s.ALPN, ","))
}

func (q orderedQuery) String() string {
	if len(q) == 0 {
		return ""
	}
	return "?" + strings.Join(q, "&")
}

func boolParam(v bool) string {
	if v {
		return "1"
	}
	return ""
}

func userinfo(secret string) string {
	return url.User(secret).String()
}

func fragment(name string) string {
	if name == "" {
		return ""
	}
	return "#" + url.PathEscape(name)
}
