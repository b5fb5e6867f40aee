// 文件路径: internal/protocol/proxies.go
// 模块说明: 把规范化后的 proxy.Descriptor 转成 Clash Meta (mihomo) 的 proxies 条目。
package protocol

import (
	"strings"

	"github.com/creamcroissant/clashforge/internal/proxy"
)

// BuildProxy renders one descriptor as a Clash proxy entry.
func BuildProxy(d proxy.Descriptor) Proxy {
	p := Proxy{
		Name:   d.Name,
		Type:   string(d.Kind),
		Server: d.Server,
		Port:   d.Port,
		UDP:    true,
	}
	switch d.Kind {
	case proxy.KindShadowsocks:
		buildClashShadowsocks(&p, d)
	case proxy.KindVMess:
		buildClashVmess(&p, d)
	case proxy.KindVLess:
		buildClashVless(&p, d)
	case proxy.KindTrojan:
		buildClashTrojan(&p, d)
	case proxy.KindHysteria2:
		buildClashHysteria2(&p, d)
	}
	return p
}

func buildClashShadowsocks(p *Proxy, d proxy.Descriptor) {
	if cred, ok := d.Credential.(proxy.ShadowsocksCredential); ok {
		p.Cipher = cred.Cipher
		p.Password = cred.Password
	}
	opts, ok := d.Options.(proxy.ShadowsocksOptions)
	if !ok || opts.Plugin == "" {
		return
	}
	plugin, pluginOpts := translatePlugin(opts.Plugin, parsePluginOptions(opts.PluginOpts))
	p.Plugin = plugin
	if len(pluginOpts) > 0 {
		p.PluginOpts = pluginOpts
	}
}

func buildClashVmess(p *Proxy, d proxy.Descriptor) {
	p.UUID = d.UUID()
	// mihomo 要求 vmess 必须带 cipher 与 alterId
	alterID := 0
	p.AlterID = &alterID
	p.Cipher = "auto"
	if opts, ok := d.Options.(proxy.VMessOptions); ok {
		if opts.AlterID != nil {
			aid := *opts.AlterID
			p.AlterID = &aid
		}
		if opts.Cipher != "" {
			p.Cipher = opts.Cipher
		}
	}
	if s := d.Security; s != nil {
		p.TLS = true
		p.ServerName = s.SNI
		p.ALPN = s.ALPN
		p.SkipCertVerify = s.SkipCertVerify
		p.ClientFingerprint = s.Fingerprint
	}
	applyTransport(p, d)
}

// buildClashVless builds a VLESS proxy config for Clash Meta (mihomo).
func buildClashVless(p *Proxy, d proxy.Descriptor) {
	p.UUID = d.UUID()
	if opts, ok := d.Options.(proxy.VLessOptions); ok {
		p.Flow = opts.Flow
	}
	if s := d.Security; s != nil {
		p.TLS = true
		p.ServerName = s.SNI
		p.SkipCertVerify = s.SkipCertVerify
		p.ClientFingerprint = s.Fingerprint
		p.ALPN = s.ALPN
		applyReality(p, s)
	}
	applyTransport(p, d)
}

func buildClashTrojan(p *Proxy, d proxy.Descriptor) {
	p.Password = d.Password()
	if s := d.Security; s != nil {
		p.SNI = s.SNI
		p.ALPN = s.ALPN
		p.SkipCertVerify = s.SkipCertVerify
		p.ClientFingerprint = s.Fingerprint
		applyReality(p, s)
	}
	applyTransport(p, d)
}

func buildClashHysteria2(p *Proxy, d proxy.Descriptor) {
	p.Password = d.Password()
	if s := d.Security; s != nil {
		p.SNI = s.SNI
		p.ALPN = s.ALPN
		p.SkipCertVerify = s.SkipCertVerify
		p.ClientFingerprint = s.Fingerprint
	}
	if opts, ok := d.Options.(proxy.Hysteria2Options); ok {
		p.Up = opts.Up
		p.Down = opts.Down
		p.Obfs = opts.Obfs
		p.ObfsPassword = opts.ObfsPassword
	}
}

func applyReality(p *Proxy, s *proxy.Security) {
	if s.Mode != proxy.SecurityReality {
		return
	}
	p.RealityOpts = &RealityOptions{PublicKey: s.PublicKey, ShortID: s.ShortID}
}

func applyTransport(p *Proxy, d proxy.Descriptor) {
	t := d.Transport
	if t == nil {
		p.Network = string(proxy.NetworkTCP)
		return
	}
	switch t.Network {
	case proxy.NetworkWebSocket:
		p.Network = "ws"
		ws := &WSOptions{Path: t.Path}
		if t.Host != "" {
			ws.Headers = map[string]string{"Host": t.Host}
		}
		if ws.Path != "" || ws.Headers != nil {
			p.WSOpts = ws
		}
	case proxy.NetworkGRPC:
		p.Network = "grpc"
		if t.ServiceName != "" {
			p.GRPCOpts = &GRPCOptions{ServiceName: t.ServiceName}
		}
	case proxy.NetworkHTTP:
		// TLS 下是 h2 传输，明文下是 HTTP 头伪装
		if d.Security != nil {
			p.Network = "h2"
			h2 := &H2Options{}
			if t.Host != "" {
				h2.Host = []string{t.Host}
			}
			if len(t.Paths) > 0 {
				h2.Path = t.Paths[0]
			}
			p.H2Opts = h2
			return
		}
		p.Network = "http"
		opts := &HTTPOptions{Path: t.Paths}
		if t.Host != "" {
			opts.Headers = map[string][]string{"Host": {t.Host}}
		}
		p.HTTPOpts = opts
	default:
		p.Network = string(proxy.NetworkTCP)
	}
}

// parsePluginOptions splits "k=v;flag" pairs. A bare flag means true.
func parsePluginOptions(raw string) map[string]any {
	opts := map[string]any{}
	for _, pair := range strings.Split(raw, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, found := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !found {
			opts[key] = true
			continue
		}
		opts[key] = strings.TrimSpace(value)
	}
	if len(opts) == 0 {
		return nil
	}
	return opts
}

// translatePlugin maps SIP003 plugin names onto the names mihomo uses.
func translatePlugin(name string, opts map[string]any) (string, map[string]any) {
	switch strings.ToLower(name) {
	case "obfs-local", "simple-obfs":
		out := map[string]any{}
		for k, v := range opts {
			switch k {
			case "obfs":
				out["mode"] = v
			case "obfs-host":
				out["host"] = v
			default:
				out[k] = v
			}
		}
		return "obfs", out
	default:
		return name, opts
	}
}
