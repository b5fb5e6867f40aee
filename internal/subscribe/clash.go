package subscribe

import (
	"bytes"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/creamcroissant/clashforge/internal/proxy"
)

// clashProxy mirrors the Clash/mihomo proxy schema for the supported kinds.
type clashProxy struct {
	Name              string            `yaml:"name"`
	Type              string            `yaml:"type"`
	Server            string            `yaml:"server"`
	Port              flexInt           `yaml:"port"`
	Cipher            string            `yaml:"cipher"`
	Password          string            `yaml:"password"`
	UUID              string            `yaml:"uuid"`
	AlterID           *flexInt          `yaml:"alterId"`
	Network           string            `yaml:"network"`
	TLS               bool              `yaml:"tls"`
	ServerName        string            `yaml:"servername"`
	SNI               string            `yaml:"sni"`
	ALPN              []string          `yaml:"alpn"`
	SkipCertVerify    bool              `yaml:"skip-cert-verify"`
	ClientFingerprint string            `yaml:"client-fingerprint"`
	Flow              string            `yaml:"flow"`
	Plugin            string            `yaml:"plugin"`
	PluginOpts        map[string]string `yaml:"plugin-opts"`
	WSOpts            *struct {
		Path    string            `yaml:"path"`
		Headers map[string]string `yaml:"headers"`
	} `yaml:"ws-opts"`
	GRPCOpts *struct {
		ServiceName string `yaml:"grpc-service-name"`
	} `yaml:"grpc-opts"`
	H2Opts *struct {
		Host []string `yaml:"host"`
		Path string   `yaml:"path"`
	} `yaml:"h2-opts"`
	HTTPOpts *struct {
		Path    []string            `yaml:"path"`
		Headers map[string][]string `yaml:"headers"`
	} `yaml:"http-opts"`
	RealityOpts *struct {
		PublicKey string `yaml:"public-key"`
		ShortID   string `yaml:"short-id"`
	} `yaml:"reality-opts"`
	Up           string `yaml:"up"`
	Down         string `yaml:"down"`
	Obfs         string `yaml:"obfs"`
	ObfsPassword string `yaml:"obfs-password"`
}

// flexInt accepts both 443 and "443".
type flexInt int

func (f *flexInt) UnmarshalYAML(node *yaml.Node) error {
	n, err := strconv.Atoi(strings.TrimSpace(node.Value))
	if err != nil {
		return fmt.Errorf("invalid integer %q", node.Value)
	}
	*f = flexInt(n)
	return nil
}

// decodeClashDocument reports ok=false when content is not a Clash proxy list.
func decodeClashDocument(content []byte) ([]proxy.Descriptor, []error, bool) {
	if !bytes.Contains(content, []byte("proxies:")) {
		return nil, nil, false
	}
	var raw struct {
		Proxies []yaml.Node `yaml:"proxies"`
	}
	if err := yaml.Unmarshal(content, &raw); err != nil || len(raw.Proxies) == 0 {
		return nil, nil, false
	}

	var (
		descriptors []proxy.Descriptor
		errs        []error
	)
	// 逐条解码，单个坏条目不影响其他条目
	for i := range raw.Proxies {
		var item clashProxy
		if err := raw.Proxies[i].Decode(&item); err != nil {
			errs = append(errs, newParseError("", fmt.Sprintf("proxies[%d]", i), "clash entry", fmt.Errorf("%w: %v", ErrDecode, err)))
			continue
		}
		d, err := item.descriptor()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		descriptors = append(descriptors, d)
	}
	return descriptors, errs, true
}

func (p clashProxy) descriptor() (proxy.Descriptor, error) {
	kind, ok := proxy.ParseKind(p.Type)
	if !ok {
		return proxy.Descriptor{}, newParseError("", p.Name, p.Type, ErrUnsupportedScheme)
	}
	d := proxy.Descriptor{
		Kind:   kind,
		Server: strings.Trim(strings.TrimSpace(p.Server), "[]"),
		Port:   int(p.Port),
	}
	d.Name = displayName(strings.TrimSpace(p.Name), kind, d.Server, d.Port)

	switch kind {
	case proxy.KindShadowsocks:
		d.Credential = proxy.ShadowsocksCredential{Cipher: p.Cipher, Password: p.Password}
		if p.Plugin != "" {
			d.Options = proxy.ShadowsocksOptions{Plugin: p.Plugin, PluginOpts: joinPluginOpts(p.PluginOpts)}
		}
	case proxy.KindVMess:
		d.Credential = proxy.UUIDCredential{UUID: p.UUID}
		opts := proxy.VMessOptions{Cipher: p.Cipher}
		if p.AlterID != nil {
			aid := int(*p.AlterID)
			opts.AlterID = &aid
		}
		if opts.AlterID != nil || opts.Cipher != "" {
			d.Options = opts
		}
	case proxy.KindVLess:
		d.Credential = proxy.UUIDCredential{UUID: p.UUID}
		if p.Flow != "" {
			d.Options = proxy.VLessOptions{Flow: p.Flow}
		}
	case proxy.KindTrojan:
		d.Credential = proxy.PasswordCredential{Password: p.Password}
	case proxy.KindHysteria2:
		d.Credential = proxy.PasswordCredential{Password: p.Password}
		opts := proxy.Hysteria2Options{Up: p.Up, Down: p.Down, Obfs: p.Obfs, ObfsPassword: p.ObfsPassword}
		if opts != (proxy.Hysteria2Options{}) {
			d.Options = opts
		}
	}

	d.Transport = p.transport()
	d.Security = p.security(kind)
	if d.Security != nil && d.Security.Mode == proxy.SecurityReality && d.Security.PublicKey == "" {
		return proxy.Descriptor{}, newParseError(kind, p.Name, "clash entry", ErrRealityKey)
	}
	if err := d.Validate(); err != nil {
		return proxy.Descriptor{}, newParseError(kind, p.Name, "clash entry", err)
	}
	return d, nil
}

func (p clashProxy) transport() *proxy.Transport {
	switch strings.ToLower(p.Network) {
	case "ws":
		t := &proxy.Transport{Network: proxy.NetworkWebSocket}
		if p.WSOpts != nil {
			t.Path = p.WSOpts.Path
			t.Host = p.WSOpts.Headers["Host"]
		}
		return t
	case "grpc":
		t := &proxy.Transport{Network: proxy.NetworkGRPC}
		if p.GRPCOpts != nil {
			t.ServiceName = p.GRPCOpts.ServiceName
		}
		return t
	case "h2":
		t := &proxy.Transport{Network: proxy.NetworkHTTP}
		if p.H2Opts != nil {
			if len(p.H2Opts.Host) > 0 {
				t.Host = p.H2Opts.Host[0]
			}
			if p.H2Opts.Path != "" {
				t.Paths = []string{p.H2Opts.Path}
			}
		}
		return t
	case "http":
		t := &proxy.Transport{Network: proxy.NetworkHTTP}
		if p.HTTPOpts != nil {
			t.Paths = p.HTTPOpts.Path
			if hosts := p.HTTPOpts.Headers["Host"]; len(hosts) > 0 {
				t.Host = hosts[0]
			}
		}
		return t
	default:
		return nil
	}
}

func (p clashProxy) security(kind proxy.Kind) *proxy.Security {
	if p.RealityOpts != nil {
		return &proxy.Security{
			Mode:           proxy.SecurityReality,
			SNI:            firstNonEmpty(p.ServerName, p.SNI),
			Fingerprint:    p.ClientFingerprint,
			SkipCertVerify: p.SkipCertVerify,
			PublicKey:      p.RealityOpts.PublicKey,
			ShortID:        p.RealityOpts.ShortID,
		}
	}
	if !p.TLS && kind != proxy.KindTrojan && kind != proxy.KindHysteria2 {
		return nil
	}
	return &proxy.Security{
		Mode:           proxy.SecurityTLS,
		SNI:            firstNonEmpty(p.SNI, p.ServerName),
		ALPN:           p.ALPN,
		SkipCertVerify: p.SkipCertVerify,
		Fingerprint:    p.ClientFingerprint,
	}
}

func joinPluginOpts(opts map[string]string) string {
	if len(opts) == 0 {
		return ""
	}
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+opts[k])
	}
	return strings.Join(parts, ";")
}
