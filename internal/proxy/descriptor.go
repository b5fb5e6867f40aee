// Package proxy defines the canonical, protocol-agnostic proxy descriptor
// shared by the parsers, the deduplicator, the synthesizer and the verifier.
package proxy

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Kind 是受支持协议的封闭集合。
type Kind string

const (
	KindShadowsocks Kind = "ss"
	KindVMess       Kind = "vmess"
	KindVLess       Kind = "vless"
	KindTrojan      Kind = "trojan"
	KindHysteria2   Kind = "hysteria2"
)

// Kinds lists every supported kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindShadowsocks, KindVMess, KindVLess, KindTrojan, KindHysteria2}
}

// ParseKind maps a scheme or a Clash "type" value onto a Kind.
func ParseKind(value string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "ss", "shadowsocks":
		return KindShadowsocks, true
	case "vmess":
		return KindVMess, true
	case "vless":
		return KindVLess, true
	case "trojan":
		return KindTrojan, true
	case "hysteria2", "hy2":
		return KindHysteria2, true
	default:
		return "", false
	}
}

// Schemes returns the URI schemes accepted for the kind.
func (k Kind) Schemes() []string {
	if k == KindHysteria2 {
		return []string{"hysteria2", "hy2"}
	}
	return []string{string(k)}
}

func (k Kind) String() string { return string(k) }

// Network 描述传输层。
type Network string

const (
	NetworkTCP       Network = "tcp"
	NetworkWebSocket Network = "ws"
	NetworkGRPC      Network = "grpc"
	NetworkHTTP      Network = "http"
)

// Transport is the optional network layering. A nil *Transport means plain TCP.
type Transport struct {
	Network     Network
	Path        string
	Host        string
	ServiceName string
	Paths       []string
}

// SecurityMode 描述 TLS 层。
type SecurityMode string

const (
	SecurityTLS     SecurityMode = "tls"
	SecurityReality SecurityMode = "reality"
)

// Security is the optional TLS/REALITY layer. A nil *Security means none.
type Security struct {
	Mode           SecurityMode
	SNI            string
	ALPN           []string
	SkipCertVerify bool
	Fingerprint    string
	PublicKey      string
	ShortID        string
}

// Credential is the variant-specific secret of a descriptor.
type Credential interface {
	// Primary returns the value that takes part in the descriptor identity.
	Primary() string
	credential()
}

// ShadowsocksCredential carries the cipher and password pair.
type ShadowsocksCredential struct {
	Cipher   string
	Password string
}

func (c ShadowsocksCredential) Primary() string { return c.Cipher + ":" + c.Password }
func (ShadowsocksCredential) credential()       {}

// UUIDCredential is used by vmess and vless.
type UUIDCredential struct {
	UUID string
}

func (c UUIDCredential) Primary() string { return c.UUID }
func (UUIDCredential) credential()       {}

// PasswordCredential is used by trojan and hysteria2.
type PasswordCredential struct {
	Password string
}

func (c PasswordCredential) Primary() string { return c.Password }
func (PasswordCredential) credential()       {}

// Options is the kind-scoped bag of optional scalars.
type Options interface {
	options()
}

type ShadowsocksOptions struct {
	Plugin     string
	PluginOpts string
}

type VMessOptions struct {
	AlterID *int
	Cipher  string
}

type VLessOptions struct {
	Flow       string
	Encryption string
}

type Hysteria2Options struct {
	Up           string
	Down         string
	Obfs         string
	ObfsPassword string
}

func (ShadowsocksOptions) options() {}
func (VMessOptions) options()       {}
func (VLessOptions) options()       {}
func (Hysteria2Options) options()   {}

// Descriptor is one proxy endpoint in canonical form.
type Descriptor struct {
	Name       string
	Kind       Kind
	Server     string
	Port       int
	Credential Credential
	Transport  *Transport
	Security   *Security
	Options    Options
	// Link is the text the descriptor was parsed from, empty for structured sources.
	Link string
}

var (
	ErrMissingServer     = errors.New("server is required")
	ErrInvalidPort       = errors.New("port must be within 1-65535")
	ErrMissingCredential = errors.New("credential is required")
	ErrUnknownKind       = errors.New("unknown proxy kind")
)

// Validate enforces the invariants every descriptor must satisfy before dedup.
func (d Descriptor) Validate() error {
	if _, ok := ParseKind(string(d.Kind)); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, d.Kind)
	}
	if strings.TrimSpace(d.Server) == "" {
		return ErrMissingServer
	}
	if d.Port < 1 || d.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, d.Port)
	}
	if d.Credential == nil {
		return ErrMissingCredential
	}
	// hysteria2 允许匿名认证
	if d.Kind != KindHysteria2 && credentialEmpty(d.Credential) {
		return ErrMissingCredential
	}
	return nil
}

func credentialEmpty(c Credential) bool {
	switch v := c.(type) {
	case ShadowsocksCredential:
		return v.Cipher == "" || v.Password == ""
	default:
		return c.Primary() == ""
	}
}

// Address returns host:port, bracketing IPv6 literals.
func (d Descriptor) Address() string {
	return net.JoinHostPort(d.Server, strconv.Itoa(d.Port))
}

// DefaultName is the label used when a link carries no fragment.
func DefaultName(kind Kind, server string, port int) string {
	return fmt.Sprintf("%s-%s:%d", kind, server, port)
}

// Password returns the credential secret for password-based kinds.
func (d Descriptor) Password() string {
	switch c := d.Credential.(type) {
	case PasswordCredential:
		return c.Password
	case ShadowsocksCredential:
		return c.Password
	default:
		return ""
	}
}

// UUID returns the credential id for uuid-based kinds.
func (d Descriptor) UUID() string {
	if c, ok := d.Credential.(UUIDCredential); ok {
		return c.UUID
	}
	return ""
}

// NetworkOrDefault reports the transport network, tcp when unset.
func (d Descriptor) NetworkOrDefault() Network {
	if d.Transport == nil || d.Transport.Network == "" {
		return NetworkTCP
	}
	return d.Transport.Network
}
