// 文件路径: internal/protocol/types.go
// 模块说明: Clash/mihomo 配置文档的类型定义，YAML 与 JSON 输出共用同一套结构。
package protocol

// Document is a Clash/mihomo routing configuration.
type Document struct {
	Port               int          `yaml:"port,omitempty" json:"port,omitempty"`
	SocksPort          int          `yaml:"socks-port,omitempty" json:"socks-port,omitempty"`
	RedirPort          int          `yaml:"redir-port,omitempty" json:"redir-port,omitempty"`
	MixedPort          int          `yaml:"mixed-port,omitempty" json:"mixed-port,omitempty"`
	AllowLan           bool         `yaml:"allow-lan" json:"allow-lan"`
	Mode               string       `yaml:"mode" json:"mode"`
	LogLevel           string       `yaml:"log-level" json:"log-level"`
	ExternalController string       `yaml:"external-controller,omitempty" json:"external-controller,omitempty"`
	Secret             string       `yaml:"secret,omitempty" json:"secret,omitempty"`
	GeodataMode        bool         `yaml:"geodata-mode,omitempty" json:"geodata-mode,omitempty"`
	DNS                *DNS         `yaml:"dns,omitempty" json:"dns,omitempty"`
	Proxies            []Proxy      `yaml:"proxies" json:"proxies"`
	ProxyGroups        []ProxyGroup `yaml:"proxy-groups" json:"proxy-groups"`
	Rules              []string     `yaml:"rules" json:"rules"`
}

type DNS struct {
	Enable            bool     `yaml:"enable" json:"enable"`
	IPv6              bool     `yaml:"ipv6" json:"ipv6"`
	EnhancedMode      string   `yaml:"enhanced-mode,omitempty" json:"enhanced-mode,omitempty"`
	DefaultNameserver []string `yaml:"default-nameserver,omitempty" json:"default-nameserver,omitempty"`
	Nameserver        []string `yaml:"nameserver,omitempty" json:"nameserver,omitempty"`
	Fallback          []string `yaml:"fallback,omitempty" json:"fallback,omitempty"`
}

// ProxyGroup is a named selector over proxies or other groups.
type ProxyGroup struct {
	Name     string   `yaml:"name" json:"name"`
	Type     string   `yaml:"type" json:"type"`
	URL      string   `yaml:"url,omitempty" json:"url,omitempty"`
	Interval int      `yaml:"interval,omitempty" json:"interval,omitempty"`
	Proxies  []string `yaml:"proxies" json:"proxies"`
}

// Proxy is one entry of the proxies sequence. Fields that a kind does not
// use stay empty and are omitted.
type Proxy struct {
	Name              string          `yaml:"name" json:"name"`
	Type              string          `yaml:"type" json:"type"`
	Server            string          `yaml:"server" json:"server"`
	Port              int             `yaml:"port" json:"port"`
	Cipher            string          `yaml:"cipher,omitempty" json:"cipher,omitempty"`
	Password          string          `yaml:"password,omitempty" json:"password,omitempty"`
	UUID              string          `yaml:"uuid,omitempty" json:"uuid,omitempty"`
	AlterID           *int            `yaml:"alterId,omitempty" json:"alterId,omitempty"`
	UDP               bool            `yaml:"udp" json:"udp"`
	Network           string          `yaml:"network,omitempty" json:"network,omitempty"`
	TLS               bool            `yaml:"tls,omitempty" json:"tls,omitempty"`
	ServerName        string          `yaml:"servername,omitempty" json:"servername,omitempty"`
	SNI               string          `yaml:"sni,omitempty" json:"sni,omitempty"`
	ALPN              []string        `yaml:"alpn,omitempty" json:"alpn,omitempty"`
	SkipCertVerify    bool            `yaml:"skip-cert-verify,omitempty" json:"skip-cert-verify,omitempty"`
	ClientFingerprint string          `yaml:"client-fingerprint,omitempty" json:"client-fingerprint,omitempty"`
	Flow              string          `yaml:"flow,omitempty" json:"flow,omitempty"`
	Plugin            string          `yaml:"plugin,omitempty" json:"plugin,omitempty"`
	PluginOpts        map[string]any  `yaml:"plugin-opts,omitempty" json:"plugin-opts,omitempty"`
	WSOpts            *WSOptions      `yaml:"ws-opts,omitempty" json:"ws-opts,omitempty"`
	GRPCOpts          *GRPCOptions    `yaml:"grpc-opts,omitempty" json:"grpc-opts,omitempty"`
	H2Opts            *H2Options      `yaml:"h2-opts,omitempty" json:"h2-opts,omitempty"`
	HTTPOpts          *HTTPOptions    `yaml:"http-opts,omitempty" json:"http-opts,omitempty"`
	RealityOpts       *RealityOptions `yaml:"reality-opts,omitempty" json:"reality-opts,omitempty"`
	Up                string          `yaml:"up,omitempty" json:"up,omitempty"`
	Down              string          `yaml:"down,omitempty" json:"down,omitempty"`
	Obfs              string          `yaml:"obfs,omitempty" json:"obfs,omitempty"`
	ObfsPassword      string          `yaml:"obfs-password,omitempty" json:"obfs-password,omitempty"`
}

type WSOptions struct {
	Path    string            `yaml:"path,omitempty" json:"path,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

type GRPCOptions struct {
	ServiceName string `yaml:"grpc-service-name,omitempty" json:"grpc-service-name,omitempty"`
}

type H2Options struct {
	Host []string `yaml:"host,omitempty" json:"host,omitempty"`
	Path string   `yaml:"path,omitempty" json:"path,omitempty"`
}

type HTTPOptions struct {
	Path    []string            `yaml:"path,omitempty" json:"path,omitempty"`
	Headers map[string][]string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

type RealityOptions struct {
	PublicKey string `yaml:"public-key" json:"public-key"`
	ShortID   string `yaml:"short-id,omitempty" json:"short-id,omitempty"`
}

// Built-in targets every Clash core understands.
const (
	TargetDirect = "DIRECT"
	TargetReject = "REJECT"
)
