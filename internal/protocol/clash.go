// 文件路径: internal/protocol/clash.go
// 模块说明: 把去重后的节点合成完整的 Clash 配置，以及验证用的单节点 mihomo 配置。
package protocol

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/creamcroissant/clashforge/internal/proxy"
)

const (
	defaultSelectGroup   = "节点选择"
	defaultAutoGroup     = "自动选择"
	defaultFallbackGroup = "Fallback"
	defaultTestURL       = "http://www.gstatic.com/generate_204"
	defaultTestInterval  = 300

	engineGroup = "PROXY"
)

// GroupNames names the three selector groups of the output document.
type GroupNames struct {
	Select   string
	Auto     string
	Fallback string
}

// Options configures a Synthesizer. Zero values fall back to defaults.
type Options struct {
	Groups       GroupNames
	TestURL      string
	Interval     int
	TemplatePath string
	Logger       *slog.Logger
}

// Synthesizer assembles the routing configuration document.
type Synthesizer struct {
	groups       GroupNames
	testURL      string
	interval     int
	templatePath string
	logger       *slog.Logger
}

func NewSynthesizer(opts Options) *Synthesizer {
	groups := opts.Groups
	if strings.TrimSpace(groups.Select) == "" {
		groups.Select = defaultSelectGroup
	}
	if strings.TrimSpace(groups.Auto) == "" {
		groups.Auto = defaultAutoGroup
	}
	if strings.TrimSpace(groups.Fallback) == "" {
		groups.Fallback = defaultFallbackGroup
	}
	testURL := strings.TrimSpace(opts.TestURL)
	if testURL == "" {
		testURL = defaultTestURL
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultTestInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{
		groups:       groups,
		testURL:      testURL,
		interval:     interval,
		templatePath: strings.TrimSpace(opts.TemplatePath),
		logger:       logger,
	}
}

// ReservedNames lists names a proxy must not take in the output document.
func (s *Synthesizer) ReservedNames() []string {
	return []string{s.groups.Select, s.groups.Auto, s.groups.Fallback, TargetDirect, TargetReject}
}

// Synthesize builds the document for ds, which must already carry unique
// names. An empty ds yields groups that point at DIRECT and REJECT only.
func (s *Synthesizer) Synthesize(ds []proxy.Descriptor) Document {
	doc := s.loadTemplate()

	doc.Proxies = make([]Proxy, 0, len(ds))
	names := make([]string, 0, len(ds))
	for _, d := range ds {
		doc.Proxies = append(doc.Proxies, BuildProxy(d))
		names = append(names, d.Name)
	}

	members := names
	if len(members) == 0 {
		members = []string{TargetDirect, TargetReject}
	}
	doc.ProxyGroups = []ProxyGroup{
		{Name: s.groups.Select, Type: "select", Proxies: cloneStrings(members)},
		{Name: s.groups.Auto, Type: "url-test", URL: s.testURL, Interval: s.interval, Proxies: cloneStrings(members)},
		{Name: s.groups.Fallback, Type: "fallback", URL: s.testURL, Interval: s.interval, Proxies: cloneStrings(members)},
	}
	s.applyRules(&doc)
	return doc
}

func (s *Synthesizer) loadTemplate() Document {
	if s.templatePath == "" {
		return defaultClashTemplate()
	}
	data, err := os.ReadFile(s.templatePath)
	if err != nil {
		s.logger.Warn("clash template unreadable, using default", "path", s.templatePath, "error", err)
		return defaultClashTemplate()
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("clash template invalid, using default", "path", s.templatePath, "error", err)
		return defaultClashTemplate()
	}
	return doc
}

func (s *Synthesizer) applyRules(doc *Document) {
	matchRule := fmt.Sprintf("MATCH,%s", s.groups.Select)
	rules := make([]string, 0, len(doc.Rules)+1)
	for _, rule := range doc.Rules {
		// 模板自带的 MATCH 规则统一指向选择组
		if strings.HasPrefix(strings.TrimSpace(rule), "MATCH,") {
			continue
		}
		rules = append(rules, rule)
	}
	doc.Rules = append(rules, matchRule)
}

func defaultClashTemplate() Document {
	return Document{
		Port:        7890,
		SocksPort:   7891,
		RedirPort:   7892,
		AllowLan:    true,
		Mode:        "rule",
		LogLevel:    "info",
		GeodataMode: true,
		DNS: &DNS{
			Enable:            true,
			DefaultNameserver: []string{"223.5.5.5", "119.29.29.29"},
		},
	}
}

// EnginePorts are the loopback ports of one verification engine.
type EnginePorts struct {
	Control int
	Data    int
}

// RenderEngineConfig builds the minimal single-proxy document used to verify d.
func RenderEngineConfig(d proxy.Descriptor, ports EnginePorts, secret string) Document {
	group := engineGroup
	if d.Name == group {
		group += "_"
	}
	return Document{
		MixedPort:          ports.Data,
		Mode:               "rule",
		LogLevel:           "error",
		ExternalController: fmt.Sprintf("127.0.0.1:%d", ports.Control),
		Secret:             secret,
		Proxies:            []Proxy{BuildProxy(d)},
		ProxyGroups: []ProxyGroup{
			{Name: group, Type: "select", Proxies: []string{d.Name}},
		},
		Rules: []string{"MATCH," + group},
	}
}

// Bytes renders the document as YAML.
func (d Document) Bytes() ([]byte, error) {
	return yaml.Marshal(d)
}

func cloneStrings(items []string) []string {
	return append([]string(nil), items...)
}
