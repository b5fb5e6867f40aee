package subscribe

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/creamcroissant/clashforge/internal/proxy"
)

var linkPattern = regexp.MustCompile("(?i)\\b(?:ss|vmess|vless|trojan|hysteria2|hy2)://[^\\s\"'<>`]+")

// DecodeSource turns one fetched document into descriptors. It understands
// Clash YAML, V2RayN JSON arrays, base64 wrapped subscriptions and plain or
// markdown text containing share links. Per-link failures are returned next
// to the good descriptors and never stop decoding.
func DecodeSource(content []byte) ([]proxy.Descriptor, []error) {
	text := strings.TrimSpace(strings.TrimPrefix(string(content), "\ufeff"))
	if text == "" {
		return nil, nil
	}
	if ds, errs, ok := decodeClashDocument([]byte(text)); ok {
		return ds, errs
	}
	if ds, errs, ok := decodeV2RayNJSON(text); ok {
		return ds, errs
	}
	if !linkPattern.MatchString(text) {
		// 可能是 base64 包装的订阅
		if decoded, err := decodeFlexibleBase64(text); err == nil {
			inner := strings.TrimSpace(decodeText(decoded))
			if ds, errs, ok := decodeClashDocument([]byte(inner)); ok {
				return ds, errs
			}
			return ParseLines(inner)
		}
	}
	return ParseLines(text)
}

// ExtractLinks finds share links in free text such as README files.
func ExtractLinks(text string) []string {
	matches := linkPattern.FindAllString(text, -1)
	links := make([]string, 0, len(matches))
	for _, m := range matches {
		m = trimUnbalancedParens(strings.TrimRight(m, ",;"))
		for strings.HasPrefix(strings.ToLower(m), "ss://ss://") {
			m = m[len("ss://"):]
		}
		links = append(links, m)
	}
	return links
}

// trimUnbalancedParens drops closing parentheses that belong to the
// surrounding markdown, e.g. "[node](trojan://...#HK)", while keeping
// balanced ones inside a name such as "#HK(01)".
func trimUnbalancedParens(link string) string {
	for strings.HasSuffix(link, ")") && strings.Count(link, ")") > strings.Count(link, "(") {
		link = strings.TrimRight(link[:len(link)-1], ",;")
	}
	return link
}

// ParseLines parses every link found in text.
func ParseLines(text string) ([]proxy.Descriptor, []error) {
	var (
		descriptors []proxy.Descriptor
		errs        []error
	)
	for _, link := range ExtractLinks(text) {
		d, err := ParseLink(link)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		descriptors = append(descriptors, d)
	}
	return descriptors, errs
}

// decodeV2RayNJSON handles a JSON array of vmess objects as exported by V2RayN.
func decodeV2RayNJSON(text string) ([]proxy.Descriptor, []error, bool) {
	if !strings.HasPrefix(text, "[") || !gjson.Valid(text) {
		return nil, nil, false
	}
	root := gjson.Parse(text)
	if !root.IsArray() {
		return nil, nil, false
	}
	var (
		descriptors []proxy.Descriptor
		errs        []error
	)
	root.ForEach(func(_, item gjson.Result) bool {
		if !item.IsObject() || !item.Get("add").Exists() {
			return true
		}
		d, err := vmessFromJSON(item, "")
		if err == nil {
			err = d.Validate()
		}
		if err != nil {
			errs = append(errs, newParseError(proxy.KindVMess, item.Raw, "v2rayn entry", err))
			return true
		}
		descriptors = append(descriptors, d)
		return true
	})
	return descriptors, errs, true
}
