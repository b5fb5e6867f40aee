// 文件路径: internal/api/handler/etag.go
// 模块说明: 基于内容哈希的 ETag，客户端轮询未变化的配置时返回 304。
package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

func contentETag(payload []byte) string {
	return formatETag(strconv.FormatUint(xxhash.Sum64(payload), 16))
}

func formatETag(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	return "\"" + trimmed + "\""
}

// notModified reports whether the request's If-None-Match already names etag.
func notModified(r *http.Request, etag string) bool {
	header := r.Header.Get("If-None-Match")
	if header == "" || etag == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(candidate), "W/"))
		if candidate == etag || candidate == "*" {
			return true
		}
	}
	return false
}
