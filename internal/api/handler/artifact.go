// 文件路径: internal/api/handler/artifact.go
// 模块说明: 提供最近一次流水线产物的下载：Clash 配置、可用节点报告、运行状态。
package handler

import (
	"net/http"
	"strconv"

	"github.com/creamcroissant/clashforge/internal/cache"
	"github.com/creamcroissant/clashforge/internal/pipeline"
)

// StatusFunc returns the JSON-encodable scheduler status.
type StatusFunc func() any

// ArtifactHandler serves the outputs published by the pipeline.
type ArtifactHandler struct {
	artifacts cache.Store
	status    StatusFunc
}

func NewArtifactHandler(artifacts cache.Store, status StatusFunc) *ArtifactHandler {
	return &ArtifactHandler{artifacts: artifacts, status: status}
}

// Config serves the latest Clash YAML.
func (h *ArtifactHandler) Config(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, pipeline.ArtifactConfig, "text/yaml; charset=utf-8", "clash.yaml")
}

// Report serves the latest text report.
func (h *ArtifactHandler) Report(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, pipeline.ArtifactReport, "text/plain; charset=utf-8", "")
}

// Status serves the scheduler status, or the last summary when no status source is set.
func (h *ArtifactHandler) Status(w http.ResponseWriter, r *http.Request) {
	if h.status != nil {
		RespondJSON(w, http.StatusOK, h.status())
		return
	}
	var summary pipeline.Summary
	found, err := h.artifacts.GetJSON(r.Context(), pipeline.ArtifactSummary, &summary)
	if err != nil {
		RespondError(w, http.StatusInternalServerError, "summary unreadable")
		return
	}
	if !found {
		RespondError(w, http.StatusNotFound, "no run has finished yet")
		return
	}
	RespondJSON(w, http.StatusOK, summary)
}

func (h *ArtifactHandler) serve(w http.ResponseWriter, r *http.Request, key, contentType, filename string) {
	payload, ok := h.artifacts.GetBytes(r.Context(), key)
	if !ok {
		RespondError(w, http.StatusNotFound, key+" not generated yet")
		return
	}
	etag := contentETag(payload)
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	if notModified(r, etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
	if filename != "" {
		w.Header().Set("Content-Disposition", `inline; filename="`+filename+`"`)
	}
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(payload)
	}
}
