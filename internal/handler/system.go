package handler

import (
	"net/http"

	"github.com/sakif/code-runner/internal/engine"
)

// Catalog is what the system handlers need from the engine.
type Catalog interface {
	Languages() []engine.LanguageInfo
	Toolchains() map[string]bool
}

// SystemHandler serves the language list and the health check.
type SystemHandler struct {
	catalog Catalog
}

// NewSystemHandler creates a SystemHandler.
func NewSystemHandler(catalog Catalog) *SystemHandler {
	return &SystemHandler{catalog: catalog}
}

// HandleLanguages lists the supported languages.
func (h *SystemHandler) HandleLanguages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"languages": h.catalog.Languages()})
}

// HealthResponse reports per-language toolchain availability. The service
// is "ok" even when a toolchain is missing; that language just degrades.
type HealthResponse struct {
	Status     string          `json:"status"`
	Toolchains map[string]bool `json:"toolchains"`
}

// HandleHealth always answers 200 while the process is serving.
func (h *SystemHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Toolchains: h.catalog.Toolchains()})
}
