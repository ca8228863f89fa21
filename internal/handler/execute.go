// Package handler adapts the engine's four modes to HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sakif/code-runner/internal/apperror"
	"github.com/sakif/code-runner/internal/engine"
)

// MaxBodyBytes caps a request body: source code plus test cases.
const MaxBodyBytes = 1 << 20

// Executor is what the handlers need from the engine.
type Executor interface {
	Analyze(ctx context.Context, req engine.Request) engine.AnalyzeResponse
	Run(ctx context.Context, req engine.Request) engine.RunResponse
	Debug(ctx context.Context, req engine.Request) engine.DebugResponse
	Test(ctx context.Context, req engine.Request) engine.TestResponse
}

// ExecuteHandler serves /analyze, /run, /debug and /run-tests.
type ExecuteHandler struct {
	exec   Executor
	logger *slog.Logger
}

// NewExecuteHandler creates an ExecuteHandler.
func NewExecuteHandler(exec Executor, logger *slog.Logger) *ExecuteHandler {
	return &ExecuteHandler{
		exec:   exec,
		logger: logger,
	}
}

// decode reads an engine.Request. Unknown fields are ignored, matching what
// browsers and the web front end send.
func (h *ExecuteHandler) decode(w http.ResponseWriter, r *http.Request) (engine.Request, bool) {
	var req engine.Request
	body := http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		h.logger.Warn("invalid request body",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, apperror.ValidationFailed("body", fmt.Sprintf("request body exceeds %d bytes", MaxBodyBytes)))
			return req, false
		}
		writeError(w, apperror.ValidationFailed("body", "request body is not valid JSON"))
		return req, false
	}
	return req, true
}

// HandleAnalyze runs the static analyzer.
func (h *ExecuteHandler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.exec.Analyze(r.Context(), req))
}

// HandleRun compiles and runs the code once.
func (h *ExecuteHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	h.logger.Info("running code", slog.String("language", req.Language))
	writeJSON(w, http.StatusOK, h.exec.Run(r.Context(), req))
}

// HandleDebug returns variables, call stack and output.
func (h *ExecuteHandler) HandleDebug(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.exec.Debug(r.Context(), req))
}

// HandleRunTests runs the code once per test case.
func (h *ExecuteHandler) HandleRunTests(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	h.logger.Info("running tests",
		slog.String("language", req.Language),
		slog.Int("cases", len(req.TestCases)),
	)
	writeJSON(w, http.StatusOK, h.exec.Test(r.Context(), req))
}
