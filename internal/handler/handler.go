// Package handler exposes the assistant over HTTP. One handler instance
// owns the full pipeline: path resolution, mode dispatch, the model
// gateway, reply parsing, the write pipeline, and the command runner.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"lumi-agent/internal/config"
	"lumi-agent/internal/firmware"
	"lumi-agent/internal/llm"
	"lumi-agent/internal/metrics"
	"lumi-agent/internal/nlpath"
	"lumi-agent/internal/preview"
	"lumi-agent/internal/runner"
	"lumi-agent/internal/sandbox"
	"lumi-agent/internal/store"
	"lumi-agent/internal/writer"
)

type Handler struct {
	config   *config.Config
	guard    *sandbox.Guard
	resolver *nlpath.Resolver
	gateway  *llm.Gateway
	pipeline *writer.Pipeline
	runner   *runner.Runner
	history  *store.Store
	previews *preview.Registry
	flasher  *firmware.Flasher
}

type Deps struct {
	Config   *config.Config
	Guard    *sandbox.Guard
	Resolver *nlpath.Resolver
	Gateway  *llm.Gateway
	Pipeline *writer.Pipeline
	Runner   *runner.Runner
	History  *store.Store
	Previews *preview.Registry
	Flasher  *firmware.Flasher
}

func New(deps Deps) *Handler {
	return &Handler{
		config:   deps.Config,
		guard:    deps.Guard,
		resolver: deps.Resolver,
		gateway:  deps.Gateway,
		pipeline: deps.Pipeline,
		runner:   deps.Runner,
		history:  deps.History,
		previews: deps.Previews,
		flasher:  deps.Flasher,
	}
}

// Register wires the assistant routes onto mux. api is the middleware
// chain for JSON endpoints, stream the chain for the websocket (no
// concurrency slot, and no metrics recorder: the recorder does not
// implement http.Hijacker), public the chain for preview pages served
// straight into a browser, where the preview ID is the credential.
func (h *Handler) Register(mux *http.ServeMux, api, stream, public func(http.HandlerFunc) http.HandlerFunc) {
	route := func(pattern, metricPath string, fn http.HandlerFunc) {
		mux.HandleFunc(pattern, api(observe(metricPath, fn)))
	}

	route("POST /api/assistant/chat", "/api/assistant/chat", h.HandleChat)
	route("POST /api/assistant/run", "/api/assistant/run", h.HandleRun)
	route("POST /api/assistant/edit-file", "/api/assistant/edit-file", h.HandleEditFile)
	route("GET /api/assistant/list-folder", "/api/assistant/list-folder", h.HandleListFolder)
	route("GET /api/assistant/read-file", "/api/assistant/read-file", h.HandleReadFile)
	route("POST /api/assistant/register-preview-root", "/api/assistant/register-preview-root", h.HandleRegisterPreview)
	route("POST /api/assistant/open", "/api/assistant/open", h.HandleOpen)
	route("GET /api/assistant/devices", "/api/assistant/devices", h.HandleDevices)
	route("GET /api/assistant/model-ping", "/api/assistant/model-ping", h.HandleModelPing)
	route("POST /api/assistant/flash", "/api/assistant/flash", h.HandleFlash)

	mux.HandleFunc("GET /api/assistant/ws", stream(h.HandleWS))
	mux.HandleFunc("GET /api/assistant/serve-app/{id}/{path...}", public(h.HandleServeApp))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("写响应失败", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	metrics.ErrorsTotal.WithLabelValues("http").Inc()
	writeJSON(w, status, map[string]string{"error": msg})
}

// observe wraps an endpoint with per-route request metrics.
func observe(path string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		metrics.RequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		metrics.RequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
