package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"

	"lumi-agent/internal/firmware"
)

// HandleDevices serves GET /api/assistant/devices: serial port candidates
// plus the best guess for a dev board.
func (h *Handler) HandleDevices(w http.ResponseWriter, r *http.Request) {
	devices := firmware.ListDevices()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"devices": devices,
		"guessed": firmware.GuessPort(devices),
	})
}

// HandleModelPing serves GET /api/assistant/model-ping: per-backend
// liveness and latency.
func (h *Handler) HandleModelPing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"providers": h.gateway.ProbeAll(r.Context()),
	})
}

type flashRequest struct {
	Port string `json:"port"`
	Path string `json:"path"`
}

// HandleFlash serves POST /api/assistant/flash: upload a sandboxed Python
// file to a MicroPython board as main.py. The probe runs first; a board
// without MicroPython is rejected before any write.
func (h *Handler) HandleFlash(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req flashRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "请求体不是合法 JSON")
		return
	}

	port := req.Port
	if port == "" {
		port = firmware.GuessPort(firmware.ListDevices())
	}
	if port == "" {
		writeError(w, http.StatusNotFound, firmware.ErrNoDevice.Error())
		return
	}

	path, err := h.resolvePath(req.Path)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	if info, err2 := os.Stat(path); err2 != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, "文件不存在: "+path)
		return
	}

	logs, err2 := h.flasher.FlashMain(r.Context(), port, path)
	if err2 != nil {
		status := http.StatusBadGateway
		if errors.Is(err2, firmware.ErrToolMissing) {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]interface{}{
			"ok":    false,
			"port":  port,
			"logs":  logs,
			"error": err2.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":   true,
		"port": port,
		"logs": logs,
	})
}
