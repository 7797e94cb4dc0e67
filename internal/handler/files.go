package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"lumi-agent/internal/preview"
	"lumi-agent/internal/runner"
	"lumi-agent/internal/sandbox"
	"lumi-agent/internal/writer"
)

// resolvePath turns a request path into an absolute sandboxed path.
// Relative paths are joined onto the project root.
func (h *Handler) resolvePath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", failWith(http.StatusBadRequest, "path 不能为空")
	}
	if !filepath.IsAbs(p) {
		rel, err := sandbox.CleanRelPath(p)
		if err != nil {
			return "", failWith(http.StatusBadRequest, "非法路径: %s", p)
		}
		p = filepath.Join(h.config.ProjectRoot, filepath.FromSlash(rel))
	}
	if err := h.guard.Check(p); err != nil {
		return "", failWith(http.StatusForbidden, "%s", err.Error())
	}
	return p, nil
}

type runRequest struct {
	Command string `json:"command"`
	Cwd     string `json:"cwd"`
}

// HandleRun serves POST /api/assistant/run: one allowlisted command.
func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "请求体不是合法 JSON")
		return
	}

	res, err := h.runner.Run(r.Context(), req.Command, req.Cwd)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, runner.ErrNotAllowed) {
			status = http.StatusForbidden
		} else if errors.Is(err, runner.ErrTimeout) {
			status = http.StatusGatewayTimeout
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, CommandResult{Command: req.Command, OK: res.OK, Output: res.Output})
}

type editFileRequest struct {
	Path        string `json:"path"`
	Content     string `json:"content"`
	Apply       bool   `json:"apply"`
	OriginalLen int    `json:"original_len"`
}

// HandleEditFile serves POST /api/assistant/edit-file. apply=false is a dry
// run: the safe-write guard is evaluated and the verdict returned without
// touching disk.
func (h *Handler) HandleEditFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req editFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "请求体不是合法 JSON")
		return
	}

	path, err := h.resolvePath(req.Path)
	if err != nil {
		writePipelineError(w, err)
		return
	}

	originalLen := req.OriginalLen
	if originalLen == 0 {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			originalLen = int(info.Size())
		}
	}
	wouldReject := originalLen > 0 && len(req.Content)*2 < originalLen

	if !req.Apply {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"path":         path,
			"original_len": originalLen,
			"new_len":      len(req.Content),
			"would_reject": wouldReject,
		})
		return
	}

	if err := h.pipeline.WriteFile(path, req.Content, req.OriginalLen); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, writer.ErrSafeWriteRejected) {
			status = http.StatusConflict
		} else if errors.Is(err, sandbox.ErrOutsideSandbox) {
			status = http.StatusForbidden
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"path": path, "written": len(req.Content)})
}

// HandleListFolder serves GET /api/assistant/list-folder?path=...
func (h *Handler) HandleListFolder(w http.ResponseWriter, r *http.Request) {
	path, err := h.resolvePath(r.URL.Query().Get("path"))
	if err != nil {
		writePipelineError(w, err)
		return
	}
	info, err2 := os.Stat(path)
	if err2 != nil || !info.IsDir() {
		writeError(w, http.StatusNotFound, "文件夹不存在: "+path)
		return
	}
	listing, err2 := listFolder(path)
	if err2 != nil {
		writeError(w, http.StatusInternalServerError, err2.Error())
		return
	}
	entries := []string{}
	if listing != "" {
		entries = strings.Split(listing, "\n")
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"path": path, "entries": entries})
}

// HandleReadFile serves GET /api/assistant/read-file?path=... A directory
// path returns the folder's editable files, read in parallel.
func (h *Handler) HandleReadFile(w http.ResponseWriter, r *http.Request) {
	path, err := h.resolvePath(r.URL.Query().Get("path"))
	if err != nil {
		writePipelineError(w, err)
		return
	}

	info, err2 := os.Stat(path)
	if err2 != nil {
		writeError(w, http.StatusNotFound, "文件不存在: "+path)
		return
	}
	if info.IsDir() {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"path":  path,
			"files": readFolderFiles(path),
		})
		return
	}

	content, err2 := readTextFile(path)
	if err2 != nil {
		writeError(w, http.StatusInternalServerError, err2.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"path": path, "content": content})
}

type registerPreviewRequest struct {
	Path string `json:"path"`
}

// HandleRegisterPreview serves POST /api/assistant/register-preview-root.
func (h *Handler) HandleRegisterPreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req registerPreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "请求体不是合法 JSON")
		return
	}

	path, err := h.resolvePath(req.Path)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	id, err2 := h.previews.Register(path)
	if err2 != nil {
		status := http.StatusInternalServerError
		if errors.Is(err2, sandbox.ErrOutsideSandbox) {
			status = http.StatusForbidden
		}
		writeError(w, status, err2.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"preview_id":  id,
		"preview_url": "/api/assistant/serve-app/" + id + "/",
	})
}

// HandleServeApp serves GET /api/assistant/serve-app/{id}/{path...}
func (h *Handler) HandleServeApp(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sub := r.PathValue("path")
	if err := h.previews.Serve(w, r, id, sub); err != nil {
		switch {
		case errors.Is(err, preview.ErrUnknownPreview):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, preview.ErrBadSubpath):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusNotFound, err.Error())
		}
	}
}

type openRequest struct {
	Path string `json:"path"`
}

// HandleOpen serves POST /api/assistant/open: reveal a file or folder in
// the desktop environment.
func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req openRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "请求体不是合法 JSON")
		return
	}

	path, err := h.resolvePath(req.Path)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	if _, err2 := os.Stat(path); err2 != nil {
		writeError(w, http.StatusNotFound, "路径不存在: "+path)
		return
	}

	opener := "xdg-open"
	if runtime.GOOS == "darwin" {
		opener = "open"
	}
	if err2 := exec.CommandContext(r.Context(), opener, path).Start(); err2 != nil {
		writeError(w, http.StatusInternalServerError, "打开失败: "+err2.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"opened": path})
}

func writePipelineError(w http.ResponseWriter, err error) {
	var pe *pipelineError
	if errors.As(err, &pe) {
		writeError(w, pe.status, pe.msg)
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
