package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"lumi-agent/internal/debug"
	"lumi-agent/internal/llm"
	"lumi-agent/internal/mode"
	"lumi-agent/internal/perf"
	"lumi-agent/internal/prompt"
	"lumi-agent/internal/replyparse"
	"lumi-agent/internal/sandbox"
	"lumi-agent/internal/store"
	"lumi-agent/internal/util"
	"lumi-agent/internal/writer"
)

// AssistantRequest is one instruction plus whatever context the client
// already holds. Empty path fields are filled from the instruction text by
// the natural-language resolver.
type AssistantRequest struct {
	Instruction   string `json:"instruction"`
	SessionID     string `json:"session_id"`
	Stream        bool   `json:"stream"`
	Mode          string `json:"mode"`
	FilePath      string `json:"file_path"`
	FileContent   string `json:"file_content"`
	SelectedText  string `json:"selected_text"`
	Code          string `json:"code"`
	FolderPath    string `json:"folder_path"`
	CustomCommand string `json:"custom_command"`
}

type CommandResult struct {
	Command string `json:"command"`
	OK      bool   `json:"ok"`
	Output  string `json:"output"`
}

type AssistantResponse struct {
	Mode         string          `json:"mode"`
	Reply        string          `json:"reply"`
	FilePath     string          `json:"file_path,omitempty"`
	FilesWritten []string        `json:"files_written,omitempty"`
	SkippedPaths []string        `json:"skipped_paths,omitempty"`
	Commands     []CommandResult `json:"commands,omitempty"`
	TargetDir    string          `json:"target_dir,omitempty"`
	PreviewID    string          `json:"preview_id,omitempty"`
	PreviewURL   string          `json:"preview_url,omitempty"`
}

// pipelineError carries the HTTP status a pipeline failure maps to.
type pipelineError struct {
	status int
	msg    string
}

func (e *pipelineError) Error() string { return e.msg }

func failWith(status int, format string, args ...interface{}) error {
	return &pipelineError{status: status, msg: fmt.Sprintf(format, args...)}
}

// HandleChat serves POST /api/assistant/chat. stream=true switches the
// response to SSE: delta events while the model talks, one final done event
// with the full result.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req AssistantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "请求体不是合法 JSON")
		return
	}

	if !req.Stream {
		resp, err := h.Execute(r.Context(), &req, nil)
		if err != nil {
			status := http.StatusInternalServerError
			var pe *pipelineError
			if errors.As(err, &pe) {
				status = pe.status
			}
			writeError(w, status, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	emit := func(delta string) {
		data, _ := json.Marshal(map[string]string{"delta": delta})
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	resp, err := h.Execute(r.Context(), &req, emit)
	if err != nil {
		data, _ := json.Marshal(map[string]string{"error": err.Error()})
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
		return
	}

	final := struct {
		Done bool `json:"done"`
		*AssistantResponse
	}{Done: true, AssistantResponse: resp}
	data, _ := json.Marshal(final)
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

// Execute runs the full pipeline for one instruction. emit, when non-nil,
// receives streaming deltas as they arrive; the returned response always
// carries the complete reply.
func (h *Handler) Execute(ctx context.Context, req *AssistantRequest, emit func(string)) (*AssistantResponse, error) {
	start := time.Now()
	instruction := strings.TrimSpace(req.Instruction)
	if instruction == "" {
		return nil, failWith(http.StatusBadRequest, "指令不能为空")
	}

	dbg := debug.New(h.config.DebugEnabled)
	defer dbg.Close()

	// 1. 路径解析
	filePath := strings.TrimSpace(req.FilePath)
	if filePath == "" {
		if p, ok := h.resolver.ResolveFile(instruction); ok {
			filePath = p
		}
	}
	folderPath := strings.TrimSpace(req.FolderPath)
	if folderPath == "" {
		if p, ok := h.resolver.ResolveFolder(instruction); ok {
			folderPath = p
		}
	}

	fileContent := req.FileContent
	fileOnDisk := false
	if filePath != "" {
		if info, err := os.Stat(filePath); err == nil && !info.IsDir() {
			fileOnDisk = true
			if fileContent == "" {
				data, err := readTextFile(filePath)
				if err != nil {
					return nil, failWith(http.StatusInternalServerError, "读取文件失败: %v", err)
				}
				fileContent = data
			}
		}
	}

	// 2. 模式分类（请求可显式指定）。文件引用比文件夹引用更具体：
	// "修改 X 文件夹里的 Y.html" 是文件编辑，不是整个文件夹的批量编辑
	sig := mode.Signals{
		HasFileContent: fileContent != "",
		HasFolder:      folderPath != "" && filePath == "",
		HasSelection:   strings.TrimSpace(req.SelectedText) != "",
		CustomCommand:  req.CustomCommand,
	}
	m := mode.Mode(strings.TrimSpace(req.Mode))
	if m == "" || !mode.Valid(m) {
		m = mode.Classify(instruction, sig)
	}

	dbg.LogInstruction(map[string]interface{}{
		"instruction": instruction,
		"mode":        string(m),
		"file_path":   filePath,
		"folder_path": folderPath,
	})

	// 3. 调用模型前的存在性检查：引用了不存在的文件就没有必要浪费一次请求
	if needsExistingFile(m) && filePath != "" && !fileOnDisk && req.FileContent == "" {
		return nil, failWith(http.StatusNotFound, "文件不存在: %s", filePath)
	}

	var folderListing string
	var folderFiles map[string]string
	if m == mode.ListFolder || m == mode.FolderEdit {
		if folderPath == "" {
			return nil, failWith(http.StatusBadRequest, "没有找到要操作的文件夹")
		}
		info, err := os.Stat(folderPath)
		if err != nil || !info.IsDir() {
			return nil, failWith(http.StatusNotFound, "文件夹不存在: %s", folderPath)
		}
		folderListing, err = listFolder(folderPath)
		if err != nil {
			return nil, failWith(http.StatusInternalServerError, "读取目录失败: %v", err)
		}
		if m == mode.FolderEdit {
			folderFiles = readFolderFiles(folderPath)
		}
	}

	// ListFolder 不需要模型也能回答简单问法，但统一走模型保持行为一致

	// 4. 组装 prompt
	history := h.recentHistory(ctx, req.SessionID)
	chatReq := prompt.Build(m, instruction, prompt.Context{
		FilePath:      filePath,
		FileContent:   fileContent,
		SelectedText:  req.SelectedText,
		Code:          req.Code,
		FolderListing: folderListing,
		FolderFiles:   folderFiles,
		CustomCommand: req.CustomCommand,
		History:       history,
	}, h.config.HistoryLimit)
	dbg.LogPrompt(chatReq.Messages)

	// 5. 调用模型
	reply, err := h.callModel(ctx, chatReq, emit, dbg)
	if err != nil {
		return nil, h.asPipelineError(err)
	}
	dbg.LogRawReply(reply)

	h.appendHistory(ctx, req.SessionID, instruction, reply)

	// 6. 按模式落盘 / 执行
	resp := &AssistantResponse{Mode: string(m), Reply: reply, FilePath: filePath}
	if err := h.applyReply(ctx, m, req, resp, reply, filePath, folderPath, fileContent, dbg); err != nil {
		return nil, err
	}

	var cmds []string
	for _, c := range resp.Commands {
		cmds = append(cmds, c.Command)
	}
	dbg.LogSummary(resp.FilesWritten, cmds, time.Since(start), "")
	return resp, nil
}

func (h *Handler) callModel(ctx context.Context, chatReq llm.ChatRequest, emit func(string), dbg *debug.Logger) (string, error) {
	if emit == nil {
		return h.gateway.Chat(ctx, chatReq)
	}

	events, err := h.gateway.ChatStream(ctx, chatReq)
	if err != nil {
		return "", err
	}
	sb := perf.AcquireStringBuilder()
	defer perf.ReleaseStringBuilder(sb)
	for ev := range events {
		if ev.Err != nil {
			return "", ev.Err
		}
		sb.WriteString(ev.Delta)
		dbg.LogStreamDelta(ev.Delta)
		emit(ev.Delta)
	}
	return sb.String(), nil
}

// applyReply turns the model text into filesystem effects according to the
// mode. Text-only modes leave the reply untouched.
func (h *Handler) applyReply(ctx context.Context, m mode.Mode, req *AssistantRequest, resp *AssistantResponse, reply, filePath, folderPath, originalContent string, dbg *debug.Logger) error {
	switch m {
	case mode.CreateFile:
		return h.applyCreate(ctx, req, resp, reply, dbg)
	case mode.EditCode, mode.CompleteCode, mode.Polish:
		if filePath == "" {
			return nil
		}
		return h.applyFileEdit(resp, reply, filePath, originalContent, dbg)
	case mode.FolderEdit:
		return h.applyFolderEdit(resp, reply, folderPath, dbg)
	case mode.Terminal:
		return h.applyTerminal(ctx, resp, reply)
	default:
		return nil
	}
}

func (h *Handler) applyCreate(ctx context.Context, req *AssistantRequest, resp *AssistantResponse, reply string, dbg *debug.Logger) error {
	name, ok := h.resolver.CreateTarget(req.Instruction)
	if !ok {
		name = "新建_项目"
	}
	targetDir := h.resolver.TargetDir(name)
	resp.TargetDir = targetDir

	parsed := replyparse.Parse(reply, h.config.DefaultArtifactName)
	dbg.LogParsed(parsed)
	if len(parsed.Artifacts) == 0 {
		return failWith(http.StatusBadGateway, "模型回复中没有可写入的文件")
	}

	written, errs := h.pipeline.WriteArtifacts(targetDir, parsed.Artifacts)
	resp.FilesWritten = written
	for p := range errs {
		resp.SkippedPaths = append(resp.SkippedPaths, p)
	}
	resp.SkippedPaths = append(resp.SkippedPaths, parsed.Illegal...)
	sort.Strings(resp.SkippedPaths)
	if len(written) == 0 {
		return failWith(http.StatusInternalServerError, "所有文件都写入失败")
	}

	h.runCommands(ctx, resp, parsed.Commands, targetDir)
	h.registerPreview(resp, written, targetDir)
	return nil
}

func (h *Handler) applyFileEdit(resp *AssistantResponse, reply, filePath, originalContent string, dbg *debug.Logger) error {
	parsed := replyparse.Parse(reply, filepath.Base(filePath))
	dbg.LogParsed(parsed)
	if len(parsed.Artifacts) == 0 {
		return nil
	}

	// 第一个 artifact 替换目标文件本身，其余作为兄弟文件落在同目录
	first := parsed.Artifacts[0]
	if err := h.pipeline.WriteFile(filePath, first.Content, len(originalContent)); err != nil {
		return h.asWriteError(err)
	}
	resp.FilesWritten = append(resp.FilesWritten, filePath)

	dir := filepath.Dir(filePath)
	for _, a := range parsed.Artifacts[1:] {
		rel, err := sandbox.CleanRelPath(a.Path)
		if err != nil {
			resp.SkippedPaths = append(resp.SkippedPaths, a.Path)
			continue
		}
		abs := filepath.Join(dir, filepath.FromSlash(rel))
		if err := h.pipeline.WriteFile(abs, a.Content, 0); err != nil {
			resp.SkippedPaths = append(resp.SkippedPaths, a.Path)
			continue
		}
		resp.FilesWritten = append(resp.FilesWritten, abs)
	}
	resp.SkippedPaths = append(resp.SkippedPaths, parsed.Illegal...)
	return nil
}

func (h *Handler) applyFolderEdit(resp *AssistantResponse, reply, folderPath string, dbg *debug.Logger) error {
	parsed := replyparse.Parse(reply, "")
	dbg.LogParsed(parsed)

	for _, a := range parsed.Artifacts {
		rel, err := sandbox.CleanRelPath(a.Path)
		if err != nil {
			resp.SkippedPaths = append(resp.SkippedPaths, a.Path)
			continue
		}
		abs := filepath.Join(folderPath, filepath.FromSlash(rel))
		// originalLen=0: 以磁盘上的旧文件长度触发安全写保护
		if err := h.pipeline.WriteFile(abs, a.Content, 0); err != nil {
			resp.SkippedPaths = append(resp.SkippedPaths, a.Path)
			continue
		}
		resp.FilesWritten = append(resp.FilesWritten, abs)
	}
	resp.SkippedPaths = append(resp.SkippedPaths, parsed.Illegal...)
	if len(parsed.Artifacts) > 0 && len(resp.FilesWritten) == 0 {
		return failWith(http.StatusInternalServerError, "所有文件都写入失败")
	}
	return nil
}

func (h *Handler) applyTerminal(ctx context.Context, resp *AssistantResponse, reply string) error {
	cmds := replyparse.ExtractCommands(reply)
	if len(cmds) == 0 {
		if cmd, ok := replyparse.ImplicitCommand(reply); ok {
			cmds = []string{cmd}
		}
	}
	if len(cmds) == 0 {
		return nil
	}
	h.runCommands(ctx, resp, cmds, h.config.ProjectRoot)
	return nil
}

// runCommands executes parsed run directives in order; a failed command is
// reported in the result but never aborts later ones.
func (h *Handler) runCommands(ctx context.Context, resp *AssistantResponse, cmds []string, cwd string) {
	for _, cmd := range cmds {
		res, err := h.runner.Run(ctx, cmd, cwd)
		out := res.Output
		ok := res.OK
		if err != nil {
			out = err.Error()
			ok = false
		}
		resp.Commands = append(resp.Commands, CommandResult{Command: cmd, OK: ok, Output: out})
	}
}

// registerPreview exposes a freshly scaffolded web project through the
// preview server when it contains an html page.
func (h *Handler) registerPreview(resp *AssistantResponse, written []string, targetDir string) {
	hasHTML := false
	for _, p := range written {
		if strings.HasSuffix(strings.ToLower(p), ".html") {
			hasHTML = true
			break
		}
	}
	if !hasHTML || h.previews == nil {
		return
	}
	id, err := h.previews.Register(targetDir)
	if err != nil {
		return
	}
	resp.PreviewID = id
	resp.PreviewURL = "/api/assistant/serve-app/" + id + "/"
}

func (h *Handler) recentHistory(ctx context.Context, session string) []store.Message {
	if h.history == nil || strings.TrimSpace(session) == "" {
		return nil
	}
	msgs, err := h.history.Recent(ctx, session, h.config.HistoryLimit)
	if err != nil {
		return nil
	}
	return msgs
}

func (h *Handler) appendHistory(ctx context.Context, session, instruction, reply string) {
	if h.history == nil || strings.TrimSpace(session) == "" {
		return
	}
	_ = h.history.Append(ctx, session, store.Message{Role: "user", Content: instruction})
	_ = h.history.Append(ctx, session, store.Message{Role: "assistant", Content: reply})
}

func (h *Handler) asPipelineError(err error) error {
	var allDown *llm.AllDownError
	if errors.As(err, &allDown) {
		return &pipelineError{status: http.StatusBadGateway, msg: err.Error()}
	}
	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		return &pipelineError{status: http.StatusBadGateway, msg: llm.NormalizeUpstreamMessage(apiErr.Body)}
	}
	if errors.Is(err, llm.ErrNoBackend) {
		return &pipelineError{status: http.StatusServiceUnavailable, msg: err.Error()}
	}
	return &pipelineError{status: http.StatusBadGateway, msg: err.Error()}
}

func (h *Handler) asWriteError(err error) error {
	switch {
	case errors.Is(err, sandbox.ErrOutsideSandbox):
		return &pipelineError{status: http.StatusForbidden, msg: err.Error()}
	case errors.Is(err, writer.ErrSafeWriteRejected):
		return &pipelineError{status: http.StatusConflict, msg: err.Error()}
	default:
		return &pipelineError{status: http.StatusInternalServerError, msg: err.Error()}
	}
}

func needsExistingFile(m mode.Mode) bool {
	switch m {
	case mode.EditCode, mode.CompleteCode, mode.Polish:
		return true
	}
	return false
}

const maxReadSize = 256 * 1024

func readTextFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.Size() > maxReadSize {
		return "", fmt.Errorf("文件过大（%d 字节），超过 %d 字节上限", info.Size(), maxReadSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func listFolder(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var lines []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		lines = append(lines, name)
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n"), nil
}

// textExtensions are the file types worth feeding to the model on a folder
// edit; binaries and containers are skipped.
var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".py": true, ".js": true, ".ts": true,
	".html": true, ".css": true, ".json": true, ".go": true, ".c": true,
	".cpp": true, ".h": true, ".java": true, ".sh": true, ".yaml": true,
	".yml": true, ".toml": true, ".ini": true,
}

const maxFolderFiles = 20

// readFolderFiles loads the editable files of a folder in parallel, capped
// so a huge directory cannot blow the prompt budget.
func readFolderFiles(dir string) map[string]string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !textExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		names = append(names, e.Name())
		if len(names) >= maxFolderFiles {
			break
		}
	}
	if len(names) == 0 {
		return nil
	}

	contents := util.ParallelMap(names, func(name string) string {
		data, err := readTextFile(filepath.Join(dir, name))
		if err != nil {
			return ""
		}
		return data
	})

	out := make(map[string]string, len(names))
	for i, name := range names {
		if contents[i] != "" {
			out[name] = contents[i]
		}
	}
	return out
}
