// Package debug dumps one assistant request per directory, numbered by
// pipeline stage, so a bad reply can be replayed offline.
package debug

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const logRoot = "debug-logs"

type Logger struct {
	enabled   bool
	dir       string
	rawFile   *os.File
	mu        sync.Mutex
	startTime time.Time
}

// New 创建新的调试日志记录器，每次请求一个带时间戳的目录
func New(enabled bool) *Logger {
	if !enabled {
		return &Logger{enabled: false}
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05.000")
	dir := filepath.Join(logRoot, timestamp)
	os.MkdirAll(dir, 0755)
	cleanupOldDirs(logRoot, 50)

	return &Logger{
		enabled:   true,
		dir:       dir,
		startTime: time.Now(),
	}
}

// CleanupAllLogs 清理所有调试日志（启动时调用）
func CleanupAllLogs() {
	os.RemoveAll(logRoot)
	os.MkdirAll(logRoot, 0755)
}

// Dir 返回日志目录
func (l *Logger) Dir() string {
	if !l.enabled {
		return ""
	}
	return l.dir
}

// LogInstruction 记录 1. 用户指令与解析结果（模式、路径）
func (l *Logger) LogInstruction(data interface{}) {
	l.writeJSON("1_instruction.json", data)
}

// LogPrompt 记录 2. 发给模型的完整消息列表
func (l *Logger) LogPrompt(prompt interface{}) {
	l.writeJSON("2_prompt.json", prompt)
}

// LogRawReply 记录 3. 模型返回的原始文本
func (l *Logger) LogRawReply(reply string) {
	l.writeFile("3_raw_reply.md", reply)
}

// LogStreamDelta 记录流式回复的增量（追加写入）
func (l *Logger) LogStreamDelta(delta string) {
	if !l.enabled {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.rawFile == nil {
		f, err := os.OpenFile(filepath.Join(l.dir, "3_stream_deltas.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return
		}
		l.rawFile = f
	}

	elapsed := time.Since(l.startTime).Milliseconds()
	fmt.Fprintf(l.rawFile, "[%dms] %s\n", elapsed, delta)
}

// LogParsed 记录 4. 解析出的文件与命令
func (l *Logger) LogParsed(parsed interface{}) {
	l.writeJSON("4_parsed.json", parsed)
}

// LogSummary 记录 5. 本次请求的执行摘要
func (l *Logger) LogSummary(written []string, commands []string, duration time.Duration, errMsg string) {
	l.writeJSON("5_summary.json", map[string]interface{}{
		"files_written": written,
		"commands_run":  commands,
		"duration_ms":   duration.Milliseconds(),
		"error":         errMsg,
	})
}

// Close 关闭日志文件
func (l *Logger) Close() {
	if !l.enabled {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.rawFile != nil {
		l.rawFile.Close()
		l.rawFile = nil
	}
}

func (l *Logger) writeJSON(filename string, data interface{}) {
	if !l.enabled {
		return
	}
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return
	}
	os.WriteFile(filepath.Join(l.dir, filename), jsonData, 0644)
}

func (l *Logger) writeFile(filename string, content string) {
	if !l.enabled {
		return
	}
	os.WriteFile(filepath.Join(l.dir, filename), []byte(content), 0644)
}

func cleanupOldDirs(basePath string, maxKeep int) {
	entries, err := os.ReadDir(basePath)
	if err != nil {
		return
	}

	var dirs []os.DirEntry
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e)
		}
	}

	if len(dirs) <= maxKeep {
		return
	}

	// 按名称排序（时间戳格式，越新越大）
	sort.Slice(dirs, func(i, j int) bool {
		return dirs[i].Name() > dirs[j].Name()
	})

	for i := maxKeep; i < len(dirs); i++ {
		os.RemoveAll(filepath.Join(basePath, dirs[i].Name()))
	}
}
