// Package prompt assembles the role-tagged message list for one request:
// a per-mode system prompt, the capped conversation history, and the user
// content built from the instruction plus its context fields.
package prompt

import (
	"fmt"
	"strings"

	"lumi-agent/internal/llm"
	"lumi-agent/internal/mode"
	"lumi-agent/internal/store"
)

// Context carries the optional request context with named fields.
type Context struct {
	FilePath      string
	FileContent   string
	SelectedText  string
	Code          string
	FolderListing string
	FolderFiles   map[string]string
	CustomCommand string
	History       []store.Message
}

const fileProtocol = `输出格式要求：
- 每个文件用一行标记开头：---FILE: 相对路径---
- 标记下一行开始是该文件的完整内容，直到下一个标记或结尾
- 路径用正斜杠，不允许出现 .. 或绝对路径
- 需要执行的命令单独一行：---RUN: 命令 ---
- 标记之外不要输出解释性文字`

var systemPrompts = map[mode.Mode]string{
	mode.Polish:       "你是一个中文写作助手。请润色用户提供的文本，保持原意，输出润色后的全文，不要解释。",
	mode.EditCode:     "你是一个资深程序员。根据用户要求修改给出的代码，必须输出修改后的完整文件内容，不能省略未改动部分。\n" + fileProtocol,
	mode.CompleteCode: "你是一个资深程序员。续写或补全用户给出的代码，输出补全后的完整文件内容。\n" + fileProtocol,
	mode.Terminal:     "你是一个终端助手。用户想查询系统信息或执行命令时，只输出一条可直接执行的命令，不要任何解释。优先使用只读命令。",
	mode.FolderEdit:   "你是一个资深程序员。用户会给出一个文件夹里的多个文件，请按要求修改，输出每个被修改文件的完整内容。\n" + fileProtocol,
	mode.ListFolder:   "你是一个文件助手。根据给出的目录列表回答用户关于文件夹内容的问题，简洁作答。",
	mode.CreateFile:   "你是一个全栈工程师。根据用户的描述从零创建一个完整可运行的项目，网页项目必须包含 index.html。先可以用一两句话说明计划，然后输出全部文件。\n" + fileProtocol,
	mode.Todo:         "你是一个效率助手。把用户的描述整理成一个清晰的待办清单，用 Markdown 复选框列表输出。",
	mode.Plan:         "你是一个规划助手。为用户的目标制定一个分阶段、可执行的计划，用 Markdown 输出。",
	mode.DeepThink:    "你是 Lumi，一个乐于助人的桌面助手。认真思考后用中文回答。",
}

// Build turns one classified instruction into the chat request. History is
// capped at historyLimit messages; file-bearing modes get the larger token
// budget so full files are never cut off.
func Build(m mode.Mode, instruction string, ctx Context, historyLimit int) llm.ChatRequest {
	system := systemPrompts[m]
	if m == mode.CustomCommand {
		system = fmt.Sprintf("你是一个文本处理助手。对用户提供的内容执行操作：%s。直接输出结果。", strings.TrimSpace(ctx.CustomCommand))
	}
	if system == "" {
		system = systemPrompts[mode.DeepThink]
	}

	messages := []llm.Message{{Role: "system", Content: system}}

	history := ctx.History
	if historyLimit > 0 && len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}
	for _, h := range history {
		role := h.Role
		if role != "user" && role != "assistant" {
			continue
		}
		messages = append(messages, llm.Message{Role: role, Content: h.Content})
	}

	messages = append(messages, llm.Message{Role: "user", Content: userContent(instruction, ctx)})

	return llm.ChatRequest{
		Messages:    messages,
		Temperature: 0.3,
		MaxTokens:   maxTokens(m, ctx),
	}
}

func userContent(instruction string, ctx Context) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(instruction))

	section := func(title, body string) {
		if strings.TrimSpace(body) == "" {
			return
		}
		sb.WriteString("\n\n【")
		sb.WriteString(title)
		sb.WriteString("】\n")
		sb.WriteString(body)
	}

	section("文件路径", ctx.FilePath)
	section("文件内容", ctx.FileContent)
	section("选中文本", ctx.SelectedText)
	section("代码", ctx.Code)
	section("目录列表", ctx.FolderListing)

	if len(ctx.FolderFiles) > 0 {
		sb.WriteString("\n\n【文件夹内容】")
		for path, content := range ctx.FolderFiles {
			sb.WriteString(fmt.Sprintf("\n--- %s ---\n%s", path, content))
		}
	}
	return sb.String()
}

func maxTokens(m mode.Mode, ctx Context) int {
	if m == mode.CreateFile || ctx.FileContent != "" || len(ctx.FolderFiles) > 0 {
		return 8192
	}
	return 4096
}
