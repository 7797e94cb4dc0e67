package prompt

import (
	"fmt"
	"strings"
	"testing"

	"lumi-agent/internal/mode"
	"lumi-agent/internal/store"
)

func TestBuildSystemPromptPerMode(t *testing.T) {
	req := Build(mode.CreateFile, "做一个网站", Context{}, 20)
	if len(req.Messages) != 2 {
		t.Fatalf("messages=%d", len(req.Messages))
	}
	if req.Messages[0].Role != "system" || !strings.Contains(req.Messages[0].Content, "---FILE:") {
		t.Fatalf("system prompt missing protocol: %q", req.Messages[0].Content)
	}
	if req.Temperature != 0.3 {
		t.Fatalf("temperature=%v", req.Temperature)
	}
}

func TestBuildTokenBudget(t *testing.T) {
	if got := Build(mode.Polish, "润色", Context{}, 20).MaxTokens; got != 4096 {
		t.Fatalf("plain mode MaxTokens=%d", got)
	}
	if got := Build(mode.CreateFile, "做网站", Context{}, 20).MaxTokens; got != 8192 {
		t.Fatalf("create mode MaxTokens=%d", got)
	}
	if got := Build(mode.EditCode, "改", Context{FileContent: "x"}, 20).MaxTokens; got != 8192 {
		t.Fatalf("file content MaxTokens=%d", got)
	}
}

func TestBuildHistoryCap(t *testing.T) {
	var history []store.Message
	for i := 0; i < 30; i++ {
		history = append(history, store.Message{Role: "user", Content: fmt.Sprintf("m%d", i)})
	}
	req := Build(mode.DeepThink, "继续", Context{History: history}, 20)

	// system + 20 条历史 + 当前用户消息
	if len(req.Messages) != 22 {
		t.Fatalf("messages=%d want=22", len(req.Messages))
	}
	if req.Messages[1].Content != "m10" {
		t.Fatalf("oldest kept=%q want=m10", req.Messages[1].Content)
	}
}

func TestBuildHistorySkipsUnknownRoles(t *testing.T) {
	history := []store.Message{
		{Role: "user", Content: "q"},
		{Role: "tool", Content: "ignore me"},
		{Role: "assistant", Content: "a"},
	}
	req := Build(mode.DeepThink, "继续", Context{History: history}, 20)
	for _, m := range req.Messages {
		if m.Content == "ignore me" {
			t.Fatal("non chat role leaked into messages")
		}
	}
}

func TestBuildUserContentSections(t *testing.T) {
	req := Build(mode.EditCode, "修改这个文件", Context{
		FilePath:    "/home/u/Desktop/app.py",
		FileContent: "print(1)",
	}, 20)

	user := req.Messages[len(req.Messages)-1].Content
	if !strings.Contains(user, "修改这个文件") {
		t.Fatalf("instruction missing: %q", user)
	}
	if !strings.Contains(user, "【文件内容】\nprint(1)") {
		t.Fatalf("file content section missing: %q", user)
	}
	if !strings.Contains(user, "【文件路径】") {
		t.Fatalf("file path section missing: %q", user)
	}
}

func TestBuildCustomCommand(t *testing.T) {
	req := Build(mode.CustomCommand, "处理一下", Context{CustomCommand: "翻译成英文"}, 20)
	if !strings.Contains(req.Messages[0].Content, "翻译成英文") {
		t.Fatalf("custom command not in system prompt: %q", req.Messages[0].Content)
	}
}
