// Package mode classifies a free-text instruction into one assistant mode.
// Classification is an ordered rule table: the first matching rule wins, and
// the order is part of the contract (reordering changes behavior for
// instructions that match several rules).
package mode

import "strings"

type Mode string

const (
	Polish        Mode = "polish"
	EditCode      Mode = "edit_code"
	CompleteCode  Mode = "complete_code"
	Terminal      Mode = "terminal"
	FolderEdit    Mode = "folder_edit"
	ListFolder    Mode = "list_folder"
	CreateFile    Mode = "create_file"
	Todo          Mode = "todo"
	Plan          Mode = "plan"
	DeepThink     Mode = "deep_think"
	CustomCommand Mode = "custom_command"
)

// Signals carries the request context facts that influence classification,
// with named fields instead of an open-ended bag.
type Signals struct {
	HasFileContent bool
	HasFolder      bool
	HasSelection   bool
	CustomCommand  string
}

type rule struct {
	mode  Mode
	match func(s string, sig Signals) bool
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// rules is the precedence table. Creation intent is checked first so that
// "做一个网站" never degrades into a code-edit on an attached file.
var rules = []rule{
	{CreateFile, func(s string, _ Signals) bool {
		hasVerb := containsAny(s, "做一个", "做个", "帮我做", "写一个", "写个", "生成一个", "搭一个", "搭建", "创建一个", "新建一个", "开发一个")
		hasThing := containsAny(s, "网站", "网页", "软件", "应用", "app", "小游戏", "游戏", "项目", "程序", "页面", "脚本", "工具")
		return (hasVerb && hasThing) || containsAny(s, "创建文件", "新建文件", "创建一个文件")
	}},
	{ListFolder, func(s string, _ Signals) bool {
		return (containsAny(s, "文件夹", "目录") && containsAny(s, "列出", "列一下", "有什么", "有哪些", "看看里面")) ||
			containsAny(s, "列出文件", "list folder", "列出目录")
	}},
	{Terminal, func(s string, _ Signals) bool {
		return containsAny(s, "终端", "命令行", "运行命令", "执行命令", "terminal", "shell") ||
			containsAny(s, "系统信息", "内存占用", "磁盘空间", "cpu占用", "cpu 占用")
	}},
	{Todo, func(s string, _ Signals) bool {
		return containsAny(s, "待办", "todo", "清单")
	}},
	{Plan, func(s string, _ Signals) bool {
		return containsAny(s, "计划", "规划", "排期", "方案")
	}},
	{CustomCommand, func(_ string, sig Signals) bool {
		return strings.TrimSpace(sig.CustomCommand) != ""
	}},
	{CompleteCode, func(s string, _ Signals) bool {
		return containsAny(s, "补全", "续写", "接着写", "complete")
	}},
	{FolderEdit, func(s string, sig Signals) bool {
		if containsAny(s, "整个文件夹", "批量修改", "批量润色") {
			return true
		}
		return sig.HasFolder && containsAny(s, "修改", "润色", "优化", "重构", "翻译")
	}},
	{EditCode, func(s string, sig Signals) bool {
		edit := containsAny(s, "修改", "优化", "重构", "修复", "调试", "加上", "加一个", "改成", "fix", "bug", "debug")
		if !edit {
			return false
		}
		return sig.HasFileContent || sig.HasSelection ||
			containsAny(s, "代码", ".py", ".js", ".ts", ".html", ".css", ".go", ".c", ".cpp", ".java")
	}},
	{Polish, func(s string, _ Signals) bool {
		return containsAny(s, "润色", "改写", "通顺", "语法", "polish")
	}},
}

// Classify returns exactly one mode; DeepThink is the catch-all.
func Classify(instruction string, sig Signals) Mode {
	s := strings.ToLower(strings.TrimSpace(instruction))
	for _, r := range rules {
		if r.match(s, sig) {
			return r.mode
		}
	}
	return DeepThink
}

// All lists every mode, for validation of API requests.
func All() []Mode {
	return []Mode{Polish, EditCode, CompleteCode, Terminal, FolderEdit,
		ListFolder, CreateFile, Todo, Plan, DeepThink, CustomCommand}
}

// Valid reports whether m names a known mode.
func Valid(m Mode) bool {
	for _, known := range All() {
		if m == known {
			return true
		}
	}
	return false
}
