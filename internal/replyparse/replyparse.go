// Package replyparse turns one raw model reply into file artifacts and run
// directives, following the text protocol
//
//	---FILE: relative/path---
//	<content until next marker>
//	---RUN: command ---
//
// Prose before the first file marker is a plan and is discarded. Illegal
// artifact paths are skipped, never fatal.
package replyparse

import (
	"regexp"
	"strings"

	"lumi-agent/internal/sandbox"
)

var (
	fileMarkerRe = regexp.MustCompile(`(?i)---\s*FILE:\s*([^\n]+?)\s*---[ \t]*\r?\n?`)
	runMarkerRe  = regexp.MustCompile(`(?im)^\s*---\s*RUN:\s*([^\n]+?)\s*---\s*$`)
)

// readOnlyCommands is the compatibility whitelist for replies that consist of
// a bare command name instead of protocol markers.
var readOnlyCommands = map[string]bool{
	"system_profiler": true, "uname": true, "sw_vers": true, "whoami": true,
	"hostname": true, "date": true, "ls": true, "pwd": true, "cat": true,
	"echo": true, "df": true, "top": true, "ps": true, "uptime": true,
	"env": true, "printenv": true, "lscpu": true, "vm_stat": true,
	"sysctl": true, "free": true, "ifconfig": true, "ip": true,
	"netstat": true, "nslookup": true, "dig": true, "head": true,
	"tail": true, "wc": true, "file": true, "stat": true, "du": true,
	"which": true, "whereis": true, "find": true, "grep": true, "rg": true,
	"diff": true, "tree": true, "ping": true, "curl": true, "wget": true,
}

// Artifact is one file extracted from a reply.
type Artifact struct {
	Path    string
	Content string
}

// Result is the parsed form of one reply.
type Result struct {
	Artifacts []Artifact
	Illegal   []string // marker paths rejected by path legality rules
	Commands  []string // run directives in order of appearance
	Fallback  bool     // true when the whole body became the default artifact
}

// Parse extracts artifacts and run directives from reply. defaultName names
// the single fallback artifact used when no file marker is present.
func Parse(reply, defaultName string) Result {
	res := Result{Commands: ExtractCommands(reply)}

	lower := strings.ToLower(reply)
	start := strings.Index(lower, "---file:")
	if start < 0 {
		if _, ok := ImplicitCommand(reply); ok {
			return res
		}
		if len(res.Commands) > 0 {
			return res
		}
		body := strings.TrimSpace(reply)
		if body != "" && defaultName != "" {
			res.Artifacts = append(res.Artifacts, Artifact{Path: defaultName, Content: body})
			res.Fallback = true
		}
		return res
	}

	text := reply[start:]
	matches := fileMarkerRe.FindAllStringSubmatchIndex(text, -1)
	for i, m := range matches {
		rawPath := text[m[2]:m[3]]
		contentStart := m[1]
		contentEnd := len(text)
		if i+1 < len(matches) {
			contentEnd = matches[i+1][0]
		}
		content := stripRunLines(text[contentStart:contentEnd])
		content = strings.TrimRight(content, "\r\n")

		clean, err := sandbox.CleanRelPath(rawPath)
		if err != nil {
			res.Illegal = append(res.Illegal, strings.TrimSpace(rawPath))
			continue
		}
		res.Artifacts = append(res.Artifacts, Artifact{Path: clean, Content: content})
	}
	return res
}

// ExtractCommands returns every `---RUN: cmd---` directive in order.
func ExtractCommands(reply string) []string {
	var out []string
	for _, m := range runMarkerRe.FindAllStringSubmatch(reply, -1) {
		cmd := strings.TrimSpace(m[1])
		if cmd != "" {
			out = append(out, cmd)
		}
	}
	return out
}

// ImplicitCommand recognizes a reply that is nothing but a single read-only
// command line. Some models answer "uname -a" instead of emitting a RUN
// marker; this shim keeps those replies executable.
func ImplicitCommand(reply string) (string, bool) {
	trimmed := strings.TrimSpace(reply)
	if trimmed == "" || strings.Contains(trimmed, "\n") {
		return "", false
	}
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return "", false
	}
	if !readOnlyCommands[fields[0]] {
		return "", false
	}
	return trimmed, true
}

func stripRunLines(content string) string {
	if !runMarkerRe.MatchString(content) {
		return content
	}
	return runMarkerRe.ReplaceAllString(content, "")
}
