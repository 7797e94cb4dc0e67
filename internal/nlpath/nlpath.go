// Package nlpath extracts filesystem targets from natural-language
// instructions ("桌面上的 furina 文件夹里的 furina.html"). Each resolver is
// an ordered (pattern, builder) table; earlier rules win, and that order is
// part of the contract — tests pin one example per rule.
package nlpath

import (
	"path/filepath"
	"regexp"
	"strings"

	"lumi-agent/internal/sandbox"
)

// name fragment: CJK, word chars, dash, dot
const nameFrag = `[\p{Han}\w\-.]+`

// Resolver joins extracted names against the allowed bases. Absolute paths
// mentioned verbatim are honored only when the sandbox admits them.
type Resolver struct {
	desktop string
	project string
	guard   *sandbox.Guard
}

func NewResolver(desktopDir, projectRoot string, guard *sandbox.Guard) *Resolver {
	return &Resolver{desktop: desktopDir, project: projectRoot, guard: guard}
}

type pathRule struct {
	re    *regexp.Regexp
	build func(r *Resolver, m []string) string
}

var fileRules = []pathRule{
	// 桌面上的 X 文件夹里的 Y
	{regexp.MustCompile(`桌面上?的?\s*(` + nameFrag + `)\s*文件夹(?:里|中|下)的?\s*(` + nameFrag + `)`),
		func(r *Resolver, m []string) string {
			return filepath.Join(r.desktop, m[1], NormalizeExtension(m[2]))
		}},
	// 项目里的 X 文件夹里的 Y
	{regexp.MustCompile(`项目(?:里|中|下)的?\s*(` + nameFrag + `)\s*文件夹(?:里|中|下)的?\s*(` + nameFrag + `)`),
		func(r *Resolver, m []string) string {
			return filepath.Join(r.project, m[1], NormalizeExtension(m[2]))
		}},
	// 桌面上的 Y（直接文件）
	{regexp.MustCompile(`桌面上?的?\s*(` + nameFrag + `)`),
		func(r *Resolver, m []string) string {
			name := NormalizeExtension(m[1])
			if !strings.Contains(name, ".") {
				return ""
			}
			return filepath.Join(r.desktop, name)
		}},
	// 桌面/xxx 或 ~/Desktop/xxx
	{regexp.MustCompile(`(?:桌面|~/Desktop)/(` + nameFrag + `(?:/` + nameFrag + `)*)`),
		func(r *Resolver, m []string) string {
			return filepath.Join(r.desktop, filepath.FromSlash(m[1]))
		}},
	// 项目里的 Y
	{regexp.MustCompile(`项目(?:里|中|下)的?\s*(` + nameFrag + `)`),
		func(r *Resolver, m []string) string {
			name := NormalizeExtension(m[1])
			if !strings.Contains(name, ".") {
				return ""
			}
			return filepath.Join(r.project, name)
		}},
	// 绝对路径，必须落在沙箱内
	{regexp.MustCompile(`(/[\p{Han}\w\-./]+\.[A-Za-z0-9]+)`),
		func(r *Resolver, m []string) string {
			if r.guard != nil && r.guard.Allowed(m[1]) {
				return m[1]
			}
			return ""
		}},
}

var folderRules = []pathRule{
	// 桌面上的 X 文件夹
	{regexp.MustCompile(`桌面上?的?\s*(` + nameFrag + `)\s*文件夹`),
		func(r *Resolver, m []string) string { return filepath.Join(r.desktop, m[1]) }},
	// 项目里的 X 文件夹
	{regexp.MustCompile(`项目(?:里|中|下)的?\s*(` + nameFrag + `)\s*文件夹`),
		func(r *Resolver, m []string) string { return filepath.Join(r.project, m[1]) }},
	// 桌面/xxx 或 ~/Desktop/xxx
	{regexp.MustCompile(`(?:桌面|~/Desktop)/(` + nameFrag + `(?:/` + nameFrag + `)*)`),
		func(r *Resolver, m []string) string {
			return filepath.Join(r.desktop, filepath.FromSlash(m[1]))
		}},
	// X 文件夹（默认落在桌面）
	{regexp.MustCompile(`(` + nameFrag + `)\s*文件夹`),
		func(r *Resolver, m []string) string { return filepath.Join(r.desktop, m[1]) }},
	// 绝对路径目录
	{regexp.MustCompile(`(/[\p{Han}\w\-./]+)`),
		func(r *Resolver, m []string) string {
			if r.guard != nil && r.guard.Allowed(m[1]) {
				return m[1]
			}
			return ""
		}},
}

// ResolveFile returns the best-guess absolute file path referenced by the
// instruction, or false when no rule matches.
func (r *Resolver) ResolveFile(instruction string) (string, bool) {
	return r.apply(fileRules, instruction)
}

// ResolveFolder returns the best-guess absolute folder path referenced by
// the instruction, or false when no rule matches.
func (r *Resolver) ResolveFolder(instruction string) (string, bool) {
	return r.apply(folderRules, instruction)
}

func (r *Resolver) apply(rules []pathRule, instruction string) (string, bool) {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return "", false
	}
	for _, rule := range rules {
		m := rule.re.FindStringSubmatch(instruction)
		if m == nil {
			continue
		}
		p := rule.build(r, m)
		if p == "" {
			continue
		}
		if r.guard != nil && !r.guard.Allowed(p) {
			continue
		}
		return p, true
	}
	return "", false
}

var createSubjectRe = regexp.MustCompile(
	`(?:做|写|生成|搭建|搭|开发|创建|新建)\s*(?:一个|个)?\s*(` + nameFrag + `?)\s*的?\s*(网站|网页|软件|应用|app|小游戏|游戏|项目|程序|页面)`)

var quotedNameRe = regexp.MustCompile(`[「"'《]([^」"'》]+)[」"'》]`)

// CreateTarget derives a new project folder name from a creation
// instruction: "帮我做一个猫咪的网站" → "猫咪_网站". Suffix precedence is
// 网站 > 软件/应用 > 网页/小游戏, mirroring the rule order above.
func (r *Resolver) CreateTarget(instruction string) (string, bool) {
	if m := createSubjectRe.FindStringSubmatch(instruction); m != nil {
		subject := sanitizeName(strings.TrimSuffix(m[1], "的"))
		kind := m[2]
		if subject == "" {
			subject = "新建"
		}
		switch kind {
		case "网站":
			return subject + "_网站", true
		case "软件", "应用", "app", "项目", "程序":
			return subject + "_项目", true
		case "网页", "小游戏", "游戏", "页面":
			return subject + "_网页", true
		default:
			return subject + "_项目", true
		}
	}
	if m := quotedNameRe.FindStringSubmatch(instruction); m != nil {
		name := sanitizeName(m[1])
		if name != "" {
			return name, true
		}
	}
	return "", false
}

// TargetDir joins a derived folder name onto the desktop base.
func (r *Resolver) TargetDir(name string) string {
	return filepath.Join(r.desktop, name)
}

// knownExtensions are the typo-prone ones: models and users both write
// "furinadocx" for "furina.docx".
var knownExtensions = []string{"docx", "doc", "txt", "py", "md", "json", "html", "css", "js"}

// NormalizeExtension inserts the missing dot before a known trailing
// extension. Names that already contain a dot pass through unchanged.
func NormalizeExtension(name string) string {
	if strings.Contains(name, ".") {
		return name
	}
	lower := strings.ToLower(name)
	for _, ext := range knownExtensions {
		if strings.HasSuffix(lower, ext) && len(name) > len(ext) {
			return name[:len(name)-len(ext)] + "." + name[len(name)-len(ext):]
		}
	}
	return name
}

func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	name = regexp.MustCompile(`[\\/:*?"<>|]+`).ReplaceAllString(name, "")
	name = regexp.MustCompile(`\s+`).ReplaceAllString(name, "_")
	return name
}
