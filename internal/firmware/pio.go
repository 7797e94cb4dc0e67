package firmware

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var ErrPioMissing = errors.New("未找到 PlatformIO 命令（pio），请先安装 PlatformIO 并确保 pio 在 PATH 中")

const pioCleanTimeout = 30 * time.Second

// PioOptions selects the target board for a PlatformIO build. Empty fields
// fall back to the PLATFORMIO_BOARD_ID / PLATFORMIO_PLATFORM environment
// variables.
type PioOptions struct {
	BoardID  string
	Platform string
}

func (o *PioOptions) applyEnv() error {
	if o.BoardID == "" {
		o.BoardID = os.Getenv("PLATFORMIO_BOARD_ID")
	}
	if o.BoardID == "" {
		return errors.New("未选择开发板且未配置 PLATFORMIO_BOARD_ID，示例：export PLATFORMIO_BOARD_ID=nodemcuv2")
	}
	if o.Platform == "" {
		o.Platform = os.Getenv("PLATFORMIO_PLATFORM")
	}
	if o.Platform == "" {
		o.Platform = "ststm32"
	}
	return nil
}

// BuildAndUpload writes code into a throwaway PlatformIO project, compiles
// it, and uploads the result to port. The project lives in a lumi_pio_
// temp directory that the midnight sweep also knows about, in case this
// process dies before the deferred cleanup runs.
func (f *Flasher) BuildAndUpload(ctx context.Context, code, port string, opts PioOptions) ([]string, error) {
	var logs []string
	if err := opts.applyEnv(); err != nil {
		return logs, err
	}

	code = fixupArduinoSource(code, opts.Platform)

	projectDir, err := os.MkdirTemp("", "lumi_pio_")
	if err != nil {
		return logs, err
	}
	defer os.RemoveAll(projectDir)

	srcDir := filepath.Join(projectDir, "src")
	if err := os.MkdirAll(srcDir, 0755); err != nil {
		return logs, err
	}
	mainCpp := filepath.Join(srcDir, "main.cpp")
	if err := os.WriteFile(mainCpp, []byte(code), 0644); err != nil {
		return logs, err
	}
	logs = append(logs, "[PlatformIO] 已生成 main.cpp: "+mainCpp)

	ini := buildPlatformioINI(opts)
	if err := os.WriteFile(filepath.Join(projectDir, "platformio.ini"), []byte(ini), 0644); err != nil {
		return logs, err
	}
	logs = append(logs, fmt.Sprintf("[PlatformIO] 开发板: %s, platform: %s", opts.BoardID, opts.Platform))

	// clean first so stale objects from a reused temp dir cannot poison the build
	cleanCtx, cancel := context.WithTimeout(ctx, pioCleanTimeout)
	_, _ = f.runPio(cleanCtx, "run", "-d", projectDir, "-t", "clean")
	cancel()

	out, err := f.runPio(ctx, "run", "-d", projectDir)
	logs = append(logs, out)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return logs, ErrPioMissing
		}
		return logs, fmt.Errorf("PlatformIO 编译失败。错误摘要：\n%s", tailOf(out, 600))
	}

	uploadArgs := []string{"run", "-d", projectDir, "-t", "upload"}
	if port != "" {
		uploadArgs = append(uploadArgs, "--upload-port", port)
	}
	out, err = f.runPio(ctx, uploadArgs...)
	logs = append(logs, out)
	if err != nil {
		return logs, fmt.Errorf("PlatformIO 烧录失败：\n%s", tailOf(out, 600))
	}

	logs = append(logs, "[PlatformIO] 编译并烧录完成")
	return logs, nil
}

func buildPlatformioINI(opts PioOptions) string {
	return strings.Join([]string{
		"[env:lumi]",
		"platform = " + opts.Platform,
		"board = " + opts.BoardID,
		"framework = arduino",
	}, "\n") + "\n"
}

var (
	stlIncludeRe = regexp.MustCompile(`(?im)^\s*#\s*include\s*[<"]\s*(initializer_list|vector|array|list|map|set|string)\s*[>"].*$`)
	setupFnRe    = regexp.MustCompile(`\bvoid\s+setup\s*\(\s*\)`)
	loopFnRe     = regexp.MustCompile(`\bvoid\s+loop\s*\(\s*\)`)
)

// fixupArduinoSource massages model-generated C++ so it compiles under the
// Arduino framework: markdown fences stripped, Arduino.h forced first, and
// for the ESP8266 toolchain the unsupported STL includes removed and
// setup/loop given C linkage.
func fixupArduinoSource(code, platform string) string {
	code = strings.ReplaceAll(code, "\r\n", "\n")
	code = strings.ReplaceAll(code, "\r", "\n")
	code = stripCodeFence(code)

	if !strings.Contains(firstN(code, 800), "Arduino.h") {
		code = "#include <Arduino.h>\n#include <cstddef>\n\n" + code
	}

	if platform == "espressif8266" {
		code = stlIncludeRe.ReplaceAllString(code, "// removed for ESP8266")
		if !strings.Contains(code, `extern "C" void setup`) {
			code = replaceFirst(setupFnRe, code, `extern "C" void setup()`)
		}
		if !strings.Contains(code, `extern "C" void loop`) {
			code = replaceFirst(loopFnRe, code, `extern "C" void loop()`)
		}
	}
	return code
}

func stripCodeFence(code string) string {
	trimmed := strings.TrimSpace(code)
	if !strings.HasPrefix(trimmed, "```") {
		return code
	}
	if nl := strings.IndexByte(trimmed, '\n'); nl != -1 {
		trimmed = trimmed[nl+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimRight(trimmed, " \n"), "```")
	return strings.TrimSpace(trimmed)
}

func replaceFirst(re *regexp.Regexp, s, repl string) string {
	done := false
	return re.ReplaceAllStringFunc(s, func(m string) string {
		if done {
			return m
		}
		done = true
		return repl
	})
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func tailOf(s string, n int) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "无输出"
	}
	if len(s) <= n {
		return s
	}
	return "...\n" + s[len(s)-n:]
}

func (f *Flasher) runPio(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, f.pioCmd, args...)
	out, err := cmd.CombinedOutput()
	return string(out), err
}
