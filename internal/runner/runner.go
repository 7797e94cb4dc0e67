// Package runner executes allowlisted commands from run directives. The
// check is a prefix whitelist on the first token, not a shell-injection
// sanitizer: an allowlisted command fed hostile arguments can still misuse
// its own capabilities. That limitation is documented, not fixed.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"

	"lumi-agent/internal/metrics"
	"lumi-agent/internal/perf"
	"lumi-agent/internal/sandbox"
)

var (
	ErrNotAllowed = errors.New("命令不在允许列表内，已拒绝执行")
	ErrTimeout    = errors.New("命令执行超时")
)

const maxOutputSize = 64 * 1024

// allowedPrefixes is the fixed allowlist: interpreters, package installers,
// read-only system commands, build tools, version control, archive and
// network fetch tools, plus the firmware toolchains.
var allowedPrefixes = []string{
	"python", "python3", "pip", "pip3",
	"ls", "cat", "head", "tail", "wc", "file", "stat", "du", "df",
	"grep", "find", "which", "tree", "pwd", "echo", "date", "whoami",
	"uname", "ps", "uptime", "env", "printenv", "ifconfig", "ip", "ping",
	"zip", "unzip", "tar",
	"curl", "wget",
	"npx", "node", "npm",
	"mkdir", "cp", "mv", "touch",
	"pio", "platformio", "mpremote",
	"make", "cmake", "cargo", "go",
	"git",
	"dir", "type", "cls", "chcp",
}

type Result struct {
	OK     bool
	Output string
}

type Runner struct {
	guard       *sandbox.Guard
	fallbackDir string
	timeout     time.Duration
}

// New builds a runner. fallbackDir is used whenever the requested working
// directory fails the sandbox check.
func New(guard *sandbox.Guard, fallbackDir string, timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	return &Runner{guard: guard, fallbackDir: fallbackDir, timeout: timeout}
}

// Allowed reports whether the command's first token matches the allowlist.
func Allowed(command string) bool {
	tokens, err := shellquote.Split(command)
	if err != nil || len(tokens) == 0 {
		return false
	}
	first := strings.ToLower(tokens[0])
	for _, prefix := range allowedPrefixes {
		if first == prefix {
			return true
		}
	}
	return false
}

// Run executes one allowlisted command with a bounded timeout, capturing
// combined stdout and stderr. A non-zero exit is reported in the output
// with an [exit N] marker and OK=false, not as an error; rejection and
// timeout are typed errors.
func (r *Runner) Run(ctx context.Context, command, cwd string) (Result, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return Result{}, fmt.Errorf("%w: 空命令", ErrNotAllowed)
	}
	if !Allowed(command) {
		metrics.CommandsTotal.WithLabelValues("rejected").Inc()
		return Result{}, fmt.Errorf("%w: %s", ErrNotAllowed, firstToken(command))
	}

	cwd = r.resolveCwd(cwd)

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = cwd

	buf := perf.AcquireByteBuffer()
	defer perf.ReleaseByteBuffer(buf)
	cmd.Stdout = buf
	cmd.Stderr = buf

	err := cmd.Run()
	output := buf.String()
	if len(output) > maxOutputSize {
		output = output[:maxOutputSize] + "\n...[输出已截断]"
	}

	if runCtx.Err() == context.DeadlineExceeded {
		metrics.CommandsTotal.WithLabelValues("timeout").Inc()
		return Result{Output: output}, fmt.Errorf("%w（%s）", ErrTimeout, r.timeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			metrics.CommandsTotal.WithLabelValues("failed").Inc()
			return Result{
				OK:     false,
				Output: strings.TrimSpace(output) + fmt.Sprintf("\n[exit %d]", exitErr.ExitCode()),
			}, nil
		}
		return Result{Output: output}, err
	}

	metrics.CommandsTotal.WithLabelValues("ok").Inc()
	return Result{OK: true, Output: strings.TrimSpace(output)}, nil
}

func (r *Runner) resolveCwd(cwd string) string {
	if cwd != "" && r.guard.Allowed(cwd) {
		if info, err := os.Stat(cwd); err == nil && info.IsDir() {
			return cwd
		}
	}
	return r.fallbackDir
}

func firstToken(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return command
	}
	return fields[0]
}
