package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
)

// ErrNoBackend means no endpoint is configured at all. Fatal for the
// request, never retried.
var ErrNoBackend = errors.New("no LLM backend configured, set QWEN_API_BASE / DEEPSEEK_API_KEY / DASHSCOPE_API_KEY")

// APIError is a non-2xx upstream response. Not retried blindly; the body is
// truncated for display.
type APIError struct {
	Provider string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d: %s", e.Provider, e.Status, NormalizeUpstreamMessage(e.Body))
}

// AllDownError aggregates every candidate's failure reason.
type AllDownError struct {
	Failures map[string]string
}

func (e *AllDownError) Error() string {
	providers := make([]string, 0, len(e.Failures))
	for p := range e.Failures {
		providers = append(providers, p)
	}
	sort.Strings(providers)
	var sb strings.Builder
	sb.WriteString("所有模型后端均不可用:")
	for _, p := range providers {
		sb.WriteString(fmt.Sprintf(" [%s: %s]", p, e.Failures[p]))
	}
	return sb.String()
}

// retryable reports whether an error is a transient connectivity failure
// worth one more attempt: timeouts and connection-level errors. Upstream
// HTTP errors are never retried here.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "EOF")
}

const maxErrBody = 300

// NormalizeUpstreamMessage truncates an upstream error body and rewrites the
// well-known insufficient-balance response into an actionable message.
func NormalizeUpstreamMessage(body string) string {
	trimmed := strings.TrimSpace(body)
	lower := strings.ToLower(trimmed)
	if strings.Contains(lower, "insufficient balance") ||
		strings.Contains(lower, "insufficient_quota") ||
		strings.Contains(trimmed, "余额不足") ||
		strings.Contains(trimmed, "欠费") {
		return "账户余额不足，请前往该平台充值后重试"
	}
	if len(trimmed) > maxErrBody {
		trimmed = trimmed[:maxErrBody] + "..."
	}
	return trimmed
}
