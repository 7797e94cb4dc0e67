// Package llm is the gateway to the configured model backends. It probes
// candidates in priority order, memoizes the first responsive one for a TTL
// window, and exposes single-shot and streaming chat calls with a small
// retry budget for transient connectivity errors.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"lumi-agent/internal/cache"
	"lumi-agent/internal/config"
	"lumi-agent/internal/metrics"
	"lumi-agent/internal/util"
)

const memoKey = "working_endpoint"

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// StreamEvent is one unit of a streaming reply. The channel is closed after
// the final event; a non-nil Err is always the last event. Consumers must
// drain the channel or cancel the context — the gateway owns the connection
// and closes it on cancellation.
type StreamEvent struct {
	Delta string
	Err   error
}

type Gateway struct {
	candidates []Endpoint
	httpClient *http.Client
	memo       cache.Cache
	maxRetries int
	retryDelay time.Duration
}

// New builds a gateway from the config. memo holds the endpoint-liveness
// result; inject a fresh cache per test to avoid cross-test state.
func New(cfg *config.Config, memo cache.Cache) *Gateway {
	var bypass []string
	for _, h := range strings.Split(cfg.NoProxy, ",") {
		if h = strings.TrimSpace(h); h != "" {
			bypass = append(bypass, h)
		}
	}
	return &Gateway{
		candidates: BuildCandidates(cfg),
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.RequestTimeout) * time.Second,
			Transport: &http.Transport{
				Proxy: util.ProxyFunc(cfg.HTTPProxy, cfg.HTTPSProxy, cfg.ProxyUser, cfg.ProxyPass, bypass),
			},
		},
		memo:       memo,
		maxRetries: cfg.MaxRetries,
		retryDelay: time.Duration(cfg.RetryDelay) * time.Millisecond,
	}
}

// Candidates returns the configured endpoints in priority order.
func (g *Gateway) Candidates() []Endpoint {
	out := make([]Endpoint, len(g.candidates))
	copy(out, g.candidates)
	return out
}

// WorkingEndpoint returns the memoized live endpoint, probing the candidate
// list in order when the memo is cold. A probe is one minimal completion
// request; worst case under concurrent cold starts is a redundant probe.
func (g *Gateway) WorkingEndpoint(ctx context.Context) (Endpoint, error) {
	if len(g.candidates) == 0 {
		return Endpoint{}, ErrNoBackend
	}

	if g.memo != nil {
		if entry, ok := g.memo.Get(memoKey); ok && entry.Value != "" {
			for _, ep := range g.candidates {
				if ep.Provider == entry.Value {
					return ep, nil
				}
			}
		}
	}

	failures := map[string]string{}
	for _, ep := range g.candidates {
		if err := g.Probe(ctx, ep); err != nil {
			failures[ep.Provider] = err.Error()
			slog.Warn("模型端点探测失败", "provider", ep.Provider, "error", err)
			continue
		}
		if g.memo != nil {
			g.memo.Put(memoKey, cache.Entry{Value: ep.Provider})
		}
		slog.Info("模型端点探测成功", "provider", ep.Provider, "model", ep.Model)
		return ep, nil
	}
	return Endpoint{}, &AllDownError{Failures: failures}
}

// Probe sends a one-token completion to check the endpoint is alive and the
// credentials work.
func (g *Gateway) Probe(ctx context.Context, ep Endpoint) error {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := g.post(probeCtx, ep, ChatRequest{
		Messages:  []Message{{Role: "user", Content: "ping"}},
		MaxTokens: 1,
	}, false)
	return err
}

func (g *Gateway) invalidateMemo() {
	if g.memo != nil {
		g.memo.Put(memoKey, cache.Entry{Value: ""})
	}
}

// Chat sends the request to the working endpoint and returns the assistant
// text. Transient connectivity errors are retried a fixed small number of
// times; a final connectivity failure drops the endpoint memo so the next
// call re-probes.
func (g *Gateway) Chat(ctx context.Context, req ChatRequest) (string, error) {
	ep, err := g.WorkingEndpoint(ctx)
	if err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(g.retryDelay):
			}
		}
		start := time.Now()
		text, err := g.post(ctx, ep, req, false)
		metrics.ObserveUpstream(ep.Provider, err == nil, time.Since(start))
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retryable(err) {
			return "", err
		}
		slog.Warn("模型请求失败，准备重试", "provider", ep.Provider, "attempt", attempt+1, "error", err)
	}
	g.invalidateMemo()
	return "", fmt.Errorf("连接 %s 失败（已重试 %d 次），请检查网络: %w", ep.Provider, g.maxRetries, lastErr)
}

// ChatStream starts a streaming completion and returns the event channel.
// If the stream fails before the first delta arrives, it falls back to a
// single-shot Chat and delivers the whole text as one event.
func (g *Gateway) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamEvent, error) {
	ep, err := g.WorkingEndpoint(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := g.startStream(ctx, ep, req)
	if err != nil {
		slog.Warn("流式请求建立失败，回退到普通请求", "provider", ep.Provider, "error", err)
		text, err := g.Chat(ctx, req)
		if err != nil {
			return nil, err
		}
		ch := make(chan StreamEvent, 1)
		ch <- StreamEvent{Delta: text}
		close(ch)
		return ch, nil
	}

	ch := make(chan StreamEvent, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				return
			}
			delta, ok := parseStreamDelta(payload)
			if !ok || delta == "" {
				continue
			}
			select {
			case ch <- StreamEvent{Delta: delta}:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			ch <- StreamEvent{Err: fmt.Errorf("stream read failed: %w", err)}
		}
	}()
	return ch, nil
}

type chatPayload struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

func (g *Gateway) buildRequest(ctx context.Context, ep Endpoint, req ChatRequest, stream bool) (*http.Request, error) {
	payload := chatPayload{
		Model:       ep.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(ep.APIKey) != "" {
		httpReq.Header.Set("Authorization", "Bearer "+ep.APIKey)
	}
	return httpReq, nil
}

func (g *Gateway) post(ctx context.Context, ep Endpoint, req ChatRequest, stream bool) (string, error) {
	httpReq, err := g.buildRequest(ctx, ep, req, stream)
	if err != nil {
		return "", err
	}

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", &APIError{Provider: ep.Provider, Status: resp.StatusCode, Body: string(data)}
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("invalid completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("completion response has no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func (g *Gateway) startStream(ctx context.Context, ep Endpoint, req ChatRequest) (*http.Response, error) {
	httpReq, err := g.buildRequest(ctx, ep, req, true)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		return nil, &APIError{Provider: ep.Provider, Status: resp.StatusCode, Body: string(data)}
	}
	return resp, nil
}

func parseStreamDelta(payload string) (string, bool) {
	var parsed struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
	}
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return "", false
	}
	if len(parsed.Choices) == 0 {
		return "", false
	}
	return parsed.Choices[0].Delta.Content, true
}

// ProviderStatus is one row of the model-ping report.
type ProviderStatus struct {
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	OK        bool   `json:"ok"`
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// ProbeAll probes every candidate and reports per-provider status.
func (g *Gateway) ProbeAll(ctx context.Context) []ProviderStatus {
	out := make([]ProviderStatus, 0, len(g.candidates))
	for _, ep := range g.candidates {
		start := time.Now()
		err := g.Probe(ctx, ep)
		status := ProviderStatus{
			Provider:  ep.Provider,
			Model:     ep.Model,
			OK:        err == nil,
			LatencyMS: time.Since(start).Milliseconds(),
		}
		if err != nil {
			status.Message = err.Error()
		}
		out = append(out, status)
	}
	return out
}
