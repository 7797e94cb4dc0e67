package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"lumi-agent/internal/cache"
	"lumi-agent/internal/config"
)

func completionBody(text string) string {
	body, _ := json.Marshal(map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": text}},
		},
	})
	return string(body)
}

func newGateway(t *testing.T, cfg *config.Config) *Gateway {
	t.Helper()
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 60
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 1
	}
	cfg.RetryDelay = 1
	return New(cfg, cache.NewMemoryCache(8, time.Minute))
}

func TestBuildCandidatesPriority(t *testing.T) {
	cfg := &config.Config{
		QwenAPIBase:    "http://localhost:1234/v1",
		DeepSeekAPIKey: "sk-x",
	}
	config.ApplyDefaults(cfg)

	eps := BuildCandidates(cfg)
	if len(eps) != 2 || eps[0].Provider != "qwen_local" || eps[1].Provider != "deepseek" {
		t.Fatalf("candidates=%v", eps)
	}

	cfg.PreferDeepSeek = true
	eps = BuildCandidates(cfg)
	if eps[0].Provider != "deepseek" {
		t.Fatalf("PreferDeepSeek not honored: %v", eps)
	}
}

func TestWorkingEndpointFailsOverAndMemoizes(t *testing.T) {
	var goodCalls int
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		goodCalls++
		fmt.Fprint(w, completionBody("pong"))
	}))
	defer good.Close()

	cfg := &config.Config{
		QwenAPIBase:     bad.URL,
		DeepSeekAPIKey:  "sk-x",
		DeepSeekAPIBase: good.URL,
	}
	config.ApplyDefaults(cfg)
	g := newGateway(t, cfg)

	ep, err := g.WorkingEndpoint(context.Background())
	if err != nil {
		t.Fatalf("WorkingEndpoint: %v", err)
	}
	if ep.Provider != "deepseek" {
		t.Fatalf("provider=%s want=deepseek", ep.Provider)
	}

	probes := goodCalls
	if _, err := g.WorkingEndpoint(context.Background()); err != nil {
		t.Fatal(err)
	}
	if goodCalls != probes {
		t.Fatal("memoized endpoint re-probed within TTL")
	}
}

func TestWorkingEndpointAllDown(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer bad.Close()

	cfg := &config.Config{QwenAPIBase: bad.URL}
	config.ApplyDefaults(cfg)
	g := newGateway(t, cfg)

	_, err := g.WorkingEndpoint(context.Background())
	var allDown *AllDownError
	if !errors.As(err, &allDown) {
		t.Fatalf("err=%v want AllDownError", err)
	}
	if _, ok := allDown.Failures["qwen_local"]; !ok {
		t.Fatalf("Failures=%v missing qwen_local", allDown.Failures)
	}
}

func TestNoBackendConfigured(t *testing.T) {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.QwenAPIBase, cfg.DeepSeekAPIKey, cfg.DashScopeAPIKey = "", "", ""
	g := newGateway(t, cfg)

	if _, err := g.Chat(context.Background(), ChatRequest{}); !errors.Is(err, ErrNoBackend) {
		t.Fatalf("err=%v want ErrNoBackend", err)
	}
}

func TestChatReturnsAssistantText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload chatPayload
		json.NewDecoder(r.Body).Decode(&payload)
		if payload.MaxTokens == 1 {
			fmt.Fprint(w, completionBody("pong"))
			return
		}
		fmt.Fprint(w, completionBody("---FILE: a.py---\nprint(1)"))
	}))
	defer srv.Close()

	cfg := &config.Config{QwenAPIBase: srv.URL}
	config.ApplyDefaults(cfg)
	g := newGateway(t, cfg)

	text, err := g.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text, "print(1)") {
		t.Fatalf("text=%q", text)
	}
}

func TestChatSurfacesAPIErrorWithoutRetry(t *testing.T) {
	var chatCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload chatPayload
		json.NewDecoder(r.Body).Decode(&payload)
		if payload.MaxTokens == 1 {
			fmt.Fprint(w, completionBody("pong"))
			return
		}
		chatCalls++
		http.Error(w, `{"error":{"message":"Insufficient Balance"}}`, http.StatusPaymentRequired)
	}))
	defer srv.Close()

	cfg := &config.Config{QwenAPIBase: srv.URL}
	config.ApplyDefaults(cfg)
	g := newGateway(t, cfg)

	_, err := g.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err=%v want APIError", err)
	}
	if apiErr.Status != http.StatusPaymentRequired {
		t.Fatalf("status=%d", apiErr.Status)
	}
	if !strings.Contains(err.Error(), "余额不足") {
		t.Fatalf("balance message not normalized: %v", err)
	}
	if chatCalls != 1 {
		t.Fatalf("upstream 4xx retried %d times", chatCalls)
	}
}

func TestChatStreamDeltas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload chatPayload
		json.NewDecoder(r.Body).Decode(&payload)
		if !payload.Stream {
			fmt.Fprint(w, completionBody("pong"))
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		deltas := []string{"你好", "，", "世界"}
		for _, d := range deltas {
			chunk, _ := json.Marshal(map[string]interface{}{
				"choices": []map[string]interface{}{{"delta": map[string]string{"content": d}}},
			})
			fmt.Fprintf(w, "data: %s\n\n", chunk)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	cfg := &config.Config{QwenAPIBase: srv.URL}
	config.ApplyDefaults(cfg)
	g := newGateway(t, cfg)

	ch, err := g.ChatStream(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	if err != nil {
		t.Fatal(err)
	}
	var sb strings.Builder
	for ev := range ch {
		if ev.Err != nil {
			t.Fatalf("stream error: %v", ev.Err)
		}
		sb.WriteString(ev.Delta)
	}
	if sb.String() != "你好，世界" {
		t.Fatalf("streamed=%q", sb.String())
	}
}

func TestChatStreamFallsBackBeforeFirstChunk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload chatPayload
		json.NewDecoder(r.Body).Decode(&payload)
		if payload.Stream {
			http.Error(w, "stream unsupported", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, completionBody("whole text"))
	}))
	defer srv.Close()

	cfg := &config.Config{QwenAPIBase: srv.URL}
	config.ApplyDefaults(cfg)
	g := newGateway(t, cfg)

	ch, err := g.ChatStream(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	if err != nil {
		t.Fatal(err)
	}
	var events []StreamEvent
	for ev := range ch {
		events = append(events, ev)
	}
	if len(events) != 1 || events[0].Delta != "whole text" {
		t.Fatalf("events=%v", events)
	}
}

func TestNormalizeUpstreamMessage(t *testing.T) {
	if got := NormalizeUpstreamMessage(`{"error":"Insufficient Balance"}`); !strings.Contains(got, "余额不足") {
		t.Fatalf("got=%q", got)
	}
	long := strings.Repeat("x", 1000)
	if got := NormalizeUpstreamMessage(long); len(got) > maxErrBody+3 {
		t.Fatalf("not truncated: %d", len(got))
	}
}

func TestProbeAllReports(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completionBody("pong"))
	}))
	defer good.Close()

	cfg := &config.Config{QwenAPIBase: good.URL, DeepSeekAPIKey: "sk-x", DeepSeekAPIBase: "http://127.0.0.1:1"}
	config.ApplyDefaults(cfg)
	g := newGateway(t, cfg)

	statuses := g.ProbeAll(context.Background())
	if len(statuses) != 2 {
		t.Fatalf("statuses=%v", statuses)
	}
	if !statuses[0].OK || statuses[1].OK {
		t.Fatalf("unexpected health: %v", statuses)
	}
}
