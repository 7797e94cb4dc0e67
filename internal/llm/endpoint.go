package llm

import (
	"strings"

	"lumi-agent/internal/config"
)

// Endpoint is one configured backend candidate: an OpenAI-compatible
// chat-completions base URL plus credentials and the model to request.
type Endpoint struct {
	Provider string
	BaseURL  string
	APIKey   string
	Model    string
}

// BuildCandidates assembles the candidate list in priority order. The local
// Qwen endpoint comes first when configured (it is free and fast on LAN),
// then DeepSeek, then DashScope; PreferDeepSeek moves DeepSeek to the front.
func BuildCandidates(cfg *config.Config) []Endpoint {
	var out []Endpoint

	if strings.TrimSpace(cfg.QwenAPIBase) != "" {
		out = append(out, Endpoint{
			Provider: "qwen_local",
			BaseURL:  strings.TrimRight(cfg.QwenAPIBase, "/"),
			APIKey:   cfg.QwenAPIKey,
			Model:    cfg.QwenModel,
		})
	}
	if strings.TrimSpace(cfg.DeepSeekAPIKey) != "" {
		out = append(out, Endpoint{
			Provider: "deepseek",
			BaseURL:  strings.TrimRight(cfg.DeepSeekAPIBase, "/"),
			APIKey:   cfg.DeepSeekAPIKey,
			Model:    cfg.DeepSeekModel,
		})
	}
	if strings.TrimSpace(cfg.DashScopeAPIKey) != "" {
		out = append(out, Endpoint{
			Provider: "dashscope",
			BaseURL:  strings.TrimRight(cfg.DashScopeAPIBase, "/"),
			APIKey:   cfg.DashScopeAPIKey,
			Model:    cfg.DashScopeModel,
		})
	}

	if cfg.PreferDeepSeek {
		for i, ep := range out {
			if ep.Provider == "deepseek" && i > 0 {
				reordered := append([]Endpoint{ep}, append(append([]Endpoint{}, out[:i]...), out[i+1:]...)...)
				out = reordered
				break
			}
		}
	}
	return out
}
