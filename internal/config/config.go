package config

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type Config struct {
	Port         string `json:"port"`
	DebugEnabled bool   `json:"debug_enabled"`
	ApiToken     string `json:"api_token"`

	// 沙箱根目录
	DesktopDir  string `json:"desktop_dir"`
	ProjectRoot string `json:"project_root"`

	// 模型后端
	QwenAPIBase      string `json:"qwen_api_base"`
	QwenAPIKey       string `json:"qwen_api_key"`
	QwenModel        string `json:"qwen_model"`
	DeepSeekAPIKey   string `json:"deepseek_api_key"`
	DeepSeekAPIBase  string `json:"deepseek_api_base"`
	DeepSeekModel    string `json:"deepseek_model"`
	DashScopeAPIKey  string `json:"dashscope_api_key"`
	DashScopeAPIBase string `json:"dashscope_api_base"`
	DashScopeModel   string `json:"dashscope_model"`
	PreferDeepSeek   bool   `json:"prefer_deepseek"`

	RequestTimeout   int `json:"request_timeout"`
	MaxRetries       int `json:"max_retries"`
	RetryDelay       int `json:"retry_delay"`
	EndpointCacheTTL int `json:"endpoint_cache_ttl"`

	// 出站代理（访问模型后端时使用；留空则回落到环境变量）
	HTTPProxy  string `json:"http_proxy"`
	HTTPSProxy string `json:"https_proxy"`
	ProxyUser  string `json:"proxy_user"`
	ProxyPass  string `json:"proxy_pass"`
	NoProxy    string `json:"no_proxy"`

	// 会话历史
	StoreMode     string `json:"store_mode"`
	SQLitePath    string `json:"sqlite_path"`
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`
	RedisPrefix   string `json:"redis_prefix"`
	HistoryLimit  int    `json:"history_limit"`

	// 缓存（端点探测、预览注册表）
	CacheMode         string `json:"cache_mode"`
	CacheSize         int    `json:"cache_size"`
	PreviewTTLSeconds int    `json:"preview_ttl_seconds"`

	CommandTimeout      int    `json:"command_timeout"`
	DefaultArtifactName string `json:"default_artifact_name"`

	ConcurrencyLimit   int `json:"concurrency_limit"`
	ConcurrencyTimeout int `json:"concurrency_timeout"`
}

// Load resolves the config file (flag path, then config.json/config.yaml/
// config.yml), parses it, applies environment overrides and defaults. A
// missing file is not an error: everything can come from the environment.
func Load(path string) (*Config, string, error) {
	cfg := Config{}

	resolvedPath := resolveConfigPath(path)
	if resolvedPath != "" {
		data, err := os.ReadFile(resolvedPath)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read config: %w", err)
		}

		ext := strings.ToLower(filepath.Ext(resolvedPath))
		switch ext {
		case ".json":
			if err := json.Unmarshal(data, &cfg); err != nil {
				return nil, "", fmt.Errorf("failed to parse config json: %w", err)
			}
		case ".yaml", ".yml":
			m, err := parseYAMLFlat(data)
			if err != nil {
				return nil, "", err
			}
			raw, err := json.Marshal(m)
			if err != nil {
				return nil, "", fmt.Errorf("failed to normalize yaml: %w", err)
			}
			if err := json.Unmarshal(raw, &cfg); err != nil {
				return nil, "", fmt.Errorf("failed to parse config yaml: %w", err)
			}
		default:
			return nil, "", fmt.Errorf("unsupported config extension: %s", ext)
		}
	} else {
		slog.Info("未找到配置文件，使用环境变量与默认值")
	}

	ApplyEnv(&cfg)
	ApplyDefaults(&cfg)
	return &cfg, resolvedPath, nil
}

func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}

	candidates := []string{"config.json", "config.yaml", "config.yml"}
	for _, name := range candidates {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// ApplyEnv lets the environment override file values, matching the knobs the
// desktop launcher scripts export.
func ApplyEnv(cfg *Config) {
	overlay := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	overlay(&cfg.QwenAPIBase, "QWEN_API_BASE")
	overlay(&cfg.QwenAPIKey, "QWEN_API_KEY")
	overlay(&cfg.QwenModel, "QWEN_MODEL")
	overlay(&cfg.DeepSeekAPIKey, "DEEPSEEK_API_KEY")
	overlay(&cfg.DashScopeAPIKey, "DASHSCOPE_API_KEY")
	overlay(&cfg.ProjectRoot, "LUMI_PROJECT_ROOT")
	overlay(&cfg.Port, "LUMI_PORT")

	if v := strings.TrimSpace(os.Getenv("PREFER_DEEPSEEK")); v != "" {
		cfg.PreferDeepSeek = v == "1" || strings.EqualFold(v, "true")
	}
	if v := strings.TrimSpace(os.Getenv("QWEN_REQUEST_TIMEOUT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RequestTimeout = n
		}
	}
}

func ApplyDefaults(cfg *Config) {
	if cfg.Port == "" {
		cfg.Port = "8780"
	}
	if cfg.DesktopDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			cfg.DesktopDir = filepath.Join(home, "Desktop")
		}
	}
	if cfg.ProjectRoot == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.ProjectRoot = wd
		}
	}
	if cfg.ApiToken == "" {
		slog.Warn("未设置 api_token，接口不做鉴权，仅建议在本机使用")
	}

	if cfg.QwenModel == "" {
		cfg.QwenModel = "qwen2.5-coder-32b-instruct"
	}
	if cfg.DeepSeekAPIBase == "" {
		cfg.DeepSeekAPIBase = "https://api.deepseek.com/v1"
	}
	if cfg.DeepSeekModel == "" {
		cfg.DeepSeekModel = "deepseek-chat"
	}
	if cfg.DashScopeAPIBase == "" {
		cfg.DashScopeAPIBase = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	}
	if cfg.DashScopeModel == "" {
		cfg.DashScopeModel = "qwen-plus"
	}

	// 请求超时限定在 60–3600 秒之间
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 300
	}
	if cfg.RequestTimeout < 60 {
		cfg.RequestTimeout = 60
	}
	if cfg.RequestTimeout > 3600 {
		cfg.RequestTimeout = 3600
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 1000
	}
	if cfg.EndpointCacheTTL == 0 {
		cfg.EndpointCacheTTL = 60
	}

	if cfg.StoreMode == "" {
		cfg.StoreMode = "memory"
	}
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = filepath.Join("data", "lumi.db")
	}
	if cfg.RedisPrefix == "" {
		cfg.RedisPrefix = "lumi:"
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = 20
	}

	if cfg.CacheMode == "" {
		cfg.CacheMode = "memory"
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = 256
	}
	if cfg.PreviewTTLSeconds == 0 {
		cfg.PreviewTTLSeconds = 86400
	}

	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = 180
	}
	if cfg.DefaultArtifactName == "" {
		cfg.DefaultArtifactName = "main.py"
	}

	if cfg.ConcurrencyLimit == 0 {
		cfg.ConcurrencyLimit = 8
	}
	if cfg.ConcurrencyTimeout == 0 {
		cfg.ConcurrencyTimeout = 300
	}
}

func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func parseYAMLFlat(data []byte) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// Only strip inline comments where # is preceded by whitespace,
		// to avoid corrupting values containing # (hex colors, URLs, etc.)
		if idx := strings.Index(line, " #"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		} else if idx := strings.Index(line, "\t#"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid yaml line: %q", line)
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		value = strings.Trim(value, "\"'")

		if key == "" {
			continue
		}
		if value == "" {
			out[key] = ""
			continue
		}
		if value == "true" || value == "false" {
			out[key] = value == "true"
			continue
		}
		if num, err := strconv.Atoi(value); err == nil {
			out[key] = num
			continue
		}
		out[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
