package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"lumi-agent/internal/cache"
	"lumi-agent/internal/config"
	"lumi-agent/internal/debug"
	"lumi-agent/internal/firmware"
	"lumi-agent/internal/handler"
	"lumi-agent/internal/llm"
	"lumi-agent/internal/middleware"
	"lumi-agent/internal/nlpath"
	"lumi-agent/internal/preview"
	"lumi-agent/internal/runner"
	"lumi-agent/internal/sandbox"
	"lumi-agent/internal/store"
	"lumi-agent/internal/writer"
	"lumi-agent/web"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// 初始化结构化日志
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	configPath := flag.String("config", "", "Path to config.json/config.yaml")
	flag.Parse()

	cfg, resolvedCfgPath, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	if resolvedCfgPath != "" {
		slog.Info("配置已加载", "path", resolvedCfgPath)
	}

	// 启动时清理所有调试日志
	if cfg.DebugEnabled {
		debug.CleanupAllLogs()
		slog.Info("已清理调试日志目录")
	}

	s, err := store.New(store.Options{
		StoreMode:     cfg.StoreMode,
		SQLitePath:    cfg.SQLitePath,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
		RedisPrefix:   cfg.RedisPrefix,
	})
	if err != nil {
		slog.Error("Failed to initialize history store", "error", err)
		os.Exit(1)
	}
	defer s.Close()
	slog.Info("History store initialized", "mode", cfg.StoreMode)

	guard := sandbox.New(cfg.DesktopDir, cfg.ProjectRoot)
	slog.Info("Sandbox roots", "desktop", cfg.DesktopDir, "project", cfg.ProjectRoot)

	memoStats := cache.NewStats()
	endpointMemo := cache.NewInstrumentedCache(
		newCache(cfg, time.Duration(cfg.EndpointCacheTTL)*time.Second, "endpoint"),
		memoStats,
	)
	gateway := llm.New(cfg, endpointMemo)

	previews := preview.NewRegistry(guard,
		newCache(cfg, time.Duration(cfg.PreviewTTLSeconds)*time.Second, "preview"))

	h := handler.New(handler.Deps{
		Config:   cfg,
		Guard:    guard,
		Resolver: nlpath.NewResolver(cfg.DesktopDir, cfg.ProjectRoot, guard),
		Gateway:  gateway,
		Pipeline: writer.New(guard),
		Runner:   runner.New(guard, cfg.ProjectRoot, time.Duration(cfg.CommandTimeout)*time.Second),
		History:  s,
		Previews: previews,
		Flasher:  firmware.NewFlasher(),
	})

	limiter := middleware.NewConcurrencyLimiter(cfg.ConcurrencyLimit, time.Duration(cfg.ConcurrencyTimeout)*time.Second)
	auth := func(next http.HandlerFunc) http.HandlerFunc {
		return middleware.TokenAuth(cfg.ApiToken, next)
	}

	mux := http.NewServeMux()
	h.Register(mux,
		middleware.ChainFunc(middleware.TraceFunc, auth, limiter.Limit),
		// websocket 是长连接，不占并发槽
		middleware.ChainFunc(middleware.TraceFunc, auth),
		// 预览页面在浏览器里直接打开，preview ID 即凭证
		middleware.ChainFunc(middleware.TraceFunc),
	)

	// 内嵌聊天页
	mux.Handle("/", web.StaticHandler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())
	slog.Info("Prometheus metrics enabled", "path", "/metrics")

	if cfg.DebugEnabled {
		mux.HandleFunc("/debug/pprof/", middleware.TokenAuth(cfg.ApiToken, http.DefaultServeMux.ServeHTTP))
		slog.Info("pprof enabled", "path", "/debug/pprof/")
	}

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: middleware.LoggingMiddleware(mux),
		// websocket 与 SSE 是长连接，这里不设整体 ReadTimeout
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Create context for background goroutines
	ctx, cancelBackground := context.WithCancel(context.Background())
	defer cancelBackground()

	startTempSweepLoop(ctx)
	startEndpointWarmupLoop(ctx, gateway, memoStats, time.Duration(cfg.EndpointCacheTTL)*time.Second)

	// 优雅关闭处理
	idleConnsClosed := make(chan struct{})
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		sig := <-quit
		slog.Info("Received signal, starting graceful shutdown", "signal", sig)

		// Stop background goroutines first
		cancelBackground()

		// Give existing requests time to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
		close(idleConnsClosed)
	}()

	slog.Info("Server running", "port", cfg.Port)
	slog.Info("Chat UI available", "url", fmt.Sprintf("http://localhost:%s/", cfg.Port))

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("Server start failed", "error", err)
		os.Exit(1)
	}

	<-idleConnsClosed
	slog.Info("Server shutdown gracefully")
}

// newCache picks the cache backend per config. suffix keeps the endpoint
// memo and the preview registry apart in a shared redis.
func newCache(cfg *config.Config, ttl time.Duration, suffix string) cache.Cache {
	if strings.EqualFold(strings.TrimSpace(cfg.CacheMode), "redis") {
		return cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, ttl, cfg.RedisPrefix+"cache:"+suffix+":")
	}
	return cache.NewMemoryCache(cfg.CacheSize, ttl)
}
