package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"lumi-agent/internal/cache"
	"lumi-agent/internal/llm"
	"lumi-agent/internal/util"
)

// 构建和烧录会在系统临时目录留下工作目录，每天凌晨清一次
var tempDirPrefixes = []string{"lumi_pio_", "lumi_mpy_", "lumi_arduino_", "esp8266_"}

const tempDirMaxAge = 24 * time.Hour

func isBuildTempDir(name string) bool {
	for _, prefix := range tempDirPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func nextMidnight(now time.Time) time.Time {
	year, month, day := now.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, now.Location()).Add(24 * time.Hour)
}

// sweepTempDirs removes build temp dirs under root older than maxAge and
// returns how many were removed. A dir still being written to has a fresh
// mtime and survives the sweep.
func sweepTempDirs(root string, now time.Time, maxAge time.Duration) int {
	entries, err := os.ReadDir(root)
	if err != nil {
		slog.Warn("临时目录扫描失败", "root", root, "error", err)
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || !isBuildTempDir(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil || now.Sub(info.ModTime()) < maxAge {
			continue
		}
		path := filepath.Join(root, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			slog.Warn("临时目录删除失败", "path", path, "error", err)
			continue
		}
		removed++
	}
	return removed
}

func startTempSweepLoop(ctx context.Context) {
	go func() {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("Panic in temp sweep loop", "error", err)
			}
		}()
		for {
			if !util.SleepWithContext(ctx, time.Until(nextMidnight(time.Now()))) {
				return
			}
			if n := sweepTempDirs(os.TempDir(), time.Now(), tempDirMaxAge); n > 0 {
				slog.Info("已清理构建临时目录", "removed", n)
			}
		}
	}()
}

// startEndpointWarmupLoop keeps the endpoint memo warm so the first chat
// after a quiet stretch does not pay the probe cascade.
func startEndpointWarmupLoop(ctx context.Context, gateway *llm.Gateway, stats *cache.Stats, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	warm := func() {
		probeCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
		defer cancel()

		var endpoint llm.Endpoint
		err := util.Retry(probeCtx, 2, 3*time.Second, func() error {
			var probeErr error
			endpoint, probeErr = gateway.WorkingEndpoint(probeCtx)
			return probeErr
		})
		if err != nil {
			slog.Warn("后端预热失败", "error", err)
			return
		}
		hits, misses := stats.Snapshot()
		slog.Debug("后端预热完成", "provider", endpoint.Provider, "memo_hits", hits, "memo_misses", misses)
	}

	go func() {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("Panic in endpoint warmup loop", "error", err)
			}
		}()

		// 启动后稍等片刻，别跟首个请求抢探测
		if !util.SleepWithContext(ctx, 5*time.Second) {
			return
		}
		warm()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				warm()
			}
		}
	}()
}
