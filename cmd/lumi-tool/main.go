package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"lumi-agent/internal/cache"
	"lumi-agent/internal/config"
	"lumi-agent/internal/firmware"
	"lumi-agent/internal/llm"
)

// 维护小工具：不经过服务端，直接探测模型后端和串口设备。
func main() {
	configPath := flag.String("config", "", "Path to config.json/config.yaml")
	ping := flag.Bool("ping", false, "Probe every configured model backend")
	devices := flag.Bool("devices", false, "List serial device candidates")
	flash := flag.String("flash", "", "Python file to upload to a MicroPython board as main.py")
	port := flag.String("port", "", "Serial port for -flash (default: best guess)")
	flag.Parse()

	if !*ping && !*devices && *flash == "" {
		fmt.Println("Usage:")
		fmt.Println("  go run ./cmd/lumi-tool -ping")
		fmt.Println("  go run ./cmd/lumi-tool -devices")
		fmt.Println("  go run ./cmd/lumi-tool -flash main.py [-port /dev/ttyUSB0]")
		os.Exit(1)
	}

	if *devices {
		listDevices()
	}
	if *ping {
		pingBackends(*configPath)
	}
	if *flash != "" {
		flashBoard(*flash, *port)
	}
}

func listDevices() {
	found := firmware.ListDevices()
	if len(found) == 0 {
		fmt.Println("没有发现串口设备")
		return
	}
	guessed := firmware.GuessPort(found)
	for _, dev := range found {
		marker := " "
		if dev.Port == guessed {
			marker = "*"
		}
		fmt.Printf("%s %s\n", marker, dev.Port)
	}
}

func pingBackends(configPath string) {
	cfg, _, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	gateway := llm.New(cfg, cache.NewMemoryCache(4, time.Minute))
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	ok := false
	for _, status := range gateway.ProbeAll(ctx) {
		if status.OK {
			ok = true
			fmt.Printf("✓ %-12s %-30s %dms\n", status.Provider, status.Model, status.LatencyMS)
			continue
		}
		fmt.Printf("✗ %-12s %-30s %s\n", status.Provider, status.Model, status.Message)
	}
	if !ok {
		os.Exit(1)
	}
}

func flashBoard(path, port string) {
	if port == "" {
		port = firmware.GuessPort(firmware.ListDevices())
	}
	if port == "" {
		fmt.Println("Error: 未发现串口设备，请用 -port 指定")
		os.Exit(1)
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		fmt.Printf("Error: 文件不存在: %s\n", path)
		os.Exit(1)
	}

	fmt.Printf("Flashing %s -> %s:main.py\n", path, port)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	logs, err := firmware.NewFlasher().FlashMain(ctx, port, path)
	for _, line := range logs {
		fmt.Println("  " + line)
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Done")
}
