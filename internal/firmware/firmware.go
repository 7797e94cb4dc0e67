// Package firmware talks to microcontrollers over serial: device discovery,
// a MicroPython probe, and single/multi-file uploads via mpremote. The
// toolchains are external processes; every call is probe-then-write.
package firmware

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var (
	ErrToolMissing    = errors.New("未找到 mpremote 工具，请先通过 pip 安装 mpremote")
	ErrNotMicroPython = errors.New("设备未返回预期的 MicroPython 响应，请确认已刷入 MicroPython 固件")
	ErrNoDevice       = errors.New("未检测到串口设备")
)

const probeTimeout = 10 * time.Second

type Device struct {
	Port string `json:"port"`
	Name string `json:"name"`
}

type Flasher struct {
	mpremoteCmd string
	pioCmd      string
}

func NewFlasher() *Flasher {
	pio := os.Getenv("PLATFORMIO")
	if pio == "" {
		pio = "pio"
	}
	return &Flasher{mpremoteCmd: "mpremote", pioCmd: pio}
}

// serial device nodes worth offering, per platform naming conventions
var devicePatterns = []string{
	"/dev/ttyUSB*",
	"/dev/ttyACM*",
	"/dev/cu.usbserial*",
	"/dev/cu.usbmodem*",
	"/dev/cu.wchusbserial*",
	"/dev/cu.SLAB_USBtoUART*",
}

// ListDevices enumerates serial candidates. Obvious non-board ports
// (debug consoles, Bluetooth bridges) are filtered out, but if filtering
// removes everything the raw list is returned so the user still sees
// something to pick from.
func ListDevices() []Device {
	var devices []Device
	for _, pattern := range devicePatterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		for _, m := range matches {
			devices = append(devices, Device{Port: m, Name: filepath.Base(m)})
		}
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Port < devices[j].Port })
	return filterDevices(devices)
}

func filterDevices(devices []Device) []Device {
	badKeywords := []string{"debug-console", "bluetooth"}
	var kept []Device
	for _, d := range devices {
		text := strings.ToLower(d.Port + " " + d.Name)
		bad := false
		for _, kw := range badKeywords {
			if strings.Contains(text, kw) {
				bad = true
				break
			}
		}
		if !bad {
			kept = append(kept, d)
		}
	}
	if len(kept) == 0 {
		return devices
	}
	return kept
}

// GuessPort picks the port most likely to be an ESP-style dev board,
// falling back to the first candidate.
func GuessPort(devices []Device) string {
	keywords := []string{"cp210", "ch340", "esp8266", "usb-serial", "usbserial", "usb2.0-serial"}
	for _, d := range devices {
		text := strings.ToLower(d.Port + " " + d.Name)
		for _, kw := range keywords {
			if strings.Contains(text, kw) {
				return d.Port
			}
		}
	}
	if len(devices) > 0 {
		return devices[0].Port
	}
	return ""
}

// Probe checks that the device on port runs MicroPython before any write
// is attempted.
func (f *Flasher) Probe(ctx context.Context, port string) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := f.runMpremote(ctx, "connect", port, "exec", "import sys; print('MPY')")
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return ErrToolMissing
		}
		return fmt.Errorf("无法在端口 %s 上检测到 MicroPython 设备: %w", port, err)
	}
	if !strings.Contains(out, "MPY") {
		return fmt.Errorf("%w（端口 %s）", ErrNotMicroPython, port)
	}
	return nil
}

// FlashMain probes the device, then uploads srcPath as main.py. The board
// runs main.py automatically after reset.
func (f *Flasher) FlashMain(ctx context.Context, port, srcPath string) ([]string, error) {
	var logs []string
	if err := f.Probe(ctx, port); err != nil {
		return logs, err
	}
	logs = append(logs, fmt.Sprintf("上传 %s -> 设备 :main.py", filepath.Base(srcPath)))

	if _, err := f.runMpremote(ctx, "connect", port, "cp", srcPath, ":main.py"); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return logs, ErrToolMissing
		}
		return logs, fmt.Errorf("通过 mpremote 向端口 %s 烧录 main.py 失败: %w", port, err)
	}
	logs = append(logs, "上传完成，重启板子后会自动运行 main.py")
	return logs, nil
}

// FlashFiles probes the device, then uploads a multi-file project. Remote
// directories are created first; mkdir on an existing directory fails and
// is ignored.
func (f *Flasher) FlashFiles(ctx context.Context, port string, files map[string]string) ([]string, error) {
	var logs []string
	if err := f.Probe(ctx, port); err != nil {
		return logs, err
	}

	tmpdir, err := os.MkdirTemp("", "lumi_mpy_")
	if err != nil {
		return logs, err
	}
	defer os.RemoveAll(tmpdir)

	normalized := make(map[string]string, len(files))
	for rel, content := range files {
		rel = strings.TrimPrefix(strings.ReplaceAll(rel, "\\", "/"), "/")
		if rel == "" {
			continue
		}
		normalized[rel] = content
		local := filepath.Join(tmpdir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
			return logs, err
		}
		if err := os.WriteFile(local, []byte(content), 0644); err != nil {
			return logs, err
		}
	}

	for _, dir := range remoteDirs(normalized) {
		_, _ = f.runMpremote(ctx, "connect", port, "fs", "mkdir", ":"+dir)
	}

	paths := make([]string, 0, len(normalized))
	for rel := range normalized {
		paths = append(paths, rel)
	}
	sort.Strings(paths)

	for _, rel := range paths {
		local := filepath.Join(tmpdir, filepath.FromSlash(rel))
		logs = append(logs, fmt.Sprintf("上传 %s -> 设备 :%s", rel, rel))
		if _, err := f.runMpremote(ctx, "connect", port, "cp", local, ":"+rel); err != nil {
			if errors.Is(err, exec.ErrNotFound) {
				return logs, ErrToolMissing
			}
			return logs, fmt.Errorf("上传 %s 到设备失败: %w", rel, err)
		}
	}
	logs = append(logs, "多文件上传完成，请重启或复位设备")
	return logs, nil
}

// remoteDirs lists every ancestor directory of the upload paths, shallowest
// first, so mkdir calls succeed in order.
func remoteDirs(files map[string]string) []string {
	seen := map[string]bool{}
	for rel := range files {
		parts := strings.Split(rel, "/")
		for i := 1; i < len(parts); i++ {
			seen[strings.Join(parts[:i], "/")] = true
		}
	}
	dirs := make([]string, 0, len(seen))
	for d := range seen {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs
}

func (f *Flasher) runMpremote(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, f.mpremoteCmd, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.String(), err
}
