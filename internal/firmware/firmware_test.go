package firmware

import (
	"strings"
	"testing"
)

func TestFilterDevicesDropsBluetooth(t *testing.T) {
	devices := []Device{
		{Port: "/dev/cu.Bluetooth-Incoming-Port", Name: "Bluetooth-Incoming-Port"},
		{Port: "/dev/cu.usbserial-0001", Name: "cu.usbserial-0001"},
	}
	kept := filterDevices(devices)
	if len(kept) != 1 || kept[0].Port != "/dev/cu.usbserial-0001" {
		t.Fatalf("kept=%v", kept)
	}
}

func TestFilterDevicesKeepsAllWhenEverythingFiltered(t *testing.T) {
	devices := []Device{
		{Port: "/dev/cu.debug-console", Name: "debug-console"},
	}
	if kept := filterDevices(devices); len(kept) != 1 {
		t.Fatalf("kept=%v", kept)
	}
}

func TestGuessPort(t *testing.T) {
	devices := []Device{
		{Port: "/dev/ttyACM0", Name: "ttyACM0"},
		{Port: "/dev/ttyUSB0", Name: "CP2102 USB to UART"},
	}
	if got := GuessPort(devices); got != "/dev/ttyUSB0" {
		t.Fatalf("got=%q", got)
	}

	// 猜不到就退回第一个
	plain := []Device{{Port: "/dev/ttyS0", Name: "ttyS0"}}
	if got := GuessPort(plain); got != "/dev/ttyS0" {
		t.Fatalf("got=%q", got)
	}
	if got := GuessPort(nil); got != "" {
		t.Fatalf("got=%q", got)
	}
}

func TestRemoteDirs(t *testing.T) {
	files := map[string]string{
		"main.py":        "",
		"lib/net/wifi.py": "",
		"lib/util.py":    "",
	}
	got := remoteDirs(files)
	want := []string{"lib", "lib/net"}
	if len(got) != len(want) {
		t.Fatalf("got=%v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got=%v want=%v", got, want)
		}
	}
}

func TestFixupPrependsArduinoHeader(t *testing.T) {
	out := fixupArduinoSource("void setup() {}\nvoid loop() {}", "ststm32")
	if !strings.HasPrefix(out, "#include <Arduino.h>") {
		t.Fatalf("out=%q", out)
	}
	if !strings.Contains(out, "#include <cstddef>") {
		t.Fatalf("out=%q", out)
	}
}

func TestFixupKeepsExistingArduinoInclude(t *testing.T) {
	src := "#include <Arduino.h>\nvoid setup() {}"
	out := fixupArduinoSource(src, "ststm32")
	if strings.Count(out, "Arduino.h") != 1 {
		t.Fatalf("out=%q", out)
	}
}

func TestFixupStripsMarkdownFence(t *testing.T) {
	src := "```cpp\n#include <Arduino.h>\nvoid setup() {}\n```"
	out := fixupArduinoSource(src, "ststm32")
	if strings.Contains(out, "```") {
		t.Fatalf("fence survived: %q", out)
	}
	if !strings.Contains(out, "void setup()") {
		t.Fatalf("out=%q", out)
	}
}

func TestFixupESP8266RemovesSTLIncludes(t *testing.T) {
	src := "#include <Arduino.h>\n#include <vector>\n#include <initializer_list>\nvoid setup() {}\nvoid loop() {}"
	out := fixupArduinoSource(src, "espressif8266")
	if strings.Contains(out, "#include <vector>") || strings.Contains(out, "#include <initializer_list>") {
		t.Fatalf("STL include survived: %q", out)
	}
	if !strings.Contains(out, `extern "C" void setup()`) {
		t.Fatalf("setup not relinked: %q", out)
	}
	if !strings.Contains(out, `extern "C" void loop()`) {
		t.Fatalf("loop not relinked: %q", out)
	}
}

func TestFixupNonESPKeepsLinkage(t *testing.T) {
	src := "#include <Arduino.h>\nvoid setup() {}"
	out := fixupArduinoSource(src, "ststm32")
	if strings.Contains(out, `extern "C"`) {
		t.Fatalf("out=%q", out)
	}
}

func TestBuildPlatformioINI(t *testing.T) {
	ini := buildPlatformioINI(PioOptions{BoardID: "nodemcuv2", Platform: "espressif8266"})
	for _, want := range []string{"[env:lumi]", "platform = espressif8266", "board = nodemcuv2", "framework = arduino"} {
		if !strings.Contains(ini, want) {
			t.Fatalf("ini missing %q:\n%s", want, ini)
		}
	}
}
