package replyparse

import (
	"reflect"
	"testing"
)

func TestParseDiscardsProseBeforeFirstMarker(t *testing.T) {
	reply := "这是我的计划：先建两个文件。\n---FILE: a.py---\nX\n---FILE: b/c.py---\nY"
	res := Parse(reply, "main.py")

	want := []Artifact{
		{Path: "a.py", Content: "X"},
		{Path: "b/c.py", Content: "Y"},
	}
	if !reflect.DeepEqual(res.Artifacts, want) {
		t.Fatalf("Artifacts=%v want=%v", res.Artifacts, want)
	}
	if res.Fallback {
		t.Fatal("Fallback should be false when markers exist")
	}
}

func TestParseRejectsTraversalPath(t *testing.T) {
	reply := "---FILE: ../../x---\nboom\n---FILE: ok.txt---\nfine"
	res := Parse(reply, "main.py")

	for _, a := range res.Artifacts {
		if a.Path == "../../x" || a.Path == "x" {
			t.Fatalf("traversal path produced writable artifact: %v", a)
		}
	}
	if len(res.Artifacts) != 1 || res.Artifacts[0].Path != "ok.txt" {
		t.Fatalf("legal artifact lost: %v", res.Artifacts)
	}
	if len(res.Illegal) != 1 {
		t.Fatalf("Illegal=%v want one entry", res.Illegal)
	}
}

func TestParseCaseInsensitiveMarker(t *testing.T) {
	reply := "---file: index.html---\n<html></html>"
	res := Parse(reply, "main.py")
	if len(res.Artifacts) != 1 || res.Artifacts[0].Path != "index.html" {
		t.Fatalf("Artifacts=%v", res.Artifacts)
	}
	if res.Artifacts[0].Content != "<html></html>" {
		t.Fatalf("Content=%q", res.Artifacts[0].Content)
	}
}

func TestParseFallbackSingleArtifact(t *testing.T) {
	reply := "print('hello')\nprint('world')"
	res := Parse(reply, "main.py")
	if !res.Fallback {
		t.Fatal("expected fallback")
	}
	if len(res.Artifacts) != 1 || res.Artifacts[0].Path != "main.py" {
		t.Fatalf("Artifacts=%v", res.Artifacts)
	}
	if res.Artifacts[0].Content != reply {
		t.Fatalf("Content=%q", res.Artifacts[0].Content)
	}
}

func TestParseNormalizesBackslashAndLeadingSlash(t *testing.T) {
	reply := "---FILE: \\src\\app.js---\nlet x = 1"
	res := Parse(reply, "main.py")
	if len(res.Artifacts) != 1 || res.Artifacts[0].Path != "src/app.js" {
		t.Fatalf("Artifacts=%v", res.Artifacts)
	}
}

func TestExtractCommandsInOrder(t *testing.T) {
	reply := "---FILE: a.sh---\nnothing\n---RUN: echo hi ---\n---RUN: ls ---"
	got := ExtractCommands(reply)
	want := []string{"echo hi", "ls"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ExtractCommands=%v want=%v", got, want)
	}
}

func TestRunLinesNotLeakedIntoContent(t *testing.T) {
	reply := "---FILE: a.txt---\nline1\n---RUN: echo hi ---\n---FILE: b.txt---\nline2"
	res := Parse(reply, "main.py")
	if len(res.Artifacts) != 2 {
		t.Fatalf("Artifacts=%v", res.Artifacts)
	}
	if res.Artifacts[0].Content != "line1" {
		t.Fatalf("run directive leaked into content: %q", res.Artifacts[0].Content)
	}
	if got := res.Commands; len(got) != 1 || got[0] != "echo hi" {
		t.Fatalf("Commands=%v", got)
	}
}

func TestImplicitCommandShim(t *testing.T) {
	tests := []struct {
		reply string
		want  string
		ok    bool
	}{
		{"uname -a", "uname -a", true},
		{"ls -la /tmp", "ls -la /tmp", true},
		{"  df -h  ", "df -h", true},
		{"rm -rf /", "", false},
		{"uname -a\nextra line", "", false},
		{"please run uname", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ImplicitCommand(tt.reply)
		if ok != tt.ok || got != tt.want {
			t.Fatalf("ImplicitCommand(%q)=(%q,%v) want (%q,%v)", tt.reply, got, ok, tt.want, tt.ok)
		}
	}
}

func TestOnlyRunDirectivesNoFallbackArtifact(t *testing.T) {
	reply := "---RUN: ls ---"
	res := Parse(reply, "main.py")
	if len(res.Artifacts) != 0 {
		t.Fatalf("Artifacts=%v want none", res.Artifacts)
	}
	if len(res.Commands) != 1 {
		t.Fatalf("Commands=%v", res.Commands)
	}
}
