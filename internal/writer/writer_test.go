package writer

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lumi-agent/internal/replyparse"
	"lumi-agent/internal/sandbox"
)

func newPipeline(t *testing.T) (*Pipeline, string) {
	t.Helper()
	base := t.TempDir()
	g := sandbox.New(base)
	return New(g), g.Bases()[0]
}

func TestWriteFilePlain(t *testing.T) {
	p, base := newPipeline(t)
	path := filepath.Join(base, "sub", "a.txt")

	if err := p.WriteFile(path, "hello", 0); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "hello" {
		t.Fatalf("data=%q err=%v", data, err)
	}
}

func TestWriteFileOutsideSandboxRejected(t *testing.T) {
	p, _ := newPipeline(t)
	err := p.WriteFile("/tmp/definitely-outside-xyz.txt", "x", 0)
	if !errors.Is(err, sandbox.ErrOutsideSandbox) {
		t.Fatalf("err=%v want ErrOutsideSandbox", err)
	}
}

func TestSafeWriteGuardRejectsShortReplacement(t *testing.T) {
	p, base := newPipeline(t)
	path := filepath.Join(base, "a.txt")
	original := strings.Repeat("x", 100)
	if err := p.WriteFile(path, original, 0); err != nil {
		t.Fatal(err)
	}

	err := p.WriteFile(path, "short", len(original))
	if !errors.Is(err, ErrSafeWriteRejected) {
		t.Fatalf("err=%v want ErrSafeWriteRejected", err)
	}

	// 原文件必须保持不变
	data, _ := os.ReadFile(path)
	if string(data) != original {
		t.Fatal("file modified despite rejection")
	}
}

func TestSafeWriteGuardUsesOnDiskSize(t *testing.T) {
	p, base := newPipeline(t)
	path := filepath.Join(base, "a.txt")
	if err := p.WriteFile(path, strings.Repeat("x", 100), 0); err != nil {
		t.Fatal(err)
	}
	if err := p.WriteFile(path, "tiny", 0); !errors.Is(err, ErrSafeWriteRejected) {
		t.Fatalf("err=%v want ErrSafeWriteRejected from stat fallback", err)
	}
}

func TestSafeWriteGuardAllowsHalfOrMore(t *testing.T) {
	p, base := newPipeline(t)
	path := filepath.Join(base, "a.txt")
	if err := p.WriteFile(path, strings.Repeat("x", 100), 0); err != nil {
		t.Fatal(err)
	}
	if err := p.WriteFile(path, strings.Repeat("y", 60), 100); err != nil {
		t.Fatal(err)
	}
}

func TestSafeWriteGuardSkipsNewFiles(t *testing.T) {
	p, base := newPipeline(t)
	// 文件不存在时长度检查不生效
	if err := p.WriteFile(filepath.Join(base, "new.txt"), "x", 100); err != nil {
		t.Fatal(err)
	}
}

func TestWriteArtifactsScaffold(t *testing.T) {
	p, base := newPipeline(t)
	target := filepath.Join(base, "猫咪_网站")

	artifacts := []replyparse.Artifact{
		{Path: "index.html", Content: "<html>cat</html>"},
		{Path: "css/style.css", Content: "body{}"},
	}
	written, errs := p.WriteArtifacts(target, artifacts)
	if len(errs) != 0 {
		t.Fatalf("errs=%v", errs)
	}
	if len(written) != 2 {
		t.Fatalf("written=%v", written)
	}
	data, err := os.ReadFile(filepath.Join(target, "index.html"))
	if err != nil || string(data) != "<html>cat</html>" {
		t.Fatalf("index.html=%q err=%v", data, err)
	}
}

func TestWriteArtifactsSkipsIllegalContinuesRest(t *testing.T) {
	p, base := newPipeline(t)
	target := filepath.Join(base, "proj")

	artifacts := []replyparse.Artifact{
		{Path: "../escape.txt", Content: "evil"},
		{Path: "ok.txt", Content: "fine"},
	}
	written, errs := p.WriteArtifacts(target, artifacts)
	if len(written) != 1 || !strings.HasSuffix(written[0], "ok.txt") {
		t.Fatalf("written=%v", written)
	}
	if _, ok := errs["../escape.txt"]; !ok {
		t.Fatalf("errs=%v", errs)
	}
	if _, err := os.Stat(filepath.Join(base, "escape.txt")); !os.IsNotExist(err) {
		t.Fatal("traversal artifact written outside target")
	}
}

func TestDocxWriterProducesZipContainer(t *testing.T) {
	p, base := newPipeline(t)
	path := filepath.Join(base, "报告.docx")

	if err := p.WriteFile(path, "# 标题\n正文第一行\n正文第二行", 0); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("not a zip container: %v", err)
	}

	var doc string
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			rc, _ := f.Open()
			var sb strings.Builder
			buf := make([]byte, 4096)
			for {
				n, err := rc.Read(buf)
				sb.Write(buf[:n])
				if err != nil {
					break
				}
			}
			rc.Close()
			doc = sb.String()
		}
	}
	if !strings.Contains(doc, "标题") || !strings.Contains(doc, "正文第一行") {
		t.Fatalf("document.xml content wrong: %q", doc)
	}
	if !strings.Contains(doc, "<w:b/>") {
		t.Fatal("heading line not bold")
	}
}

func TestPptxWriterSlidesPerSeparator(t *testing.T) {
	p, base := newPipeline(t)
	path := filepath.Join(base, "汇报.pptx")

	content := "第一页\n要点A\n---\n第二页\n要点B"
	if err := p.WriteFile(path, content, 0); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("not a zip container: %v", err)
	}

	names := map[string]bool{}
	for _, f := range zr.File {
		names[f.Name] = true
	}
	for _, want := range []string{"ppt/presentation.xml", "ppt/slides/slide1.xml", "ppt/slides/slide2.xml"} {
		if !names[want] {
			t.Fatalf("missing part %s in %v", want, names)
		}
	}
}
