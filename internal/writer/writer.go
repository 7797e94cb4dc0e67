// Package writer is the write pipeline: every artifact from a model reply
// passes path legality, the sandbox gate, and the safe-write guard before it
// touches disk. Extensions with binary container formats (docx, pptx) go
// through pluggable per-extension writers.
package writer

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"lumi-agent/internal/metrics"
	"lumi-agent/internal/replyparse"
	"lumi-agent/internal/sandbox"
)

// ErrSafeWriteRejected means the replacement content is shorter than half
// of the known original, which usually means the model returned a snippet
// instead of the whole file. Distinct from I/O errors so callers can ask the
// user to request a full resend.
var ErrSafeWriteRejected = errors.New("替换内容不足原文件的一半，疑似被截断，已拒绝写入")

// extWriter renders content into a binary container at path.
type extWriter func(path, content string) error

type Pipeline struct {
	guard      *sandbox.Guard
	extWriters map[string]extWriter
}

func New(guard *sandbox.Guard) *Pipeline {
	return &Pipeline{
		guard: guard,
		extWriters: map[string]extWriter{
			".docx": writeDocx,
			".pptx": writePptx,
		},
	}
}

// WriteFile writes content to an absolute path inside the sandbox.
// originalLen > 0 supplies a known prior content length for the safe-write
// guard; originalLen == 0 falls back to the on-disk size when the file
// already exists; a negative value disables the guard (fresh scaffolds
// overwrite freely).
func (p *Pipeline) WriteFile(path, content string, originalLen int) error {
	if err := p.guard.Check(path); err != nil {
		return err
	}

	if originalLen == 0 {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			originalLen = int(info.Size())
		}
	}
	if originalLen > 0 {
		if _, err := os.Stat(path); err == nil && len(content)*2 < originalLen {
			return fmt.Errorf("%w (原 %d 字节，新 %d 字节)", ErrSafeWriteRejected, originalLen, len(content))
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create parent dir: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if w, ok := p.extWriters[ext]; ok {
		if err := w(path, content); err != nil {
			return err
		}
	} else {
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return err
		}
	}
	metrics.ArtifactsWrittenTotal.Inc()
	return nil
}

// WriteArtifacts writes every artifact under targetDir. One bad artifact
// never aborts the rest; the caller gets the written paths plus a per-path
// error map.
func (p *Pipeline) WriteArtifacts(targetDir string, artifacts []replyparse.Artifact) ([]string, map[string]error) {
	errs := map[string]error{}
	var written []string

	if err := p.guard.Check(targetDir); err != nil {
		errs[targetDir] = err
		return nil, errs
	}
	if err := os.MkdirAll(targetDir, 0755); err != nil {
		errs[targetDir] = fmt.Errorf("failed to create target dir: %w", err)
		return nil, errs
	}

	for _, a := range artifacts {
		rel, err := sandbox.CleanRelPath(a.Path)
		if err != nil {
			errs[a.Path] = err
			continue
		}
		abs := filepath.Join(targetDir, filepath.FromSlash(rel))
		if err := p.WriteFile(abs, a.Content, -1); err != nil {
			errs[a.Path] = err
			slog.Warn("写入文件失败", "path", rel, "error", err)
			continue
		}
		written = append(written, abs)
	}
	return written, errs
}
