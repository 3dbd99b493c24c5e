// Package extract converts source files to raw text, one extractor per
// format. Failures are per-file and reported to the ingestor, which isolates
// them within the batch.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var ErrUnsupportedFormat = errors.New("unsupported file format")

type Extractor interface {
	Extract(path string) (string, error)
}

// Registry selects an extractor by file extension.
type Registry struct {
	byExt map[string]Extractor
}

func NewRegistry() *Registry {
	r := &Registry{byExt: make(map[string]Extractor)}

	plain := Plain{}
	r.Register(".txt", plain)
	r.Register(".md", plain)
	r.Register(".markdown", plain)
	r.Register(".pdf", PDF{})
	r.Register(".docx", DOCX{})

	html := HTML{}
	r.Register(".html", html)
	r.Register(".htm", html)

	return r
}

func (r *Registry) Register(ext string, e Extractor) {
	r.byExt[strings.ToLower(ext)] = e
}

func (r *Registry) Supported(path string) bool {
	_, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	return ok
}

func (r *Registry) Extract(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	e, ok := r.byExt[ext]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	return e.Extract(path)
}

// Plain reads UTF-8 text files (.txt, .md). Binary content is rejected so a
// mislabeled file fails extraction instead of indexing garbage.
type Plain struct{}

func (Plain) Extract(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	if !isProbablyText(data) {
		return "", fmt.Errorf("file %s is not valid text", filepath.Base(path))
	}
	return string(data), nil
}

// isProbablyText samples the head of the content: NUL bytes or a low share of
// printable bytes mark it as binary.
func isProbablyText(data []byte) bool {
	if len(data) == 0 {
		return true
	}

	sample := data
	if len(sample) > 4096 {
		sample = sample[:4096]
	}

	good := 0
	for _, c := range sample {
		if c == 0x00 {
			return false
		}
		if c == '\n' || c == '\r' || c == '\t' || (c >= 0x20 && c <= 0x7E) || c >= 0x80 {
			good++
		}
	}
	return float64(good)/float64(len(sample)) > 0.9
}

func collapseBlankRuns(text string) string {
	lines := strings.Split(text, "\n")
	var out []string
	blanks := 0
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			blanks++
			if blanks > 1 {
				continue
			}
			out = append(out, "")
			continue
		}
		blanks = 0
		out = append(out, strings.TrimRight(line, " \t"))
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
