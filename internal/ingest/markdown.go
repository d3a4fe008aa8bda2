package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// MarkdownImporter handles .md and .markdown files.
type MarkdownImporter struct{}

// CanHandle returns true for Markdown file extensions.
func (m *MarkdownImporter) CanHandle(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".md" || ext == ".markdown"
}

// Import reads a Markdown file, dropping YAML front matter. A "source"
// front matter key overrides the file name as the source label, and "tag"
// becomes the chunk tag.
func (m *MarkdownImporter) Import(ctx context.Context, path string) (*RawDocument, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	content := strings.ReplaceAll(string(data), "\r\n", "\n")
	metadata, body := stripFrontMatter(content)
	if strings.TrimSpace(body) == "" {
		return nil, nil
	}

	doc := &RawDocument{
		Text:       body,
		Source:     filepath.Base(path),
		SourceFile: absPath,
	}
	if v := metadata["source"]; v != "" {
		doc.Source = v
	}
	doc.Tag = metadata["tag"]
	return doc, nil
}

// stripFrontMatter removes YAML front matter (--- delimited) from content.
// Returns the scalar front matter values as strings and the remaining body.
func stripFrontMatter(content string) (map[string]string, string) {
	if !strings.HasPrefix(strings.TrimSpace(content), "---") {
		return nil, content
	}

	trimmed := strings.TrimSpace(content)
	rest := trimmed[3:]
	idx := strings.Index(rest, "\n---")
	if idx < 0 {
		return nil, content
	}

	fmContent := rest[:idx]
	body := strings.TrimLeft(rest[idx+4:], "\n")

	var raw map[string]any
	if err := yaml.Unmarshal([]byte(fmContent), &raw); err != nil {
		return nil, body
	}

	metadata := make(map[string]string, len(raw))
	for key, v := range raw {
		switch v.(type) {
		case nil, map[string]any, []any:
			continue
		}
		if val := strings.TrimSpace(fmt.Sprint(v)); val != "" {
			metadata[key] = val
		}
	}
	return metadata, body
}
