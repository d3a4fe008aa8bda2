package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// PlainTextImporter handles .txt and .log files.
type PlainTextImporter struct{}

// CanHandle returns true for plain text extensions.
func (t *PlainTextImporter) CanHandle(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".txt" || ext == ".log"
}

// Import reads a plain text file whole. The file name is the source label.
func (t *PlainTextImporter) Import(ctx context.Context, path string) (*RawDocument, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	content := strings.ReplaceAll(string(data), "\r\n", "\n")
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	return &RawDocument{
		Text:       content,
		Source:     filepath.Base(path),
		SourceFile: absPath,
	}, nil
}
