package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/startfirst/startfirst/internal/chunk"
)

// DefaultImporters returns the importers used for corpus files.
func DefaultImporters() []Importer {
	return []Importer{
		&MarkdownImporter{},
		&PlainTextImporter{},
	}
}

// ImportPath ingests a file, or every supported file in a directory, into
// the global corpus. Per-file problems are recorded in the result; storage
// failures abort the import.
func (p *Pipeline) ImportPath(ctx context.Context, path string, opts ImportOptions) (*ImportResult, error) {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("accessing %s: %w", path, err)
	}

	var files []string
	if info.IsDir() {
		files, err = collectFiles(path, opts.Recursive)
		if err != nil {
			return nil, err
		}
	} else {
		files = []string{path}
	}

	result := &ImportResult{}
	importers := DefaultImporters()

	for i, file := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.FilesScanned++
		if opts.ProgressFn != nil {
			opts.ProgressFn(i+1, len(files), file)
		}

		imp := importerFor(importers, file)
		if imp == nil {
			result.FilesSkipped++
			continue
		}

		if fi, err := os.Stat(file); err == nil && fi.Size() > opts.MaxFileSize {
			result.FilesSkipped++
			result.Errors = append(result.Errors, ImportError{
				File:    file,
				Message: fmt.Sprintf("file exceeds %d bytes", opts.MaxFileSize),
			})
			continue
		}

		doc, err := imp.Import(ctx, file)
		if err != nil {
			result.Errors = append(result.Errors, ImportError{File: file, Message: err.Error()})
			continue
		}
		if doc == nil {
			result.FilesSkipped++
			continue
		}

		tag := doc.Tag
		if tag == "" {
			tag = opts.Tag
		}

		if opts.DryRun {
			n, err := countChunks(doc.Text)
			if err != nil {
				return result, err
			}
			result.FilesImported++
			result.ChunksWritten += n
			continue
		}

		n, err := p.Ingest(ctx, doc.Text, doc.Source, Global, tag)
		if err != nil {
			return result, fmt.Errorf("importing %s: %w", file, err)
		}
		result.FilesImported++
		result.ChunksWritten += n
	}

	p.logger.Info("import complete",
		"path", path,
		"files", result.FilesImported,
		"skipped", result.FilesSkipped,
		"chunks", result.ChunksWritten)
	return result, nil
}

func countChunks(text string) (int, error) {
	pieces, err := chunk.Split(text, chunk.GlobalWindow)
	return len(pieces), err
}

func importerFor(importers []Importer, path string) Importer {
	for _, imp := range importers {
		if imp.CanHandle(path) {
			return imp
		}
	}
	return nil
}

// collectFiles lists regular files under root in lexical order. Hidden
// files and directories are ignored.
func collectFiles(root string, recursive bool) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path == root {
				return nil
			}
			if !recursive || strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || !d.Type().IsRegular() {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}
