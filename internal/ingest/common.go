package ingest

import "context"

// RawDocument is a parsed file ready for chunking.
type RawDocument struct {
	Text       string // Body text, front matter removed
	Source     string // Source label recorded on every chunk
	SourceFile string // Absolute path to source file
	Tag        string // Optional tag from front matter
}

// Importer handles a specific file format.
type Importer interface {
	// CanHandle returns true if this importer supports the given file path.
	CanHandle(path string) bool

	// Import reads the file. A nil document means there is nothing to ingest.
	Import(ctx context.Context, path string) (*RawDocument, error)
}

// ImportResult summarizes an import operation.
type ImportResult struct {
	FilesScanned  int
	FilesImported int
	FilesSkipped  int
	ChunksWritten int
	Errors        []ImportError
}

// Add merges another ImportResult into this one.
func (r *ImportResult) Add(other *ImportResult) {
	r.FilesScanned += other.FilesScanned
	r.FilesImported += other.FilesImported
	r.FilesSkipped += other.FilesSkipped
	r.ChunksWritten += other.ChunksWritten
	r.Errors = append(r.Errors, other.Errors...)
}

// ImportError records a non-fatal error during import.
type ImportError struct {
	File    string
	Message string
}

// ImportOptions configures an import operation.
type ImportOptions struct {
	Recursive   bool
	DryRun      bool
	MaxFileSize int64  // bytes, default 10MB
	Tag         string // Tag applied when a file carries none
	ProgressFn  func(current, total int, file string)
}

// DefaultMaxFileSize is 10MB.
const DefaultMaxFileSize = 10 * 1024 * 1024
