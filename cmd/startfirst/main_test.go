package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/startfirst/startfirst/internal/embed"
	"github.com/startfirst/startfirst/internal/retrieve"
	"github.com/startfirst/startfirst/internal/store"
)

// runCLI executes the root command against an isolated database and config.
func runCLI(t *testing.T, dir string, args ...string) string {
	t.Helper()
	t.Setenv("STARTFIRST_STORE", "sqlite")
	t.Setenv("STARTFIRST_EMBED", "hash")
	t.Setenv("STARTFIRST_LOG_LEVEL", "error")

	full := append([]string{
		"--db", filepath.Join(dir, "startfirst.db"),
		"--config", filepath.Join(dir, "missing.yaml"),
		"--env", filepath.Join(dir, "missing.env"),
	}, args...)

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(full)
	if err := root.Execute(); err != nil {
		t.Fatalf("startfirst %s: %v\n%s", strings.Join(args, " "), err, out.String())
	}
	return out.String()
}

func TestVersionCommand(t *testing.T) {
	out := runCLI(t, t.TempDir(), "version")
	if !strings.Contains(out, "startfirst "+version) {
		t.Errorf("unexpected version output: %q", out)
	}
}

func TestNoteThenRetrieve(t *testing.T) {
	dir := t.TempDir()

	out := runCLI(t, dir, "note", "u1", "I", "froze", "on", "the", "leadership", "essay", "--tag", "friction")
	if !strings.Contains(out, "saved 1 chunk(s) for u1") {
		t.Fatalf("unexpected note output: %q", out)
	}

	out = runCLI(t, dir, "retrieve", "u1", "leadership essay", "--k-global", "0", "--json")
	var res retrieve.FusedResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("parsing retrieve output: %v\n%s", err, out)
	}
	if len(res.Candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(res.Candidates))
	}
	if res.Candidates[0].Metadata.Tag != "friction" {
		t.Errorf("expected friction tag, got %q", res.Candidates[0].Metadata.Tag)
	}
}

func TestIngestThenStats(t *testing.T) {
	dir := t.TempDir()
	corpus := filepath.Join(dir, "corpus")
	if err := os.MkdirAll(corpus, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(corpus, "guide.md"), []byte("# Guide\n\nTwo references are required."), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(corpus, "image.png"), []byte{0x89, 0x50}, 0o644); err != nil {
		t.Fatal(err)
	}

	out := runCLI(t, dir, "ingest", corpus)
	if !strings.Contains(out, "1 files imported, 1 skipped") {
		t.Errorf("unexpected ingest output: %q", out)
	}

	out = runCLI(t, dir, "stats", "--json")
	var stats store.StoreStats
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("parsing stats output: %v\n%s", err, out)
	}
	if stats.GlobalChunks != 1 {
		t.Errorf("expected 1 global chunk, got %d", stats.GlobalChunks)
	}
	if stats.UserChunks != 0 {
		t.Errorf("expected no user chunks, got %d", stats.UserChunks)
	}
}

func TestRetrieveRejectsNegativeK(t *testing.T) {
	dir := t.TempDir()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{
		"--db", filepath.Join(dir, "startfirst.db"),
		"--config", filepath.Join(dir, "missing.yaml"),
		"--env", filepath.Join(dir, "missing.env"),
		"retrieve", "u1", "q", "--k-user", "-1",
	})
	if err := root.Execute(); err == nil {
		t.Fatal("expected an error for negative --k-user")
	}
}

func TestNotesListsUserNotesOnly(t *testing.T) {
	dir := t.TempDir()
	runCLI(t, dir, "note", "u1", "first note", "--tag", "win")
	runCLI(t, dir, "note", "u2", "someone else")

	out := runCLI(t, dir, "notes", "u1")
	if !strings.Contains(out, "first note") || !strings.Contains(out, "[win]") {
		t.Errorf("expected u1 note in output: %q", out)
	}
	if strings.Contains(out, "someone else") {
		t.Errorf("u2 note leaked into u1 listing: %q", out)
	}

	out = runCLI(t, dir, "notes", "nobody")
	if !strings.Contains(out, "no notes for nobody") {
		t.Errorf("unexpected output for unknown user: %q", out)
	}
}

func TestVacuum(t *testing.T) {
	dir := t.TempDir()
	runCLI(t, dir, "note", "u1", "something to compact")
	out := runCLI(t, dir, "vacuum")
	if !strings.Contains(out, "database compacted") {
		t.Errorf("unexpected vacuum output: %q", out)
	}
}

type recordingCloser struct {
	name   string
	closed *[]string
}

func (c recordingCloser) Close() error {
	*c.closed = append(*c.closed, c.name)
	return nil
}

func TestAppClosesEmbedderAfterStore(t *testing.T) {
	var closed []string
	a := &app{}

	a.closeWith(embed.NewHashEmbedder(8))
	if len(a.closers) != 0 {
		t.Fatalf("hash embedder holds nothing to close, got %d closers", len(a.closers))
	}

	a.closeWith(recordingCloser{name: "embedder", closed: &closed})
	a.closeWith(recordingCloser{name: "store", closed: &closed})
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if strings.Join(closed, ",") != "store,embedder" {
		t.Errorf("expected store then embedder to close, got %v", closed)
	}
	if a.closers != nil {
		t.Error("closers should be cleared after Close")
	}
}
