package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/startfirst/startfirst/internal/api"
	"github.com/startfirst/startfirst/internal/ingest"
	"github.com/startfirst/startfirst/internal/mcp"
	"github.com/startfirst/startfirst/internal/retrieve"
	"github.com/startfirst/startfirst/internal/scholarship"
	"github.com/startfirst/startfirst/internal/store"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := openApp(ctx, appOptions{addr: addr, withLLM: true})
			if err != nil {
				return err
			}
			defer a.Close()

			router := api.NewRouter(api.Deps{
				Retriever:    a.retriever,
				Notes:        a.pipeline,
				Extractor:    a.extractor,
				Composer:     a.composer,
				Feedback:     a.profiles,
				Scholarships: scholarship.Load(a.cfg.ScholarshipsPath.Value, a.logger),
				Logger:       a.logger,
			})
			return api.Serve(ctx, a.cfg.Addr.Value, router, a.logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default :8000)")
	return cmd
}

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Run the MCP server over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := openApp(ctx, appOptions{withLLM: true})
			if err != nil {
				return err
			}
			defer a.Close()

			srv := mcp.NewServer(mcp.ServerConfig{
				Version:   version,
				Retriever: a.retriever,
				Notes:     a.pipeline,
				Extractor: a.extractor,
				Composer:  a.composer,
				Feedback:  a.profiles,
				Stats:     a.store,
				Logger:    a.logger,
			})
			return mcp.ServeStdio(srv)
		},
	}
}

func ingestCmd() *cobra.Command {
	var opts ingest.ImportOptions
	cmd := &cobra.Command{
		Use:   "ingest <path...>",
		Short: "Import text and markdown files into the shared corpus",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := openApp(ctx, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if opts.DryRun {
				fmt.Fprintln(out, "Dry run: nothing will be written")
			}
			opts.ProgressFn = func(current, total int, file string) {
				fmt.Fprintf(out, "  [%d/%d] %s\n", current, total, file)
			}

			total := &ingest.ImportResult{}
			for _, path := range args {
				fmt.Fprintf(out, "Importing %s...\n", path)
				res, err := a.pipeline.ImportPath(ctx, path, opts)
				if res != nil {
					total.Add(res)
				}
				if err != nil {
					return err
				}
			}
			printImportResult(cmd, total)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&opts.Recursive, "recursive", "r", false, "descend into subdirectories")
	cmd.Flags().BoolVarP(&opts.DryRun, "dry-run", "n", false, "count chunks without writing")
	cmd.Flags().StringVar(&opts.Tag, "tag", "", "tag for files without one in front matter")
	return cmd
}

func printImportResult(cmd *cobra.Command, r *ingest.ImportResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	fmt.Fprintf(out, "%s %d files imported, %d skipped, %d chunks\n",
		color.GreenString("done:"), r.FilesImported, r.FilesSkipped, r.ChunksWritten)
	for _, e := range r.Errors {
		fmt.Fprintf(out, "  %s %s: %s\n", color.YellowString("warn:"), e.File, e.Message)
	}
}

func noteCmd() *cobra.Command {
	var tag, source string
	cmd := &cobra.Command{
		Use:   "note <user> <text>",
		Short: "Save a personal note for a user",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := openApp(ctx, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			userID, text := args[0], strings.Join(args[1:], " ")
			n, err := a.pipeline.Ingest(ctx, text, source, ingest.User(userID), tag)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %d chunk(s) for %s\n", n, userID)
			return nil
		},
	}
	cmd.Flags().StringVar(&tag, "tag", ingest.DefaultNoteTag, "note tag, e.g. friction or win")
	cmd.Flags().StringVar(&source, "source", "note", "provenance label")
	return cmd
}

func notesCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "notes <user>",
		Short: "List a user's saved notes, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := openApp(ctx, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			chunks, err := a.store.ListChunks(ctx, store.UserScope(args[0]), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(chunks) == 0 {
				fmt.Fprintf(out, "no notes for %s\n", args[0])
				return nil
			}
			for _, c := range chunks {
				fmt.Fprintf(out, "%s %s %s\n",
					color.CyanString(c.CreatedAt.Format("2006-01-02")),
					color.MagentaString("[%s]", c.Tag),
					retrieve.TruncateRunes(strings.ReplaceAll(c.Content, "\n", " "), retrieve.SnippetRunes))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum notes to list")
	return cmd
}

func retrieveCmd() *cobra.Command {
	var (
		kGlobal, kUser int
		asJSON         bool
	)
	cmd := &cobra.Command{
		Use:   "retrieve <user> <query>",
		Short: "Run fused retrieval and print the ranked context",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := openApp(ctx, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			if !cmd.Flags().Changed("k-global") {
				kGlobal = a.cfg.KGlobal.Int(kGlobal)
			}
			if !cmd.Flags().Changed("k-user") {
				kUser = a.cfg.KUser.Int(kUser)
			}
			if kGlobal < 0 || kUser < 0 {
				return fmt.Errorf("--k-global and --k-user must be non-negative")
			}

			res, err := a.retriever.Retrieve(ctx, strings.Join(args[1:], " "), args[0], kGlobal, kUser)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, res)
			}
			printFused(cmd, res)
			return nil
		},
	}
	cmd.Flags().IntVar(&kGlobal, "k-global", 4, "hits from the shared corpus")
	cmd.Flags().IntVar(&kUser, "k-user", 4, "hits from the user's notes")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw result as JSON")
	return cmd
}

func printFused(cmd *cobra.Command, res *retrieve.FusedResult) {
	out := cmd.OutOrStdout()
	if len(res.Candidates) == 0 {
		fmt.Fprintln(out, "no results")
		return
	}
	for i, c := range res.Candidates {
		fmt.Fprintf(out, "%s %s %s %s\n",
			color.CyanString("%d.", i+1),
			color.GreenString("%.3f", c.Score),
			color.MagentaString("[%s]", c.Origin),
			c.Metadata.Source)
		fmt.Fprintf(out, "   %s\n", strings.ReplaceAll(res.Sources[i].Snippet, "\n", " "))
	}
}

func statsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show store statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := openApp(ctx, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.store.Stats(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, stats)
			}
			printStats(cmd, stats)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func printStats(cmd *cobra.Command, s *store.StoreStats) {
	out := cmd.OutOrStdout()
	row := func(label string, v int64) {
		fmt.Fprintf(out, "  %-16s %d\n", label, v)
	}
	fmt.Fprintln(out, color.CyanString("startfirst store"))
	row("global chunks", s.GlobalChunks)
	row("user chunks", s.UserChunks)
	row("users", s.Users)
	row("embeddings", s.EmbeddingCount)
	row("profiles", s.ProfileCount)
	row("db size (bytes)", s.DBSizeBytes)
}

func vacuumCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vacuum",
		Short: "Compact the SQLite database",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := openApp(ctx, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.Vacuum(ctx); err != nil {
				return fmt.Errorf("vacuum: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("done:"), "database compacted")
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "startfirst %s\n", version)
		},
	}
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
