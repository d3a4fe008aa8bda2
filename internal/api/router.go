// Package api exposes parsing, planning, feedback, retrieval, note
// ingestion and scholarship listings over HTTP.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/startfirst/startfirst/internal/extract"
	"github.com/startfirst/startfirst/internal/ingest"
	"github.com/startfirst/startfirst/internal/logging"
	"github.com/startfirst/startfirst/internal/plan"
	"github.com/startfirst/startfirst/internal/profile"
	"github.com/startfirst/startfirst/internal/retrieve"
	"github.com/startfirst/startfirst/internal/scholarship"
)

// Retriever runs fused retrieval.
type Retriever interface {
	Retrieve(ctx context.Context, query, userID string, kGlobal, kUser int) (*retrieve.FusedResult, error)
}

// NoteIngester writes text into a scope.
type NoteIngester interface {
	Ingest(ctx context.Context, text, source string, scope ingest.Scope, tag string) (int, error)
}

// FieldExtractor reads application fields from page text.
type FieldExtractor interface {
	Extract(ctx context.Context, pageText, userID string) (*extract.Result, error)
}

// PlanComposer builds start-first plans.
type PlanComposer interface {
	Compose(ctx context.Context, req plan.Request) (*plan.Plan, error)
}

// FeedbackApplier adapts a profile to plan feedback.
type FeedbackApplier interface {
	ApplyFeedback(ctx context.Context, fb profile.Feedback) (bool, error)
}

// Deps are the services behind the routes.
type Deps struct {
	Retriever    Retriever
	Notes        NoteIngester
	Extractor    FieldExtractor
	Composer     PlanComposer
	Feedback     FeedbackApplier
	Scholarships *scholarship.Repository
	Logger       *slog.Logger
}

// NewRouter builds the gin engine with CORS open to every origin.
func NewRouter(d Deps) *gin.Engine {
	logger := logging.OrDiscard(d.Logger)
	if d.Scholarships == nil {
		d.Scholarships = scholarship.NewRepository(nil)
	}
	h := &handler{deps: d, logger: logger}

	r := gin.New()
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "X-Request-ID"},
		ExposeHeaders:   []string{"Content-Length", "X-Request-ID"},
		MaxAge:          12 * time.Hour,
	}))
	r.Use(RequestID())
	r.Use(Logger(logger))
	r.Use(Recovery(logger))
	r.Use(ErrorHandler())

	r.GET("/health", h.health)
	r.POST("/parse", h.parse)
	r.POST("/plan", h.plan)
	r.POST("/feedback", h.feedback)
	r.POST("/notes", h.addNote)
	r.POST("/retrieve", h.retrieve)
	r.GET("/scholarships", h.listScholarships)
	r.GET("/scholarships/:id", h.getScholarship)
	return r
}

// Serve runs the HTTP server on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	logger = logging.OrDiscard(logger)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("http server starting", "addr", addr)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
}
