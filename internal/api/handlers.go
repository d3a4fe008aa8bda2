package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/startfirst/startfirst/internal/ingest"
	"github.com/startfirst/startfirst/internal/plan"
	"github.com/startfirst/startfirst/internal/profile"
	"github.com/startfirst/startfirst/internal/retrieve"
	"github.com/startfirst/startfirst/internal/scholarship"
)

// Default retrieval depth for /retrieve.
const (
	DefaultKGlobal = 4
	DefaultKUser   = 4
)

type handler struct {
	deps   Deps
	logger *slog.Logger
}

// ParseRequest is the body of POST /parse.
type ParseRequest struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
}

// NoteRequest is the body of POST /notes.
type NoteRequest struct {
	UserID string `json:"user_id"`
	Text   string `json:"text" binding:"required"`
	Source string `json:"source"`
	Tag    string `json:"tag"`
}

// RetrieveRequest is the body of POST /retrieve. Nil depths use the
// defaults; zero skips that side.
type RetrieveRequest struct {
	UserID  string `json:"user_id"`
	Query   string `json:"query" binding:"required"`
	KGlobal *int   `json:"k_global"`
	KUser   *int   `json:"k_user"`
}

// ScholarshipQuery holds the /scholarships query parameters.
type ScholarshipQuery struct {
	Q            string `form:"q"`
	SourceSite   string `form:"source_site"`
	LevelOfStudy string `form:"level_of_study"`
	Limit        int    `form:"limit,default=50" binding:"min=1,max=200"`
	Offset       int    `form:"offset" binding:"min=0"`
}

func userOrDefault(id string) string {
	if id == "" {
		return profile.DefaultUserID
	}
	return id
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "ts": time.Now().Format(time.RFC3339)})
}

func (h *handler) parse(c *gin.Context) {
	var req ParseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(NewBadRequestError("Invalid request parameters").WithDetails(err.Error()))
		return
	}
	if h.deps.Extractor == nil {
		c.Error(NewServiceUnavailableError("Field extraction is not configured"))
		return
	}

	res, err := h.deps.Extractor.Extract(c.Request.Context(), req.Text, userOrDefault(req.UserID))
	if err != nil {
		c.Error(NewInternalServerError("Field extraction failed").WithDetails(err.Error()))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handler) plan(c *gin.Context) {
	var req plan.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(NewBadRequestError("Invalid request parameters").WithDetails(err.Error()))
		return
	}
	if req.Goal == "" {
		c.Error(NewBadRequestError("Invalid request parameters").WithDetails("goal is required"))
		return
	}
	if h.deps.Composer == nil {
		c.Error(NewServiceUnavailableError("Plan composition is not configured"))
		return
	}
	req.UserID = userOrDefault(req.UserID)

	p, err := h.deps.Composer.Compose(c.Request.Context(), req)
	if err != nil {
		c.Error(NewInternalServerError("Plan composition failed").WithDetails(err.Error()))
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *handler) feedback(c *gin.Context) {
	var fb profile.Feedback
	if err := c.ShouldBindJSON(&fb); err != nil {
		c.Error(NewBadRequestError("Invalid request parameters").WithDetails(err.Error()))
		return
	}
	fb.UserID = userOrDefault(fb.UserID)

	adapted := false
	if h.deps.Feedback != nil {
		var err error
		adapted, err = h.deps.Feedback.ApplyFeedback(c.Request.Context(), fb)
		if err != nil {
			h.logger.Warn("feedback not applied", "user_id", fb.UserID, "error", err)
			adapted = false
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "adapted": adapted})
}

func (h *handler) addNote(c *gin.Context) {
	var req NoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(NewBadRequestError("Invalid request parameters").WithDetails(err.Error()))
		return
	}
	if h.deps.Notes == nil {
		c.Error(NewServiceUnavailableError("Note ingestion is not configured"))
		return
	}
	userID := userOrDefault(req.UserID)
	source := req.Source
	if source == "" {
		source = "note"
	}

	n, err := h.deps.Notes.Ingest(c.Request.Context(), req.Text, source, ingest.User(userID), req.Tag)
	if err != nil {
		if errors.Is(err, ingest.ErrStorageUnavailable) {
			c.Error(NewServiceUnavailableError("Storage unavailable").WithDetails(err.Error()))
			return
		}
		c.Error(NewInternalServerError("Note ingestion failed").WithDetails(err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "user_id": userID, "chunks": n})
}

func (h *handler) retrieve(c *gin.Context) {
	var req RetrieveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(NewBadRequestError("Invalid request parameters").WithDetails(err.Error()))
		return
	}
	if h.deps.Retriever == nil {
		c.Error(NewServiceUnavailableError("Retrieval is not configured"))
		return
	}
	kG, kU := DefaultKGlobal, DefaultKUser
	if req.KGlobal != nil {
		kG = *req.KGlobal
	}
	if req.KUser != nil {
		kU = *req.KUser
	}
	if kG < 0 || kU < 0 {
		c.Error(NewBadRequestError("Invalid request parameters").WithDetails("k_global and k_user must be non-negative"))
		return
	}

	res, err := h.deps.Retriever.Retrieve(c.Request.Context(), req.Query, userOrDefault(req.UserID), kG, kU)
	if err != nil {
		if errors.Is(err, retrieve.ErrRetrievalUnavailable) {
			c.Error(NewServiceUnavailableError("Retrieval unavailable").WithDetails(err.Error()))
			return
		}
		c.Error(NewInternalServerError("Retrieval failed").WithDetails(err.Error()))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handler) listScholarships(c *gin.Context) {
	var q ScholarshipQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.Error(NewBadRequestError("Invalid pagination parameters").WithDetails(err.Error()))
		return
	}
	items := h.deps.Scholarships.List(scholarship.Filter{
		Query:        q.Q,
		SourceSite:   q.SourceSite,
		LevelOfStudy: q.LevelOfStudy,
		Limit:        q.Limit,
		Offset:       q.Offset,
	})
	c.JSON(http.StatusOK, items)
}

func (h *handler) getScholarship(c *gin.Context) {
	s, err := h.deps.Scholarships.Get(c.Param("id"))
	if err != nil {
		c.Error(NewNotFoundError("Scholarship not found").WithDetails(c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, s)
}
