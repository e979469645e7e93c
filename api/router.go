// Package api exposes the pipeline over HTTP.
package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"pdf-checker/jobs"
	"pdf-checker/models"
	"pdf-checker/services"
)

// Handler holds everything the routes need.
type Handler struct {
	Submissions  *services.Submissions
	Fetcher      *services.RemoteFetcher
	Orchestrator *services.Orchestrator
	Selector     *services.Selector
	Projector    *services.Projector
	// Inline bounds the collaborator calls made while a client waits.
	Inline    services.Deadlines
	Sweep     services.Deadlines
	BatchSize int
	APIKey    string
	Logger    *zap.Logger
}

func apiKeyAuthMiddleware(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.Next()
			return
		}
		if c.GetHeader("X-API-KEY") != key {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

func noStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
		c.Header("Pragma", "no-cache")
		c.Header("Expires", "0")
		c.Next()
	}
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	docs := router.Group("/documents")
	docs.POST("", h.submit)
	docs.POST("/fetch", h.fetch)
	docs.GET("/:id/status", noStore(), h.status)
	docs.GET("/:id", h.report)

	operator := router.Group("", apiKeyAuthMiddleware(h.APIKey))
	operator.POST("/documents/:id/reset", h.reset)
	operator.POST("/sweeps/documents", h.sweep(h.Selector.SweepDocuments))
	operator.POST("/sweeps/summaries", h.sweep(h.Selector.SweepSummaries))
	return router
}

func (h *Handler) submit(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field 'file' is required"})
		return
	}
	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read upload"})
		return
	}
	defer file.Close()

	reader := io.Reader(file)
	if h.Submissions.MaxBytes > 0 {
		// One extra byte lets validation tell "at the limit" from "over it".
		reader = io.LimitReader(file, h.Submissions.MaxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read upload"})
		return
	}

	res, err := h.Submissions.Submit(c.Request.Context(), h.upload(c, header.Filename, data))
	h.respondSubmitted(c, res, err)
}

type fetchRequest struct {
	URL       string   `json:"url" binding:"required"`
	Filename  string   `json:"filename"`
	FirstName string   `json:"first_name"`
	LastName  string   `json:"last_name"`
	Email     string   `json:"email"`
	Groups    []string `json:"groups"`
}

func (h *Handler) fetch(c *gin.Context) {
	var req fetchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. 'url' field is required."})
		return
	}
	res, err := h.Submissions.SubmitURL(c.Request.Context(), h.Fetcher, req.URL, services.Upload{
		Filename:  req.Filename,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Groups:    req.Groups,
	})
	h.respondSubmitted(c, res, err)
}

func (h *Handler) upload(c *gin.Context, filename string, data []byte) services.Upload {
	var groups []string
	for _, g := range strings.Split(c.PostForm("groups"), ",") {
		if g = strings.TrimSpace(g); g != "" {
			groups = append(groups, g)
		}
	}
	return services.Upload{
		Filename:  filename,
		Data:      data,
		FirstName: c.PostForm("first_name"),
		LastName:  c.PostForm("last_name"),
		Email:     c.PostForm("email"),
		Groups:    groups,
	}
}

// respondSubmitted runs the inline attempt for pending documents and answers
// with the resulting snapshot.
func (h *Handler) respondSubmitted(c *gin.Context, res *services.SubmitResult, err error) {
	if err != nil {
		if services.IsValidationError(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.Logger.Error("Submission failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store document"})
		return
	}

	ctx := c.Request.Context()
	id := res.Document.ID
	if res.Document.Status == models.StatusPending {
		if _, err := h.Orchestrator.RunInline(ctx, id, h.Inline); err != nil {
			// The document is stored; a sweep will finish it.
			h.Logger.Error("Inline processing failed", zap.String("document_id", id), zap.Error(err))
		}
	}

	snap, err := h.Projector.Snapshot(context.WithoutCancel(ctx), id)
	if err != nil {
		h.Logger.Error("Snapshot after submission failed", zap.String("document_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
		return
	}
	code := http.StatusOK
	if res.Created {
		code = http.StatusCreated
	}
	c.JSON(code, snap)
}

func validID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
		return "", false
	}
	return id, true
}

func (h *Handler) notFoundOr500(c *gin.Context, err error) {
	if errors.Is(err, jobs.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
		return
	}
	h.Logger.Error("Database error", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
}

func (h *Handler) status(c *gin.Context) {
	id, ok := validID(c)
	if !ok {
		return
	}
	snap, err := h.Projector.Snapshot(c.Request.Context(), id)
	if err != nil {
		h.notFoundOr500(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) report(c *gin.Context) {
	id, ok := validID(c)
	if !ok {
		return
	}
	report, err := h.Projector.Report(c.Request.Context(), id)
	if err != nil {
		h.notFoundOr500(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) reset(c *gin.Context) {
	id, ok := validID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	stage := c.DefaultQuery("stage", "analysis")

	var (
		changed bool
		err     error
	)
	switch stage {
	case "analysis":
		changed, err = h.Orchestrator.Documents.Reset(ctx, id)
	case "summary":
		changed, err = h.Orchestrator.Summaries.Reset(ctx, id)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "stage must be 'analysis' or 'summary'"})
		return
	}
	if err != nil {
		h.notFoundOr500(c, err)
		return
	}
	if changed {
		h.Logger.Info("Operator reset", zap.String("document_id", id), zap.String("stage", stage))
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "stage": stage, "reset": changed})
}

type sweepFunc func(ctx context.Context, opts services.SweepOptions) (services.SweepReport, error)

// sweep runs synchronously so the caller (cron, CLI, an external scheduler)
// sees the counts.
func (h *Handler) sweep(run sweepFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		batch := h.BatchSize
		if raw := c.Query("batch"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "batch must be a positive integer"})
				return
			}
			batch = n
		}
		report, err := run(c.Request.Context(), services.SweepOptions{BatchSize: batch, Deadlines: h.Sweep})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "sweep failed", "claimed": report.Claimed})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"stage":       report.Stage,
			"claimed":     report.Claimed,
			"outcomes":    report.Outcomes,
			"duration_ms": report.Duration.Milliseconds(),
		})
	}
}
