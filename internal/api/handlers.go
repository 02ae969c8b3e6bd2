package api

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"gptqual/internal/analysis"
	"gptqual/internal/domain"
	"gptqual/internal/pipeline"
	"gptqual/internal/prompt"
	"gptqual/internal/storage/sqlite"
	"gptqual/internal/table"
)

// APIKeyHeader lets a caller supply their own model key for a session.
const APIKeyHeader = "X-API-Key"

type sessionView struct {
	ID         string                 `json:"id"`
	FileName   string                 `json:"file_name"`
	Columns    []string               `json:"columns"`
	Rows       int                    `json:"rows"`
	Modes      []string               `json:"modes"`
	Head       []map[string]string    `json:"head"`
	Analyzed   bool                   `json:"analyzed"`
	Categories []domain.CategoryCount `json:"categories"`
}

type analyzeRequest struct {
	Column       string `json:"column" binding:"required"`
	Mode         string `json:"mode" binding:"required"`
	CustomPrompt string `json:"custom_prompt"`
	OutputColumn string `json:"output_column"`
	Preview      bool   `json:"preview"`
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func viewSession(sess *analysis.Session) sessionView {
	head := sess.Table.Head(pipeline.PreviewRows)
	rows := make([]map[string]string, 0, head.Len())
	for _, row := range head.Rows {
		m := make(map[string]string, len(head.Header))
		for i, name := range head.Header {
			m[name] = row[i]
		}
		rows = append(rows, m)
	}
	categories := sess.Categories()
	if categories == nil {
		categories = []domain.CategoryCount{}
	}
	return sessionView{
		ID:         sess.ID,
		FileName:   sess.FileName,
		Columns:    sess.Table.Header,
		Rows:       sess.Table.Len(),
		Modes:      prompt.Modes(),
		Head:       rows,
		Analyzed:   sess.Analyzed() != nil,
		Categories: categories,
	}
}

// CreateSession accepts a multipart "file" upload and starts a session for it.
func (h *Handler) CreateSession(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUploadBytes)
	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("upload exceeds %d bytes", h.MaxUploadBytes)})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field \"file\" is required"})
		return
	}
	f, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()

	tbl, err := table.ReadCSV(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess := h.Sessions.Create(header.Filename, tbl)
	sess.SetAPIKey(strings.TrimSpace(c.GetHeader(APIKeyHeader)))
	log.Printf("session created id=%s file=%s rows=%d columns=%d", sess.ID, header.Filename, tbl.Len(), len(tbl.Header))
	c.JSON(http.StatusCreated, viewSession(sess))
}

func (h *Handler) session(c *gin.Context) (*analysis.Session, bool) {
	sess, err := h.Sessions.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, false
	}
	return sess, true
}

func (h *Handler) GetSession(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, viewSession(sess))
}

// Analyze starts a preview or full run on the session and returns the job id.
func (h *Handler) Analyze(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	mode, err := prompt.ParseMode(req.Mode, req.CustomPrompt)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.Analyzer.Start(h.BaseContext, sess, h.Jobs, analysis.Request{
		Column:       req.Column,
		Mode:         mode,
		OutputColumn: req.OutputColumn,
		Preview:      req.Preview,
		APIKey:       strings.TrimSpace(c.GetHeader(APIKeyHeader)),
	})
	switch {
	case errors.Is(err, table.ErrColumnNotFound):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, analysis.ErrSessionBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID, "status": job.Status()})
}

func (h *Handler) GetCategories(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	categories := sess.Categories()
	if categories == nil {
		categories = []domain.CategoryCount{}
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

func (h *Handler) ResetCategories(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	sess.ResetCategories()
	c.Status(http.StatusNoContent)
}

func (h *Handler) job(c *gin.Context) (*analysis.Job, bool) {
	job, err := h.Jobs.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, false
	}
	return job, true
}

func (h *Handler) GetJob(c *gin.Context) {
	job, ok := h.job(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, job.View())
}

// DownloadJob streams the augmented table of a completed job as CSV.
func (h *Handler) DownloadJob(c *gin.Context) {
	job, ok := h.job(c)
	if !ok {
		return
	}
	outcome := job.Outcome()
	if outcome == nil {
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("job is %s", job.Status())})
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", table.DefaultExportName))
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Status(http.StatusOK)
	if err := outcome.Table.WriteCSV(c.Writer); err != nil {
		log.Printf("download job=%s write error: %v", job.ID, err)
	}
}

func (h *Handler) ListRuns(c *gin.Context) {
	if h.DB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run history is disabled"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}
	runs, err := sqlite.ListRuns(h.DB, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]gin.H, 0, len(runs))
	for _, r := range runs {
		categories, err := sqlite.GetRunCategories(h.DB, r.RunID)
		if err != nil {
			log.Printf("list runs categories run=%s error (non-fatal): %v", r.RunID, err)
		}
		out = append(out, runView(r, categories))
	}
	c.JSON(http.StatusOK, gin.H{"runs": out})
}

func (h *Handler) GetRun(c *gin.Context) {
	if h.DB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run history is disabled"})
		return
	}
	r, err := sqlite.GetRun(h.DB, c.Param("id"))
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	categories, err := sqlite.GetRunCategories(h.DB, r.RunID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, runView(r, categories))
}

func runView(r domain.RunRecord, categories []domain.CategoryCount) gin.H {
	return gin.H{
		"run_id":        r.RunID,
		"source":        r.Source,
		"mode":          r.Mode,
		"column":        r.Column,
		"output_column": r.OutputColumn,
		"preview":       r.Preview,
		"provider":      r.Provider,
		"model":         r.Model,
		"summary":       analysis.SummaryLine(r.Summary),
		"rows":          r.Summary.Rows,
		"errors":        r.Summary.Errors(),
		"tokens":        r.Summary.Tokens,
		"categories":    categories,
		"started_at":    r.StartedAt,
		"finished_at":   r.FinishedAt,
	}
}
