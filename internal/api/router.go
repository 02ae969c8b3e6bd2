package api

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"gptqual/internal/analysis"
)

const defaultMaxUploadBytes = 20 << 20

// Handler carries the services behind the HTTP routes.
type Handler struct {
	Analyzer       *analysis.Analyzer
	Sessions       *analysis.Sessions
	Jobs           *analysis.Jobs
	DB             *sql.DB // nil disables /api/runs
	MaxUploadBytes int64
	// BaseContext bounds background jobs; it is cancelled on shutdown.
	BaseContext context.Context
}

func NewHandler(analyzer *analysis.Analyzer, sessions *analysis.Sessions, jobs *analysis.Jobs, db *sql.DB, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &Handler{
		Analyzer:       analyzer,
		Sessions:       sessions,
		Jobs:           jobs,
		DB:             db,
		MaxUploadBytes: maxUploadBytes,
		BaseContext:    context.Background(),
	}
}

// SetupRouter registers every route on a fresh engine.
func SetupRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.GET("/healthz", h.Health)
	r.GET("/ws/jobs/:id", h.JobWebSocket)

	api := r.Group("/api")
	{
		api.POST("/sessions", h.CreateSession)
		api.GET("/sessions/:id", h.GetSession)
		api.POST("/sessions/:id/analyze", h.Analyze)
		api.GET("/sessions/:id/categories", h.GetCategories)
		api.DELETE("/sessions/:id/categories", h.ResetCategories)

		api.GET("/jobs/:id", h.GetJob)
		api.GET("/jobs/:id/download", h.DownloadJob)

		api.GET("/runs", h.ListRuns)
		api.GET("/runs/:id", h.GetRun)
	}
	return r
}

// Serve runs the HTTP server until ctx is cancelled, then shuts it down.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("HTTP server listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Printf("HTTP server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}
