package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/LJTian/NoticeWatch/internal/collector"
	"github.com/LJTian/NoticeWatch/internal/scheduler"
	"github.com/LJTian/NoticeWatch/internal/storage"
)

// Runner 是 API 依赖的调度能力，*scheduler.Scheduler 实现了它
type Runner interface {
	Sources() []collector.Source
	Store() storage.Store
	LastReport() *scheduler.Report
	Trigger() error
}

type Server struct {
	runner Runner
	log    zerolog.Logger
}

func NewServer(runner Runner, log zerolog.Logger) *Server {
	return &Server{runner: runner, log: log}
}

// SourceStatus 是 /api/v1/sources 的单项
type SourceStatus struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	URL     string `json:"url"`
	Enabled bool   `json:"enabled"`
	Seen    int    `json:"seen"`
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.health)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/runs/last", s.lastRun)
		v1.POST("/runs", s.triggerRun)
		v1.GET("/sources", s.listSources)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) lastRun(c *gin.Context) {
	report := s.runner.LastReport()
	if report == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "not_found",
			"message": "no run finished yet",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"data":    report,
	})
}

func (s *Server) triggerRun(c *gin.Context) {
	if err := s.runner.Trigger(); err != nil {
		if errors.Is(err, scheduler.ErrRunInProgress) {
			c.JSON(http.StatusConflict, gin.H{
				"code":    "run_in_progress",
				"message": err.Error(),
			})
			return
		}
		if errors.Is(err, scheduler.ErrStopped) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"code":    "shutting_down",
				"message": err.Error(),
			})
			return
		}
		s.log.Error().Err(err).Msg("trigger run failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "internal_error",
			"message": "internal server error",
		})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"code":    "ok",
		"message": "run started",
	})
}

func (s *Server) listSources(c *gin.Context) {
	items, err := s.sourceStatus(c.Request.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("load seen state failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "internal_error",
			"message": "internal server error",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"data":    items,
	})
}

func (s *Server) sourceStatus(ctx context.Context) ([]SourceStatus, error) {
	st, err := s.runner.Store().Load(ctx)
	if err != nil {
		return nil, err
	}
	sources := s.runner.Sources()
	items := make([]SourceStatus, 0, len(sources))
	for _, src := range sources {
		items = append(items, SourceStatus{
			ID:      src.ID,
			Name:    src.DisplayName(),
			Type:    src.Type,
			URL:     src.URL,
			Enabled: src.Enabled,
			Seen:    st.Len(src.ID),
		})
	}
	return items, nil
}
