// Package web 提供 HTTP 接口：同步的计算类接口、后台执行的渲染任务、
// 进度查询、WebSocket 日志推送与 Prometheus 指标。
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/beewebpro/new-sumotech-sub000/internal/mcp"
	"github.com/beewebpro/new-sumotech-sub000/pkg/broadcast"
	"github.com/beewebpro/new-sumotech-sub000/pkg/compose"
	"github.com/beewebpro/new-sumotech-sub000/pkg/progress"
	"github.com/beewebpro/new-sumotech-sub000/pkg/timeline"
	"github.com/beewebpro/new-sumotech-sub000/pkg/workflow"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server HTTP 服务
type Server struct {
	processor *workflow.Processor
	logger    *zap.Logger
	store     *progress.Store
	hub       *broadcast.BroadcastService
	tools     []mcp.ToolInfo

	engine *gin.Engine
	jobs   sync.WaitGroup
	// baseCtx 后台任务的上下文，Shutdown 时取消
	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewServer 注册所有路由。hub 为 nil 时 /ws 不可用。
func NewServer(processor *workflow.Processor, logger *zap.Logger, store *progress.Store, hub *broadcast.BroadcastService, tools []mcp.ToolInfo) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = progress.NewStore(0)
	}
	gin.SetMode(gin.ReleaseMode)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		processor: processor,
		logger:    logger,
		store:     store,
		hub:       hub,
		tools:     tools,
		engine:    gin.New(),
		baseCtx:   ctx,
		cancel:    cancel,
	}
	s.engine.Use(gin.Recovery())

	r := s.engine
	r.GET("/ws", s.wsEndpoint)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/api/tools", s.apiToolsHandler)
	r.POST("/api/segment", s.apiSegmentHandler)
	r.POST("/api/allocate", s.apiAllocateHandler)
	r.POST("/api/batch/chapter-audio", s.apiBatchChapterAudioHandler)
	r.POST("/api/description-video", s.apiDescriptionVideoHandler)
	r.GET("/api/progress/:id", s.apiProgressHandler)
	r.GET("/api/jobs/:id", s.apiJobHandler)

	if out := processor.Config().Workflow.OutputRoot; out != "" {
		if err := os.MkdirAll(out, 0755); err == nil {
			r.Static("/files/output", out)
		}
	}
	return s
}

// Handler 返回 http.Handler，便于测试
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run 监听 addr 直到 ctx 取消，然后等待后台任务结束
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Web 服务启动", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Wait()
	return err
}

// Wait 取消并等待所有后台任务
func (s *Server) Wait() {
	s.cancel()
	s.jobs.Wait()
}

func (s *Server) wsEndpoint(c *gin.Context) {
	if s.hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "broadcast unavailable", "status": "error"})
		return
	}
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade error", zap.Error(err))
		return
	}
	defer ws.Close()

	client := s.hub.RegisterClient(ws)
	defer s.hub.UnregisterClient(client)

	go func() {
		for msg := range client.Send {
			if err := ws.WriteJSON(msg); err != nil {
				s.logger.Debug("WebSocket write error", zap.Error(err))
				ws.Close()
				return
			}
		}
		// 服务关闭或客户端过慢被移除
		ws.Close()
	}()

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) apiToolsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tools": s.tools})
}

type segmentRequest struct {
	Entries []timeline.TranscriptEntry `json:"entries" binding:"required"`
	UseAI   *bool                      `json:"use_ai"`
}

func (s *Server) apiSegmentHandler(c *gin.Context) {
	var req segmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON: " + err.Error(), "status": "error"})
		return
	}
	useAI := s.processor.Config().Segment.UseAI
	if req.UseAI != nil {
		useAI = *req.UseAI
	}
	result := s.processor.Segment(c.Request.Context(), req.Entries, useAI, nil)
	c.JSON(http.StatusOK, result)
}

type allocateRequest struct {
	Texts       []string `json:"texts" binding:"required"`
	Total       float64  `json:"total" binding:"required"`
	MinDuration *float64 `json:"min_duration"`
	Transition  *float64 `json:"transition"`
}

func (s *Server) apiAllocateHandler(c *gin.Context) {
	var req allocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON: " + err.Error(), "status": "error"})
		return
	}
	opts := s.processor.AllocateOptions()
	if req.MinDuration != nil {
		opts.MinDuration = *req.MinDuration
	}
	if req.Transition != nil {
		opts.TransitionDuration = *req.Transition
	}
	durations, err := compose.AllocateDurations(compose.TextWeights(req.Texts), req.Total, opts)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "status": "error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"durations":          durations,
		"offsets":            compose.Offsets(durations, opts.TransitionDuration),
		"composite_duration": compose.CompositeDuration(durations, opts.TransitionDuration),
	})
}

type batchChapterAudioRequest struct {
	JobID    string                         `json:"job_id"`
	Chapters []workflow.ChapterAudioRequest `json:"chapters" binding:"required"`
}

func (s *Server) apiBatchChapterAudioHandler(c *gin.Context) {
	var req batchChapterAudioRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON: " + err.Error(), "status": "error"})
		return
	}
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}
	s.runJob(c, req.JobID, "batch_chapter_audio", func(ctx context.Context) (any, error) {
		res := s.processor.BatchChapterAudios(ctx, req.JobID, req.Chapters)
		return res, nil
	})
}

func (s *Server) apiDescriptionVideoHandler(c *gin.Context) {
	var req workflow.DescriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON: " + err.Error(), "status": "error"})
		return
	}
	if req.Text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing text", "status": "error"})
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	s.runJob(c, req.ID, "generate_description_video", func(ctx context.Context) (any, error) {
		return s.processor.GenerateDescriptionVideo(ctx, req)
	})
}

func (s *Server) apiProgressHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.Get(c.Param("id")))
}

// apiJobHandler 返回任务的最终结果；任务仍在执行时只返回当前状态
func (s *Server) apiJobHandler(c *gin.Context) {
	id := c.Param("id")
	if res, ok := s.store.Result(id); ok {
		c.JSON(http.StatusOK, res)
		return
	}
	u := s.store.Get(id)
	if u.Status == progress.StatusIdle {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found", "status": "error", "job_id": id})
		return
	}
	c.JSON(http.StatusOK, progress.JobResult{JobID: id, Status: u.Status, Timestamp: u.Timestamp})
}

// runJob ?wait=true 时同步执行并返回结果；否则在后台执行，立即返回 202 与 job_id，
// 调用方通过 /api/progress/:id 或 /ws 跟踪进度，结束后从 /api/jobs/:id 取结果。
func (s *Server) runJob(c *gin.Context, jobID, tool string, fn func(ctx context.Context) (any, error)) {
	if c.Query("wait") == "true" {
		result, err := fn(c.Request.Context())
		s.store.Finish(jobID, result, err)
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "status": "error", "job_id": jobID, "result": result})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success", "job_id": jobID, "result": result})
		return
	}

	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		if s.hub != nil {
			s.hub.SendMessage(tool, fmt.Sprintf("任务 %s 开始执行", jobID))
		}
		result, err := fn(s.baseCtx)
		s.store.Finish(jobID, result, err)
		if err != nil {
			s.logger.Error("后台任务失败", zap.String("tool", tool), zap.String("job_id", jobID), zap.Error(err))
			return
		}
		if s.hub != nil {
			s.hub.SendMessage(tool, fmt.Sprintf("任务 %s 执行完成", jobID))
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "job_id": jobID, "message": "Tool execution started"})
}
