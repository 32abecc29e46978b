package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"hydroserver-etl/pkg/config"
	"hydroserver-etl/pkg/errutil"
	"hydroserver-etl/pkg/middleware"
	"hydroserver-etl/services/task"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Handler struct {
	tasks *task.Service
	runs  *task.RunService
}

func NewHandler(tasks *task.Service, runs *task.RunService) *Handler {
	return &Handler{tasks: tasks, runs: runs}
}

// ProvideRouter builds the gin engine with all ETL task routes mounted.
func ProvideRouter(h *Handler) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Error())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		api.GET("/tasks", h.ListTasks)
		api.POST("/tasks", h.CreateTask)
		api.GET("/tasks/:taskId", h.GetTask)
		api.PATCH("/tasks/:taskId", h.UpdateTask)
		api.DELETE("/tasks/:taskId", h.DeleteTask)
		api.POST("/tasks/:taskId/run", h.RunTask)

		api.GET("/tasks/:taskId/runs", h.ListRuns)
		api.POST("/tasks/:taskId/runs", h.CreateRun)
		api.GET("/tasks/:taskId/runs/:runId", h.GetRun)
		api.PATCH("/tasks/:taskId/runs/:runId", h.UpdateRun)
		api.DELETE("/tasks/:taskId/runs/:runId", h.DeleteRun)
	}

	return r
}

func (h *Handler) ListTasks(c *gin.Context) {
	filter := task.ListFilter{
		JobID:                 c.Query("job_id"),
		OrchestrationSystemID: c.Query("orchestration_system_id"),
	}
	if v := c.Query("paused"); v != "" {
		paused, err := strconv.ParseBool(v)
		if err != nil {
			c.Error(errutil.BadRequest("Invalid paused filter", err))
			return
		}
		filter.Paused = &paused
	}
	filter.Limit, _ = strconv.Atoi(c.Query("limit"))
	filter.Offset, _ = strconv.Atoi(c.Query("offset"))

	out, err := h.tasks.List(c.Request.Context(), filter)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) CreateTask(c *gin.Context) {
	var input task.CreateTaskInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.Error(errutil.BadRequest("Invalid request body", err))
		return
	}

	out, err := h.tasks.Create(c.Request.Context(), input)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (h *Handler) GetTask(c *gin.Context) {
	out, err := h.tasks.Get(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) UpdateTask(c *gin.Context) {
	var patch task.UpdateTaskInput
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.Error(errutil.BadRequest("Invalid request body", err))
		return
	}

	out, err := h.tasks.Update(c.Request.Context(), c.Param("taskId"), patch)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) DeleteTask(c *gin.Context) {
	if err := h.tasks.Delete(c.Request.Context(), c.Param("taskId")); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) RunTask(c *gin.Context) {
	out, err := h.tasks.Run(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, out)
}

func (h *Handler) ListRuns(c *gin.Context) {
	out, err := h.runs.List(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) CreateRun(c *gin.Context) {
	var input task.CreateRunInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.Error(errutil.BadRequest("Invalid request body", err))
		return
	}

	out, err := h.runs.Create(c.Request.Context(), c.Param("taskId"), input)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (h *Handler) GetRun(c *gin.Context) {
	out, err := h.runs.Get(c.Request.Context(), c.Param("taskId"), c.Param("runId"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) UpdateRun(c *gin.Context) {
	var patch task.UpdateRunInput
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.Error(errutil.BadRequest("Invalid request body", err))
		return
	}

	out, err := h.runs.Update(c.Request.Context(), c.Param("taskId"), c.Param("runId"), patch)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) DeleteRun(c *gin.Context) {
	if err := h.runs.Delete(c.Request.Context(), c.Param("taskId"), c.Param("runId")); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ProvideHTTPServer constructs an *http.Server configured from the application config.
func ProvideHTTPServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

// Run wires the HTTP server lifecycle to the fx application.
func Run(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config, srv *http.Server) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				logger.Info("Starting HTTP server...", zap.String("addr", cfg.Server.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Fatal("HTTP server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server...", zap.String("addr", cfg.Server.Addr))
			return srv.Shutdown(ctx)
		},
	})
}

var Module = fx.Module("httpapi",
	fx.Provide(
		NewHandler,
		ProvideRouter,
		ProvideHTTPServer,
	),
	fx.Invoke(Run),
)
