package http

import (
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appconfig "github.com/saker-ai/denoise-bridge/internal/config"
	"github.com/saker-ai/denoise-bridge/internal/storage"
	"github.com/saker-ai/denoise-bridge/internal/ws"
	"github.com/saker-ai/denoise-bridge/pkg/denoise"
	"github.com/saker-ai/denoise-bridge/webassets"
)

type api struct {
	cfg    appconfig.Config
	effect *denoise.Effect
	stream *ws.Handler
	logger *zap.Logger
}

type paramsResponse struct {
	Revision uint64                    `json:"revision"`
	Params   denoise.SuppressionParams `json:"params"`
}

type savePresetRequest struct {
	Description string `json:"description"`
}

// NewRouter wires the control API and the /stream endpoint.
func NewRouter(cfg appconfig.Config, effect *denoise.Effect, wsHandler *ws.Handler, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &api{cfg: cfg, effect: effect, stream: wsHandler, logger: logger}

	router := gin.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/stream", func(c *gin.Context) {
		wsHandler.Handle(c.Writer, c.Request)
	})

	mountConsole(router, logger)

	group := router.Group("/api")
	group.GET("/params", a.getParams)
	group.PUT("/params", a.putParams)
	group.GET("/stats", a.getStats)
	group.GET("/presets", a.listPresets)
	group.POST("/presets/:name", a.applyPreset)
	group.PUT("/presets/:name", a.savePreset)
	group.GET("/reports", a.listReports)
	group.GET("/reports/:id", a.getReport)

	return router
}

// mountConsole serves the embedded control page at / and /console.
func mountConsole(router *gin.Engine, logger *zap.Logger) {
	indexHTML, err := webassets.Index()
	if err != nil {
		logger.Warn("missing embedded console page", zap.Error(err))
		return
	}
	root := http.FS(webassets.Console())
	router.StaticFS("/console", root)
	router.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
	})
	router.StaticFileFS("/console.js", "console.js", root)
}

func (a *api) getParams(c *gin.Context) {
	params, revision := a.effect.Params()
	c.JSON(http.StatusOK, paramsResponse{Revision: revision, Params: params})
}

func (a *api) putParams(c *gin.Context) {
	var patch denoise.ParamsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if patch.Empty() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no params given"})
		return
	}
	params, revision := a.effect.UpdateParams(patch)
	c.JSON(http.StatusOK, paramsResponse{Revision: revision, Params: params})
}

func (a *api) getStats(c *gin.Context) {
	sessions := a.stream.Sessions()
	_, revision := a.effect.Params()
	c.JSON(http.StatusOK, gin.H{
		"revision": revision,
		"count":    len(sessions),
		"sessions": sessions,
	})
}

func (a *api) listPresets(c *gin.Context) {
	presets, err := appconfig.ScanPresets(a.cfg.PresetsDir)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"presets": presets})
}

func (a *api) applyPreset(c *gin.Context) {
	preset, err := appconfig.FindPreset(a.cfg.PresetsDir, c.Param("name"))
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, appconfig.ErrPresetNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	params, err := preset.Params()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	params, revision := a.effect.SetParams(params)
	a.logger.Info("preset applied", zap.String("preset", preset.Name), zap.Uint64("revision", revision))
	c.JSON(http.StatusOK, gin.H{"preset": preset.Name, "revision": revision, "params": params})
}

func (a *api) savePreset(c *gin.Context) {
	var req savePresetRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	params, _ := a.effect.Params()
	path, err := appconfig.SavePreset(a.cfg.PresetsDir, c.Param("name"), req.Description, params)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a.logger.Info("preset saved", zap.String("path", path))
	c.JSON(http.StatusCreated, gin.H{"preset": c.Param("name"), "params": params})
}

func (a *api) listReports(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"reports": storage.ListReports(a.cfg.ReportsDir)})
}

func (a *api) getReport(c *gin.Context) {
	report, err := storage.ReadReport(a.cfg.ReportsDir, c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, report)
	case errors.Is(err, os.ErrNotExist):
		c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("query", c.Request.URL.RawQuery),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("status", c.Writer.Status()),
			zap.Int("bytes", c.Writer.Size()),
			zap.Duration("latency", latency),
		)
	}
}
