// Package api is the thin HTTP status surface: key status lookups for
// client apps and a log tail for operators. All handlers read the
// store only; provisioning stays with the bot and operator tooling.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mmvpn/warden/config"
	"github.com/mmvpn/warden/database"
	"github.com/mmvpn/warden/logger"
	"github.com/mmvpn/warden/storage"
)

type keyStatus struct {
	Id              string  `json:"uuid"`
	IsActive        bool    `json:"is_active"`
	Protocol        string  `json:"protocol"`
	DataLimitGb     float64 `json:"data_limit_gb"`
	DailyUsageBytes int64   `json:"daily_usage_bytes"`
	ExpiryDate      string  `json:"expiry_date"`
	GraceStart      string  `json:"grace_start,omitempty"`
}

// Server serves the status API.
type Server struct {
	httpServer *http.Server
	keyStore   storage.KeyStore
}

func NewServer() *Server {
	return &Server{}
}

func (s *Server) initRouter() *gin.Engine {
	if config.IsDebug() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/", s.root)
	engine.GET("/api/status/:uuid", s.keyStatus)
	engine.GET("/api/logs", s.logs)

	return engine
}

func (s *Server) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":    config.GetName(),
		"version": config.GetVersion(),
	})
}

func (s *Server) keyStatus(c *gin.Context) {
	id := c.Param("uuid")
	key, err := s.keyStore.GetKey(id)
	if err != nil {
		if database.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"detail": "key not found"})
			return
		}
		logger.Warning("status lookup failed:", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "lookup failed"})
		return
	}

	usage, err := s.keyStore.GetDailyUsage(id, storage.Day(time.Now()))
	if err != nil {
		logger.Warning("usage lookup failed:", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "lookup failed"})
		return
	}

	status := keyStatus{
		Id:              key.Id,
		IsActive:        key.Enable,
		Protocol:        string(key.Protocol),
		DataLimitGb:     key.DataLimitGb,
		DailyUsageBytes: usage,
		ExpiryDate:      key.ExpiryDate.Format(time.RFC3339),
	}
	if key.GraceStart != nil {
		status.GraceStart = key.GraceStart.Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) logs(c *gin.Context) {
	count, err := strconv.Atoi(c.DefaultQuery("count", "50"))
	if err != nil || count < 1 {
		count = 50
	}
	level := c.DefaultQuery("level", "INFO")
	c.JSON(http.StatusOK, logger.GetLogs(count, level))
}

func (s *Server) Start() error {
	engine := s.initRouter()
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", config.GetHTTPPort()),
		Handler: engine,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("api server failed:", err)
		}
	}()
	logger.Infof("api server listening on %s", s.httpServer.Addr)
	return nil
}

func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
