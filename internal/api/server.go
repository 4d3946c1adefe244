package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"airdrop/internal/app"
)

// Server API服务器
type Server struct {
	app        *app.App
	logger     *logrus.Logger
	logManager *LogManager
	server     *http.Server
	port       int
	origins    []string

	once    sync.Once
	handler http.Handler
}

// NewServer 创建API服务器，logger的输出同时进入内存日志
func NewServer(a *app.App, logger *logrus.Logger, port int) *Server {
	logBuffer := 1000
	var origins []string
	if a.Config.API != nil {
		if a.Config.API.LogBuffer > 0 {
			logBuffer = a.Config.API.LogBuffer
		}
		origins = a.Config.API.AllowOrigins
	}

	logManager := NewLogManager(logBuffer)
	logger.AddHook(NewLogHook(logManager))

	return &Server{
		app:        a,
		logger:     logger,
		logManager: logManager,
		port:       port,
		origins:    origins,
	}
}

// Handler 路由，首次调用时构建
func (s *Server) Handler() http.Handler {
	s.once.Do(func() {
		router := gin.New()
		router.Use(s.cors())
		router.Use(gin.Logger())
		router.Use(gin.Recovery())
		router.Use(s.app.Metrics.GinMiddleware())
		s.setupRoutes(router)
		s.handler = router
	})
	return s.handler
}

// Start 启动API服务器，阻塞直到Stop
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("API服务器启动在端口 %d", s.port)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop 停止接受新请求，空投运行不受影响
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// cors 允许的来源来自配置，包含*时允许所有来源
func (s *Server) cors() gin.HandlerFunc {
	allowAll := len(s.origins) == 0
	allowed := make(map[string]bool, len(s.origins))
	for _, o := range s.origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case allowAll:
			c.Header("Access-Control-Allow-Origin", "*")
		case origin != "" && allowed[origin]:
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// setupRoutes 设置路由
func (s *Server) setupRoutes(router *gin.Engine) {
	router.GET("/health", s.healthCheck)
	router.GET("/metrics", gin.WrapH(s.app.Metrics.Handler()))

	api := router.Group("/api/v1")
	{
		// 接收方列表
		api.GET("/recipients", s.listRecipients)
		api.POST("/recipients", s.addRecipient)
		api.PATCH("/recipients/:id", s.updateRecipient)
		api.DELETE("/recipients/:id", s.removeRecipient)
		api.DELETE("/recipients", s.clearRecipients)
		api.POST("/recipients/import", s.importRecipients)
		api.GET("/recipients/template", s.downloadTemplate)

		// 设置和统计
		api.GET("/settings", s.getSettings)
		api.PUT("/settings", s.updateSettings)
		api.GET("/stats", s.getStats)

		// 钱包和余额
		api.GET("/wallet", s.getWallet)
		api.POST("/wallet/connect", s.connectWallet)
		api.POST("/wallet/disconnect", s.disconnectWallet)
		api.GET("/balance", s.getBalance)
		api.POST("/balance/refresh", s.refreshBalance)
		api.GET("/nodes", s.getNodes)

		// 空投
		api.GET("/airdrop/preflight", s.preflight)
		api.POST("/airdrop/run", s.startRun)
		api.GET("/airdrop/status", s.runStatus)
		api.GET("/results", s.getResults)
		api.GET("/history", s.listHistory)
		api.GET("/history/:id", s.getHistory)

		// 通知、错误和日志
		api.GET("/notifications", s.getNotifications)
		api.DELETE("/notifications", s.clearNotifications)
		api.GET("/errors", s.getErrors)
		api.GET("/logs", s.getLogs)
		api.DELETE("/logs", s.clearLogs)
	}
}

// healthCheck 健康检查
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"service":   "airdrop-api",
		"running":   s.app.Executor.Running(),
	})
}

// getNodes RPC节点状态
func (s *Server) getNodes(c *gin.Context) {
	nodes := s.app.Pool.GetStats()
	c.JSON(http.StatusOK, gin.H{
		"nodes": nodes,
		"total": len(nodes),
	})
}
