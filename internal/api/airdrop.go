package api

import (
	"encoding/csv"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "airdrop/internal/errors"
	"airdrop/pkg/models"
)

func (s *Server) getSettings(c *gin.Context) {
	c.JSON(http.StatusOK, s.app.Settings.Get())
}

// updateSettings 校验失败时设置保持不变
func (s *Server) updateSettings(c *gin.Context) {
	var req models.AirdropSettings
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	settings, err := s.app.Settings.Set(req)
	if err != nil {
		writeError(c, err, http.StatusBadRequest)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (s *Server) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.app.Stats(c.Request.Context()))
}

func (s *Server) getWallet(c *gin.Context) {
	c.JSON(http.StatusOK, s.app.Session(c.Request.Context()))
}

func (s *Server) connectWallet(c *gin.Context) {
	var req struct {
		PrivateKey string `json:"private_key" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.app.Connect(c.Request.Context(), req.PrivateKey); err != nil {
		writeError(c, err, http.StatusBadRequest)
		return
	}
	c.JSON(http.StatusOK, s.app.Session(c.Request.Context()))
}

// disconnectWallet 运行中不允许断开
func (s *Server) disconnectWallet(c *gin.Context) {
	if s.app.Executor.Running() {
		writeError(c, apperrors.Precondition(apperrors.ErrRunInProgress, ""), http.StatusConflict)
		return
	}
	s.app.Disconnect()
	c.JSON(http.StatusOK, s.app.Session(c.Request.Context()))
}

func (s *Server) getBalance(c *gin.Context) {
	if !s.app.Signer.Connected() {
		writeError(c, apperrors.Precondition(apperrors.ErrNoSigner, ""), http.StatusPreconditionFailed)
		return
	}
	balance, err := s.app.Reader.Balance(c.Request.Context())
	if err != nil {
		writeError(c, err, http.StatusBadGateway)
		return
	}
	c.JSON(http.StatusOK, balance)
}

func (s *Server) refreshBalance(c *gin.Context) {
	if !s.app.Signer.Connected() {
		writeError(c, apperrors.Precondition(apperrors.ErrNoSigner, ""), http.StatusPreconditionFailed)
		return
	}
	s.app.Reader.Refetch(c.Request.Context())
	balance, updatedAt := s.app.Reader.Cached()
	if balance == nil {
		err := s.app.Reader.LastError()
		if err == nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "余额不可用"})
			return
		}
		writeError(c, err, http.StatusBadGateway)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"balance":    balance,
		"updated_at": updatedAt,
	})
}

// preflight 总是返回200，未通过时message是提示横幅的文本
func (s *Server) preflight(c *gin.Context) {
	check, _ := s.app.Executor.Preflight(c.Request.Context())
	c.JSON(http.StatusOK, check)
}

// startRun 前置条件同步检查，通过后在后台运行
func (s *Server) startRun(c *gin.Context) {
	runID, err := s.app.Executor.Start(c.Request.Context())
	if err != nil {
		writeError(c, err, http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"run_id":  runID,
		"message": "空投已开始",
	})
}

func (s *Server) runStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.app.Executor.Status())
}

// getResults 终态接收方，format=csv时下载
func (s *Server) getResults(c *gin.Context) {
	views := s.app.Results()
	if c.Query("format") != "csv" {
		c.JSON(http.StatusOK, gin.H{
			"results": views,
			"total":   len(views),
		})
		return
	}

	c.Header("Content-Disposition", `attachment; filename="airdrop_results.csv"`)
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Status(http.StatusOK)

	w := csv.NewWriter(c.Writer)
	_ = w.Write([]string{"address", "amount", "status", "tx_hash", "explorer_url", "error"})
	for _, v := range views {
		_ = w.Write([]string{v.Address, v.Amount, string(v.Status), v.TxHash, v.ExplorerURL, v.Error})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		s.logger.Warnf("导出结果失败: %v", err)
	}
}

func (s *Server) listHistory(c *gin.Context) {
	if s.app.History == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "历史记录未启用"})
		return
	}

	limit := 20
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		limit = v
	}
	summaries, err := s.app.History.List(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	totals, err := s.app.History.Totals()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":   summaries,
		"totals": totals,
	})
}

func (s *Server) getHistory(c *gin.Context) {
	if s.app.History == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "历史记录未启用"})
		return
	}

	report, err := s.app.History.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if report == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "运行记录不存在"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// getNotifications 默认只返回未过期的通知，all=true返回全部
func (s *Server) getNotifications(c *gin.Context) {
	if c.Query("all") == "true" {
		c.JSON(http.StatusOK, gin.H{"notifications": s.app.Notices.All()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": s.app.Notices.Active()})
}

func (s *Server) clearNotifications(c *gin.Context) {
	s.app.Notices.Clear()
	c.JSON(http.StatusOK, gin.H{"message": "通知已清空"})
}

func (s *Server) getErrors(c *gin.Context) {
	c.JSON(http.StatusOK, s.app.Errors.GetStats())
}
