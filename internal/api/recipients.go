package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "airdrop/internal/errors"
	"airdrop/internal/recipients"
	"airdrop/internal/stats"
)

// 导入文件大小上限
const maxImportBytes = 5 << 20

var errImportTooLarge = errors.New("导入文件超过5MB")

// listRecipients 列表和统计
func (s *Server) listRecipients(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"recipients": s.app.List.Snapshot(),
		"stats":      s.app.Stats(c.Request.Context()),
	})
}

func (s *Server) addRecipient(c *gin.Context) {
	var req struct {
		Address string `json:"address"`
		Amount  string `json:"amount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry, ok := s.app.List.Add(req.Address, req.Amount)
	if !ok {
		writeError(c, apperrors.NewAirdropError(apperrors.ErrorTypeValidation, apperrors.SeverityLow,
			apperrors.CodeBlankField, "地址和金额都不能为空"), http.StatusBadRequest)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (s *Server) updateRecipient(c *gin.Context) {
	var req struct {
		Field string `json:"field" binding:"required"`
		Value string `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry, err := s.app.List.Update(c.Param("id"), req.Field, req.Value)
	if err != nil {
		writeError(c, err, http.StatusBadRequest)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// removeRecipient 处理中的接收方返回409
func (s *Server) removeRecipient(c *gin.Context) {
	if err := s.app.List.Remove(c.Param("id")); err != nil {
		writeError(c, err, http.StatusBadRequest)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "已删除"})
}

func (s *Server) clearRecipients(c *gin.Context) {
	if s.app.Executor.Running() {
		writeError(c, apperrors.Precondition(apperrors.ErrRunInProgress, ""), http.StatusConflict)
		return
	}
	if err := s.app.List.Clear(); err != nil {
		writeError(c, err, http.StatusConflict)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "列表已清空"})
}

// importRecipients 接受请求体文本或multipart的file字段，模板表头会被去掉
func (s *Server) importRecipients(c *gin.Context) {
	text, err := s.readImport(c)
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.Is(err, errImportTooLarge) || errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	entries := s.app.List.Import(recipients.StripHeader(text))
	c.JSON(http.StatusCreated, gin.H{
		"imported":   len(entries),
		"valid":      stats.ValidCount(entries),
		"recipients": entries,
	})
}

func (s *Server) readImport(c *gin.Context) (string, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		header, err := c.FormFile("file")
		if err != nil {
			return "", err
		}
		f, err := header.Open()
		if err != nil {
			return "", err
		}
		defer f.Close()
		// 多读一个字节判断是否超限，超限时整体拒绝，避免截断到半行
		data, err := io.ReadAll(io.LimitReader(f, maxImportBytes+1))
		if err != nil {
			return "", err
		}
		if len(data) > maxImportBytes {
			return "", errImportTooLarge
		}
		return string(data), nil
	}

	data, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxImportBytes))
	return string(data), err
}

func (s *Server) downloadTemplate(c *gin.Context) {
	c.Header("Content-Disposition", `attachment; filename="airdrop_template.csv"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", []byte(recipients.Template()))
}
