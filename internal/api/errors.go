package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "airdrop/internal/errors"
)

// statusFor 错误码到HTTP状态码
func statusFor(ae *apperrors.AirdropError) int {
	switch ae.Code {
	case apperrors.CodeRecipientNotFound:
		return http.StatusNotFound
	case apperrors.CodeRecipientProcessing, apperrors.CodeRunInProgress:
		return http.StatusConflict
	case apperrors.CodeNoSigner, apperrors.CodeNoValidRecipients, apperrors.CodeInsufficientBalance:
		return http.StatusPreconditionFailed
	}
	switch ae.Type {
	case apperrors.ErrorTypeValidation:
		return http.StatusBadRequest
	case apperrors.ErrorTypeNetwork, apperrors.ErrorTypeTimeout:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError 非AirdropError按fallback状态码返回
func writeError(c *gin.Context, err error, fallback int) {
	ae, ok := apperrors.As(err)
	if !ok {
		c.JSON(fallback, gin.H{"error": err.Error()})
		return
	}

	body := gin.H{
		"error": ae.Message,
		"code":  ae.Code,
	}
	if ae.Details != nil {
		body["details"] = ae.Details
	}
	if ae.Cause != nil {
		body["cause"] = ae.Cause.Error()
	}
	c.JSON(statusFor(ae), body)
}
