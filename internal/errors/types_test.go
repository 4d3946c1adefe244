package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAirdropError(t *testing.T) {
	err := NewAirdropError(ErrorTypeNetwork, SeverityHigh, "TEST_ERROR", "测试错误")

	assert.NotNil(t, err)
	assert.Equal(t, ErrorTypeNetwork, err.Type)
	assert.Equal(t, SeverityHigh, err.Severity)
	assert.Equal(t, "TEST_ERROR", err.Code)
	assert.Equal(t, "测试错误", err.Message)
	assert.True(t, err.Retryable) // 网络错误默认可重试
	assert.False(t, err.Timestamp.IsZero())
}

func TestWrapError(t *testing.T) {
	originalErr := errors.New("原始错误")
	wrappedErr := WrapError(originalErr, ErrorTypeRun, SeverityMedium, "WRAPPED_ERROR", "包装错误")

	assert.Equal(t, ErrorTypeRun, wrappedErr.Type)
	assert.Equal(t, originalErr, wrappedErr.Cause)
	assert.Equal(t, originalErr, wrappedErr.Unwrap())
	assert.Equal(t, "[WRAPPED_ERROR] 包装错误: 原始错误", wrappedErr.Error())

	standalone := NewAirdropError(ErrorTypeValidation, SeverityLow, "STANDALONE", "独立错误")
	assert.Equal(t, "[STANDALONE] 独立错误", standalone.Error())
	assert.Nil(t, standalone.Unwrap())
}

func TestAirdropError_Builders(t *testing.T) {
	err := NewAirdropError(ErrorTypeSubmission, SeverityMedium, CodeRPCFailure, "RPC请求失败").
		WithComponent("signer").
		WithRecipient("r-1").
		WithTxHash("0xabc").
		WithContext("attempt", 1)

	assert.Equal(t, "signer", err.Component)
	assert.Equal(t, "r-1", err.RecipientID)
	assert.Equal(t, "0xabc", err.TxHash)
	assert.Equal(t, 1, err.Context["attempt"])
}

func TestErrorsIsByCode(t *testing.T) {
	err := Precondition(ErrInsufficientBalance, "balance %s < %s", "5", "10")
	wrapped := fmt.Errorf("preflight: %w", err)

	assert.True(t, errors.Is(wrapped, ErrInsufficientBalance))
	assert.False(t, errors.Is(wrapped, ErrNoSigner))
	assert.True(t, IsType(wrapped, ErrorTypePrecondition))
	assert.True(t, HasCode(wrapped, CodeInsufficientBalance))
	assert.Equal(t, "balance 5 < 10", err.Details)

	// 不修改共享的预定义错误
	assert.Nil(t, ErrInsufficientBalance.Details)
}

func TestDetermineRetryable(t *testing.T) {
	tests := []struct {
		errorType ErrorType
		expected  bool
	}{
		{ErrorTypeNetwork, true},
		{ErrorTypeTimeout, true},
		{ErrorTypeSubmission, false}, // 提交永不重试
		{ErrorTypePrecondition, false},
		{ErrorTypeValidation, false},
		{ErrorTypeConfig, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, determineRetryable(tt.errorType), "errorType=%v", tt.errorType)
	}
}

func TestClassifySubmitError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"用户拒绝", errors.New("User rejected the request."), CodeUserRejected},
		{"余额不足", errors.New("insufficient funds for gas * price + value"), CodeInsufficientFunds},
		{"合约回滚", errors.New("execution reverted: ERC20: transfer amount exceeds balance"), CodeInvalidCallData},
		{"连接失败", errors.New("dial tcp: connection refused"), CodeRPCFailure},
		{"限流", errors.New("429 Too Many Requests"), CodeRPCFailure},
		{"其他", errors.New("something odd"), CodeSubmissionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ae := ClassifySubmitError(tt.err)
			require.NotNil(t, ae)
			assert.Equal(t, ErrorTypeSubmission, ae.Type)
			assert.Equal(t, tt.code, ae.Code)
			assert.False(t, ae.Retryable)
			assert.ErrorIs(t, ae, tt.err)
		})
	}

	assert.Nil(t, ClassifySubmitError(nil))

	already := NewAirdropError(ErrorTypeSubmission, SeverityMedium, CodeInvalidAmount, "金额无效")
	assert.Same(t, already, ClassifySubmitError(already))
}

func TestErrorType_String(t *testing.T) {
	tests := []struct {
		errorType ErrorType
		expected  string
	}{
		{ErrorTypeValidation, "Validation"},
		{ErrorTypePrecondition, "Precondition"},
		{ErrorTypeSubmission, "Submission"},
		{ErrorTypeRun, "Run"},
		{ErrorTypeNetwork, "Network"},
		{ErrorType(999), "Unknown(999)"}, // 未知类型
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.errorType.String())
	}
}

func TestErrorSeverity_String(t *testing.T) {
	assert.Equal(t, "Low", SeverityLow.String())
	assert.Equal(t, "Critical", SeverityCritical.String())
	assert.Equal(t, "Unknown(999)", ErrorSeverity(999).String())
}

func TestErrorStats_RecordError(t *testing.T) {
	stats := NewErrorStats()

	err1 := NewAirdropError(ErrorTypeSubmission, SeverityMedium, CodeUserRejected, "用户拒绝签名")
	err2 := NewAirdropError(ErrorTypeSubmission, SeverityMedium, CodeRPCFailure, "RPC请求失败")
	err3 := NewAirdropError(ErrorTypePrecondition, SeverityLow, CodeNoSigner, "未连接钱包")

	stats.RecordError(err1)
	stats.RecordError(err2)
	stats.RecordError(err3)

	assert.Equal(t, 3, stats.TotalErrors)
	assert.Equal(t, 2, stats.ErrorsByType[ErrorTypeSubmission])
	assert.Equal(t, 1, stats.ErrorsByType[ErrorTypePrecondition])
	assert.Equal(t, 2, stats.ErrorsBySeverity[SeverityMedium])
	assert.Equal(t, 1, stats.ErrorsByCode[CodeNoSigner])
	assert.Equal(t, err3, stats.LastError)
	assert.Len(t, stats.RecentErrors, 3)
}

func TestErrorStats_RecentErrorsLimit(t *testing.T) {
	stats := NewErrorStats()

	for i := 0; i < 150; i++ {
		stats.RecordError(NewAirdropError(ErrorTypeNetwork, SeverityLow, "TEST_ERROR", "测试错误"))
	}

	assert.Equal(t, 150, stats.TotalErrors)
	assert.Len(t, stats.RecentErrors, 100) // 应该限制在100个
}

func TestErrorStats_GetErrorRate(t *testing.T) {
	stats := NewErrorStats()
	now := time.Now()

	// 过去1小时内每5分钟一个错误
	for i := 0; i < 10; i++ {
		err := NewAirdropError(ErrorTypeNetwork, SeverityLow, "TEST_ERROR", "测试错误")
		err.Timestamp = now.Add(-time.Duration(i*5) * time.Minute)
		stats.RecentErrors = append(stats.RecentErrors, err)
	}
	// 超过1小时的错误
	for i := 0; i < 5; i++ {
		err := NewAirdropError(ErrorTypeNetwork, SeverityLow, "OLD_ERROR", "旧错误")
		err.Timestamp = now.Add(-time.Duration(70+i*10) * time.Minute)
		stats.RecentErrors = append(stats.RecentErrors, err)
	}

	assert.Equal(t, 10.0, stats.GetErrorRate(time.Hour))
	assert.Equal(t, 0.0, stats.GetErrorRate(0))
	assert.Equal(t, 12.0, stats.GetErrorRate(30*time.Minute))
}

func TestErrorHandler_HandleError(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	eh := NewErrorHandler(logger)

	var seen []*AirdropError
	eh.AddCallback(func(err *AirdropError) {
		seen = append(seen, err)
	})
	eh.AddCallback(func(err *AirdropError) {
		panic("回调异常")
	})

	ae := eh.HandleError(context.Background(), errors.New("plain"))
	require.NotNil(t, ae)
	assert.Equal(t, ErrorTypeRun, ae.Type)
	assert.Equal(t, "UNKNOWN_ERROR", ae.Code)

	submit := ClassifySubmitError(errors.New("user rejected"))
	assert.Same(t, submit, eh.HandleError(context.Background(), submit))

	stats := eh.GetStats()
	assert.Equal(t, 2, stats.TotalErrors)
	assert.Equal(t, 1, stats.ErrorsByType[ErrorTypeSubmission])
	assert.Len(t, seen, 2)

	assert.Nil(t, eh.HandleError(context.Background(), nil))

	eh.ClearStats()
	assert.Equal(t, 0, eh.GetStats().TotalErrors)
}

func TestPredefinedErrors(t *testing.T) {
	assert.Equal(t, ErrorTypePrecondition, ErrNoSigner.Type)
	assert.Equal(t, CodeNoSigner, ErrNoSigner.Code)
	assert.Equal(t, ErrorTypePrecondition, ErrNoValidRecipients.Type)
	assert.Equal(t, ErrorTypePrecondition, ErrInsufficientBalance.Type)
	assert.Equal(t, ErrorTypeRun, ErrRunFailed.Type)
	assert.False(t, ErrRunFailed.Retryable)
}

func BenchmarkErrorStats_RecordError(b *testing.B) {
	stats := NewErrorStats()
	err := NewAirdropError(ErrorTypeNetwork, SeverityMedium, "BENCH_ERROR", "基准测试错误")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		stats.RecordError(err)
	}
}
