package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorType 错误类型
type ErrorType int

const (
	// 输入校验错误，只在行内标记，不中断流程
	ErrorTypeValidation ErrorType = iota

	// 运行前置条件错误，阻止运行开始
	ErrorTypePrecondition

	// 单个接收方的提交错误，记录为failed后继续
	ErrorTypeSubmission

	// 运行级意外错误，重置运行状态
	ErrorTypeRun

	// 支撑组件错误
	ErrorTypeNetwork
	ErrorTypeTimeout
	ErrorTypeConfig
	ErrorTypeOutput
	ErrorTypeStorage
)

// ErrorSeverity 错误严重级别
type ErrorSeverity int

const (
	SeverityLow ErrorSeverity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// 错误码
const (
	CodeInvalidAddress      = "INVALID_ADDRESS"
	CodeBlankField          = "BLANK_FIELD"
	CodeRecipientNotFound   = "RECIPIENT_NOT_FOUND"
	CodeUnknownField        = "UNKNOWN_FIELD"
	CodeRecipientProcessing = "RECIPIENT_PROCESSING"
	CodeInvalidTransition   = "INVALID_STATUS_TRANSITION"
	CodeInvalidSettings     = "INVALID_SETTINGS"

	CodeNoSigner            = "NO_SIGNER"
	CodeNoValidRecipients   = "NO_VALID_RECIPIENTS"
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodeRunInProgress       = "RUN_IN_PROGRESS"

	CodeUserRejected      = "USER_REJECTED"
	CodeInsufficientFunds = "INSUFFICIENT_FUNDS"
	CodeRPCFailure        = "RPC_FAILURE"
	CodeInvalidCallData   = "INVALID_CALL_DATA"
	CodeInvalidAmount     = "INVALID_AMOUNT"
	CodeRecipientRemoved  = "RECIPIENT_REMOVED"
	CodeSubmissionFailed  = "SUBMISSION_FAILED"

	CodeRunFailed = "RUN_FAILED"
)

// AirdropError 自定义错误类型
type AirdropError struct {
	Type        ErrorType              `json:"type"`
	Severity    ErrorSeverity          `json:"severity"`
	Code        string                 `json:"code"`
	Message     string                 `json:"message"`
	Details     interface{}            `json:"details,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Cause       error                  `json:"-"`
	Retryable   bool                   `json:"retryable"`
	Component   string                 `json:"component"`
	RecipientID string                 `json:"recipient_id,omitempty"`
	TxHash      string                 `json:"tx_hash,omitempty"`
}

// Error 实现error接口
func (e *AirdropError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 支持errors.Unwrap
func (e *AirdropError) Unwrap() error {
	return e.Cause
}

// Is 按错误码比较，预定义错误可直接用于errors.Is
func (e *AirdropError) Is(target error) bool {
	t, ok := target.(*AirdropError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// IsRetryable 判断是否可重试
func (e *AirdropError) IsRetryable() bool {
	return e.Retryable
}

// WithContext 添加上下文信息
func (e *AirdropError) WithContext(key string, value interface{}) *AirdropError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithComponent 设置组件名
func (e *AirdropError) WithComponent(component string) *AirdropError {
	e.Component = component
	return e
}

// WithRecipient 关联接收方
func (e *AirdropError) WithRecipient(id string) *AirdropError {
	e.RecipientID = id
	return e
}

// WithTxHash 添加交易哈希
func (e *AirdropError) WithTxHash(txHash string) *AirdropError {
	e.TxHash = txHash
	return e
}

// NewAirdropError 创建新的错误
func NewAirdropError(errorType ErrorType, severity ErrorSeverity, code, message string) *AirdropError {
	return &AirdropError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: determineRetryable(errorType),
	}
}

// WrapError 包装现有错误
func WrapError(err error, errorType ErrorType, severity ErrorSeverity, code, message string) *AirdropError {
	e := NewAirdropError(errorType, severity, code, message)
	e.Cause = err
	return e
}

// determineRetryable 只有只读的网络调用可重试，提交不重试
func determineRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeTimeout:
		return true
	default:
		return false
	}
}

// As 提取AirdropError
func As(err error) (*AirdropError, bool) {
	var ae *AirdropError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// IsType 判断错误链中是否有指定类型
func IsType(err error, errorType ErrorType) bool {
	ae, ok := As(err)
	return ok && ae.Type == errorType
}

// HasCode 判断错误链中是否有指定错误码
func HasCode(err error, code string) bool {
	ae, ok := As(err)
	return ok && ae.Code == code
}

// 预定义错误，用于errors.Is比较
var (
	ErrRecipientNotFound = NewAirdropError(
		ErrorTypeValidation,
		SeverityLow,
		CodeRecipientNotFound,
		"接收方不存在",
	)

	ErrRecipientProcessing = NewAirdropError(
		ErrorTypeValidation,
		SeverityLow,
		CodeRecipientProcessing,
		"接收方正在处理中，无法删除",
	)

	ErrNoSigner = NewAirdropError(
		ErrorTypePrecondition,
		SeverityMedium,
		CodeNoSigner,
		"Please connect your wallet first",
	)

	ErrNoValidRecipients = NewAirdropError(
		ErrorTypePrecondition,
		SeverityMedium,
		CodeNoValidRecipients,
		"No valid recipients found",
	)

	ErrInsufficientBalance = NewAirdropError(
		ErrorTypePrecondition,
		SeverityMedium,
		CodeInsufficientBalance,
		"Insufficient token balance for airdrop",
	)

	ErrRunInProgress = NewAirdropError(
		ErrorTypePrecondition,
		SeverityLow,
		CodeRunInProgress,
		"空投正在进行中",
	)

	ErrRunFailed = NewAirdropError(
		ErrorTypeRun,
		SeverityHigh,
		CodeRunFailed,
		"Airdrop execution failed. Please try again.",
	)
)

// Precondition 基于预定义错误创建一个新实例，避免修改共享变量
func Precondition(base *AirdropError, format string, args ...interface{}) *AirdropError {
	e := NewAirdropError(base.Type, base.Severity, base.Code, base.Message)
	if format != "" {
		e.Details = fmt.Sprintf(format, args...)
	}
	return e.WithComponent("airdrop")
}

// ClassifySubmitError 将签名器返回的错误归类为提交错误
func ClassifySubmitError(err error) *AirdropError {
	if err == nil {
		return nil
	}
	if ae, ok := As(err); ok && ae.Type == ErrorTypeSubmission {
		return ae
	}

	msg := strings.ToLower(err.Error())
	var code, message string
	switch {
	case strings.Contains(msg, "user rejected") || strings.Contains(msg, "user denied") ||
		strings.Contains(msg, "rejected the request"):
		code, message = CodeUserRejected, "用户拒绝签名"
	case strings.Contains(msg, "insufficient funds") || strings.Contains(msg, "gas required exceeds") ||
		strings.Contains(msg, "intrinsic gas too low"):
		code, message = CodeInsufficientFunds, "gas不足"
	case strings.Contains(msg, "execution reverted") || strings.Contains(msg, "invalid opcode") ||
		strings.Contains(msg, "abi:"):
		code, message = CodeInvalidCallData, "合约调用失败"
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "connection") ||
		strings.Contains(msg, "eof") || strings.Contains(msg, "429") ||
		strings.Contains(msg, "too many requests") || strings.Contains(msg, "deadline exceeded"):
		code, message = CodeRPCFailure, "RPC请求失败"
	default:
		code, message = CodeSubmissionFailed, "交易提交失败"
	}
	return WrapError(err, ErrorTypeSubmission, SeverityMedium, code, message).WithComponent("signer")
}

// 错误类型字符串映射
var errorTypeNames = map[ErrorType]string{
	ErrorTypeValidation:   "Validation",
	ErrorTypePrecondition: "Precondition",
	ErrorTypeSubmission:   "Submission",
	ErrorTypeRun:          "Run",
	ErrorTypeNetwork:      "Network",
	ErrorTypeTimeout:      "Timeout",
	ErrorTypeConfig:       "Config",
	ErrorTypeOutput:       "Output",
	ErrorTypeStorage:      "Storage",
}

// String 返回错误类型的字符串表示
func (et ErrorType) String() string {
	if name, exists := errorTypeNames[et]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", et)
}

// MarshalText 以名称形式输出到JSON
func (et ErrorType) MarshalText() ([]byte, error) {
	return []byte(et.String()), nil
}

// 严重级别字符串映射
var severityNames = map[ErrorSeverity]string{
	SeverityLow:      "Low",
	SeverityMedium:   "Medium",
	SeverityHigh:     "High",
	SeverityCritical: "Critical",
}

// String 返回严重级别的字符串表示
func (es ErrorSeverity) String() string {
	if name, exists := severityNames[es]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", es)
}

// MarshalText 以名称形式输出到JSON
func (es ErrorSeverity) MarshalText() ([]byte, error) {
	return []byte(es.String()), nil
}

// ErrorStats 错误统计
type ErrorStats struct {
	TotalErrors      int                   `json:"total_errors"`
	ErrorsByType     map[ErrorType]int     `json:"errors_by_type"`
	ErrorsBySeverity map[ErrorSeverity]int `json:"errors_by_severity"`
	ErrorsByCode     map[string]int        `json:"errors_by_code"`
	RecentErrors     []*AirdropError       `json:"recent_errors"`
	LastError        *AirdropError         `json:"last_error"`
	LastErrorTime    time.Time             `json:"last_error_time"`
	maxRecent        int
}

// NewErrorStats 创建错误统计
func NewErrorStats() *ErrorStats {
	return &ErrorStats{
		ErrorsByType:     make(map[ErrorType]int),
		ErrorsBySeverity: make(map[ErrorSeverity]int),
		ErrorsByCode:     make(map[string]int),
		RecentErrors:     make([]*AirdropError, 0),
		maxRecent:        100,
	}
}

// RecordError 记录错误
func (es *ErrorStats) RecordError(err *AirdropError) {
	es.TotalErrors++
	es.ErrorsByType[err.Type]++
	es.ErrorsBySeverity[err.Severity]++
	es.ErrorsByCode[err.Code]++

	es.LastError = err
	es.LastErrorTime = err.Timestamp

	es.RecentErrors = append(es.RecentErrors, err)
	if len(es.RecentErrors) > es.maxRecent {
		es.RecentErrors = es.RecentErrors[1:]
	}
}

// GetErrorRate 获取错误率（错误/小时）
func (es *ErrorStats) GetErrorRate(duration time.Duration) float64 {
	if duration <= 0 {
		return 0
	}

	cutoff := time.Now().Add(-duration)
	recentCount := 0
	for _, err := range es.RecentErrors {
		if err.Timestamp.After(cutoff) {
			recentCount++
		}
	}

	return float64(recentCount) / duration.Hours()
}

// Copy 返回快照
func (es *ErrorStats) Copy() *ErrorStats {
	cp := NewErrorStats()
	cp.TotalErrors = es.TotalErrors
	for k, v := range es.ErrorsByType {
		cp.ErrorsByType[k] = v
	}
	for k, v := range es.ErrorsBySeverity {
		cp.ErrorsBySeverity[k] = v
	}
	for k, v := range es.ErrorsByCode {
		cp.ErrorsByCode[k] = v
	}
	cp.RecentErrors = append(cp.RecentErrors, es.RecentErrors...)
	cp.LastError = es.LastError
	cp.LastErrorTime = es.LastErrorTime
	return cp
}
