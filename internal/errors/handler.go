package errors

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrorHandler 错误处理器
type ErrorHandler struct {
	logger *logrus.Logger
	stats  *ErrorStats
	mu     sync.RWMutex

	// 错误处理策略
	strategies map[ErrorType]ErrorStrategy

	// 错误回调
	callbacks []ErrorCallback

	// 每小时错误数阈值
	thresholds map[ErrorSeverity]int
}

// ErrorStrategy 错误处理策略
type ErrorStrategy interface {
	Handle(ctx context.Context, err *AirdropError) error
}

// ErrorCallback 错误回调函数
type ErrorCallback func(err *AirdropError)

// LoggingStrategy 日志记录策略
type LoggingStrategy struct {
	logger *logrus.Logger
}

// NewErrorHandler 创建错误处理器
func NewErrorHandler(logger *logrus.Logger) *ErrorHandler {
	if logger == nil {
		logger = logrus.New()
	}
	eh := &ErrorHandler{
		logger:     logger,
		stats:      NewErrorStats(),
		strategies: make(map[ErrorType]ErrorStrategy),
		callbacks:  make([]ErrorCallback, 0),
		thresholds: map[ErrorSeverity]int{
			SeverityLow:      200,
			SeverityMedium:   100,
			SeverityHigh:     20,
			SeverityCritical: 5,
		},
	}

	// 所有错误都记录日志，提交错误不重试
	loggingStrategy := &LoggingStrategy{logger: logger}
	for errorType := range errorTypeNames {
		eh.strategies[errorType] = loggingStrategy
	}

	return eh
}

// HandleError 处理错误，返回归一化后的AirdropError
func (eh *ErrorHandler) HandleError(ctx context.Context, err error) *AirdropError {
	if err == nil {
		return nil
	}
	ae, ok := As(err)
	if !ok {
		ae = WrapError(err, ErrorTypeRun, SeverityMedium, "UNKNOWN_ERROR", "未知错误")
	}

	eh.mu.Lock()
	eh.stats.RecordError(ae)
	eh.mu.Unlock()

	if eh.checkThreshold(ae) {
		eh.logger.Warnf("错误达到阈值限制: %s", ae.Error())
	}

	eh.executeCallbacks(ae)

	eh.mu.RLock()
	strategy, exists := eh.strategies[ae.Type]
	eh.mu.RUnlock()
	if !exists {
		strategy = &LoggingStrategy{logger: eh.logger}
	}
	_ = strategy.Handle(ctx, ae)

	return ae
}

// checkThreshold 检查每小时错误数
func (eh *ErrorHandler) checkThreshold(err *AirdropError) bool {
	eh.mu.RLock()
	defer eh.mu.RUnlock()

	limit, exists := eh.thresholds[err.Severity]
	if !exists {
		return false
	}
	return eh.stats.GetErrorRate(time.Hour) > float64(limit)
}

// executeCallbacks 依次执行回调，回调panic不影响调用方
func (eh *ErrorHandler) executeCallbacks(err *AirdropError) {
	eh.mu.RLock()
	callbacks := make([]ErrorCallback, len(eh.callbacks))
	copy(callbacks, eh.callbacks)
	eh.mu.RUnlock()

	for _, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					eh.logger.Errorf("错误回调执行时发生panic: %v", r)
				}
			}()
			cb(err)
		}()
	}
}

// Handle 根据严重级别选择日志级别
func (ls *LoggingStrategy) Handle(ctx context.Context, err *AirdropError) error {
	logEntry := ls.logger.WithFields(logrus.Fields{
		"error_type":   err.Type.String(),
		"error_code":   err.Code,
		"component":    err.Component,
		"recipient_id": err.RecipientID,
		"tx_hash":      err.TxHash,
	})
	if err.Cause != nil {
		logEntry = logEntry.WithError(err.Cause)
	}

	switch err.Severity {
	case SeverityLow:
		logEntry.Debug(err.Message)
	case SeverityMedium:
		logEntry.Warn(err.Message)
	default:
		// Critical也只记录Error，应用在任何错误后都保持可用
		logEntry.Error(err.Message)
	}

	return err
}

// AddCallback 添加错误回调
func (eh *ErrorHandler) AddCallback(callback ErrorCallback) {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.callbacks = append(eh.callbacks, callback)
}

// GetStats 获取错误统计快照
func (eh *ErrorHandler) GetStats() *ErrorStats {
	eh.mu.RLock()
	defer eh.mu.RUnlock()
	return eh.stats.Copy()
}

// ClearStats 清除统计信息
func (eh *ErrorHandler) ClearStats() {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.stats = NewErrorStats()
}
