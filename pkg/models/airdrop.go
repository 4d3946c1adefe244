package models

import (
	"encoding/json"
	"time"
)

// AirdropSettings 代币设置
type AirdropSettings struct {
	TokenAddress  string `json:"token_address" mapstructure:"token_address"`
	TokenSymbol   string `json:"token_symbol" mapstructure:"token_symbol"`
	TokenDecimals int    `json:"token_decimals" mapstructure:"token_decimals"`
	TotalAmount   string `json:"total_amount" mapstructure:"total_amount"`
	GasPrice      string `json:"gas_price" mapstructure:"gas_price"` // gwei
}

// AirdropStats 由接收方列表派生的统计，不单独存储
type AirdropStats struct {
	TotalRecipients     int      `json:"total_recipients"`
	ValidRecipients     int      `json:"valid_recipients"`
	TotalAmount         string   `json:"total_amount"`
	CompletedTransfers  int      `json:"completed_transfers"`
	FailedTransfers     int      `json:"failed_transfers"`
	PendingTransfers    int      `json:"pending_transfers"`
	EstimatedGas        string   `json:"estimated_gas"`
	Balance             string   `json:"balance"`
	InsufficientBalance bool     `json:"insufficient_balance"`
	SuccessRate         *float64 `json:"success_rate,omitempty"`
}

// Progress 运行进度，Completed/Total
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// Fraction 进度比例，Total为0时返回0
func (p Progress) Fraction() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Completed) / float64(p.Total)
}

// TransferOutcome 单个接收方的结果类型
type TransferOutcome string

const (
	OutcomeSuccess TransferOutcome = "success"
	OutcomeFailure TransferOutcome = "failure"
)

// TransferResult 单笔转账结果: success(txHash) | failure(reason)
type TransferResult struct {
	RunID       string          `json:"run_id"`
	Index       int             `json:"index"`
	RecipientID string          `json:"recipient_id"`
	Address     string          `json:"address"`
	Amount      string          `json:"amount"`
	Outcome     TransferOutcome `json:"outcome"`
	TxHash      string          `json:"tx_hash,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	ErrorCode   string          `json:"error_code,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
}

// Succeeded 是否成功
func (r *TransferResult) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}

// ToKafkaMessage 转换为Kafka消息
func (r *TransferResult) ToKafkaMessage() ([]byte, error) {
	return json.Marshal(r)
}

// RunReport 一次运行的汇总报告
type RunReport struct {
	ID            string            `json:"id"`
	StartedAt     time.Time         `json:"started_at"`
	FinishedAt    time.Time         `json:"finished_at"`
	TokenAddress  string            `json:"token_address"`
	TokenSymbol   string            `json:"token_symbol"`
	Total         int               `json:"total"`
	Succeeded     int               `json:"succeeded"`
	Failed        int               `json:"failed"`
	Results       []*TransferResult `json:"results"`
	BalanceBefore string            `json:"balance_before,omitempty"`
	BalanceAfter  string            `json:"balance_after,omitempty"`
	Error         string            `json:"error,omitempty"`
}

// Add 追加结果并更新计数
func (r *RunReport) Add(result *TransferResult) {
	r.Results = append(r.Results, result)
	if result.Succeeded() {
		r.Succeeded++
	} else {
		r.Failed++
	}
}

// SuccessRate 成功率，无终态结果时返回false
func (r *RunReport) SuccessRate() (float64, bool) {
	done := r.Succeeded + r.Failed
	if done == 0 {
		return 0, false
	}
	return float64(r.Succeeded) / float64(done), true
}

// Duration 运行耗时
func (r *RunReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// ToKafkaMessage 转换为Kafka消息
func (r *RunReport) ToKafkaMessage() ([]byte, error) {
	return json.Marshal(r)
}
