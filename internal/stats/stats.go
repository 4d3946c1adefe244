package stats

import (
	"strings"

	"airdrop/internal/validation"
	"airdrop/pkg/models"

	"github.com/shopspring/decimal"
)

// GasPerRecipient 每个接收方的估算gas(原生代币)，只是占位估算，不来自任何gas预言机
var GasPerRecipient = decimal.RequireFromString("0.0001")

// Calculate 由接收方列表和余额计算统计，纯函数
func Calculate(entries []models.RecipientEntry, balance decimal.Decimal) models.AirdropStats {
	return CalculateWithGas(entries, balance, GasPerRecipient)
}

// CalculateWithGas 同Calculate，可指定单个接收方的gas估算
func CalculateWithGas(entries []models.RecipientEntry, balance, gasPerRecipient decimal.Decimal) models.AirdropStats {
	s := models.AirdropStats{TotalRecipients: len(entries)}

	sum := decimal.Zero
	for i := range entries {
		e := &entries[i]
		switch e.Status {
		case models.StatusSuccess:
			s.CompletedTransfers++
		case models.StatusFailed:
			s.FailedTransfers++
		case models.StatusPending:
			s.PendingTransfers++
		}
		if !e.IsValid {
			continue
		}
		s.ValidRecipients++
		sum = sum.Add(validation.AmountOrZero(e.Amount))
	}

	s.TotalAmount = sum.String()
	s.EstimatedGas = EstimateGas(s.ValidRecipients, gasPerRecipient).String()
	s.Balance = balance.String()
	s.InsufficientBalance = balance.LessThan(sum)
	if rate, ok := SuccessRate(s.CompletedTransfers, s.FailedTransfers); ok {
		s.SuccessRate = &rate
	}
	return s
}

// ValidSum 有效接收方的金额合计，无法解析或为负数的金额按0计
func ValidSum(entries []models.RecipientEntry) decimal.Decimal {
	sum := decimal.Zero
	for i := range entries {
		if entries[i].IsValid {
			sum = sum.Add(validation.AmountOrZero(entries[i].Amount))
		}
	}
	return sum
}

// ValidCount 有效接收方数量
func ValidCount(entries []models.RecipientEntry) int {
	n := 0
	for i := range entries {
		if entries[i].IsValid {
			n++
		}
	}
	return n
}

// Insufficient 余额是否不足以覆盖有效金额合计
func Insufficient(entries []models.RecipientEntry, balance decimal.Decimal) bool {
	return balance.LessThan(ValidSum(entries))
}

// EstimateGas 有效接收方数量 × 单个估算
func EstimateGas(validCount int, perRecipient decimal.Decimal) decimal.Decimal {
	return perRecipient.Mul(decimal.NewFromInt(int64(validCount)))
}

// SuccessRate success / (success + failed)，分母为0时无定义
func SuccessRate(success, failed int) (float64, bool) {
	done := success + failed
	if done == 0 {
		return 0, false
	}
	return float64(success) / float64(done), true
}

// ResultView 结果列表中的一行
type ResultView struct {
	ID           string                 `json:"id"`
	Address      string                 `json:"address"`
	ShortAddress string                 `json:"short_address"`
	Amount       string                 `json:"amount"`
	Status       models.RecipientStatus `json:"status"`
	TxHash       string                 `json:"tx_hash,omitempty"`
	ExplorerURL  string                 `json:"explorer_url,omitempty"`
	Error        string                 `json:"error,omitempty"`
}

// Results 只保留终态接收方，成功的附带浏览器链接
func Results(entries []models.RecipientEntry, explorer string) []ResultView {
	explorer = strings.TrimRight(explorer, "/")
	out := make([]ResultView, 0)
	for i := range entries {
		e := &entries[i]
		if !e.Status.IsTerminal() {
			continue
		}
		v := ResultView{
			ID:           e.ID,
			Address:      e.Address,
			ShortAddress: validation.ShortAddress(e.Address),
			Amount:       e.Amount,
			Status:       e.Status,
			TxHash:       e.TxHash,
			Error:        e.Error,
		}
		if e.TxHash != "" && explorer != "" {
			v.ExplorerURL = explorer + "/tx/" + e.TxHash
		}
		out = append(out, v)
	}
	return out
}
