package recipients

import (
	"fmt"

	"airdrop/internal/errors"
	"airdrop/pkg/models"
)

// 允许的状态迁移，没有processing->pending
var transitions = map[models.RecipientStatus][]models.RecipientStatus{
	models.StatusPending:    {models.StatusProcessing},
	models.StatusProcessing: {models.StatusSuccess, models.StatusFailed},
}

func canTransition(from, to models.RecipientStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// MarkProcessing pending -> processing
func (l *List) MarkProcessing(id string) error {
	return l.transition(id, models.StatusProcessing, func(e *models.RecipientEntry) {
		e.TxHash = ""
		e.Error = ""
	})
}

// MarkSuccess processing -> success，记录交易哈希
func (l *List) MarkSuccess(id, txHash string) error {
	return l.transition(id, models.StatusSuccess, func(e *models.RecipientEntry) {
		e.TxHash = txHash
	})
}

// MarkFailed processing -> failed，记录失败原因
func (l *List) MarkFailed(id, reason string) error {
	return l.transition(id, models.StatusFailed, func(e *models.RecipientEntry) {
		e.Error = reason
	})
}

func (l *List) transition(id string, to models.RecipientStatus, apply func(e *models.RecipientEntry)) error {
	l.mu.Lock()
	entry, ok := l.index[id]
	if !ok {
		l.mu.Unlock()
		return notFound(id)
	}
	if !canTransition(entry.Status, to) {
		from := entry.Status
		l.mu.Unlock()
		return errors.NewAirdropError(errors.ErrorTypeValidation, errors.SeverityMedium,
			errors.CodeInvalidTransition, fmt.Sprintf("不允许的状态迁移: %s -> %s", from, to)).
			WithComponent("recipients").WithRecipient(id)
	}

	entry.Status = to
	apply(entry)
	entry.UpdatedAt = l.now()
	l.version++
	l.mu.Unlock()

	l.publish()
	return nil
}

// ResetForRun 把终态接收方重置为pending，供新一轮运行重新尝试，
// 返回被重置的数量；处理中的接收方不受影响
func (l *List) ResetForRun(ids []string) int {
	l.mu.Lock()
	reset := 0
	for _, id := range ids {
		entry, ok := l.index[id]
		if !ok || !entry.Status.IsTerminal() {
			continue
		}
		entry.Status = models.StatusPending
		entry.TxHash = ""
		entry.Error = ""
		entry.UpdatedAt = l.now()
		reset++
	}
	if reset > 0 {
		l.version++
	}
	l.mu.Unlock()

	if reset > 0 {
		l.publish()
	}
	return reset
}

// CountByStatus 各状态数量
func (l *List) CountByStatus() map[models.RecipientStatus]int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	counts := make(map[models.RecipientStatus]int, 4)
	for _, e := range l.entries {
		counts[e.Status]++
	}
	return counts
}
