package recipients

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"airdrop/internal/errors"
	"airdrop/internal/validation"
	"airdrop/pkg/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// 可编辑字段
const (
	FieldAddress = "address"
	FieldAmount  = "amount"
)

// List 共享的接收方列表，编辑器和执行器都通过它读写
type List struct {
	mu        sync.RWMutex
	entries   []*models.RecipientEntry
	index     map[string]*models.RecipientEntry
	validate  validation.AddressValidator
	logger    *logrus.Logger
	version   uint64
	listeners []chan uint64
	newID     func() string
	now       func() time.Time
}

// NewList 创建空列表，validate为nil时使用默认地址校验
func NewList(validate validation.AddressValidator, logger *logrus.Logger) *List {
	if validate == nil {
		validate = validation.IsValidAddress
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &List{
		index:    make(map[string]*models.RecipientEntry),
		validate: validate,
		logger:   logger,
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

// Add 添加接收方，任一字段为空时不做任何操作
func (l *List) Add(address, amount string) (models.RecipientEntry, bool) {
	address = strings.TrimSpace(address)
	amount = strings.TrimSpace(amount)
	if address == "" || amount == "" {
		return models.RecipientEntry{}, false
	}

	l.mu.Lock()
	entry := l.appendLocked(address, amount)
	l.mu.Unlock()

	l.publish()
	return entry.Clone(), true
}

func (l *List) appendLocked(address, amount string) *models.RecipientEntry {
	now := l.now()
	entry := &models.RecipientEntry{
		ID:        l.newID(),
		Address:   address,
		Amount:    amount,
		IsValid:   l.validate(address),
		Status:    models.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	l.entries = append(l.entries, entry)
	l.index[entry.ID] = entry
	l.version++
	return entry
}

// Update 修改地址或金额，修改地址时重新校验
func (l *List) Update(id, field, value string) (models.RecipientEntry, error) {
	l.mu.Lock()
	entry, ok := l.index[id]
	if !ok {
		l.mu.Unlock()
		return models.RecipientEntry{}, notFound(id)
	}

	switch field {
	case FieldAddress:
		entry.Address = value
		entry.IsValid = l.validate(value)
	case FieldAmount:
		entry.Amount = value
	default:
		l.mu.Unlock()
		return models.RecipientEntry{}, errors.NewAirdropError(errors.ErrorTypeValidation,
			errors.SeverityLow, errors.CodeUnknownField, fmt.Sprintf("未知字段: %s", field)).
			WithRecipient(id)
	}
	entry.UpdatedAt = l.now()
	l.version++
	out := entry.Clone()
	l.mu.Unlock()

	l.publish()
	return out, nil
}

// Remove 删除接收方，处理中的接收方不允许删除
func (l *List) Remove(id string) error {
	l.mu.Lock()
	entry, ok := l.index[id]
	if !ok {
		l.mu.Unlock()
		return notFound(id)
	}
	if entry.Status == models.StatusProcessing {
		l.mu.Unlock()
		return errors.Precondition(errors.ErrRecipientProcessing, "").WithComponent("recipients").WithRecipient(id)
	}

	delete(l.index, id)
	for i, e := range l.entries {
		if e.ID == id {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			break
		}
	}
	l.version++
	l.mu.Unlock()

	l.publish()
	return nil
}

// Clear 清空列表，有接收方处理中时拒绝
func (l *List) Clear() error {
	l.mu.Lock()
	for _, e := range l.entries {
		if e.Status == models.StatusProcessing {
			l.mu.Unlock()
			return errors.Precondition(errors.ErrRecipientProcessing, "").WithComponent("recipients").WithRecipient(e.ID)
		}
	}
	l.entries = nil
	l.index = make(map[string]*models.RecipientEntry)
	l.version++
	l.mu.Unlock()

	l.publish()
	return nil
}

// Get 按id获取副本
func (l *List) Get(id string) (models.RecipientEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.index[id]
	if !ok {
		return models.RecipientEntry{}, false
	}
	return entry.Clone(), true
}

// Len 接收方数量
func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Snapshot 按显示顺序返回所有接收方的副本
func (l *List) Snapshot() []models.RecipientEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.RecipientEntry, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.Clone()
	}
	return out
}

// Valid 按显示顺序返回有效接收方的副本
func (l *List) Valid() []models.RecipientEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.RecipientEntry, 0, len(l.entries))
	for _, e := range l.entries {
		if e.IsValid {
			out = append(out, e.Clone())
		}
	}
	return out
}

// Version 每次修改递增
func (l *List) Version() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.version
}

func notFound(id string) error {
	return errors.Precondition(errors.ErrRecipientNotFound, "id=%s", id).WithComponent("recipients").WithRecipient(id)
}
