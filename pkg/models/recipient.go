package models

import (
	"encoding/json"
	"time"
)

// RecipientStatus 接收方处理状态
type RecipientStatus string

const (
	StatusPending    RecipientStatus = "pending"
	StatusProcessing RecipientStatus = "processing"
	StatusSuccess    RecipientStatus = "success"
	StatusFailed     RecipientStatus = "failed"
)

// IsTerminal success和failed为终态
func (s RecipientStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// RecipientEntry 接收方列表中的一行
type RecipientEntry struct {
	ID        string          `json:"id"`
	Address   string          `json:"address"`
	Amount    string          `json:"amount"`
	IsValid   bool            `json:"is_valid"`
	Status    RecipientStatus `json:"status"`
	TxHash    string          `json:"tx_hash,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Clone 返回副本，列表对外只暴露副本
func (r *RecipientEntry) Clone() RecipientEntry {
	return *r
}

// ToJSON 序列化
func (r *RecipientEntry) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}
