package models

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// TokenBalance 代币余额，Formatted已按精度缩放
type TokenBalance struct {
	Raw       *big.Int        `json:"raw"`
	Decimals  int             `json:"decimals"`
	Symbol    string          `json:"symbol"`
	Formatted decimal.Decimal `json:"formatted"`
}

// NewTokenBalance 根据原始值和精度构造
func NewTokenBalance(raw *big.Int, decimals int, symbol string) *TokenBalance {
	if raw == nil {
		raw = big.NewInt(0)
	}
	return &TokenBalance{
		Raw:       raw,
		Decimals:  decimals,
		Symbol:    symbol,
		Formatted: decimal.NewFromBigInt(raw, int32(-decimals)),
	}
}

// WalletSession 签名会话状态
type WalletSession struct {
	Connected     bool   `json:"connected"`
	Address       string `json:"address,omitempty"`
	ChainID       int64  `json:"chain_id,omitempty"`
	NetworkName   string `json:"network_name,omitempty"`
	NativeBalance string `json:"native_balance,omitempty"`
}
