package airdrop

import (
	"context"
	"math/big"
	"time"

	"airdrop/pkg/models"

	"github.com/ethereum/go-ethereum/common"
)

// Signer 能代表发送方签名并提交交易
type Signer interface {
	Connected() bool
	Address() common.Address
	ChainID() *big.Int
	Submit(ctx context.Context, to common.Address, data []byte) (common.Hash, error)
}

// BalanceReader 读取发送方的代币余额
type BalanceReader interface {
	Balance(ctx context.Context) (*models.TokenBalance, error)
	Refetch(ctx context.Context)
}

// TransferEncoder 生成ERC20 transfer调用数据
type TransferEncoder interface {
	EncodeTransfer(to common.Address, amount *big.Int) ([]byte, error)
}

// ReportArchive 运行报告归档，history.Store实现了它
type ReportArchive interface {
	Save(report *models.RunReport) error
}

// cachedBalance 可选，余额读取器提供最近一次结果时用于填写报告
type cachedBalance interface {
	Cached() (*models.TokenBalance, time.Time)
}

// Sleeper 等待固定时长，测试中替换为不阻塞的实现
type Sleeper func(ctx context.Context, d time.Duration)

// SleepContext 默认Sleeper，ctx取消时提前返回
func SleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
