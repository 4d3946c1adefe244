package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"airdrop/internal/logging"
	"airdrop/internal/retry"
	"airdrop/internal/validation"
	"airdrop/pkg/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

// ClientSource 提供RPC客户端并接收调用结果反馈，connection.Pool实现了它
type ClientSource interface {
	Acquire(ctx context.Context) (*ethclient.Client, string, error)
	Report(name string, err error)
}

// Owner 余额归属的账户
type Owner interface {
	Connected() bool
	Address() common.Address
}

// SettingsFunc 返回当前代币设置
type SettingsFunc func() models.AirdropSettings

// TokenReader 读取签名账户的代币余额
type TokenReader struct {
	source   ClientSource
	erc20    *ERC20
	owner    Owner
	settings SettingsFunc
	retrier  *retry.Retrier
	timeout  time.Duration
	logger   *logrus.Logger
	slog     *logging.StructuredLogger // 为nil时不记录单次调用

	mu        sync.RWMutex
	cached    *models.TokenBalance
	updatedAt time.Time
	lastErr   error
}

// NewTokenReader 创建余额读取器
func NewTokenReader(source ClientSource, owner Owner, settings SettingsFunc, logger *logrus.Logger) *TokenReader {
	return &TokenReader{
		source:   source,
		erc20:    MustERC20(),
		owner:    owner,
		settings: settings,
		retrier:  retry.NewRetrier(retry.ReadRetryConfig, logger),
		timeout:  15 * time.Second,
		logger:   logger,
	}
}

// WithTimeout 设置单次调用超时
func (r *TokenReader) WithTimeout(d time.Duration) *TokenReader {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// WithStructuredLogger 每次eth_call按方法和节点记录结构化日志
func (r *TokenReader) WithStructuredLogger(l *logging.StructuredLogger) *TokenReader {
	r.slog = l
	return r
}

// Balance 读取链上余额；合约的decimals和symbol读取失败时使用设置中的值
func (r *TokenReader) Balance(ctx context.Context) (*models.TokenBalance, error) {
	if r.owner == nil || !r.owner.Connected() {
		return nil, fmt.Errorf("钱包未连接")
	}
	settings := r.settings()
	token, ok := validation.NormalizeAddress(settings.TokenAddress)
	if !ok {
		return nil, fmt.Errorf("代币合约地址无效: %q", settings.TokenAddress)
	}

	data, err := r.erc20.packBalanceOf(r.owner.Address())
	if err != nil {
		return nil, err
	}
	ret, err := r.call(ctx, "balanceOf", token, data)
	if err != nil {
		r.remember(nil, err)
		return nil, fmt.Errorf("读取余额失败: %w", err)
	}
	raw, err := r.erc20.unpackBalance(ret)
	if err != nil {
		r.remember(nil, err)
		return nil, fmt.Errorf("解析余额失败: %w", err)
	}

	decimals := settings.TokenDecimals
	if d, err := r.decimals(ctx, token); err == nil {
		decimals = d
	} else {
		r.logger.Debugf("读取decimals失败，使用设置值 %d: %v", decimals, err)
	}
	symbol := settings.TokenSymbol
	if s, err := r.symbol(ctx, token); err == nil && s != "" {
		symbol = s
	}

	balance := models.NewTokenBalance(raw, decimals, symbol)
	r.remember(balance, nil)
	return balance, nil
}

// Refetch 重新读取余额并更新缓存，错误只记录日志
func (r *TokenReader) Refetch(ctx context.Context) {
	balance, err := r.Balance(ctx)
	if err != nil {
		r.logger.Warnf("刷新余额失败: %v", err)
		return
	}
	r.logger.Infof("余额已刷新: %s %s", balance.Formatted.String(), balance.Symbol)
}

// Cached 最近一次成功读取的余额
func (r *TokenReader) Cached() (*models.TokenBalance, time.Time) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cached, r.updatedAt
}

// LastError 最近一次读取的错误
func (r *TokenReader) LastError() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

// Reset 断开钱包后清除缓存
func (r *TokenReader) Reset() {
	r.mu.Lock()
	r.cached = nil
	r.updatedAt = time.Time{}
	r.lastErr = nil
	r.mu.Unlock()
}

func (r *TokenReader) remember(balance *models.TokenBalance, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastErr = err
	if balance != nil {
		r.cached = balance
		r.updatedAt = time.Now()
	}
}

func (r *TokenReader) decimals(ctx context.Context, token common.Address) (int, error) {
	data, err := r.erc20.packDecimals()
	if err != nil {
		return 0, err
	}
	ret, err := r.call(ctx, "decimals", token, data)
	if err != nil {
		return 0, err
	}
	return r.erc20.unpackDecimals(ret)
}

func (r *TokenReader) symbol(ctx context.Context, token common.Address) (string, error) {
	data, err := r.erc20.packSymbol()
	if err != nil {
		return "", err
	}
	ret, err := r.call(ctx, "symbol", token, data)
	if err != nil {
		return "", err
	}
	return r.erc20.unpackSymbol(ret)
}

// call 带重试的eth_call，每次尝试重新选择节点
func (r *TokenReader) call(ctx context.Context, method string, token common.Address, data []byte) ([]byte, error) {
	return retry.Do(ctx, r.retrier, method, func(ctx context.Context) ([]byte, error) {
		client, node, err := r.source.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		start := time.Now()
		ret, err := client.CallContract(callCtx, ethereum.CallMsg{
			From:  r.owner.Address(),
			To:    &token,
			Data:  data,
			Value: big.NewInt(0),
		}, nil)
		r.source.Report(node, err)
		if r.slog != nil {
			rpcLog := logging.NewRPCLogger(r.slog, method, node)
			if err != nil {
				rpcLog.Warn("eth_call失败", "token", token.Hex(), "duration", time.Since(start), "error", err)
			} else {
				rpcLog.Debug("eth_call完成", "token", token.Hex(), "duration", time.Since(start), "bytes", len(ret))
			}
		}
		if err != nil {
			return nil, err
		}
		if len(ret) == 0 {
			return nil, fmt.Errorf("%s 返回空数据，合约地址可能不是ERC20", method)
		}
		return ret, nil
	})
}
