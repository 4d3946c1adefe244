package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"airdrop/pkg/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// KeySigner 用本地私钥签名并广播EIP-1559交易
type KeySigner struct {
	source        ClientSource
	gasMultiplier float64
	maxFeeGwei    func() string
	expectChainID int64
	timeout       time.Duration
	logger        *logrus.Logger

	mu      sync.RWMutex
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
}

// NewKeySigner 创建签名器；expectChainID为0时接受节点返回的任何链
func NewKeySigner(source ClientSource, expectChainID int64, gasMultiplier float64, logger *logrus.Logger) *KeySigner {
	if gasMultiplier < 1 {
		gasMultiplier = 1
	}
	return &KeySigner{
		source:        source,
		gasMultiplier: gasMultiplier,
		maxFeeGwei:    func() string { return "" },
		expectChainID: expectChainID,
		timeout:       30 * time.Second,
		logger:        logger,
	}
}

// WithMaxFee 设置gas费上限来源(gwei)，返回空字符串表示不限制
func (s *KeySigner) WithMaxFee(fn func() string) *KeySigner {
	if fn != nil {
		s.maxFeeGwei = fn
	}
	return s
}

// Connect 加载私钥并确认节点所在链
func (s *KeySigner) Connect(ctx context.Context, privateKeyHex string) error {
	key, err := gethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return fmt.Errorf("私钥格式错误: %w", err)
	}

	client, node, err := s.source.Acquire(ctx)
	if err != nil {
		return err
	}
	chainID, err := client.ChainID(ctx)
	s.source.Report(node, err)
	if err != nil {
		return fmt.Errorf("获取链ID失败: %w", err)
	}
	if s.expectChainID != 0 && chainID.Int64() != s.expectChainID {
		return fmt.Errorf("节点链ID %d 与配置 %d 不一致", chainID.Int64(), s.expectChainID)
	}

	address := gethcrypto.PubkeyToAddress(key.PublicKey)
	s.mu.Lock()
	s.key = key
	s.address = address
	s.chainID = chainID
	s.mu.Unlock()

	s.logger.Infof("钱包已连接: %s (%s)", address.Hex(), NetworkName(chainID.Int64()))
	return nil
}

// Disconnect 清除私钥
func (s *KeySigner) Disconnect() {
	s.mu.Lock()
	s.key = nil
	s.address = common.Address{}
	s.chainID = nil
	s.mu.Unlock()
	s.logger.Info("钱包已断开")
}

// Connected 是否已加载私钥
func (s *KeySigner) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key != nil
}

// Address 签名账户地址
func (s *KeySigner) Address() common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.address
}

// ChainID 连接时确认的链ID，未连接时为nil
func (s *KeySigner) ChainID() *big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.chainID == nil {
		return nil
	}
	return new(big.Int).Set(s.chainID)
}

// Session 钱包会话视图，包含原生币余额
func (s *KeySigner) Session(ctx context.Context) models.WalletSession {
	s.mu.RLock()
	key, address, chainID := s.key, s.address, s.chainID
	s.mu.RUnlock()

	if key == nil {
		return models.WalletSession{}
	}
	session := models.WalletSession{
		Connected:   true,
		Address:     address.Hex(),
		ChainID:     chainID.Int64(),
		NetworkName: NetworkName(chainID.Int64()),
	}

	client, node, err := s.source.Acquire(ctx)
	if err != nil {
		return session
	}
	wei, err := client.BalanceAt(ctx, address, nil)
	s.source.Report(node, err)
	if err == nil {
		session.NativeBalance = decimal.NewFromBigInt(wei, -18).String()
	}
	return session
}

// Submit 签名并广播一笔调用 to 合约的交易，返回交易哈希。不重试。
func (s *KeySigner) Submit(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	s.mu.RLock()
	key, from, chainID := s.key, s.address, s.chainID
	s.mu.RUnlock()
	if key == nil {
		return common.Hash{}, fmt.Errorf("wallet not connected")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	client, node, err := s.source.Acquire(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	tx, err := s.buildTx(ctx, client, from, to, chainID, data)
	if err != nil {
		s.source.Report(node, err)
		return common.Hash{}, err
	}

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("签名交易失败: %w", err)
	}

	err = client.SendTransaction(ctx, signed)
	s.source.Report(node, err)
	if err != nil {
		return common.Hash{}, err
	}

	s.logger.Debugf("交易已广播: %s nonce=%d gas=%d", signed.Hash().Hex(), signed.Nonce(), signed.Gas())
	return signed.Hash(), nil
}

type txClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
}

// buildTx 组装EIP-1559交易: nonce取pending，gas为估算值乘以系数，
// feeCap为建议价格的两倍并受设置中的gas price上限约束
func (s *KeySigner) buildTx(ctx context.Context, client txClient, from, to common.Address, chainID *big.Int, data []byte) (*types.Transaction, error) {
	nonce, err := client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("获取nonce失败: %w", err)
	}

	tip, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取小费建议失败: %w", err)
	}
	price, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取gas价格失败: %w", err)
	}
	feeCap := new(big.Int).Mul(price, big.NewInt(2))
	if limit := gweiToWei(s.maxFeeGwei()); limit != nil && feeCap.Cmp(limit) > 0 {
		feeCap = limit
	}
	if tip.Cmp(feeCap) > 0 {
		tip = new(big.Int).Set(feeCap)
	}

	gas, err := client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
	if err != nil {
		return nil, fmt.Errorf("估算gas失败: %w", err)
	}
	gas = uint64(float64(gas) * s.gasMultiplier)

	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     big.NewInt(0),
		Data:      data,
	}), nil
}

// gweiToWei 解析gwei字符串，空或非正数返回nil
func gweiToWei(gwei string) *big.Int {
	gwei = strings.TrimSpace(gwei)
	if gwei == "" {
		return nil
	}
	d, err := decimal.NewFromString(gwei)
	if err != nil || !d.IsPositive() {
		return nil
	}
	return d.Mul(decimal.NewFromInt(params.GWei)).BigInt()
}
