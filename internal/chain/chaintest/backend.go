// Package chaintest 提供进程内的以太坊JSON-RPC后端，测试中替代真实节点。
package chaintest

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

var (
	selTransfer  = crypto.Keccak256([]byte("transfer(address,uint256)"))[:4]
	selBalanceOf = crypto.Keccak256([]byte("balanceOf(address)"))[:4]
	selDecimals  = crypto.Keccak256([]byte("decimals()"))[:4]
	selSymbol    = crypto.Keccak256([]byte("symbol()"))[:4]

	uint256Args  = mustArgs("uint256")
	uint8Args    = mustArgs("uint8")
	stringArgs   = mustArgs("string")
	transferArgs = mustArgs("address", "uint256")
)

func mustArgs(kinds ...string) abi.Arguments {
	args := make(abi.Arguments, 0, len(kinds))
	for _, k := range kinds {
		t, err := abi.NewType(k, "", nil)
		if err != nil {
			panic(err)
		}
		args = append(args, abi.Argument{Type: t})
	}
	return args
}

// Backend 模拟一个只有单个ERC20合约的链
type Backend struct {
	mu       sync.Mutex
	chainID  int64
	token    common.Address
	decimals uint8
	symbol   string
	balances map[common.Address]*big.Int
	native   map[common.Address]*big.Int
	nonces   map[common.Address]uint64
	sent     []*types.Transaction
	sendErr  error
	callErr  error
	noMeta   bool

	server *rpc.Server
}

// NewBackend 创建后端并注册eth命名空间
func NewBackend(chainID int64, token common.Address, decimals uint8, symbol string) *Backend {
	b := &Backend{
		chainID:  chainID,
		token:    token,
		decimals: decimals,
		symbol:   symbol,
		balances: make(map[common.Address]*big.Int),
		native:   make(map[common.Address]*big.Int),
		nonces:   make(map[common.Address]uint64),
		server:   rpc.NewServer(),
	}
	if err := b.server.RegisterName("eth", &ethService{b: b}); err != nil {
		panic(err)
	}
	return b
}

// Dial 与connection.DialFunc签名一致
func (b *Backend) Dial(ctx context.Context, url string) (*ethclient.Client, error) {
	return ethclient.NewClient(rpc.DialInProc(b.server)), nil
}

// Close 停止RPC服务
func (b *Backend) Close() {
	b.server.Stop()
}

// SetTokenBalance 设置代币余额(最小单位)
func (b *Backend) SetTokenBalance(owner common.Address, amount *big.Int) {
	b.mu.Lock()
	b.balances[owner] = new(big.Int).Set(amount)
	b.mu.Unlock()
}

// TokenBalance 当前代币余额
func (b *Backend) TokenBalance(owner common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v, ok := b.balances[owner]; ok {
		return new(big.Int).Set(v)
	}
	return big.NewInt(0)
}

// SetNativeBalance 设置原生币余额(wei)
func (b *Backend) SetNativeBalance(owner common.Address, wei *big.Int) {
	b.mu.Lock()
	b.native[owner] = new(big.Int).Set(wei)
	b.mu.Unlock()
}

// SetSendError 之后的广播都返回该错误，nil恢复正常
func (b *Backend) SetSendError(err error) {
	b.mu.Lock()
	b.sendErr = err
	b.mu.Unlock()
}

// SetCallError 之后的eth_call都返回该错误
func (b *Backend) SetCallError(err error) {
	b.mu.Lock()
	b.callErr = err
	b.mu.Unlock()
}

// HideMetadata decimals和symbol调用返回revert
func (b *Backend) HideMetadata() {
	b.mu.Lock()
	b.noMeta = true
	b.mu.Unlock()
}

// Sent 已接收的交易
func (b *Backend) Sent() []*types.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*types.Transaction, len(b.sent))
	copy(out, b.sent)
	return out
}

type callArgs struct {
	From  *common.Address `json:"from"`
	To    *common.Address `json:"to"`
	Data  *hexutil.Bytes  `json:"data"`
	Input *hexutil.Bytes  `json:"input"`
}

func (a callArgs) payload() []byte {
	if a.Input != nil {
		return *a.Input
	}
	if a.Data != nil {
		return *a.Data
	}
	return nil
}

type ethService struct {
	b *Backend
}

func (s *ethService) ChainId() (*hexutil.Big, error) {
	return (*hexutil.Big)(big.NewInt(s.b.chainID)), nil
}

func (s *ethService) GasPrice() (*hexutil.Big, error) {
	return (*hexutil.Big)(big.NewInt(10_000_000_000)), nil
}

func (s *ethService) MaxPriorityFeePerGas() (*hexutil.Big, error) {
	return (*hexutil.Big)(big.NewInt(1_000_000_000)), nil
}

func (s *ethService) GetBalance(owner common.Address, block *string) (*hexutil.Big, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if v, ok := s.b.native[owner]; ok {
		return (*hexutil.Big)(new(big.Int).Set(v)), nil
	}
	return (*hexutil.Big)(big.NewInt(0)), nil
}

func (s *ethService) GetTransactionCount(owner common.Address, block *string) (hexutil.Uint64, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	return hexutil.Uint64(s.b.nonces[owner]), nil
}

func (s *ethService) EstimateGas(args callArgs, block *string) (hexutil.Uint64, error) {
	return hexutil.Uint64(50_000), nil
}

func (s *ethService) Call(args callArgs, block *string) (hexutil.Bytes, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	if s.b.callErr != nil {
		return nil, s.b.callErr
	}
	if args.To == nil || *args.To != s.b.token {
		return hexutil.Bytes{}, nil
	}
	data := args.payload()
	if len(data) < 4 {
		return nil, errors.New("execution reverted")
	}

	switch {
	case bytes.Equal(data[:4], selBalanceOf):
		owner := common.BytesToAddress(data[4:])
		bal := s.b.balances[owner]
		if bal == nil {
			bal = big.NewInt(0)
		}
		return uint256Args.Pack(bal)
	case bytes.Equal(data[:4], selDecimals) && !s.b.noMeta:
		return uint8Args.Pack(s.b.decimals)
	case bytes.Equal(data[:4], selSymbol) && !s.b.noMeta:
		return stringArgs.Pack(s.b.symbol)
	}
	return nil, errors.New("execution reverted")
}

func (s *ethService) SendRawTransaction(input hexutil.Bytes) (common.Hash, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(input); err != nil {
		return common.Hash{}, err
	}

	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if s.b.sendErr != nil {
		return common.Hash{}, s.b.sendErr
	}

	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return common.Hash{}, err
	}
	data := tx.Data()
	if tx.To() != nil && *tx.To() == s.b.token && len(data) >= 4 && bytes.Equal(data[:4], selTransfer) {
		if vals, err := transferArgs.Unpack(data[4:]); err == nil {
			to := vals[0].(common.Address)
			amount := vals[1].(*big.Int)
			fromBal := s.b.balances[from]
			if fromBal == nil || fromBal.Cmp(amount) < 0 {
				return common.Hash{}, errors.New("execution reverted: ERC20: transfer amount exceeds balance")
			}
			s.b.balances[from] = new(big.Int).Sub(fromBal, amount)
			toBal := s.b.balances[to]
			if toBal == nil {
				toBal = big.NewInt(0)
			}
			s.b.balances[to] = new(big.Int).Add(toBal, amount)
		}
	}

	s.b.nonces[from]++
	s.b.sent = append(s.b.sent, tx)
	return tx.Hash(), nil
}
