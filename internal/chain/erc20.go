package chain

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// erc20ABI 只包含空投用到的方法
const erc20ABI = `[
	{"type":"function","name":"transfer","stateMutability":"nonpayable",
	 "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"decimals","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"symbol","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"string"}]}
]`

// ERC20 代币合约的调用数据编解码
type ERC20 struct {
	abi abi.ABI
}

// NewERC20 解析内置ABI
func NewERC20() (*ERC20, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("解析ERC20 ABI失败: %w", err)
	}
	return &ERC20{abi: parsed}, nil
}

// MustERC20 解析失败时panic，只用于初始化
func MustERC20() *ERC20 {
	e, err := NewERC20()
	if err != nil {
		panic(err)
	}
	return e
}

// EncodeTransfer 编码 transfer(to, amount)
func (e *ERC20) EncodeTransfer(to common.Address, amount *big.Int) ([]byte, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("无效的转账数量: %v", amount)
	}
	if amount.BitLen() > 256 {
		return nil, fmt.Errorf("转账数量超出uint256范围")
	}
	return e.abi.Pack("transfer", to, amount)
}

// DecodeTransfer 解析transfer调用数据
func (e *ERC20) DecodeTransfer(data []byte) (common.Address, *big.Int, error) {
	method := e.abi.Methods["transfer"]
	if len(data) < 4 || !bytes.Equal(data[:4], method.ID) {
		return common.Address{}, nil, fmt.Errorf("不是transfer调用")
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("解析参数失败: %w", err)
	}
	to, ok := args[0].(common.Address)
	if !ok {
		return common.Address{}, nil, fmt.Errorf("接收地址类型错误")
	}
	amount, ok := args[1].(*big.Int)
	if !ok {
		return common.Address{}, nil, fmt.Errorf("数量类型错误")
	}
	return to, amount, nil
}

func (e *ERC20) packBalanceOf(owner common.Address) ([]byte, error) {
	return e.abi.Pack("balanceOf", owner)
}

func (e *ERC20) unpackBalance(ret []byte) (*big.Int, error) {
	out, err := e.abi.Unpack("balanceOf", ret)
	if err != nil {
		return nil, err
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf返回类型错误")
	}
	return v, nil
}

func (e *ERC20) packDecimals() ([]byte, error) {
	return e.abi.Pack("decimals")
}

func (e *ERC20) unpackDecimals(ret []byte) (int, error) {
	out, err := e.abi.Unpack("decimals", ret)
	if err != nil {
		return 0, err
	}
	v, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals返回类型错误")
	}
	return int(v), nil
}

func (e *ERC20) packSymbol() ([]byte, error) {
	return e.abi.Pack("symbol")
}

func (e *ERC20) unpackSymbol(ret []byte) (string, error) {
	out, err := e.abi.Unpack("symbol", ret)
	if err != nil {
		return "", err
	}
	v, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("symbol返回类型错误")
	}
	return v, nil
}
