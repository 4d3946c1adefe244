package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"testing"

	"airdrop/internal/chain/chaintest"
	"airdrop/internal/config"
	"airdrop/internal/connection"
	apperrors "airdrop/internal/errors"
	"airdrop/internal/logging"
	"airdrop/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testToken = common.HexToAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")

type fixture struct {
	backend  *chaintest.Backend
	pool     *connection.Pool
	signer   *KeySigner
	reader   *TokenReader
	settings models.AirdropSettings
	keyHex   string
	address  common.Address
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := quietLogger()

	backend := chaintest.NewBackend(999, testToken, 6, "Lilly")
	t.Cleanup(backend.Close)

	pool := connection.NewPool([]*config.NodeConfig{{Name: "test", URL: "inproc"}}, logger).
		WithDialer(backend.Dial)
	t.Cleanup(func() { pool.Close() })

	key, err := gethcrypto.GenerateKey()
	require.NoError(t, err)

	f := &fixture{
		backend: backend,
		pool:    pool,
		settings: models.AirdropSettings{
			TokenAddress:  testToken.Hex(),
			TokenSymbol:   "CFG",
			TokenDecimals: 18,
			GasPrice:      "20",
		},
		keyHex:  hex.EncodeToString(gethcrypto.FromECDSA(key)),
		address: gethcrypto.PubkeyToAddress(key.PublicKey),
	}
	f.signer = NewKeySigner(pool, 999, 1.2, logger).
		WithMaxFee(func() string { return f.settings.GasPrice })
	f.reader = NewTokenReader(pool, f.signer, func() models.AirdropSettings { return f.settings }, logger)
	return f
}

func TestEncodeTransferRoundTrip(t *testing.T) {
	erc20 := MustERC20()
	to := common.HexToAddress("0x1234567890123456789012345678901234567890")

	data, err := erc20.EncodeTransfer(to, big.NewInt(100_000_000))
	require.NoError(t, err)
	assert.Len(t, data, 4+64)
	assert.Equal(t, "a9059cbb", hex.EncodeToString(data[:4]))

	gotTo, gotAmount, err := erc20.DecodeTransfer(data)
	require.NoError(t, err)
	assert.Equal(t, to, gotTo)
	assert.Equal(t, int64(100_000_000), gotAmount.Int64())
}

func TestEncodeTransferRejectsBadAmount(t *testing.T) {
	erc20 := MustERC20()
	to := common.HexToAddress("0x1234567890123456789012345678901234567890")

	_, err := erc20.EncodeTransfer(to, big.NewInt(-1))
	assert.Error(t, err)
	_, err = erc20.EncodeTransfer(to, nil)
	assert.Error(t, err)
	_, err = erc20.EncodeTransfer(to, new(big.Int).Lsh(big.NewInt(1), 256))
	assert.Error(t, err)

	_, _, err = erc20.DecodeTransfer([]byte{0x01, 0x02})
	assert.Error(t, err)
}

func TestNetworkName(t *testing.T) {
	assert.Equal(t, "Ethereum", NetworkName(1))
	assert.Equal(t, "HyperEVM", NetworkName(999))
	assert.Equal(t, "Sepolia", NetworkName(11155111))
	assert.Equal(t, "Chain 12345", NetworkName(12345))
}

func TestSignerConnect(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.signer.Connected())
	assert.Nil(t, f.signer.ChainID())

	require.NoError(t, f.signer.Connect(context.Background(), "0x"+f.keyHex))
	assert.True(t, f.signer.Connected())
	assert.Equal(t, f.address, f.signer.Address())
	assert.Equal(t, int64(999), f.signer.ChainID().Int64())

	f.signer.Disconnect()
	assert.False(t, f.signer.Connected())
}

func TestSignerConnectRejectsWrongChain(t *testing.T) {
	f := newFixture(t)
	signer := NewKeySigner(f.pool, 1, 1.2, quietLogger())

	err := signer.Connect(context.Background(), f.keyHex)
	assert.Error(t, err)
	assert.False(t, signer.Connected())

	assert.Error(t, signer.Connect(context.Background(), "not-a-key"))
}

func TestSignerSession(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.signer.Session(context.Background()).Connected)

	f.backend.SetNativeBalance(f.address, big.NewInt(1_500_000_000_000_000_000))
	require.NoError(t, f.signer.Connect(context.Background(), f.keyHex))

	session := f.signer.Session(context.Background())
	assert.True(t, session.Connected)
	assert.Equal(t, f.address.Hex(), session.Address)
	assert.Equal(t, "HyperEVM", session.NetworkName)
	assert.Equal(t, "1.5", session.NativeBalance)
}

func TestSignerSubmitTransfer(t *testing.T) {
	f := newFixture(t)
	f.backend.SetTokenBalance(f.address, big.NewInt(1_000_000_000))
	require.NoError(t, f.signer.Connect(context.Background(), f.keyHex))

	to := common.HexToAddress("0x1234567890123456789012345678901234567890")
	data, err := MustERC20().EncodeTransfer(to, big.NewInt(250_000_000))
	require.NoError(t, err)

	hash, err := f.signer.Submit(context.Background(), testToken, data)
	require.NoError(t, err)

	sent := f.backend.Sent()
	require.Len(t, sent, 1)
	tx := sent[0]
	assert.Equal(t, hash, tx.Hash())
	assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())
	assert.Equal(t, testToken, *tx.To())
	assert.Equal(t, uint64(60_000), tx.Gas())
	// 建议价格10 gwei的两倍等于上限20 gwei
	assert.Equal(t, int64(20_000_000_000), tx.GasFeeCap().Int64())
	assert.Equal(t, int64(1_000_000_000), tx.GasTipCap().Int64())
	assert.Equal(t, int64(250_000_000), f.backend.TokenBalance(to).Int64())

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(999)), tx)
	require.NoError(t, err)
	assert.Equal(t, f.address, from)

	// 第二笔使用下一个nonce
	_, err = f.signer.Submit(context.Background(), testToken, data)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), f.backend.Sent()[1].Nonce())
}

func TestSignerFeeCapLimit(t *testing.T) {
	f := newFixture(t)
	f.settings.GasPrice = "5"
	f.backend.SetTokenBalance(f.address, big.NewInt(10))
	require.NoError(t, f.signer.Connect(context.Background(), f.keyHex))

	data, err := MustERC20().EncodeTransfer(testToken, big.NewInt(1))
	require.NoError(t, err)
	_, err = f.signer.Submit(context.Background(), testToken, data)
	require.NoError(t, err)

	assert.Equal(t, int64(5_000_000_000), f.backend.Sent()[0].GasFeeCap().Int64())
}

func TestSignerSubmitErrors(t *testing.T) {
	f := newFixture(t)
	to := common.HexToAddress("0x1234567890123456789012345678901234567890")
	data, err := MustERC20().EncodeTransfer(to, big.NewInt(1))
	require.NoError(t, err)

	_, err = f.signer.Submit(context.Background(), testToken, data)
	assert.Error(t, err, "未连接时不能提交")

	require.NoError(t, f.signer.Connect(context.Background(), f.keyHex))

	// 余额不足导致合约回滚
	_, err = f.signer.Submit(context.Background(), testToken, data)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeInvalidCallData, apperrors.ClassifySubmitError(err).Code)

	f.backend.SetSendError(errors.New("insufficient funds for gas * price + value"))
	f.backend.SetTokenBalance(f.address, big.NewInt(10))
	_, err = f.signer.Submit(context.Background(), testToken, data)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeInsufficientFunds, apperrors.ClassifySubmitError(err).Code)
	assert.Empty(t, f.backend.Sent())
}

func TestTokenReaderBalance(t *testing.T) {
	f := newFixture(t)

	_, err := f.reader.Balance(context.Background())
	assert.Error(t, err, "未连接钱包")

	f.backend.SetTokenBalance(f.address, big.NewInt(1_234_500_000))
	require.NoError(t, f.signer.Connect(context.Background(), f.keyHex))

	balance, err := f.reader.Balance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, balance.Decimals)
	assert.Equal(t, "Lilly", balance.Symbol)
	assert.Equal(t, "1234.5", balance.Formatted.String())

	cached, at := f.reader.Cached()
	require.NotNil(t, cached)
	assert.False(t, at.IsZero())
	assert.NoError(t, f.reader.LastError())

	f.reader.Reset()
	cached, _ = f.reader.Cached()
	assert.Nil(t, cached)
}

func TestTokenReaderFallsBackToSettings(t *testing.T) {
	f := newFixture(t)
	f.backend.HideMetadata()
	f.backend.SetTokenBalance(f.address, big.NewInt(2_000_000_000_000_000_000))
	require.NoError(t, f.signer.Connect(context.Background(), f.keyHex))

	balance, err := f.reader.Balance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 18, balance.Decimals)
	assert.Equal(t, "CFG", balance.Symbol)
	assert.Equal(t, "2", balance.Formatted.String())
}

func TestTokenReaderErrors(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.signer.Connect(context.Background(), f.keyHex))

	f.settings.TokenAddress = "0xnot-an-address"
	_, err := f.reader.Balance(context.Background())
	assert.Error(t, err)

	f.settings.TokenAddress = testToken.Hex()
	f.backend.SetCallError(errors.New("execution reverted"))
	_, err = f.reader.Balance(context.Background())
	assert.Error(t, err)
	assert.Error(t, f.reader.LastError())

	// Refetch只记录错误
	f.reader.Refetch(context.Background())
	cached, _ := f.reader.Cached()
	assert.Nil(t, cached)
}

func TestTokenReaderLogsRPCCalls(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	sl, err := logging.NewStructuredLoggerWithWriter(&logging.LogConfig{Level: "debug", Format: "json"}, &buf)
	require.NoError(t, err)
	f.reader.WithStructuredLogger(sl)

	f.backend.SetTokenBalance(f.address, big.NewInt(1_000_000))
	require.NoError(t, f.signer.Connect(context.Background(), f.keyHex))
	_, err = f.reader.Balance(context.Background())
	require.NoError(t, err)

	methods := map[string]bool{}
	for _, raw := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var line map[string]any
		require.NoError(t, json.Unmarshal(raw, &line))
		assert.Equal(t, "rpc_client", line["component"])
		assert.Equal(t, "test", line["node"])
		assert.Equal(t, testToken.Hex(), line["token"])
		methods[line["method"].(string)] = true
	}
	assert.True(t, methods["balanceOf"], "记录的方法: %v", methods)
}
