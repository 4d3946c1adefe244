package validation

import (
	"math/big"
	"strings"
	"testing"

	"airdrop/internal/errors"
	"airdrop/pkg/models"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestValidator(strict bool) *Validator {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return NewValidator(logger, strict)
}

func TestNewValidator(t *testing.T) {
	v := newTestValidator(true)

	assert.True(t, v.strictMode)
	assert.ElementsMatch(t, []string{"address", "amount", "settings"}, v.RuleNames())
}

func TestIsValidAddress(t *testing.T) {
	tests := []struct {
		name  string
		addr  string
		valid bool
	}{
		{"小写地址", "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", true},
		{"大写地址", "0x5AAEB6053F3E94C9B9A09F33669435E7EF1BEAED", true},
		{"正确校验和", "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", true},
		{"错误校验和", "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAeD", false},
		{"省略前缀", "5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", true},
		{"省略前缀的校验和", "5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", true},
		{"省略前缀的错误校验和", "5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAeD", false},
		{"大写前缀", "0X5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", false},
		{"重复前缀", "0x0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", false},
		{"过长", "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed00", false},
		{"长度不足", "0x111", false},
		{"非十六进制", "0xzzaeb6053f3e94c9b9a09f33669435e7ef1beaed", false},
		{"普通文本", "not-an-address", false},
		{"空字符串", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, IsValidAddress(tt.addr))
		})
	}
}

// 对任意输入，校验结果只由地址本身决定
func TestIsValidAddress_Deterministic(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("same address same verdict", prop.ForAll(
		func(addr string) bool {
			return IsValidAddress(addr) == IsValidAddress(strings.Clone(addr))
		},
		gen.AnyString(),
	))

	properties.Property("lowercase 40 hex with prefix is valid", prop.ForAll(
		func(body string) bool {
			return IsValidAddress("0x" + body)
		},
		gen.RegexMatch("[0-9a-f]{40}"),
	))

	properties.Property("prefix is optional", prop.ForAll(
		func(body string) bool {
			return IsValidAddress(body) == IsValidAddress("0x"+body)
		},
		gen.OneGenOf(gen.RegexMatch("[0-9a-fA-F]{40}"), gen.AlphaString()),
	))

	properties.TestingRun(t)
}

func TestShortAddress(t *testing.T) {
	assert.Equal(t, "0x5aAe...BeAed", ShortAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"))
	assert.Equal(t, "0x111", ShortAddress("0x111"))
}

func TestToBaseUnits(t *testing.T) {
	tests := []struct {
		amount   string
		decimals int
		expected string
		wantErr  bool
	}{
		{"10", 6, "10000000", false},
		{"0.5", 18, "500000000000000000", false},
		{" 1.25 ", 2, "125", false},
		{"0.0000005", 6, "1", false}, // 四舍五入
		{"0", 6, "0", false},
		{"-1", 6, "", true},
		{"abc", 6, "", true},
		{"", 6, "", true},
		{"1", -1, "", true},
		{"1e-50000000", 6, "", true},
		{"1e90", 6, "", true},
		{"1e3", 6, "1000000000", false},
	}

	for _, tt := range tests {
		got, err := ToBaseUnits(tt.amount, tt.decimals)
		if tt.wantErr {
			assert.Error(t, err, "amount=%q", tt.amount)
			continue
		}
		require.NoError(t, err, "amount=%q", tt.amount)
		assert.Equal(t, tt.expected, got.String(), "amount=%q", tt.amount)
	}
}

func TestFromBaseUnits(t *testing.T) {
	assert.Equal(t, "1.5", FromBaseUnits(big.NewInt(1500000), 6).String())
	assert.True(t, FromBaseUnits(nil, 6).IsZero())
}

func TestAmountOrZero(t *testing.T) {
	assert.Equal(t, "7.5", AmountOrZero("7.5").String())
	assert.True(t, AmountOrZero("abc").IsZero())
	assert.True(t, AmountOrZero("").IsZero())
	assert.True(t, AmountOrZero("-3").IsZero())
	assert.True(t, AmountOrZero("1e-50000000").IsZero())
	assert.True(t, AmountOrZero("1E+99999999").IsZero())
}

func TestParseAmountExponentBound(t *testing.T) {
	_, err := ParseAmount("1e-80")
	assert.NoError(t, err)
	_, err = ParseAmount("1e-81")
	assert.Error(t, err)
	_, err = ParseAmount("1e80")
	assert.NoError(t, err)
	_, err = ParseAmount("1e81")
	assert.Error(t, err)
}

func TestValidateRecipient(t *testing.T) {
	v := newTestValidator(false)

	valid := &models.RecipientEntry{Address: "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", Amount: "10"}
	result := v.ValidateRecipient(valid)
	assert.True(t, result.Valid)
	assert.Equal(t, "recipient", result.DataType)
	assert.Empty(t, result.Errors)

	bad := &models.RecipientEntry{Address: "not-an-address", Amount: "abc"}
	result = v.ValidateRecipient(bad)
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, errors.CodeInvalidAddress, result.Errors[0].Code)
	assert.Len(t, result.Warnings, 1)

	result = v.ValidateRecipient(nil)
	assert.False(t, result.Valid)
}

func TestValidateRecipient_StrictMode(t *testing.T) {
	v := newTestValidator(true)

	entry := &models.RecipientEntry{Address: "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", Amount: "0"}
	result := v.ValidateRecipient(entry)
	assert.False(t, result.Valid) // 严格模式下金额警告也视为无效
	assert.Empty(t, result.Errors)
}

func TestValidateList_Duplicates(t *testing.T) {
	v := newTestValidator(false)

	entries := []models.RecipientEntry{
		{Address: "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", Amount: "1"},
		{Address: "0x5AAEB6053F3E94C9B9A09F33669435E7EF1BEAED", Amount: "2"},
		{Address: "bad", Amount: "3"},
	}

	result := v.ValidateList(entries)
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 3, result.Errors[0].Context["row"])
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "第2行")
}

func TestValidateSettings(t *testing.T) {
	v := newTestValidator(false)

	good := &models.AirdropSettings{
		TokenAddress:  "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed",
		TokenSymbol:   "Lilly",
		TokenDecimals: 6,
		GasPrice:      "20",
	}
	assert.True(t, v.ValidateSettings(good).Valid)

	tests := []struct {
		name   string
		mutate func(s *models.AirdropSettings)
	}{
		{"无效合约地址", func(s *models.AirdropSettings) { s.TokenAddress = "0x123" }},
		{"精度为负", func(s *models.AirdropSettings) { s.TokenDecimals = -1 }},
		{"精度过大", func(s *models.AirdropSettings) { s.TokenDecimals = 99 }},
		{"gas价格无效", func(s *models.AirdropSettings) { s.GasPrice = "fast" }},
		{"总量无效", func(s *models.AirdropSettings) { s.TotalAmount = "lots" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := *good
			tt.mutate(&s)
			result := v.ValidateSettings(&s)
			assert.False(t, result.Valid)
			require.NotEmpty(t, result.Errors)
			assert.Equal(t, errors.CodeInvalidSettings, result.Errors[0].Code)
		})
	}
}
