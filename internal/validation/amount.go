package validation

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxAmountExponent 金额指数的绝对值上限，超出的金额视为无效
const MaxAmountExponent = 80

// ParseAmount 解析十进制金额字符串，指数超出±MaxAmountExponent时报错
func ParseAmount(amount string) (decimal.Decimal, error) {
	s := strings.TrimSpace(amount)
	if s == "" {
		return decimal.Zero, fmt.Errorf("金额为空")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("金额格式无效: %q", amount)
	}
	if exp := d.Exponent(); exp > MaxAmountExponent || exp < -MaxAmountExponent {
		return decimal.Zero, fmt.Errorf("金额超出范围: %q", amount)
	}
	return d, nil
}

// AmountOrZero 用于合计: 解析失败或为负数的金额按0计，和ToBaseUnits拒绝的金额一致
func AmountOrZero(amount string) decimal.Decimal {
	d, err := ParseAmount(amount)
	if err != nil || d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// ToBaseUnits 按代币精度放大为整数，多余小数位四舍五入
func ToBaseUnits(amount string, decimals int) (*big.Int, error) {
	if decimals < 0 || decimals > 77 {
		return nil, fmt.Errorf("代币精度无效: %d", decimals)
	}
	d, err := ParseAmount(amount)
	if err != nil {
		return nil, err
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("金额不能为负数: %s", amount)
	}
	return d.Shift(int32(decimals)).Round(0).BigInt(), nil
}

// FromBaseUnits 按精度缩小为十进制
func FromBaseUnits(raw *big.Int, decimals int) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, int32(-decimals))
}
