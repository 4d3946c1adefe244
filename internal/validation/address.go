package validation

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// AddressValidator 地址格式校验函数
type AddressValidator func(address string) bool

// IsValidAddress 校验地址格式: 40位十六进制，0x前缀可省略(大写0X不接受)；
// 大小写混合时必须符合EIP-55校验和
func IsValidAddress(addr string) bool {
	body := strings.TrimPrefix(addr, "0x")
	if len(body) != 2*common.AddressLength || !isHex(body) {
		return false
	}
	if strings.ToLower(body) == body || strings.ToUpper(body) == body {
		return true
	}
	return common.HexToAddress(body).Hex() == "0x"+body
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F') {
			return false
		}
	}
	return true
}

// NormalizeAddress 返回校验和格式地址，无效地址返回false
func NormalizeAddress(addr string) (common.Address, bool) {
	if !IsValidAddress(addr) {
		return common.Address{}, false
	}
	return common.HexToAddress(addr), true
}

// ShortAddress 缩写地址用于展示: 0x1234...abcd
func ShortAddress(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}
