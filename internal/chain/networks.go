package chain

import "fmt"

var networkNames = map[int64]string{
	1:        "Ethereum",
	5:        "Goerli",
	10:       "Optimism",
	56:       "BSC",
	137:      "Polygon",
	999:      "HyperEVM",
	8453:     "Base",
	42161:    "Arbitrum",
	80001:    "Mumbai",
	11155111: "Sepolia",
}

// NetworkName 链ID对应的网络名，未知链返回 "Chain <id>"
func NetworkName(chainID int64) string {
	if name, ok := networkNames[chainID]; ok {
		return name
	}
	return fmt.Sprintf("Chain %d", chainID)
}
