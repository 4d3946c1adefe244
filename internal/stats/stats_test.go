package stats

import (
	"testing"
	"time"

	"airdrop/pkg/models"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(addr, amount string, valid bool, status models.RecipientStatus) models.RecipientEntry {
	return models.RecipientEntry{ID: addr + amount, Address: addr, Amount: amount, IsValid: valid, Status: status}
}

func TestCalculate_ValidAndInvalid(t *testing.T) {
	entries := []models.RecipientEntry{
		entry("0xABC", "10", true, models.StatusPending),
		entry("not-an-address", "5", false, models.StatusPending),
	}

	s := Calculate(entries, decimal.NewFromInt(100))
	assert.Equal(t, 2, s.TotalRecipients)
	assert.Equal(t, 1, s.ValidRecipients)
	assert.Equal(t, "10", s.TotalAmount)
	assert.Equal(t, "0.0001", s.EstimatedGas)
	assert.False(t, s.InsufficientBalance)
	assert.Nil(t, s.SuccessRate)
}

func TestCalculate_InsufficientBalance(t *testing.T) {
	entries := []models.RecipientEntry{entry("0xABC", "10", true, models.StatusPending)}

	s := Calculate(entries, decimal.NewFromInt(5))
	assert.True(t, s.InsufficientBalance)
	assert.True(t, Insufficient(entries, decimal.NewFromInt(5)))
	assert.False(t, Insufficient(entries, decimal.NewFromInt(10)))
}

func TestCalculate_NonNumericAmountsCountZero(t *testing.T) {
	entries := []models.RecipientEntry{
		entry("a", "abc", true, models.StatusPending),
		entry("b", "2.5", true, models.StatusPending),
		entry("c", "", true, models.StatusPending),
		entry("d", "100", false, models.StatusPending),
	}

	assert.Equal(t, "2.5", ValidSum(entries).String())
	assert.Equal(t, 3, ValidCount(entries))
	assert.Equal(t, "0.0003", Calculate(entries, decimal.Zero).EstimatedGas)
}

func TestCalculate_SuccessRate(t *testing.T) {
	entries := []models.RecipientEntry{
		entry("a", "1", true, models.StatusSuccess),
		entry("b", "1", true, models.StatusFailed),
	}

	s := Calculate(entries, decimal.NewFromInt(10))
	assert.Equal(t, 1, s.CompletedTransfers)
	assert.Equal(t, 1, s.FailedTransfers)
	require.NotNil(t, s.SuccessRate)
	assert.InDelta(t, 0.5, *s.SuccessRate, 1e-9)
}

func TestSuccessRate(t *testing.T) {
	_, ok := SuccessRate(0, 0)
	assert.False(t, ok)

	rate, ok := SuccessRate(3, 1)
	assert.True(t, ok)
	assert.InDelta(t, 0.75, rate, 1e-9)
}

func TestResults(t *testing.T) {
	entries := []models.RecipientEntry{
		{ID: "1", Address: "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", Amount: "1", IsValid: true, Status: models.StatusSuccess, TxHash: "0xhash"},
		{ID: "2", Address: "0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359", Amount: "2", IsValid: true, Status: models.StatusFailed, Error: "rejected"},
		{ID: "3", Address: "0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359", Amount: "3", IsValid: true, Status: models.StatusPending},
	}

	views := Results(entries, "https://www.hyperscan.com/")
	require.Len(t, views, 2)
	assert.Equal(t, "https://www.hyperscan.com/tx/0xhash", views[0].ExplorerURL)
	assert.Equal(t, "0x5aae...eaed", views[0].ShortAddress)
	assert.Equal(t, "rejected", views[1].Error)
	assert.Empty(t, views[1].ExplorerURL)

	assert.Empty(t, Results(nil, ""))
}

// 有效金额合计只统计有效接收方
func TestValidSumProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("invalid entries never change the sum", prop.ForAll(
		func(validAmounts []uint16, invalidAmounts []uint16) bool {
			var entries []models.RecipientEntry
			expected := decimal.Zero
			for _, a := range validAmounts {
				d := decimal.NewFromInt(int64(a))
				expected = expected.Add(d)
				entries = append(entries, entry("v", d.String(), true, models.StatusPending))
			}
			for _, a := range invalidAmounts {
				entries = append(entries, entry("i", decimal.NewFromInt(int64(a)).String(), false, models.StatusPending))
			}
			s := Calculate(entries, decimal.Zero)
			return ValidSum(entries).Equal(expected) &&
				s.ValidRecipients == len(validAmounts) &&
				s.TotalAmount == expected.String()
		},
		gen.SliceOf(gen.UInt16()),
		gen.SliceOf(gen.UInt16()),
	))

	properties.TestingRun(t)
}

// 指数极大的金额按0计，不会拖慢合计
func TestCalculate_HugeExponentCountsAsZero(t *testing.T) {
	entries := []models.RecipientEntry{
		entry("0xA", "1", true, models.StatusPending),
		entry("0xB", "1e-50000000", true, models.StatusPending),
		entry("0xC", "1e99999999", true, models.StatusPending),
	}

	done := make(chan models.AirdropStats, 1)
	go func() { done <- Calculate(entries, decimal.NewFromInt(5)) }()

	select {
	case s := <-done:
		assert.Equal(t, "1", s.TotalAmount)
		assert.Equal(t, 3, s.ValidRecipients)
		assert.False(t, s.InsufficientBalance)
	case <-time.After(5 * time.Second):
		t.Fatal("Calculate did not finish")
	}
}

func TestValidSum_NegativeCountsAsZero(t *testing.T) {
	entries := []models.RecipientEntry{
		entry("0xA", "10", true, models.StatusPending),
		entry("0xB", "-8", true, models.StatusPending),
	}

	assert.Equal(t, "10", ValidSum(entries).String())
	assert.True(t, Insufficient(entries, decimal.NewFromInt(5)))
}
