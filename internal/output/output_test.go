package output

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"airdrop/internal/config"
	"airdrop/pkg/models"

	"github.com/IBM/sarama/mocks"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func sampleResult() *models.TransferResult {
	return &models.TransferResult{
		RunID:   "run-1",
		Index:   0,
		Address: "0x1234567890123456789012345678901234567890",
		Amount:  "100",
		Outcome: models.OutcomeSuccess,
		TxHash:  "0xabc",
	}
}

func readLines(t *testing.T, pattern string) []string {
	t.Helper()
	matches, err := filepath.Glob(pattern)
	require.NoError(t, err)
	require.Len(t, matches, 1)

	f, err := os.Open(matches[0])
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

func TestFileOutput(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	out, err := NewFileOutput(dir)
	require.NoError(t, err)

	require.NoError(t, out.WriteResult(sampleResult()))
	require.NoError(t, out.WriteResult(nil))
	report := &models.RunReport{ID: "run-1", StartedAt: time.Now(), Total: 1}
	report.Add(sampleResult())
	require.NoError(t, out.WriteReport(report))
	require.NoError(t, out.Close())
	require.NoError(t, out.Close())
	assert.Equal(t, dir, out.Dir())

	lines := readLines(t, filepath.Join(dir, "transfers_*.json"))
	require.Len(t, lines, 1)
	var got models.TransferResult
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &got))
	assert.Equal(t, "0xabc", got.TxHash)

	lines = readLines(t, filepath.Join(dir, "reports_*.json"))
	require.Len(t, lines, 1)
	assert.True(t, strings.Contains(lines[0], `"succeeded":1`))
}

func TestNewOutputFormats(t *testing.T) {
	out, err := NewOutput(&config.OutputConfig{Format: "none"}, quietLogger())
	require.NoError(t, err)
	assert.IsType(t, NopOutput{}, out)
	assert.NoError(t, out.WriteResult(sampleResult()))

	out, err = NewOutput(&config.OutputConfig{Format: "json", Directory: t.TempDir()}, quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &FileOutput{}, out)
	require.NoError(t, out.Close())

	_, err = NewOutput(&config.OutputConfig{Format: "xml"}, quietLogger())
	assert.Error(t, err)
}

func TestKafkaOutput(t *testing.T) {
	producer := mocks.NewSyncProducer(t, ProducerConfig())
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var r models.TransferResult
		if err := json.Unmarshal(val, &r); err != nil {
			return err
		}
		if r.TxHash != "0xabc" {
			return errors.New("unexpected tx hash")
		}
		return nil
	})
	producer.ExpectSendMessageAndSucceed()
	producer.ExpectSendMessageAndFail(errors.New("broker down"))

	out := NewKafkaOutputWithProducer(producer, map[string]string{"transfers": "t1"}, quietLogger())

	require.NoError(t, out.WriteResult(sampleResult()))
	require.NoError(t, out.WriteReport(&models.RunReport{ID: "run-1"}))
	assert.Error(t, out.WriteResult(sampleResult()))
	assert.NoError(t, out.WriteResult(nil))

	assert.Equal(t, "t1", out.topic("transfers", "x"))
	assert.Equal(t, "airdrop_reports", out.topic("reports", "airdrop_reports"))
	require.NoError(t, out.Close())
}
