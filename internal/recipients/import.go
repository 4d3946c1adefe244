package recipients

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"airdrop/pkg/models"
)

// TemplateHeader CSV模板表头
const TemplateHeader = "address,amount"

// Import 导入换行分隔的"address,amount"文本；
// 任一字段为空的行直接跳过，每条记录独立校验后追加，不合并不去重
func (l *List) Import(text string) []models.RecipientEntry {
	var records []record
	for _, line := range strings.Split(text, "\n") {
		if rec, ok := parseLine(line); ok {
			records = append(records, rec)
		}
	}
	return l.appendRecords(records)
}

// ImportReader 从流中导入，用于文件上传；读取出错时不导入任何记录
func (l *List) ImportReader(r io.Reader) ([]models.RecipientEntry, error) {
	records, err := readRecords(r)
	if err != nil {
		return nil, fmt.Errorf("读取导入内容失败: %w", err)
	}
	return l.appendRecords(records), nil
}

type record struct {
	address string
	amount  string
}

func (l *List) appendRecords(records []record) []models.RecipientEntry {
	if len(records) == 0 {
		return nil
	}

	l.mu.Lock()
	added := make([]models.RecipientEntry, 0, len(records))
	for _, rec := range records {
		added = append(added, l.appendLocked(rec.address, rec.amount).Clone())
	}
	l.mu.Unlock()

	l.logger.Debugf("导入接收方 %d 条", len(added))
	l.publish()
	return added
}

// readRecords 逐行读取，行长度不设上限
func readRecords(r io.Reader) ([]record, error) {
	reader := bufio.NewReader(r)

	var records []record
	for {
		line, err := reader.ReadString('\n')
		if rec, ok := parseLine(line); ok {
			records = append(records, rec)
		}
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// parseLine 按逗号拆分，只取前两列
func parseLine(line string) (record, bool) {
	parts := strings.Split(strings.TrimRight(line, "\r\n"), ",")
	if len(parts) < 2 {
		return record{}, false
	}
	address := strings.TrimSpace(parts[0])
	amount := strings.TrimSpace(parts[1])
	if address == "" || amount == "" {
		return record{}, false
	}
	return record{address: address, amount: amount}, true
}

// StripHeader 去掉开头的模板表头行
func StripHeader(text string) string {
	trimmed := strings.TrimLeft(text, "\ufeff \t\r\n")
	first, rest, found := strings.Cut(trimmed, "\n")
	if strings.EqualFold(strings.TrimSpace(first), TemplateHeader) {
		if !found {
			return ""
		}
		return rest
	}
	return text
}

// Template 下载用的CSV模板，表头加两行示例
func Template() string {
	var sb strings.Builder
	sb.WriteString(TemplateHeader + "\n")
	sb.WriteString("0x1234567890123456789012345678901234567890,100\n")
	sb.WriteString("0x0987654321098765432109876543210987654321,250\n")
	return sb.String()
}
