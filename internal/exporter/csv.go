package exporter

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// utf8BOM UTF-8字节顺序标记
// Excel打开CSV时依赖BOM才能正确识别韩文编码
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ExportCSV 将表格导出为带BOM的UTF-8 CSV
func ExportCSV(table *Table) ([]byte, error) {
	if table == nil {
		return nil, fmt.Errorf("table cannot be nil")
	}

	var buf bytes.Buffer
	buf.Write(utf8BOM)

	w := csv.NewWriter(&buf)

	// 写表头
	if err := w.Write(table.Headers); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}

	// 按表头顺序写入每条行记录
	record := make([]string, len(table.Headers))
	for _, row := range table.Rows {
		for i, header := range table.Headers {
			record[i] = cellString(row[header])
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write csv record: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush csv writer: %w", err)
	}

	return buf.Bytes(), nil
}
