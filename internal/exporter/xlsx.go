package exporter

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

// xlsx工作表名最长31个字符，超长截断
const maxSheetNameLen = 31

// ExportXLSX 将表格导出为xlsx工作簿
func ExportXLSX(table *Table) ([]byte, error) {
	if table == nil {
		return nil, fmt.Errorf("table cannot be nil")
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := sheetName(table.Name)
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("failed to set sheet name: %w", err)
	}

	// 写表头
	for col, header := range table.Headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, fmt.Errorf("failed to build cell name: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return nil, fmt.Errorf("failed to write header cell: %w", err)
		}
	}

	// 按表头顺序写入行记录
	for rowIdx, row := range table.Rows {
		for col, header := range table.Headers {
			cell, err := excelize.CoordinatesToCellName(col+1, rowIdx+2)
			if err != nil {
				return nil, fmt.Errorf("failed to build cell name: %w", err)
			}
			if err := f.SetCellValue(sheet, cell, cellString(row[header])); err != nil {
				return nil, fmt.Errorf("failed to write data cell: %w", err)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}

	return buf.Bytes(), nil
}

// sheetName 规范化工作表名
func sheetName(name string) string {
	if name == "" {
		return "Sheet1"
	}
	runes := []rune(name)
	if len(runes) > maxSheetNameLen {
		return string(runes[:maxSheetNameLen])
	}
	return name
}
