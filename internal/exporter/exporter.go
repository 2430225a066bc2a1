package exporter

import (
	"errors"
	"fmt"
	"strconv"
)

// Format 导出格式
type Format string

const (
	// FormatCSV CSV格式
	FormatCSV Format = "csv"
	// FormatXLSX Excel格式
	FormatXLSX Format = "xlsx"
)

// ErrUnsupportedFormat 不支持的导出格式错误
var ErrUnsupportedFormat = errors.New("unsupported export format")

// Table 待导出的表格数据
// 表头顺序即输出列顺序，行记录中缺失的列输出为空
type Table struct {
	Name    string           // 表格名称，用作文件名或工作表名
	Headers []string         // 有序表头
	Rows    []map[string]any // 行记录
}

// ContentType 返回格式对应的MIME类型
func (f Format) ContentType() string {
	switch f {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "text/csv; charset=utf-8"
	}
}

// Extension 返回格式对应的文件扩展名
func (f Format) Extension() string {
	switch f {
	case FormatXLSX:
		return ".xlsx"
	default:
		return ".csv"
	}
}

// ParseFormat 解析导出格式字符串
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "csv":
		return FormatCSV, nil
	case "xlsx", "excel":
		return FormatXLSX, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Export 按指定格式导出表格
func Export(table *Table, format Format) ([]byte, error) {
	switch format {
	case FormatCSV:
		return ExportCSV(table)
	case FormatXLSX:
		return ExportXLSX(table)
	default:
		return nil, ErrUnsupportedFormat
	}
}

// cellString 将行记录中的单元格值转换为输出文本
func cellString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		// JSON解码的数值一律是float64，整数不带小数点输出
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
