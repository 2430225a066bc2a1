package segmenter

import (
	"sort"
	"strings"
	"unicode"
)

// Row 一行有序的单元格值
// 单元格值可能是文本(string)、数值(JSON解码后为float64)或缺失(nil)；
// 行由外部的表格识别服务提供，本包从不修改它
type Row []any

// ColumnMap 列索引到表头名称的映射
// 从触发行构建，同一文本值只记录首次出现的索引
type ColumnMap map[int]string

// RowRecord 一条行记录：表头名称到单元格值的映射
type RowRecord map[string]any

// ExtractedTable 一个被切分出的子表格
// 在触发单元格被识别的瞬间创建，活动期间只追加行记录，
// 终止后整体追加到输出序列
type ExtractedTable struct {
	Columns     ColumnMap   `json:"columns"`      // 列映射，可能为空
	TargetIndex int         `json:"target_index"` // 目标列索引，创建后不再变化
	Rows        []RowRecord `json:"rows"`         // 行记录，保持输入顺序
}

// Headers 按列索引升序返回表头名称
// 导出层依赖这个确定性的列顺序
func (t *ExtractedTable) Headers() []string {
	indexes := make([]int, 0, len(t.Columns))
	for idx := range t.Columns {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	headers := make([]string, 0, len(indexes))
	for _, idx := range indexes {
		headers = append(headers, t.Columns[idx])
	}
	return headers
}

// rowClass 活动状态下目标单元格值的分类结果
type rowClass int

const (
	classKeep      rowClass = iota // 保留该行
	classSkip                      // 跳过该行，表格保持活动
	classTerminate                 // 终止当前表格
)

// Segment 将有序的行序列切分为零个或多个子表格
//
// 单次前向扫描的有限状态机：非活动状态下逐行寻找触发单元格，
// 找到后以该行构建列映射并进入活动状态；活动状态下根据目标列
// 的值决定保留、跳过或终止。终止行会在非活动状态下被重新评估，
// 它本身可能就是下一个表头行。输入耗尽时冲刷仍活动的表格。
//
// 纯函数：所有状态局限于本次调用的栈帧，可以在独立的行序列上
// 并发调用
func Segment(rows []Row) []ExtractedTable {
	var tables []ExtractedTable
	var current *ExtractedTable

	for _, row := range rows {
		if current != nil {
			switch classify(cellAt(row, current.TargetIndex)) {
			case classKeep:
				current.Rows = append(current.Rows, project(row, current.Columns))
				continue
			case classSkip:
				continue
			case classTerminate:
				tables = append(tables, *current)
				current = nil
				// 该行接着在非活动状态下重新评估
			}
		}

		if idx, ok := findTrigger(row); ok {
			current = &ExtractedTable{
				Columns:     extractColumns(row),
				TargetIndex: idx,
				Rows:        []RowRecord{},
			}
		}
	}

	// 输入耗尽，冲刷仍活动的表格
	if current != nil {
		tables = append(tables, *current)
	}

	return tables
}

// findTrigger 从左到右扫描，返回首个触发单元格的索引
// 触发判定对空白不敏感：去除所有空白字符后与触发字面量完全相等
func findTrigger(row Row) (int, bool) {
	for idx, cell := range row {
		text, ok := cell.(string)
		if !ok {
			continue
		}
		if _, hit := triggerLiterals[stripSpace(text)]; hit {
			return idx, true
		}
	}
	return 0, false
}

// extractColumns 从触发行构建列映射
// 只记录文本单元格，同一值首次出现的索引优先；空文本不构成表头
func extractColumns(row Row) ColumnMap {
	columns := make(ColumnMap)
	seen := make(map[string]struct{})

	for idx, cell := range row {
		text, ok := cell.(string)
		if !ok || text == "" {
			continue
		}
		if _, dup := seen[text]; dup {
			continue
		}
		columns[idx] = text
		seen[text] = struct{}{}
	}

	return columns
}

// classify 对目标单元格的值分类
// 接受集先于拒绝集检查；非文本值一律终止。
// 空白不敏感仅适用于触发判定，这里是对原始值的精确子串包含
func classify(value any) rowClass {
	text, ok := value.(string)
	if !ok {
		return classTerminate
	}

	for _, lit := range acceptLiterals {
		if strings.Contains(text, lit) {
			return classKeep
		}
	}
	for _, lit := range rejectLiterals {
		if strings.Contains(text, lit) {
			return classSkip
		}
	}
	return classTerminate
}

// project 将源行按列映射投影为行记录
// 目标列若在列映射中，其值与其他列一样被投影
func project(row Row, columns ColumnMap) RowRecord {
	record := make(RowRecord, len(columns))
	for idx, header := range columns {
		if idx < len(row) {
			record[header] = row[idx]
		}
	}
	return record
}

// cellAt 带边界检查的单元格访问
// 行长度不足时视为空值，不会越界
func cellAt(row Row, idx int) any {
	if idx < len(row) {
		return row[idx]
	}
	return ""
}

// stripSpace 去除字符串中的所有空白字符
func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
