package segmenter

// 韩国许可/合规表格的固定词汇表
// 这些字面量来自韩国建设许可审批表的标准用语，是精确的固定词汇集，
// 不是通用分类器；单独放在此文件中便于审计和独立测试

// triggerLiterals 触发单元格字面量
// 某个单元格去除所有空白字符后与其中之一完全相等时，该行被识别为表头行
var triggerLiterals = map[string]struct{}{
	"반영여부": {}, // "是否反映"
	"적합여부": {}, // "是否适合"
}

// acceptLiterals 接受字面量
// 目标单元格文本包含其中之一时，该行作为记录保留（先于拒绝集检查）
var acceptLiterals = []string{
	"반영",    // 反映
	"부분반영",  // 部分反映
	"권고",    // 劝告
	"적합",    // 适合
	"조건부적합", // 有条件适合
}

// rejectLiterals 拒绝字面量
// 仅在接受集未命中后检查；命中时跳过该行但表格保持活动状态
var rejectLiterals = []string{
	"미반영",     // 未反映
	"해당없음",    // 不适用
	"해당사항 없음", // 无相关事项
}
