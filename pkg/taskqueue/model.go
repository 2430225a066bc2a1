package taskqueue

import (
	"encoding/json"
	"time"
)

// TaskType 任务类型
type TaskType string

const (
	// TaskTableExtract 表格识别任务
	TaskTableExtract TaskType = "table_extract"
	// TaskProcessComplete 文档处理完整流程任务
	TaskProcessComplete TaskType = "process_complete"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	// StatusPending 等待处理
	StatusPending TaskStatus = "pending"
	// StatusProcessing 处理中
	StatusProcessing TaskStatus = "processing"
	// StatusCompleted 已完成
	StatusCompleted TaskStatus = "completed"
	// StatusFailed 处理失败
	StatusFailed TaskStatus = "failed"
)

// Task 任务基础结构
type Task struct {
	ID          string          `json:"id"`           // 任务唯一标识符
	Type        TaskType        `json:"type"`         // 任务类型
	DocumentID  string          `json:"document_id"`  // 关联的文档ID
	Status      TaskStatus      `json:"status"`       // 任务状态
	Payload     json.RawMessage `json:"payload"`      // 任务载荷数据，不同任务类型对应不同结构
	Result      json.RawMessage `json:"result"`       // 任务结果数据，不同任务类型对应不同结构
	Error       string          `json:"error"`        // 错误信息（如果处理失败）
	CreatedAt   time.Time       `json:"created_at"`   // 创建时间
	UpdatedAt   time.Time       `json:"updated_at"`   // 更新时间
	StartedAt   *time.Time      `json:"started_at"`   // 开始处理时间
	CompletedAt *time.Time      `json:"completed_at"` // 完成时间
	Attempts    int             `json:"attempts"`     // 尝试次数
	MaxRetries  int             `json:"max_retries"`  // 最大重试次数
}

// TableExtractPayload 表格识别任务载荷
type TableExtractPayload struct {
	FilePath      string            `json:"file_path"`      // 文件存储路径
	FileName      string            `json:"file_name"`      // 文件名
	FileType      string            `json:"file_type"`      // 文件类型
	Pages         []int             `json:"pages"`          // 要识别的页码，空表示全部
	Lang          string            `json:"lang"`           // OCR语言
	MinConfidence int               `json:"min_confidence"` // 最低OCR置信度
	Metadata      map[string]string `json:"metadata"`       // 元数据
}

// TableExtractResult 表格识别任务结果
type TableExtractResult struct {
	DocumentID string `json:"document_id"` // 文档ID
	PageCount  int    `json:"page_count"`  // 识别的页数
	GridCount  int    `json:"grid_count"`  // 识别出的原始表格数量
	Error      string `json:"error"`       // 错误信息（如果有）
}

// ProcessCompletePayload 完整处理流程任务载荷
// 覆盖表格识别与表格切分两个阶段
type ProcessCompletePayload struct {
	DocumentID    string            `json:"document_id"`    // 文档ID
	FilePath      string            `json:"file_path"`      // 文件路径
	FileName      string            `json:"file_name"`      // 文件名
	FileType      string            `json:"file_type"`      // 文件类型
	Pages         []int             `json:"pages"`          // 要识别的页码，空表示全部
	Lang          string            `json:"lang"`           // OCR语言
	MinConfidence int               `json:"min_confidence"` // 最低OCR置信度
	Metadata      map[string]string `json:"metadata"`       // 元数据
}

// ProcessCompleteResult 完整处理流程结果
type ProcessCompleteResult struct {
	DocumentID    string `json:"document_id"`    // 文档ID
	PageCount     int    `json:"page_count"`     // 识别的页数
	GridCount     int    `json:"grid_count"`     // 识别出的原始表格数量
	TableCount    int    `json:"table_count"`    // 切分出的子表格数量
	RowCount      int    `json:"row_count"`      // 所有子表格的行记录总数
	ExtractStatus string `json:"extract_status"` // 表格识别状态
	SegmentStatus string `json:"segment_status"` // 表格切分状态
	Error         string `json:"error"`          // 错误信息（如果有）
}

// TaskCallback 任务回调信息
type TaskCallback struct {
	TaskID     string          `json:"task_id"`     // 任务ID
	DocumentID string          `json:"document_id"` // 文档ID
	Status     TaskStatus      `json:"status"`      // 任务状态
	Type       TaskType        `json:"type"`        // 任务类型
	Result     json.RawMessage `json:"result"`      // 任务结果
	Error      string          `json:"error"`       // 错误信息
	Timestamp  time.Time       `json:"timestamp"`   // 回调时间戳
}
