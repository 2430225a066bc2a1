package model

import (
	"time"
)

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`               // 响应状态码，0表示成功
	Message string      `json:"message"`            // 响应消息
	Data    interface{} `json:"data,omitempty"`     // 响应数据，可能为空
	TraceID string      `json:"trace_id,omitempty"` // 调用链追踪ID
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Code:    0,
		Message: "success",
		Data:    data,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code int, message string) *Response {
	return &Response{
		Code:    code,
		Message: message,
	}
}

// DocumentUploadResponse 文档上传响应
type DocumentUploadResponse struct {
	FileID    string `json:"file_id"`    // 文件ID
	FileName  string `json:"filename"`   // 文件名
	PageCount int    `json:"page_count"` // 文档页数(PDF)
	Status    string `json:"status"`     // 文档状态：uploaded、processing、completed、failed
}

// DocumentStatusResponse 文档状态查询响应
type DocumentStatusResponse struct {
	FileID     string `json:"file_id"`               // 文档ID
	Status     string `json:"status"`                // 处理状态
	FileName   string `json:"filename"`              // 文件名
	Progress   int    `json:"progress"`              // 处理进度(0-100)
	Stage      string `json:"stage,omitempty"`       // 当前处理阶段
	Error      string `json:"error,omitempty"`       // 错误信息（如果有）
	TableCount int    `json:"table_count,omitempty"` // 切分出的子表格数量（处理完成后）
	CreatedAt  string `json:"created_at"`            // 创建时间
	UpdatedAt  string `json:"updated_at"`            // 更新时间
}

// DocumentInfo 文档信息
type DocumentInfo struct {
	FileID     string    `json:"file_id"`     // 文件ID
	FileName   string    `json:"filename"`    // 文件名
	Status     string    `json:"status"`      // 状态
	Tags       string    `json:"tags"`        // 标签
	UploadTime time.Time `json:"upload_time"` // 上传时间
	PageCount  int       `json:"page_count"`  // 文档页数
	TableCount int       `json:"table_count"` // 子表格数量
	Progress   int       `json:"progress"`    // 处理进度
}

// DocumentListResponse 文档列表响应
type DocumentListResponse struct {
	Total     int            `json:"total"`     // 总数量
	Page      int            `json:"page"`      // 当前页码
	PageSize  int            `json:"page_size"` // 每页大小
	Documents []DocumentInfo `json:"documents"` // 文档列表
}

// DocumentDeleteResponse 文档删除响应
type DocumentDeleteResponse struct {
	Success bool   `json:"success"` // 是否成功
	FileID  string `json:"file_id"` // 文件ID
}

// TableInfo 子表格信息
type TableInfo struct {
	ID          uint             `json:"id"`           // 子表格ID
	DocumentID  string           `json:"document_id"`  // 所属文档ID
	Page        int              `json:"page"`         // 所在页码
	TableIndex  int              `json:"table_index"`  // 文档内的子表格序号
	TargetIndex int              `json:"target_index"` // 判定列在表头中的序号
	Headers     []string         `json:"headers"`      // 表头，按列序排列
	Rows        []map[string]any `json:"rows"`         // 数据行
	RowCount    int              `json:"row_count"`    // 数据行数量
}

// TableListResponse 子表格列表响应
type TableListResponse struct {
	DocumentID string      `json:"document_id"` // 文档ID
	Total      int         `json:"total"`       // 子表格总数
	Tables     []TableInfo `json:"tables"`      // 子表格列表
}

// PaginationResponse 分页响应信息
type PaginationResponse struct {
	Total    int `json:"total"`     // 总记录数
	Page     int `json:"page"`      // 当前页码
	PageSize int `json:"page_size"` // 每页大小
}
