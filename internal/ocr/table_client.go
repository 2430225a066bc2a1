package ocr

import (
	"context"
	"fmt"

	"github.com/Harsh18999/permit-extract/internal/segmenter"
)

// ExtractRequest 表格提取请求参数
// 与原始应用的提取设置一一对应
type ExtractRequest struct {
	FileID           string `json:"file_id"`           // 文件ID
	FilePath         string `json:"file_path"`         // 文件存储路径
	FileName         string `json:"file_name"`         // 原始文件名
	Pages            []int  `json:"pages,omitempty"`   // 要提取的页码，空表示全部
	Lang             string `json:"lang"`              // OCR语言
	MinConfidence    int    `json:"min_confidence"`    // 最低OCR置信度
	ImplicitRows     bool   `json:"implicit_rows"`     // 检测隐式行
	ImplicitColumns  bool   `json:"implicit_columns"`  // 检测隐式列
	BorderlessTables bool   `json:"borderless_tables"` // 检测无边框表格
}

// TableGrid 一张识别出的通用2-D值表格
// 单元格值为文本、数值或null，与切分器的行类型一致
type TableGrid struct {
	Rows []segmenter.Row `json:"rows"`
}

// PageTables 一页上识别出的所有表格
type PageTables struct {
	Page   int         `json:"page"`
	Tables []TableGrid `json:"tables"`
}

// extractResponse 表格提取API的响应
type extractResponse struct {
	Success       bool         `json:"success"`
	FileID        string       `json:"file_id"`
	Pages         []PageTables `json:"pages"`
	ProcessTimeMs int          `json:"process_time_ms"`
	Error         string       `json:"error,omitempty"`
}

// TableClient 表格识别服务的客户端
// 上传的PDF由外部服务完成OCR和表格网格检测，
// 本客户端只拿到已解码的单元格值表格
type TableClient struct {
	client Client
}

// NewTableClient 创建一个新的表格识别客户端
func NewTableClient(client Client) *TableClient {
	return &TableClient{
		client: client,
	}
}

// ExtractTables 提取文档中的表格
// 返回按页码排列的表格网格，页内表格保持识别顺序
func (c *TableClient) ExtractTables(ctx context.Context, req *ExtractRequest) ([]PageTables, error) {
	if req == nil {
		return nil, fmt.Errorf("extract request cannot be nil")
	}
	if req.FileID == "" {
		return nil, fmt.Errorf("file ID cannot be empty")
	}

	// 未指定时使用客户端配置的默认值
	cfg := c.client.GetConfig()
	if req.Lang == "" {
		req.Lang = cfg.Lang
	}
	if req.MinConfidence == 0 {
		req.MinConfidence = cfg.MinConfidence
	}

	var resp extractResponse
	if err := c.client.Post(ctx, "/tables/extract", req, &resp); err != nil {
		return nil, fmt.Errorf("failed to call table extraction service: %w", err)
	}

	if !resp.Success {
		return nil, fmt.Errorf("table extraction failed: %s", resp.Error)
	}

	return resp.Pages, nil
}

// Health 检查表格识别服务是否可用
func (c *TableClient) Health(ctx context.Context) error {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.client.Get(ctx, "/health", &resp); err != nil {
		return fmt.Errorf("table extraction service unavailable: %w", err)
	}
	if resp.Status != "ok" {
		return fmt.Errorf("table extraction service unhealthy: %s", resp.Status)
	}
	return nil
}
