package model

import (
	"fmt"
	"mime/multipart"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// 分页请求参数
type PaginationRequest struct {
	Page     int `form:"page" json:"page" binding:"omitempty,min=1"`           // 当前页码，从1开始
	PageSize int `form:"page_size" json:"page_size" binding:"omitempty,min=1"` // 每页记录数
}

// GetPage 获取页码，默认为1
func (p *PaginationRequest) GetPage() int {
	if p.Page <= 0 {
		return 1
	}
	return p.Page
}

// GetPageSize 获取每页记录数，默认为10，最大为100
func (p *PaginationRequest) GetPageSize() int {
	if p.PageSize <= 0 {
		return 10
	}
	if p.PageSize > 100 {
		return 100
	}
	return p.PageSize
}

// DocumentUploadRequest 文档上传请求
type DocumentUploadRequest struct {
	File          *multipart.FileHeader `form:"file" binding:"required"`                                  // 文件对象
	Pages         string                `form:"pages" json:"pages" binding:"omitempty,pagerange"`         // 要识别的页码，如 "1,3,5-7"，空表示全部
	Lang          string                `form:"lang" json:"lang" binding:"omitempty"`                     // OCR语言，空使用服务默认值
	MinConfidence int                   `form:"min_confidence" json:"min_confidence" binding:"omitempty,min=0,max=100"` // 最低OCR置信度
	Tags          string                `form:"tags" json:"tags" binding:"omitempty"`                     // 文档标签，逗号分隔
}

// pageRangePattern 页码范围语法: 逗号分隔的页码或区间
var pageRangePattern = regexp.MustCompile(`^\d+(-\d+)?(,\d+(-\d+)?)*$`)

// ValidPageRange 检查页码范围表达式是否合法
func ValidPageRange(expr string) bool {
	return pageRangePattern.MatchString(strings.ReplaceAll(expr, " ", ""))
}

// ParsePages 解析页码范围表达式为有序去重的页码列表
// 支持 "1,2,5-7" 形式，页码从1开始
func ParsePages(expr string) ([]int, error) {
	expr = strings.ReplaceAll(expr, " ", "")
	if expr == "" {
		return nil, nil
	}
	if !ValidPageRange(expr) {
		return nil, fmt.Errorf("invalid page range: %s", expr)
	}

	seen := make(map[int]bool)
	for _, part := range strings.Split(expr, ",") {
		if strings.Contains(part, "-") {
			bounds := strings.SplitN(part, "-", 2)
			start, err := strconv.Atoi(bounds[0])
			if err != nil {
				return nil, fmt.Errorf("invalid page number: %s", bounds[0])
			}
			end, err := strconv.Atoi(bounds[1])
			if err != nil {
				return nil, fmt.Errorf("invalid page number: %s", bounds[1])
			}
			if start < 1 || end < start {
				return nil, fmt.Errorf("invalid page range: %s", part)
			}
			for p := start; p <= end; p++ {
				seen[p] = true
			}
		} else {
			p, err := strconv.Atoi(part)
			if err != nil || p < 1 {
				return nil, fmt.Errorf("invalid page number: %s", part)
			}
			seen[p] = true
		}
	}

	pages := make([]int, 0, len(seen))
	for p := range seen {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return pages, nil
}

// DocumentStatusRequest 文档状态查询请求
type DocumentStatusRequest struct {
	ID string `uri:"id" binding:"required"` // 文档ID
}

// DocumentListRequest 文档列表请求
type DocumentListRequest struct {
	PaginationRequest
	StartTime *time.Time `form:"start_time" json:"start_time" binding:"omitempty"` // 开始时间
	EndTime   *time.Time `form:"end_time" json:"end_time" binding:"omitempty"`     // 结束时间
	Status    string     `form:"status" json:"status" binding:"omitempty"`         // 文档状态
	Tags      string     `form:"tags" json:"tags" binding:"omitempty"`             // 标签过滤
	FileName  string     `form:"file_name" json:"file_name" binding:"omitempty"`   // 文件名模糊过滤
}

// DocumentDeleteRequest 文档删除请求
type DocumentDeleteRequest struct {
	ID string `uri:"id" binding:"required"` // 文档ID
}

// DocumentTagsRequest 文档标签更新请求
type DocumentTagsRequest struct {
	Tags string `json:"tags" binding:"required"` // 新的标签，逗号分隔
}

// TableListRequest 子表格列表请求
type TableListRequest struct {
	ID string `uri:"id" binding:"required"` // 文档ID
}

// TableExportRequest 子表格导出请求
type TableExportRequest struct {
	ID     uint   `uri:"id" binding:"required"`                                // 子表格ID
	Format string `form:"format" binding:"omitempty,oneof=csv xlsx excel"` // 导出格式，默认csv
}
