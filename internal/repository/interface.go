package repository

import (
	"context"

	"github.com/Harsh18999/permit-extract/internal/models"
	"github.com/Harsh18999/permit-extract/pkg/taskqueue"
)

// DocumentRepository 文档仓储接口
// 负责文档元数据和提取出的子表格的存储与检索
type DocumentRepository interface {
	// Create 创建文档记录
	Create(doc *models.Document) error

	// Update 更新文档记录
	Update(doc *models.Document) error

	// GetByID 根据ID获取文档
	GetByID(id string) (*models.Document, error)

	// List 列出文档列表，支持分页和筛选
	List(offset, limit int, filters map[string]interface{}) ([]*models.Document, int64, error)

	// Delete 删除文档
	Delete(id string) error

	// UpdateStatus 更新文档状态
	UpdateStatus(id string, status models.DocumentStatus, errorMsg string) error

	// UpdateProgress 更新文档处理进度
	UpdateProgress(id string, progress int) error

	// SaveTable 保存提取出的子表格
	SaveTable(table *models.PermitTable) error

	// SaveTables 批量保存子表格
	SaveTables(tables []*models.PermitTable) error

	// GetTables 获取文档的所有子表格
	GetTables(docID string) ([]*models.PermitTable, error)

	// GetTableByID 根据主键获取子表格
	GetTableByID(id uint) (*models.PermitTable, error)

	// CountTables 统计文档的子表格数量
	CountTables(docID string) (int, error)

	// DeleteTables 删除文档的所有子表格
	DeleteTables(docID string) error

	// CreateTask 创建任务并关联到文档
	CreateTask(ctx context.Context, taskType taskqueue.TaskType, documentID string, payload interface{}) (string, error)

	// GetTaskByID 根据ID获取任务
	GetTaskByID(ctx context.Context, taskID string) (*taskqueue.Task, error)

	// GetDocumentTasks 获取文档相关的所有任务
	GetDocumentTasks(ctx context.Context, documentID string) ([]*taskqueue.Task, error)

	// UpdateTaskStatus 更新任务状态并同步文档状态
	UpdateTaskStatus(ctx context.Context, taskID string, status taskqueue.TaskStatus, result interface{}, errorMsg string) error

	// DeleteTask 删除任务
	DeleteTask(ctx context.Context, taskID string) error
}
