package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/Harsh18999/permit-extract/internal/cache"
	"github.com/Harsh18999/permit-extract/internal/exporter"
	"github.com/Harsh18999/permit-extract/internal/models"
	"github.com/Harsh18999/permit-extract/internal/ocr"
	"github.com/Harsh18999/permit-extract/internal/repository"
	"github.com/Harsh18999/permit-extract/internal/segmenter"
	"github.com/Harsh18999/permit-extract/pkg/storage"
	"github.com/Harsh18999/permit-extract/pkg/taskqueue"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// 子表格列表的缓存键前缀
const tableCachePrefix = "tables"

// 子表格列表的缓存过期时间
const tableCacheTTL = time.Hour

// ExtractionService 许可文书提取服务
// 负责协调表格识别、表格切分、入库和导出
type ExtractionService struct {
	storage       storage.Storage               // 文件存储服务
	tables        *ocr.TableClient              // 表格识别客户端
	repo          repository.DocumentRepository // 文档元数据存储
	statusManager *DocumentStatusManager        // 文档状态管理器
	taskQueue     taskqueue.Queue               // 任务队列
	cache         cache.Cache                   // 结果缓存
	asyncEnabled  bool                          // 是否启用异步处理
	timeout       time.Duration                 // 处理超时时间
	logger        *logrus.Logger                // 日志记录器
}

// ExtractionOption 提取服务配置选项
type ExtractionOption func(*ExtractionService)

// NewExtractionService 创建一个新的提取服务
func NewExtractionService(
	storage storage.Storage,
	tables *ocr.TableClient,
	opts ...ExtractionOption,
) *ExtractionService {
	// 创建服务实例
	srv := &ExtractionService{
		storage:      storage,
		tables:       tables,
		timeout:      time.Minute * 5, // 默认超时时间
		logger:       logrus.New(),    // 默认日志记录器
		asyncEnabled: false,           // 默认不启用异步处理
	}

	// 应用配置选项
	for _, opt := range opts {
		opt(srv)
	}

	return srv
}

// WithTimeout 设置处理超时时间
func WithTimeout(timeout time.Duration) ExtractionOption {
	return func(s *ExtractionService) {
		s.timeout = timeout
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) ExtractionOption {
	return func(s *ExtractionService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDocumentRepository 设置文档仓储
func WithDocumentRepository(repo repository.DocumentRepository) ExtractionOption {
	return func(s *ExtractionService) {
		s.repo = repo
	}
}

// WithStatusManager 设置状态管理器
func WithStatusManager(manager *DocumentStatusManager) ExtractionOption {
	return func(s *ExtractionService) {
		s.statusManager = manager
	}
}

// WithTaskQueue 设置任务队列
func WithTaskQueue(queue taskqueue.Queue) ExtractionOption {
	return func(s *ExtractionService) {
		s.taskQueue = queue
		s.asyncEnabled = queue != nil
	}
}

// WithCache 设置结果缓存
func WithCache(c cache.Cache) ExtractionOption {
	return func(s *ExtractionService) {
		s.cache = c
	}
}

// WithAsyncProcessing 设置是否启用异步处理
func WithAsyncProcessing(enabled bool) ExtractionOption {
	return func(s *ExtractionService) {
		s.asyncEnabled = enabled
	}
}

// Init 初始化提取服务
// 确保必要的依赖都已设置
func (s *ExtractionService) Init() error {
	// 如果没有设置仓储，创建默认仓储
	if s.repo == nil {
		s.repo = repository.NewDocumentRepository()
	}

	// 如果没有设置状态管理器，创建默认状态管理器
	if s.statusManager == nil {
		s.statusManager = NewDocumentStatusManager(s.repo, s.logger)
	}

	return nil
}

// ProcessOptions 文档处理选项
type ProcessOptions struct {
	Pages         []int  // 要识别的页码，空表示全部
	Lang          string // OCR语言，空使用客户端默认值
	MinConfidence int    // 最低OCR置信度，0使用客户端默认值
}

// ProcessDocument 处理文档(表格识别、切分、入库)
func (s *ExtractionService) ProcessDocument(ctx context.Context, fileID string, filePath string, opts *ProcessOptions) error {
	// 确保初始化完成
	if err := s.Init(); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"file_id":   fileID,
		"file_path": filePath,
	}).Info("Starting document processing")

	// 检查输入参数
	if fileID == "" {
		return errors.New("fileID cannot be empty")
	}
	if filePath == "" {
		return errors.New("filePath cannot be empty")
	}

	if opts == nil {
		opts = &ProcessOptions{}
	}

	// 如果启用异步处理并且任务队列已配置，使用任务队列处理
	if s.asyncEnabled && s.taskQueue != nil {
		return s.processDocumentAsync(ctx, fileID, filePath, opts)
	}

	// 否则，使用同步方式处理
	return s.processDocumentSync(ctx, fileID, filePath, opts)
}

// processDocumentAsync 异步处理文档
// 将任务加入队列并立即返回
func (s *ExtractionService) processDocumentAsync(ctx context.Context, fileID string, filePath string, opts *ProcessOptions) error {
	s.logger.WithFields(logrus.Fields{
		"file_id":   fileID,
		"file_path": filePath,
	}).Info("Enqueuing document for async processing")

	// 更新文档状态为处理中
	if err := s.statusManager.MarkAsProcessing(ctx, fileID); err != nil {
		s.logger.WithError(err).Error("Failed to mark document as processing")
		// 继续处理，不中断
	}

	// 创建处理任务载荷
	fileName := filepath.Base(filePath)
	fileType := strings.TrimPrefix(filepath.Ext(fileName), ".")

	payload := taskqueue.ProcessCompletePayload{
		DocumentID:    fileID,
		FilePath:      filePath,
		FileName:      fileName,
		FileType:      fileType,
		Pages:         opts.Pages,
		Lang:          opts.Lang,
		MinConfidence: opts.MinConfidence,
		Metadata: map[string]string{
			"source":     "api",
			"created_by": "extraction_service",
		},
	}

	// 创建任务
	taskID, err := s.repo.CreateTask(ctx, taskqueue.TaskProcessComplete, fileID, payload)
	if err != nil {
		s.failDocument(ctx, fileID, fmt.Sprintf("failed to create processing task: %v", err))
		return fmt.Errorf("failed to create processing task: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"file_id": fileID,
		"task_id": taskID,
	}).Info("Document processing task created successfully")

	return nil
}

// processDocumentSync 同步处理文档
// 直接在当前进程中完成识别与切分
func (s *ExtractionService) processDocumentSync(ctx context.Context, fileID string, filePath string, opts *ProcessOptions) error {
	// 设置上下文超时
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// 更新文档状态为处理中
	if err := s.statusManager.MarkAsProcessing(ctx, fileID); err != nil {
		s.logger.WithError(err).Error("Failed to mark document as processing")
		// 继续处理，不中断
	}

	// 表格识别阶段
	if err := s.statusManager.UpdateStage(ctx, fileID, models.StageExtracting); err != nil {
		s.logger.WithError(err).Warn("Failed to update document stage")
	}

	pages, err := s.extractTables(ctx, fileID, filePath, opts)
	if err != nil {
		s.failDocument(ctx, fileID, fmt.Sprintf("failed to extract tables: %v", err))
		return fmt.Errorf("failed to extract tables: %w", err)
	}

	if err := s.statusManager.UpdateProgress(ctx, fileID, 20); err != nil {
		s.logger.WithError(err).Warn("Failed to update document progress")
	}

	// 表格切分阶段
	if err := s.statusManager.UpdateStage(ctx, fileID, models.StageSegmenting); err != nil {
		s.logger.WithError(err).Warn("Failed to update document stage")
	}

	tables := s.segmentPages(fileID, pages)

	if err := s.statusManager.UpdateProgress(ctx, fileID, 60); err != nil {
		s.logger.WithError(err).Warn("Failed to update document progress")
	}

	// 入库并失效缓存
	if err := s.repo.SaveTables(tables); err != nil {
		s.failDocument(ctx, fileID, fmt.Sprintf("failed to save tables: %v", err))
		return fmt.Errorf("failed to save tables: %w", err)
	}
	s.invalidateTableCache(fileID)

	if err := s.statusManager.UpdateProgress(ctx, fileID, 90); err != nil {
		s.logger.WithError(err).Warn("Failed to update document progress")
	}

	// 文档处理完成，更新状态
	if err := s.statusManager.MarkAsCompleted(ctx, fileID, len(tables)); err != nil {
		s.logger.WithError(err).Error("Failed to mark document as completed")
		// 虽然状态更新失败，但文档处理成功，所以不返回错误
	}

	s.logger.WithFields(logrus.Fields{
		"file_id":     fileID,
		"table_count": len(tables),
	}).Info("Document processing completed successfully")

	return nil
}

// extractTables 调用表格识别服务获取文档的原始表格
func (s *ExtractionService) extractTables(ctx context.Context, fileID string, filePath string, opts *ProcessOptions) ([]ocr.PageTables, error) {
	req := &ocr.ExtractRequest{
		FileID:           fileID,
		FilePath:         filePath,
		FileName:         filepath.Base(filePath),
		Pages:            opts.Pages,
		Lang:             opts.Lang,
		MinConfidence:    opts.MinConfidence,
		ImplicitRows:     true,
		ImplicitColumns:  true,
		BorderlessTables: true,
	}

	return s.tables.ExtractTables(ctx, req)
}

// segmentPages 对每个识别出的表格网格执行切分
// 切分结果按页码和网格顺序编号，保证与文档中的出现顺序一致
func (s *ExtractionService) segmentPages(fileID string, pages []ocr.PageTables) []*models.PermitTable {
	var tables []*models.PermitTable
	tableIndex := 0

	for _, page := range pages {
		for _, grid := range page.Tables {
			for _, extracted := range segmenter.Segment(grid.Rows) {
				record, err := s.buildTableRecord(fileID, page.Page, tableIndex, &extracted)
				if err != nil {
					s.logger.WithError(err).WithFields(logrus.Fields{
						"file_id": fileID,
						"page":    page.Page,
					}).Error("Failed to encode extracted table")
					continue
				}
				tables = append(tables, record)
				tableIndex++
			}
		}
	}

	return tables
}

// buildTableRecord 将切分结果转换为数据库记录
func (s *ExtractionService) buildTableRecord(fileID string, page int, index int, table *segmenter.ExtractedTable) (*models.PermitTable, error) {
	columns, err := json.Marshal(table.Columns)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal columns: %w", err)
	}

	rows, err := json.Marshal(table.Rows)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rows: %w", err)
	}

	return &models.PermitTable{
		DocumentID:  fileID,
		Page:        page,
		TableIndex:  index,
		TargetIndex: table.TargetIndex,
		Columns:     datatypes.JSON(columns),
		Rows:        datatypes.JSON(rows),
		RowCount:    len(table.Rows),
	}, nil
}

// GetDocumentTables 获取文档的所有子表格
// 优先读取缓存，未命中时回源数据库并回填
func (s *ExtractionService) GetDocumentTables(ctx context.Context, fileID string) ([]*models.PermitTable, error) {
	// 确保初始化完成
	if err := s.Init(); err != nil {
		return nil, err
	}

	cacheKey := cache.GenerateCacheKey(tableCachePrefix, fileID)

	// 尝试从缓存获取
	if s.cache != nil {
		if cached, found, err := s.cache.Get(cacheKey); err == nil && found {
			var tables []*models.PermitTable
			if err := json.Unmarshal([]byte(cached), &tables); err == nil {
				return tables, nil
			}
			// 缓存内容损坏，删除后回源
			_ = s.cache.Delete(cacheKey)
		}
	}

	tables, err := s.repo.GetTables(fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to get tables: %w", err)
	}

	// 回填缓存
	if s.cache != nil {
		if data, err := json.Marshal(tables); err == nil {
			if err := s.cache.Set(cacheKey, string(data), tableCacheTTL); err != nil {
				s.logger.WithError(err).Warn("Failed to cache document tables")
			}
		}
	}

	return tables, nil
}

// invalidateTableCache 失效文档的子表格缓存
func (s *ExtractionService) invalidateTableCache(fileID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(cache.GenerateCacheKey(tableCachePrefix, fileID)); err != nil {
		s.logger.WithError(err).Warn("Failed to invalidate table cache")
	}
}

// ExportTable 按指定格式导出子表格
// 返回下载文件名和文件内容
func (s *ExtractionService) ExportTable(ctx context.Context, tableID uint, format exporter.Format) (string, []byte, error) {
	// 确保初始化完成
	if err := s.Init(); err != nil {
		return "", nil, err
	}

	// 获取子表格记录
	table, err := s.repo.GetTableByID(tableID)
	if err != nil {
		return "", nil, fmt.Errorf("failed to get table: %w", err)
	}

	// 获取所属文档，用于构造文件名
	doc, err := s.repo.GetByID(table.DocumentID)
	if err != nil {
		return "", nil, fmt.Errorf("failed to get document: %w", err)
	}

	exportTable, err := buildExportTable(doc, table)
	if err != nil {
		return "", nil, err
	}

	data, err := exporter.Export(exportTable, format)
	if err != nil {
		return "", nil, fmt.Errorf("failed to export table: %w", err)
	}

	filename := exportTable.Name + format.Extension()

	s.logger.WithFields(logrus.Fields{
		"table_id": tableID,
		"format":   format,
		"filename": filename,
	}).Info("Table exported successfully")

	return filename, data, nil
}

// buildExportTable 将数据库记录解码为导出表格
func buildExportTable(doc *models.Document, table *models.PermitTable) (*exporter.Table, error) {
	var columns segmenter.ColumnMap
	if err := json.Unmarshal(table.Columns, &columns); err != nil {
		return nil, fmt.Errorf("failed to unmarshal columns: %w", err)
	}

	var rows []segmenter.RowRecord
	if err := json.Unmarshal(table.Rows, &rows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rows: %w", err)
	}

	// 通过ColumnMap恢复确定性的表头顺序
	extracted := segmenter.ExtractedTable{Columns: columns}
	headers := extracted.Headers()

	exportRows := make([]map[string]any, len(rows))
	for i, row := range rows {
		exportRows[i] = row
	}

	base := strings.TrimSuffix(doc.FileName, filepath.Ext(doc.FileName))
	name := fmt.Sprintf("%s_table_%d", base, table.TableIndex+1)

	return &exporter.Table{
		Name:    name,
		Headers: headers,
		Rows:    exportRows,
	}, nil
}

// DeleteDocument 删除文档及其相关数据
func (s *ExtractionService) DeleteDocument(ctx context.Context, fileID string) error {
	// 确保初始化完成
	if err := s.Init(); err != nil {
		return err
	}

	s.logger.WithField("file_id", fileID).Info("Deleting document")

	// 1. 从存储中删除文件
	if err := s.storage.Delete(fileID); err != nil {
		// 文件可能已被删除，记录错误但不中断流程
		s.logger.WithError(err).Warn("Failed to delete file from storage")
	}

	// 2. 删除文档记录和子表格(事务内完成)
	if err := s.statusManager.DeleteDocument(ctx, fileID); err != nil {
		s.logger.WithError(err).Error("Failed to delete document record")
		return fmt.Errorf("failed to delete document record: %w", err)
	}

	// 3. 失效缓存
	s.invalidateTableCache(fileID)

	// 4. 如果任务队列已配置，删除相关任务
	if s.taskQueue != nil {
		tasks, err := s.repo.GetDocumentTasks(ctx, fileID)
		if err == nil && len(tasks) > 0 {
			for _, task := range tasks {
				if err := s.repo.DeleteTask(ctx, task.ID); err != nil {
					s.logger.WithError(err).WithField("task_id", task.ID).Warn("Failed to delete document task")
				}
			}
		}
	}

	s.logger.WithField("file_id", fileID).Info("Document deleted successfully")
	return nil
}

// GetDocumentInfo 获取文档信息
func (s *ExtractionService) GetDocumentInfo(ctx context.Context, fileID string) (map[string]interface{}, error) {
	// 确保初始化完成
	if err := s.Init(); err != nil {
		return nil, err
	}

	// 获取文档状态
	doc, err := s.statusManager.GetDocument(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	// 构建文档信息
	info := map[string]interface{}{
		"file_id":     doc.ID,
		"filename":    doc.FileName,
		"status":      doc.Status,
		"created_at":  doc.UploadedAt.Format(time.RFC3339),
		"updated_at":  doc.UpdatedAt.Format(time.RFC3339),
		"size":        doc.FileSize,
		"page_count":  doc.PageCount,
		"progress":    doc.Progress,
		"table_count": doc.TableCount,
	}

	// 如果有处理阶段，添加到返回结果
	if doc.CurrentStage != "" {
		info["stage"] = doc.CurrentStage
	}

	// 如果有错误信息，添加到返回结果
	if doc.Error != "" {
		info["error"] = doc.Error
	}

	// 如果有处理完成时间，添加到返回结果
	if doc.ProcessedAt != nil {
		info["processed_at"] = doc.ProcessedAt.Format(time.RFC3339)
	}

	// 如果有标签，添加到返回结果
	if doc.Tags != "" {
		info["tags"] = doc.Tags
	}

	// 如果启用了异步处理，尝试获取相关任务信息
	if s.asyncEnabled && s.taskQueue != nil {
		tasks, err := s.repo.GetDocumentTasks(ctx, fileID)
		if err == nil && len(tasks) > 0 {
			// 添加最近的任务信息
			latestTask := tasks[0]
			for _, task := range tasks {
				if task.UpdatedAt.After(latestTask.UpdatedAt) {
					latestTask = task
				}
			}

			info["task_id"] = latestTask.ID
			info["task_status"] = latestTask.Status
			info["task_created_at"] = latestTask.CreatedAt.Format(time.RFC3339)
			info["task_updated_at"] = latestTask.UpdatedAt.Format(time.RFC3339)

			if latestTask.StartedAt != nil {
				info["task_started_at"] = latestTask.StartedAt.Format(time.RFC3339)
			}
			if latestTask.CompletedAt != nil {
				info["task_completed_at"] = latestTask.CompletedAt.Format(time.RFC3339)
			}
			if latestTask.Error != "" {
				info["task_error"] = latestTask.Error
			}
		}
	}

	return info, nil
}

// GetDocumentStatus 获取文档处理状态
func (s *ExtractionService) GetDocumentStatus(ctx context.Context, fileID string) (models.DocumentStatus, error) {
	// 确保初始化完成
	if err := s.Init(); err != nil {
		return "", err
	}

	return s.statusManager.GetStatus(ctx, fileID)
}

// GetDocumentTasks 获取文档相关的任务
func (s *ExtractionService) GetDocumentTasks(ctx context.Context, fileID string) ([]*taskqueue.Task, error) {
	// 确保初始化完成
	if err := s.Init(); err != nil {
		return nil, err
	}

	if !s.asyncEnabled || s.taskQueue == nil {
		return nil, errors.New("async processing not enabled")
	}

	return s.repo.GetDocumentTasks(ctx, fileID)
}

// WaitForDocumentProcessing 等待文档处理完成
func (s *ExtractionService) WaitForDocumentProcessing(ctx context.Context, fileID string, timeout time.Duration) error {
	// 确保初始化完成
	if err := s.Init(); err != nil {
		return err
	}

	if !s.asyncEnabled || s.taskQueue == nil {
		// 如果未启用异步处理，直接检查文档状态
		status, err := s.statusManager.GetStatus(ctx, fileID)
		if err != nil {
			return err
		}
		if status == models.DocStatusFailed {
			return fmt.Errorf("document processing failed")
		}
		if status != models.DocStatusCompleted {
			return fmt.Errorf("document not processed")
		}
		return nil
	}

	// 设置上下文超时
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// 获取文档相关的任务
	tasks, err := s.repo.GetDocumentTasks(ctx, fileID)
	if err != nil {
		return fmt.Errorf("failed to get document tasks: %w", err)
	}

	if len(tasks) == 0 {
		return fmt.Errorf("no processing tasks found for document %s", fileID)
	}

	// 找到最新的处理任务
	var latestTask *taskqueue.Task
	for _, task := range tasks {
		if task.Type == taskqueue.TaskProcessComplete {
			if latestTask == nil || task.CreatedAt.After(latestTask.CreatedAt) {
				latestTask = task
			}
		}
	}

	if latestTask == nil {
		return fmt.Errorf("no complete processing task found for document %s", fileID)
	}

	// 等待任务完成
	_, err = s.taskQueue.WaitForTask(ctx, latestTask.ID, timeout)
	if err != nil {
		return fmt.Errorf("failed to wait for document processing: %w", err)
	}

	// 再次检查文档状态
	status, err := s.statusManager.GetStatus(ctx, fileID)
	if err != nil {
		return err
	}

	if status == models.DocStatusFailed {
		return fmt.Errorf("document processing failed")
	}

	if status != models.DocStatusCompleted {
		return fmt.Errorf("document processing incomplete")
	}

	return nil
}

// CountDocumentTables 统计文档的子表格数量
func (s *ExtractionService) CountDocumentTables(ctx context.Context, fileID string) (int, error) {
	// 确保初始化完成
	if err := s.Init(); err != nil {
		return 0, err
	}

	// 使用仓储统计子表格数量
	return s.repo.CountTables(fileID)
}

// ListDocuments 获取文档列表
func (s *ExtractionService) ListDocuments(ctx context.Context, offset, limit int, filters map[string]interface{}) ([]*models.Document, int64, error) {
	// 确保初始化完成
	if err := s.Init(); err != nil {
		return nil, 0, err
	}

	// 使用状态管理器获取文档列表
	return s.statusManager.ListDocuments(ctx, offset, limit, filters)
}

// UpdateDocumentTags 更新文档标签
func (s *ExtractionService) UpdateDocumentTags(ctx context.Context, fileID string, tags string) error {
	// 确保初始化完成
	if err := s.Init(); err != nil {
		return err
	}

	// 获取文档
	doc, err := s.statusManager.GetDocument(ctx, fileID)
	if err != nil {
		return fmt.Errorf("failed to get document: %w", err)
	}

	// 更新标签
	doc.Tags = tags

	// 保存更新
	return s.repo.Update(doc)
}

// failDocument 将文档标记为失败状态
func (s *ExtractionService) failDocument(ctx context.Context, fileID string, errorMsg string) {
	if s.statusManager == nil {
		s.logger.Error("Cannot mark document as failed: status manager not initialized")
		return
	}

	if err := s.statusManager.MarkAsFailed(ctx, fileID, errorMsg); err != nil {
		s.logger.WithFields(logrus.Fields{
			"file_id": fileID,
			"error":   err,
		}).Error("Failed to mark document as failed")
	}
}

// GetStatusManager 返回文档状态管理器实例
func (s *ExtractionService) GetStatusManager() *DocumentStatusManager {
	return s.statusManager
}

// GetTaskQueue 返回任务队列实例
func (s *ExtractionService) GetTaskQueue() taskqueue.Queue {
	return s.taskQueue
}
