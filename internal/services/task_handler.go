package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Harsh18999/permit-extract/pkg/taskqueue"
	"github.com/sirupsen/logrus"
)

// ExtractionTaskHandler 提取任务处理器
// 实现taskqueue.Handler接口，在工作者进程中执行文档处理
type ExtractionTaskHandler struct {
	service *ExtractionService
	logger  *logrus.Logger
}

// NewExtractionTaskHandler 创建提取任务处理器
func NewExtractionTaskHandler(service *ExtractionService, logger *logrus.Logger) *ExtractionTaskHandler {
	if logger == nil {
		logger = logrus.New()
	}

	return &ExtractionTaskHandler{
		service: service,
		logger:  logger,
	}
}

// ProcessTask 处理任务
func (h *ExtractionTaskHandler) ProcessTask(ctx context.Context, task *taskqueue.Task) error {
	h.logger.WithFields(logrus.Fields{
		"task_id":     task.ID,
		"task_type":   task.Type,
		"document_id": task.DocumentID,
	}).Info("Processing extraction task")

	switch task.Type {
	case taskqueue.TaskProcessComplete:
		return h.handleProcessComplete(ctx, task)
	case taskqueue.TaskTableExtract:
		return h.handleTableExtract(ctx, task)
	default:
		return fmt.Errorf("unsupported task type: %s", task.Type)
	}
}

// GetTaskTypes 返回此处理器支持的任务类型
func (h *ExtractionTaskHandler) GetTaskTypes() []taskqueue.TaskType {
	return []taskqueue.TaskType{
		taskqueue.TaskProcessComplete,
		taskqueue.TaskTableExtract,
	}
}

// handleProcessComplete 执行完整的识别加切分流程
func (h *ExtractionTaskHandler) handleProcessComplete(ctx context.Context, task *taskqueue.Task) error {
	var payload taskqueue.ProcessCompletePayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("%w: %v", taskqueue.ErrInvalidPayload, err)
	}

	opts := &ProcessOptions{
		Pages:         payload.Pages,
		Lang:          payload.Lang,
		MinConfidence: payload.MinConfidence,
	}

	// 工作者内始终同步执行，避免任务再次入队
	if err := h.service.processDocumentSync(ctx, task.DocumentID, payload.FilePath, opts); err != nil {
		return err
	}

	return nil
}

// handleTableExtract 只执行表格识别，结果写入任务记录
func (h *ExtractionTaskHandler) handleTableExtract(ctx context.Context, task *taskqueue.Task) error {
	var payload taskqueue.TableExtractPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("%w: %v", taskqueue.ErrInvalidPayload, err)
	}

	opts := &ProcessOptions{
		Pages:         payload.Pages,
		Lang:          payload.Lang,
		MinConfidence: payload.MinConfidence,
	}

	pages, err := h.service.extractTables(ctx, task.DocumentID, payload.FilePath, opts)
	if err != nil {
		return fmt.Errorf("failed to extract tables: %w", err)
	}

	gridCount := 0
	for _, page := range pages {
		gridCount += len(page.Tables)
	}

	result := taskqueue.TableExtractResult{
		DocumentID: task.DocumentID,
		PageCount:  len(pages),
		GridCount:  gridCount,
	}

	// 将识别结果附加到任务记录
	if queue := h.service.GetTaskQueue(); queue != nil {
		if err := queue.UpdateTaskStatus(ctx, task.ID, taskqueue.StatusProcessing, result, ""); err != nil {
			h.logger.WithError(err).Warn("Failed to attach extract result to task")
		}
	}

	return nil
}
