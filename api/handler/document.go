package handler

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/Harsh18999/permit-extract/api/middleware"
	"github.com/Harsh18999/permit-extract/api/model"
	"github.com/Harsh18999/permit-extract/internal/services"
	"github.com/Harsh18999/permit-extract/pkg/storage"
	"github.com/gin-gonic/gin"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/sirupsen/logrus"
)

// 上传限制默认值
const (
	defaultMaxFileSize = 50 * 1024 * 1024 // 50MB
	defaultMaxPages    = 200              // 单个文档最大页数
)

// DocumentHandler 处理文档相关的API请求
type DocumentHandler struct {
	extractionService *services.ExtractionService // 提取服务
	fileStorage       storage.Storage             // 文件存储服务
	maxFileSize       int64                       // 最大上传文件大小
	maxPages          int                         // 单个文档最大页数
	logger            *logrus.Logger              // 日志记录器
}

// NewDocumentHandler 创建新的文档处理器
func NewDocumentHandler(extractionService *services.ExtractionService, fileStorage storage.Storage) *DocumentHandler {
	return &DocumentHandler{
		extractionService: extractionService,
		fileStorage:       fileStorage,
		maxFileSize:       defaultMaxFileSize,
		maxPages:          defaultMaxPages,
		logger:            middleware.GetLogger(),
	}
}

// SetUploadLimits 设置上传限制
func (h *DocumentHandler) SetUploadLimits(maxFileSize int64, maxPages int) {
	if maxFileSize > 0 {
		h.maxFileSize = maxFileSize
	}
	if maxPages > 0 {
		h.maxPages = maxPages
	}
}

// UploadDocument 处理文档上传请求
// POST /api/documents
func (h *DocumentHandler) UploadDocument(c *gin.Context) {
	// 绑定请求参数
	var req model.DocumentUploadRequest
	if err := c.ShouldBind(&req); err != nil {
		h.logger.WithFields(logrus.Fields{
			"error": err.Error(),
		}).Warn("Invalid document upload request")

		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"无效的请求参数",
		))
		return
	}

	// 检查文件
	if req.File == nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"未提供文件",
		))
		return
	}

	// 检查文件大小
	if req.File.Size > h.maxFileSize {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			fmt.Sprintf("文件超过大小限制(%dMB)", h.maxFileSize/(1024*1024)),
		))
		return
	}

	// 检查文件类型
	filename := req.File.Filename
	ext := strings.ToLower(filepath.Ext(filename))
	if !isValidFileType(ext) {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"不支持的文件类型，仅支持 .pdf, .jpg, .jpeg, .png",
		))
		return
	}

	// 解析页码范围
	pages, err := model.ParsePages(req.Pages)
	if err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"无效的页码范围",
		))
		return
	}

	// 打开上传的文件
	file, err := req.File.Open()
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"error":    err.Error(),
			"filename": filename,
		}).Error("Failed to open uploaded file")

		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"无法打开上传的文件",
		))
		return
	}
	defer file.Close()

	// 保存文件到存储
	fileInfo, err := h.fileStorage.Save(file, filename)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"error":    err.Error(),
			"filename": filename,
		}).Error("Failed to save file")

		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"保存文件失败",
		))
		return
	}

	// PDF文档验证页数
	pageCount := 1
	if ext == ".pdf" {
		pageCount, err = pdfapi.PageCountFile(fileInfo.Path)
		if err != nil {
			h.logger.WithFields(logrus.Fields{
				"error":    err.Error(),
				"filename": filename,
			}).Warn("Failed to read PDF page count")

			// 清理已保存的无效文件
			_ = h.fileStorage.Delete(fileInfo.ID)

			c.JSON(http.StatusBadRequest, model.NewErrorResponse(
				http.StatusBadRequest,
				"无法解析PDF文件",
			))
			return
		}

		if pageCount > h.maxPages {
			_ = h.fileStorage.Delete(fileInfo.ID)
			c.JSON(http.StatusBadRequest, model.NewErrorResponse(
				http.StatusBadRequest,
				fmt.Sprintf("文档页数超过限制(%d页)", h.maxPages),
			))
			return
		}

		// 请求的页码不能超出文档范围
		for _, p := range pages {
			if p > pageCount {
				_ = h.fileStorage.Delete(fileInfo.ID)
				c.JSON(http.StatusBadRequest, model.NewErrorResponse(
					http.StatusBadRequest,
					fmt.Sprintf("页码%d超出文档范围(共%d页)", p, pageCount),
				))
				return
			}
		}
	}

	// 记录文件上传信息
	h.logger.WithFields(logrus.Fields{
		"file_id":    fileInfo.ID,
		"filename":   fileInfo.Name,
		"path":       fileInfo.Path,
		"size":       fileInfo.Size,
		"page_count": pageCount,
	}).Info("File uploaded successfully")

	// 创建文档记录
	statusManager := h.extractionService.GetStatusManager()
	if statusManager != nil {
		ctx := c.Request.Context()
		if err := statusManager.MarkAsUploaded(ctx, fileInfo.ID, filename, fileInfo.Path, fileInfo.Size, pageCount); err != nil {
			h.logger.WithFields(logrus.Fields{
				"error":   err.Error(),
				"file_id": fileInfo.ID,
			}).Error("Failed to create document record")

			c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
				http.StatusInternalServerError,
				"创建文档记录失败",
			))
			return
		}

		// 保存标签
		if req.Tags != "" {
			if err := h.extractionService.UpdateDocumentTags(ctx, fileInfo.ID, req.Tags); err != nil {
				h.logger.WithError(err).Warn("Failed to save document tags")
			}
		}
	}

	// 启动异步处理任务
	opts := &services.ProcessOptions{
		Pages:         pages,
		Lang:          req.Lang,
		MinConfidence: req.MinConfidence,
	}

	go func() {
		// 记录开始处理
		h.logger.WithField("file_id", fileInfo.ID).Info("Starting document processing")
		ctx := context.Background()

		if err := h.extractionService.ProcessDocument(ctx, fileInfo.ID, fileInfo.Path, opts); err != nil {
			h.logger.WithFields(logrus.Fields{
				"error":   err.Error(),
				"file_id": fileInfo.ID,
			}).Error("Failed to process document")
		} else {
			h.logger.WithField("file_id", fileInfo.ID).Info("Document processed successfully")
		}
	}()

	// 返回文件ID和状态
	resp := model.DocumentUploadResponse{
		FileID:    fileInfo.ID,
		FileName:  filename,
		PageCount: pageCount,
		Status:    "uploaded",
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// GetDocumentStatus 获取文档处理状态
// GET /api/documents/:id/status
func (h *DocumentHandler) GetDocumentStatus(c *gin.Context) {
	// 绑定路径参数
	var req model.DocumentStatusRequest
	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的文档ID"))
		return
	}

	// 获取文档信息
	docInfo, err := h.extractionService.GetDocumentInfo(c.Request.Context(), req.ID)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"error":   err.Error(),
			"file_id": req.ID,
		}).Error("Failed to get document info")

		c.JSON(http.StatusNotFound, model.NewErrorResponse(http.StatusNotFound, "未找到文档或获取信息失败"))
		return
	}

	// 构建响应
	resp := model.DocumentStatusResponse{
		FileID:    req.ID,
		Status:    fmt.Sprint(docInfo["status"]),
		FileName:  docInfo["filename"].(string),
		CreatedAt: docInfo["created_at"].(string),
		UpdatedAt: docInfo["updated_at"].(string),
	}

	if progress, ok := docInfo["progress"].(int); ok {
		resp.Progress = progress
	}
	if tableCount, ok := docInfo["table_count"].(int); ok {
		resp.TableCount = tableCount
	}
	if stage, ok := docInfo["stage"]; ok {
		resp.Stage = fmt.Sprint(stage)
	}

	// 如果有错误信息，添加到响应中
	if errMsg, ok := docInfo["error"]; ok {
		resp.Error = errMsg.(string)
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// ListDocuments 获取文档列表
// GET /api/documents
func (h *DocumentHandler) ListDocuments(c *gin.Context) {
	// 绑定查询参数
	var req model.DocumentListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的查询参数"))
		return
	}

	// 构建过滤条件
	filterOptions := make(map[string]interface{})

	if req.Status != "" {
		filterOptions["status"] = req.Status
	}

	if req.Tags != "" {
		filterOptions["tags"] = req.Tags
	}

	if req.FileName != "" {
		filterOptions["file_name"] = req.FileName
	}

	if req.StartTime != nil {
		filterOptions["start_time"] = req.StartTime.Format(time.RFC3339)
	}

	if req.EndTime != nil {
		filterOptions["end_time"] = req.EndTime.Format(time.RFC3339)
	}

	// 分页查询
	page := req.GetPage()
	pageSize := req.GetPageSize()
	offset := (page - 1) * pageSize

	docs, total, err := h.extractionService.ListDocuments(c.Request.Context(), offset, pageSize, filterOptions)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list documents")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"获取文档列表失败",
		))
		return
	}

	// 构建分页响应
	documents := make([]model.DocumentInfo, len(docs))
	for i, doc := range docs {
		documents[i] = model.DocumentInfo{
			FileID:     doc.ID,
			FileName:   doc.FileName,
			Status:     string(doc.Status),
			Tags:       doc.Tags,
			UploadTime: doc.UploadedAt,
			PageCount:  doc.PageCount,
			TableCount: doc.TableCount,
			Progress:   doc.Progress,
		}
	}

	resp := model.DocumentListResponse{
		Total:     int(total),
		Page:      page,
		PageSize:  pageSize,
		Documents: documents,
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// DeleteDocument 删除文档
// DELETE /api/documents/:id
func (h *DocumentHandler) DeleteDocument(c *gin.Context) {
	// 绑定路径参数
	var req model.DocumentDeleteRequest
	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的文档ID"))
		return
	}

	// 删除文档
	err := h.extractionService.DeleteDocument(c.Request.Context(), req.ID)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"error":   err.Error(),
			"file_id": req.ID,
		}).Error("Failed to delete document")

		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"删除文档失败",
		))
		return
	}

	h.logger.WithField("file_id", req.ID).Info("Document deleted successfully")

	// 返回成功响应
	resp := model.DocumentDeleteResponse{
		Success: true,
		FileID:  req.ID,
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// UpdateDocumentTags 更新文档标签
// PUT /api/documents/:id/tags
func (h *DocumentHandler) UpdateDocumentTags(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的文档ID"))
		return
	}

	var req model.DocumentTagsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的请求参数"))
		return
	}

	if err := h.extractionService.UpdateDocumentTags(c.Request.Context(), id, req.Tags); err != nil {
		h.logger.WithFields(logrus.Fields{
			"error":   err.Error(),
			"file_id": id,
		}).Error("Failed to update document tags")

		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"更新文档标签失败",
		))
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(gin.H{
		"file_id": id,
		"tags":    req.Tags,
	}))
}

// isValidFileType 检查文件类型是否有效
func isValidFileType(ext string) bool {
	validTypes := map[string]bool{
		".pdf":  true,
		".jpg":  true,
		".jpeg": true,
		".png":  true,
	}
	return validTypes[ext]
}
