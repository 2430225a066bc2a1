package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Harsh18999/permit-extract/api/middleware"
	"github.com/Harsh18999/permit-extract/api/model"
	"github.com/Harsh18999/permit-extract/internal/exporter"
	"github.com/Harsh18999/permit-extract/internal/models"
	"github.com/Harsh18999/permit-extract/internal/segmenter"
	"github.com/Harsh18999/permit-extract/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// TableHandler 处理子表格相关的API请求
type TableHandler struct {
	extractionService *services.ExtractionService // 提取服务
	logger            *logrus.Logger              // 日志记录器
}

// NewTableHandler 创建新的子表格处理器
func NewTableHandler(extractionService *services.ExtractionService) *TableHandler {
	return &TableHandler{
		extractionService: extractionService,
		logger:            middleware.GetLogger(),
	}
}

// ListDocumentTables 获取文档切分出的所有子表格
// GET /api/documents/:id/tables
func (h *TableHandler) ListDocumentTables(c *gin.Context) {
	var req model.TableListRequest
	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的文档ID"))
		return
	}

	// 确认文档存在
	if _, err := h.extractionService.GetDocumentStatus(c.Request.Context(), req.ID); err != nil {
		c.JSON(http.StatusNotFound, model.NewErrorResponse(http.StatusNotFound, "未找到文档"))
		return
	}

	tables, err := h.extractionService.GetDocumentTables(c.Request.Context(), req.ID)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"error":   err.Error(),
			"file_id": req.ID,
		}).Error("Failed to get document tables")

		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"获取子表格列表失败",
		))
		return
	}

	infos := make([]model.TableInfo, 0, len(tables))
	for _, table := range tables {
		info, err := buildTableInfo(table)
		if err != nil {
			h.logger.WithError(err).WithFields(logrus.Fields{
				"file_id":  req.ID,
				"table_id": table.ID,
			}).Error("Failed to decode table record")
			continue
		}
		infos = append(infos, *info)
	}

	resp := model.TableListResponse{
		DocumentID: req.ID,
		Total:      len(infos),
		Tables:     infos,
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// ExportTable 按指定格式导出子表格
// GET /api/tables/:id/export?format=csv|xlsx
func (h *TableHandler) ExportTable(c *gin.Context) {
	var req model.TableExportRequest
	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的子表格ID"))
		return
	}
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的导出格式"))
		return
	}

	format, err := exporter.ParseFormat(req.Format)
	if err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "不支持的导出格式，仅支持 csv、xlsx"))
		return
	}

	filename, data, err := h.extractionService.ExportTable(c.Request.Context(), req.ID, format)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, model.NewErrorResponse(http.StatusNotFound, "未找到子表格"))
			return
		}

		h.logger.WithFields(logrus.Fields{
			"error":    err.Error(),
			"table_id": req.ID,
		}).Error("Failed to export table")

		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"导出子表格失败",
		))
		return
	}

	// 文件名可能包含韩文，按RFC 5987编码
	disposition := fmt.Sprintf("attachment; filename*=UTF-8''%s", url.PathEscape(filename))
	c.Header("Content-Disposition", disposition)
	c.Data(http.StatusOK, format.ContentType(), data)
}

// buildTableInfo 将数据库记录解码为API响应结构
func buildTableInfo(table *models.PermitTable) (*model.TableInfo, error) {
	var columns segmenter.ColumnMap
	if err := json.Unmarshal(table.Columns, &columns); err != nil {
		return nil, fmt.Errorf("failed to unmarshal columns: %w", err)
	}

	var rows []segmenter.RowRecord
	if err := json.Unmarshal(table.Rows, &rows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rows: %w", err)
	}

	extracted := segmenter.ExtractedTable{Columns: columns}

	respRows := make([]map[string]any, len(rows))
	for i, row := range rows {
		respRows[i] = row
	}

	return &model.TableInfo{
		ID:          table.ID,
		DocumentID:  table.DocumentID,
		Page:        table.Page,
		TableIndex:  table.TableIndex,
		TargetIndex: table.TargetIndex,
		Headers:     extracted.Headers(),
		Rows:        respRows,
		RowCount:    table.RowCount,
	}, nil
}
