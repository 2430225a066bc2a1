package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Harsh18999/permit-extract/internal/cache"
	"github.com/Harsh18999/permit-extract/internal/database"
	"github.com/Harsh18999/permit-extract/internal/exporter"
	"github.com/Harsh18999/permit-extract/internal/models"
	"github.com/Harsh18999/permit-extract/internal/ocr"
	"github.com/Harsh18999/permit-extract/internal/repository"
	"github.com/Harsh18999/permit-extract/internal/segmenter"
	"github.com/Harsh18999/permit-extract/pkg/storage"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupTestDB 创建测试数据库环境
func setupTestDB(t *testing.T) (*gorm.DB, func()) {
	// 使用临时文件作为测试数据库
	tempFile := filepath.Join(t.TempDir(), "test_extraction.db")

	// 创建数据库连接
	db, err := gorm.Open(sqlite.Open(tempFile), &gorm.Config{})
	require.NoError(t, err, "Failed to connect to test database")

	// 运行迁移
	err = db.AutoMigrate(&models.Document{}, &models.PermitTable{}, &models.DocumentTask{})
	require.NoError(t, err, "Failed to run migrations")

	// 保存原始DB引用并替换
	originalDB := database.DB
	database.DB = db

	// 返回清理函数
	cleanup := func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
		database.DB = originalDB
		os.Remove(tempFile)
	}

	return db, cleanup
}

// fakeExtractServer 启动一个返回固定表格网格的识别服务
func fakeExtractServer(t *testing.T, pages []ocr.PageTables) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tables/extract", r.URL.Path)

		resp := map[string]interface{}{
			"success": true,
			"pages":   pages,
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(server.Close)
	return server
}

// setupExtractionTestEnv 设置提取服务的测试环境
func setupExtractionTestEnv(t *testing.T, pages []ocr.PageTables) (*ExtractionService, *DocumentStatusManager) {
	_, cleanup := setupTestDB(t)
	t.Cleanup(cleanup)

	repo := repository.NewDocumentRepository()
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	statusManager := NewDocumentStatusManager(repo, logger)

	storageService, err := storage.NewLocalStorage(storage.LocalConfig{
		Path: t.TempDir(),
	})
	require.NoError(t, err)

	server := fakeExtractServer(t, pages)
	client, err := ocr.NewClient(ocr.DefaultConfig().WithBaseURL(server.URL))
	require.NoError(t, err)

	memCache, err := cache.NewMemoryCache(cache.DefaultConfig())
	require.NoError(t, err)

	service := NewExtractionService(
		storageService,
		ocr.NewTableClient(client),
		WithTimeout(5*time.Second),
		WithDocumentRepository(repo),
		WithStatusManager(statusManager),
		WithCache(memCache),
		WithLogger(logger),
	)

	return service, statusManager
}

// samplePages 构造含有两个可切分表格的识别结果
func samplePages() []ocr.PageTables {
	return []ocr.PageTables{
		{
			Page: 1,
			Tables: []ocr.TableGrid{
				{Rows: []segmenter.Row{
					{"항목", "반영여부", "비고"},
					{"a", "반영", "ok"},
					{"b", "미반영", "skip"},
					{"c", "종료", "end"},
				}},
			},
		},
		{
			Page: 2,
			Tables: []ocr.TableGrid{
				{Rows: []segmenter.Row{
					{"구분", "적합여부"},
					{"x", "적합"},
				}},
			},
		},
	}
}

// TestProcessDocumentSync 测试同步处理完整流程
func TestProcessDocumentSync(t *testing.T) {
	service, statusManager := setupExtractionTestEnv(t, samplePages())

	ctx := context.Background()
	fileID := "doc-1"

	err := statusManager.MarkAsUploaded(ctx, fileID, "permit.pdf", "/tmp/permit.pdf", 1024, 2)
	require.NoError(t, err, "Failed to create initial document record")

	err = service.ProcessDocument(ctx, fileID, "/tmp/permit.pdf", nil)
	require.NoError(t, err, "Document processing should succeed")

	// 文档状态应为已完成
	doc, err := statusManager.GetDocument(ctx, fileID)
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusCompleted, doc.Status)
	assert.Equal(t, 100, doc.Progress)
	assert.Equal(t, models.StageCompleted, doc.CurrentStage)
	assert.Equal(t, 2, doc.TableCount, "两个表格网格各切分出一个子表格")

	// 子表格应已入库
	tables, err := service.GetDocumentTables(ctx, fileID)
	require.NoError(t, err)
	require.Len(t, tables, 2)

	assert.Equal(t, 1, tables[0].Page)
	assert.Equal(t, 0, tables[0].TableIndex)
	assert.Equal(t, 1, tables[0].TargetIndex)
	assert.Equal(t, 2, tables[0].RowCount, "拒绝行不产生行记录，终止行不保留")

	assert.Equal(t, 2, tables[1].Page)
	assert.Equal(t, 1, tables[1].TableIndex)
	assert.Equal(t, 1, tables[1].RowCount)

	// 行记录内容与切分语义一致
	var rows []segmenter.RowRecord
	require.NoError(t, json.Unmarshal(tables[0].Rows, &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0]["항목"])
	assert.Equal(t, "b", rows[1]["항목"], "命中接受子串반영的미반영行被保留")
}

// TestProcessDocumentValidation 测试参数校验
func TestProcessDocumentValidation(t *testing.T) {
	service, _ := setupExtractionTestEnv(t, nil)

	ctx := context.Background()

	err := service.ProcessDocument(ctx, "", "/tmp/a.pdf", nil)
	assert.Error(t, err, "空文档ID应该返回错误")

	err = service.ProcessDocument(ctx, "doc-1", "", nil)
	assert.Error(t, err, "空文件路径应该返回错误")
}

// TestProcessDocumentNoTables 测试没有可切分表格的文档
func TestProcessDocumentNoTables(t *testing.T) {
	pages := []ocr.PageTables{
		{
			Page: 1,
			Tables: []ocr.TableGrid{
				{Rows: []segmenter.Row{
					{"머리말", "내용"},
					{"항목", 1.0},
				}},
			},
		},
	}
	service, statusManager := setupExtractionTestEnv(t, pages)

	ctx := context.Background()
	fileID := "doc-empty"

	require.NoError(t, statusManager.MarkAsUploaded(ctx, fileID, "empty.pdf", "/tmp/empty.pdf", 512, 1))
	require.NoError(t, service.ProcessDocument(ctx, fileID, "/tmp/empty.pdf", nil))

	doc, err := statusManager.GetDocument(ctx, fileID)
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusCompleted, doc.Status, "没有触发行时文档也应正常完成")
	assert.Equal(t, 0, doc.TableCount)

	tables, err := service.GetDocumentTables(ctx, fileID)
	require.NoError(t, err)
	assert.Empty(t, tables)
}

// TestGetDocumentTablesCache 测试子表格缓存回填与失效
func TestGetDocumentTablesCache(t *testing.T) {
	service, statusManager := setupExtractionTestEnv(t, samplePages())

	ctx := context.Background()
	fileID := "doc-cache"

	require.NoError(t, statusManager.MarkAsUploaded(ctx, fileID, "permit.pdf", "/tmp/permit.pdf", 1024, 2))
	require.NoError(t, service.ProcessDocument(ctx, fileID, "/tmp/permit.pdf", nil))

	// 第一次读取回填缓存
	first, err := service.GetDocumentTables(ctx, fileID)
	require.NoError(t, err)
	require.Len(t, first, 2)

	// 缓存中应能直接命中
	key := cache.GenerateCacheKey(tableCachePrefix, fileID)
	_, found, err := service.cache.Get(key)
	require.NoError(t, err)
	assert.True(t, found, "读取后缓存应被回填")

	// 第二次读取结果一致
	second, err := service.GetDocumentTables(ctx, fileID)
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Equal(t, first[0].RowCount, second[0].RowCount)
}

// TestExportTable 测试子表格导出
func TestExportTable(t *testing.T) {
	service, statusManager := setupExtractionTestEnv(t, samplePages())

	ctx := context.Background()
	fileID := "doc-export"

	require.NoError(t, statusManager.MarkAsUploaded(ctx, fileID, "permit.pdf", "/tmp/permit.pdf", 1024, 2))
	require.NoError(t, service.ProcessDocument(ctx, fileID, "/tmp/permit.pdf", nil))

	tables, err := service.GetDocumentTables(ctx, fileID)
	require.NoError(t, err)
	require.NotEmpty(t, tables)

	// CSV导出
	filename, data, err := service.ExportTable(ctx, tables[0].ID, exporter.FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "permit_table_1.csv", filename)
	assert.True(t, len(data) > 3, "CSV内容不应为空")
	assert.Equal(t, []byte{0xEF, 0xBB, 0xBF}, data[:3], "CSV应带UTF-8 BOM")

	// xlsx导出
	filename, data, err = service.ExportTable(ctx, tables[0].ID, exporter.FormatXLSX)
	require.NoError(t, err)
	assert.Equal(t, "permit_table_1.xlsx", filename)
	assert.NotEmpty(t, data)

	// 不存在的子表格
	_, _, err = service.ExportTable(ctx, 99999, exporter.FormatCSV)
	assert.Error(t, err)
}

// TestDeleteDocument 测试删除文档及其子表格
func TestDeleteDocument(t *testing.T) {
	service, statusManager := setupExtractionTestEnv(t, samplePages())

	ctx := context.Background()
	fileID := "doc-delete"

	require.NoError(t, statusManager.MarkAsUploaded(ctx, fileID, "permit.pdf", "/tmp/permit.pdf", 1024, 2))
	require.NoError(t, service.ProcessDocument(ctx, fileID, "/tmp/permit.pdf", nil))

	// 预热缓存
	_, err := service.GetDocumentTables(ctx, fileID)
	require.NoError(t, err)

	require.NoError(t, service.DeleteDocument(ctx, fileID))

	// 文档和子表格都应被删除
	_, err = statusManager.GetDocument(ctx, fileID)
	assert.Error(t, err, "删除后文档不应存在")

	count, err := service.CountDocumentTables(ctx, fileID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// 缓存也应被失效
	key := cache.GenerateCacheKey(tableCachePrefix, fileID)
	_, found, err := service.cache.Get(key)
	require.NoError(t, err)
	assert.False(t, found, "删除文档后缓存应被清除")
}

// TestStatusManagerTransitions 测试状态转换约束
func TestStatusManagerTransitions(t *testing.T) {
	_, cleanup := setupTestDB(t)
	t.Cleanup(cleanup)

	repo := repository.NewDocumentRepository()
	manager := NewDocumentStatusManager(repo, nil)

	ctx := context.Background()
	fileID := "doc-status"

	require.NoError(t, manager.MarkAsUploaded(ctx, fileID, "permit.pdf", "/tmp/permit.pdf", 100, 1))

	// uploaded -> processing
	require.NoError(t, manager.MarkAsProcessing(ctx, fileID))

	// processing状态不允许再次进入processing
	err := manager.MarkAsProcessing(ctx, fileID)
	assert.Error(t, err, "处理中的文档不能重复标记为处理中")

	// processing -> completed
	require.NoError(t, manager.MarkAsCompleted(ctx, fileID, 3))

	doc, err := manager.GetDocument(ctx, fileID)
	require.NoError(t, err)
	assert.Equal(t, 3, doc.TableCount)
	assert.Equal(t, 100, doc.Progress)

	// 终态不允许再更新进度
	err = manager.UpdateProgress(ctx, fileID, 50)
	assert.Error(t, err)
}

// TestStatusManagerFailedRetry 测试失败后重试的状态转换
func TestStatusManagerFailedRetry(t *testing.T) {
	_, cleanup := setupTestDB(t)
	t.Cleanup(cleanup)

	repo := repository.NewDocumentRepository()
	manager := NewDocumentStatusManager(repo, nil)

	ctx := context.Background()
	fileID := "doc-retry"

	require.NoError(t, manager.MarkAsUploaded(ctx, fileID, "permit.pdf", "/tmp/permit.pdf", 100, 1))
	require.NoError(t, manager.MarkAsProcessing(ctx, fileID))
	require.NoError(t, manager.MarkAsFailed(ctx, fileID, "extract service unavailable"))

	doc, err := manager.GetDocument(ctx, fileID)
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusFailed, doc.Status)
	assert.Equal(t, "extract service unavailable", doc.Error)

	// 失败的文档允许重新进入处理中
	require.NoError(t, manager.MarkAsProcessing(ctx, fileID))
}

// TestValidateStateTransition 测试状态转换表
func TestValidateStateTransition(t *testing.T) {
	manager := NewDocumentStatusManager(nil, nil)

	assert.NoError(t, manager.ValidateStateTransition(models.DocStatusUploaded, models.DocStatusProcessing))
	assert.NoError(t, manager.ValidateStateTransition(models.DocStatusProcessing, models.DocStatusCompleted))
	assert.NoError(t, manager.ValidateStateTransition(models.DocStatusFailed, models.DocStatusProcessing))
	assert.Error(t, manager.ValidateStateTransition(models.DocStatusCompleted, models.DocStatusProcessing))
	assert.Error(t, manager.ValidateStateTransition(models.DocStatusUploaded, models.DocStatusUploaded))
}
