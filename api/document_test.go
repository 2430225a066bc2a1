package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/Harsh18999/permit-extract/api/handler"
	"github.com/Harsh18999/permit-extract/api/model"
	"github.com/Harsh18999/permit-extract/internal/cache"
	"github.com/Harsh18999/permit-extract/internal/database"
	"github.com/Harsh18999/permit-extract/internal/models"
	"github.com/Harsh18999/permit-extract/internal/ocr"
	"github.com/Harsh18999/permit-extract/internal/repository"
	"github.com/Harsh18999/permit-extract/internal/segmenter"
	"github.com/Harsh18999/permit-extract/internal/services"
	"github.com/Harsh18999/permit-extract/pkg/storage"
	"github.com/gin-gonic/gin"
	"github.com/jung-kurt/gofpdf"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// 测试环境配置
type documentTestEnv struct {
	Router            *gin.Engine
	Storage           storage.Storage
	ExtractionService *services.ExtractionService
}

// setupTestDatabase 初始化测试数据库并替换全局连接
func setupTestDatabase(t *testing.T) {
	tempFile := filepath.Join(t.TempDir(), "api_test.db")

	db, err := gorm.Open(sqlite.Open(tempFile), &gorm.Config{})
	require.NoError(t, err, "Failed to connect to test database")

	err = db.AutoMigrate(&models.Document{}, &models.PermitTable{}, &models.DocumentTask{})
	require.NoError(t, err, "Failed to run migrations")

	originalDB := database.DB
	database.DB = db

	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
		database.DB = originalDB
		os.Remove(tempFile)
	})
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

// samplePages 构造一个可切分的识别结果
func samplePages() []ocr.PageTables {
	return []ocr.PageTables{
		{
			Page: 1,
			Tables: []ocr.TableGrid{
				{Rows: []segmenter.Row{
					{"항목", "반영여부"},
					{"a", "반영"},
					{"b", "부분반영"},
				}},
			},
		},
	}
}

// 创建测试环境
func setupDocumentTestEnv(t *testing.T) *documentTestEnv {
	// 设置测试模式
	gin.SetMode(gin.TestMode)

	setupTestDatabase(t)

	// 创建本地存储
	fileStorage, err := storage.NewLocalStorage(storage.LocalConfig{
		Path: t.TempDir(),
	})
	require.NoError(t, err)

	// 创建识别服务客户端
	server := fakeExtractServer(t, samplePages())
	client, err := ocr.NewClient(ocr.DefaultConfig().WithBaseURL(server.URL))
	require.NoError(t, err)

	// 创建内存缓存
	memCache, err := cache.NewCache(cache.Config{
		Type:            "memory",
		DefaultTTL:      time.Hour,
		CleanupInterval: time.Minute,
	})
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	repo := repository.NewDocumentRepository()
	statusManager := services.NewDocumentStatusManager(repo, logger)

	// 创建提取服务
	extractionService := services.NewExtractionService(
		fileStorage,
		ocr.NewTableClient(client),
		services.WithTimeout(10*time.Second),
		services.WithDocumentRepository(repo),
		services.WithStatusManager(statusManager),
		services.WithCache(memCache),
		services.WithLogger(logger),
	)

	err = extractionService.Init()
	require.NoError(t, err)

	// 创建API处理器
	docHandler := handler.NewDocumentHandler(extractionService, fileStorage)
	tableHandler := handler.NewTableHandler(extractionService)

	// 设置路由(未启用任务队列)
	router := SetupRouter(docHandler, tableHandler, nil)

	return &documentTestEnv{
		Router:            router,
		Storage:           fileStorage,
		ExtractionService: extractionService,
	}
}

// createTestPDF 生成一个单页测试PDF文件
func createTestPDF(t *testing.T, filename string) string {
	dir := t.TempDir()
	path := filepath.Join(dir, filename)

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Arial", "", 12)
	pdf.Cell(40, 10, "permit table fixture")
	require.NoError(t, pdf.OutputFileAndClose(path))

	return path
}

// uploadTestPDF 通过API上传测试PDF，返回文件ID
func uploadTestPDF(t *testing.T, env *documentTestEnv) string {
	testFile := createTestPDF(t, "permit.pdf")

	// 创建multipart请求
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "permit.pdf")
	require.NoError(t, err)

	file, err := os.Open(testFile)
	require.NoError(t, err)
	defer file.Close()

	_, err = io.Copy(part, file)
	require.NoError(t, err)
	writer.Close()

	// 创建请求
	req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	// 执行请求
	w := httptest.NewRecorder()
	env.Router.ServeHTTP(w, req)

	// 验证响应
	require.Equal(t, http.StatusOK, w.Code, "upload response: %s", w.Body.String())

	var resp model.Response
	err = json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	require.Equal(t, 0, resp.Code)

	uploadResp, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	require.NotEmpty(t, uploadResp["file_id"])

	return uploadResp["file_id"].(string)
}

// waitForCompletion 轮询文档状态直到处理完成
func waitForCompletion(t *testing.T, env *documentTestEnv, fileID string) {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		req := httptest.NewRequest(http.MethodGet, "/api/documents/"+fileID+"/status", nil)
		w := httptest.NewRecorder()
		env.Router.ServeHTTP(w, req)

		var resp model.Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

		if statusResp, ok := resp.Data.(map[string]interface{}); ok {
			switch statusResp["status"] {
			case "completed":
				return
			case "failed":
				t.Fatalf("document processing failed: %v", statusResp["error"])
			}
		}

		time.Sleep(100 * time.Millisecond)
	}
	t.Fatal("document processing did not complete in time")
}

// TestDocumentUpload 测试文档上传API
func TestDocumentUpload(t *testing.T) {
	env := setupDocumentTestEnv(t)

	fileID := uploadTestPDF(t, env)
	assert.NotEmpty(t, fileID)

	// 处理应在后台完成
	waitForCompletion(t, env, fileID)
}

// TestDocumentUploadInvalidType 测试不支持的文件类型
func TestDocumentUploadInvalidType(t *testing.T) {
	env := setupDocumentTestEnv(t)

	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("plain text"))
	require.NoError(t, err)
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	w := httptest.NewRecorder()
	env.Router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestDocumentUploadPageRangeOutOfBounds 测试页码范围超出文档页数
func TestDocumentUploadPageRangeOutOfBounds(t *testing.T) {
	env := setupDocumentTestEnv(t)

	testFile := createTestPDF(t, "permit.pdf")

	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "permit.pdf")
	require.NoError(t, err)

	file, err := os.Open(testFile)
	require.NoError(t, err)
	defer file.Close()

	_, err = io.Copy(part, file)
	require.NoError(t, err)

	// 单页PDF请求第5页
	require.NoError(t, writer.WriteField("pages", "5"))
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	w := httptest.NewRecorder()
	env.Router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestDocumentTables 测试子表格列表API
func TestDocumentTables(t *testing.T) {
	env := setupDocumentTestEnv(t)

	fileID := uploadTestPDF(t, env)
	waitForCompletion(t, env, fileID)

	// 获取子表格列表
	req := httptest.NewRequest(http.MethodGet, "/api/documents/"+fileID+"/tables", nil)
	w := httptest.NewRecorder()
	env.Router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp model.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 0, resp.Code)

	listResp, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(1), listResp["total"], "Should find 1 segmented table")

	tables, ok := listResp["tables"].([]interface{})
	require.True(t, ok)
	require.Len(t, tables, 1)

	table := tables[0].(map[string]interface{})
	assert.Equal(t, float64(2), table["row_count"], "Both accept rows should survive")

	headers, ok := table["headers"].([]interface{})
	require.True(t, ok)
	assert.Equal(t, "항목", headers[0])
	assert.Equal(t, "반영여부", headers[1])
}

// TestTableExport 测试子表格导出API
func TestTableExport(t *testing.T) {
	env := setupDocumentTestEnv(t)

	fileID := uploadTestPDF(t, env)
	waitForCompletion(t, env, fileID)

	// 从列表中取得子表格ID
	tables, err := env.ExtractionService.GetDocumentTables(
		httptest.NewRequest(http.MethodGet, "/", nil).Context(), fileID)
	require.NoError(t, err)
	require.Len(t, tables, 1)

	// CSV导出
	req := httptest.NewRequest(http.MethodGet,
		"/api/tables/"+itoa(tables[0].ID)+"/export?format=csv", nil)
	w := httptest.NewRecorder()
	env.Router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte{0xEF, 0xBB, 0xBF}),
		"CSV export should start with UTF-8 BOM")

	// 不支持的格式
	req = httptest.NewRequest(http.MethodGet,
		"/api/tables/"+itoa(tables[0].ID)+"/export?format=pdf", nil)
	w = httptest.NewRecorder()
	env.Router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestDocumentDelete 测试文档删除API
func TestDocumentDelete(t *testing.T) {
	env := setupDocumentTestEnv(t)

	fileID := uploadTestPDF(t, env)
	waitForCompletion(t, env, fileID)

	// 删除文档
	req := httptest.NewRequest(http.MethodDelete, "/api/documents/"+fileID, nil)
	w := httptest.NewRecorder()
	env.Router.ServeHTTP(w, req)

	// 验证响应
	assert.Equal(t, http.StatusOK, w.Code)

	var resp model.Response
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Code)

	// 验证删除成功
	deleteResp, ok := resp.Data.(map[string]interface{})
	assert.True(t, ok)
	assert.Equal(t, true, deleteResp["success"])

	// 删除后状态查询应返回404
	req = httptest.NewRequest(http.MethodGet, "/api/documents/"+fileID+"/status", nil)
	w = httptest.NewRecorder()
	env.Router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestParsePages 测试页码范围解析
func TestParsePages(t *testing.T) {
	pages, err := model.ParsePages("1,2,5-7")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 5, 6, 7}, pages)

	pages, err = model.ParsePages("")
	require.NoError(t, err)
	assert.Nil(t, pages)

	// 重复页码去重
	pages, err = model.ParsePages("2,1-3")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, pages)

	_, err = model.ParsePages("abc")
	assert.Error(t, err)

	_, err = model.ParsePages("5-2")
	assert.Error(t, err)

	_, err = model.ParsePages("0")
	assert.Error(t, err)
}

// itoa uint转字符串的测试辅助函数
func itoa(n uint) string {
	return strconv.FormatUint(uint64(n), 10)
}
