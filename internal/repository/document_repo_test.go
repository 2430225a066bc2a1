package repository

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/Harsh18999/permit-extract/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupRepoTestDB 创建仓储测试数据库
func setupRepoTestDB(t *testing.T) *gorm.DB {
	dbFile := filepath.Join(t.TempDir(), "repo_test.db")

	db, err := gorm.Open(sqlite.Open(dbFile), &gorm.Config{})
	require.NoError(t, err, "Failed to connect to test database")

	err = db.AutoMigrate(&models.Document{}, &models.PermitTable{}, &models.DocumentTask{})
	require.NoError(t, err, "Failed to run migrations")

	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
	})

	return db
}

// newTestDocument 构造测试文档记录
func newTestDocument(id string) *models.Document {
	return &models.Document{
		ID:       id,
		FileName: "permit.pdf",
		FileType: "pdf",
		FilePath: "/tmp/permit.pdf",
		FileSize: 2048,
		Status:   models.DocStatusUploaded,
	}
}

// newTestTable 构造测试子表格记录
func newTestTable(t *testing.T, docID string, index int) *models.PermitTable {
	columns, err := json.Marshal(map[int]string{0: "항목", 1: "반영여부"})
	require.NoError(t, err)

	rows, err := json.Marshal([]map[string]any{
		{"항목": "a", "반영여부": "반영"},
	})
	require.NoError(t, err)

	return &models.PermitTable{
		DocumentID:  docID,
		Page:        1,
		TableIndex:  index,
		TargetIndex: 1,
		Columns:     datatypes.JSON(columns),
		Rows:        datatypes.JSON(rows),
		RowCount:    1,
	}
}

// TestDocumentCRUD 测试文档的基本增删改查
func TestDocumentCRUD(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewDocumentRepositoryWithDB(db)

	// 创建
	doc := newTestDocument("doc-1")
	require.NoError(t, repo.Create(doc))

	// 空ID应被拒绝
	err := repo.Create(&models.Document{})
	assert.Error(t, err, "空文档ID应该返回错误")

	// 查询
	got, err := repo.GetByID("doc-1")
	require.NoError(t, err)
	assert.Equal(t, "permit.pdf", got.FileName)
	assert.Equal(t, models.DocStatusUploaded, got.Status)
	assert.False(t, got.UploadedAt.IsZero(), "创建钩子应设置上传时间")

	// 更新
	got.Tags = "permit,2026"
	require.NoError(t, repo.Update(got))

	updated, err := repo.GetByID("doc-1")
	require.NoError(t, err)
	assert.Equal(t, "permit,2026", updated.Tags)

	// 不存在的文档
	_, err = repo.GetByID("missing")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

// TestDocumentList 测试文档列表的分页和筛选
func TestDocumentList(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewDocumentRepositoryWithDB(db)

	// 准备数据
	for _, id := range []string{"doc-a", "doc-b", "doc-c"} {
		doc := newTestDocument(id)
		require.NoError(t, repo.Create(doc))
	}
	require.NoError(t, repo.UpdateStatus("doc-c", models.DocStatusCompleted, ""))

	// 全量列表
	docs, total, err := repo.List(0, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, docs, 3)

	// 状态筛选
	docs, total, err = repo.List(0, 10, map[string]interface{}{
		"status": models.DocStatusCompleted,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, docs, 1)
	assert.Equal(t, "doc-c", docs[0].ID)

	// 分页
	docs, total, err = repo.List(0, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total, "总数不受分页影响")
	assert.Len(t, docs, 2)

	// 文件名筛选
	docs, _, err = repo.List(0, 10, map[string]interface{}{
		"file_name": "permit",
	})
	require.NoError(t, err)
	assert.Len(t, docs, 3)
}

// TestUpdateStatusAndProgress 测试状态和进度更新
func TestUpdateStatusAndProgress(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewDocumentRepositoryWithDB(db)

	require.NoError(t, repo.Create(newTestDocument("doc-1")))

	// 更新状态为处理中
	require.NoError(t, repo.UpdateStatus("doc-1", models.DocStatusProcessing, ""))

	doc, err := repo.GetByID("doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusProcessing, doc.Status)
	assert.Nil(t, doc.ProcessedAt, "处理中不应设置完成时间")

	// 进度裁剪到0-100
	require.NoError(t, repo.UpdateProgress("doc-1", 150))
	doc, err = repo.GetByID("doc-1")
	require.NoError(t, err)
	assert.Equal(t, 100, doc.Progress)

	require.NoError(t, repo.UpdateProgress("doc-1", -10))
	doc, err = repo.GetByID("doc-1")
	require.NoError(t, err)
	assert.Equal(t, 0, doc.Progress)

	// 失败状态记录错误并设置完成时间
	require.NoError(t, repo.UpdateStatus("doc-1", models.DocStatusFailed, "ocr timeout"))
	doc, err = repo.GetByID("doc-1")
	require.NoError(t, err)
	assert.Equal(t, "ocr timeout", doc.Error)
	require.NotNil(t, doc.ProcessedAt)
	assert.WithinDuration(t, time.Now(), *doc.ProcessedAt, 5*time.Second)
}

// TestTableStorage 测试子表格的保存与查询
func TestTableStorage(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewDocumentRepositoryWithDB(db)

	require.NoError(t, repo.Create(newTestDocument("doc-1")))

	// 批量保存，顺序打乱验证查询排序
	tables := []*models.PermitTable{
		newTestTable(t, "doc-1", 1),
		newTestTable(t, "doc-1", 0),
		newTestTable(t, "doc-1", 2),
	}
	require.NoError(t, repo.SaveTables(tables))

	// 空列表不报错
	require.NoError(t, repo.SaveTables(nil))

	// 查询按表格序号排序
	got, err := repo.GetTables("doc-1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 0, got[0].TableIndex)
	assert.Equal(t, 1, got[1].TableIndex)
	assert.Equal(t, 2, got[2].TableIndex)

	// 列映射可以解码回原始结构
	var columns map[int]string
	require.NoError(t, json.Unmarshal(got[0].Columns, &columns))
	assert.Equal(t, "반영여부", columns[1])

	// 主键查询
	byID, err := repo.GetTableByID(got[0].ID)
	require.NoError(t, err)
	assert.Equal(t, got[0].TableIndex, byID.TableIndex)

	_, err = repo.GetTableByID(99999)
	assert.Error(t, err)

	// 计数
	count, err := repo.CountTables("doc-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// 删除
	require.NoError(t, repo.DeleteTables("doc-1"))
	count, err = repo.CountTables("doc-1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

// TestDeleteDocumentCascades 测试删除文档时级联删除子表格
func TestDeleteDocumentCascades(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewDocumentRepositoryWithDB(db)

	require.NoError(t, repo.Create(newTestDocument("doc-1")))
	require.NoError(t, repo.SaveTable(newTestTable(t, "doc-1", 0)))

	require.NoError(t, repo.Delete("doc-1"))

	_, err := repo.GetByID("doc-1")
	assert.Error(t, err, "文档应已删除")

	count, err := repo.CountTables("doc-1")
	require.NoError(t, err)
	assert.Equal(t, 0, count, "子表格应随文档一起删除")
}
