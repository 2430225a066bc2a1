package storage

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocalStorage(t *testing.T) *LocalStorage {
	t.Helper()

	s, err := NewLocalStorage(LocalConfig{Path: t.TempDir()})
	require.NoError(t, err)
	return s
}

// TestLocalStorageSaveReturnsAbsolutePath 测试Save返回的路径可以直接打开，
// 与进程工作目录无关
func TestLocalStorageSaveReturnsAbsolutePath(t *testing.T) {
	s := newTestLocalStorage(t)

	info, err := s.Save(strings.NewReader("%PDF-1.4 test"), "permit.pdf")
	require.NoError(t, err)

	assert.True(t, filepath.IsAbs(info.Path), "Path必须是绝对路径，下游的pdfcpu和表格识别服务会直接打开它")

	// 路径在任意工作目录下都可用
	_, err = os.Stat(info.Path)
	require.NoError(t, err)

	// GetPath返回同一个位置
	path, err := s.GetPath(info.ID)
	require.NoError(t, err)
	assert.Equal(t, info.Path, path)

	assert.Equal(t, "permit.pdf", info.Name)
	assert.Equal(t, "application/pdf", info.MimeType)
	assert.Equal(t, int64(len("%PDF-1.4 test")), info.Size)
}

// TestLocalStorageRoundTrip 测试保存、读取、存在性检查和删除的完整流程
func TestLocalStorageRoundTrip(t *testing.T) {
	s := newTestLocalStorage(t)

	content := "hello permit"
	info, err := s.Save(strings.NewReader(content), "doc.pdf")
	require.NoError(t, err)

	exists, err := s.Exists(info.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	reader, err := s.Get(info.ID)
	require.NoError(t, err)
	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.NoError(t, reader.Close())
	assert.Equal(t, content, string(data))

	require.NoError(t, s.Delete(info.ID))

	exists, err = s.Exists(info.ID)
	require.NoError(t, err)
	assert.False(t, exists)
}

// TestLocalStorageList 测试List返回的路径同样可直接打开
func TestLocalStorageList(t *testing.T) {
	s := newTestLocalStorage(t)

	first, err := s.Save(strings.NewReader("a"), "a.pdf")
	require.NoError(t, err)
	second, err := s.Save(strings.NewReader("b"), "b.png")
	require.NoError(t, err)

	files, err := s.List()
	require.NoError(t, err)
	require.Len(t, files, 2)

	byID := make(map[string]FileInfo, len(files))
	for _, f := range files {
		assert.True(t, filepath.IsAbs(f.Path))
		_, statErr := os.Stat(f.Path)
		assert.NoError(t, statErr)
		byID[f.ID] = f
	}

	assert.Contains(t, byID, first.ID)
	assert.Contains(t, byID, second.ID)
	assert.Equal(t, "image/png", byID[second.ID].MimeType)
}

// TestLocalStorageGetMissing 测试不存在的ID返回错误
func TestLocalStorageGetMissing(t *testing.T) {
	s := newTestLocalStorage(t)

	_, err := s.Get("no-such-id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
