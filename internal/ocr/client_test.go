package ocr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Harsh18999/permit-extract/internal/segmenter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient 创建指向测试服务器的客户端
func newTestClient(t *testing.T, handler http.Handler) (Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	config := DefaultConfig().
		WithBaseURL(server.URL).
		WithTimeout(5 * time.Second).
		WithRetry(2, 10*time.Millisecond)

	client, err := NewClient(config)
	require.NoError(t, err)
	return client, server
}

// TestClientPost 测试POST请求和响应解析
func TestClientPost(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "doc-1", req["file_id"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success": true, "file_id": "doc-1"}`))
	}))

	var result struct {
		Success bool   `json:"success"`
		FileID  string `json:"file_id"`
	}
	err := client.Post(context.Background(), "/tables/extract", map[string]string{"file_id": "doc-1"}, &result)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "doc-1", result.FileID)
}

// TestClientAPIError 测试非2xx响应转换为APIError
func TestClientAPIError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail": "unsupported file type"}`))
	}))

	err := client.Get(context.Background(), "/health", nil)
	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok, "错误应该是APIError类型")
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, "unsupported file type", apiErr.Detail)
}

// TestClientRetry 测试请求失败后的重试
func TestClientRetry(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			// 第一次尝试直接断开连接，触发重试
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			conn.Close()
			return
		}
		_, _ = w.Write([]byte(`{"status": "ok"}`))
	}))

	var result struct {
		Status string `json:"status"`
	}
	err := client.Get(context.Background(), "/health", &result)
	require.NoError(t, err, "重试后请求应该成功")
	assert.Equal(t, "ok", result.Status)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}

// TestTableClientExtract 测试表格提取客户端
func TestTableClientExtract(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tables/extract", r.URL.Path)

		var req ExtractRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		// 未指定时由客户端填充默认语言
		assert.Equal(t, "korean", req.Lang)

		resp := extractResponse{
			Success: true,
			FileID:  req.FileID,
			Pages: []PageTables{
				{
					Page: 1,
					Tables: []TableGrid{
						{Rows: []segmenter.Row{{"항목", "반영여부"}, {"a", "반영"}}},
					},
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))

	tableClient := NewTableClient(client)
	pages, err := tableClient.ExtractTables(context.Background(), &ExtractRequest{
		FileID:   "doc-1",
		FileName: "permit.pdf",
	})
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, 1, pages[0].Page)
	require.Len(t, pages[0].Tables, 1)
	require.Len(t, pages[0].Tables[0].Rows, 2)
	assert.Equal(t, "반영여부", pages[0].Tables[0].Rows[0][1])
}

// TestTableClientExtractFailure 测试服务端失败响应
func TestTableClientExtractFailure(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success": false, "error": "ocr engine not ready"}`))
	}))

	tableClient := NewTableClient(client)
	_, err := tableClient.ExtractTables(context.Background(), &ExtractRequest{FileID: "doc-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ocr engine not ready")
}

// TestTableClientValidation 测试请求参数校验
func TestTableClientValidation(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("校验失败时不应发起请求")
	}))

	tableClient := NewTableClient(client)

	_, err := tableClient.ExtractTables(context.Background(), nil)
	assert.Error(t, err)

	_, err = tableClient.ExtractTables(context.Background(), &ExtractRequest{})
	assert.Error(t, err)
}
