package storage

import (
	"io"
)

// FileInfo 已保存文件的元数据
// ID在上传时生成，之后贯穿文档记录、任务载荷和API响应
type FileInfo struct {
	ID       string // 文件唯一标识符(UUID)
	Name     string // 上传时的原始文件名
	Size     int64  // 文件大小(字节)
	MimeType string // 按扩展名推断的MIME类型
	Path     string // 可直接访问的位置：本地存储是绝对路径，MinIO是对象名
}

// Storage 上传文件的存储接口
// 本地磁盘用于开发和单机部署，MinIO用于多实例共享同一批PDF
type Storage interface {
	// Save 保存文件并返回文件信息
	Save(reader io.Reader, filename string) (FileInfo, error)

	// Get 按ID获取文件内容
	Get(id string) (io.ReadCloser, error)

	// Delete 按ID删除文件
	Delete(id string) error

	// List 列出所有已保存的文件
	List() ([]FileInfo, error)

	// Exists 检查文件是否存在
	Exists(id string) (bool, error)
}
