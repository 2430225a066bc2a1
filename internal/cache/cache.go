package cache

import (
	"fmt"
	"time"
)

// Cache 缓存接口
// 服务用它缓存按文档ID查询的切分结果列表，值是序列化后的JSON文本
type Cache interface {
	Get(key string) (value string, found bool, err error)
	Set(key string, value string, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// Config 缓存配置
type Config struct {
	// 缓存类型: "memory"或"redis"，其他值回退到内存缓存
	Type string
	// Redis连接地址 (仅Redis缓存使用)
	RedisAddr string
	// Redis密码 (仅Redis缓存使用)
	RedisPassword string
	// Redis数据库编号 (仅Redis缓存使用)
	RedisDB int
	// 默认缓存过期时间
	DefaultTTL time.Duration
	// 过期项清理间隔 (仅内存缓存使用)
	CleanupInterval time.Duration
}

// DefaultConfig 返回默认缓存配置
func DefaultConfig() Config {
	return Config{
		Type:            "memory",
		DefaultTTL:      time.Hour * 24,
		CleanupInterval: time.Minute * 10,
	}
}

// NewCache 按配置类型创建缓存实例
// 单实例部署用内存缓存即可；多实例部署共享Redis，
// 避免各实例对同一文档重复反序列化表格列表
func NewCache(config Config) (Cache, error) {
	switch config.Type {
	case "redis":
		c, err := NewRedisCache(config)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis cache: %w", err)
		}
		return c, nil
	default:
		return NewMemoryCache(config)
	}
}

// GenerateCacheKey 生成标准化的缓存键
// 例如 GenerateCacheKey("tables", docID) -> "tables:<docID>"
func GenerateCacheKey(prefix string, parts ...string) string {
	key := prefix
	for _, part := range parts {
		key += ":" + part
	}
	return key
}
