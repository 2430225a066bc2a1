package ocr

import (
	"time"
)

// Config 表格识别服务连接配置
// 表格识别(OCR/表格检测)由外部服务承担，本包只负责调用
type Config struct {
	BaseURL       string        // 服务基础URL
	Timeout       time.Duration // 请求超时时间
	MaxRetries    int           // 最大重试次数
	RetryDelay    time.Duration // 重试间隔基数
	Lang          string        // OCR语言
	MinConfidence int           // 最低OCR置信度(0-100)
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		BaseURL:       "http://localhost:8000/api/ocr",
		Timeout:       120 * time.Second, // OCR较慢，超时放宽
		MaxRetries:    3,
		RetryDelay:    time.Second,
		Lang:          "korean",
		MinConfidence: 40,
	}
}

// WithBaseURL 设置基础URL
func (c *Config) WithBaseURL(url string) *Config {
	c.BaseURL = url
	return c
}

// WithTimeout 设置请求超时时间
func (c *Config) WithTimeout(timeout time.Duration) *Config {
	c.Timeout = timeout
	return c
}

// WithRetry 设置重试参数
func (c *Config) WithRetry(maxRetries int, retryDelay time.Duration) *Config {
	c.MaxRetries = maxRetries
	c.RetryDelay = retryDelay
	return c
}

// WithLang 设置OCR语言
func (c *Config) WithLang(lang string) *Config {
	c.Lang = lang
	return c
}
