package utils

import (
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// newOptimizedTransport 创建优化的 HTTP 传输配置，提升连接池复用率
func newOptimizedTransport() *http.Transport {
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
		// 流式响应不能被透明解压缓冲
		DisableCompression: true,
	}
}

// NewRestySSEClient 创建用于流式请求的 resty 客户端。
// 响应体不解析，由调用方逐段读取并负责关闭；timeout 为 0 表示不限制整个流的时长。
func NewRestySSEClient(timeout time.Duration) *resty.Client {
	return resty.New().
		SetTimeout(timeout).
		SetTransport(newOptimizedTransport()).
		SetDoNotParseResponse(true).
		SetHeaders(map[string]string{
			"Content-Type":  "application/json",
			"Accept":        "text/event-stream",
			"Cache-Control": "no-cache",
		})
}
