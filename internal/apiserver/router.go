package apiserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chat-proxy/internal/chat"
	"chat-proxy/internal/middleware"
	"chat-proxy/internal/types"
)

const defaultHeartbeat = 30 * time.Second

// Options 创建 API 服务的参数
type Options struct {
	Service *chat.Service
	// Summaries 为空时使用默认容量
	Summaries *types.LRUCache
	// Heartbeat 下游连接空闲多久发一次 keepalive
	Heartbeat time.Duration
	Logger    *slog.Logger
	// Gatherer 为空时使用 prometheus.DefaultGatherer
	Gatherer prometheus.Gatherer
	// BearerToken 为空时不启用认证
	BearerToken string
}

// New 创建配置好中间件和路由的 Echo 实例
func New(opts Options) *echo.Echo {
	h := NewHandler(opts)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = SonicSerializer{}
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(h.logger))

	RegisterRoutes(e, h)
	return e
}

// RegisterRoutes 注册 Echo 路由
func RegisterRoutes(e *echo.Echo, h *Handler) {
	e.GET("/healthz", h.handleHealth)
	e.GET("/metrics", echo.WrapHandler(h.metrics))

	var mws []echo.MiddlewareFunc
	if h.token != "" {
		mws = append(mws, middleware.BearerAuth(h.token))
	}

	chatGroup := e.Group("/chat", mws...)
	chatGroup.POST("/stream", h.handleChatStream)
	chatGroup.GET("/streams/:id", h.handleStreamSummary)

	// ChatGPT 风格的请求
	v1 := e.Group("/v1", mws...)
	v1.POST("/chat/completions", h.handleChatCompletion)
}

// Handler 持有各路由共享的依赖
type Handler struct {
	svc       *chat.Service
	summaries *types.LRUCache
	heartbeat time.Duration
	logger    *slog.Logger
	metrics   http.Handler
	token     string
}

// NewHandler 补齐默认值后创建 Handler
func NewHandler(opts Options) *Handler {
	h := &Handler{
		svc:       opts.Service,
		summaries: opts.Summaries,
		heartbeat: opts.Heartbeat,
		logger:    opts.Logger,
		token:     opts.BearerToken,
	}
	if h.summaries == nil {
		h.summaries = types.NewLRUCache(0)
	}
	if h.heartbeat <= 0 {
		h.heartbeat = defaultHeartbeat
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	h.metrics = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	return h
}
