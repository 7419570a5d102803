package api

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"crypto-pair-monitor/internal/model"
	"crypto-pair-monitor/internal/stream"
)

// 包结构：
// - api.go:        入口与依赖定义
// - handler.go:    HTTP 请求处理
// - middleware.go: 中间件 (request id / 日志 / CORS)

// StreamService 查询接口所需的数据面 (由订阅管理器实现)
type StreamService interface {
	State() stream.State
	Symbols() []string
	Timeframe() string
	Candles(symbol string) ([]model.Candle, bool)
	Tickers() []model.TickerSnapshot
	AnalyticsSnapshot() (*model.AnalyticsSnapshot, bool)
	TickCount() int64
	RegisterAlert(metric, pair, operator, threshold string) error
}

// Handler 基于 Gin 的只读查询接口
type Handler struct {
	svc    StreamService
	logger *zap.Logger
}

func NewHandler(svc StreamService, logger *zap.Logger) *Handler {
	return &Handler{
		svc:    svc,
		logger: logger.With(zap.String("component", "api")),
	}
}

// StartServer 启动 HTTP 服务
func (h *Handler) StartServer(port int) error {
	router := h.SetupRoutes()
	return router.Run(":" + strconv.Itoa(port))
}

// SetupRoutes 组装全部路由
func (h *Handler) SetupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(requestIDMiddleware())
	router.Use(loggerMiddleware(h.logger))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	router.GET("/health", h.HealthCheck)
	router.GET("/candles", h.GetCandles)
	router.GET("/ticker", h.GetTickers)
	router.GET("/analytics", h.GetAnalytics)
	router.GET("/analytics/export", h.ExportAnalytics)
	router.GET("/stats", h.GetStats)
	router.POST("/alerts", h.RegisterAlert)

	return router
}
