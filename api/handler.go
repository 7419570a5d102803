package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"crypto-pair-monitor/internal/analytics"
)

// HealthCheck 存活探针
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetCandles 返回指定交易对的 K 线序列
func (h *Handler) GetCandles(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol query parameter is required"})
		return
	}

	candles, ok := h.svc.Candles(symbol)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "symbol not subscribed: " + symbol})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"symbol":    symbol,
		"timeframe": h.svc.Timeframe(),
		"candles":   candles,
	})
}

// GetTickers 返回全部 ticker 快照
func (h *Handler) GetTickers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tickers": h.svc.Tickers()})
}

// GetAnalytics 返回最近一次的配对统计快照
func (h *Handler) GetAnalytics(c *gin.Context) {
	snap, ok := h.svc.AnalyticsSnapshot()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no analytics snapshot available"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// ExportAnalytics 把统计快照的对齐序列导出为 CSV
func (h *Handler) ExportAnalytics(c *gin.Context) {
	snap, ok := h.svc.AnalyticsSnapshot()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no analytics snapshot available"})
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="analytics-`+snap.Pair+`.csv"`)
	if err := analytics.ExportCSV(c.Writer, snap); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// GetStats 返回会话状态与成交计数
func (h *Handler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state":     h.svc.State(),
		"symbols":   h.svc.Symbols(),
		"timeframe": h.svc.Timeframe(),
		"tickCount": h.svc.TickCount(),
	})
}

// alertRegistration POST /alerts 请求体；threshold 用字符串承载以便给出具体的校验错误
type alertRegistration struct {
	Metric    string `json:"metric"`
	Pair      string `json:"pair"`
	Operator  string `json:"operator"`
	Threshold string `json:"threshold"`
}

// RegisterAlert 校验并提交告警注册请求
func (h *Handler) RegisterAlert(c *gin.Context) {
	var req alertRegistration
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body: " + err.Error()})
		return
	}

	if err := h.svc.RegisterAlert(req.Metric, req.Pair, req.Operator, req.Threshold); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "registered"})
}
