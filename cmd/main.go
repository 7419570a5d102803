package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	httpapi "crypto-pair-monitor/api"
	"crypto-pair-monitor/internal/api"
	"crypto-pair-monitor/internal/history"
	"crypto-pair-monitor/internal/model"
	"crypto-pair-monitor/internal/service"
	"crypto-pair-monitor/internal/stream"
	"crypto-pair-monitor/pkg/ta"
)

// managerSource 延迟绑定的 K 线来源
// Calculator 需要在 Manager 之前构造，这里先占位，Manager 就绪后再指回来
type managerSource struct {
	mgr *stream.Manager
}

func (s *managerSource) Candles(symbol string) ([]model.Candle, bool) {
	if s.mgr == nil {
		return nil, false
	}
	return s.mgr.Candles(symbol)
}

func main() {
	service.InitLogger()
	defer service.Logger.Sync()

	configPath := "config"
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		service.Logger.Fatal("Configuration directory 'config/' not found. Please create it.")
	}
	cfg := service.LoadConfig(configPath)

	// 历史 K 线与配对统计两个协作方
	hist := history.NewRESTClient(cfg.Exchange.RESTURL, service.Logger)
	source := &managerSource{}
	calc := ta.NewCalculator(source, service.Logger)

	// 传输层：每次 Start 建立一条新的 WebSocket 连接
	dial := func(ctx context.Context) (stream.Transport, error) {
		return api.Dial(ctx, cfg.Exchange.WSURL, service.Logger)
	}

	mgr := stream.NewManager(dial, hist, calc, cfg.Stream, cfg.Analytics, service.Logger)
	source.mgr = mgr

	ctx := context.Background()
	if err := mgr.Start(ctx, cfg.Stream.Symbols); err != nil {
		service.Logger.Fatal("Failed to start session", zap.Error(err))
	}

	// 告警事件只透传，消费方在这里落日志
	go func() {
		for ev := range mgr.Alerts() {
			service.Logger.Info("!!! ALERT !!!", zap.String("message", ev.Message))
		}
	}()

	// HTTP 查询接口
	handler := httpapi.NewHandler(mgr, service.Logger)
	go func() {
		if err := handler.StartServer(cfg.API.Port); err != nil {
			service.Logger.Fatal("HTTP server stopped", zap.Error(err))
		}
	}()

	service.Logger.Info("pair monitor started",
		zap.Strings("symbols", cfg.Stream.Symbols),
		zap.String("timeframe", cfg.Stream.Timeframe),
		zap.Int("port", cfg.API.Port))

	// 等待退出信号，保证 Stop 在进程结束前完成
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	service.Logger.Info("Shutting down...")
	mgr.Stop()
}
