package history

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"crypto-pair-monitor/internal/model"
	"crypto-pair-monitor/internal/service"
)

// Provider 历史 K 线提供方，用于会话启动或切换交易对/周期时重新播种
type Provider interface {
	Fetch(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]model.Candle, error)
}

// RESTClient 基于交易所 REST 接口 (Binance 风格 /api/v3/klines) 的实现
type RESTClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewRESTClient(baseURL string, logger *zap.Logger) *RESTClient {
	return &RESTClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With(zap.String("component", "history")),
	}
}

// Fetch 拉取一段历史 K 线，按时间升序返回
func (c *RESTClient) Fetch(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]model.Candle, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", timeframe)
	q.Set("startTime", fmt.Sprintf("%d", from.UnixMilli()))
	q.Set("endTime", fmt.Sprintf("%d", to.UnixMilli()))
	q.Set("limit", "1000")

	reqURL := fmt.Sprintf("%s/api/v3/klines?%s", c.baseURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build klines request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch klines for %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("klines request for %s returned status %d", symbol, resp.StatusCode)
	}

	// Binance 风格载荷：[[openTime, "open", "high", "low", "close", "volume", closeTime, ...], ...]
	var rows [][]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode klines payload: %w", err)
	}

	candles := make([]model.Candle, 0, len(rows))
	for _, row := range rows {
		candle, err := parseKlineRow(row)
		if err != nil {
			c.logger.Warn("Skipping malformed kline row", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		candles = append(candles, candle)
	}

	return candles, nil
}

func parseKlineRow(row []json.RawMessage) (model.Candle, error) {
	if len(row) < 6 {
		return model.Candle{}, fmt.Errorf("kline row too short: %d fields", len(row))
	}

	var openTime int64
	if err := json.Unmarshal(row[0], &openTime); err != nil {
		return model.Candle{}, fmt.Errorf("open time: %w", err)
	}

	values := make([]float64, 5)
	for i := 1; i <= 5; i++ {
		var s string
		if err := json.Unmarshal(row[i], &s); err != nil {
			// 有些源直接给数字
			var v float64
			if err := json.Unmarshal(row[i], &v); err != nil {
				return model.Candle{}, fmt.Errorf("field %d: %w", i, err)
			}
			values[i-1] = v
			continue
		}
		v, err := service.StringToFloat(s)
		if err != nil {
			return model.Candle{}, fmt.Errorf("field %d: %w", i, err)
		}
		values[i-1] = v
	}

	return model.Candle{
		Ts:     time.UnixMilli(openTime).UTC(),
		Open:   values[0],
		High:   values[1],
		Low:    values[2],
		Close:  values[3],
		Volume: values[4],
	}, nil
}
