package ta

import (
	"context"
	"fmt"
	"strings"

	"github.com/markcheno/go-talib"
	"go.uber.org/zap"

	"crypto-pair-monitor/internal/model"
)

// 摄取核心自身不做任何统计计算，只消费不透明的统计快照。
// Calculator 是统计提供方的参考实现，作为可替换的协作方存在；
// 线上部署可以换成专门的统计服务。

// CandleSource 提供单个交易对的 K 线序列 (通常由订阅管理器实现)
type CandleSource interface {
	Candles(symbol string) ([]model.Candle, bool)
}

// Calculator 基于两条腿的收盘价序列计算配对统计
type Calculator struct {
	source CandleSource
	logger *zap.Logger
}

func NewCalculator(source CandleSource, logger *zap.Logger) *Calculator {
	return &Calculator{
		source: source,
		logger: logger.With(zap.String("component", "ta")),
	}
}

// Fetch 计算一次完整的配对统计快照
// 四个序列等长且按下标对齐；历史不足时返回错误，由调用方 fail-closed
func (c *Calculator) Fetch(ctx context.Context, pair, timeframe string, window int, method string) (*model.AnalyticsSnapshot, error) {
	if method != "ols" {
		return nil, fmt.Errorf("unsupported hedge ratio method %q", method)
	}
	if window < 2 {
		return nil, fmt.Errorf("analytics window must be >= 2, got %d", window)
	}

	parts := strings.SplitN(pair, "-", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("malformed pair identifier %q", pair)
	}

	leg1, ok := c.source.Candles(parts[0])
	if !ok {
		return nil, fmt.Errorf("no candle history for %s", parts[0])
	}
	leg2, ok := c.source.Candles(parts[1])
	if !ok {
		return nil, fmt.Errorf("no candle history for %s", parts[1])
	}

	// 两条腿按桶起始时间对齐，只保留双方都有的桶
	ts, y, x := alignCloses(leg1, leg2)

	// talib 的滚动指标前 window-1 个值无效；z-score 又叠加一层滚动窗口
	validStart := 2 * (window - 1)
	if len(ts) <= validStart {
		return nil, fmt.Errorf("insufficient aligned history for pair %s: %d bars, need > %d", pair, len(ts), validStart)
	}

	// 滚动 OLS 对冲比率：beta = corr * std(y) / std(x)
	corr := talib.Correl(x, y, window)
	stdY := talib.StdDev(y, window, 1)
	stdX := talib.StdDev(x, window, 1)

	beta := make([]float64, len(ts))
	spread := make([]float64, len(ts))
	for i := range ts {
		if stdX[i] != 0 {
			beta[i] = corr[i] * stdY[i] / stdX[i]
		}
		spread[i] = y[i] - beta[i]*x[i]
	}

	spreadMean := talib.Sma(spread, window)
	spreadStd := talib.StdDev(spread, window, 1)

	snap := &model.AnalyticsSnapshot{Pair: pair}
	for i := validStart; i < len(ts); i++ {
		z := 0.0
		if spreadStd[i] != 0 {
			z = (spread[i] - spreadMean[i]) / spreadStd[i]
		}
		snap.HedgeRatio = append(snap.HedgeRatio, model.SeriesPoint{Ts: ts[i], Value: beta[i]})
		snap.Spread = append(snap.Spread, model.SeriesPoint{Ts: ts[i], Value: spread[i]})
		snap.ZScore = append(snap.ZScore, model.SeriesPoint{Ts: ts[i], Value: z})
		snap.RollingCorr = append(snap.RollingCorr, model.SeriesPoint{Ts: ts[i], Value: corr[i]})
	}

	// ADF 平稳性检验由专门的统计服务提供；缺失表示历史不足，不是错误
	return snap, nil
}

// alignCloses 以桶起始时间为键求两条腿的交集，返回毫秒时间戳与两侧收盘价
func alignCloses(leg1, leg2 []model.Candle) (ts []int64, y, x []float64) {
	byTs := make(map[int64]float64, len(leg2))
	for _, cd := range leg2 {
		byTs[cd.Ts.UnixMilli()] = cd.Close
	}

	for _, cd := range leg1 {
		key := cd.Ts.UnixMilli()
		if close2, ok := byTs[key]; ok {
			ts = append(ts, key)
			y = append(y, cd.Close)
			x = append(x, close2)
		}
	}
	return ts, y, x
}
