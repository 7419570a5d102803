package market

import (
	"math"
	"sync"
	"time"

	"crypto-pair-monitor/internal/model"
)

// 抖动抑制阈值：价格变化低于相对阈值 (下限 0.001 绝对值)
// 且成交量增量低于绝对阈值时，视为无实质变化，不触发下游刷新
const (
	priceEpsRel = 1e-6 // 0.0001%
	priceEpsAbs = 0.001
	volumeEps   = 1e-4
)

// retentionSlack 保留上限之外的少量余量，避免边界上的频繁裁剪
const retentionSlack = 5

// CandleStore 单交易对的 K 线序列
// 序列按桶起始时间严格递增，每桶至多一根；只有最后一根允许被原地更新
type CandleStore struct {
	mu      sync.RWMutex
	symbol  string
	candles []model.Candle
	maxLen  int
}

// NewCandleStore 按保留窗口与周期计算序列长度上限
func NewCandleStore(symbol string, lookback, timeframe time.Duration) *CandleStore {
	if timeframe <= 0 {
		timeframe = DefaultTimeframe
	}
	maxLen := int(math.Ceil(float64(lookback)/float64(timeframe))) + retentionSlack
	if maxLen < retentionSlack {
		maxLen = retentionSlack
	}

	return &CandleStore{
		symbol:  symbol,
		candles: make([]model.Candle, 0, maxLen),
		maxLen:  maxLen,
	}
}

// Seed 用历史数据整体重置序列 (会话启动或切换周期时调用)
// 假定输入已按时间升序排列；超出上限时只保留最新的部分
func (cs *CandleStore) Seed(candles []model.Candle) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if len(candles) > cs.maxLen {
		candles = candles[len(candles)-cs.maxLen:]
	}
	cs.candles = append(cs.candles[:0], candles...)
}

// Apply 将一笔 (节流后的) 成交写入序列，返回序列是否发生了可观察的变化
//   - 空序列：以该价格开一根新 K 线
//   - 同一桶：原地更新最后一根 (低于抖动阈值的更新被抑制)
//   - 更晚的桶：追加新 K 线并从头部裁剪到保留上限
//   - 更早的桶 (乱序迟到)：直接丢弃，历史桶永不回写
func (cs *CandleStore) Apply(bucketStart time.Time, price, qty float64) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	n := len(cs.candles)
	if n == 0 {
		cs.candles = append(cs.candles, newCandle(bucketStart, price, qty))
		return true
	}

	last := &cs.candles[n-1]
	switch {
	case bucketStart.Equal(last.Ts):
		newHigh := math.Max(last.High, price)
		newLow := math.Min(last.Low, price)
		if priceImmaterial(last.Close, price) &&
			priceImmaterial(last.High, newHigh) &&
			priceImmaterial(last.Low, newLow) &&
			qty < volumeEps {
			return false
		}
		last.Close = price
		last.High = newHigh
		last.Low = newLow
		last.Volume += qty
		return true

	case bucketStart.After(last.Ts):
		cs.candles = append(cs.candles, newCandle(bucketStart, price, qty))
		if len(cs.candles) > cs.maxLen {
			// 从最旧的开始淘汰
			cs.candles = cs.candles[len(cs.candles)-cs.maxLen:]
		}
		return true

	default:
		// 迟到的 tick，丢弃
		return false
	}
}

// Candles 返回当前序列的副本
func (cs *CandleStore) Candles() []model.Candle {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	out := make([]model.Candle, len(cs.candles))
	copy(out, cs.candles)
	return out
}

// Last 返回最后一根 K 线
func (cs *CandleStore) Last() (model.Candle, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	if len(cs.candles) == 0 {
		return model.Candle{}, false
	}
	return cs.candles[len(cs.candles)-1], true
}

// Len 返回当前序列长度
func (cs *CandleStore) Len() int {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return len(cs.candles)
}

// Symbol 返回所属交易对
func (cs *CandleStore) Symbol() string {
	return cs.symbol
}

func newCandle(ts time.Time, price, qty float64) model.Candle {
	return model.Candle{
		Ts:     ts,
		Open:   price,
		High:   price,
		Low:    price,
		Close:  price,
		Volume: qty,
	}
}

// priceImmaterial 判断两个价格之间的差异是否低于抖动阈值
func priceImmaterial(old, new float64) bool {
	eps := math.Abs(new) * priceEpsRel
	if eps < priceEpsAbs {
		eps = priceEpsAbs
	}
	return math.Abs(new-old) < eps
}
