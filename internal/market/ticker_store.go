package market

import (
	"math"
	"sync"

	"crypto-pair-monitor/internal/model"
)

// summaryEps 周期性快照的替换阈值：八个字段全部在该范围内视为重复快照
const summaryEps = 0.01

// TickerStore 每个交易对的滚动最优价状态
// OpenPrice 在会话内首次观测时固定，作为涨跌幅基准，直到会话重置
type TickerStore struct {
	mu        sync.RWMutex
	snapshots map[string]*model.TickerSnapshot
}

func NewTickerStore() *TickerStore {
	return &TickerStore{snapshots: make(map[string]*model.TickerSnapshot)}
}

// OnTick 用一笔成交价更新快照 (不经过节流层)
func (ts *TickerStore) OnTick(symbol string, price float64) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	snap, ok := ts.snapshots[symbol]
	if !ok {
		ts.snapshots[symbol] = &model.TickerSnapshot{
			Symbol:    symbol,
			LastPrice: price,
			OpenPrice: price,
			HighPrice: price,
			LowPrice:  price,
		}
		return
	}

	snap.LastPrice = price
	snap.PriceChange = price - snap.OpenPrice
	if snap.OpenPrice != 0 {
		snap.PriceChangePercent = snap.PriceChange / snap.OpenPrice * 100
	}
	snap.HighPrice = math.Max(snap.HighPrice, price)
	snap.LowPrice = math.Min(snap.LowPrice, price)
}

// OnSummary 用外部的周期性摘要 (例如 24h 统计) 整体替换快照
// 八个字段全部与当前值相差不超过阈值时跳过替换，避免重复快照向下游扩散
// 返回是否发生了替换
func (ts *TickerStore) OnSummary(symbol string, summary model.TickerSnapshot) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	summary.Symbol = symbol
	cur, ok := ts.snapshots[symbol]
	if ok && summaryEqual(*cur, summary) {
		return false
	}

	ts.snapshots[symbol] = &summary
	return true
}

// Snapshot 返回指定交易对的快照副本
func (ts *TickerStore) Snapshot(symbol string) (model.TickerSnapshot, bool) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	snap, ok := ts.snapshots[symbol]
	if !ok {
		return model.TickerSnapshot{}, false
	}
	return *snap, true
}

// All 返回全部快照的副本
func (ts *TickerStore) All() []model.TickerSnapshot {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	out := make([]model.TickerSnapshot, 0, len(ts.snapshots))
	for _, snap := range ts.snapshots {
		out = append(out, *snap)
	}
	return out
}

// Drop 移除指定交易对的快照 (订阅集合变化时调用)
func (ts *TickerStore) Drop(symbol string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	delete(ts.snapshots, symbol)
}

// Reset 清空全部快照 (会话重置时调用)
func (ts *TickerStore) Reset() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.snapshots = make(map[string]*model.TickerSnapshot)
}

func summaryEqual(a, b model.TickerSnapshot) bool {
	within := func(x, y float64) bool { return math.Abs(x-y) <= summaryEps }
	return within(a.LastPrice, b.LastPrice) &&
		within(a.PriceChange, b.PriceChange) &&
		within(a.PriceChangePercent, b.PriceChangePercent) &&
		within(a.OpenPrice, b.OpenPrice) &&
		within(a.HighPrice, b.HighPrice) &&
		within(a.LowPrice, b.LowPrice) &&
		within(a.Volume, b.Volume) &&
		within(a.QuoteVolume, b.QuoteVolume)
}
