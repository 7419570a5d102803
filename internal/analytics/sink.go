package analytics

import (
	"context"
	"fmt"
	"sync/atomic"

	"crypto-pair-monitor/internal/model"
)

// Provider 配对统计的外部计算方 (回归对冲比率、协整价差、z-score、滚动相关性)
// 本包只消费其产出的不透明快照，不做任何统计计算
type Provider interface {
	Fetch(ctx context.Context, pair, timeframe string, window int, method string) (*model.AnalyticsSnapshot, error)
}

// PairID 按订阅顺序拼出配对标识 "SYMBOL1-SYMBOL2"
// 只有恰好两个不同交易对时配对才成立
func PairID(symbols []string) (string, bool) {
	if len(symbols) != 2 || symbols[0] == symbols[1] {
		return "", false
	}
	return symbols[0] + "-" + symbols[1], true
}

// Sink 保存最近一次的配对统计快照
// 有两个写入方 (初始刷新与定时轮询)，读方随时可能出现，
// 因此用原子指针做整体替换：读方看到的要么是完整的旧快照，要么是完整的新快照
type Sink struct {
	snap atomic.Pointer[model.AnalyticsSnapshot]
}

func NewSink() *Sink {
	return &Sink{}
}

// Replace 原子替换整个快照
// 四个序列必须等长且按下标对齐；不等长视为坏载荷，拒绝替换并返回错误
func (s *Sink) Replace(snap *model.AnalyticsSnapshot) error {
	if snap == nil {
		return fmt.Errorf("nil analytics snapshot")
	}
	n := len(snap.Spread)
	if len(snap.HedgeRatio) != n || len(snap.ZScore) != n || len(snap.RollingCorr) != n {
		return fmt.Errorf("misaligned analytics series for pair %s: hedge=%d spread=%d zscore=%d corr=%d",
			snap.Pair, len(snap.HedgeRatio), n, len(snap.ZScore), len(snap.RollingCorr))
	}

	s.snap.Store(snap)
	return nil
}

// Clear 整体清空 (刷新失败或订阅数不足两个时的 fail-closed 行为)
func (s *Sink) Clear() {
	s.snap.Store(nil)
}

// Snapshot 返回当前快照；不存在时返回 false
func (s *Sink) Snapshot() (*model.AnalyticsSnapshot, bool) {
	snap := s.snap.Load()
	if snap == nil {
		return nil, false
	}
	return snap, true
}
