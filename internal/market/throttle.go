package market

import (
	"sync"
	"time"

	"crypto-pair-monitor/internal/model"
)

// DefaultThrottleInterval 默认节流间隔
const DefaultThrottleInterval = 100 * time.Millisecond

// FlushFunc 节流放行时接收该交易对最新的一笔成交
type FlushFunc func(t model.Tick)

// throttleState 单交易对的节流状态：单槽位的待处理成交 + 上次放行时间
type throttleState struct {
	lastFlush   time.Time
	pending     model.Tick
	hasPending  bool
	lastApplied model.Tick // 上次放行的值，保留作变更对比的参照
}

// Throttle 限制 K 线写入频率的节流/合并层
// 每个交易对只保留最新一笔成交 (last-writer-wins)，到达间隔后才放行；
// 中间被覆盖的值丢弃，但最新价格保证最终被应用。
// 写入只来自摄取循环；锁用于订阅集合变化时的状态清理。
type Throttle struct {
	mu       sync.Mutex
	interval time.Duration
	flush    FlushFunc
	now      func() time.Time // 可注入时钟，便于测试
	states   map[string]*throttleState
}

// NewThrottle 创建节流层；now 传 nil 时使用 time.Now
func NewThrottle(interval time.Duration, flush FlushFunc, now func() time.Time) *Throttle {
	if now == nil {
		now = time.Now
	}
	return &Throttle{
		interval: interval,
		flush:    flush,
		now:      now,
		states:   make(map[string]*throttleState),
	}
}

// Offer 接收一笔已通过校验的成交，返回本次是否触发了放行
// 放行条件：距该交易对上次放行已超过节流间隔 (首笔成交立即放行)
func (th *Throttle) Offer(t model.Tick) bool {
	th.mu.Lock()
	defer th.mu.Unlock()

	st, ok := th.states[t.Symbol]
	if !ok {
		st = &throttleState{}
		th.states[t.Symbol] = st
	}

	// 覆盖槽位：只保留最新值，不排队
	st.pending = t
	st.hasPending = true

	now := th.now()
	if !st.lastFlush.IsZero() && now.Sub(st.lastFlush) < th.interval {
		// 间隔未到，槽位留给下一笔合格的成交
		return false
	}

	th.flush(st.pending)
	st.lastApplied = st.pending
	st.lastFlush = now
	st.hasPending = false
	return true
}

// Pending 返回指定交易对尚未放行的成交
func (th *Throttle) Pending(symbol string) (model.Tick, bool) {
	th.mu.Lock()
	defer th.mu.Unlock()

	st, ok := th.states[symbol]
	if !ok || !st.hasPending {
		return model.Tick{}, false
	}
	return st.pending, true
}

// LastApplied 返回上次放行的成交，供变更对比使用
func (th *Throttle) LastApplied(symbol string) (model.Tick, bool) {
	th.mu.Lock()
	defer th.mu.Unlock()

	st, ok := th.states[symbol]
	if !ok || st.lastFlush.IsZero() {
		return model.Tick{}, false
	}
	return st.lastApplied, true
}

// Drop 移除指定交易对的节流状态
func (th *Throttle) Drop(symbol string) {
	th.mu.Lock()
	defer th.mu.Unlock()
	delete(th.states, symbol)
}

// Reset 清空全部节流状态 (会话重置时调用)
func (th *Throttle) Reset() {
	th.mu.Lock()
	defer th.mu.Unlock()
	th.states = make(map[string]*throttleState)
}
