package market

import "sync/atomic"

// TickCounter 单调递增的成交计数器
// 在节流之前递增，反映真实到达速率；对外可见值按固定节奏发布，
// 与递增频率解耦，避免高频到达时的读放大
type TickCounter struct {
	count     atomic.Int64
	published atomic.Int64
}

func NewTickCounter() *TickCounter {
	return &TickCounter{}
}

// Incr 每接受一笔成交调用一次
func (c *TickCounter) Incr() {
	c.count.Add(1)
}

// Value 返回实时计数
func (c *TickCounter) Value() int64 {
	return c.count.Load()
}

// Publish 将实时计数刷新到对外可见值，返回本次发布的值
func (c *TickCounter) Publish() int64 {
	v := c.count.Load()
	c.published.Store(v)
	return v
}

// Published 返回最近一次发布的值
func (c *TickCounter) Published() int64 {
	return c.published.Load()
}

// Reset 清零 (会话重置时调用)
func (c *TickCounter) Reset() {
	c.count.Store(0)
	c.published.Store(0)
}
