package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto-pair-monitor/internal/model"
)

// fakeClock 手动推进的时钟
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func tick(symbol string, price, qty float64, ts int64) model.Tick {
	return model.Tick{Symbol: symbol, Price: price, Qty: qty, Timestamp: ts}
}

func TestThrottleFirstTickFlushesImmediately(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	var flushed []model.Tick
	th := NewThrottle(100*time.Millisecond, func(t model.Tick) { flushed = append(flushed, t) }, clock.Now)

	assert.True(t, th.Offer(tick("BTCUSDT", 100, 1, 1)))
	require.Len(t, flushed, 1)
	assert.Equal(t, 100.0, flushed[0].Price)
}

func TestThrottleCoalescesWithinInterval(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	var flushed []model.Tick
	th := NewThrottle(100*time.Millisecond, func(t model.Tick) { flushed = append(flushed, t) }, clock.Now)

	// 第一笔立即放行
	th.Offer(tick("BTCUSDT", 100, 1, 1))

	// 间隔内的 N 笔全部合并，最多触发一次放行
	for i := 0; i < 50; i++ {
		clock.Advance(time.Millisecond)
		assert.False(t, th.Offer(tick("BTCUSDT", 100+float64(i), 1, int64(i+2))))
	}
	require.Len(t, flushed, 1)

	// 槽位里是最新一笔，不是平均值也不是第一笔
	pending, ok := th.Pending("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 149.0, pending.Price)

	// 间隔到达后，下一笔放行的是最新值
	clock.Advance(100 * time.Millisecond)
	assert.True(t, th.Offer(tick("BTCUSDT", 123, 2, 100)))
	require.Len(t, flushed, 2)
	assert.Equal(t, 123.0, flushed[1].Price)
	assert.Equal(t, 2.0, flushed[1].Qty)

	// 放行后挂起标记被清除，但最后应用值保留作对比参照
	_, ok = th.Pending("BTCUSDT")
	assert.False(t, ok)
	applied, ok := th.LastApplied("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 123.0, applied.Price)
}

func TestThrottlePerSymbolIndependence(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	var flushed []model.Tick
	th := NewThrottle(100*time.Millisecond, func(t model.Tick) { flushed = append(flushed, t) }, clock.Now)

	// 不同交易对的节流窗口互不影响
	assert.True(t, th.Offer(tick("BTCUSDT", 100, 1, 1)))
	assert.True(t, th.Offer(tick("ETHUSDT", 50, 1, 1)))
	assert.False(t, th.Offer(tick("BTCUSDT", 101, 1, 2)))
	assert.False(t, th.Offer(tick("ETHUSDT", 51, 1, 2)))
	assert.Len(t, flushed, 2)
}

func TestThrottleZeroIntervalAlwaysFlushes(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	count := 0
	th := NewThrottle(0, func(model.Tick) { count++ }, clock.Now)

	for i := 0; i < 10; i++ {
		assert.True(t, th.Offer(tick("BTCUSDT", 100, 1, int64(i))))
	}
	assert.Equal(t, 10, count)
}

func TestThrottleResetClearsState(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	th := NewThrottle(100*time.Millisecond, func(model.Tick) {}, clock.Now)

	th.Offer(tick("BTCUSDT", 100, 1, 1))
	th.Offer(tick("BTCUSDT", 101, 1, 2))
	th.Reset()

	_, ok := th.Pending("BTCUSDT")
	assert.False(t, ok)
	_, ok = th.LastApplied("BTCUSDT")
	assert.False(t, ok)

	// 重置后第一笔重新立即放行
	assert.True(t, th.Offer(tick("BTCUSDT", 102, 1, 3)))
}

func TestTickCounterPublishCadence(t *testing.T) {
	c := NewTickCounter()

	for i := 0; i < 5; i++ {
		c.Incr()
	}
	// 未发布前对外值不变
	assert.Equal(t, int64(5), c.Value())
	assert.Equal(t, int64(0), c.Published())

	assert.Equal(t, int64(5), c.Publish())
	assert.Equal(t, int64(5), c.Published())

	c.Reset()
	assert.Equal(t, int64(0), c.Value())
	assert.Equal(t, int64(0), c.Published())
}
