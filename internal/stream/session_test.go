package stream

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"crypto-pair-monitor/internal/model"
	"crypto-pair-monitor/internal/service"
)

// fakeTransport 以合成消息序列驱动摄取循环，替代真实 WebSocket
type fakeTransport struct {
	mu           sync.Mutex
	frames       chan []byte
	subscribed   [][]string
	unsubscribed [][]string
	sent         []interface{}
	closed       bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{frames: make(chan []byte, 256)}
}

func (f *fakeTransport) Subscribe(symbols []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, append([]string(nil), symbols...))
	return nil
}

func (f *fakeTransport) Unsubscribe(symbols []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, append([]string(nil), symbols...))
	return nil
}

func (f *fakeTransport) Send(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeTransport) Frames() <-chan []byte {
	return f.frames
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.frames)
	}
	return nil
}

func (f *fakeTransport) push(raw string) {
	f.frames <- []byte(raw)
}

// fakeHistory 可按交易对注入结果或错误的历史数据提供方
type fakeHistory struct {
	mu      sync.Mutex
	candles map[string][]model.Candle
	errs    map[string]error
	fetched []string
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{
		candles: make(map[string][]model.Candle),
		errs:    make(map[string]error),
	}
}

func (f *fakeHistory) Fetch(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]model.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, symbol+"@"+timeframe)
	if err := f.errs[symbol]; err != nil {
		return nil, err
	}
	return f.candles[symbol], nil
}

// fakeProvider 可注入快照或错误的统计提供方
type fakeProvider struct {
	mu    sync.Mutex
	snap  *model.AnalyticsSnapshot
	err   error
	calls int
}

func (f *fakeProvider) Fetch(ctx context.Context, pair, timeframe string, window int, method string) (*model.AnalyticsSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.snap == nil {
		return nil, fmt.Errorf("no snapshot configured")
	}
	return f.snap, nil
}

func (f *fakeProvider) set(snap *model.AnalyticsSnapshot, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap, f.err = snap, err
}

type managerFixture struct {
	mgr       *Manager
	transport *fakeTransport
	history   *fakeHistory
	provider  *fakeProvider
	dials     int
}

func newFixture(t *testing.T) *managerFixture {
	t.Helper()

	fx := &managerFixture{
		transport: newFakeTransport(),
		history:   newFakeHistory(),
		provider:  &fakeProvider{},
	}
	dial := func(ctx context.Context) (Transport, error) {
		fx.dials++
		return fx.transport, nil
	}

	fx.mgr = NewManager(dial, fx.history, fx.provider,
		service.StreamConfig{
			Symbols:          nil,
			Timeframe:        "1m",
			Lookback:         time.Hour,
			ThrottleInterval: 0, // 测试里关闭节流，确保每笔都落账
		},
		service.AnalyticsConfig{PollInterval: 20 * time.Millisecond, Window: 30, Method: "ols"},
		zap.NewNop())
	t.Cleanup(fx.mgr.Stop)
	return fx
}

func pairSnapshot(pair string, n int) *model.AnalyticsSnapshot {
	snap := &model.AnalyticsSnapshot{Pair: pair}
	for i := 0; i < n; i++ {
		pt := model.SeriesPoint{Ts: int64(i), Value: float64(i)}
		snap.HedgeRatio = append(snap.HedgeRatio, pt)
		snap.Spread = append(snap.Spread, pt)
		snap.ZScore = append(snap.ZScore, pt)
		snap.RollingCorr = append(snap.RollingCorr, pt)
	}
	return snap
}

func tradeFrame(symbol string, price float64, ts int64) string {
	return fmt.Sprintf(`{"type":"trade","symbol":%q,"price":%v,"qty":1,"ts":%d}`, symbol, price, ts)
}

func TestStartValidatesSymbolCardinality(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	assert.Error(t, fx.mgr.Start(ctx, nil))
	assert.Error(t, fx.mgr.Start(ctx, []string{"A", "B", "C"}))
	assert.Error(t, fx.mgr.Start(ctx, []string{"BTCUSDT", "BTCUSDT"}))
	assert.Error(t, fx.mgr.Start(ctx, []string{""}))

	// 校验失败时根本不会触发拨号
	assert.Equal(t, 0, fx.dials)
	assert.Equal(t, StateDisconnected, fx.mgr.State())
}

func TestStartDialFailureSurfaces(t *testing.T) {
	dial := func(ctx context.Context) (Transport, error) {
		return nil, fmt.Errorf("connection refused")
	}
	mgr := NewManager(dial, newFakeHistory(), &fakeProvider{},
		service.StreamConfig{Timeframe: "1m", Lookback: time.Hour},
		service.AnalyticsConfig{PollInterval: time.Second},
		zap.NewNop())

	err := mgr.Start(context.Background(), []string{"BTCUSDT"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open transport")
	// 不自动重试，停留在 Disconnected
	assert.Equal(t, StateDisconnected, mgr.State())
}

func TestEndToEndCandleAggregation(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.mgr.Start(context.Background(), []string{"BTCUSDT"}))
	assert.Equal(t, StateSubscribed, fx.mgr.State())

	// 2024-06-01T12:00:00Z，对齐到整分钟
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	fx.transport.push(tradeFrame("BTCUSDT", 100, base.UnixMilli()))
	fx.transport.push(tradeFrame("BTCUSDT", 102, base.Add(30*time.Second).UnixMilli()))
	fx.transport.push(tradeFrame("BTCUSDT", 101, base.Add(61*time.Second).UnixMilli()))

	require.Eventually(t, func() bool {
		candles, ok := fx.mgr.Candles("BTCUSDT")
		return ok && len(candles) == 2
	}, 2*time.Second, 5*time.Millisecond)

	candles, _ := fx.mgr.Candles("BTCUSDT")
	assert.Equal(t, base, candles[0].Ts)
	assert.Equal(t, 100.0, candles[0].Open)
	assert.Equal(t, 102.0, candles[0].High)
	assert.Equal(t, 100.0, candles[0].Low)
	assert.Equal(t, 102.0, candles[0].Close)

	assert.Equal(t, base.Add(time.Minute), candles[1].Ts)
	assert.Equal(t, model.Candle{Ts: base.Add(time.Minute), Open: 101, High: 101, Low: 101, Close: 101, Volume: 1}, candles[1])
}

func TestTickerUpdatesBypassThrottle(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.mgr.Start(context.Background(), []string{"BTCUSDT"}))

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	fx.transport.push(tradeFrame("BTCUSDT", 100, base.UnixMilli()))
	fx.transport.push(tradeFrame("BTCUSDT", 110, base.Add(time.Second).UnixMilli()))
	fx.transport.push(tradeFrame("BTCUSDT", 95, base.Add(2*time.Second).UnixMilli()))

	require.Eventually(t, func() bool {
		for _, snap := range fx.mgr.Tickers() {
			if snap.Symbol == "BTCUSDT" && snap.LastPrice == 95 {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	for _, snap := range fx.mgr.Tickers() {
		if snap.Symbol == "BTCUSDT" {
			assert.Equal(t, 100.0, snap.OpenPrice)
			assert.Equal(t, 110.0, snap.HighPrice)
			assert.Equal(t, 95.0, snap.LowPrice)
		}
	}

	// 计数器在节流之前递增，反映真实到达速率
	require.Eventually(t, func() bool {
		return fx.mgr.TickCount() == 3
	}, 3*time.Second, 20*time.Millisecond)
}

func TestAnalyticsPollReplacesAndFailsClosed(t *testing.T) {
	fx := newFixture(t)
	fx.provider.set(pairSnapshot("BTCUSDT-ETHUSDT", 5), nil)

	require.NoError(t, fx.mgr.Start(context.Background(), []string{"BTCUSDT", "ETHUSDT"}))

	require.Eventually(t, func() bool {
		snap, ok := fx.mgr.AnalyticsSnapshot()
		return ok && snap.Pair == "BTCUSDT-ETHUSDT" && len(snap.Spread) == 5
	}, 2*time.Second, 5*time.Millisecond)

	// 刷新失败 → 快照整体清空，而不是保留过期数据
	fx.provider.set(nil, fmt.Errorf("analytics backend down"))
	require.Eventually(t, func() bool {
		_, ok := fx.mgr.AnalyticsSnapshot()
		return !ok
	}, 2*time.Second, 5*time.Millisecond)
}

func TestAnalyticsCardinalityGating(t *testing.T) {
	fx := newFixture(t)
	fx.provider.set(pairSnapshot("BTCUSDT-ETHUSDT", 3), nil)

	require.NoError(t, fx.mgr.Start(context.Background(), []string{"BTCUSDT", "ETHUSDT"}))
	require.Eventually(t, func() bool {
		_, ok := fx.mgr.AnalyticsSnapshot()
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	// 2 → 1 个交易对：快照被清空且不再重建
	require.NoError(t, fx.mgr.ChangeSymbols([]string{"BTCUSDT"}))
	require.Eventually(t, func() bool {
		_, ok := fx.mgr.AnalyticsSnapshot()
		return !ok
	}, 2*time.Second, 5*time.Millisecond)

	// 单交易对期间轮询不会重建快照
	time.Sleep(100 * time.Millisecond)
	_, ok := fx.mgr.AnalyticsSnapshot()
	assert.False(t, ok)
}

func TestAnalyticsPairChangeClearsSnapshot(t *testing.T) {
	// 轮询间隔拉长到远超测试时长：快照的消失只能来自切换时的清空
	transport := newFakeTransport()
	provider := &fakeProvider{}
	provider.set(pairSnapshot("BTCUSDT-ETHUSDT", 3), nil)
	dial := func(ctx context.Context) (Transport, error) { return transport, nil }
	mgr := NewManager(dial, newFakeHistory(), provider,
		service.StreamConfig{Timeframe: "1m", Lookback: time.Hour},
		service.AnalyticsConfig{PollInterval: 10 * time.Second, Window: 30, Method: "ols"},
		zap.NewNop())
	t.Cleanup(mgr.Stop)

	require.NoError(t, mgr.Start(context.Background(), []string{"BTCUSDT", "ETHUSDT"}))
	require.Eventually(t, func() bool {
		snap, ok := mgr.AnalyticsSnapshot()
		return ok && snap.Pair == "BTCUSDT-ETHUSDT"
	}, 2*time.Second, 5*time.Millisecond)

	// 换到另一个配对：旧配对的快照在切换返回时已不可见
	require.NoError(t, mgr.ChangeSymbols([]string{"BTCUSDT", "SOLUSDT"}))
	_, ok := mgr.AnalyticsSnapshot()
	assert.False(t, ok)

	// 重新填充后只调换腿顺序：配对标识不同，同样触发清空
	require.NoError(t, mgr.RefreshAnalytics())
	_, ok = mgr.AnalyticsSnapshot()
	require.True(t, ok)

	require.NoError(t, mgr.ChangeSymbols([]string{"SOLUSDT", "BTCUSDT"}))
	_, ok = mgr.AnalyticsSnapshot()
	assert.False(t, ok)
}

func TestChangeSymbolsReseedsAndDrops(t *testing.T) {
	fx := newFixture(t)
	seeded := []model.Candle{{Ts: time.Date(2024, 6, 1, 11, 59, 0, 0, time.UTC), Open: 50, High: 51, Low: 49, Close: 50.5, Volume: 10}}
	fx.history.candles["ETHUSDT"] = seeded

	require.NoError(t, fx.mgr.Start(context.Background(), []string{"BTCUSDT"}))

	require.NoError(t, fx.mgr.ChangeSymbols([]string{"ETHUSDT"}))

	// 新增的交易对从历史数据播种
	candles, ok := fx.mgr.Candles("ETHUSDT")
	require.True(t, ok)
	assert.Equal(t, seeded, candles)

	// 移除的交易对状态整体丢弃
	_, ok = fx.mgr.Candles("BTCUSDT")
	assert.False(t, ok)

	// 过滤集合同步更新：旧交易对的 tick 不再被接受
	fx.transport.push(tradeFrame("BTCUSDT", 100, time.Now().UnixMilli()))
	fx.transport.push(tradeFrame("ETHUSDT", 52, time.Date(2024, 6, 1, 12, 0, 1, 0, time.UTC).UnixMilli()))
	require.Eventually(t, func() bool {
		candles, _ := fx.mgr.Candles("ETHUSDT")
		return len(candles) == 2
	}, 2*time.Second, 5*time.Millisecond)
	_, ok = fx.mgr.Candles("BTCUSDT")
	assert.False(t, ok)
}

func TestChangeTimeframeDiscardsAndReseeds(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.mgr.Start(context.Background(), []string{"BTCUSDT"}))

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	fx.transport.push(tradeFrame("BTCUSDT", 100, base.UnixMilli()))
	require.Eventually(t, func() bool {
		candles, _ := fx.mgr.Candles("BTCUSDT")
		return len(candles) == 1
	}, 2*time.Second, 5*time.Millisecond)

	// 切换周期：不做历史重分桶，清空后重新播种
	fx.history.mu.Lock()
	fx.history.candles["BTCUSDT"] = []model.Candle{{Ts: base.Add(-5 * time.Minute), Close: 99}}
	fx.history.mu.Unlock()

	require.NoError(t, fx.mgr.ChangeTimeframe("5m"))
	assert.Equal(t, "5m", fx.mgr.Timeframe())

	candles, _ := fx.mgr.Candles("BTCUSDT")
	require.Len(t, candles, 1)
	assert.Equal(t, 99.0, candles[0].Close)

	// 新的 tick 按新周期分桶
	fx.transport.push(tradeFrame("BTCUSDT", 101, base.Add(7*time.Minute).UnixMilli()))
	require.Eventually(t, func() bool {
		candles, _ := fx.mgr.Candles("BTCUSDT")
		return len(candles) == 2 && candles[1].Ts.Equal(base.Add(5*time.Minute))
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHistoricalFailureIsolation(t *testing.T) {
	fx := newFixture(t)
	fx.history.candles["ETHUSDT"] = []model.Candle{{Ts: time.Date(2024, 6, 1, 11, 0, 0, 0, time.UTC), Close: 50}}
	fx.history.errs["BTCUSDT"] = fmt.Errorf("history backend timeout")

	// 单交易对拉取失败只降级该交易对，Start 本身成功
	require.NoError(t, fx.mgr.Start(context.Background(), []string{"BTCUSDT", "ETHUSDT"}))

	btc, ok := fx.mgr.Candles("BTCUSDT")
	require.True(t, ok)
	assert.Empty(t, btc)

	eth, ok := fx.mgr.Candles("ETHUSDT")
	require.True(t, ok)
	assert.Len(t, eth, 1)
}

func TestStopClearsSessionState(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.mgr.Start(context.Background(), []string{"BTCUSDT"}))

	fx.transport.push(tradeFrame("BTCUSDT", 100, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC).UnixMilli()))
	require.Eventually(t, func() bool {
		candles, _ := fx.mgr.Candles("BTCUSDT")
		return len(candles) == 1
	}, 2*time.Second, 5*time.Millisecond)

	fx.mgr.Stop()

	// Stop 返回后状态彻底清空，不再有任何变更
	assert.Equal(t, StateDisconnected, fx.mgr.State())
	_, ok := fx.mgr.Candles("BTCUSDT")
	assert.False(t, ok)
	assert.Empty(t, fx.mgr.Tickers())
	assert.Zero(t, fx.mgr.TickCount())
	_, ok = fx.mgr.AnalyticsSnapshot()
	assert.False(t, ok)
}

func TestTransportCloseEndsSessionWithoutReconnect(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.mgr.Start(context.Background(), []string{"BTCUSDT"}))
	require.Equal(t, 1, fx.dials)

	// 模拟传输层出错关闭
	fx.transport.Close()

	require.Eventually(t, func() bool {
		return fx.mgr.State() == StateDisconnected
	}, 2*time.Second, 5*time.Millisecond)

	// 不自动重连，需要显式的新 Start
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, fx.dials)
}

func TestRegisterAlertValidatesBeforeSubmit(t *testing.T) {
	fx := newFixture(t)

	// 无会话时拒绝
	err := fx.mgr.RegisterAlert("zscore", "BTCUSDT-ETHUSDT", ">", "2")
	require.Error(t, err)

	require.NoError(t, fx.mgr.Start(context.Background(), []string{"BTCUSDT", "ETHUSDT"}))

	// 校验失败的请求不会被提交
	require.Error(t, fx.mgr.RegisterAlert("zscore", "BTCUSDT", ">", "2"))
	fx.transport.mu.Lock()
	sent := len(fx.transport.sent)
	fx.transport.mu.Unlock()
	assert.Zero(t, sent)

	require.NoError(t, fx.mgr.RegisterAlert("zscore", "BTCUSDT-ETHUSDT", ">", "2"))
	fx.transport.mu.Lock()
	sent = len(fx.transport.sent)
	fx.transport.mu.Unlock()
	assert.Equal(t, 1, sent)
}

func TestAlertEventsPassThrough(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.mgr.Start(context.Background(), []string{"BTCUSDT"}))

	fx.transport.push(`{"type":"alert","message":"zscore BTCUSDT-ETHUSDT > 2"}`)

	select {
	case ev := <-fx.mgr.Alerts():
		assert.Equal(t, "zscore BTCUSDT-ETHUSDT > 2", ev.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("alert event not forwarded")
	}
}
