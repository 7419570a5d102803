package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"crypto-pair-monitor/internal/analytics"
	"crypto-pair-monitor/internal/history"
	"crypto-pair-monitor/internal/market"
	"crypto-pair-monitor/internal/model"
	"crypto-pair-monitor/internal/service"
)

// State 会话状态机：Disconnected → Connecting → Subscribed → Disconnected
// 传输层关闭或出错后不会自动重连，需要显式的新一次 Start
type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StateSubscribed   State = "SUBSCRIBED"
)

// Transport 抽象传输层，便于用合成消息序列做无网络测试
type Transport interface {
	Subscribe(symbols []string) error
	Unsubscribe(symbols []string) error
	Send(v interface{}) error
	Frames() <-chan []byte
	Close() error
}

// DialFunc 建立一条新的传输连接
type DialFunc func(ctx context.Context) (Transport, error)

// counterPublishInterval 计数器对外发布的节奏 (与递增频率无关)
const counterPublishInterval = time.Second

// session 持有一次会话的全部状态
// Start 时整体创建，Stop 时整体销毁，不存在跨会话的残留
type session struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	transport  Transport
	normalizer *Normalizer
	throttle   *market.Throttle
	tickers    *market.TickerStore
	counter    *market.TickCounter

	mu        sync.RWMutex
	symbols   []string
	timeframe string
	stores    map[string]*market.CandleStore
}

// Manager 订阅管理器：拥有传输连接、活跃交易对集合与会话生命周期
type Manager struct {
	dial         DialFunc
	history      history.Provider
	provider     analytics.Provider
	streamCfg    service.StreamConfig
	analyticsCfg service.AnalyticsConfig
	logger       *zap.Logger

	sink     *analytics.Sink
	notifier *Notifier

	mu      sync.Mutex
	state   State
	session *session
}

func NewManager(
	dial DialFunc,
	hist history.Provider,
	provider analytics.Provider,
	streamCfg service.StreamConfig,
	analyticsCfg service.AnalyticsConfig,
	logger *zap.Logger,
) *Manager {
	if streamCfg.ThrottleInterval < 0 {
		streamCfg.ThrottleInterval = market.DefaultThrottleInterval
	}
	if analyticsCfg.PollInterval <= 0 {
		analyticsCfg.PollInterval = 3 * time.Second
	}

	return &Manager{
		dial:         dial,
		history:      hist,
		provider:     provider,
		streamCfg:    streamCfg,
		analyticsCfg: analyticsCfg,
		logger:       logger.With(zap.String("component", "stream")),
		sink:         analytics.NewSink(),
		notifier:     NewNotifier(64),
		state:        StateDisconnected,
	}
}

// validateSymbols 活跃集合只允许 1 或 2 个互不相同的交易对
func validateSymbols(symbols []string) error {
	if len(symbols) < 1 || len(symbols) > 2 {
		return fmt.Errorf("subscription requires 1 or 2 symbols, got %d", len(symbols))
	}
	for _, s := range symbols {
		if s == "" {
			return fmt.Errorf("subscription symbol must not be empty")
		}
	}
	if len(symbols) == 2 && symbols[0] == symbols[1] {
		return fmt.Errorf("subscription symbols must be distinct, got %q twice", symbols[0])
	}
	return nil
}

// Start 打开传输连接、下发订阅指令并重置全部会话状态
// 连接失败时直接返回错误，不做自动重试
func (m *Manager) Start(ctx context.Context, symbols []string) error {
	if err := validateSymbols(symbols); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateDisconnected {
		return fmt.Errorf("session already active (state %s)", m.state)
	}
	if m.session != nil {
		// 上一个会话因传输错误终止但尚未 Stop，先彻底回收
		old := m.session
		m.session = nil
		old.cancel()
		old.transport.Close()
		old.wg.Wait()
	}

	m.state = StateConnecting
	m.logger.Info("Opening transport", zap.Strings("symbols", symbols))

	transport, err := m.dial(ctx)
	if err != nil {
		m.state = StateDisconnected
		return fmt.Errorf("open transport: %w", err)
	}
	if err := transport.Subscribe(symbols); err != nil {
		transport.Close()
		m.state = StateDisconnected
		return fmt.Errorf("send subscribe command: %w", err)
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &session{
		ctx:        sctx,
		cancel:     cancel,
		transport:  transport,
		normalizer: NewNormalizer(symbols),
		tickers:    market.NewTickerStore(),
		counter:    market.NewTickCounter(),
		symbols:    append([]string(nil), symbols...),
		timeframe:  m.streamCfg.Timeframe,
		stores:     make(map[string]*market.CandleStore, len(symbols)),
	}
	s.throttle = market.NewThrottle(m.streamCfg.ThrottleInterval, func(t model.Tick) {
		m.applyFlush(s, t)
	}, nil)

	tfDur := market.TimeframeDuration(s.timeframe)
	for _, sym := range symbols {
		s.stores[sym] = market.NewCandleStore(sym, m.streamCfg.Lookback, tfDur)
	}

	// 会话级共享资源清零：统计快照随新会话重新计算
	m.sink.Clear()

	// 播种历史 K 线；单交易对失败只降级该交易对，不影响其余
	for _, sym := range symbols {
		m.seedSymbol(sctx, s, sym, s.timeframe)
	}

	m.session = s
	s.wg.Add(3)
	go m.runLoop(s)
	go m.pollAnalytics(s)
	go m.publishCounter(s)

	m.state = StateSubscribed
	m.logger.Info("Session subscribed",
		zap.Strings("symbols", symbols),
		zap.String("timeframe", s.timeframe),
		zap.String("lookback", service.FormatInterval(m.streamCfg.Lookback)))
	return nil
}

// Stop 下发退订、关闭传输并销毁会话状态
// 返回后不再有任何状态变更；随后的 Start 将看到完全干净的状态
func (m *Manager) Stop() {
	m.mu.Lock()
	s := m.session
	m.session = nil
	m.state = StateDisconnected
	m.mu.Unlock()

	if s == nil {
		return
	}

	s.mu.RLock()
	symbols := append([]string(nil), s.symbols...)
	s.mu.RUnlock()

	// 尽力而为的退订；关闭连接本身即隐含退订
	if err := s.transport.Unsubscribe(symbols); err != nil {
		m.logger.Debug("Unsubscribe on stop failed", zap.Error(err))
	}

	s.cancel()
	s.transport.Close()
	s.wg.Wait()

	m.sink.Clear()
	m.logger.Info("Session stopped", zap.Strings("symbols", symbols))
}

// ChangeSymbols 切换活跃交易对集合 (1-2 个)
// 新增的交易对从历史数据重新播种，移除的交易对状态整体丢弃
func (m *Manager) ChangeSymbols(symbols []string) error {
	if err := validateSymbols(symbols); err != nil {
		return err
	}

	m.mu.Lock()
	s := m.session
	state := m.state
	m.mu.Unlock()
	if s == nil || state != StateSubscribed {
		return fmt.Errorf("no active session (state %s)", state)
	}

	s.mu.Lock()
	old := s.symbols
	oldSet := make(map[string]struct{}, len(old))
	for _, sym := range old {
		oldSet[sym] = struct{}{}
	}
	newSet := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		newSet[sym] = struct{}{}
	}

	var added, removed []string
	for _, sym := range symbols {
		if _, ok := oldSet[sym]; !ok {
			added = append(added, sym)
		}
	}
	for _, sym := range old {
		if _, ok := newSet[sym]; !ok {
			removed = append(removed, sym)
		}
	}

	tfDur := market.TimeframeDuration(s.timeframe)
	for _, sym := range removed {
		delete(s.stores, sym)
		s.tickers.Drop(sym)
	}
	for _, sym := range added {
		s.stores[sym] = market.NewCandleStore(sym, m.streamCfg.Lookback, tfDur)
	}
	s.symbols = append([]string(nil), symbols...)
	tf := s.timeframe
	s.mu.Unlock()

	// 节流状态在会话锁外清理：放行回调会反向拿会话锁
	for _, sym := range removed {
		s.throttle.Drop(sym)
	}

	s.normalizer.SetSymbols(symbols)

	// 配对标识发生任何变化都立即清空统计快照，不等下一个轮询周期：
	// 读方绝不能看到其他配对 (包括腿顺序不同) 的统计
	oldPair, _ := analytics.PairID(old)
	newPair, ok := analytics.PairID(symbols)
	if !ok || newPair != oldPair {
		m.sink.Clear()
	}

	for _, sym := range added {
		m.seedSymbol(s.ctx, s, sym, tf)
	}

	if len(removed) > 0 {
		if err := s.transport.Unsubscribe(removed); err != nil {
			m.logger.Warn("Unsubscribe command failed", zap.Strings("symbols", removed), zap.Error(err))
		}
	}
	if len(added) > 0 {
		if err := s.transport.Subscribe(added); err != nil {
			return fmt.Errorf("send subscribe command: %w", err)
		}
	}

	m.logger.Info("Symbols changed", zap.Strings("added", added), zap.Strings("removed", removed))
	return nil
}

// ChangeTimeframe 切换 K 线周期
// 不做历史的重新分桶：全部 K 线序列清空后从历史数据重新播种
func (m *Manager) ChangeTimeframe(tf string) error {
	m.mu.Lock()
	s := m.session
	state := m.state
	m.mu.Unlock()
	if s == nil || state != StateSubscribed {
		return fmt.Errorf("no active session (state %s)", state)
	}

	s.mu.Lock()
	s.timeframe = tf
	tfDur := market.TimeframeDuration(tf)
	symbols := append([]string(nil), s.symbols...)
	for _, sym := range symbols {
		s.stores[sym] = market.NewCandleStore(sym, m.streamCfg.Lookback, tfDur)
	}
	s.mu.Unlock()

	// 旧周期的挂起成交不带入新周期
	s.throttle.Reset()

	for _, sym := range symbols {
		m.seedSymbol(s.ctx, s, sym, tf)
	}

	m.logger.Info("Timeframe changed", zap.String("timeframe", tf))
	return nil
}

// seedSymbol 从历史数据提供方播种单个交易对
// 拉取失败时该交易对降级为空序列，其余交易对不受影响
func (m *Manager) seedSymbol(ctx context.Context, s *session, symbol, tf string) {
	to := time.Now().UTC()
	from := to.Add(-m.streamCfg.Lookback)

	candles, err := m.history.Fetch(ctx, symbol, tf, from, to)
	if err != nil {
		m.logger.Warn("Historical fetch failed, candle store degraded to empty",
			zap.String("symbol", symbol), zap.Error(err))
		return
	}

	s.mu.RLock()
	store := s.stores[symbol]
	s.mu.RUnlock()
	if store != nil {
		store.Seed(candles)
	}
}

// runLoop 单线程摄取循环：严格按到达顺序处理传输帧
func (m *Manager) runLoop(s *session) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case raw, ok := <-s.transport.Frames():
			if !ok {
				// 传输层关闭或出错：会话停留在 Disconnected，等待显式的新 Start
				m.mu.Lock()
				if m.session == s {
					m.state = StateDisconnected
				}
				m.mu.Unlock()
				m.logger.Warn("Transport closed, session disconnected")
				return
			}
			m.handleFrame(s, raw)
		}
	}
}

// handleFrame 处理一帧入站消息；单条坏消息永不终止会话
func (m *Manager) handleFrame(s *session, raw []byte) {
	msg, ok := s.normalizer.Normalize(raw)
	if !ok {
		// 畸形或无关消息：静默丢弃
		return
	}

	switch msg.Type {
	case MessageTrade:
		t := *msg.Trade
		// 计数与 ticker 更新不经过节流
		s.counter.Incr()
		s.tickers.OnTick(t.Symbol, t.Price)
		s.throttle.Offer(t)

	case MessageTicker:
		s.tickers.OnSummary(msg.Ticker.Symbol, *msg.Ticker)

	case MessageAnalytics:
		// 行情源直接推送的统计快照：仅当配对与当前订阅一致时整体替换
		s.mu.RLock()
		pair, ok := analytics.PairID(s.symbols)
		s.mu.RUnlock()
		if !ok || msg.Analytics.Pair != pair {
			return
		}
		if err := m.sink.Replace(msg.Analytics); err != nil {
			m.logger.Warn("Rejecting pushed analytics snapshot", zap.Error(err))
			m.sink.Clear()
		}

	case MessageAlert:
		if !m.notifier.Dispatch(*msg.Alert) {
			m.logger.Warn("Alert consumer lagging, event dropped", zap.String("message", msg.Alert.Message))
		}

	case MessageSubscription:
		m.logger.Info("Subscription acknowledged",
			zap.String("status", msg.Subscription.Status),
			zap.Strings("symbols", msg.Subscription.Symbols))
	}
}

// applyFlush 节流放行后把最新成交写入对应的 K 线序列
func (m *Manager) applyFlush(s *session, t model.Tick) {
	s.mu.RLock()
	store := s.stores[t.Symbol]
	tf := s.timeframe
	s.mu.RUnlock()
	if store == nil {
		return
	}

	store.Apply(market.BucketStart(t.Time(), tf), t.Price, t.Qty)
}

// pollAnalytics 定时轮询统计提供方，整体替换或清空快照
func (m *Manager) pollAnalytics(s *session) {
	defer s.wg.Done()

	// 启动后先做一次初始刷新，不等第一个轮询周期
	m.refreshAnalytics(s)

	ticker := time.NewTicker(m.analyticsCfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			m.refreshAnalytics(s)
		}
	}
}

func (m *Manager) refreshAnalytics(s *session) {
	s.mu.RLock()
	symbols := append([]string(nil), s.symbols...)
	tf := s.timeframe
	s.mu.RUnlock()

	pair, ok := analytics.PairID(symbols)
	if !ok {
		m.sink.Clear()
		return
	}

	snap, err := m.provider.Fetch(s.ctx, pair, tf, m.analyticsCfg.Window, m.analyticsCfg.Method)
	if err != nil {
		// fail-closed：宁可没有快照，也不保留过期统计
		m.sink.Clear()
		m.logger.Warn("Analytics refresh failed, snapshot cleared", zap.String("pair", pair), zap.Error(err))
		return
	}

	// 拉取期间订阅集合可能已经变化，替换前复核配对仍然成立
	s.mu.RLock()
	stillPair, stillOK := analytics.PairID(s.symbols)
	s.mu.RUnlock()
	if !stillOK || stillPair != pair {
		m.sink.Clear()
		return
	}

	if err := m.sink.Replace(snap); err != nil {
		m.sink.Clear()
		m.logger.Warn("Analytics snapshot rejected", zap.Error(err))
	}
}

// RefreshAnalytics 手动触发一次统计刷新 (与定时轮询共用原子替换语义)
func (m *Manager) RefreshAnalytics() error {
	m.mu.Lock()
	s := m.session
	state := m.state
	m.mu.Unlock()
	if s == nil || state != StateSubscribed {
		return fmt.Errorf("no active session (state %s)", state)
	}

	m.refreshAnalytics(s)
	return nil
}

// publishCounter 以固定节奏发布计数器对外可见值
func (m *Manager) publishCounter(s *session) {
	defer s.wg.Done()

	ticker := time.NewTicker(counterPublishInterval)
	defer ticker.Stop()

	var last int64
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			v := s.counter.Publish()
			if v != last {
				m.logger.Debug("Tick counter published", zap.Int64("total", v), zap.Int64("delta", v-last))
				last = v
			}
		}
	}
}

// RegisterAlert 校验并向传输层提交告警注册请求
// 校验失败的请求不会被提交，每个违规返回具体原因
func (m *Manager) RegisterAlert(metric, pair, operator, threshold string) error {
	req, err := ParseAlertRequest(metric, pair, operator, threshold)
	if err != nil {
		return err
	}

	m.mu.Lock()
	s := m.session
	state := m.state
	m.mu.Unlock()
	if s == nil || state != StateSubscribed {
		return fmt.Errorf("no active session (state %s)", state)
	}

	payload := map[string]interface{}{
		"action": "alert",
		"alert":  req,
	}
	if err := s.transport.Send(payload); err != nil {
		return fmt.Errorf("submit alert registration: %w", err)
	}

	m.logger.Info("Alert registered",
		zap.String("metric", req.Metric),
		zap.String("pair", req.Pair),
		zap.String("operator", req.Operator),
		zap.Float64("threshold", req.Threshold))
	return nil
}

// --- 只读查询接口 (供 HTTP 层与测试使用) ---

// State 返回当前会话状态
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Symbols 返回当前活跃交易对集合
func (m *Manager) Symbols() []string {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s == nil {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.symbols...)
}

// Timeframe 返回当前 K 线周期
func (m *Manager) Timeframe() string {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s == nil {
		return m.streamCfg.Timeframe
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timeframe
}

// Candles 返回指定交易对的 K 线序列副本
func (m *Manager) Candles(symbol string) ([]model.Candle, bool) {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s == nil {
		return nil, false
	}

	s.mu.RLock()
	store := s.stores[symbol]
	s.mu.RUnlock()
	if store == nil {
		return nil, false
	}
	return store.Candles(), true
}

// Tickers 返回全部 ticker 快照
func (m *Manager) Tickers() []model.TickerSnapshot {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.tickers.All()
}

// AnalyticsSnapshot 返回最近一次的配对统计快照
func (m *Manager) AnalyticsSnapshot() (*model.AnalyticsSnapshot, bool) {
	return m.sink.Snapshot()
}

// TickCount 返回计数器最近一次发布的值
func (m *Manager) TickCount() int64 {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s == nil {
		return 0
	}
	return s.counter.Published()
}

// Alerts 供消费方读取透传告警事件的通道
func (m *Manager) Alerts() <-chan model.AlertEvent {
	return m.notifier.Events()
}
