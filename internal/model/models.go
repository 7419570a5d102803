package model

import "time"

// Tick 代表最小粒度的市场数据（一笔成交）
type Tick struct {
	Symbol    string  // 所属交易对，例如 "BTCUSDT"
	Price     float64 // 成交价格
	Qty       float64 // 成交数量 (0 表示价格快照)
	Timestamp int64   // 毫秒时间戳
}

// Time 返回 Tick 的 time.Time 形式 (UTC)
func (t Tick) Time() time.Time {
	return time.UnixMilli(t.Timestamp).UTC()
}

// Candle 代表聚合后的 K 线数据
// Ts 为所属桶的起始时间 (UTC 对齐)
type Candle struct {
	Ts     time.Time `json:"ts"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// TickerSnapshot 每个交易对的滚动最优价/24h 风格摘要
// OpenPrice 在一个会话内首次观测时固定，作为涨跌基准
type TickerSnapshot struct {
	Symbol             string  `json:"symbol"`
	LastPrice          float64 `json:"lastPrice"`
	PriceChange        float64 `json:"priceChange"`
	PriceChangePercent float64 `json:"priceChangePercent"`
	OpenPrice          float64 `json:"openPrice"`
	HighPrice          float64 `json:"highPrice"`
	LowPrice           float64 `json:"lowPrice"`
	Volume             float64 `json:"volume"`
	QuoteVolume        float64 `json:"quoteVolume"`
}

// SeriesPoint 分析序列中的单个点
type SeriesPoint struct {
	Ts    int64   `json:"ts"`
	Value float64 `json:"value"`
}

// ADFResult 外部平稳性检验结果 (不透明载荷)
type ADFResult struct {
	Statistic float64 `json:"statistic"`
	PValue    float64 `json:"pvalue"`
}

// AnalyticsSnapshot 外部计算的配对统计快照
// 四个序列必须等长且按下标对齐；ADF 缺失表示历史不足，不是错误
type AnalyticsSnapshot struct {
	Pair        string        `json:"pair"` // "SYMBOL1-SYMBOL2"，按订阅顺序
	HedgeRatio  []SeriesPoint `json:"hedgeRatio"`
	Spread      []SeriesPoint `json:"spread"`
	ZScore      []SeriesPoint `json:"zscore"`
	RollingCorr []SeriesPoint `json:"rollingCorr"`
	ADF         *ADFResult    `json:"adf,omitempty"`
}

// AlertEvent 由传输层推送的、已在外部完成阈值判定的告警事件
type AlertEvent struct {
	Message string `json:"message"`
}
