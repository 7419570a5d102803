package stream

import (
	"encoding/json"
	"math"
	"sync"

	"crypto-pair-monitor/internal/model"
	"crypto-pair-monitor/internal/service"
)

// MessageType 入站消息的类型判别符
type MessageType string

const (
	MessageTrade        MessageType = "trade"
	MessageTicker       MessageType = "ticker"
	MessageAnalytics    MessageType = "analytics"
	MessageAlert        MessageType = "alert"
	MessageSubscription MessageType = "subscription"
)

// Message 归一化后的封闭消息变体集合
// 同一时刻只有与 Type 对应的载荷字段非空
type Message struct {
	Type         MessageType
	Trade        *model.Tick
	Ticker       *model.TickerSnapshot
	Analytics    *model.AnalyticsSnapshot
	Alert        *model.AlertEvent
	Subscription *SubscriptionAck
}

// SubscriptionAck 订阅确认
type SubscriptionAck struct {
	Status  string   `json:"status"`
	Symbols []string `json:"symbols"`
}

// envelope 入站帧的外层结构：type 判别符 + 可选的嵌套 data
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// flexFloat 兼容数字与字符串两种编码的浮点字段
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := service.StringToFloat(s)
		if err != nil {
			return err
		}
		*f = flexFloat(v)
		return nil
	}

	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// flexInt64 兼容数字与字符串两种编码的整型字段
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := service.StringToInt64(s)
		if err != nil {
			return err
		}
		*f = flexInt64(v)
		return nil
	}

	var v int64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = flexInt64(v)
	return nil
}

// wireTrade trade/tick 频道的线格式
type wireTrade struct {
	Symbol string     `json:"symbol"`
	Price  *flexFloat `json:"price"`
	Qty    *flexFloat `json:"qty"`
	Ts     *flexInt64 `json:"ts"`
}

// wireTicker ticker 频道的线格式
type wireTicker struct {
	Symbol             string    `json:"symbol"`
	PriceChange        flexFloat `json:"priceChange"`
	PriceChangePercent flexFloat `json:"priceChangePercent"`
	LastPrice          flexFloat `json:"lastPrice"`
	OpenPrice          flexFloat `json:"openPrice"`
	HighPrice          flexFloat `json:"highPrice"`
	LowPrice           flexFloat `json:"lowPrice"`
	Volume             flexFloat `json:"volume"`
	QuoteVolume        flexFloat `json:"quoteVolume"`
}

// Normalizer 入站消息的校验/过滤层，无状态副作用，只做接受或拒绝
// 订阅集合之外的交易对一律丢弃
type Normalizer struct {
	mu        sync.RWMutex
	activeSet map[string]struct{}
}

func NewNormalizer(symbols []string) *Normalizer {
	n := &Normalizer{}
	n.SetSymbols(symbols)
	return n
}

// SetSymbols 更新当前生效的订阅集合
func (n *Normalizer) SetSymbols(symbols []string) {
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		set[s] = struct{}{}
	}

	n.mu.Lock()
	n.activeSet = set
	n.mu.Unlock()
}

func (n *Normalizer) active(symbol string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.activeSet[symbol]
	return ok
}

// Normalize 校验并归一化一帧入站消息
// 解析优先尝试规范的嵌套 data 形态，缺失时回退为平铺形态；
// 形状不合法或字段缺失的消息静默丢弃 (返回 false)
func (n *Normalizer) Normalize(raw []byte) (Message, bool) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		return Message{}, false
	}

	payload := raw
	if len(env.Data) > 0 {
		payload = env.Data
	}

	switch MessageType(env.Type) {
	case MessageTrade, "tick":
		return n.normalizeTrade(payload)
	case MessageTicker:
		return n.normalizeTicker(payload)
	case MessageAnalytics:
		var snap model.AnalyticsSnapshot
		if err := json.Unmarshal(payload, &snap); err != nil || snap.Pair == "" {
			return Message{}, false
		}
		return Message{Type: MessageAnalytics, Analytics: &snap}, true
	case MessageAlert:
		var ev model.AlertEvent
		if err := json.Unmarshal(payload, &ev); err != nil || ev.Message == "" {
			return Message{}, false
		}
		return Message{Type: MessageAlert, Alert: &ev}, true
	case MessageSubscription:
		var ack SubscriptionAck
		if err := json.Unmarshal(payload, &ack); err != nil {
			return Message{}, false
		}
		return Message{Type: MessageSubscription, Subscription: &ack}, true
	default:
		return Message{}, false
	}
}

func (n *Normalizer) normalizeTrade(payload []byte) (Message, bool) {
	var wt wireTrade
	if err := json.Unmarshal(payload, &wt); err != nil {
		return Message{}, false
	}

	// symbol 与 price 缺一不可；price 必须是有限正数
	if wt.Symbol == "" || wt.Price == nil {
		return Message{}, false
	}
	price := float64(*wt.Price)
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return Message{}, false
	}

	// ts 必填
	if wt.Ts == nil {
		return Message{}, false
	}

	// qty 缺省为 0，负数拒绝
	qty := 0.0
	if wt.Qty != nil {
		qty = float64(*wt.Qty)
		if qty < 0 {
			return Message{}, false
		}
	}

	if !n.active(wt.Symbol) {
		return Message{}, false
	}

	return Message{
		Type: MessageTrade,
		Trade: &model.Tick{
			Symbol:    wt.Symbol,
			Price:     price,
			Qty:       qty,
			Timestamp: int64(*wt.Ts),
		},
	}, true
}

func (n *Normalizer) normalizeTicker(payload []byte) (Message, bool) {
	var wt wireTicker
	if err := json.Unmarshal(payload, &wt); err != nil || wt.Symbol == "" {
		return Message{}, false
	}
	if !n.active(wt.Symbol) {
		return Message{}, false
	}

	return Message{
		Type: MessageTicker,
		Ticker: &model.TickerSnapshot{
			Symbol:             wt.Symbol,
			LastPrice:          float64(wt.LastPrice),
			PriceChange:        float64(wt.PriceChange),
			PriceChangePercent: float64(wt.PriceChangePercent),
			OpenPrice:          float64(wt.OpenPrice),
			HighPrice:          float64(wt.HighPrice),
			LowPrice:           float64(wt.LowPrice),
			Volume:             float64(wt.Volume),
			QuoteVolume:        float64(wt.QuoteVolume),
		},
	}, true
}
